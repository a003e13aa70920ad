package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"costwatch/internal/adapters/cache"
	"costwatch/internal/domain/cost"
	"costwatch/pkg/logger"
)

const (
	baseConfidence     = cost.MinConfidence
	confidencePerKey   = 0.01
	maxConfidence      = 1.0
	breakdownKeyPrefix = "breakdown:"
)

// RecognizedKeys are the metadata keys that raise attribution confidence
var RecognizedKeys = []string{"correlation_id", "request_id", "model", "operation", "session_id"}

// EventSource loads a work unit's events on cold start
type EventSource interface {
	Query(ctx context.Context, filter cost.Filter) ([]*cost.Event, error)
}

type trackedEvent struct {
	event      *cost.Event
	seq        int64
	confidence float64
}

type unitLedger struct {
	events     []trackedEvent
	total      decimal.Decimal
	confidence float64 // sum of per-event confidence
	ids        map[string]struct{}
	version    int // bumped on every change; part of the cache key
}

// Service attributes cost events to work units
type Service struct {
	mu     sync.RWMutex
	units  map[string]*unitLedger
	seq    int64
	source EventSource
	cache  cache.Cache
	ttl    time.Duration
	log    *logger.Logger
}

// NewService creates an attributor. source and c may be nil.
func NewService(source EventSource, c cache.Cache, ttl time.Duration, log *logger.Logger) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		units:  make(map[string]*unitLedger),
		source: source,
		cache:  c,
		ttl:    ttl,
		log:    log.With("component", "attribution"),
	}
}

// EventConfidence is 0.95 plus 0.01 per recognized key present, capped at 1.0.
// A non-empty Operation field counts as the operation key.
func EventConfidence(e *cost.Event) float64 {
	score := baseConfidence
	for _, key := range RecognizedKeys {
		if v, ok := e.Metadata[key]; ok && v != "" {
			score += confidencePerKey
			continue
		}
		if key == "operation" && e.Operation != "" {
			score += confidencePerKey
		}
	}
	return math.Min(score, maxConfidence)
}

// Track appends the event to its work unit and reports whether it did.
// Tracking the same event ID twice is a no-op that returns false.
// A unit unknown to this process is first hydrated so earlier events are not lost.
func (s *Service) Track(ctx context.Context, event *cost.Event) bool {
	s.hydrate(ctx, event.WorkUnitID)

	s.mu.Lock()
	ledger := s.ledger(event.WorkUnitID)
	if _, dup := ledger.ids[event.ID]; dup {
		s.mu.Unlock()
		return false
	}
	s.appendLocked(ledger, event.Clone())
	version := ledger.version
	s.mu.Unlock()

	// Previous versions are unreachable by key; dropping the last one frees memory early
	if err := s.cache.Delete(ctx, cacheKey(event.WorkUnitID, version-1)); err != nil {
		s.log.Debugw("Breakdown cache invalidation failed", "work_unit_id", event.WorkUnitID, "error", err)
	}
	return true
}

// Discard removes an event tracked for a write that did not persist.
// Unknown units or IDs are ignored.
func (s *Service) Discard(ctx context.Context, workUnitID, eventID string) {
	s.mu.Lock()
	ledger, ok := s.units[workUnitID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, tracked := ledger.ids[eventID]; !tracked {
		s.mu.Unlock()
		return
	}

	for i, te := range ledger.events {
		if te.event.ID != eventID {
			continue
		}
		ledger.events = append(ledger.events[:i], ledger.events[i+1:]...)
		ledger.total = ledger.total.Sub(te.event.Amount)
		ledger.confidence -= te.confidence
		break
	}
	delete(ledger.ids, eventID)
	ledger.version++
	version := ledger.version
	s.mu.Unlock()

	if err := s.cache.Delete(ctx, cacheKey(workUnitID, version-1)); err != nil {
		s.log.Debugw("Breakdown cache invalidation failed", "work_unit_id", workUnitID, "error", err)
	}
}

// Breakdown never fails: an unknown unit yields a zero breakdown at the confidence floor
func (s *Service) Breakdown(ctx context.Context, workUnitID string) *cost.Breakdown {
	s.hydrate(ctx, workUnitID)

	s.mu.RLock()
	ledger, ok := s.units[workUnitID]
	if !ok || len(ledger.events) == 0 {
		s.mu.RUnlock()
		return cost.EmptyBreakdown(workUnitID)
	}
	version := ledger.version
	s.mu.RUnlock()

	key := cacheKey(workUnitID, version)
	if data, hit, err := s.cache.Get(ctx, key); err == nil && hit {
		var b cost.Breakdown
		if err := json.Unmarshal(data, &b); err == nil {
			return &b
		}
	} else if err != nil {
		s.log.Debugw("Breakdown cache read failed", "work_unit_id", workUnitID, "error", err)
	}

	s.mu.RLock()
	b := s.buildLocked(workUnitID, ledger)
	current := ledger.version
	s.mu.RUnlock()

	if data, err := json.Marshal(b); err == nil {
		if err := s.cache.Set(ctx, cacheKey(workUnitID, current), data, s.ttl); err != nil {
			s.log.Debugw("Breakdown cache write failed", "work_unit_id", workUnitID, "error", err)
		}
	}
	return b
}

// Total returns the unit's spend; zero for unknown units
func (s *Service) Total(ctx context.Context, workUnitID string) decimal.Decimal {
	s.hydrate(ctx, workUnitID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if ledger, ok := s.units[workUnitID]; ok {
		return ledger.total
	}
	return decimal.Zero
}

// Units returns the number of tracked work units
func (s *Service) Units() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

func (s *Service) ledger(workUnitID string) *unitLedger {
	ledger, ok := s.units[workUnitID]
	if !ok {
		ledger = &unitLedger{total: decimal.Zero, ids: make(map[string]struct{})}
		s.units[workUnitID] = ledger
	}
	return ledger
}

func (s *Service) appendLocked(ledger *unitLedger, event *cost.Event) {
	s.seq++
	conf := EventConfidence(event)
	ledger.events = append(ledger.events, trackedEvent{event: event, seq: s.seq, confidence: conf})
	ledger.total = ledger.total.Add(event.Amount)
	ledger.confidence += conf
	ledger.ids[event.ID] = struct{}{}
	ledger.version++
}

// hydrate loads a unit unknown to this process from the event store
func (s *Service) hydrate(ctx context.Context, workUnitID string) {
	if s.source == nil {
		return
	}

	s.mu.RLock()
	_, known := s.units[workUnitID]
	s.mu.RUnlock()
	if known {
		return
	}

	events, err := s.source.Query(ctx, cost.Filter{WorkUnitID: workUnitID})
	if err != nil {
		s.log.Warnw("Failed to hydrate work unit", "work_unit_id", workUnitID, "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ledger := s.ledger(workUnitID)
	for _, e := range events {
		if _, dup := ledger.ids[e.ID]; !dup {
			s.appendLocked(ledger, e)
		}
	}
	s.log.Debugw("Hydrated work unit from store", "work_unit_id", workUnitID, "events", len(events))
}

func (s *Service) buildLocked(workUnitID string, ledger *unitLedger) *cost.Breakdown {
	trail := make([]trackedEvent, len(ledger.events))
	copy(trail, ledger.events)
	sort.SliceStable(trail, func(i, j int) bool {
		a, b := trail[i], trail[j]
		if !a.event.OccurredAt.Equal(b.event.OccurredAt) {
			return a.event.OccurredAt.Before(b.event.OccurredAt)
		}
		return a.seq < b.seq
	})

	b := &cost.Breakdown{
		WorkUnitID:  workUnitID,
		TotalAmount: ledger.total,
		ByType:      make(map[cost.Type]decimal.Decimal),
		EventCount:  len(trail),
		AuditTrail:  make([]cost.AuditEntry, 0, len(trail)),
	}
	for _, te := range trail {
		e := te.event
		b.ByType[e.Type] = b.ByType[e.Type].Add(e.Amount)
		b.AuditTrail = append(b.AuditTrail, cost.AuditEntry{
			EventID:    e.ID,
			Type:       e.Type,
			Amount:     e.Amount,
			Operation:  e.Operation,
			OccurredAt: e.OccurredAt,
			Confidence: te.confidence,
		})
	}

	b.ConfidenceScore = math.Max(baseConfidence, ledger.confidence/float64(len(trail)))
	return b
}

func cacheKey(workUnitID string, version int) string {
	return fmt.Sprintf("%s%s:%d", breakdownKeyPrefix, workUnitID, version)
}
