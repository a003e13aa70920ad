package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"costwatch/internal/domain/anomaly"
	"costwatch/internal/domain/cost"
	"costwatch/internal/domain/mitigation"
	"costwatch/internal/metrics"
	"costwatch/internal/services/alerting"
	anomalyservice "costwatch/internal/services/anomaly"
	"costwatch/internal/services/attribution"
	mitigationservice "costwatch/internal/services/mitigation"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// EventStore persists cost events
type EventStore interface {
	Store(ctx context.Context, event *cost.Event) (string, error)
	Get(ctx context.Context, id string) (*cost.Event, error)
}

// Dispatcher delivers anomaly alerts
type Dispatcher interface {
	Dispatch(ctx context.Context, rec *anomaly.Record) *alerting.DispatchResult
}

// Mitigator applies automated responses to severe anomalies
type Mitigator interface {
	ShouldTrigger(rec *anomaly.Record) bool
	ExecuteActions(ctx context.Context, rec *anomaly.Record) map[mitigation.Action]mitigationservice.ActionResult
}

// CheckResult is the outcome of one anomaly check. It is always well formed.
type CheckResult struct {
	OwnerID      string                           `json:"owner_id"`
	Anomalies    []*anomaly.Record                `json:"anomalies"`
	AlertsSent   int                              `json:"alerts_sent"`
	ActionsTaken []mitigationservice.ActionResult `json:"actions_taken"`
	Dispatches   []*alerting.DispatchResult       `json:"dispatches,omitempty"`
	Skipped      bool                             `json:"skipped"`
	SkipReason   string                           `json:"skip_reason,omitempty"`
	CheckedAt    time.Time                        `json:"checked_at"`
}

// Engine composes storage, attribution, detection, alerting and mitigation
type Engine struct {
	store      EventStore
	attributor *attribution.Service
	monitor    *anomalyservice.Monitor
	router     Dispatcher
	breaker    Mitigator
	metrics    *metrics.Emitter
	log        *logger.Logger

	mu     sync.RWMutex
	models map[string]string // owner -> last model seen in metadata
}

// New creates an engine. router and breaker may be nil to disable alerting or mitigation.
func New(
	store EventStore,
	attributor *attribution.Service,
	monitor *anomalyservice.Monitor,
	router Dispatcher,
	breaker Mitigator,
	emitter *metrics.Emitter,
	log *logger.Logger,
) *Engine {
	if log == nil {
		log = logger.Get()
	}
	return &Engine{
		store:      store,
		attributor: attributor,
		monitor:    monitor,
		router:     router,
		breaker:    breaker,
		metrics:    emitter,
		log:        log.With("component", "engine"),
		models:     make(map[string]string),
	}
}

// RecordCost validates, stores and attributes one cost event.
// Storage and attribution run concurrently; a rejected or failed write leaves
// totals and baselines untouched and its error is returned.
// Recording an event ID that is already stored for the same work unit is a
// no-op that returns the stored event.
func (e *Engine) RecordCost(
	ctx context.Context,
	workUnitID string,
	costType cost.Type,
	amount decimal.Decimal,
	metadata map[string]string,
	opts ...RecordOption,
) (*cost.Event, error) {
	event := buildEvent(workUnitID, costType, amount, metadata, opts)
	if err := event.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	var tracked bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := e.store.Store(gctx, event)
		return err
	})
	g.Go(func() error {
		tracked = e.attributor.Track(gctx, event)
		return nil
	})
	err := g.Wait()

	if errors.Is(err, errors.ErrDuplicateEvent) {
		return e.resolveDuplicate(ctx, event, tracked)
	}
	e.metrics.Emit(ctx, metrics.OperationLatency("record_cost", time.Since(start), err))

	if err != nil {
		if tracked {
			e.attributor.Discard(context.WithoutCancel(ctx), event.WorkUnitID, event.ID)
		}
		e.log.Errorw("Failed to record cost",
			"event_id", event.ID,
			"work_unit_id", event.WorkUnitID,
			"owner_id", event.OwnerID,
			"error", err,
		)
		return nil, err
	}

	e.monitor.Observe(event.OwnerID, event.Amount, event.OccurredAt)
	if model := event.Metadata["model"]; model != "" {
		e.mu.Lock()
		e.models[event.OwnerID] = model
		e.mu.Unlock()
	}

	e.metrics.Emit(ctx, metrics.CostRecorded(event.OwnerID, string(event.Type), event.Amount.InexactFloat64()))
	e.metrics.Emit(ctx, metrics.CostPerUnit(event.OwnerID, e.attributor.Total(ctx, event.WorkUnitID).InexactFloat64()))

	return event, nil
}

// resolveDuplicate settles an event whose ID the store already holds.
// Attribution is made to mirror the stored copy; nothing new reaches baselines.
func (e *Engine) resolveDuplicate(ctx context.Context, event *cost.Event, tracked bool) (*cost.Event, error) {
	bg := context.WithoutCancel(ctx)

	stored, err := e.store.Get(bg, event.ID)
	if err != nil {
		if tracked {
			e.attributor.Discard(bg, event.WorkUnitID, event.ID)
		}
		if errors.Is(err, errors.ErrNotFound) {
			err = errors.NewStorageError("record_cost", event.ID, err)
		}
		e.log.Errorw("Failed to load already stored cost event", "event_id", event.ID, "error", err)
		return nil, err
	}

	if stored.WorkUnitID != event.WorkUnitID {
		if tracked {
			e.attributor.Discard(bg, event.WorkUnitID, event.ID)
		}
		return nil, errors.NewValidationError("id", "already recorded for work unit "+stored.WorkUnitID, event.ID)
	}

	if tracked {
		// A concurrent write with this ID reached the store first
		e.attributor.Discard(bg, event.WorkUnitID, event.ID)
		e.attributor.Track(bg, stored)
	}

	e.log.Infow("Cost event already recorded",
		"event_id", stored.ID,
		"work_unit_id", stored.WorkUnitID,
		"owner_id", stored.OwnerID,
	)
	return stored, nil
}

// TotalCost returns the spend attributed to a work unit
func (e *Engine) TotalCost(ctx context.Context, workUnitID string) decimal.Decimal {
	return e.attributor.Total(ctx, workUnitID)
}

// Breakdown returns the attribution view of a work unit
func (e *Engine) Breakdown(ctx context.Context, workUnitID string) *cost.Breakdown {
	return e.attributor.Breakdown(ctx, workUnitID)
}

// RecordSignal feeds a non-cost metric into the owner's baselines
func (e *Engine) RecordSignal(ownerID string, kind anomalyservice.SignalKind, value float64) error {
	return e.monitor.RecordSignal(ownerID, kind, value)
}

// Owners returns every owner the engine has seen
func (e *Engine) Owners() []string {
	return e.monitor.Owners()
}

// CheckAnomalies runs detection for the owner, alerts on every anomaly and
// mitigates those past the circuit breaker ladder. Detector, channel and
// mitigation trouble is reported in the result, never returned.
func (e *Engine) CheckAnomalies(ctx context.Context, ownerID string) (result *CheckResult) {
	start := time.Now()
	result = &CheckResult{
		OwnerID:      ownerID,
		Anomalies:    []*anomaly.Record{},
		ActionsTaken: []mitigationservice.ActionResult{},
	}

	defer func() {
		var err error
		if r := recover(); r != nil {
			err = fmt.Errorf("anomaly check panicked: %v", r)
			e.log.Errorw("Anomaly check aborted", "owner_id", ownerID, "error", err)
		}
		e.metrics.Emit(ctx, metrics.OperationLatency("check_anomalies", time.Since(start), err))
	}()

	eval := e.monitor.Check(ctx, ownerID)
	result.CheckedAt = eval.CheckedAt
	result.Skipped = eval.Skipped
	result.SkipReason = eval.SkipReason
	if eval.Skipped {
		return result
	}

	for _, rec := range eval.Anomalies {
		e.enrich(rec)
		result.Anomalies = append(result.Anomalies, rec)
		e.metrics.Emit(ctx, metrics.ThresholdBreach(ownerID, string(rec.Type), rec.CurrentValue))

		if e.router != nil {
			dispatch := e.router.Dispatch(ctx, rec)
			result.Dispatches = append(result.Dispatches, dispatch)
			result.AlertsSent += dispatch.Delivered()
		}

		if e.breaker != nil && e.breaker.ShouldTrigger(rec) {
			actions := e.breaker.ExecuteActions(ctx, rec)
			for _, action := range mitigation.Actions {
				if res, ok := actions[action]; ok && res.Executed {
					result.ActionsTaken = append(result.ActionsTaken, res)
				}
			}
		}
	}

	if len(result.Anomalies) > 0 {
		e.log.Infow("Anomaly check complete",
			"owner_id", ownerID,
			"anomalies", len(result.Anomalies),
			"alerts_sent", result.AlertsSent,
			"actions_taken", len(result.ActionsTaken),
		)
	}
	return result
}

// enrich adds the owner's current model so mitigation can pick a cheaper tier
func (e *Engine) enrich(rec *anomaly.Record) {
	if rec.Context == nil {
		rec.Context = make(map[string]any)
	}
	if _, ok := rec.Context["model"]; ok {
		return
	}
	e.mu.RLock()
	model := e.models[rec.OwnerID]
	e.mu.RUnlock()
	if model != "" {
		rec.Context["model"] = model
	}
}

func buildEvent(
	workUnitID string,
	costType cost.Type,
	amount decimal.Decimal,
	metadata map[string]string,
	opts []RecordOption,
) *cost.Event {
	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	owner := o.ownerID
	if owner == "" {
		owner = meta[MetaOwnerID]
	}

	event := cost.NewEvent(workUnitID, owner, costType, amount)
	event.Metadata = meta
	event.Operation = o.operation
	if event.Operation == "" {
		event.Operation = meta[MetaOperation]
	}
	if o.eventID != "" {
		event.ID = o.eventID
	}
	if !o.occurredAt.IsZero() {
		event.OccurredAt = o.occurredAt.UTC()
	}
	return event
}
