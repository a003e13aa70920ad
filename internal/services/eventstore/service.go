package eventstore

import (
	"context"
	"time"

	"costwatch/internal/domain/cost"
	"costwatch/internal/metrics"
	"costwatch/pkg/batch"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// Config holds write path limits
type Config struct {
	QueueSize      int
	MaxBatchSize   int
	MaxBatchAge    time.Duration
	FlushTimeout   time.Duration
	LatencyTarget  time.Duration // p50 goal; exceeding it is logged at debug
	LatencyCeiling time.Duration // exceeding it is logged as a warning
	DefaultLimit   int           // applied to queries without a limit; 0 means unbounded
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:      1024,
		MaxBatchSize:   200,
		MaxBatchAge:    20 * time.Millisecond,
		FlushTimeout:   5 * time.Second,
		LatencyTarget:  200 * time.Millisecond,
		LatencyCeiling: 500 * time.Millisecond,
		DefaultLimit:   1000,
	}
}

// Service is the append-only cost event store.
// Single writes are group-committed into backend batches; every caller
// still gets its own result.
type Service struct {
	repo    cost.Repository
	writer  *batch.Writer[*cost.Event]
	metrics *metrics.Emitter
	cfg     Config
	log     *logger.Logger
}

// NewService creates a new event store over repo
func NewService(repo cost.Repository, cfg Config, emitter *metrics.Emitter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Get()
	}
	log = log.With("component", "event_store")

	s := &Service{
		repo:    repo,
		metrics: emitter,
		cfg:     cfg,
		log:     log,
	}
	s.writer = batch.NewWriter(batch.Config[*cost.Event]{
		Name:         "cost_events",
		FlushFunc:    repo.StoreBatch,
		ItemFunc:     repo.Store,
		QueueSize:    cfg.QueueSize,
		MaxBatchSize: cfg.MaxBatchSize,
		MaxAge:       cfg.MaxBatchAge,
		FlushTimeout: cfg.FlushTimeout,
		Logger:       log,
	})
	return s
}

// Start starts the background batch writer
func (s *Service) Start(ctx context.Context) {
	s.log.Info("Starting event store batch writer...")
	s.writer.Start(ctx)
}

// Stop flushes queued events and stops the writer
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping event store batch writer...")
	if err := s.writer.Stop(ctx); err != nil {
		return errors.Wrap(err, "failed to stop batch writer")
	}
	s.log.Info("✓ Event store stopped")
	return nil
}

// Store validates and persists one event, returning its ID.
// A rejected event returns *errors.ValidationError and is never stored;
// an ID that is already stored returns errors.ErrDuplicateEvent;
// a persistence failure returns *errors.StorageError.
func (s *Service) Store(ctx context.Context, event *cost.Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}

	start := time.Now()
	err := s.writer.Add(ctx, event.Clone())
	s.observe(ctx, "store", time.Since(start), 1, err)

	if err != nil {
		return "", writeError("store", event.ID, err)
	}

	s.log.Debugw("Cost event stored",
		"event_id", event.ID,
		"work_unit_id", event.WorkUnitID,
		"owner_id", event.OwnerID,
		"cost_type", event.Type,
		"amount", event.Amount.String(),
	)
	return event.ID, nil
}

// StoreBatch behaves like calling Store for each event: invalid events are
// rejected individually and valid ones are persisted regardless.
// ids is index-aligned with events ("" where the event failed); the error,
// if any, is *errors.BatchError keyed by index.
func (s *Service) StoreBatch(ctx context.Context, events []*cost.Event) ([]string, error) {
	ids := make([]string, len(events))
	failed := make(map[int]error)

	valid := make([]*cost.Event, 0, len(events))
	positions := make([]int, 0, len(events))
	for i, e := range events {
		if err := e.Validate(); err != nil {
			failed[i] = err
			continue
		}
		valid = append(valid, e.Clone())
		positions = append(positions, i)
	}

	if len(valid) > 0 {
		start := time.Now()
		results := s.writer.AddMany(ctx, valid)

		var firstErr error
		for j, err := range results {
			idx := positions[j]
			if err != nil {
				failed[idx] = writeError("store_batch", valid[j].ID, err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			ids[idx] = valid[j].ID
		}
		s.observe(ctx, "store_batch", time.Since(start), len(valid), firstErr)
	}

	if len(failed) > 0 {
		return ids, &errors.BatchError{Total: len(events), Failed: failed}
	}
	return ids, nil
}

// Get returns the stored event with id; errors.ErrNotFound when absent
func (s *Service) Get(ctx context.Context, id string) (*cost.Event, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		return nil, errors.NewStorageError("get", id, err)
	}
	return e, nil
}

// Query returns events ordered by OccurredAt, ties by insertion order
func (s *Service) Query(ctx context.Context, filter cost.Filter) ([]*cost.Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.DefaultLimit
	}

	start := time.Now()
	events, err := s.repo.Query(ctx, filter)
	s.observe(ctx, "query", time.Since(start), len(events), err)

	if err != nil {
		return nil, errors.NewStorageError("query", "", err)
	}
	return events, nil
}

// writeError keeps duplicates distinguishable from lost writes
func writeError(op, eventID string, err error) error {
	if errors.Is(err, errors.ErrDuplicateEvent) {
		return errors.Wrapf(err, "%s", op)
	}
	return errors.NewStorageError(op, eventID, err)
}

// QueueStats implements metrics.QueueStatsProvider
func (s *Service) QueueStats() metrics.QueueStats {
	st := s.writer.GetStats()
	return metrics.QueueStats{
		Depth:     st.QueueDepth,
		Capacity:  st.QueueSize,
		Flushed:   st.Flushed,
		Failed:    st.Failed,
		Fallbacks: st.Fallbacks,
	}
}

// observe records latency. Slowness is reported, never turned into a failure.
func (s *Service) observe(ctx context.Context, op string, d time.Duration, n int, err error) {
	s.metrics.Emit(ctx, metrics.OperationLatency(op, d, err))

	switch {
	case s.cfg.LatencyCeiling > 0 && d > s.cfg.LatencyCeiling:
		s.log.Warnw("Event store operation exceeded latency ceiling",
			"operation", op,
			"events", n,
			"duration", d,
			"ceiling", s.cfg.LatencyCeiling,
			"queue_depth", s.writer.QueueDepth(),
		)
	case s.cfg.LatencyTarget > 0 && d > s.cfg.LatencyTarget:
		s.log.Debugw("Event store operation above latency target",
			"operation", op,
			"events", n,
			"duration", d,
			"target", s.cfg.LatencyTarget,
		)
	}
}
