package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// FlushFunc writes a whole batch in one backend call (e.g. a single INSERT)
type FlushFunc[T any] func(ctx context.Context, items []T) error

// ItemFunc writes one item. It is used to isolate failures when a batch insert fails.
type ItemFunc[T any] func(ctx context.Context, item T) error

// Writer groups concurrent writes into backend batches (group commit).
// Every Add blocks until the batch holding its item is flushed and returns
// that item's own result, so a failed write is never silently dropped.
// The pending queue is bounded: when full, Add blocks until space frees or ctx ends.
// Once an item is queued its outcome is definitive: Add returns the flush result
// even if ctx ends meanwhile, because flushes are bounded by FlushTimeout.
type Writer[T any] struct {
	flushFunc FlushFunc[T]
	itemFunc  ItemFunc[T]
	queue     chan *request[T]
	log       *logger.Logger

	// Configuration
	name         string
	maxBatchSize int           // Flush when the batch reaches this size
	maxAge       time.Duration // Flush when the oldest item waited this long
	flushTimeout time.Duration

	// State
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	closed  chan struct{}
	wg      sync.WaitGroup

	flushed   atomic.Int64
	failed    atomic.Int64
	fallbacks atomic.Int64
	lastFlush atomic.Int64
}

type request[T any] struct {
	item T
	done chan error
}

// Config contains configuration for Writer
type Config[T any] struct {
	Name         string
	FlushFunc    FlushFunc[T]
	ItemFunc     ItemFunc[T]   // Optional per-item fallback
	QueueSize    int           // Default: 1024
	MaxBatchSize int           // Default: 200
	MaxAge       time.Duration // Default: 20ms
	FlushTimeout time.Duration // Default: 5s
	Logger       *logger.Logger
}

// NewWriter creates a new group-commit writer. Call Start before Add.
func NewWriter[T any](cfg Config[T]) *Writer[T] {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 200
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 20 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	return &Writer[T]{
		flushFunc:    cfg.FlushFunc,
		itemFunc:     cfg.ItemFunc,
		queue:        make(chan *request[T], cfg.QueueSize),
		log:          log.With("component", "batch_writer", "target", cfg.Name),
		name:         cfg.Name,
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		flushTimeout: cfg.FlushTimeout,
		stopCh:       make(chan struct{}),
		closed:       make(chan struct{}),
	}
}

// Start begins the background flush loop
func (w *Writer[T]) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)

	w.log.Infof("Batch writer started (queue=%d, maxBatchSize=%d, maxAge=%v)", cap(w.queue), w.maxBatchSize, w.maxAge)
}

// Add enqueues one item and waits for its flush result.
// ctx only bounds the wait for queue space.
func (w *Writer[T]) Add(ctx context.Context, item T) error {
	req, err := w.enqueue(ctx, item)
	if err != nil {
		return err
	}
	return w.wait(req)
}

// AddMany enqueues all items and returns one result per item, index-aligned.
// Items share batches with concurrent writers.
func (w *Writer[T]) AddMany(ctx context.Context, items []T) []error {
	results := make([]error, len(items))
	reqs := make([]*request[T], len(items))

	for i, item := range items {
		req, err := w.enqueue(ctx, item)
		if err != nil {
			results[i] = err
			continue
		}
		reqs[i] = req
	}
	for i, req := range reqs {
		if req != nil {
			results[i] = w.wait(req)
		}
	}
	return results
}

func (w *Writer[T]) enqueue(ctx context.Context, item T) (*request[T], error) {
	req := &request[T]{item: item, done: make(chan error, 1)}

	select {
	case <-w.closed:
		return nil, errors.ErrQueueClosed
	default:
	}

	w.mu.Lock()
	started := w.running
	w.mu.Unlock()
	if !started {
		return nil, errors.Wrap(errors.ErrQueueClosed, "writer not started")
	}

	select {
	case w.queue <- req:
		return req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.closed:
		return nil, errors.ErrQueueClosed
	}
}

func (w *Writer[T]) wait(req *request[T]) error {
	select {
	case err := <-req.done:
		return err
	case <-w.closed:
		// The final drain may have answered just before close
		select {
		case err := <-req.done:
			return err
		default:
			return errors.ErrQueueClosed
		}
	}
}

// loop collects requests until the batch is full or the oldest request is maxAge old
func (w *Writer[T]) loop(ctx context.Context) {
	defer w.wg.Done()
	defer close(w.closed)

	pending := make([]*request[T], 0, w.maxBatchSize)
	timer := time.NewTimer(w.maxAge)
	timer.Stop()
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		w.flush(pending)
		pending = make([]*request[T], 0, w.maxBatchSize)
	}

	for {
		select {
		case req := <-w.queue:
			if len(pending) == 0 {
				timer.Reset(w.maxAge)
			}
			pending = append(pending, req)
			if len(pending) >= w.maxBatchSize {
				timer.Stop()
				flush()
			}

		case <-timer.C:
			flush()

		case <-ctx.Done():
			w.log.Info("Batch writer context done, performing final flush...")
			pending = w.drain(pending)
			flush()
			return

		case <-w.stopCh:
			w.log.Info("Batch writer received stop signal, performing final flush...")
			pending = w.drain(pending)
			flush()
			return
		}
	}
}

// drain moves every queued request into pending, flushing full batches on the way
func (w *Writer[T]) drain(pending []*request[T]) []*request[T] {
	for {
		select {
		case req := <-w.queue:
			pending = append(pending, req)
			if len(pending) >= w.maxBatchSize {
				w.flush(pending)
				pending = make([]*request[T], 0, w.maxBatchSize)
			}
		default:
			return pending
		}
	}
}

func (w *Writer[T]) flush(pending []*request[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), w.flushTimeout)
	defer cancel()

	items := make([]T, len(pending))
	for i, req := range pending {
		items[i] = req.item
	}

	start := time.Now()
	err := w.flushFunc(ctx, items)
	duration := time.Since(start)
	w.lastFlush.Store(time.Now().UnixNano())

	if err == nil {
		w.flushed.Add(int64(len(items)))
		for _, req := range pending {
			req.done <- nil
		}
		w.log.Debugf("Flushed %d items to %s (took %v)", len(items), w.name, duration)
		return
	}

	if w.itemFunc == nil || len(pending) == 1 {
		w.failed.Add(int64(len(items)))
		w.log.Errorw("Batch flush failed",
			"target", w.name,
			"items", len(items),
			"duration", duration,
			"error", err,
		)
		for _, req := range pending {
			req.done <- err
		}
		return
	}

	// Isolate the failing items so the good ones are still persisted
	w.fallbacks.Add(1)
	w.log.Warnw("Batch flush failed, retrying item by item",
		"target", w.name,
		"items", len(items),
		"error", err,
	)
	for _, req := range pending {
		itemErr := w.itemFunc(ctx, req.item)
		if itemErr != nil {
			w.failed.Add(1)
		} else {
			w.flushed.Add(1)
		}
		req.done <- itemErr
	}
}

// Stop gracefully shuts down the writer.
// Queued items are flushed before it returns.
func (w *Writer[T]) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info("Batch writer stopped gracefully")
		return nil
	case <-ctx.Done():
		w.log.Warn("Batch writer stop timed out")
		return ctx.Err()
	}
}

// QueueDepth returns the number of items waiting for a flush
func (w *Writer[T]) QueueDepth() int {
	return len(w.queue)
}

// Stats describes the writer for monitoring
type Stats struct {
	QueueDepth   int
	QueueSize    int
	Flushed      int64
	Failed       int64
	Fallbacks    int64
	LastFlushAge time.Duration
	MaxBatchSize int
	MaxAge       time.Duration
	Running      bool
}

// GetStats returns current statistics
func (w *Writer[T]) GetStats() Stats {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	var age time.Duration
	if last := w.lastFlush.Load(); last > 0 {
		age = time.Since(time.Unix(0, last))
	}

	return Stats{
		QueueDepth:   len(w.queue),
		QueueSize:    cap(w.queue),
		Flushed:      w.flushed.Load(),
		Failed:       w.failed.Load(),
		Fallbacks:    w.fallbacks.Load(),
		LastFlushAge: age,
		MaxBatchSize: w.maxBatchSize,
		MaxAge:       w.maxAge,
		Running:      running,
	}
}
