package eventstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"costwatch/internal/domain/cost"
	"costwatch/internal/repository/memory"
	"costwatch/internal/testsupport"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

func newTestService(t *testing.T, repo cost.Repository, cfg Config, log *logger.Logger) *Service {
	t.Helper()
	if log == nil {
		log = logger.Nop()
	}
	svc := NewService(repo, cfg, nil, log)
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc
}

// failingRepo rejects batches and events whose work unit is "bad"
type failingRepo struct {
	*memory.CostEventRepository
	delay time.Duration
}

func (r *failingRepo) StoreBatch(ctx context.Context, events []*cost.Event) error {
	time.Sleep(r.delay)
	for _, e := range events {
		if e.WorkUnitID == "bad" {
			return errors.New("constraint violation")
		}
	}
	return r.CostEventRepository.StoreBatch(ctx, events)
}

func (r *failingRepo) Store(ctx context.Context, e *cost.Event) error {
	return r.StoreBatch(ctx, []*cost.Event{e})
}

func TestService_StoreAndQuery(t *testing.T) {
	repo := memory.NewCostEventRepository()
	svc := newTestService(t, repo, DefaultConfig(), nil)
	ctx := context.Background()

	e := testsupport.NewCostEventFixture().Build()
	id, err := svc.Store(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, e.ID, id)

	events, err := svc.Query(ctx, cost.Filter{OwnerID: e.OwnerID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, e.ID, events[0].ID)
}

func TestService_StoreRejectsInvalid(t *testing.T) {
	repo := memory.NewCostEventRepository()
	svc := newTestService(t, repo, DefaultConfig(), nil)

	e := testsupport.NewCostEventFixture().WithAmount("-0.01").Build()
	_, err := svc.Store(context.Background(), e)

	var vErr *errors.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "amount", vErr.Field)
	assert.Equal(t, 0, repo.Len(), "rejected events are never stored")
}

func TestService_StoreSurfacesStorageError(t *testing.T) {
	repo := &failingRepo{CostEventRepository: memory.NewCostEventRepository()}
	svc := newTestService(t, repo, DefaultConfig(), nil)

	e := testsupport.NewCostEventFixture().WithWorkUnit("bad").Build()
	_, err := svc.Store(context.Background(), e)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorage))
	var sErr *errors.StorageError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, e.ID, sErr.EventID)
}

func TestService_StoreDuplicateIsNotAStorageFailure(t *testing.T) {
	repo := memory.NewCostEventRepository()
	svc := newTestService(t, repo, DefaultConfig(), nil)
	ctx := context.Background()

	e := testsupport.NewCostEventFixture().Build()
	_, err := svc.Store(ctx, e)
	require.NoError(t, err)

	_, err = svc.Store(ctx, e.Clone())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateEvent))
	assert.False(t, errors.Is(err, errors.ErrStorage))
	assert.Equal(t, 1, repo.Len())

	stored, err := svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.WorkUnitID, stored.WorkUnitID)

	_, err = svc.Get(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestService_StoreOutlivesCallerDeadline(t *testing.T) {
	repo := memory.NewCostEventRepository()
	cfg := DefaultConfig()
	cfg.MaxBatchAge = 100 * time.Millisecond
	svc := newTestService(t, repo, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// Once queued, the outcome is the flush result, not the caller's deadline
	_, err := svc.Store(ctx, testsupport.NewCostEventFixture().Build())
	require.NoError(t, err)
	assert.Equal(t, 1, repo.Len())
}

func TestService_StoreBatchMatchesSingleStores(t *testing.T) {
	repo := &failingRepo{CostEventRepository: memory.NewCostEventRepository()}
	svc := newTestService(t, repo, DefaultConfig(), nil)
	owner := testsupport.UniqueOwnerID()

	events := []*cost.Event{
		testsupport.NewCostEventFixture().WithOwner(owner).Build(),
		testsupport.NewCostEventFixture().WithOwner(owner).WithAmount("-1").Build(),
		testsupport.NewCostEventFixture().WithOwner(owner).WithWorkUnit("bad").Build(),
		testsupport.NewCostEventFixture().WithOwner(owner).Build(),
	}

	ids, err := svc.StoreBatch(context.Background(), events)
	require.Error(t, err)

	var bErr *errors.BatchError
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, 4, bErr.Total)
	require.Len(t, bErr.Failed, 2)
	assert.True(t, errors.Is(bErr.Failed[1], errors.ErrInvalidInput))
	assert.True(t, errors.Is(bErr.Failed[2], errors.ErrStorage))

	assert.Equal(t, events[0].ID, ids[0])
	assert.Empty(t, ids[1])
	assert.Empty(t, ids[2])
	assert.Equal(t, events[3].ID, ids[3])

	stored, err := svc.Query(context.Background(), cost.Filter{OwnerID: owner})
	require.NoError(t, err)
	assert.Len(t, stored, 2, "valid events persist despite failures in the same batch")
}

func TestService_ConcurrentStoresAreAllPersisted(t *testing.T) {
	repo := memory.NewCostEventRepository()
	cfg := DefaultConfig()
	cfg.MaxBatchSize = 16
	svc := newTestService(t, repo, cfg, nil)
	owner := testsupport.UniqueOwnerID()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Store(context.Background(), testsupport.NewCostEventFixture().WithOwner(owner).Build())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	events, err := svc.Query(context.Background(), cost.Filter{OwnerID: owner})
	require.NoError(t, err)
	assert.Len(t, events, 200)

	total := decimal.Zero
	for _, e := range events {
		total = total.Add(e.Amount)
	}
	assert.True(t, total.Equal(decimal.RequireFromString("4")), total.String())
	assert.Equal(t, int64(200), svc.QueueStats().Flushed)
}

func TestService_SlowWriteIsLoggedNotFailed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	repo := &failingRepo{CostEventRepository: memory.NewCostEventRepository(), delay: 30 * time.Millisecond}

	cfg := DefaultConfig()
	cfg.LatencyTarget = 5 * time.Millisecond
	cfg.LatencyCeiling = 10 * time.Millisecond
	svc := newTestService(t, repo, cfg, logger.New(zap.New(core)))

	_, err := svc.Store(context.Background(), testsupport.NewCostEventFixture().Build())
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("Event store operation exceeded latency ceiling").Len())
}

func TestService_QueryAppliesDefaultLimit(t *testing.T) {
	repo := memory.NewCostEventRepository()
	cfg := DefaultConfig()
	cfg.DefaultLimit = 3
	svc := newTestService(t, repo, cfg, nil)
	owner := testsupport.UniqueOwnerID()

	for i := 0; i < 5; i++ {
		_, err := svc.Store(context.Background(), testsupport.NewCostEventFixture().WithOwner(owner).Build())
		require.NoError(t, err)
	}

	events, err := svc.Query(context.Background(), cost.Filter{OwnerID: owner})
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = svc.Query(context.Background(), cost.Filter{OwnerID: owner, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, events, 5)
}
