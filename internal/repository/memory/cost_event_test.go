package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/internal/domain/cost"
	"costwatch/pkg/errors"
)

func newEvent(unit string, at time.Time, amount string) *cost.Event {
	e := cost.NewEvent(unit, "owner-1", cost.TypeCompute, decimal.RequireFromString(amount))
	e.OccurredAt = at
	return e
}

func TestCostEventRepository_QueryOrdersByOccurredAt(t *testing.T) {
	repo := NewCostEventRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	late := newEvent("u1", base.Add(2*time.Minute), "0.03")
	early := newEvent("u1", base, "0.01")
	tieA := newEvent("u1", base.Add(time.Minute), "0.02")
	tieB := newEvent("u1", base.Add(time.Minute), "0.025")

	// Arrival order differs from occurrence order
	require.NoError(t, repo.Store(ctx, late))
	require.NoError(t, repo.Store(ctx, tieA))
	require.NoError(t, repo.Store(ctx, early))
	require.NoError(t, repo.Store(ctx, tieB))

	events, err := repo.Query(ctx, cost.Filter{WorkUnitID: "u1"})
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, early.ID, events[0].ID)
	assert.Equal(t, tieA.ID, events[1].ID, "ties keep insertion order")
	assert.Equal(t, tieB.ID, events[2].ID)
	assert.Equal(t, late.ID, events[3].ID)
}

func TestCostEventRepository_FilterAndLimit(t *testing.T) {
	repo := NewCostEventRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Store(ctx, newEvent("u1", base.Add(time.Duration(i)*time.Minute), "0.01")))
	}
	other := newEvent("u2", base, "0.01")
	other.OwnerID = "owner-2"
	require.NoError(t, repo.Store(ctx, other))

	events, err := repo.Query(ctx, cost.Filter{OwnerID: "owner-1", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = repo.Query(ctx, cost.Filter{OwnerID: "owner-2"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "u2", events[0].WorkUnitID)
}

func TestCostEventRepository_StoreBatchIsAtomic(t *testing.T) {
	repo := NewCostEventRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	existing := newEvent("u1", now, "0.01")
	require.NoError(t, repo.Store(ctx, existing))

	err := repo.StoreBatch(ctx, []*cost.Event{newEvent("u1", now, "0.02"), existing})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateEvent))
	assert.Equal(t, 1, repo.Len())
}

func TestCostEventRepository_Get(t *testing.T) {
	repo := NewCostEventRepository()
	ctx := context.Background()

	first := newEvent("u1", time.Now().UTC(), "0.01")
	second := newEvent("u2", time.Now().UTC(), "0.02")
	require.NoError(t, repo.StoreBatch(ctx, []*cost.Event{first, second}))

	got, err := repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "u2", got.WorkUnitID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("0.02")))

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestCostEventRepository_StoredEventsAreImmutable(t *testing.T) {
	repo := NewCostEventRepository()
	ctx := context.Background()

	e := newEvent("u1", time.Now().UTC(), "0.01")
	e.Metadata["model"] = "gpt-4o"
	require.NoError(t, repo.Store(ctx, e))

	e.Metadata["model"] = "mutated"
	e.Amount = decimal.NewFromInt(100)

	events, err := repo.Query(ctx, cost.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", events[0].Metadata["model"])
	assert.True(t, events[0].Amount.Equal(decimal.RequireFromString("0.01")))
}

func TestCostEventRepository_ConcurrentStores(t *testing.T) {
	repo := NewCostEventRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, repo.Store(ctx, newEvent(fmt.Sprintf("u%d", i%5), time.Now().UTC(), "0.01")))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, repo.Len())
}
