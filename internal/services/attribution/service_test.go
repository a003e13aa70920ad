package attribution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/internal/domain/cost"
	"costwatch/internal/repository/memory"
	"costwatch/internal/testsupport"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	hits int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type brokenSource struct{}

func (brokenSource) Query(context.Context, cost.Filter) ([]*cost.Event, error) {
	return nil, errors.NewStorageError("query", "", errors.ErrUnavailable)
}

func TestEventConfidence(t *testing.T) {
	e := testsupport.NewCostEventFixture().Build()
	assert.Equal(t, 0.95, EventConfidence(e))

	e.Metadata["request_id"] = "r-1"
	first := EventConfidence(e)
	assert.InDelta(t, 0.96, first, 1e-9)

	e.Operation = "embed"
	second := EventConfidence(e)
	assert.InDelta(t, 0.97, second, 1e-9)
	assert.Greater(t, second, first)

	e.Metadata["correlation_id"] = "c-1"
	e.Metadata["model"] = "gpt-4o"
	e.Metadata["session_id"] = "s-1"
	assert.InDelta(t, 1.0, EventConfidence(e), 1e-9)

	e.Metadata["unrelated"] = "x"
	assert.LessOrEqual(t, EventConfidence(e), 1.0)
}

func TestService_UnknownUnit(t *testing.T) {
	svc := NewService(nil, nil, time.Minute, logger.Nop())
	ctx := context.Background()

	b := svc.Breakdown(ctx, "missing")
	assert.True(t, b.TotalAmount.IsZero())
	assert.Equal(t, 0.95, b.ConfidenceScore)
	assert.Equal(t, 0, b.EventCount)
	assert.Empty(t, b.AuditTrail)
	assert.True(t, svc.Total(ctx, "missing").IsZero())
}

func TestService_TotalsAndByType(t *testing.T) {
	svc := NewService(nil, nil, time.Minute, logger.Nop())
	ctx := context.Background()

	amounts := []struct {
		typ    cost.Type
		amount string
	}{
		{cost.TypeCompute, "0.0125"},
		{cost.TypeCompute, "0.0200"},
		{cost.TypeDB, "0.0031"},
		{cost.TypeVectorIndex, "0.0007"},
	}
	for _, a := range amounts {
		svc.Track(ctx, testsupport.NewCostEventFixture().
			WithWorkUnit("unit-1").WithType(a.typ).WithAmount(a.amount).Build())
	}

	total := svc.Total(ctx, "unit-1")
	assert.True(t, total.Equal(decimal.RequireFromString("0.0363")), total.String())

	b := svc.Breakdown(ctx, "unit-1")
	assert.Equal(t, 4, b.EventCount)
	assert.True(t, b.ByType[cost.TypeCompute].Equal(decimal.RequireFromString("0.0325")))
	assert.True(t, b.ByType[cost.TypeDB].Equal(decimal.RequireFromString("0.0031")))

	sum := decimal.Zero
	for _, v := range b.ByType {
		sum = sum.Add(v)
	}
	assert.True(t, sum.Equal(b.TotalAmount))
	assert.GreaterOrEqual(t, b.ConfidenceScore, 0.95)
	assert.LessOrEqual(t, b.ConfidenceScore, 1.0)
}

func TestService_DuplicateTrackIgnored(t *testing.T) {
	svc := NewService(nil, nil, time.Minute, logger.Nop())
	ctx := context.Background()

	e := testsupport.NewCostEventFixture().WithWorkUnit("u").WithAmount("1").Build()
	assert.True(t, svc.Track(ctx, e))
	assert.False(t, svc.Track(ctx, e))

	assert.True(t, svc.Total(ctx, "u").Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 1, svc.Breakdown(ctx, "u").EventCount)
}

func TestService_AuditTrailOrder(t *testing.T) {
	svc := NewService(nil, nil, time.Minute, logger.Nop())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	late := testsupport.NewCostEventFixture().WithWorkUnit("u").WithOccurredAt(base.Add(time.Minute)).WithOperation("late").Build()
	tieA := testsupport.NewCostEventFixture().WithWorkUnit("u").WithOccurredAt(base).WithOperation("tie-a").Build()
	tieB := testsupport.NewCostEventFixture().WithWorkUnit("u").WithOccurredAt(base).WithOperation("tie-b").Build()

	svc.Track(ctx, late)
	svc.Track(ctx, tieA)
	svc.Track(ctx, tieB)

	b := svc.Breakdown(ctx, "u")
	require.Len(t, b.AuditTrail, 3)
	assert.Equal(t, "tie-a", b.AuditTrail[0].Operation)
	assert.Equal(t, "tie-b", b.AuditTrail[1].Operation)
	assert.Equal(t, "late", b.AuditTrail[2].Operation)
}

func TestService_CacheVersioning(t *testing.T) {
	c := newMapCache()
	svc := NewService(nil, c, time.Minute, logger.Nop())
	ctx := context.Background()

	svc.Track(ctx, testsupport.NewCostEventFixture().WithWorkUnit("u").WithAmount("1").Build())
	first := svc.Breakdown(ctx, "u")
	again := svc.Breakdown(ctx, "u")
	assert.Equal(t, 1, c.hits)
	assert.True(t, first.TotalAmount.Equal(again.TotalAmount))

	svc.Track(ctx, testsupport.NewCostEventFixture().WithWorkUnit("u").WithAmount("2").Build())
	updated := svc.Breakdown(ctx, "u")
	assert.Equal(t, 2, updated.EventCount)
	assert.True(t, updated.TotalAmount.Equal(decimal.NewFromInt(3)))

	_, stale := c.data["breakdown:u:1"]
	assert.False(t, stale)
}

func TestService_Discard(t *testing.T) {
	c := newMapCache()
	svc := NewService(nil, c, time.Minute, logger.Nop())
	ctx := context.Background()

	kept := testsupport.NewCostEventFixture().WithWorkUnit("u").WithAmount("1").Build()
	lost := testsupport.NewCostEventFixture().WithWorkUnit("u").WithAmount("5").Build()
	svc.Track(ctx, kept)
	svc.Track(ctx, lost)
	require.Equal(t, 2, svc.Breakdown(ctx, "u").EventCount)

	svc.Discard(ctx, "u", lost.ID)
	svc.Discard(ctx, "u", "missing")
	svc.Discard(ctx, "other", lost.ID)

	b := svc.Breakdown(ctx, "u")
	assert.Equal(t, 1, b.EventCount)
	assert.True(t, b.TotalAmount.Equal(decimal.NewFromInt(1)))
	assert.True(t, svc.Total(ctx, "u").Equal(decimal.NewFromInt(1)))

	// a new event after a discard must not hit the breakdown cached before it
	svc.Track(ctx, testsupport.NewCostEventFixture().WithWorkUnit("u").WithAmount("2").Build())
	b = svc.Breakdown(ctx, "u")
	assert.Equal(t, 2, b.EventCount)
	assert.True(t, b.TotalAmount.Equal(decimal.NewFromInt(3)))
}

func TestService_HydratesFromStore(t *testing.T) {
	repo := memory.NewCostEventRepository()
	ctx := context.Background()

	for _, amount := range []string{"0.5", "0.25"} {
		require.NoError(t, repo.Store(ctx, testsupport.NewCostEventFixture().
			WithWorkUnit("cold").WithAmount(amount).WithMeta("request_id", "r").Build()))
	}

	svc := NewService(repo, nil, time.Minute, logger.Nop())
	b := svc.Breakdown(ctx, "cold")
	assert.Equal(t, 2, b.EventCount)
	assert.True(t, b.TotalAmount.Equal(decimal.RequireFromString("0.75")))
	assert.InDelta(t, 0.96, b.ConfidenceScore, 1e-9)
	assert.Equal(t, 1, svc.Units())
}

func TestService_HydrationFailureYieldsZero(t *testing.T) {
	svc := NewService(brokenSource{}, nil, time.Minute, logger.Nop())

	b := svc.Breakdown(context.Background(), "unit")
	assert.True(t, b.TotalAmount.IsZero())
	assert.Equal(t, 0.95, b.ConfidenceScore)
}

func TestService_ConcurrentTrack(t *testing.T) {
	svc := NewService(nil, newMapCache(), time.Minute, logger.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Track(ctx, testsupport.NewCostEventFixture().WithWorkUnit("shared").WithAmount("0.01").Build())
			_ = svc.Breakdown(ctx, "shared")
		}()
	}
	wg.Wait()

	assert.True(t, svc.Total(ctx, "shared").Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 100, svc.Breakdown(ctx, "shared").EventCount)
}
