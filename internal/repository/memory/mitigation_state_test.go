package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/internal/domain/mitigation"
)

func TestMitigationStateRepository_PutOverwrites(t *testing.T) {
	repo := NewMitigationStateRepository()
	ctx := context.Background()

	st := &mitigation.State{OwnerID: "owner-1", Action: mitigation.ActionThrottle, Value: "0.5"}
	require.NoError(t, repo.Put(ctx, st, time.Hour))

	st.Value = "0.25"
	require.NoError(t, repo.Put(ctx, st, time.Hour))

	states, err := repo.List(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "0.25", states[mitigation.ActionThrottle].Value)
}

func TestMitigationStateRepository_Expiry(t *testing.T) {
	repo := NewMitigationStateRepository()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &mitigation.State{OwnerID: "o", Action: mitigation.ActionPauseUnit, Value: "paused"}, time.Hour))
	require.NoError(t, repo.Put(ctx, &mitigation.State{OwnerID: "o", Action: mitigation.ActionNotifyOperator, Value: "sent"}, 0))

	now = now.Add(2 * time.Hour)

	states, err := repo.List(ctx, "o")
	require.NoError(t, err)
	assert.Len(t, states, 1)
	assert.Contains(t, states, mitigation.ActionNotifyOperator)
}
