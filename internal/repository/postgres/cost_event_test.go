package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/internal/domain/cost"
	"costwatch/internal/testsupport"
	"costwatch/pkg/errors"
)

func TestCostEventRepository_Store(t *testing.T) {
	db, mock := testsupport.NewMockDB(t)
	repo := NewCostEventRepository(db)

	e := cost.NewEvent("unit-1", "owner-1", cost.TypeCompute, decimal.RequireFromString("0.02"))
	e.Operation = "generate"
	e.Metadata["model"] = "gpt-4o"

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cost_events (id, work_unit_id, owner_id, cost_type, amount, operation, occurred_at, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)")).
		WithArgs(e.ID, "unit-1", "owner-1", "compute", sqlmock.AnyArg(), "generate", sqlmock.AnyArg(), `{"model":"gpt-4o"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Store(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostEventRepository_StoreBatchSingleStatement(t *testing.T) {
	db, mock := testsupport.NewMockDB(t)
	repo := NewCostEventRepository(db)

	events := []*cost.Event{
		cost.NewEvent("unit-1", "owner-1", cost.TypeCompute, decimal.RequireFromString("0.01")),
		cost.NewEvent("unit-1", "owner-1", cost.TypeDB, decimal.RequireFromString("0.002")),
	}

	mock.ExpectExec(regexp.QuoteMeta("($9, $10, $11, $12, $13, $14, $15, $16::jsonb)")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.StoreBatch(context.Background(), events))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostEventRepository_StoreError(t *testing.T) {
	db, mock := testsupport.NewMockDB(t)
	repo := NewCostEventRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cost_events")).
		WillReturnError(sqlmock.ErrCancelled)

	err := repo.Store(context.Background(), cost.NewEvent("unit-1", "owner-1", cost.TypeInfra, decimal.Zero))
	require.Error(t, err)
	assert.ErrorIs(t, err, sqlmock.ErrCancelled)
}

func TestCostEventRepository_StoreDuplicateID(t *testing.T) {
	db, mock := testsupport.NewMockDB(t)
	repo := NewCostEventRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cost_events")).
		WillReturnError(&pq.Error{Code: "23505", Detail: "Key (id)=(evt-1) already exists."})

	err := repo.Store(context.Background(), cost.NewEvent("unit-1", "owner-1", cost.TypeCompute, decimal.Zero))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateEvent))
}

func TestCostEventRepository_Get(t *testing.T) {
	db, mock := testsupport.NewMockDB(t)
	repo := NewCostEventRepository(db)

	occurred := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, work_unit_id, owner_id, cost_type, amount, operation, occurred_at, metadata FROM cost_events WHERE id = $1")).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "work_unit_id", "owner_id", "cost_type", "amount", "operation", "occurred_at", "metadata"}).
			AddRow("evt-1", "unit-1", "owner-1", "compute", "0.02000000", "", occurred, []byte(`{}`)))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	e, err := repo.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "unit-1", e.WorkUnitID)
	assert.True(t, e.Amount.Equal(decimal.RequireFromString("0.02")))

	_, err = repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostEventRepository_Query(t *testing.T) {
	db, mock := testsupport.NewMockDB(t)
	repo := NewCostEventRepository(db)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	occurred := from.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"id", "work_unit_id", "owner_id", "cost_type", "amount", "operation", "occurred_at", "metadata"}).
		AddRow("evt-1", "unit-1", "owner-1", "compute", "0.02000000", "generate", occurred, []byte(`{"model":"gpt-4o"}`)).
		AddRow("evt-2", "unit-1", "owner-1", "db", "0.00100000", "", occurred, []byte(`{}`))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, work_unit_id, owner_id, cost_type, amount, operation, occurred_at, metadata FROM cost_events WHERE owner_id = $1 AND occurred_at >= $2 ORDER BY occurred_at, seq LIMIT $3")).
		WithArgs("owner-1", from, 10).
		WillReturnRows(rows)

	events, err := repo.Query(context.Background(), cost.Filter{OwnerID: "owner-1", From: from, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, cost.TypeCompute, events[0].Type)
	assert.True(t, events[0].Amount.Equal(decimal.RequireFromString("0.02")))
	assert.Equal(t, "gpt-4o", events[0].Metadata["model"])
	assert.Equal(t, cost.TypeDB, events[1].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostEventRepository_QueryWithoutFilter(t *testing.T) {
	db, mock := testsupport.NewMockDB(t)
	repo := NewCostEventRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, work_unit_id, owner_id, cost_type, amount, operation, occurred_at, metadata FROM cost_events ORDER BY occurred_at, seq")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	events, err := repo.Query(context.Background(), cost.Filter{})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCostEventRepository_Integration(t *testing.T) {
	helper := testsupport.NewPostgresTestHelper(t, testsupport.PostgresConfigFromEnv(t))
	repo := NewCostEventRepository(helper.Tx())
	ctx := context.Background()

	owner := testsupport.UniqueOwnerID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	late := testsupport.NewCostEventFixture().WithOwner(owner).WithOccurredAt(base.Add(time.Minute)).Build()
	early := testsupport.NewCostEventFixture().WithOwner(owner).WithOccurredAt(base).WithMeta("model", "gpt-4o").Build()

	require.NoError(t, repo.StoreBatch(ctx, []*cost.Event{late, early}))

	events, err := repo.Query(ctx, cost.Filter{OwnerID: owner})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, early.ID, events[0].ID)
	assert.Equal(t, "gpt-4o", events[0].Metadata["model"])
	assert.True(t, early.Amount.Equal(events[0].Amount))
}
