package clickhouse

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"costwatch/internal/domain/cost"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// Compile-time check
var _ cost.Repository = (*CostEventRepository)(nil)

// CostEventRepository implements cost.Repository for ClickHouse.
// Batching is done by the caller (the event store's group-commit writer);
// every StoreBatch is one native batch INSERT.
type CostEventRepository struct {
	conn driver.Conn
	log  *logger.Logger
}

// NewCostEventRepository creates a new ClickHouse cost event repository
func NewCostEventRepository(conn driver.Conn) *CostEventRepository {
	return &CostEventRepository{
		conn: conn,
		log:  logger.Get().With("component", "cost_events_clickhouse"),
	}
}

// Store inserts a single event
func (r *CostEventRepository) Store(ctx context.Context, event *cost.Event) error {
	return r.StoreBatch(ctx, []*cost.Event{event})
}

// StoreBatch uses the ClickHouse native batch protocol:
// PrepareBatch, Append per row (in memory), then a single Send.
func (r *CostEventRepository) StoreBatch(ctx context.Context, events []*cost.Event) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO cost_events (
			id, work_unit_id, owner_id, cost_type,
			amount, operation, occurred_at, metadata
		)
	`

	start := time.Now()

	stmt, err := r.conn.PrepareBatch(ctx, query)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	defer stmt.Close()

	for _, e := range events {
		meta := e.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		err := stmt.Append(
			e.ID, e.WorkUnitID, e.OwnerID, string(e.Type),
			e.Amount, e.Operation, e.OccurredAt.UTC(), meta,
		)
		if err != nil {
			return errors.Wrapf(err, "failed to append event %s to batch", e.ID)
		}
	}

	// Network call happens only here
	if err := stmt.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}

	r.log.Debugf("Batch inserted %d cost events in %v", len(events), time.Since(start))
	return nil
}

// Get returns the stored event with id. Re-sent rows with the same id
// collapse in the ReplacingMergeTree, so inserts never report duplicates.
func (r *CostEventRepository) Get(ctx context.Context, id string) (*cost.Event, error) {
	var (
		e        cost.Event
		costType string
		meta     map[string]string
	)
	row := r.conn.QueryRow(ctx, `
		SELECT id, work_unit_id, owner_id, cost_type, amount, operation, occurred_at, metadata
		FROM cost_events FINAL
		WHERE id = ?
		LIMIT 1`, id)
	if err := row.Scan(&e.ID, &e.WorkUnitID, &e.OwnerID, &costType, &e.Amount, &e.Operation, &e.OccurredAt, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "cost event %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get cost event %s", id)
	}
	e.Type = cost.Type(costType)
	e.OccurredAt = e.OccurredAt.UTC()
	e.Metadata = meta
	return &e, nil
}

// Query returns matching events ordered by occurred_at, then insertion time
func (r *CostEventRepository) Query(ctx context.Context, filter cost.Filter) ([]*cost.Event, error) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)

	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.WorkUnitID != "" {
		conditions = append(conditions, "work_unit_id = ?")
		args = append(args, filter.WorkUnitID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "cost_type = ?")
		args = append(args, string(filter.Type))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "occurred_at < ?")
		args = append(args, filter.To.UTC())
	}

	query := `
		SELECT id, work_unit_id, owner_id, cost_type, amount, operation, occurred_at, metadata
		FROM cost_events FINAL`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY occurred_at, inserted_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cost events")
	}
	defer rows.Close()

	events := make([]*cost.Event, 0)
	for rows.Next() {
		var (
			e        cost.Event
			costType string
			amount   decimal.Decimal
			meta     map[string]string
		)
		if err := rows.Scan(&e.ID, &e.WorkUnitID, &e.OwnerID, &costType, &amount, &e.Operation, &e.OccurredAt, &meta); err != nil {
			return nil, errors.Wrap(err, "failed to scan cost event")
		}
		e.Type = cost.Type(costType)
		e.Amount = amount
		e.OccurredAt = e.OccurredAt.UTC()
		e.Metadata = meta
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate cost events")
	}

	return events, nil
}
