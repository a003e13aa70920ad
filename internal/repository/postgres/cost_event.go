package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"costwatch/internal/domain/cost"
	"costwatch/pkg/errors"
)

// Compile-time check
var _ cost.Repository = (*CostEventRepository)(nil)

const costEventColumns = "id, work_unit_id, owner_id, cost_type, amount, operation, occurred_at, metadata"

// Postgres allows 65535 bind parameters per statement
const maxRowsPerInsert = 1000

const uniqueViolation pq.ErrorCode = "23505"

type costEventRow struct {
	ID         string          `db:"id"`
	WorkUnitID string          `db:"work_unit_id"`
	OwnerID    string          `db:"owner_id"`
	CostType   string          `db:"cost_type"`
	Amount     decimal.Decimal `db:"amount"`
	Operation  string          `db:"operation"`
	OccurredAt time.Time       `db:"occurred_at"`
	Metadata   []byte          `db:"metadata"`
}

func (r costEventRow) toDomain() (*cost.Event, error) {
	meta := map[string]string{}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &meta); err != nil {
			return nil, errors.Wrapf(err, "failed to decode metadata of event %s", r.ID)
		}
	}
	return &cost.Event{
		ID:         r.ID,
		WorkUnitID: r.WorkUnitID,
		OwnerID:    r.OwnerID,
		Type:       cost.Type(r.CostType),
		Amount:     r.Amount,
		Operation:  r.Operation,
		OccurredAt: r.OccurredAt.UTC(),
		Metadata:   meta,
	}, nil
}

// CostEventRepository implements cost.Repository using sqlx
type CostEventRepository struct {
	db DBTX
}

// NewCostEventRepository creates a new cost event repository
func NewCostEventRepository(db DBTX) *CostEventRepository {
	return &CostEventRepository{db: db}
}

// Store inserts a single event
func (r *CostEventRepository) Store(ctx context.Context, event *cost.Event) error {
	return r.StoreBatch(ctx, []*cost.Event{event})
}

// StoreBatch inserts events with multi-row INSERT statements.
// Each statement is atomic; batches above maxRowsPerInsert are split.
func (r *CostEventRepository) StoreBatch(ctx context.Context, events []*cost.Event) error {
	for start := 0; start < len(events); start += maxRowsPerInsert {
		end := start + maxRowsPerInsert
		if end > len(events) {
			end = len(events)
		}
		if err := r.insert(ctx, events[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *CostEventRepository) insert(ctx context.Context, events []*cost.Event) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO cost_events (" + costEventColumns + ") VALUES ")

	args := make([]interface{}, 0, len(events)*8)
	for i, e := range events {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return errors.Wrapf(err, "failed to encode metadata of event %s", e.ID)
		}
		if e.Metadata == nil {
			meta = []byte("{}")
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 8
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::jsonb)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8)

		args = append(args,
			e.ID, e.WorkUnitID, e.OwnerID, string(e.Type),
			e.Amount, e.Operation, e.OccurredAt.UTC(), string(meta),
		)
	}

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return errors.Wrapf(errors.ErrDuplicateEvent, "%s", pqErr.Detail)
		}
		return errors.Wrapf(err, "failed to insert %d cost events", len(events))
	}
	return nil
}

// Get returns the stored event with id
func (r *CostEventRepository) Get(ctx context.Context, id string) (*cost.Event, error) {
	var row costEventRow
	query := "SELECT " + costEventColumns + " FROM cost_events WHERE id = $1"
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "cost event %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get cost event %s", id)
	}
	return row.toDomain()
}

// Query returns matching events ordered by occurred_at, then insertion sequence
func (r *CostEventRepository) Query(ctx context.Context, filter cost.Filter) ([]*cost.Event, error) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.OwnerID != "" {
		add("owner_id = $%d", filter.OwnerID)
	}
	if filter.WorkUnitID != "" {
		add("work_unit_id = $%d", filter.WorkUnitID)
	}
	if filter.Type != "" {
		add("cost_type = $%d", string(filter.Type))
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add("occurred_at < $%d", filter.To.UTC())
	}

	query := "SELECT " + costEventColumns + " FROM cost_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY occurred_at, seq"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []costEventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query cost events")
	}

	events := make([]*cost.Event, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
