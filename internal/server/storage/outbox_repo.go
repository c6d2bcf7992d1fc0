package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/kamikazebr/musa-estate/internal/server/outbox"
)

// OutboxRepository is the Postgres-backed outbox.Queue. Claims use
// FOR UPDATE SKIP LOCKED so several server processes can drain one table.
type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

type outboxRow struct {
	ID          uuid.UUID      `db:"id"`
	Kind        string         `db:"kind"`
	Payload     types.JSONText `db:"payload"`
	Status      string         `db:"status"`
	Attempts    int            `db:"attempts"`
	AvailableAt time.Time      `db:"available_at"`
	LastError   *string        `db:"last_error"`
	CreatedAt   time.Time      `db:"created_at"`
}

func (r outboxRow) event() *outbox.Event {
	return &outbox.Event{
		ID:          r.ID,
		Kind:        r.Kind,
		Payload:     json.RawMessage(r.Payload),
		Status:      r.Status,
		Attempts:    r.Attempts,
		AvailableAt: r.AvailableAt,
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
	}
}

func (r *OutboxRepository) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*outbox.Event, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	var row outboxRow
	query := `
		INSERT INTO outbox_events (id, kind, payload, status, attempts, available_at)
		VALUES ($1, $2, $3, $4, 0, NOW())
		RETURNING *
	`
	err := r.db.GetContext(ctx, &row, query, uuid.New(), kind, types.JSONText(payload), outbox.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return row.event(), nil
}

func (r *OutboxRepository) Claim(ctx context.Context, limit int) ([]*outbox.Event, error) {
	var rows []outboxRow
	query := `
		UPDATE outbox_events
		SET status = $1, attempts = attempts + 1, available_at = NOW() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status IN ($3, $1) AND available_at <= NOW()
			ORDER BY available_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`
	err := r.db.SelectContext(ctx, &rows, query,
		outbox.StatusProcessing, outbox.ClaimLease.Seconds(), outbox.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}

	events := make([]*outbox.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.event())
	}
	return events, nil
}

func (r *OutboxRepository) Complete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE outbox_events SET status = $1, last_error = NULL WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, outbox.StatusDone, id)
	return err
}

func (r *OutboxRepository) Retry(ctx context.Context, id uuid.UUID, availableAt time.Time, reason string) error {
	query := `UPDATE outbox_events SET status = $1, available_at = $2, last_error = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, outbox.StatusPending, availableAt, reason, id)
	return err
}

func (r *OutboxRepository) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE outbox_events SET status = $1, last_error = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, outbox.StatusDead, reason, id)
	return err
}

// DeleteCompletedBefore removes finished events older than cutoff.
func (r *OutboxRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM outbox_events WHERE status = $1 AND created_at < $2`
	result, err := r.db.ExecContext(ctx, query, outbox.StatusDone, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountByStatus reports queue depth per status.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM outbox_events GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
