package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coldchain-cloud/internal/eventing"
)

const defaultOutboxTable = "event_outbox"

// OutboxStore persists envelopes for the transactional outbox. Rows
// carry organization and unit columns alongside the payload so a
// unit's event flow can be traced without unpacking JSON.
type OutboxStore struct {
	db        *sql.DB
	insertSQL string
	listSQL   string
	sentSQL   string
	failedSQL string
}

type outboxConfig struct {
	table string
}

// OutboxOption configures the outbox store.
type OutboxOption func(*outboxConfig)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(cfg *outboxConfig) {
		if table != "" {
			cfg.table = table
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	cfg := outboxConfig{table: defaultOutboxTable}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OutboxStore{
		db: db,
		insertSQL: fmt.Sprintf(`
INSERT INTO %s (
	id,
	event_id,
	event_type,
	organization_id,
	unit_id,
	occurred_at,
	payload,
	status,
	attempts
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, 'pending', 0
)
ON CONFLICT (event_id)
DO NOTHING`, cfg.table),
		listSQL: fmt.Sprintf(`
SELECT id, payload
FROM %s
WHERE status = 'pending'
ORDER BY created_at ASC
LIMIT $1`, cfg.table),
		sentSQL: fmt.Sprintf(`
UPDATE %s
SET status = 'sent', sent_at = $1
WHERE id = $2`, cfg.table),
		failedSQL: fmt.Sprintf(`
UPDATE %s
SET status = 'failed', attempts = attempts + 1
WHERE id = $1`, cfg.table),
	}
}

// Insert writes one envelope. Re-publishing the same event id is a
// no-op, which makes publishers safe to retry.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	rowID := eventing.NewEventID()
	_, err = s.db.ExecContext(ctx, s.insertSQL,
		rowID, env.EventID, env.EventType, env.OrganizationID, env.UnitID, env.OccurredAt.UTC(), payload)
	if err != nil {
		return "", err
	}
	return rowID, nil
}

// ListPending returns undelivered rows, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.listSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []eventing.OutboxRecord
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		result = append(result, eventing.OutboxRecord{ID: id, Envelope: env})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSent settles a delivered row.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	_, err := s.db.ExecContext(ctx, s.sentSQL, time.Now().UTC(), id)
	return err
}

// MarkFailed parks a row and bumps its attempt counter.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	_, err := s.db.ExecContext(ctx, s.failedSQL, id)
	return err
}
