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

const defaultDLQTable = "dead_letter_events"

// DLQStore keeps events that could not be delivered. Repeated failures
// of the same event collapse into one row with a rising attempt count,
// and the organization and unit columns keep the rows traceable.
type DLQStore struct {
	db        *sql.DB
	upsertSQL string
}

type dlqConfig struct {
	table string
}

// DLQOption configures the DLQ store.
type DLQOption func(*dlqConfig)

// WithDLQTable overrides the table name.
func WithDLQTable(table string) DLQOption {
	return func(cfg *dlqConfig) {
		if table != "" {
			cfg.table = table
		}
	}
}

// NewDLQStore constructs a DLQ store.
func NewDLQStore(db *sql.DB, opts ...DLQOption) *DLQStore {
	cfg := dlqConfig{table: defaultDLQTable}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &DLQStore{
		db: db,
		upsertSQL: fmt.Sprintf(`
INSERT INTO %s (
	event_id,
	event_type,
	organization_id,
	unit_id,
	payload,
	error,
	first_seen_at,
	last_seen_at,
	attempts
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $7, 1
)
ON CONFLICT (event_id)
DO UPDATE SET
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = %s.attempts + 1`, cfg.table, cfg.table),
	}
}

// RecordFailure upserts a dead letter row for the envelope.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	_, err = s.db.ExecContext(ctx, s.upsertSQL,
		env.EventID, env.EventType, env.OrganizationID, env.UnitID, payload, message, time.Now().UTC())
	return err
}
