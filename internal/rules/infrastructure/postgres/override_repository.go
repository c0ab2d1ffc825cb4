package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	rules "coldchain-cloud/internal/rules/domain"
)

// OverrideRepository reads rule overrides per scope. Override bodies are
// stored as JSON documents so adding a parameter needs no migration.
type OverrideRepository struct {
	db *sql.DB
}

// NewOverrideRepository constructs a repository.
func NewOverrideRepository(db *sql.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Get fetches the override for one scope, nil when absent.
func (r *OverrideRepository) Get(ctx context.Context, scope, scopeID string) (*rules.Override, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("override repo: nil db")
	}
	if scope == "" || scopeID == "" {
		return nil, errors.New("override repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT body
FROM alert_rule_overrides
WHERE scope = $1 AND scope_id = $2`, scope, scopeID)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var override rules.Override
	if err := json.Unmarshal(body, &override); err != nil {
		return nil, err
	}
	override.Scope = scope
	override.ScopeID = scopeID
	return &override, nil
}

// Upsert writes an override document for a scope.
func (r *OverrideRepository) Upsert(ctx context.Context, override rules.Override) error {
	if r == nil || r.db == nil {
		return errors.New("override repo: nil db")
	}
	if override.Scope == "" || override.ScopeID == "" {
		return errors.New("override repo: missing scope")
	}
	body, err := json.Marshal(override)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alert_rule_overrides (scope, scope_id, body, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (scope, scope_id)
DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
		override.Scope, override.ScopeID, body)
	return err
}
