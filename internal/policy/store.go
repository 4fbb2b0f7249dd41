// Package policy holds per-tenant configuration as a dot-delimited settings
// tree. Absence of an entry always means disabled: no caller may compile in
// a permissive default, and the gate that grants automation is built on a
// default-deny Rego policy so "missing" can never be confused with a false
// that happens to equal disabled.
package policy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	assistotel "github.com/AIDEN1973/SAAS-sub009/internal/otel"
)

var tracer = assistotel.Tracer("github.com/AIDEN1973/SAAS-sub009/internal/policy")

// ErrDisabled is returned when an automation feature is not explicitly
// enabled for a tenant. Expected and recoverable: the plan fails with a
// clear message and no side effects.
var ErrDisabled = errors.New("policy disabled")

// aliases maps canonical setting paths to their deprecated read-compatible
// forms. Reads try canonical first, then the alias; writes only ever target
// the canonical path so the duplication cannot become permanent.
//
// Alias sunset: an alias is removed one release after the migration backfill
// for it has run on every tenant (tracked per alias in DESIGN.md), not
// lazily on last-read.
var aliases = map[string]string{
	"domain_action.student.discharge.enabled":      "automation.actions.discharge.enabled",
	"domain_action.billing.issue_invoices.enabled": "automation.actions.issue_invoices.enabled",
}

// Store persists per-tenant settings in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the policy settings store.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS policy_settings (
			tenant_id TEXT NOT NULL,
			path TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (tenant_id, path)
		);
		CREATE INDEX IF NOT EXISTS idx_policy_tenant ON policy_settings(tenant_id);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating policy_settings table: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the value at path for a tenant. The canonical path is tried
// first, then its deprecated alias if one exists. found is false when
// neither is set; callers must treat that as disabled.
func (s *Store) Get(ctx context.Context, tenantID, path string) (value string, found bool, err error) {
	ctx, span := tracer.Start(ctx, "policy.get",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("policy.path", path),
		))
	defer span.End()

	value, found, err = s.get(ctx, tenantID, path)
	if err != nil || found {
		return value, found, err
	}
	if alias, ok := aliases[path]; ok {
		return s.get(ctx, tenantID, alias)
	}
	return "", false, nil
}

func (s *Store) get(ctx context.Context, tenantID, path string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM policy_settings WHERE tenant_id = ? AND path = ?`,
		tenantID, path,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying policy setting %s: %w", path, err)
	}
	return value, true, nil
}

// Set writes a value at the canonical path. Alias paths are rejected so the
// deprecated forms can only ever shrink.
func (s *Store) Set(ctx context.Context, tenantID, path, value string) error {
	for canonical, alias := range aliases {
		if path == alias {
			return fmt.Errorf("path %q is a deprecated alias; write %q instead", path, canonical)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_settings (tenant_id, path, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(tenant_id, path) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		tenantID, path, value,
	)
	if err != nil {
		return fmt.Errorf("writing policy setting %s: %w", path, err)
	}
	return nil
}

// Delete removes a setting at the given path (canonical or alias).
func (s *Store) Delete(ctx context.Context, tenantID, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM policy_settings WHERE tenant_id = ? AND path = ?`, tenantID, path)
	if err != nil {
		return fmt.Errorf("deleting policy setting %s: %w", path, err)
	}
	return nil
}

// TenantSettings returns the full settings tree for a tenant. Fetched fresh
// per invocation; the engine never caches this across requests, which is
// what makes the execution-time re-check meaningful.
func (s *Store) TenantSettings(ctx context.Context, tenantID string) (map[string]string, error) {
	ctx, span := tracer.Start(ctx, "policy.tenant_settings",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value FROM policy_settings WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying tenant settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var path, value string
		if err := rows.Scan(&path, &value); err != nil {
			return nil, err
		}
		settings[path] = value
	}
	return settings, rows.Err()
}

// HasEntryForAction reports whether any tenant has a setting (canonical or
// alias) for the given catalog action key. Used by the offline consistency
// sweep, not the request path.
func (s *Store) HasEntryForAction(ctx context.Context, actionKey string) (bool, error) {
	canonical := ActionPath(actionKey)
	paths := []interface{}{canonical}
	query := `SELECT COUNT(1) FROM policy_settings WHERE path IN (?`
	if alias, ok := aliases[canonical]; ok {
		query += `, ?`
		paths = append(paths, alias)
	}
	query += `)`

	var n int
	if err := s.db.QueryRowContext(ctx, query, paths...).Scan(&n); err != nil {
		return false, fmt.Errorf("counting policy entries for %s: %w", actionKey, err)
	}
	return n > 0, nil
}

// ActionPath returns the canonical enablement path for a catalog action key.
func ActionPath(actionKey string) string {
	return "domain_action." + actionKey + ".enabled"
}
