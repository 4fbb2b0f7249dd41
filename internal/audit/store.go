// Package audit provides the HMAC-signed, append-only trail of engine
// activity. Every execution, whether inline read, approved mutation, denial, or
// failure, appends exactly one entry keyed by plan id. Message context
// stored here is already PII-masked by the engine.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	assistotel "github.com/AIDEN1973/SAAS-sub009/internal/otel"
)

var tracer = assistotel.Tracer("github.com/AIDEN1973/SAAS-sub009/internal/audit")

// ErrEntryNotFound is returned when no audit entry matches.
var ErrEntryNotFound = errors.New("audit entry not found")

// Entry is a single audit record.
type Entry struct {
	ID            string          `json:"id"`
	PlanID        string          `json:"plan_id"`
	TenantID      string          `json:"tenant_id"`
	IntentKey     string          `json:"intent_key"`
	Outcome       string          `json:"outcome"` // executed | failed | denied | rejected | expired | read
	ErrorCode     string          `json:"error_code,omitempty"`
	Message       string          `json:"message,omitempty"`
	AffectedCount int             `json:"affected_count"`
	SideEffects   json.RawMessage `json:"side_effects,omitempty"`
	ActorID       string          `json:"actor_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Signature     string          `json:"signature,omitempty"`
}

// Store persists signed audit entries in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore creates the audit table and the HMAC signer.
func NewStore(db *sql.DB, signingKey string) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			intent_key TEXT NOT NULL,
			outcome TEXT NOT NULL,
			entry_json TEXT NOT NULL,
			signature TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_plan ON audit_entries(plan_id);
		CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_entries(tenant_id, timestamp);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating audit_entries table: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating audit signer: %w", err)
	}
	return &Store{db: db, signer: signer}, nil
}

// Append signs and stores an entry. Audit append failures are the caller's
// to surface; they are never swallowed into a successful result.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	ctx, span := tracer.Start(ctx, "audit.append",
		trace.WithAttributes(
			attribute.String("plan_id", e.PlanID),
			attribute.String("tenant_id", e.TenantID),
			attribute.String("audit.outcome", e.Outcome),
		))
	defer span.End()

	if e.ID == "" {
		e.ID = "aud_" + uuid.New().String()[:12]
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	unsigned := *e
	unsigned.Signature = ""
	payload, err := json.Marshal(&unsigned)
	if err != nil {
		return fmt.Errorf("marshaling audit entry: %w", err)
	}
	e.Signature = s.signer.Sign(payload)

	entryJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling signed audit entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, plan_id, tenant_id, intent_key, outcome, entry_json, signature, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PlanID, e.TenantID, e.IntentKey, e.Outcome, string(entryJSON), e.Signature, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("storing audit entry: %w", err)
	}
	return nil
}

// ByPlan returns the entries for a plan, oldest first, verifying each
// signature.
func (s *Store) ByPlan(ctx context.Context, tenantID, planID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_json FROM audit_entries
		WHERE tenant_id = ? AND plan_id = ? ORDER BY timestamp ASC`, tenantID, planID)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal([]byte(entryJSON), &e); err != nil {
			return nil, fmt.Errorf("unmarshaling audit entry: %w", err)
		}
		if err := s.verify(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns a tenant's entries within a time window, newest first.
func (s *Store) List(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]Entry, error) {
	query := `SELECT entry_json FROM audit_entries WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, to)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal([]byte(entryJSON), &e); err != nil {
			return nil, fmt.Errorf("unmarshaling audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) verify(e *Entry) error {
	unsigned := *e
	unsigned.Signature = ""
	payload, err := json.Marshal(&unsigned)
	if err != nil {
		return err
	}
	if !s.signer.Verify(payload, e.Signature) {
		return fmt.Errorf("audit entry %s: signature mismatch", e.ID)
	}
	return nil
}
