package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	assistotel "github.com/AIDEN1973/SAAS-sub009/internal/otel"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
)

var tracer = assistotel.Tracer("github.com/AIDEN1973/SAAS-sub009/internal/plan")

// Store persists plans in SQLite. Every transition is a conditional UPDATE
// guarded on the current status; there are no cross-request locks.
type Store struct {
	db *sql.DB
}

// NewStore creates the plans table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			intent_key TEXT NOT NULL,
			params_json TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			created_by TEXT NOT NULL,
			result_json TEXT,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_plans_tenant_status ON plans(tenant_id, status);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating plans table: %w", err)
	}
	return &Store{db: db}, nil
}

// Save persists a new plan snapshot.
func (s *Store) Save(ctx context.Context, p *Plan) error {
	ctx, span := tracer.Start(ctx, "plan.save",
		trace.WithAttributes(
			attribute.String("plan_id", p.ID),
			attribute.String("tenant_id", p.TenantID),
			attribute.String("intent_key", string(p.IntentKey)),
		))
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (id, tenant_id, intent_key, params_json, status, created_at, created_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, string(p.IntentKey), string(p.Params), string(p.Status),
		p.CreatedAt, p.CreatedBy, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting plan: %w", err)
	}
	return nil
}

// Get returns a plan by id within the tenant.
func (s *Store) Get(ctx context.Context, tenantID, planID string) (*Plan, error) {
	p := &Plan{}
	var intentKey, status, params string
	var result sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, intent_key, params_json, status, created_at, created_by, result_json
		FROM plans WHERE tenant_id = ? AND id = ?`, tenantID, planID,
	).Scan(&p.ID, &p.TenantID, &intentKey, &params, &status, &p.CreatedAt, &p.CreatedBy, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying plan: %w", err)
	}
	p.IntentKey = intent.Key(intentKey)
	p.Status = Status(status)
	p.Params = json.RawMessage(params)
	if result.Valid {
		p.Result = json.RawMessage(result.String)
	}
	return p, nil
}

// RecentIntentKeys returns the intent keys of the tenant's most recently
// created plans, newest first. Feeds the classifier's plan-history context.
func (s *Store) RecentIntentKeys(ctx context.Context, tenantID string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent_key FROM plans
		WHERE tenant_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent plans: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning recent plan: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Transition moves a plan from one status to another, conditionally. The
// guard on the current status is the only double-invocation protection and
// it is sufficient: the losing UPDATE affects zero rows and gets
// ErrPlanNotInStatus.
func (s *Store) Transition(ctx context.Context, tenantID, planID string, from, to Status) error {
	return s.transition(ctx, tenantID, planID, from, to, nil)
}

// TransitionWithResult is Transition plus recording the execution result in
// the same UPDATE.
func (s *Store) TransitionWithResult(ctx context.Context, tenantID, planID string, from, to Status, result interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling plan result: %w", err)
	}
	rj := string(resultJSON)
	return s.transition(ctx, tenantID, planID, from, to, &rj)
}

func (s *Store) transition(ctx context.Context, tenantID, planID string, from, to Status, resultJSON *string) error {
	ctx, span := tracer.Start(ctx, "plan.transition",
		trace.WithAttributes(
			attribute.String("plan_id", planID),
			attribute.String("plan.from", string(from)),
			attribute.String("plan.to", string(to)),
		))
	defer span.End()

	var res sql.Result
	var err error
	if resultJSON != nil {
		res, err = s.db.ExecContext(ctx, `
			UPDATE plans SET status = ?, result_json = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND status = ?`,
			string(to), *resultJSON, time.Now().UTC(), tenantID, planID, string(from),
		)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE plans SET status = ?, updated_at = ?
			WHERE tenant_id = ? AND id = ? AND status = ?`,
			string(to), time.Now().UTC(), tenantID, planID, string(from),
		)
	}
	if err != nil {
		return fmt.Errorf("transitioning plan: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s is not %s", ErrPlanNotInStatus, planID, from)
	}

	log.Info().
		Str("plan_id", planID).
		Str("tenant_id", tenantID).
		Str("from", string(from)).
		Str("to", string(to)).
		Func(assistotel.LogTraceFields(ctx)).
		Msg("plan_transition")
	return nil
}
