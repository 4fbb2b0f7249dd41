// Package taskcard implements the human-approval gate for tier-1 plans. A
// card references its plan by id and carries a summary rendered once at
// creation; it is never recomputed from live data, so the reviewer sees
// exactly what will execute and staleness surfaces at execution time rather
// than silently operating on changed records.
package taskcard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	assistotel "github.com/AIDEN1973/SAAS-sub009/internal/otel"
)

var tracer = assistotel.Tracer("github.com/AIDEN1973/SAAS-sub009/internal/taskcard")

var (
	// ErrCardNotFound is returned when a card id does not resolve.
	ErrCardNotFound = errors.New("task card not found")
	// ErrCardResolved is returned when a card has already been approved,
	// rejected, or expired. Double decisions lose the conditional update
	// and land here.
	ErrCardResolved = errors.New("task card already resolved")
)

// Resolution is the terminal state of a card.
type Resolution string

const (
	ResolutionApproved Resolution = "approved"
	ResolutionRejected Resolution = "rejected"
	ResolutionExpired  Resolution = "expired"
)

// Card is the human-reviewable artifact gating a plan's execution.
type Card struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	PlanID     string     `json:"plan_id"`
	Title      string     `json:"title"`
	Summary    string     `json:"summary"`
	Resolution Resolution `json:"resolution,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Store persists task cards in SQLite with conditional-update transitions.
type Store struct {
	db *sql.DB
}

// NewStore creates the task_cards table if needed.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS task_cards (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			plan_id TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			resolution TEXT,
			resolved_by TEXT,
			resolved_at DATETIME,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cards_tenant ON task_cards(tenant_id, resolution);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating task_cards table: %w", err)
	}
	return &Store{db: db}, nil
}

// Create persists a new card for a plan.
func (s *Store) Create(ctx context.Context, tenantID, planID, title, summary string) (*Card, error) {
	ctx, span := tracer.Start(ctx, "taskcard.create",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("plan_id", planID),
		))
	defer span.End()

	card := &Card{
		ID:        "card_" + uuid.New().String()[:12],
		TenantID:  tenantID,
		PlanID:    planID,
		Title:     title,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_cards (id, tenant_id, plan_id, title, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		card.ID, card.TenantID, card.PlanID, card.Title, card.Summary, card.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting task card: %w", err)
	}

	log.Info().
		Str("card_id", card.ID).
		Str("plan_id", planID).
		Str("tenant_id", tenantID).
		Func(assistotel.LogTraceFields(ctx)).
		Msg("task_card_created")
	return card, nil
}

// Get returns a card by id within the tenant.
func (s *Store) Get(ctx context.Context, tenantID, cardID string) (*Card, error) {
	card := &Card{}
	var resolution, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, plan_id, title, summary, resolution, resolved_by, resolved_at, created_at
		FROM task_cards WHERE tenant_id = ? AND id = ?`, tenantID, cardID,
	).Scan(&card.ID, &card.TenantID, &card.PlanID, &card.Title, &card.Summary,
		&resolution, &resolvedBy, &resolvedAt, &card.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying task card: %w", err)
	}
	if resolution.Valid {
		card.Resolution = Resolution(resolution.String)
	}
	if resolvedBy.Valid {
		card.ResolvedBy = resolvedBy.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		card.ResolvedAt = &t
	}
	return card, nil
}

// ListPending returns the tenant's unresolved cards, oldest first.
func (s *Store) ListPending(ctx context.Context, tenantID string) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, plan_id, title, summary, created_at
		FROM task_cards WHERE tenant_id = ? AND resolution IS NULL
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying pending cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		var c Card
		if err := rows.Scan(&c.ID, &c.TenantID, &c.PlanID, &c.Title, &c.Summary, &c.CreatedAt); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// Resolve marks a card approved or rejected. The conditional update on
// "resolution IS NULL" rejects concurrent double decisions.
func (s *Store) Resolve(ctx context.Context, tenantID, cardID string, resolution Resolution, resolvedBy string) error {
	ctx, span := tracer.Start(ctx, "taskcard.resolve",
		trace.WithAttributes(
			attribute.String("card_id", cardID),
			attribute.String("resolution", string(resolution)),
		))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		UPDATE task_cards SET resolution = ?, resolved_by = ?, resolved_at = ?
		WHERE tenant_id = ? AND id = ? AND resolution IS NULL`,
		string(resolution), resolvedBy, time.Now().UTC(), tenantID, cardID,
	)
	if err != nil {
		return fmt.Errorf("resolving task card: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		if _, getErr := s.Get(ctx, tenantID, cardID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s", ErrCardResolved, cardID)
	}

	log.Info().
		Str("card_id", cardID).
		Str("tenant_id", tenantID).
		Str("resolution", string(resolution)).
		Str("resolved_by", resolvedBy).
		Func(assistotel.LogTraceFields(ctx)).
		Msg("task_card_resolved")
	return nil
}

// StaleRef identifies a plan whose approval card just expired.
type StaleRef struct {
	TenantID string
	PlanID   string
}

// ExpireStale moves unresolved cards older than horizon to expired, with no
// other mutation, and returns the affected plan refs so the caller can fail
// the orphaned plans. Run by the scheduler, not the request path.
func (s *Store) ExpireStale(ctx context.Context, horizon time.Duration) ([]StaleRef, error) {
	ctx, span := tracer.Start(ctx, "taskcard.expire_stale")
	defer span.End()

	cutoff := time.Now().UTC().Add(-horizon)

	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, plan_id FROM task_cards WHERE resolution IS NULL AND created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying stale cards: %w", err)
	}
	var refs []StaleRef
	for rows.Next() {
		var ref StaleRef
		if err := rows.Scan(&ref.TenantID, &ref.PlanID); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE task_cards SET resolution = ?, resolved_at = ?
		WHERE resolution IS NULL AND created_at < ?`,
		string(ResolutionExpired), time.Now().UTC(), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("expiring stale cards: %w", err)
	}
	expired, _ := res.RowsAffected()
	if expired > 0 {
		log.Info().Int64("expired", expired).Msg("task_cards_expired")
	}
	span.SetAttributes(attribute.Int64("cards.expired", expired))
	return refs, nil
}
