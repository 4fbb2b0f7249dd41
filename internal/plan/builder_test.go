package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
)

type builderFixture struct {
	builder *Builder
	plans   *Store
	domain  *domain.Store
	policy  *policy.Store
}

func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "builder.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	domainStore, err := domain.NewStore(db)
	require.NoError(t, err)
	policyStore, err := policy.NewStore(db)
	require.NoError(t, err)
	gate, err := policy.NewGate(context.Background())
	require.NoError(t, err)
	plans, err := NewStore(db)
	require.NoError(t, err)
	builder, err := NewBuilder(domainStore, policyStore, gate, plans)
	require.NoError(t, err)

	return &builderFixture{builder: builder, plans: plans, domain: domainStore, policy: policyStore}
}

func (f *builderFixture) seedStudent(t *testing.T, tenantID, id string) {
	t.Helper()
	require.NoError(t, f.domain.AddStudent(context.Background(), &domain.Student{
		ID:       id,
		TenantID: tenantID,
		Name:     "Student " + id,
		Status:   domain.StudentActive,
	}))
}

func (f *builderFixture) enable(t *testing.T, tenantID, actionKey string) {
	t.Helper()
	require.NoError(t, f.policy.Set(context.Background(), tenantID, policy.ActionPath(actionKey), "true"))
}

func TestBuildApprovalPlanPersistsPending(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(t)
	f.seedStudent(t, testTenant, "st-1")
	f.enable(t, testTenant, "student.discharge")

	p, err := f.builder.Build(ctx, testTenant, "admin", intent.StudentExecDischarge,
		json.RawMessage(`{"student_id":"st-1","reason":"relocation"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, p.Status)

	stored, err := f.plans.Get(ctx, testTenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, stored.Status)
}

func TestBuildReadOnlyPlanNotPersisted(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(t)

	p, err := f.builder.Build(ctx, testTenant, "admin", intent.StudentReadRoster, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, p.Status)

	_, err = f.plans.Get(ctx, testTenant, p.ID)
	assert.True(t, errors.Is(err, ErrPlanNotFound))
}

func TestBuildDirectPlanPersistsDraft(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(t)
	f.seedStudent(t, testTenant, "st-1")
	f.enable(t, testTenant, "student.update_contact")

	p, err := f.builder.Build(ctx, testTenant, "admin", intent.StudentExecUpdateContact,
		json.RawMessage(`{"student_id":"st-1","phone":"+31 6 1234 5678"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, p.Status)

	stored, err := f.plans.Get(ctx, testTenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, stored.Status)
}

func TestBuildRejectsSchemaViolations(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(t)
	f.seedStudent(t, testTenant, "st-1")
	f.enable(t, testTenant, "billing.issue_invoices")

	tests := []struct {
		name   string
		key    intent.Key
		params string
	}{
		{"missing required field", intent.StudentExecDischarge, `{"reason":"x"}`},
		{"empty id", intent.StudentExecDischarge, `{"student_id":""}`},
		{"unknown field", intent.StudentExecDischarge, `{"student_id":"st-1","nickname":"x"}`},
		{"bad period format", intent.BillingExecIssueInvoices, `{"period":"September 2026"}`},
		{"month out of range", intent.BillingExecIssueInvoices, `{"period":"2026-13"}`},
		{"empty student list", intent.BillingExecIssueInvoices, `{"period":"2026-09","student_ids":[]}`},
		{"duplicate student ids", intent.BillingExecIssueInvoices, `{"period":"2026-09","student_ids":["st-1","st-1"]}`},
		{"contact without phone or email", intent.StudentExecUpdateContact, `{"student_id":"st-1"}`},
		{"malformed JSON", intent.StudentExecDischarge, `{"student_id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.builder.Build(ctx, testTenant, "admin", tt.key, json.RawMessage(tt.params))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
		})
	}
}

func TestBuildRejectsUnknownIntent(t *testing.T) {
	f := newBuilderFixture(t)
	_, err := f.builder.Build(context.Background(), testTenant, "admin", "student.exec.expel", nil)
	assert.True(t, errors.Is(err, intent.ErrUnknownIntent))
}

func TestBuildChecksReferences(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(t)
	f.enable(t, testTenant, "student.discharge")
	f.seedStudent(t, "tenant-b", "st-7")

	// Missing entirely.
	_, err := f.builder.Build(ctx, testTenant, "admin", intent.StudentExecDischarge,
		json.RawMessage(`{"student_id":"st-404"}`))
	assert.True(t, errors.Is(err, ErrNotFound))

	// Exists, but for another tenant: fails identically.
	_, err = f.builder.Build(ctx, testTenant, "admin", intent.StudentExecDischarge,
		json.RawMessage(`{"student_id":"st-7"}`))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBuildEarlyPolicyGate(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(t)
	f.seedStudent(t, testTenant, "st-1")

	// No policy entry: the mutate plan is refused at build time and never
	// persisted.
	_, err := f.builder.Build(ctx, testTenant, "admin", intent.StudentExecDischarge,
		json.RawMessage(`{"student_id":"st-1"}`))
	assert.True(t, errors.Is(err, policy.ErrDisabled))
}

func TestBuildNotifyIntentSkipsGate(t *testing.T) {
	ctx := context.Background()
	f := newBuilderFixture(t)
	f.seedStudent(t, testTenant, "st-1")

	// Notify intents are not domain mutations and need no catalog policy.
	p, err := f.builder.Build(ctx, testTenant, "admin", intent.MessagingExecAbsence,
		json.RawMessage(`{"student_id":"st-1","purpose":"guardian","date":"2026-09-01"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, p.Status)
}

func TestEverySchemaCompiles(t *testing.T) {
	// NewBuilder fails if any intent lacks a schema or any schema is
	// invalid; the fixture builder existing is the assertion.
	f := newBuilderFixture(t)
	assert.NotNil(t, f.builder)
}
