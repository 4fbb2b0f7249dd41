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

	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
)

const testTenant = "tenant-a"

func newTestPlanStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestPlanSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestPlanStore(t)

	params := json.RawMessage(`{"student_id":"st-1","reason":"moved away"}`)
	p := New(testTenant, "admin@school", intent.StudentExecDischarge, params, StatusPendingApproval)
	require.NoError(t, store.Save(ctx, p))

	got, err := store.Get(ctx, testTenant, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, intent.StudentExecDischarge, got.IntentKey)
	assert.Equal(t, StatusPendingApproval, got.Status)
	assert.Equal(t, "admin@school", got.CreatedBy)
	assert.JSONEq(t, string(params), string(got.Params))
	assert.Empty(t, got.Result)
}

func TestPlanParamsImmutableAcrossTransitions(t *testing.T) {
	ctx := context.Background()
	store := newTestPlanStore(t)

	params := json.RawMessage(`{"period":"2026-09"}`)
	p := New(testTenant, "admin", intent.BillingExecIssueInvoices, params, StatusPendingApproval)
	require.NoError(t, store.Save(ctx, p))

	require.NoError(t, store.Transition(ctx, testTenant, p.ID, StatusPendingApproval, StatusApproved))
	require.NoError(t, store.TransitionWithResult(ctx, testTenant, p.ID, StatusApproved, StatusExecuted,
		map[string]int{"affected": 12}))

	got, err := store.Get(ctx, testTenant, p.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(params), string(got.Params), "transitions must never touch the snapshot")
	assert.Equal(t, StatusExecuted, got.Status)
	assert.JSONEq(t, `{"affected":12}`, string(got.Result))
}

func TestPlanTransitionGuard(t *testing.T) {
	ctx := context.Background()
	store := newTestPlanStore(t)

	p := New(testTenant, "admin", intent.StudentExecDischarge, json.RawMessage(`{}`), StatusPendingApproval)
	require.NoError(t, store.Save(ctx, p))

	err := store.Transition(ctx, testTenant, p.ID, StatusApproved, StatusExecuting)
	assert.True(t, errors.Is(err, ErrPlanNotInStatus))

	// Only one of two racing identical transitions can win.
	require.NoError(t, store.Transition(ctx, testTenant, p.ID, StatusPendingApproval, StatusApproved))
	err = store.Transition(ctx, testTenant, p.ID, StatusPendingApproval, StatusApproved)
	assert.True(t, errors.Is(err, ErrPlanNotInStatus))
}

func TestPlanTenantScope(t *testing.T) {
	ctx := context.Background()
	store := newTestPlanStore(t)

	p := New(testTenant, "admin", intent.StudentExecDischarge, json.RawMessage(`{}`), StatusPendingApproval)
	require.NoError(t, store.Save(ctx, p))

	_, err := store.Get(ctx, "tenant-b", p.ID)
	assert.True(t, errors.Is(err, ErrPlanNotFound))

	err = store.Transition(ctx, "tenant-b", p.ID, StatusPendingApproval, StatusApproved)
	assert.True(t, errors.Is(err, ErrPlanNotInStatus))
}

func TestRecentIntentKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestPlanStore(t)

	for _, key := range []intent.Key{intent.StudentExecDischarge, intent.BillingExecIssueInvoices, intent.StudentExecUpdateContact} {
		p := New(testTenant, "admin", key, json.RawMessage(`{}`), StatusDraft)
		require.NoError(t, store.Save(ctx, p))
	}
	other := New("tenant-b", "admin", intent.BillingExecVoidInvoice, json.RawMessage(`{}`), StatusDraft)
	require.NoError(t, store.Save(ctx, other))

	keys, err := store.RecentIntentKeys(ctx, testTenant, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"student.exec.update_contact", "billing.exec.issue_invoices"}, keys)

	all, err := store.RecentIntentKeys(ctx, testTenant, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3, "other tenants' plans stay out of the history")
}

func TestPlanParamHelper(t *testing.T) {
	p := New(testTenant, "admin", intent.StudentExecDischarge, json.RawMessage(`{"student_id":"st-9"}`), StatusDraft)

	var params struct {
		StudentID string `json:"student_id"`
	}
	require.NoError(t, p.Param(&params))
	assert.Equal(t, "st-9", params.StudentID)

	bad := New(testTenant, "admin", intent.StudentExecDischarge, json.RawMessage(`{oops`), StatusDraft)
	err := bad.Param(&params)
	assert.True(t, errors.Is(err, ErrValidation))
}
