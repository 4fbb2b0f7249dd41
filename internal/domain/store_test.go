package domain

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTenant = "tenant-a"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "domain.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func seedStudents(t *testing.T, store *Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("st-%d", i)
		require.NoError(t, store.AddStudent(context.Background(), &Student{
			ID:           id,
			TenantID:     testTenant,
			Name:         fmt.Sprintf("Student %d", i),
			Status:       StudentActive,
			ContactPhone: fmt.Sprintf("+31 6 1234 56%02d", i),
			ContactEmail: fmt.Sprintf("parent%d@example.com", i),
			MonthlyFee:   120.50,
		}))
		ids = append(ids, id)
	}
	return ids
}

func seedInvoice(t *testing.T, store *Store, studentID, period string) string {
	t.Helper()
	inv := &Invoice{TenantID: testTenant, StudentID: studentID, Period: period, Amount: 120.50}
	require.NoError(t, store.CreateInvoice(context.Background(), inv))
	return inv.ID
}

func TestStudentLookupIsTenantScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStudents(t, store, 1)

	_, err := store.GetStudent(ctx, testTenant, "st-1")
	require.NoError(t, err)

	// Cross-tenant lookup is indistinguishable from a missing record.
	_, err = store.GetStudent(ctx, "tenant-b", "st-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListStudentsByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ids := seedStudents(t, store, 3)

	affected, err := store.SetStudentStatus(ctx, testTenant, ids[0], StudentDischarged)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	active, err := store.ListStudents(ctx, testTenant, StudentActive)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := store.ListStudents(ctx, testTenant, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSetStudentStatusMissingAffectsZero(t *testing.T) {
	store := newTestStore(t)

	affected, err := store.SetStudentStatus(context.Background(), testTenant, "st-404", StudentDischarged)
	require.NoError(t, err)
	assert.EqualValues(t, 0, affected)
}

func TestUpdateContactReturnsPreviousValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStudents(t, store, 1)

	prevPhone, prevEmail, err := store.UpdateContact(ctx, testTenant, "st-1", "+31 6 0000 0000", "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "+31 6 1234 5601", prevPhone)
	assert.Equal(t, "parent1@example.com", prevEmail)

	st, err := store.GetStudent(ctx, testTenant, "st-1")
	require.NoError(t, err)
	assert.Equal(t, "+31 6 0000 0000", st.ContactPhone)
	assert.Equal(t, "new@example.com", st.ContactEmail)
}

func TestCreateInvoiceDefaults(t *testing.T) {
	store := newTestStore(t)
	seedStudents(t, store, 1)

	inv := &Invoice{TenantID: testTenant, StudentID: "st-1", Period: "2026-03", Amount: 120.50}
	require.NoError(t, store.CreateInvoice(context.Background(), inv))
	assert.Contains(t, inv.ID, "inv_")
	assert.Equal(t, InvoiceIssued, inv.Status)
	assert.False(t, inv.IssuedAt.IsZero())
}

func TestDuplicateInvoiceForPeriodRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStudents(t, store, 1)
	id := seedInvoice(t, store, "st-1", "2026-03")

	err := store.CreateInvoice(ctx, &Invoice{
		TenantID: testTenant, StudentID: "st-1", Period: "2026-03", Amount: 120.50,
	})
	require.Error(t, err)

	// A voided invoice no longer occupies the period.
	_, err = store.SetInvoiceStatus(ctx, testTenant, id, InvoiceIssued, InvoiceVoid)
	require.NoError(t, err)
	require.NoError(t, store.CreateInvoice(ctx, &Invoice{
		TenantID: testTenant, StudentID: "st-1", Period: "2026-03", Amount: 120.50,
	}))
}

func TestSetInvoiceStatusGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStudents(t, store, 1)
	id := seedInvoice(t, store, "st-1", "2026-03")

	affected, err := store.SetInvoiceStatus(ctx, testTenant, id, InvoiceIssued, InvoicePaid)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	// The guard loses when the invoice already left fromStatus.
	affected, err = store.SetInvoiceStatus(ctx, testTenant, id, InvoiceIssued, InvoiceVoid)
	require.NoError(t, err)
	assert.EqualValues(t, 0, affected)
}

func TestDeleteInvoice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStudents(t, store, 1)
	id := seedInvoice(t, store, "st-1", "2026-03")

	require.NoError(t, store.DeleteInvoice(ctx, testTenant, id))
	_, err := store.GetInvoice(ctx, testTenant, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
