// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
)

// Test signing and encryption keys for use in tests only.
// 32 bytes for secretbox / HMAC key material.
const (
	TestEncryptionKey = "12345678901234567890123456789012"
	TestSigningKey    = "test-signing-key-1234567890123456"

	TestTenant = "tenant-a"
)

// OpenDB creates a throwaway SQLite database in a temp directory.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedStudents inserts active students st-1..st-n with contact details and a
// monthly fee, and returns their ids.
func SeedStudents(t *testing.T, store *domain.Store, tenantID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("st-%d", i)
		st := &domain.Student{
			ID:           id,
			TenantID:     tenantID,
			Name:         fmt.Sprintf("Student %d", i),
			Status:       domain.StudentActive,
			ContactPhone: fmt.Sprintf("+31 6 1234 56%02d", i),
			ContactEmail: fmt.Sprintf("parent%d@example.com", i),
			MonthlyFee:   120.50,
		}
		if err := store.AddStudent(context.Background(), st); err != nil {
			t.Fatalf("seeding student %s: %v", id, err)
		}
		ids = append(ids, id)
	}
	return ids
}

// SeedInvoice inserts an issued invoice and returns its id.
func SeedInvoice(t *testing.T, store *domain.Store, tenantID, studentID, period string, amount float64) string {
	t.Helper()
	inv := &domain.Invoice{
		TenantID:  tenantID,
		StudentID: studentID,
		Period:    period,
		Amount:    amount,
	}
	if err := store.CreateInvoice(context.Background(), inv); err != nil {
		t.Fatalf("seeding invoice: %v", err)
	}
	return inv.ID
}

// EnableAction sets the canonical policy path for actionKey to "true".
func EnableAction(t *testing.T, store *policy.Store, tenantID, actionKey string) {
	t.Helper()
	if err := store.Set(context.Background(), tenantID, policy.ActionPath(actionKey), "true"); err != nil {
		t.Fatalf("enabling action %s: %v", actionKey, err)
	}
}
