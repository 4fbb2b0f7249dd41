// Package domain provides tenant-scoped access to the business records the
// assistant's handlers read and mutate: students and invoices.
//
// The platform's own access-control layer already isolates tenants; every
// query here still filters by tenant_id explicitly as defense in depth. An
// id that exists under another tenant is indistinguishable from one that
// does not exist at all.
package domain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a record is missing or belongs to another
// tenant.
var ErrNotFound = errors.New("record not found")

// Student statuses.
const (
	StudentActive     = "active"
	StudentDischarged = "discharged"
)

// Invoice statuses.
const (
	InvoiceIssued = "issued"
	InvoicePaid   = "paid"
	InvoiceVoid   = "void"
)

// Student is a person enrolled under a tenant.
type Student struct {
	ID           string
	TenantID     string
	Name         string
	Status       string
	ContactPhone string
	ContactEmail string
	MonthlyFee   float64
}

// Invoice is a billing record for a student and period.
type Invoice struct {
	ID        string
	TenantID  string
	StudentID string
	Period    string
	Amount    float64
	Status    string
	IssuedAt  time.Time
}

// Store wraps the tenant-scoped SQLite tables.
type Store struct {
	db *sql.DB
}

// NewStore creates the domain tables if they do not exist.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS students (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			contact_phone TEXT NOT NULL DEFAULT '',
			contact_email TEXT NOT NULL DEFAULT '',
			monthly_fee REAL NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_students_tenant ON students(tenant_id, status);

		CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			student_id TEXT NOT NULL,
			period TEXT NOT NULL,
			amount REAL NOT NULL,
			status TEXT NOT NULL DEFAULT 'issued',
			issued_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_invoices_tenant ON invoices(tenant_id, status);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_period ON invoices(tenant_id, student_id, period) WHERE status != 'void';
	`)
	if err != nil {
		return nil, fmt.Errorf("creating domain tables: %w", err)
	}
	return &Store{db: db}, nil
}

// AddStudent inserts a student record. Used by seeding and tests.
func (s *Store) AddStudent(ctx context.Context, st *Student) error {
	if st.ID == "" {
		st.ID = "stu_" + uuid.New().String()[:12]
	}
	if st.Status == "" {
		st.Status = StudentActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, tenant_id, name, status, contact_phone, contact_email, monthly_fee)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.TenantID, st.Name, st.Status, st.ContactPhone, st.ContactEmail, st.MonthlyFee,
	)
	if err != nil {
		return fmt.Errorf("inserting student: %w", err)
	}
	return nil
}

// GetStudent returns a student by id within the tenant.
func (s *Store) GetStudent(ctx context.Context, tenantID, id string) (*Student, error) {
	st := &Student{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, status, contact_phone, contact_email, monthly_fee
		FROM students WHERE tenant_id = ? AND id = ?`, tenantID, id,
	).Scan(&st.ID, &st.TenantID, &st.Name, &st.Status, &st.ContactPhone, &st.ContactEmail, &st.MonthlyFee)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: student %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying student: %w", err)
	}
	return st, nil
}

// ListStudents returns the tenant's students, optionally filtered by status.
func (s *Store) ListStudents(ctx context.Context, tenantID, status string) ([]Student, error) {
	query := `SELECT id, tenant_id, name, status, contact_phone, contact_email, monthly_fee
		FROM students WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying students: %w", err)
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.TenantID, &st.Name, &st.Status, &st.ContactPhone, &st.ContactEmail, &st.MonthlyFee); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SetStudentStatus updates a student's status and returns the number of rows
// changed. Zero means the student is missing or cross-tenant.
func (s *Store) SetStudentStatus(ctx context.Context, tenantID, id, status string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE students SET status = ? WHERE tenant_id = ? AND id = ?`,
		status, tenantID, id,
	)
	if err != nil {
		return 0, fmt.Errorf("updating student status: %w", err)
	}
	return res.RowsAffected()
}

// UpdateContact replaces a student's contact fields and returns the previous
// values so the caller can compensate.
func (s *Store) UpdateContact(ctx context.Context, tenantID, id, phone, email string) (prevPhone, prevEmail string, err error) {
	st, err := s.GetStudent(ctx, tenantID, id)
	if err != nil {
		return "", "", err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE students SET contact_phone = ?, contact_email = ? WHERE tenant_id = ? AND id = ?`,
		phone, email, tenantID, id,
	)
	if err != nil {
		return "", "", fmt.Errorf("updating student contact: %w", err)
	}
	return st.ContactPhone, st.ContactEmail, nil
}

// CreateInvoice inserts an invoice for a student and period.
func (s *Store) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == "" {
		inv.ID = "inv_" + uuid.New().String()[:12]
	}
	if inv.Status == "" {
		inv.Status = InvoiceIssued
	}
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, tenant_id, student_id, period, amount, status, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.TenantID, inv.StudentID, inv.Period, inv.Amount, inv.Status, inv.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting invoice: %w", err)
	}
	return nil
}

// DeleteInvoice removes an invoice. This is the compensating inverse of
// CreateInvoice, not a user-facing operation.
func (s *Store) DeleteInvoice(ctx context.Context, tenantID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM invoices WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return fmt.Errorf("deleting invoice: %w", err)
	}
	return nil
}

// GetInvoice returns an invoice by id within the tenant.
func (s *Store) GetInvoice(ctx context.Context, tenantID, id string) (*Invoice, error) {
	inv := &Invoice{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, student_id, period, amount, status, issued_at
		FROM invoices WHERE tenant_id = ? AND id = ?`, tenantID, id,
	).Scan(&inv.ID, &inv.TenantID, &inv.StudentID, &inv.Period, &inv.Amount, &inv.Status, &inv.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: invoice %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices returns the tenant's invoices, optionally filtered by status.
func (s *Store) ListInvoices(ctx context.Context, tenantID, status string) ([]Invoice, error) {
	query := `SELECT id, tenant_id, student_id, period, amount, status, issued_at
		FROM invoices WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY issued_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invoices: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.StudentID, &inv.Period, &inv.Amount, &inv.Status, &inv.IssuedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SetInvoiceStatus moves an invoice between statuses with a compare-and-swap
// guard on the current status. Zero rows means the invoice is missing,
// cross-tenant, or not in fromStatus.
func (s *Store) SetInvoiceStatus(ctx context.Context, tenantID, id, fromStatus, toStatus string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET status = ? WHERE tenant_id = ? AND id = ? AND status = ?`,
		toStatus, tenantID, id, fromStatus,
	)
	if err != nil {
		return 0, fmt.Errorf("updating invoice status: %w", err)
	}
	return res.RowsAffected()
}
