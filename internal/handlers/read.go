// Package handlers implements the executable logic behind every registered
// intent. Read handlers touch no state beyond the audit trail; mutate
// handlers assert the domain action catalog and re-read the live policy
// before their first write; notify handlers enqueue an event to the
// messaging collaborator and check neither.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AIDEN1973/SAAS-sub009/internal/dispatch"
	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
)

// rosterHandler lists the tenant's students, optionally by status.
func rosterHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		Status string `json:"status"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	students, err := ec.Domain.ListStudents(ctx, ec.TenantID, params.Status)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(students)
	if err != nil {
		return nil, fmt.Errorf("marshaling roster: %w", err)
	}
	return &dispatch.ExecutionResult{
		Status:  dispatch.StatusOK,
		Message: fmt.Sprintf("%d students", len(students)),
		Data:    data,
	}, nil
}

// profileHandler returns a single student record.
func profileHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		StudentID string `json:"student_id"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	student, err := ec.Domain.GetStudent(ctx, ec.TenantID, params.StudentID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(student)
	if err != nil {
		return nil, fmt.Errorf("marshaling student: %w", err)
	}
	return &dispatch.ExecutionResult{Status: dispatch.StatusOK, Data: data}, nil
}

// outstandingHandler lists issued (unpaid, unvoided) invoices, optionally
// for one student.
func outstandingHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		StudentID string `json:"student_id"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	invoices, err := ec.Domain.ListInvoices(ctx, ec.TenantID, domain.InvoiceIssued)
	if err != nil {
		return nil, err
	}
	if params.StudentID != "" {
		filtered := invoices[:0]
		for _, inv := range invoices {
			if inv.StudentID == params.StudentID {
				filtered = append(filtered, inv)
			}
		}
		invoices = filtered
	}

	data, err := json.Marshal(invoices)
	if err != nil {
		return nil, fmt.Errorf("marshaling invoices: %w", err)
	}
	return &dispatch.ExecutionResult{
		Status:  dispatch.StatusOK,
		Message: fmt.Sprintf("%d outstanding invoices", len(invoices)),
		Data:    data,
	}, nil
}
