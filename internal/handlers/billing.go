package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AIDEN1973/SAAS-sub009/internal/catalog"
	"github.com/AIDEN1973/SAAS-sub009/internal/dispatch"
	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
)

// issueInvoicesHandler creates one invoice per student for a billing
// period. The store has no multi-object transaction, so the writes run as a
// saga: each created invoice pairs with a delete compensation, and a
// mid-sequence failure rolls back what completed and reports per-step
// compensation outcomes.
func issueInvoicesHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		Period     string   `json:"period"`
		StudentIDs []string `json:"student_ids"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	if err := ec.AssertAction(catalog.ActionBillingIssueInvoices); err != nil {
		return nil, err
	}
	if err := ec.CheckActionPolicy(ctx, catalog.ActionBillingIssueInvoices); err != nil {
		return nil, err
	}

	targets, err := resolveBillingTargets(ctx, ec, params.StudentIDs, params.Period)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return &dispatch.ExecutionResult{
			Status:  dispatch.StatusOK,
			Message: fmt.Sprintf("no uninvoiced students for period %s", params.Period),
		}, nil
	}

	var created []string
	var sideEffects []dispatch.SideEffect
	steps := make([]dispatch.SagaStep, 0, len(targets))
	for _, student := range targets {
		student := student
		inv := &domain.Invoice{
			TenantID:  ec.TenantID,
			StudentID: student.ID,
			Period:    params.Period,
			Amount:    student.MonthlyFee,
		}
		steps = append(steps, dispatch.SagaStep{
			Name: "invoice:" + student.ID,
			Run: func(ctx context.Context) error {
				if err := ec.Domain.CreateInvoice(ctx, inv); err != nil {
					return err
				}
				created = append(created, inv.ID)
				sideEffects = append(sideEffects, dispatch.SideEffect{Type: "invoice_created", Ref: inv.ID})
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return ec.Domain.DeleteInvoice(ctx, ec.TenantID, inv.ID)
			},
		})
	}

	outcome := dispatch.RunSaga(ctx, steps)
	if !outcome.OK() {
		outcomeJSON, _ := json.Marshal(outcome)
		status := dispatch.StatusFailed
		msg := fmt.Sprintf("invoice run failed at %s; %d completed steps compensated", outcome.FailedStep, len(outcome.Compensations))
		if outcome.Irreconcilable {
			msg = fmt.Sprintf("invoice run failed at %s; compensation incomplete, manual reconciliation required", outcome.FailedStep)
		}
		return &dispatch.ExecutionResult{
			Status:    status,
			ErrorCode: "execution_error",
			Message:   msg,
			Data:      outcomeJSON,
		}, nil
	}

	return &dispatch.ExecutionResult{
		Status:        dispatch.StatusOK,
		Message:       fmt.Sprintf("issued %d invoices for period %s", len(created), params.Period),
		AffectedCount: len(created),
		SideEffects:   sideEffects,
	}, nil
}

// resolveBillingTargets returns the students to invoice: the explicit list
// when given, otherwise every active student, minus those already invoiced
// for the period.
func resolveBillingTargets(ctx context.Context, ec *dispatch.ExecContext, studentIDs []string, period string) ([]domain.Student, error) {
	var students []domain.Student
	if len(studentIDs) > 0 {
		for _, id := range studentIDs {
			st, err := ec.Domain.GetStudent(ctx, ec.TenantID, id)
			if err != nil {
				return nil, err
			}
			students = append(students, *st)
		}
	} else {
		var err error
		students, err = ec.Domain.ListStudents(ctx, ec.TenantID, domain.StudentActive)
		if err != nil {
			return nil, err
		}
	}

	invoiced := map[string]bool{}
	existing, err := ec.Domain.ListInvoices(ctx, ec.TenantID, "")
	if err != nil {
		return nil, err
	}
	for _, inv := range existing {
		if inv.Period == period && inv.Status != domain.InvoiceVoid {
			invoiced[inv.StudentID] = true
		}
	}

	targets := students[:0]
	for _, st := range students {
		if !invoiced[st.ID] {
			targets = append(targets, st)
		}
	}
	return targets, nil
}

// voidInvoiceHandler voids an issued invoice. The issued→void transition is
// a compare-and-swap in the store; a paid or already-void invoice fails
// rather than being silently re-voided.
func voidInvoiceHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		InvoiceID string `json:"invoice_id"`
		Reason    string `json:"reason"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	if err := ec.AssertAction(catalog.ActionBillingVoidInvoice); err != nil {
		return nil, err
	}
	if err := ec.CheckActionPolicy(ctx, catalog.ActionBillingVoidInvoice); err != nil {
		return nil, err
	}

	affected, err := ec.Domain.SetInvoiceStatus(ctx, ec.TenantID, params.InvoiceID, domain.InvoiceIssued, domain.InvoiceVoid)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		inv, getErr := ec.Domain.GetInvoice(ctx, ec.TenantID, params.InvoiceID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("invoice %s is %s, not issued", params.InvoiceID, inv.Status)
	}

	return &dispatch.ExecutionResult{
		Status:        dispatch.StatusOK,
		Message:       fmt.Sprintf("invoice %s voided: %s", params.InvoiceID, params.Reason),
		AffectedCount: int(affected),
		SideEffects: []dispatch.SideEffect{
			{Type: "invoice_voided", Ref: params.InvoiceID},
		},
	}, nil
}

// recordPaymentHandler marks an issued invoice as paid. Same
// compare-and-swap as void: a voided or already-paid invoice fails instead
// of being double-settled.
func recordPaymentHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		InvoiceID string `json:"invoice_id"`
		Reference string `json:"reference"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	if err := ec.AssertAction(catalog.ActionBillingRecordPayment); err != nil {
		return nil, err
	}
	if err := ec.CheckActionPolicy(ctx, catalog.ActionBillingRecordPayment); err != nil {
		return nil, err
	}

	affected, err := ec.Domain.SetInvoiceStatus(ctx, ec.TenantID, params.InvoiceID, domain.InvoiceIssued, domain.InvoicePaid)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		inv, getErr := ec.Domain.GetInvoice(ctx, ec.TenantID, params.InvoiceID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("invoice %s is %s, not issued", params.InvoiceID, inv.Status)
	}

	msg := fmt.Sprintf("invoice %s marked paid", params.InvoiceID)
	if params.Reference != "" {
		msg = fmt.Sprintf("invoice %s marked paid (ref %s)", params.InvoiceID, params.Reference)
	}
	return &dispatch.ExecutionResult{
		Status:        dispatch.StatusOK,
		Message:       msg,
		AffectedCount: int(affected),
		SideEffects: []dispatch.SideEffect{
			{Type: "invoice_paid", Ref: params.InvoiceID},
		},
	}, nil
}
