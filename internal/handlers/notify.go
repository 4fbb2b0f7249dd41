package handlers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/AIDEN1973/SAAS-sub009/internal/dispatch"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
	"github.com/AIDEN1973/SAAS-sub009/internal/messaging"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
)

// paymentReminderHandler emits a payment reminder event for an outstanding
// invoice. Delivery is best-effort at the provider boundary; a send error
// fails the plan so the operator sees it in the audit trail.
func paymentReminderHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		InvoiceID string `json:"invoice_id"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	inv, err := ec.Domain.GetInvoice(ctx, ec.TenantID, params.InvoiceID)
	if err != nil {
		return nil, err
	}
	st, err := ec.Domain.GetStudent(ctx, ec.TenantID, inv.StudentID)
	if err != nil {
		return nil, err
	}

	recipient := st.ContactEmail
	if recipient == "" {
		recipient = st.ContactPhone
	}
	if recipient == "" {
		return nil, fmt.Errorf("student %s has no contact details on file", st.ID)
	}

	desc, err := intent.Resolve(p.IntentKey)
	if err != nil {
		return nil, err
	}

	ev := &messaging.Event{
		EventType: desc.EventType,
		TenantID:  ec.TenantID,
		Recipient: recipient,
		Variables: map[string]string{
			"student_name": st.Name,
			"period":       inv.Period,
			"amount":       strconv.FormatFloat(inv.Amount, 'f', 2, 64),
			"invoice_id":   inv.ID,
		},
	}
	if err := ec.Sender.Send(ctx, ev); err != nil {
		return nil, err
	}

	return &dispatch.ExecutionResult{
		Status:        dispatch.StatusOK,
		Message:       fmt.Sprintf("payment reminder sent for invoice %s", inv.ID),
		AffectedCount: 1,
		SideEffects: []dispatch.SideEffect{
			{Type: "event_sent", Ref: desc.EventType},
		},
	}, nil
}

// absenceNoticeHandler emits an absence notice. The event type depends on
// the notice's purpose, looked up from the intent descriptor's purpose map.
func absenceNoticeHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		StudentID string `json:"student_id"`
		Purpose   string `json:"purpose"`
		Date      string `json:"date"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	desc, err := intent.Resolve(p.IntentKey)
	if err != nil {
		return nil, err
	}
	eventType, ok := desc.EventTypes[params.Purpose]
	if !ok {
		return nil, fmt.Errorf("no event type for purpose %q", params.Purpose)
	}

	st, err := ec.Domain.GetStudent(ctx, ec.TenantID, params.StudentID)
	if err != nil {
		return nil, err
	}

	recipient := st.ContactEmail
	if recipient == "" {
		recipient = st.ContactPhone
	}
	if recipient == "" {
		return nil, fmt.Errorf("student %s has no contact details on file", st.ID)
	}

	ev := &messaging.Event{
		EventType: eventType,
		TenantID:  ec.TenantID,
		Recipient: recipient,
		Variables: map[string]string{
			"student_name": st.Name,
			"date":         params.Date,
		},
	}
	if err := ec.Sender.Send(ctx, ev); err != nil {
		return nil, err
	}

	return &dispatch.ExecutionResult{
		Status:        dispatch.StatusOK,
		Message:       fmt.Sprintf("absence notice (%s) sent for student %s", params.Purpose, st.ID),
		AffectedCount: 1,
		SideEffects: []dispatch.SideEffect{
			{Type: "event_sent", Ref: eventType},
		},
	}, nil
}
