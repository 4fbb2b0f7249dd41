package handlers

import (
	"context"
	"fmt"

	"github.com/AIDEN1973/SAAS-sub009/internal/catalog"
	"github.com/AIDEN1973/SAAS-sub009/internal/dispatch"
	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
)

// dischargeHandler marks a student discharged. The snapshot's student id is
// authoritative; if the student was removed between approval and execution
// the write affects zero rows and fails as stale, it never re-resolves.
func dischargeHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		StudentID string `json:"student_id"`
		Reason    string `json:"reason"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	if err := ec.AssertAction(catalog.ActionStudentDischarge); err != nil {
		return nil, err
	}
	if err := ec.CheckActionPolicy(ctx, catalog.ActionStudentDischarge); err != nil {
		return nil, err
	}

	affected, err := ec.Domain.SetStudentStatus(ctx, ec.TenantID, params.StudentID, domain.StudentDischarged)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: student %s", domain.ErrNotFound, params.StudentID)
	}

	return &dispatch.ExecutionResult{
		Status:        dispatch.StatusOK,
		Message:       fmt.Sprintf("student %s discharged", params.StudentID),
		AffectedCount: int(affected),
		SideEffects: []dispatch.SideEffect{
			{Type: "student_discharged", Ref: params.StudentID},
		},
	}, nil
}

// updateContactHandler replaces a student's contact details.
func updateContactHandler(ctx context.Context, p *plan.Plan, ec *dispatch.ExecContext) (*dispatch.ExecutionResult, error) {
	var params struct {
		StudentID string `json:"student_id"`
		Phone     string `json:"phone"`
		Email     string `json:"email"`
	}
	if err := p.Param(&params); err != nil {
		return nil, err
	}

	if err := ec.AssertAction(catalog.ActionStudentUpdateContact); err != nil {
		return nil, err
	}
	if err := ec.CheckActionPolicy(ctx, catalog.ActionStudentUpdateContact); err != nil {
		return nil, err
	}

	student, err := ec.Domain.GetStudent(ctx, ec.TenantID, params.StudentID)
	if err != nil {
		return nil, err
	}
	phone := params.Phone
	if phone == "" {
		phone = student.ContactPhone
	}
	email := params.Email
	if email == "" {
		email = student.ContactEmail
	}

	if _, _, err := ec.Domain.UpdateContact(ctx, ec.TenantID, params.StudentID, phone, email); err != nil {
		return nil, err
	}

	return &dispatch.ExecutionResult{
		Status:        dispatch.StatusOK,
		Message:       fmt.Sprintf("contact updated for student %s", params.StudentID),
		AffectedCount: 1,
		SideEffects: []dispatch.SideEffect{
			{Type: "contact_updated", Ref: params.StudentID},
		},
	}, nil
}
