// Package plan implements the immutable snapshot between proposal and
// execution. A plan's parameters are captured once, at build time, after
// schema and referential validation; execution reads only this snapshot,
// never a fresh request body. That is the anti-tampering contract the rest
// of the engine hangs off.
package plan

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
)

var (
	// ErrValidation covers malformed or schema-violating parameters.
	ErrValidation = errors.New("parameter validation failed")
	// ErrNotFound covers a referenced entity that is missing or belongs to
	// another tenant.
	ErrNotFound = errors.New("referenced entity not found")
	// ErrPlanNotFound is returned when a plan id does not resolve.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanNotInStatus is returned when a conditional transition finds the
	// plan in a different status than required. Concurrent double-approval
	// and double-execution surface here instead of racing.
	ErrPlanNotInStatus = errors.New("plan is not in the required status")
)

// Status is the lifecycle state of a plan.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	// StatusExecuting is the transient claim a dispatcher takes before
	// invoking a handler, so two dispatchers cannot both mutate.
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Plan is the immutable snapshot of a classified, validated request.
type Plan struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	IntentKey intent.Key      `json:"intent_key"`
	Params    json.RawMessage `json:"params"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	CreatedBy string          `json:"created_by"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// New creates a plan snapshot in the given status.
func New(tenantID, createdBy string, key intent.Key, params json.RawMessage, status Status) *Plan {
	return &Plan{
		ID:        "plan_" + uuid.New().String()[:12],
		TenantID:  tenantID,
		IntentKey: key,
		Params:    params,
		Status:    status,
		CreatedAt: time.Now().UTC(),
		CreatedBy: createdBy,
	}
}

// Param unmarshals the snapshot's parameters into dst.
func (p *Plan) Param(dst interface{}) error {
	if err := json.Unmarshal(p.Params, dst); err != nil {
		return errors.Join(ErrValidation, err)
	}
	return nil
}
