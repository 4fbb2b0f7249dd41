package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AIDEN1973/SAAS-sub009/internal/audit"
	"github.com/AIDEN1973/SAAS-sub009/internal/catalog"
	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
	"github.com/AIDEN1973/SAAS-sub009/internal/messaging"
	assistotel "github.com/AIDEN1973/SAAS-sub009/internal/otel"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
)

var tracer = assistotel.Tracer("github.com/AIDEN1973/SAAS-sub009/internal/dispatch")

// ErrHandlerNotFound means the handler registry is missing an entry the
// intent registry promises. The offline consistency sweep should make this
// unreachable; the dispatcher still refuses to assume so.
var ErrHandlerNotFound = errors.New("no handler registered for intent")

// Dispatcher looks up handlers and runs plans to completion, recording
// every outcome in the audit trail.
type Dispatcher struct {
	plans    *plan.Store
	registry *Registry
	policy   *policy.Store
	gate     *policy.Gate
	domain   *domain.Store
	sender   messaging.Sender
	audit    *audit.Store
}

// NewDispatcher wires the dispatcher's collaborators.
func NewDispatcher(plans *plan.Store, registry *Registry, policyStore *policy.Store, gate *policy.Gate, domainStore *domain.Store, sender messaging.Sender, auditStore *audit.Store) *Dispatcher {
	return &Dispatcher{
		plans:    plans,
		registry: registry,
		policy:   policyStore,
		gate:     gate,
		domain:   domainStore,
		sender:   sender,
		audit:    auditStore,
	}
}

// Execute runs a persisted, approved plan. The approved→executing
// transition is the compare-and-swap gate against double invocation: of two
// concurrent dispatches, exactly one claims the plan and the other gets a
// deterministic no-mutation outcome.
func (d *Dispatcher) Execute(ctx context.Context, tenantID, planID string) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "dispatch.execute",
		trace.WithAttributes(
			attribute.String("plan_id", planID),
			attribute.String("tenant_id", tenantID),
		))
	defer span.End()

	p, err := d.plans.Get(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}

	if err := d.plans.Transition(ctx, tenantID, planID, plan.StatusApproved, plan.StatusExecuting); err != nil {
		if !errors.Is(err, plan.ErrPlanNotInStatus) {
			return nil, err
		}
		current, getErr := d.plans.Get(ctx, tenantID, planID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == plan.StatusExecuted {
			result := &ExecutionResult{
				Status:  StatusAlreadyExecuted,
				Message: "plan already executed",
			}
			d.appendAudit(ctx, current, "already_executed", result)
			return result, nil
		}
		return nil, err
	}
	p.Status = plan.StatusExecuting

	result, err := d.invoke(ctx, p)
	if err != nil {
		code, defect := errorCode(err)
		result = &ExecutionResult{
			Status:    StatusFailed,
			ErrorCode: code,
			Message:   err.Error(),
		}
		if defect {
			log.Error().
				Str("plan_id", p.ID).
				Str("tenant_id", p.TenantID).
				Str("intent_key", string(p.IntentKey)).
				Str("error_code", code).
				Err(err).
				Func(assistotel.LogTraceFields(ctx)).
				Msg("dispatch_defect")
			span.SetStatus(codes.Error, err.Error())
		}
		if terr := d.plans.TransitionWithResult(ctx, tenantID, planID, plan.StatusExecuting, plan.StatusFailed, result); terr != nil {
			return result, terr
		}
		d.appendAudit(ctx, p, "failed", result)
		return result, err
	}

	// A handler can report failure in the result without returning an
	// error; a compensated saga does exactly that. The plan still lands on
	// failed and the audit trail says so.
	if result.Status == StatusFailed {
		log.Error().
			Str("plan_id", p.ID).
			Str("tenant_id", p.TenantID).
			Str("intent_key", string(p.IntentKey)).
			Str("error_code", result.ErrorCode).
			Str("message", result.Message).
			Func(assistotel.LogTraceFields(ctx)).
			Msg("plan_failed")
		if terr := d.plans.TransitionWithResult(ctx, tenantID, planID, plan.StatusExecuting, plan.StatusFailed, result); terr != nil {
			return result, terr
		}
		d.appendAudit(ctx, p, "failed", result)
		return result, nil
	}

	if terr := d.plans.TransitionWithResult(ctx, tenantID, planID, plan.StatusExecuting, plan.StatusExecuted, result); terr != nil {
		return result, terr
	}
	d.appendAudit(ctx, p, "executed", result)

	log.Info().
		Str("plan_id", p.ID).
		Str("tenant_id", p.TenantID).
		Str("intent_key", string(p.IntentKey)).
		Int("affected_count", result.AffectedCount).
		Func(assistotel.LogTraceFields(ctx)).
		Msg("plan_executed")
	return result, nil
}

// ExecuteInline runs a read-only plan that was never persisted. The only
// durable trace is the audit entry.
func (d *Dispatcher) ExecuteInline(ctx context.Context, p *plan.Plan) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "dispatch.execute_inline",
		trace.WithAttributes(
			attribute.String("plan_id", p.ID),
			attribute.String("intent_key", string(p.IntentKey)),
		))
	defer span.End()

	result, err := d.invoke(ctx, p)
	if err != nil {
		code, _ := errorCode(err)
		result = &ExecutionResult{Status: StatusFailed, ErrorCode: code, Message: err.Error()}
		d.appendAudit(ctx, p, "failed", result)
		return result, err
	}
	if result.Status == StatusFailed {
		d.appendAudit(ctx, p, "failed", result)
		return result, nil
	}
	d.appendAudit(ctx, p, "read", result)
	return result, nil
}

func (d *Dispatcher) invoke(ctx context.Context, p *plan.Plan) (*ExecutionResult, error) {
	if _, err := intent.Resolve(p.IntentKey); err != nil {
		return nil, err
	}

	handler, ok := d.registry.Get(p.IntentKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, p.IntentKey)
	}

	ec := NewExecContext(p.TenantID, d.domain, d.policy, d.gate, d.sender)
	result, err := handler.Execute(ctx, p, ec)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("handler for %s returned no result", p.IntentKey)
	}
	return result, nil
}

// RecordResolution audits a non-execution plan outcome (rejected card,
// expired card).
func (d *Dispatcher) RecordResolution(ctx context.Context, p *plan.Plan, outcome, actorID string) {
	entry := &audit.Entry{
		PlanID:    p.ID,
		TenantID:  p.TenantID,
		IntentKey: string(p.IntentKey),
		Outcome:   outcome,
		ActorID:   actorID,
	}
	if err := d.audit.Append(ctx, entry); err != nil {
		log.Error().Err(err).Str("plan_id", p.ID).Msg("audit_append_failed")
	}
}

func (d *Dispatcher) appendAudit(ctx context.Context, p *plan.Plan, outcome string, result *ExecutionResult) {
	sideEffects, _ := json.Marshal(result.SideEffects)
	entry := &audit.Entry{
		PlanID:        p.ID,
		TenantID:      p.TenantID,
		IntentKey:     string(p.IntentKey),
		Outcome:       outcome,
		ErrorCode:     result.ErrorCode,
		Message:       result.Message,
		AffectedCount: result.AffectedCount,
		SideEffects:   sideEffects,
	}
	if err := d.audit.Append(ctx, entry); err != nil {
		log.Error().Err(err).Str("plan_id", p.ID).Msg("audit_append_failed")
	}
}

// errorCode maps a handler or lookup error to the result taxonomy. defect
// marks internal contract violations that get high-severity logging.
func errorCode(err error) (code string, defect bool) {
	switch {
	case errors.Is(err, catalog.ErrCatalogViolation):
		return "catalog_violation", true
	case errors.Is(err, ErrHandlerNotFound):
		return "handler_not_found", true
	case errors.Is(err, policy.ErrDisabled):
		return "policy_disabled", false
	case errors.Is(err, domain.ErrNotFound):
		return "not_found", false
	case errors.Is(err, intent.ErrUnknownIntent):
		return "unknown_intent", false
	default:
		return "execution_error", false
	}
}
