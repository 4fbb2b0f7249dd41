package policy

import (
	"context"
	"embed"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed rego/*.rego
var embeddedPolicies embed.FS

const (
	automationPolicyFile  = "rego/automation.rego"
	automationPolicyQuery = "data.assist.automation.allow"
)

// Gate evaluates the fail-closed automation policy over a tenant's settings
// tree. The Rego module is compiled once at startup; the settings are input
// per evaluation, never loaded as OPA data, so every check sees the tree the
// caller just fetched.
type Gate struct {
	prepared rego.PreparedEvalQuery
}

// NewGate compiles the embedded automation policy.
func NewGate(ctx context.Context) (*Gate, error) {
	ctx, span := tracer.Start(ctx, "policy.gate.new")
	defer span.End()

	content, err := embeddedPolicies.ReadFile(automationPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("reading embedded policy %s: %w", automationPolicyFile, err)
	}

	prepared, err := rego.New(
		rego.Query(automationPolicyQuery),
		rego.Module(automationPolicyFile, string(content)),
	).PrepareForEval(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("preparing automation policy: %w", err)
	}

	return &Gate{prepared: prepared}, nil
}

// ActionEnabled reports whether actionKey is enabled in the given settings
// tree. A missing entry denies; only an explicit "true" at the canonical
// path (or at the deprecated alias when the canonical path is absent)
// allows.
func (g *Gate) ActionEnabled(ctx context.Context, settings map[string]string, actionKey string) (bool, error) {
	ctx, span := tracer.Start(ctx, "policy.gate.action_enabled",
		trace.WithAttributes(attribute.String("action_key", actionKey)))
	defer span.End()

	input := map[string]interface{}{
		"action_key": actionKey,
		"settings":   settings,
	}
	if alias, ok := aliases[ActionPath(actionKey)]; ok {
		input["legacy_path"] = alias
	}

	results, err := g.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("evaluating automation policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := results[0].Expressions[0].Value.(bool)

	span.SetAttributes(attribute.Bool("policy.allowed", allowed))
	return allowed, nil
}

// CheckAction fetches the tenant's settings fresh from the store and runs
// the gate, returning ErrDisabled when the action is not enabled. This is
// the single entry point both the plan builder (early check) and mutate
// handlers (execution-time re-check) go through.
func (g *Gate) CheckAction(ctx context.Context, store *Store, tenantID, actionKey string) error {
	settings, err := store.TenantSettings(ctx, tenantID)
	if err != nil {
		return err
	}
	allowed, err := g.ActionEnabled(ctx, settings, actionKey)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: %s not enabled for tenant %s", ErrDisabled, ActionPath(actionKey), tenantID)
	}
	return nil
}
