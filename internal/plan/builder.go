package plan

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
)

//go:embed schemas/*.json
var embeddedSchemas embed.FS

// Builder validates classified input against per-intent parameter schemas
// and produces the immutable plan snapshot.
//
// The classifier is an adversarial-input source: nothing it emits is
// trusted until the key has resolved in the registry and the parameters
// have passed the schema and tenant-scoped referential checks here.
type Builder struct {
	schemas map[intent.Key]*jsonschema.Schema
	domain  *domain.Store
	policy  *policy.Store
	gate    *policy.Gate
	plans   *Store
}

// NewBuilder compiles the embedded parameter schemas and wires the stores
// the referential and early policy checks need.
func NewBuilder(domainStore *domain.Store, policyStore *policy.Store, gate *policy.Gate, plans *Store) (*Builder, error) {
	compiler := jsonschema.NewCompiler()

	entries, err := fs.ReadDir(embeddedSchemas, "schemas")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schemas: %w", err)
	}

	schemas := make(map[intent.Key]*jsonschema.Schema, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		content, err := embeddedSchemas.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", name, err)
		}
		url := "assist://schemas/" + name
		if err := compiler.AddResource(url, bytes.NewReader(content)); err != nil {
			return nil, fmt.Errorf("adding schema %s: %w", name, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, err)
		}
		key := intent.Key(strings.TrimSuffix(name, ".json"))
		schemas[key] = compiled
	}

	// Every registry entry must carry a schema; a missing file is a build
	// defect, caught here rather than at classification time.
	for _, key := range intent.Keys() {
		if _, ok := schemas[key]; !ok {
			return nil, fmt.Errorf("no parameter schema for intent %s", key)
		}
	}

	return &Builder{
		schemas: schemas,
		domain:  domainStore,
		policy:  policyStore,
		gate:    gate,
		plans:   plans,
	}, nil
}

// Build validates params for the given intent and produces a plan in the
// status its automation level implies. Level-0 plans stay in memory (draft,
// executed inline); level-1 plans persist as pending_approval; level-2
// plans persist as draft awaiting explicit confirmation.
//
// The policy gate runs here for mutate intents as an early fail-closed
// check. It runs again inside the handler at execution time; this call
// only shrinks the window, it does not replace the re-check.
func (b *Builder) Build(ctx context.Context, tenantID, createdBy string, key intent.Key, params json.RawMessage) (*Plan, error) {
	ctx, span := tracer.Start(ctx, "plan.build",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("intent_key", string(key)),
		))
	defer span.End()

	desc, err := intent.Resolve(key)
	if err != nil {
		return nil, err
	}

	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if err := b.validateParams(key, params); err != nil {
		return nil, err
	}
	if err := b.checkReferences(ctx, tenantID, desc, params); err != nil {
		return nil, err
	}

	if desc.Class == intent.ClassMutate {
		if err := b.gate.CheckAction(ctx, b.policy, tenantID, desc.ActionKey); err != nil {
			return nil, err
		}
	}

	status := StatusDraft
	if desc.Level == intent.LevelApproval {
		status = StatusPendingApproval
	}

	p := New(tenantID, createdBy, key, params, status)
	if desc.Level != intent.LevelReadOnly {
		if err := b.plans.Save(ctx, p); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(attribute.String("plan_id", p.ID), attribute.String("plan.status", string(p.Status)))
	return p, nil
}

func (b *Builder) validateParams(key intent.Key, params json.RawMessage) error {
	schema := b.schemas[key]
	if schema == nil {
		return fmt.Errorf("%w: no schema for intent %s", ErrValidation, key)
	}

	var decoded interface{}
	if err := json.Unmarshal(params, &decoded); err != nil {
		return fmt.Errorf("%w: malformed parameters: %v", ErrValidation, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// checkReferences verifies tenant-scoped referential existence for every
// entity id the parameters carry. A cross-tenant id fails identically to a
// missing one.
func (b *Builder) checkReferences(ctx context.Context, tenantID string, desc intent.Descriptor, params json.RawMessage) error {
	var refs struct {
		StudentID  string   `json:"student_id"`
		InvoiceID  string   `json:"invoice_id"`
		StudentIDs []string `json:"student_ids"`
	}
	if err := json.Unmarshal(params, &refs); err != nil {
		return fmt.Errorf("%w: malformed parameters: %v", ErrValidation, err)
	}

	if refs.StudentID != "" {
		if _, err := b.domain.GetStudent(ctx, tenantID, refs.StudentID); err != nil {
			return wrapNotFound(err)
		}
	}
	for _, id := range refs.StudentIDs {
		if _, err := b.domain.GetStudent(ctx, tenantID, id); err != nil {
			return wrapNotFound(err)
		}
	}
	if refs.InvoiceID != "" {
		if _, err := b.domain.GetInvoice(ctx, tenantID, refs.InvoiceID); err != nil {
			return wrapNotFound(err)
		}
	}
	return nil
}

func wrapNotFound(err error) error {
	return fmt.Errorf("%w: %v", ErrNotFound, err)
}
