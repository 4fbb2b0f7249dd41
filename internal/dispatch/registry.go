// Package dispatch executes approved and direct-execute plans through the
// handler registry, re-validating the action against the domain action
// catalog and the live tenant policy immediately before any write.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/AIDEN1973/SAAS-sub009/internal/catalog"
	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
	"github.com/AIDEN1973/SAAS-sub009/internal/messaging"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
)

// ResultStatus classifies an execution outcome.
type ResultStatus string

const (
	StatusOK              ResultStatus = "ok"
	StatusFailed          ResultStatus = "failed"
	StatusAlreadyExecuted ResultStatus = "already_executed"
)

// SideEffect records one external consequence of an execution.
type SideEffect struct {
	Type string `json:"type"` // e.g. "invoice_created", "event_sent"
	Ref  string `json:"ref"`
}

// ExecutionResult is what a handler reports back.
type ExecutionResult struct {
	Status        ResultStatus    `json:"status"`
	ErrorCode     string          `json:"error_code,omitempty"`
	Message       string          `json:"message,omitempty"`
	AffectedCount int             `json:"affected_count"`
	SideEffects   []SideEffect    `json:"side_effects,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"` // read-only handler payload
}

// ExecContext supplies a handler with tenant-scoped collaborators. Handlers
// never reach around it to global state.
type ExecContext struct {
	TenantID string
	Domain   *domain.Store
	Sender   messaging.Sender

	// PolicyLookup reads a live policy value (canonical-then-alias) for
	// the handler's tenant.
	PolicyLookup func(ctx context.Context, path string) (string, bool, error)

	// AssertAction fails with catalog.ErrCatalogViolation for any key
	// outside the closed set. Mutate handlers call this before the first
	// write, independent of upstream checks.
	AssertAction func(actionKey string) error

	// CheckActionPolicy re-reads the live policy for an action key and
	// fails with policy.ErrDisabled when it is not explicitly enabled.
	CheckActionPolicy func(ctx context.Context, actionKey string) error
}

// Handler executes one intent against a plan snapshot.
type Handler interface {
	Execute(ctx context.Context, p *plan.Plan, ec *ExecContext) (*ExecutionResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, p *plan.Plan, ec *ExecContext) (*ExecutionResult, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, p *plan.Plan, ec *ExecContext) (*ExecutionResult, error) {
	return f(ctx, p, ec)
}

// Registry maps intent keys to handlers. Thread-safe; built once at
// startup and verified against the intent registry offline.
type Registry struct {
	mu       sync.RWMutex
	handlers map[intent.Key]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[intent.Key]Handler)}
}

// Register adds a handler for an intent key.
func (r *Registry) Register(key intent.Key, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = h
}

// Get returns the handler for an intent key.
func (r *Registry) Get(key intent.Key) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[key]
	return h, ok
}

// Keys returns every registered intent key.
func (r *Registry) Keys() []intent.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]intent.Key, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}

// NewExecContext builds the context handlers run with.
func NewExecContext(tenantID string, domainStore *domain.Store, policyStore *policy.Store, gate *policy.Gate, sender messaging.Sender) *ExecContext {
	return &ExecContext{
		TenantID: tenantID,
		Domain:   domainStore,
		Sender:   sender,
		PolicyLookup: func(ctx context.Context, path string) (string, bool, error) {
			return policyStore.Get(ctx, tenantID, path)
		},
		AssertAction: catalog.AssertActionKey,
		CheckActionPolicy: func(ctx context.Context, actionKey string) error {
			return gate.CheckAction(ctx, policyStore, tenantID, actionKey)
		},
	}
}
