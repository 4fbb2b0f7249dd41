// Package classifier turns a user message into a recognized intent key plus
// raw parameters. The model-backed implementation is an external,
// adversarial-input collaborator: the engine consumes only its intent key
// and parameters, and both are re-validated against the intent registry and
// parameter schemas before any trust is extended. Low-confidence or
// malformed output falls back to the deterministic keyword resolver.
package classifier

import (
	"context"
	"encoding/json"

	assistotel "github.com/AIDEN1973/SAAS-sub009/internal/otel"
)

var tracer = assistotel.Tracer("github.com/AIDEN1973/SAAS-sub009/internal/classifier")

// DefaultMinConfidence is the threshold below which a model classification
// is discarded in favor of the keyword fallback.
const DefaultMinConfidence = 0.6

// Request is what crosses the boundary to the classifier. Message must
// already be PII-masked by the caller.
type Request struct {
	Message string `json:"message"`
	// TenantContext is a short free-text description of the tenant (school
	// name, locale) that helps disambiguation. Never contains PII.
	TenantContext string `json:"tenant_context,omitempty"`
	// RecentIntents lists the intent keys of the tenant's recent plans,
	// newest first.
	RecentIntents []string `json:"recent_intents,omitempty"`
}

// Result is the classifier's untrusted output.
type Result struct {
	IntentKey  string          `json:"intent_key"`
	Params     json.RawMessage `json:"params"`
	Confidence float64         `json:"confidence"`
}

// Classifier proposes an intent for a message.
type Classifier interface {
	Classify(ctx context.Context, req *Request) (*Result, error)
}
