// Package engine ties the pipeline together: mask, rate-limit, classify,
// plan, then route by automation level. It owns no storage of its own; all
// durable state lives in the plan, taskcard, and audit stores.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AIDEN1973/SAAS-sub009/internal/classifier"
	"github.com/AIDEN1973/SAAS-sub009/internal/dispatch"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
	assistotel "github.com/AIDEN1973/SAAS-sub009/internal/otel"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
	"github.com/AIDEN1973/SAAS-sub009/internal/ratelimit"
	"github.com/AIDEN1973/SAAS-sub009/internal/taskcard"
)

var tracer = assistotel.Tracer("github.com/AIDEN1973/SAAS-sub009/internal/engine")

// ErrUnclassified means neither classifier produced a confident intent.
var ErrUnclassified = errors.New("message could not be classified")

// Outcome is what a message turned into. Exactly one of the routing kinds
// applies; the fields beyond Kind are populated per kind.
type Outcome struct {
	// Kind is one of "result", "task_card", "confirmation_required".
	Kind string `json:"kind"`

	IntentKey string `json:"intent_key"`
	PlanID    string `json:"plan_id,omitempty"`

	// Result carries the inline execution result for level-0 intents and
	// for confirmed level-2 intents.
	Result *dispatch.ExecutionResult `json:"result,omitempty"`

	// CardID references the approval card for level-1 intents.
	CardID string `json:"card_id,omitempty"`

	// Challenge is the human-readable confirmation prompt for an
	// unconfirmed level-2 intent.
	Challenge string `json:"challenge,omitempty"`
}

// Engine orchestrates the message pipeline.
type Engine struct {
	masker     *classifier.Masker
	limiter    *ratelimit.Limiter
	primary    classifier.Classifier
	fallback   classifier.Classifier
	builder    *plan.Builder
	plans      *plan.Store
	cards      *taskcard.Store
	dispatcher *dispatch.Dispatcher

	minConfidence float64
	retry         ratelimit.RetryConfig
}

// recentIntentWindow is how many prior plans feed the classifier's
// plan-history context.
const recentIntentWindow = 5

// New assembles the engine. primary may be nil, in which case only the
// keyword fallback runs.
func New(limiter *ratelimit.Limiter, primary classifier.Classifier, builder *plan.Builder, plans *plan.Store, cards *taskcard.Store, dispatcher *dispatch.Dispatcher) *Engine {
	return &Engine{
		masker:        classifier.NewMasker(),
		limiter:       limiter,
		primary:       primary,
		fallback:      classifier.KeywordResolver{},
		builder:       builder,
		plans:         plans,
		cards:         cards,
		dispatcher:    dispatcher,
		minConfidence: classifier.DefaultMinConfidence,
		retry: ratelimit.RetryConfig{
			Attempts: 3,
			Base:     200 * time.Millisecond,
			Cap:      2 * time.Second,
		},
	}
}

// HandleMessage runs one user message through the pipeline. confirm applies
// only to level-2 intents: false returns a confirmation challenge with the
// plan held in draft, true executes directly.
func (e *Engine) HandleMessage(ctx context.Context, tenantID, actorID, message string, confirm bool) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "engine.handle_message",
		trace.WithAttributes(attribute.String("tenant_id", tenantID)))
	defer span.End()

	// A full bucket surfaces only after the bounded retry gives up.
	if err := ratelimit.Retry(ctx, e.retry, func() error {
		return e.limiter.Acquire(ctx, tenantID)
	}); err != nil {
		return nil, err
	}

	masked := e.masker.Mask(ctx, message)
	result, err := e.classify(ctx, tenantID, masked)
	if err != nil {
		return nil, err
	}

	key := intent.Key(result.IntentKey)
	desc, err := intent.Resolve(key)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("intent_key", string(key)))

	p, err := e.builder.Build(ctx, tenantID, actorID, key, result.Params)
	if err != nil {
		return nil, err
	}

	switch desc.Level {
	case intent.LevelReadOnly:
		res, err := e.dispatcher.ExecuteInline(ctx, p)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: "result", IntentKey: string(key), PlanID: p.ID, Result: res}, nil

	case intent.LevelApproval:
		title, summary := renderCard(desc, p)
		card, err := e.cards.Create(ctx, tenantID, p.ID, title, summary)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("tenant_id", tenantID).
			Str("plan_id", p.ID).
			Str("card_id", card.ID).
			Str("intent_key", string(key)).
			Func(assistotel.LogTraceFields(ctx)).
			Msg("taskcard_created")
		return &Outcome{Kind: "task_card", IntentKey: string(key), PlanID: p.ID, CardID: card.ID}, nil

	default: // intent.LevelDirect
		if !confirm {
			_, challenge := renderCard(desc, p)
			return &Outcome{
				Kind:      "confirmation_required",
				IntentKey: string(key),
				PlanID:    p.ID,
				Challenge: challenge,
			}, nil
		}
		res, err := e.executeDraft(ctx, tenantID, p.ID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: "result", IntentKey: string(key), PlanID: p.ID, Result: res}, nil
	}
}

// ConfirmPlan executes a level-2 plan left in draft by an earlier
// unconfirmed message. The draft→approved transition is a compare-and-swap,
// so a plan can be confirmed at most once.
func (e *Engine) ConfirmPlan(ctx context.Context, tenantID, planID string) (*dispatch.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "engine.confirm_plan",
		trace.WithAttributes(attribute.String("plan_id", planID)))
	defer span.End()

	p, err := e.plans.Get(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}
	desc, err := intent.Resolve(p.IntentKey)
	if err != nil {
		return nil, err
	}
	if desc.Level != intent.LevelDirect {
		return nil, fmt.Errorf("%w: plan %s is not awaiting confirmation", plan.ErrValidation, planID)
	}
	return e.executeDraft(ctx, tenantID, planID)
}

func (e *Engine) executeDraft(ctx context.Context, tenantID, planID string) (*dispatch.ExecutionResult, error) {
	if err := e.plans.Transition(ctx, tenantID, planID, plan.StatusDraft, plan.StatusApproved); err != nil {
		return nil, err
	}
	return e.dispatcher.Execute(ctx, tenantID, planID)
}

// ResolveApproval settles a task card. Approval moves the plan to approved
// and dispatches it; rejection closes the plan with an audit entry. Both
// sides are compare-and-swaps, so concurrent reviewers cannot double-settle.
func (e *Engine) ResolveApproval(ctx context.Context, tenantID, cardID string, approve bool, reviewer string) (*dispatch.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "engine.resolve_approval",
		trace.WithAttributes(
			attribute.String("card_id", cardID),
			attribute.Bool("approve", approve),
		))
	defer span.End()

	card, err := e.cards.Get(ctx, tenantID, cardID)
	if err != nil {
		return nil, err
	}

	resolution := taskcard.ResolutionRejected
	if approve {
		resolution = taskcard.ResolutionApproved
	}
	if err := e.cards.Resolve(ctx, tenantID, cardID, resolution, reviewer); err != nil {
		return nil, err
	}

	if !approve {
		if err := e.plans.Transition(ctx, tenantID, card.PlanID, plan.StatusPendingApproval, plan.StatusRejected); err != nil {
			return nil, err
		}
		p, err := e.plans.Get(ctx, tenantID, card.PlanID)
		if err != nil {
			return nil, err
		}
		e.dispatcher.RecordResolution(ctx, p, "rejected", reviewer)
		return nil, nil
	}

	if err := e.plans.Transition(ctx, tenantID, card.PlanID, plan.StatusPendingApproval, plan.StatusApproved); err != nil {
		return nil, err
	}

	p, err := e.plans.Get(ctx, tenantID, card.PlanID)
	if err != nil {
		return nil, err
	}
	desc, err := intent.Resolve(p.IntentKey)
	if err != nil {
		return nil, err
	}
	// Cards without an execution class are human to-dos; approval is the
	// terminal automated step and nothing is dispatched.
	if desc.Class == intent.ClassNone {
		e.dispatcher.RecordResolution(ctx, p, "approved", reviewer)
		return nil, nil
	}
	return e.dispatcher.Execute(ctx, tenantID, card.PlanID)
}

// ExpireStale closes approval cards older than horizon and fails their
// plans. Run from the cron sweeper.
func (e *Engine) ExpireStale(ctx context.Context, horizon time.Duration) (int, error) {
	refs, err := e.cards.ExpireStale(ctx, horizon)
	if err != nil {
		return 0, err
	}
	for _, ref := range refs {
		if err := e.plans.Transition(ctx, ref.TenantID, ref.PlanID, plan.StatusPendingApproval, plan.StatusRejected); err != nil {
			log.Error().Err(err).Str("plan_id", ref.PlanID).Msg("expire_plan_transition_failed")
			continue
		}
		p, err := e.plans.Get(ctx, ref.TenantID, ref.PlanID)
		if err != nil {
			log.Error().Err(err).Str("plan_id", ref.PlanID).Msg("expire_plan_load_failed")
			continue
		}
		e.dispatcher.RecordResolution(ctx, p, "expired", "system")
	}
	return len(refs), nil
}

// classify runs the primary classifier and falls back to keyword matching
// when the primary is absent, errors, or is below the confidence floor. The
// fallback's miss is the pipeline's terminal unclassified state.
func (e *Engine) classify(ctx context.Context, tenantID, masked string) (*classifier.Result, error) {
	req := &classifier.Request{Message: masked, TenantContext: tenantID}
	if recent, err := e.plans.RecentIntentKeys(ctx, tenantID, recentIntentWindow); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("recent_intents_unavailable")
	} else {
		req.RecentIntents = recent
	}

	if e.primary != nil {
		// API failures are transient; the keyword fallback takes over only
		// after the bounded retry is exhausted.
		var result *classifier.Result
		err := ratelimit.Retry(ctx, e.retry, func() error {
			r, cerr := e.primary.Classify(ctx, req)
			if cerr != nil {
				return ratelimit.Transient(cerr)
			}
			result = r
			return nil
		})
		if err != nil {
			log.Warn().
				Err(err).
				Str("tenant_id", tenantID).
				Func(assistotel.LogTraceFields(ctx)).
				Msg("classifier_fallback")
		} else if result.Confidence >= e.minConfidence {
			if _, rerr := intent.Resolve(intent.Key(result.IntentKey)); rerr == nil {
				return result, nil
			}
			log.Warn().
				Str("tenant_id", tenantID).
				Str("intent_key", result.IntentKey).
				Msg("classifier_unknown_intent")
		}
	}

	result, err := e.fallback.Classify(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.IntentKey == "" {
		return nil, ErrUnclassified
	}
	return result, nil
}

// renderCard produces the title and summary stored on an approval card.
// Rendering happens once at creation; the card never re-reads the plan.
func renderCard(desc intent.Descriptor, p *plan.Plan) (title, summary string) {
	var params map[string]interface{}
	_ = json.Unmarshal(p.Params, &params)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Requested action: %s.", desc.Key)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v.", k, params[k])
	}
	if desc.ActionKey != "" {
		fmt.Fprintf(&sb, " Executes %s on approval.", desc.ActionKey)
	} else {
		sb.WriteString(" Manual follow-up, no automated execution.")
	}
	return "Approve: " + string(desc.Key), sb.String()
}
