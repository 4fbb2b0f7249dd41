package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/AIDEN1973/SAAS-sub009/internal/catalog"
	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/engine"
	"github.com/AIDEN1973/SAAS-sub009/internal/intent"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
	"github.com/AIDEN1973/SAAS-sub009/internal/ratelimit"
	"github.com/AIDEN1973/SAAS-sub009/internal/requestctx"
	"github.com/AIDEN1973/SAAS-sub009/internal/taskcard"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeEngineError maps pipeline errors to HTTP statuses. Unmatched errors
// are internal.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", err.Error())
	case errors.Is(err, engine.ErrUnclassified), errors.Is(err, intent.ErrUnknownIntent):
		writeError(w, http.StatusUnprocessableEntity, "unclassified", err.Error())
	case errors.Is(err, plan.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
	case errors.Is(err, plan.ErrNotFound), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, plan.ErrPlanNotFound):
		writeError(w, http.StatusNotFound, "plan_not_found", err.Error())
	case errors.Is(err, plan.ErrPlanNotInStatus):
		writeError(w, http.StatusConflict, "plan_conflict", err.Error())
	case errors.Is(err, taskcard.ErrCardNotFound):
		writeError(w, http.StatusNotFound, "card_not_found", err.Error())
	case errors.Is(err, taskcard.ErrCardResolved):
		writeError(w, http.StatusConflict, "card_resolved", err.Error())
	case errors.Is(err, policy.ErrDisabled):
		writeError(w, http.StatusForbidden, "policy_disabled", err.Error())
	case errors.Is(err, catalog.ErrCatalogViolation):
		writeError(w, http.StatusInternalServerError, "catalog_violation", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type messageRequest struct {
	Message string `json:"message"`
	Confirm bool   `json:"confirm"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}
	tenantID := requestctx.TenantID(r.Context())
	actorID := requestctx.ActorID(r.Context())
	if actorID == "" {
		actorID = "api"
	}

	outcome, err := s.engine.HandleMessage(r.Context(), tenantID, actorID, req.Message, req.Confirm)
	if err != nil {
		log.Error().
			Err(err).
			Str("tenant_id", tenantID).
			Msg("message_pipeline_error")
		writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if outcome.Kind == "task_card" || outcome.Kind == "confirmation_required" {
		status = http.StatusAccepted
	}
	writeJSON(w, status, outcome)
}

func (s *Server) handlePlanGet(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	p, err := s.plans.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePlanConfirm(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	result, err := s.engine.ConfirmPlan(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTaskCardsList(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	cards, err := s.cards.ListPending(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"taskcards": cards,
		"count":     len(cards),
	})
}

func (s *Server) handleTaskCardGet(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	card, err := s.cards.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleTaskCardApprove(w http.ResponseWriter, r *http.Request) {
	s.resolveTaskCard(w, r, true)
}

func (s *Server) handleTaskCardReject(w http.ResponseWriter, r *http.Request) {
	s.resolveTaskCard(w, r, false)
}

func (s *Server) resolveTaskCard(w http.ResponseWriter, r *http.Request, approve bool) {
	tenantID := requestctx.TenantID(r.Context())
	reviewer := requestctx.ActorID(r.Context())
	if reviewer == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "X-Assist-Actor header is required for review decisions")
		return
	}

	result, err := s.engine.ResolveApproval(r.Context(), tenantID, chi.URLParam(r, "id"), approve, reviewer)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !approve {
		writeJSON(w, http.StatusOK, map[string]string{"resolution": "rejected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resolution": "approved",
		"result":     result,
	})
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())

	from := time.Time{}
	to := time.Now().UTC().Add(time.Minute)
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return
		}
		to = t
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be 1-1000")
			return
		}
		limit = n
	}

	entries, err := s.auditStore.List(r.Context(), tenantID, from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleAuditByPlan(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	entries, err := s.auditStore.ByPlan(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	path := chi.URLParam(r, "path")
	value, found, err := s.policyStore.Get(r.Context(), tenantID, path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "no setting at path "+path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path, "value": value})
}

type policySetRequest struct {
	Value string `json:"value"`
}

func (s *Server) handlePolicySet(w http.ResponseWriter, r *http.Request) {
	tenantID := requestctx.TenantID(r.Context())
	path := chi.URLParam(r, "path")

	var req policySetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if err := s.policyStore.Set(r.Context(), tenantID, path, req.Value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path, "value": req.Value})
}
