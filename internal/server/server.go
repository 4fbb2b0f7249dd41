package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AIDEN1973/SAAS-sub009/internal/audit"
	"github.com/AIDEN1973/SAAS-sub009/internal/engine"
	assistotel "github.com/AIDEN1973/SAAS-sub009/internal/otel"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
	"github.com/AIDEN1973/SAAS-sub009/internal/taskcard"
)

const defaultTimeout = 60 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router      *chi.Mux
	engine      *engine.Engine
	plans       *plan.Store
	cards       *taskcard.Store
	auditStore  *audit.Store
	policyStore *policy.Store
	apiKeys     map[string]string
	startTime   time.Time
}

// NewServer builds a Server with the required dependencies.
func NewServer(
	eng *engine.Engine,
	plans *plan.Store,
	cards *taskcard.Store,
	auditStore *audit.Store,
	policyStore *policy.Store,
	apiKeys map[string]string,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		engine:      eng,
		plans:       plans,
		cards:       cards,
		auditStore:  auditStore,
		policyStore: policyStore,
		apiKeys:     apiKeys,
		startTime:   time.Now(),
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(assistotel.Middleware())

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/messages", s.handleMessage)

		r.Get("/v1/plans/{id}", s.handlePlanGet)
		r.Post("/v1/plans/{id}/confirm", s.handlePlanConfirm)

		r.Get("/v1/taskcards", s.handleTaskCardsList)
		r.Get("/v1/taskcards/{id}", s.handleTaskCardGet)
		r.Post("/v1/taskcards/{id}/approve", s.handleTaskCardApprove)
		r.Post("/v1/taskcards/{id}/reject", s.handleTaskCardReject)

		r.Get("/v1/audit", s.handleAuditList)
		r.Get("/v1/audit/plan/{id}", s.handleAuditByPlan)

		r.Get("/v1/policy/{path}", s.handlePolicyGet)
		r.Put("/v1/policy/{path}", s.handlePolicySet)
	})

	return r
}
