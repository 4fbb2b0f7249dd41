// Package server provides the HTTP API, middleware, and handlers for the
// assistant.
package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/AIDEN1973/SAAS-sub009/internal/requestctx"
)

// AuthMiddleware validates X-Assist-Key or Authorization: Bearer <key> and
// sets the tenant in the request context. apiKeys maps key to tenant_id.
// The optional X-Assist-Actor header identifies the human behind the
// request for the audit trail.
func AuthMiddleware(apiKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Assist-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}
			var tenantID string
			for k, t := range apiKeys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					tenantID = t
					break
				}
			}
			if tenantID == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}
			ctx := requestctx.SetTenantID(r.Context(), tenantID)
			if actor := r.Header.Get("X-Assist-Actor"); actor != "" {
				ctx = requestctx.SetActorID(ctx, actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeError writes a JSON error response. Defined here so AuthMiddleware
// can use it; handlers.go uses the same helper.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
