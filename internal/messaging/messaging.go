// Package messaging is the boundary to the notification/SMS delivery
// collaborator. Sends are fire-and-acknowledge: a failure is logged and
// surfaced in the execution result, never retried indefinitely.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	assistotel "github.com/AIDEN1973/SAAS-sub009/internal/otel"
	"github.com/AIDEN1973/SAAS-sub009/internal/ratelimit"
	"github.com/AIDEN1973/SAAS-sub009/internal/secrets"
)

var tracer = assistotel.Tracer("github.com/AIDEN1973/SAAS-sub009/internal/messaging")

// Event is a notification handed to the delivery provider.
type Event struct {
	EventType string            `json:"event_type"`
	TenantID  string            `json:"tenant_id"`
	Recipient string            `json:"recipient"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Sender delivers events to the messaging collaborator.
type Sender interface {
	Send(ctx context.Context, ev *Event) error
}

// ProviderSender posts events to an HTTP delivery provider, authenticating
// with the tenant's vault-stored token.
type ProviderSender struct {
	baseURL string
	vault   *secrets.Vault
	client  *http.Client
	retry   ratelimit.RetryConfig
}

// TokenSecretName is the vault entry holding a tenant's provider token.
const TokenSecretName = "messaging_provider_token"

// NewProviderSender creates a sender for the given provider endpoint.
func NewProviderSender(baseURL string, vault *secrets.Vault) *ProviderSender {
	return &ProviderSender{
		baseURL: baseURL,
		vault:   vault,
		client:  &http.Client{Timeout: 10 * time.Second},
		retry: ratelimit.RetryConfig{
			Attempts: 3,
			Base:     100 * time.Millisecond,
			Cap:      time.Second,
		},
	}
}

// Send posts the event. Transport errors and 5xx responses are retried up
// to the bounded attempt count; 4xx rejections and exhausted retries are
// returned to the caller, which records them without retrying further.
func (s *ProviderSender) Send(ctx context.Context, ev *Event) error {
	ctx, span := tracer.Start(ctx, "messaging.send",
		trace.WithAttributes(
			attribute.String("event_type", ev.EventType),
			attribute.String("tenant_id", ev.TenantID),
		))
	defer span.End()

	token, err := s.vault.Get(ctx, ev.TenantID, TokenSecretName)
	if err != nil {
		return fmt.Errorf("resolving provider token: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	err = ratelimit.Retry(ctx, s.retry, func() error {
		return s.post(ctx, ev, token, body)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("event_type", ev.EventType).
		Str("tenant_id", ev.TenantID).
		Func(assistotel.LogTraceFields(ctx)).
		Msg("messaging_event_sent")
	return nil
}

func (s *ProviderSender) post(ctx context.Context, ev *Event, token, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+string(token))

	resp, err := s.client.Do(req)
	if err != nil {
		log.Error().Err(err).
			Str("event_type", ev.EventType).
			Str("tenant_id", ev.TenantID).
			Msg("messaging_send_failed")
		return ratelimit.Transient(fmt.Errorf("provider call: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("event_type", ev.EventType).
			Str("tenant_id", ev.TenantID).
			Msg("messaging_send_rejected")
		callErr := fmt.Errorf("provider call: status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return ratelimit.Transient(callErr)
		}
		return callErr
	}
	return nil
}

// LogSender logs events instead of delivering them. Used in development and
// tests.
type LogSender struct {
	Events []Event
}

// Send records the event.
func (s *LogSender) Send(ctx context.Context, ev *Event) error {
	s.Events = append(s.Events, *ev)
	log.Info().
		Str("event_type", ev.EventType).
		Str("tenant_id", ev.TenantID).
		Msg("messaging_event_logged")
	return nil
}
