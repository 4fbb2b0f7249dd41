package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIDEN1973/SAAS-sub009/internal/secrets"
	"github.com/AIDEN1973/SAAS-sub009/internal/testutil"
)

func newVaultWithToken(t *testing.T, token string) *secrets.Vault {
	t.Helper()
	vault, err := secrets.NewVault(testutil.OpenDB(t), testutil.TestEncryptionKey)
	require.NoError(t, err)
	if token != "" {
		require.NoError(t, vault.Set(context.Background(), testutil.TestTenant, TokenSecretName, []byte(token)))
	}
	return vault
}

func TestProviderSenderPostsEvent(t *testing.T) {
	var got Event
	var auth string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer provider.Close()

	sender := NewProviderSender(provider.URL, newVaultWithToken(t, "tok-abc"))
	err := sender.Send(context.Background(), &Event{
		EventType: "billing.payment_reminder",
		TenantID:  testutil.TestTenant,
		Recipient: "parent1@example.com",
		Variables: map[string]string{"period": "2026-03"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-abc", auth)
	assert.Equal(t, "billing.payment_reminder", got.EventType)
	assert.Equal(t, "parent1@example.com", got.Recipient)
	assert.Equal(t, "2026-03", got.Variables["period"])
}

func TestProviderSenderRetriesServerErrors(t *testing.T) {
	calls := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer provider.Close()

	sender := NewProviderSender(provider.URL, newVaultWithToken(t, "tok-abc"))
	sender.retry.Base = time.Millisecond
	err := sender.Send(context.Background(), &Event{
		EventType: "billing.payment_reminder",
		TenantID:  testutil.TestTenant,
		Recipient: "parent1@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "a 5xx answer gets one more attempt")
}

func TestProviderSenderDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad event", http.StatusBadRequest)
	}))
	defer provider.Close()

	sender := NewProviderSender(provider.URL, newVaultWithToken(t, "tok-abc"))
	sender.retry.Base = time.Millisecond
	err := sender.Send(context.Background(), &Event{
		EventType: "billing.payment_reminder",
		TenantID:  testutil.TestTenant,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, 1, calls)
}

func TestProviderSenderRejectedStatus(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tenant suspended", http.StatusForbidden)
	}))
	defer provider.Close()

	sender := NewProviderSender(provider.URL, newVaultWithToken(t, "tok-abc"))
	err := sender.Send(context.Background(), &Event{
		EventType: "attendance.absence_notice.guardian",
		TenantID:  testutil.TestTenant,
		Recipient: "parent1@example.com",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestProviderSenderMissingToken(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider must not be called without a token")
	}))
	defer provider.Close()

	sender := NewProviderSender(provider.URL, newVaultWithToken(t, ""))
	err := sender.Send(context.Background(), &Event{
		EventType: "billing.payment_reminder",
		TenantID:  testutil.TestTenant,
		Recipient: "parent1@example.com",
	})
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

func TestLogSenderRecords(t *testing.T) {
	sender := &LogSender{}
	require.NoError(t, sender.Send(context.Background(), &Event{
		EventType: "billing.payment_reminder",
		TenantID:  testutil.TestTenant,
	}))
	require.Len(t, sender.Events, 1)
	assert.Equal(t, "billing.payment_reminder", sender.Events[0].EventType)
}
