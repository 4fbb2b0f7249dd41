package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AIDEN1973/SAAS-sub009/internal/audit"
	"github.com/AIDEN1973/SAAS-sub009/internal/catalog"
	"github.com/AIDEN1973/SAAS-sub009/internal/classifier"
	"github.com/AIDEN1973/SAAS-sub009/internal/dispatch"
	"github.com/AIDEN1973/SAAS-sub009/internal/domain"
	"github.com/AIDEN1973/SAAS-sub009/internal/engine"
	"github.com/AIDEN1973/SAAS-sub009/internal/handlers"
	"github.com/AIDEN1973/SAAS-sub009/internal/messaging"
	"github.com/AIDEN1973/SAAS-sub009/internal/plan"
	"github.com/AIDEN1973/SAAS-sub009/internal/policy"
	"github.com/AIDEN1973/SAAS-sub009/internal/ratelimit"
	"github.com/AIDEN1973/SAAS-sub009/internal/taskcard"
	"github.com/AIDEN1973/SAAS-sub009/internal/testutil"
)

const testAPIKey = "test-key-tenant-a"

// scriptedClassifier returns a fixed classification regardless of input, so
// API tests stay independent of model availability.
type scriptedClassifier struct {
	result *classifier.Result
}

func (s *scriptedClassifier) Classify(ctx context.Context, req *classifier.Request) (*classifier.Result, error) {
	return s.result, nil
}

type apiFixture struct {
	domain *domain.Store
	policy *policy.Store
	ts     *httptest.Server
}

func newAPIFixture(t *testing.T, primary classifier.Classifier) *apiFixture {
	t.Helper()
	db := testutil.OpenDB(t)
	ctx := context.Background()

	domainStore, err := domain.NewStore(db)
	require.NoError(t, err)
	policyStore, err := policy.NewStore(db)
	require.NoError(t, err)
	gate, err := policy.NewGate(ctx)
	require.NoError(t, err)
	plans, err := plan.NewStore(db)
	require.NoError(t, err)
	cards, err := taskcard.NewStore(db)
	require.NoError(t, err)
	auditStore, err := audit.NewStore(db, testutil.TestSigningKey)
	require.NoError(t, err)
	builder, err := plan.NewBuilder(domainStore, policyStore, gate, plans)
	require.NoError(t, err)

	dispatcher := dispatch.NewDispatcher(plans, handlers.BuildRegistry(), policyStore, gate, domainStore, &messaging.LogSender{}, auditStore)
	limiter := ratelimit.New(1000, 1000, time.Second)
	eng := engine.New(limiter, primary, builder, plans, cards, dispatcher)

	srv := NewServer(eng, plans, cards, auditStore, policyStore, map[string]string{
		testAPIKey: testutil.TestTenant,
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	return &apiFixture{domain: domainStore, policy: policyStore, ts: ts}
}

func (f *apiFixture) request(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func authed(extra ...string) map[string]string {
	h := map[string]string{"X-Assist-Key": testAPIKey}
	for i := 0; i+1 < len(extra); i += 2 {
		h[extra[i]] = extra[i+1]
	}
	return h
}

func TestHealthIsUnauthenticated(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.request(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestMissingOrInvalidKeyRejected(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.request(t, http.MethodGet, "/v1/taskcards", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["error"])

	resp, _ = f.request(t, http.MethodGet, "/v1/taskcards", nil, map[string]string{"X-Assist-Key": "wrong-key"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBearerTokenAccepted(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, _ := f.request(t, http.MethodGet, "/v1/taskcards", nil, map[string]string{
		"Authorization": "Bearer " + testAPIKey,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMessageReadOnly(t *testing.T) {
	f := newAPIFixture(t, &scriptedClassifier{result: &classifier.Result{
		IntentKey: "student.read.roster", Params: json.RawMessage(`{}`), Confidence: 0.9,
	}})
	testutil.SeedStudents(t, f.domain, testutil.TestTenant, 2)

	resp, body := f.request(t, http.MethodPost, "/v1/messages",
		map[string]interface{}{"message": "show me the roster"}, authed())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "result", body["kind"])
	assert.Equal(t, "student.read.roster", body["intent_key"])
}

func TestMessageRequiresBody(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.request(t, http.MethodPost, "/v1/messages",
		map[string]interface{}{"message": ""}, authed())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestUnclassifiedMessageIs422(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.request(t, http.MethodPost, "/v1/messages",
		map[string]interface{}{"message": "what is the weather"}, authed())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "unclassified", body["error"])
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t, &scriptedClassifier{result: &classifier.Result{
		IntentKey:  "student.exec.discharge",
		Params:     json.RawMessage(`{"student_id":"st-1","reason":"moved away"}`),
		Confidence: 0.9,
	}})
	ctx := context.Background()
	testutil.SeedStudents(t, f.domain, testutil.TestTenant, 1)
	testutil.EnableAction(t, f.policy, testutil.TestTenant, catalog.ActionStudentDischarge)

	resp, body := f.request(t, http.MethodPost, "/v1/messages",
		map[string]interface{}{"message": "discharge st-1, they moved"}, authed())
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "task_card", body["kind"])
	cardID, _ := body["card_id"].(string)
	planID, _ := body["plan_id"].(string)
	require.NotEmpty(t, cardID)
	require.NotEmpty(t, planID)

	resp, body = f.request(t, http.MethodGet, "/v1/taskcards", nil, authed())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	// Review decisions need a human identity for the audit trail.
	resp, body = f.request(t, http.MethodPost, "/v1/taskcards/"+cardID+"/approve", nil, authed())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "X-Assist-Actor")

	resp, body = f.request(t, http.MethodPost, "/v1/taskcards/"+cardID+"/approve", nil,
		authed("X-Assist-Actor", "head@school"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", body["resolution"])

	st, err := f.domain.GetStudent(ctx, testutil.TestTenant, "st-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StudentDischarged, st.Status)

	resp, body = f.request(t, http.MethodGet, "/v1/plans/"+planID, nil, authed())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(plan.StatusExecuted), body["status"])

	resp, body = f.request(t, http.MethodGet, "/v1/audit/plan/"+planID, nil, authed())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	// A second decision on the same card conflicts.
	resp, _ = f.request(t, http.MethodPost, "/v1/taskcards/"+cardID+"/reject", nil,
		authed("X-Assist-Actor", "other@school"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConfirmationFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t, &scriptedClassifier{result: &classifier.Result{
		IntentKey:  "student.exec.update_contact",
		Params:     json.RawMessage(`{"student_id":"st-1","email":"new@example.com"}`),
		Confidence: 0.9,
	}})
	testutil.SeedStudents(t, f.domain, testutil.TestTenant, 1)
	testutil.EnableAction(t, f.policy, testutil.TestTenant, catalog.ActionStudentUpdateContact)

	resp, body := f.request(t, http.MethodPost, "/v1/messages",
		map[string]interface{}{"message": "update st-1 contact email"}, authed())
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "confirmation_required", body["kind"])
	planID, _ := body["plan_id"].(string)
	require.NotEmpty(t, planID)
	assert.NotEmpty(t, body["challenge"])

	resp, body = f.request(t, http.MethodPost, "/v1/plans/"+planID+"/confirm", nil, authed())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(dispatch.StatusOK), body["status"])

	// Confirming again loses the compare-and-swap.
	resp, _ = f.request(t, http.MethodPost, "/v1/plans/"+planID+"/confirm", nil, authed())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPlanNotFoundIs404(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.request(t, http.MethodGet, "/v1/plans/plan_missing", nil, authed())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "plan_not_found", body["error"])
}

func TestPolicyEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)
	path := policy.ActionPath(catalog.ActionBillingIssueInvoices)

	resp, _ := f.request(t, http.MethodGet, "/v1/policy/"+path, nil, authed())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := f.request(t, http.MethodPut, "/v1/policy/"+path,
		map[string]string{"value": "true"}, authed())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", body["value"])

	resp, body = f.request(t, http.MethodGet, "/v1/policy/"+path, nil, authed())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", body["value"])
}

func TestPolicySetRejectsLegacyAlias(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.request(t, http.MethodPut, "/v1/policy/automation.actions.discharge.enabled",
		map[string]string{"value": "true"}, authed())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestAuditListValidation(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, _ := f.request(t, http.MethodGet, "/v1/audit?limit=5000", nil, authed())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.request(t, http.MethodGet, "/v1/audit?from=yesterday", nil, authed())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.request(t, http.MethodGet,
		fmt.Sprintf("/v1/audit?from=%s&limit=10", time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)),
		nil, authed())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["count"])
}
