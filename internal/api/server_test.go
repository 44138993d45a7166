package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autodev/internal/agent"
	"github.com/autodev/internal/config"
	"github.com/autodev/internal/dispatch"
	"github.com/autodev/internal/ghapp"
	"github.com/autodev/internal/metrics"
)

const testSecret = "webhook-secret"

const issueOpenedPayload = `{
  "action": "opened",
  "issue": {"number": 3, "title": "Add greeting"},
  "repository": {"full_name": "octo/repo"},
  "installation": {"id": 42}
}`

type fakeHandler struct {
	dec   dispatch.Decision
	err   error
	calls []string
}

func (f *fakeHandler) Handle(_ context.Context, eventName string, payload interface{}, _ string) (dispatch.Decision, error) {
	f.calls = append(f.calls, eventName)
	return f.dec, f.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Addr = ":0"
	cfg.Server.RateLimit = 100
	cfg.Server.RateBurst = 100
	cfg.Server.MaxBodyBytes = 1 << 20
	cfg.GitHub.WebhookSecret = testSecret
	return cfg
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookRequest(event, body string, signed bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(github.EventTypeHeader, event)
	req.Header.Set(github.DeliveryIDHeader, "delivery-1")
	req.RemoteAddr = "203.0.113.7:5555"
	if signed {
		req.Header.Set(github.SHA256SignatureHeader, sign([]byte(body)))
	}
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := NewServer(testConfig(), &fakeHandler{}, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestWebhookAccepted(t *testing.T) {
	h := &fakeHandler{dec: dispatch.Decision{Status: dispatch.StatusAccepted, Role: agent.RoleCoder, TaskID: "t-1"}}
	s := NewServer(testConfig(), h, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, webhookRequest("issues", issueOpenedPayload, true))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "coder", body["role"])
	assert.Equal(t, "t-1", body["task_id"])
	assert.Equal(t, []string{"issues"}, h.calls)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := &fakeHandler{}
	s := NewServer(testConfig(), h, nil)

	req := webhookRequest("issues", issueOpenedPayload, false)
	req.Header.Set(github.SHA256SignatureHeader, "sha256=deadbeef")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.calls)
}

func TestWebhookAuthFailure(t *testing.T) {
	h := &fakeHandler{err: dispatch.ErrAuth}
	s := NewServer(testConfig(), h, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, webhookRequest("issues", issueOpenedPayload, true))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "auth failed", decode(t, rec)["error"])
}

func TestWebhookLaunchFailure(t *testing.T) {
	s := NewServer(testConfig(), &fakeHandler{err: errors.New("queue down")}, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, webhookRequest("issues", issueOpenedPayload, true))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookIgnored(t *testing.T) {
	h := &fakeHandler{dec: dispatch.Decision{Status: dispatch.StatusIgnored}}
	s := NewServer(testConfig(), h, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, webhookRequest("issues", issueOpenedPayload, true))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])
}

func TestWebhookUnknownEventType(t *testing.T) {
	h := &fakeHandler{}
	s := NewServer(testConfig(), h, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, webhookRequest("not_a_real_event", `{}`, true))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])
	assert.Empty(t, h.calls)
}

func TestWebhookMalformedPayload(t *testing.T) {
	s := NewServer(testConfig(), &fakeHandler{}, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, webhookRequest("issues", `{"action": `, true))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodyBytes = 64
	s := NewServer(cfg, &fakeHandler{}, nil)

	body := `{"action":"opened","padding":"` + strings.Repeat("x", 128) + `"}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, webhookRequest("issues", body, true))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhookRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimit = 0.001
	cfg.Server.RateBurst = 2
	h := &fakeHandler{dec: dispatch.Decision{Status: dispatch.StatusIgnored}}
	s := NewServer(cfg, h, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, webhookRequest("issues", issueOpenedPayload, true))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Len(t, h.calls, 2)

	// Another client still has its own budget.
	req := webhookRequest("issues", issueOpenedPayload, true)
	req.RemoteAddr = "198.51.100.1:4444"
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type staticCreds struct{}

func (staticCreds) InstallationToken(_ context.Context, id int64) (*ghapp.Credential, error) {
	return &ghapp.Credential{Token: "ghs_x", InstallationID: id, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type captureLauncher struct {
	tasks []*agent.Task
}

func (c *captureLauncher) Launch(_ context.Context, t *agent.Task) error {
	c.tasks = append(c.tasks, t)
	return nil
}

func TestWebhookThroughDispatcherAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	launcher := &captureLauncher{}
	d := dispatch.New(staticCreds{}, launcher, metrics.New(reg))
	s := NewServer(testConfig(), d, reg)

	comment := `{
  "action": "created",
  "issue": {"number": 7, "pull_request": {"url": "https://api.github.com/repos/octo/repo/pulls/7"}},
  "comment": {"body": "Rename foo to bar.\n\n---\n⚠️ Changes requested"},
  "repository": {"full_name": "octo/repo"},
  "installation": {"id": 42}
}`
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, webhookRequest("issue_comment", comment, true))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fixer", decode(t, rec)["role"])

	require.Len(t, launcher.tasks, 1)
	assert.Equal(t, 7, launcher.tasks[0].SubjectNumber)
	assert.Equal(t, "octo/repo", launcher.tasks[0].Repository)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autodev_webhook_events_total{event="issue_comment",result="accepted"} 1`)
}
