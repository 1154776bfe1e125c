package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"codetoflows.com/backend/internal/auth"
	"codetoflows.com/backend/internal/billing"
	"codetoflows.com/backend/internal/config"
	"codetoflows.com/backend/internal/core"
	"codetoflows.com/backend/internal/logger"
	"codetoflows.com/backend/internal/permission"
	"codetoflows.com/backend/internal/quota"
	"codetoflows.com/backend/internal/store"
)

const (
	testSecret = "test-secret"
	sampleCode = "function add(a, b) {\n  return a + b;\n}"
)

type stubModel struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (m *stubModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.reply, nil
}

func (m *stubModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type stubCheckout struct {
	session    *stripe.CheckoutSession
	err        error
	verified   int
	webhookErr error
}

func (c *stubCheckout) CreateCheckout(ctx context.Context, userID, email, packID string) (*stripe.CheckoutSession, error) {
	if _, ok := billing.LookupPack(packID); !ok {
		return nil, billing.ErrUnknownPack
	}
	return c.session, c.err
}

func (c *stubCheckout) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return c.webhookErr
}

func (c *stubCheckout) VerifySession(ctx context.Context, userID, sessionID string) (int, error) {
	return c.verified, c.err
}

type testServer struct {
	handler  http.Handler
	store    *store.SQLiteStore
	tokens   *auth.Tokens
	markup   *stubModel
	checkout *stubCheckout
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{
		FlowchartPolicy:      config.PolicyCredits,
		DailyLimit:           50,
		SignupCredits:        3,
		RequireVerifiedEmail: true,
		MaxPayloadBytes:      100 * 1024,
		AllowedOrigins:       []string{"*"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	markup := &stubModel{reply: "```mermaid\nflowchart TD\nA[Start] --> B[Add]\n```"}
	counter := quota.NewSQLiteCounter(s.DB())
	pipeline := core.NewPipeline(core.Options{
		Cache:  s,
		Ledger: s,
		Quota:  counter,
		Models: &core.ModelPair{
			Analysis: &stubModel{reply: "1. Adds two numbers\n2. Returns the sum"},
			Markup:   markup,
		},
		DailyLimit:   cfg.DailyLimit,
		ModelTimeout: time.Second,
		Logger:       logger.Discard(),
	})

	enforcer, err := permission.NewEnforcer(logger.Discard())
	require.NoError(t, err)

	ts := &testServer{
		store:    s,
		tokens:   auth.NewTokens(testSecret),
		markup:   markup,
		checkout: &stubCheckout{session: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}},
	}
	h := NewHandler(Deps{
		Pipeline:    pipeline,
		Store:       s,
		Quota:       counter,
		Billing:     ts.checkout,
		Permissions: enforcer,
		Tokens:      ts.tokens,
		Config:      cfg,
		Logger:      logger.Discard(),
	})
	ts.handler = NewRouter(h)
	return ts
}

// seedUser creates the account before its first request so tests control the
// starting balance.
func (ts *testServer) seedUser(t *testing.T, id string, credits int, verified bool) string {
	t.Helper()
	_, err := ts.store.EnsureUser(context.Background(), id, id+"@example.com", verified, credits)
	require.NoError(t, err)
	token, err := ts.tokens.Issue(id, id+"@example.com", verified, time.Hour)
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	var decoded map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decoded), rr.Body.String())
	}
	return rr, decoded
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rr, body := ts.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestProcessChargesFreshAndCachedRequests(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.seedUser(t, "user-1", 5, true)
	payload := map[string]string{"code": sampleCode, "fileName": "add.js"}

	rr, body := ts.do(t, http.MethodPost, "/api/process", token, payload)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, false, body["cached"])
	assert.Equal(t, float64(4), body["usageCount"])
	assert.Equal(t, "flowchart TD\nA[Start] --> B[Add]", body["mermaidChart"])
	assert.Equal(t, "1. Adds two numbers\n2. Returns the sum", body["executionSteps"])

	rr, body = ts.do(t, http.MethodPost, "/api/process", token, payload)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, float64(3), body["usageCount"])
	assert.Equal(t, 1, ts.markup.Calls())

	u, err := ts.store.GetUserByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, u.Credits)
}

func TestProcessOtherKinds(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.seedUser(t, "user-1", 5, true)

	rr, body := ts.do(t, http.MethodPost, "/api/er-process", token, map[string]string{"queries": "CREATE TABLE users (id INT PRIMARY KEY);"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, body, "entityRelations")
	assert.Equal(t, float64(4), body["usageCount"])

	rr, body = ts.do(t, http.MethodPost, "/api/architecture-process", token, map[string]string{"description": "A web app with an API and a database"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, body, "analysis")
	assert.Equal(t, float64(3), body["usageCount"])
}

func TestProcessRejections(t *testing.T) {
	ts := newTestServer(t, nil)
	verified := ts.seedUser(t, "verified", 5, true)
	unverified := ts.seedUser(t, "unverified", 5, false)
	broke := ts.seedUser(t, "broke", 0, true)

	tests := []struct {
		name    string
		token   string
		body    any
		status  int
		message string
	}{
		{"no token", "", map[string]string{"code": sampleCode}, http.StatusUnauthorized, "Please sign in to continue."},
		{"bad token", "garbage", map[string]string{"code": sampleCode}, http.StatusUnauthorized, "Invalid or expired session. Please sign in again."},
		{"unverified email", unverified, map[string]string{"code": sampleCode}, http.StatusForbidden, "Please verify your email to generate diagrams"},
		{"no credits", broke, map[string]string{"code": sampleCode}, http.StatusForbidden, "No credits remaining. Please purchase more credits."},
		{"prose instead of code", verified, map[string]string{"code": "please draw my app"}, http.StatusBadRequest, "Please provide valid code. Natural language or plain text is not supported."},
		{"malformed json", verified, "{not json", http.StatusBadRequest, "Invalid request body."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := ts.do(t, http.MethodPost, "/api/process", tt.token, tt.body)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.message, body["error"])
		})
	}

	assert.Equal(t, 0, ts.markup.Calls())
	u, err := ts.store.GetUserByID(context.Background(), "verified")
	require.NoError(t, err)
	assert.Equal(t, 5, u.Credits)
}

func TestProcessRejectsOversizedPayload(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.MaxPayloadBytes = 64 })
	token := ts.seedUser(t, "user-1", 5, true)

	rr, body := ts.do(t, http.MethodPost, "/api/process", token, map[string]string{"code": strings.Repeat("x = 1;\n", 50)})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Request body exceeds 64 bytes.", body["error"])
}

func TestBannedUserIsRejectedEverywhere(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.seedUser(t, "user-1", 5, true)
	require.NoError(t, ts.store.SetUserStatus(context.Background(), "admin", "user-1", store.StatusBanned))

	for _, path := range []string{"/api/me", "/api/credits/transactions"} {
		rr, body := ts.do(t, http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusForbidden, rr.Code, path)
		assert.Equal(t, "Your account has been banned. Please contact support.", body["error"])
	}
}

func TestFirstRequestMirrorsUserWithSignupCredits(t *testing.T) {
	ts := newTestServer(t, nil)
	token, err := ts.tokens.Issue("new-user", "new@example.com", true, time.Hour)
	require.NoError(t, err)

	rr, body := ts.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "new-user", body["id"])
	assert.Equal(t, float64(3), body["credits"])
	assert.Equal(t, true, body["email_verified"])

	rr, body = ts.do(t, http.MethodGet, "/api/credits/transactions", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	txs := body["transactions"].([]any)
	require.Len(t, txs, 1)
	assert.Equal(t, "signup_bonus", txs[0].(map[string]any)["type"])
}

func TestQuotaPolicy(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.FlowchartPolicy = config.PolicyQuota
		c.DailyLimit = 1
	})

	rr, body := ts.do(t, http.MethodPost, "/api/process", "", map[string]string{"code": sampleCode})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(1), body["usageCount"])

	rr, body = ts.do(t, http.MethodPost, "/api/process", "", map[string]string{"code": "x = 1;\ny = 2;"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "Daily diagram limit reached. Please try again tomorrow or add your own API keys.", body["error"])

	rr, body = ts.do(t, http.MethodPost, "/api/process", "", map[string]string{"code": sampleCode, "googleApiKey": "only-one"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Please provide both a Google and a Mistral API key.", body["error"])

	rr, body = ts.do(t, http.MethodGet, "/api/usage", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), body["usageCount"])
	assert.Equal(t, float64(1), body["dailyLimit"])

	// The metered kinds still require an account under the quota policy.
	rr, _ = ts.do(t, http.MethodPost, "/api/er-process", "", map[string]string{"queries": "CREATE TABLE t (id INT);"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminRoutesAreRoleGated(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	userToken := ts.seedUser(t, "user-1", 3, true)
	adminToken := ts.seedUser(t, "admin-1", 0, true)
	superToken := ts.seedUser(t, "super-1", 0, true)
	require.NoError(t, ts.store.SetUserRole(ctx, "system", "admin-1", store.RoleAdmin))
	require.NoError(t, ts.store.SetUserRole(ctx, "system", "super-1", store.RoleSuperAdmin))

	rr, _ := ts.do(t, http.MethodGet, "/api/admin/users", userToken, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, body := ts.do(t, http.MethodGet, "/api/admin/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["users"], 3)

	rr, _ = ts.do(t, http.MethodPost, "/api/admin/admins", adminToken, map[string]string{"userId": "user-1"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, _ = ts.do(t, http.MethodPost, "/api/admin/admins", superToken, map[string]string{"userId": "user-1"})
	assert.Equal(t, http.StatusOK, rr.Code)
	u, err := ts.store.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, u.Role)
}

func TestAdminModeration(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	ts.seedUser(t, "user-1", 3, false)
	adminToken := ts.seedUser(t, "admin-1", 0, true)
	require.NoError(t, ts.store.SetUserRole(ctx, "system", "admin-1", store.RoleAdmin))

	rr, body := ts.do(t, http.MethodPost, "/api/admin/users/credits", adminToken,
		map[string]any{"userId": "user-1", "credits": 10, "notes": "<b>refund</b>"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, float64(13), body["credits"])

	rr, body = ts.do(t, http.MethodPost, "/api/admin/users/credits", adminToken,
		map[string]any{"userId": "user-1", "credits": -100})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Adjustment would leave a negative balance", body["error"])

	rr, body = ts.do(t, http.MethodPost, "/api/admin/users/credits", adminToken,
		map[string]any{"userId": "user-1", "credits": 0})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "credits is required", body["error"])

	rr, body = ts.do(t, http.MethodPost, "/api/admin/users/ban", adminToken, map[string]string{"userId": "user-1", "status": "deleted"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "status must be one of: active banned", body["error"])

	rr, _ = ts.do(t, http.MethodPost, "/api/admin/users/ban", adminToken, map[string]string{"userId": "user-1", "status": "banned"})
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = ts.do(t, http.MethodPost, "/api/admin/users/verify", adminToken, map[string]string{"userId": "user-1"})
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, body = ts.do(t, http.MethodPost, "/api/admin/users/verify", adminToken, map[string]string{"userId": "ghost"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "User not found", body["error"])

	u, err := ts.store.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusBanned, u.Status)
	assert.True(t, u.EmailVerified)

	logs, err := ts.store.AdminLogs(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, l := range logs {
		if l.ActionType == "update_credits" {
			assert.Contains(t, l.Details, "refund")
			assert.NotContains(t, l.Details, "<b>")
		}
	}

	rr, body = ts.do(t, http.MethodGet, "/api/admin/logs?userId=user-1", adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["logs"], 3)

	rr, body = ts.do(t, http.MethodGet, "/api/admin/analytics", adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	analytics := body["analytics"].(map[string]any)
	assert.Equal(t, float64(2), analytics["totalUsers"])
	assert.Equal(t, float64(1), analytics["activeUsers"])
	assert.Equal(t, float64(13), analytics["totalCreditsIssued"])
}

func TestAdminPaymentsReportsRevenue(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()
	adminToken := ts.seedUser(t, "admin-1", 0, true)
	require.NoError(t, ts.store.SetUserRole(ctx, "system", "admin-1", store.RoleAdmin))
	ts.seedUser(t, "user-1", 0, true)
	_, err := ts.store.CreditPurchase(ctx, "user-1", 25, "cs_1")
	require.NoError(t, err)
	_, err = ts.store.CreditPurchase(ctx, "user-1", 100, "cs_2")
	require.NoError(t, err)

	rr, body := ts.do(t, http.MethodGet, "/api/admin/payments", adminToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.InDelta(t, 24.98, body["totalRevenue"], 0.001)
	assert.Len(t, body["payments"], 2)
}

func TestCheckoutRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.seedUser(t, "user-1", 0, true)

	rr, body := ts.do(t, http.MethodPost, "/api/create-checkout-session", token, map[string]string{"packId": "basic-pack"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cs_test_1", body["sessionId"])
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", body["url"])

	rr, body = ts.do(t, http.MethodPost, "/api/create-checkout-session", token, map[string]string{"packId": "mega-pack"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid pack selected", body["error"])

	rr, body = ts.do(t, http.MethodPost, "/api/create-checkout-session", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "packId is required", body["error"])

	ts.checkout.verified = 25
	rr, body = ts.do(t, http.MethodPost, "/api/verify-session", token, map[string]string{"sessionId": "cs_test_1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(25), body["credits"])

	ts.checkout.err = billing.ErrSessionMismatch
	rr, _ = ts.do(t, http.MethodPost, "/api/verify-session", token, map[string]string{"sessionId": "cs_other"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, body = ts.do(t, http.MethodGet, "/api/credits/packs", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["packs"], 3)
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t, nil)

	rr, body := ts.do(t, http.MethodPost, "/api/webhooks/stripe", "", `{"type":"checkout.session.completed"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["received"])

	ts.checkout.webhookErr = errors.Join(billing.ErrInvalidSignature, errors.New("no signatures found"))
	rr, body = ts.do(t, http.MethodPost, "/api/webhooks/stripe", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Webhook signature verification failed", body["error"])

	ts.checkout.webhookErr = errors.New("database is locked")
	rr, body = ts.do(t, http.MethodPost, "/api/webhooks/stripe", "", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to process payment", body["error"])
}
