package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CiteCheck/app/controllers"
	"github.com/ManuelReschke/CiteCheck/app/models"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accounts"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/accountstore"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/billing"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/config"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/kvrest/kvresttest"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/ledger"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/security"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/session"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/statistics"
	"github.com/ManuelReschke/CiteCheck/internal/pkg/verification"
)

const webhookSecret = "whsec_router"

type captureSender struct {
	mu   sync.Mutex
	msgs map[string]verification.Message
}

func (s *captureSender) SendVerificationMessage(_ context.Context, email string, msg verification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgs == nil {
		s.msgs = make(map[string]verification.Message)
	}
	s.msgs[email] = msg
	return nil
}

func (s *captureSender) last(email string) verification.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs[email]
}

type fakeCheckout struct {
	plan  models.Plan
	email string
}

func (f *fakeCheckout) CreateCheckoutSession(_ context.Context, plan models.Plan, email string) (string, error) {
	f.plan, f.email = plan, email
	return "https://pay.example/session/" + string(plan), nil
}

type testEnv struct {
	app      *fiber.App
	store    accountstore.Store
	sender   *captureSender
	checkout *fakeCheckout
	admins   *session.AdminSessions
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	srv := kvresttest.NewServer()
	t.Cleanup(srv.Close)
	store := accountstore.NewRESTStore(srv.Client(), accountstore.Policy{
		Timeout:     2 * time.Second,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
		CASAttempts: 64,
	})

	sender := &captureSender{}
	links, err := security.NewLinkSigner("link-secret", time.Hour)
	require.NoError(t, err)
	verifier := verification.NewService(store, sender, links, verification.Options{
		CodeTTL:     15 * time.Minute,
		LinkBaseURL: "http://localhost:4000/api/v1/auth/verify/link",
	})
	l := ledger.New(store)
	users, admins, err := session.New(
		config.SessionConfig{UserSecret: "user-secret", UserTTL: time.Hour, AdminSecret: "admin-secret", AdminTTL: time.Hour},
		config.AdminConfig{Username: "root", Password: "hunter22"},
	)
	require.NoError(t, err)

	checkout := &fakeCheckout{}
	h := &controllers.Handlers{
		Store:        store,
		Accounts:     accounts.NewService(store, l, verifier),
		Ledger:       l,
		Verification: verifier,
		Users:        users,
		Admins:       admins,
		Checkout:     checkout,
		Webhooks:     billing.NewWebhookVerifier(config.BillingConfig{WebhookSecret: webhookSecret, MonthlyPriceID: "price_m"}),
		Stats:        statistics.NewCollector(store, time.Minute),
	}

	app := fiber.New()
	InstallRouter(app, h, config.AppConfig{RateLimitMax: rateLimit, RateLimitWindow: time.Minute})
	return &testEnv{app: app, store: store, sender: sender, checkout: checkout, admins: admins}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, prepare func(*http.Request)) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prepare != nil {
		prepare(req)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func cookie(name, value string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

// signUpVerified walks through sign-up and code confirmation and returns a session token.
func (e *testEnv) signUpVerified(t *testing.T, email string) string {
	t.Helper()
	resp, _ := e.do(t, "POST", "/api/v1/auth/signup", fiber.Map{"email": email, "password": "password123", "name": "Tester"}, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, out := e.do(t, "POST", "/api/v1/auth/verify/code", fiber.Map{"email": email, "code": e.sender.last(email).Code}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	token, _ := out["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestSignUpVerifyAndConsume(t *testing.T) {
	e := newTestEnv(t, 1000)
	token := e.signUpVerified(t, "flow@example.com")

	resp, out := e.do(t, "GET", "/api/v1/account", nil, bearer(token))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "flow@example.com", out["email"])
	assert.Equal(t, float64(3), out["credits"])
	assert.Nil(t, out["passwordHash"])

	for i := 2; i >= 0; i-- {
		resp, out = e.do(t, "POST", "/api/v1/chat/consume", nil, bearer(token))
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, float64(i), out["credits"])
	}
	resp, out = e.do(t, "POST", "/api/v1/chat/consume", nil, bearer(token))
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "insufficient_credits", out["error"])

	resp, _ = e.do(t, "GET", "/api/v1/account", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestVerifyCodeOnVerifiedAccountIssuesNoSession(t *testing.T) {
	e := newTestEnv(t, 1000)
	e.signUpVerified(t, "victim@example.com")

	resp, out := e.do(t, "POST", "/api/v1/auth/verify/code", fiber.Map{"email": "victim@example.com", "code": "not-the-code"}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["verified"])
	assert.Nil(t, out["token"])
	assert.Nil(t, out["account"])
	for _, c := range resp.Cookies() {
		assert.NotEqual(t, session.UserCookieName, c.Name)
	}
}

func TestSignOut(t *testing.T) {
	e := newTestEnv(t, 1000)
	token := e.signUpVerified(t, "out@example.com")

	resp, out := e.do(t, "POST", "/api/v1/auth/signout", nil, bearer(token))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["was_signed_in"])

	resp, out = e.do(t, "POST", "/api/v1/auth/signout", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["was_signed_in"])
}

func TestSignUpTwiceWhileCodePending(t *testing.T) {
	e := newTestEnv(t, 1000)
	body := fiber.Map{"email": "twice@example.com", "password": "password123"}
	resp, _ := e.do(t, "POST", "/api/v1/auth/signup", body, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, out := e.do(t, "POST", "/api/v1/auth/signup", body, nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "verification_pending", out["error"])

	resp, _ = e.do(t, "POST", "/api/v1/auth/signup", fiber.Map{"email": "bad", "password": "x"}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSignIn(t *testing.T) {
	e := newTestEnv(t, 1000)
	resp, _ := e.do(t, "POST", "/api/v1/auth/signup", fiber.Map{"email": "in@example.com", "password": "password123"}, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, _ = e.do(t, "POST", "/api/v1/auth/signin", fiber.Map{"email": "in@example.com", "password": "password123"}, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, _ = e.do(t, "POST", "/api/v1/auth/verify/code", fiber.Map{"email": "in@example.com", "code": "000000x"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, "POST", "/api/v1/auth/verify/request", fiber.Map{"email": "in@example.com", "mode": "link"}, nil)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	link := e.sender.last("in@example.com").Link
	require.Contains(t, link, "token=")
	tokenParam := link[len("http://localhost:4000"):]

	resp, _ = e.do(t, "GET", tokenParam, nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, "POST", "/api/v1/auth/signin", fiber.Map{"email": "in@example.com", "password": "nope-nope"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, out := e.do(t, "POST", "/api/v1/auth/signin", fiber.Map{"email": "IN@example.com", "password": "password123"}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, out["token"])
	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == session.UserCookieName {
			found = true
			assert.True(t, c.HttpOnly)
		}
	}
	assert.True(t, found, "session cookie set")

	resp, _ = e.do(t, "POST", "/api/v1/auth/verify/request", fiber.Map{"email": "ghost@example.com"}, nil)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestAdvancedChatNeedsPaidPlan(t *testing.T) {
	e := newTestEnv(t, 1000)
	token := e.signUpVerified(t, "adv@example.com")

	resp, out := e.do(t, "POST", "/api/v1/chat/consume", fiber.Map{"advanced": true}, bearer(token))
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "plan_required", out["error"])
}

func TestBillingCheckoutAndWebhook(t *testing.T) {
	e := newTestEnv(t, 1000)
	token := e.signUpVerified(t, "pay@example.com")

	resp, out := e.do(t, "POST", "/api/v1/billing/checkout", fiber.Map{"plan": "monthly"}, bearer(token))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://pay.example/session/monthly", out["url"])
	assert.Equal(t, "pay@example.com", e.checkout.email)

	resp, _ = e.do(t, "POST", "/api/v1/billing/checkout", fiber.Map{"plan": "free"}, bearer(token))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	start := time.Now().UTC().Truncate(time.Second)
	end := start.AddDate(0, 0, 30)
	payload := []byte(`{"id":"evt_9","type":"subscription.created","data":{"customer_email":"pay@example.com","price_id":"price_m","status":"active","current_period_start":` +
		strconv.FormatInt(start.Unix(), 10) + `,"current_period_end":` + strconv.FormatInt(end.Unix(), 10) + `}}`)

	resp, _ = e.do(t, "POST", "/api/v1/billing/webhook", payload, func(r *http.Request) {
		r.Header.Set("X-Webhook-Signature", "sha256=deadbeef")
	})
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, out = e.do(t, "POST", "/api/v1/billing/webhook", payload, func(r *http.Request) {
		r.Header.Set("X-Webhook-Signature", billing.SignWebhookPayload(payload, webhookSecret))
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["applied"])

	resp, out = e.do(t, "GET", "/api/v1/account", nil, bearer(token))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "monthly", out["plan"])
	assert.Equal(t, float64(100), out["credits"])
	limits, _ := out["limits"].(map[string]interface{})
	assert.Equal(t, true, limits["has_chat_access"])

	resp, _ = e.do(t, "POST", "/api/v1/chat/consume", fiber.Map{"advanced": true}, bearer(token))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// a redelivered event does not refill the balance
	resp, out = e.do(t, "POST", "/api/v1/billing/webhook", payload, func(r *http.Request) {
		r.Header.Set("X-Webhook-Signature", billing.SignWebhookPayload(payload, webhookSecret))
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["applied"])
	assert.Equal(t, true, out["duplicate"])
	resp, out = e.do(t, "GET", "/api/v1/account", nil, bearer(token))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(99), out["credits"])

	unknown := []byte(`{"id":"evt_10","data":{"customer_email":"nobody@example.com","price_id":"price_m","status":"active"}}`)
	resp, out = e.do(t, "POST", "/api/v1/billing/webhook", unknown, func(r *http.Request) {
		r.Header.Set("X-Webhook-Signature", billing.SignWebhookPayload(unknown, webhookSecret))
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, false, out["applied"])
}

func TestAdminRoutes(t *testing.T) {
	e := newTestEnv(t, 1000)
	userToken := e.signUpVerified(t, "managed@example.com")

	resp, _ := e.do(t, "GET", "/admin/users", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	// user sessions never open the admin area
	resp, _ = e.do(t, "GET", "/admin/users", nil, cookie(session.AdminCookieName, userToken))
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, "POST", "/admin/login", fiber.Map{"username": "root", "password": "wrong"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, "POST", "/admin/login", fiber.Map{"username": "root", "password": "hunter22"}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var adminToken string
	for _, c := range resp.Cookies() {
		if c.Name == session.AdminCookieName {
			adminToken = c.Value
			assert.Equal(t, "/admin", c.Path)
		}
	}
	require.NotEmpty(t, adminToken)
	asAdmin := cookie(session.AdminCookieName, adminToken)

	resp, out := e.do(t, "GET", "/admin/users", nil, asAdmin)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["count"])

	resp, out = e.do(t, "GET", "/admin/users/managed@example.com", nil, asAdmin)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "free", out["plan"])

	resp, _ = e.do(t, "POST", "/admin/users/managed@example.com/plan",
		fiber.Map{"plan": "yearly", "start": "2026-01-10T00:00:00Z", "end": "2026-01-01T00:00:00Z"}, asAdmin)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, out = e.do(t, "POST", "/admin/users/managed@example.com/plan",
		fiber.Map{"plan": "yearly", "start": "2026-01-01T00:00:00Z", "end": "2027-01-01T00:00:00Z"}, asAdmin)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "yearly", out["plan"])
	assert.Equal(t, float64(100), out["credits"])

	resp, out = e.do(t, "POST", "/admin/users/managed@example.com/credits", fiber.Map{"amount": 5}, asAdmin)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(105), out["credits"])

	resp, _ = e.do(t, "POST", "/admin/users/managed@example.com/credits", fiber.Map{"amount": -1}, asAdmin)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, out = e.do(t, "GET", "/admin/stats", nil, asAdmin)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["totalUsers"])

	resp, out = e.do(t, "POST", "/admin/index/rebuild", fiber.Map{"emails": []string{"managed@example.com", "ghost@example.com"}}, asAdmin)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), out["indexed"])

	resp, _ = e.do(t, "DELETE", "/admin/users/managed@example.com", nil, asAdmin)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, "GET", "/admin/users/managed@example.com", nil, asAdmin)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// the deleted account's session no longer reaches a record
	resp, _ = e.do(t, "GET", "/api/v1/account", nil, bearer(userToken))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAdminLoginRateLimit(t *testing.T) {
	e := newTestEnv(t, 1000)
	for i := 0; i < adminLoginMax; i++ {
		resp, _ := e.do(t, "POST", "/admin/login", fiber.Map{"username": "root", "password": "guess"}, nil)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	}
	resp, out := e.do(t, "POST", "/admin/login", fiber.Map{"username": "root", "password": "hunter22"}, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", out["error"])
}

func TestUnknownOAuthProvider(t *testing.T) {
	e := newTestEnv(t, 1000)
	resp, _ := e.do(t, "GET", "/auth/myspace", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, 1000)
	resp, out := e.do(t, "GET", "/health", nil, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, accountstore.BackendRESTKV, out["backend"])
}

func TestAPIRateLimit(t *testing.T) {
	e := newTestEnv(t, 2)
	for i := 0; i < 2; i++ {
		resp, _ := e.do(t, "GET", "/api/", nil, nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp, out := e.do(t, "GET", "/api/", nil, nil)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", out["error"])
}
