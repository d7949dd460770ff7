package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/cookiejar"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cofrap/cofrap_auth/internal/config"
	"github.com/cofrap/cofrap_auth/internal/logging"
	"github.com/cofrap/cofrap_auth/internal/middleware"
)

type harness struct {
	t      *testing.T
	base   string
	client *http.Client
	cache  *redis.Client
}

// startDev runs the full proxy with the in-process identity functions on a
// loopback listener, the way DEV_UPSTREAM=true does.
func startDev(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	cfg := config.Config{
		AppName:         "cofrap-auth",
		AppEnv:          "test",
		Port:            "0",
		GatewayURL:      base,
		UpstreamTimeout: 5 * time.Second,
		ShutdownPeriod:  time.Second,
		InFlightTTL:     10 * time.Second,
		SessionTTL:      time.Hour,
		LoginRateLimit:  50,
		DevUpstream:     true,
		TOTPIssuer:      "COFRAP",
	}
	srv, err := New(cfg, nil, cache, logging.Discard())
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{t: t, base: base, client: &http.Client{Jar: jar, Timeout: 10 * time.Second}, cache: cache}
}

func (h *harness) do(method, path string, body any) (int, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.base+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func (h *harness) event(body map[string]any) map[string]any {
	h.t.Helper()
	status, out := h.do(http.MethodPost, "/api/flow/events", body)
	require.Equal(h.t, http.StatusOK, status, "%v", out)
	return out
}

func TestRegistrationWithTwoFactorEndToEnd(t *testing.T) {
	h := startDev(t)

	status, out := h.do(http.MethodPost, "/api/flow", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "entry", out["node"])

	out = h.event(map[string]any{"type": "submit_username", "username": "alice"})
	require.Equal(t, "needs_registration", out["node"])

	out = h.event(map[string]any{"type": "register"})
	require.Equal(t, "credentials_issued", out["node"])
	issued := out["issued"].(map[string]any)
	password := issued["password"].(string)
	require.NotEmpty(t, password)
	assert.NotEmpty(t, issued["qr_code"])

	out = h.event(map[string]any{"type": "setup_2fa"})
	require.Equal(t, "credentials_issued", out["node"])
	secret := out["issued"].(map[string]any)["two_factor_secret"].(string)
	require.NotEmpty(t, secret)

	status, out = h.do(http.MethodGet, "/api/flow", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, out["issued"], "artifacts are only shown once")

	out = h.event(map[string]any{"type": "continue"})
	require.Equal(t, "needs_password_and_2fa", out["node"])

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	out = h.event(map[string]any{"type": "submit_credentials", "password": password, "totp_code": code})
	require.Equal(t, "authenticated", out["node"], "%v", out)
	assert.Equal(t, "alice", out["identity"].(map[string]any)["username"])

	status, out = h.do(http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["authenticated"])

	keys, err := h.cache.Keys(context.Background(), "session:v1:*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	n, err := h.cache.XLen(context.Background(), "audit:flow:v1").Result()
	require.NoError(t, err)
	assert.Positive(t, n)

	status, _ = h.do(http.MethodDelete, "/api/session", nil)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = h.do(http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = h.do(http.MethodDelete, "/api/session", nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestWrongPasswordStaysAtPasswordNode(t *testing.T) {
	h := startDev(t)

	status, out := h.do(http.MethodPost, "/api/auth/create-user", map[string]any{"username": "bob_1"})
	require.Equal(t, http.StatusOK, status, "%v", out)

	h.do(http.MethodPost, "/api/flow", nil)
	out = h.event(map[string]any{"type": "submit_username", "username": "bob_1"})
	require.Equal(t, "needs_password", out["node"])

	out = h.event(map[string]any{"type": "submit_credentials", "password": "not-it"})
	assert.Equal(t, "needs_password", out["node"])
	assert.Equal(t, "invalid_credentials", out["error"].(map[string]any)["error"])

	n, err := h.cache.Exists(context.Background(), "rl:auth:bob_1").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "flow logins count against the login limit")
}

// stranger issues a request under a session id of its own.
func (h *harness) stranger(method, path, session string) int {
	h.t.Helper()
	req, err := http.NewRequest(method, h.base+path, nil)
	require.NoError(h.t, err)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: session})
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	require.NoError(h.t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestFlowStaysWithItsSessionUnderOtherTraffic(t *testing.T) {
	h := startDev(t)

	status, _ := h.do(http.MethodPost, "/api/flow", nil)
	require.Equal(t, http.StatusCreated, status)
	h.event(map[string]any{"type": "submit_username", "username": "dora"})

	for i := 0; i < 50; i++ {
		assert.Equal(t, http.StatusNotFound, h.stranger(http.MethodGet, "/api/flow", uuid.NewString()))
	}

	status, out := h.do(http.MethodGet, "/api/flow", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "dora", out["username"])
}

func TestProxyEndpoints(t *testing.T) {
	h := startDev(t)

	status, out := h.do(http.MethodPost, "/api/auth/check-user", map[string]any{"username": "x!"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", out["error"])

	status, out = h.do(http.MethodPost, "/api/auth/check-user", map[string]any{"username": "carol"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, out["exists"])

	status, _ = h.do(http.MethodPost, "/api/auth/create-user", map[string]any{"username": "carol"})
	require.Equal(t, http.StatusOK, status)
	status, out = h.do(http.MethodPost, "/api/auth/create-user", map[string]any{"username": "carol"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_exists", out["error"])
	assert.NotContains(t, out["message"], "User already exists")

	status, out = h.do(http.MethodPost, "/api/auth/setup-2fa", map[string]any{"username": "nobody"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", out["error"])

	status, out = h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"].(map[string]any)["redis"])

	status, out = h.do(http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "operational", out["status"])
}

func TestFlowProtocolErrorsAreJSON(t *testing.T) {
	h := startDev(t)

	status, out := h.do(http.MethodPost, "/api/flow/events", map[string]any{"type": "continue"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "request_rejected", out["error"])

	h.do(http.MethodPost, "/api/flow", nil)
	status, out = h.do(http.MethodPost, "/api/flow/events", map[string]any{"type": "continue"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.NotEmpty(t, out["message"])
}
