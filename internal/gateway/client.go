// Package gateway is the client for the identity functions. Each method issues
// exactly one POST+JSON call bounded by a timeout and returns either a decoded
// payload or an *autherr.Error. It never retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cofrap/cofrap_auth/internal/autherr"
	"github.com/cofrap/cofrap_auth/internal/validate"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
	requestIDHeader = "X-Request-ID"
)

// Routes names the path of each operation relative to the base URL.
type Routes struct {
	CheckStatus    string
	CreateUser     string
	SetupTwoFactor string
	Authenticate   string
}

var (
	// UpstreamRoutes address the OpenFaaS gateway directly.
	UpstreamRoutes = Routes{
		CheckStatus:    "/function/check-user-status",
		CreateUser:     "/function/generate-password",
		SetupTwoFactor: "/function/generate-2fa",
		Authenticate:   "/function/authenticate-user",
	}
	// ProxyRoutes address this service's validating proxy.
	ProxyRoutes = Routes{
		CheckStatus:    "/api/auth/check-user",
		CreateUser:     "/api/auth/create-user",
		SetupTwoFactor: "/api/auth/setup-2fa",
		Authenticate:   "/api/auth/authenticate",
	}
)

// Client calls the identity functions.
type Client struct {
	baseURL string
	routes  Routes
	timeout time.Duration
	hc      *http.Client
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithRoutes overrides the default UpstreamRoutes.
func WithRoutes(r Routes) Option { return func(c *Client) { c.routes = r } }

// WithHTTPClient sends requests through a copy of hc. The copy, not hc, gets
// the per-call timeout.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithLogger sets the logger used for per-call debug lines.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New builds a client for baseURL. A non-positive timeout uses the default.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		routes:  UpstreamRoutes,
		timeout: timeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.hc == nil {
		c.hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	} else {
		hc := *c.hc
		c.hc = &hc
	}
	c.hc.Timeout = c.timeout
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// CheckStatus reports whether username exists and in which credential state.
// A missing user is reported as NotFound.
func (c *Client) CheckStatus(ctx context.Context, username string) (IdentityRecord, error) {
	if err := validate.Username(username).Err("username"); err != nil {
		return IdentityRecord{}, err
	}
	var out checkStatusResponse
	if err := c.call(ctx, c.routes.CheckStatus, usernameRequest{Username: username}, &out); err != nil {
		return IdentityRecord{}, err
	}
	if !out.Exists {
		return IdentityRecord{}, autherr.New(autherr.KindNotFound)
	}
	rec := IdentityRecord{UserID: string(out.UserID), Username: out.Username, Has2FA: out.Has2FA, Expired: out.Expired}
	if rec.Username == "" {
		rec.Username = username
	}
	return rec, nil
}

// CreateUser generates a password for a new user, or a fresh one for an
// expired user.
func (c *Client) CreateUser(ctx context.Context, username string) (IssuedCredentials, error) {
	if err := validate.Username(username).Err("username"); err != nil {
		return IssuedCredentials{}, err
	}
	var out createUserResponse
	if err := c.call(ctx, c.routes.CreateUser, usernameRequest{Username: username}, &out); err != nil {
		return IssuedCredentials{}, err
	}
	if out.Password == "" {
		return IssuedCredentials{}, autherr.New(autherr.KindMalformedResponse)
	}
	return IssuedCredentials{UserID: string(out.UserID), Password: out.Password, QRImage: out.QRCode}, nil
}

// SetupTwoFactor generates a TOTP secret for username.
func (c *Client) SetupTwoFactor(ctx context.Context, username string) (TwoFactorBundle, error) {
	if err := validate.Username(username).Err("username"); err != nil {
		return TwoFactorBundle{}, err
	}
	var out twoFactorResponse
	if err := c.call(ctx, c.routes.SetupTwoFactor, usernameRequest{Username: username}, &out); err != nil {
		return TwoFactorBundle{}, err
	}
	if out.QRCode == "" {
		return TwoFactorBundle{}, autherr.New(autherr.KindMalformedResponse)
	}
	return TwoFactorBundle{Secret: out.Secret, QRImage: out.QRCode}, nil
}

// Authenticate verifies a password and, when supplied, a TOTP code.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Identity, error) {
	if err := validate.Username(creds.Username).Err("username"); err != nil {
		return Identity{}, err
	}
	var out authenticateResponse
	req := authenticateRequest{Username: creds.Username, Password: creds.Password, TOTPCode: creds.TOTPCode}
	if err := c.call(ctx, c.routes.Authenticate, req, &out); err != nil {
		return Identity{}, err
	}
	id := Identity{UserID: string(out.UserID), Username: out.Username}
	if out.User != nil {
		if id.UserID == "" {
			id.UserID = string(out.User.ID)
		}
		if id.Username == "" {
			id.Username = out.User.Username
		}
	}
	if id.Username == "" {
		id.Username = creds.Username
	}
	return id, nil
}

func (c *Client) call(ctx context.Context, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return autherr.Unknown(err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return autherr.Unknown(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if rid := RequestIDFromContext(ctx); rid != "" {
		req.Header.Set(requestIDHeader, rid)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		classified := autherr.FromTransport(err)
		c.logger.Warn("identity call failed", slog.String("path", path), slog.String("kind", string(classified.Kind)), slog.Duration("duration", time.Since(start)))
		return classified
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return autherr.FromTransport(err)
	}

	c.logger.Debug("identity call completed", slog.String("path", path), slog.Int("status", resp.StatusCode), slog.Duration("duration", time.Since(start)))

	if classified := autherr.FromResponse(resp.StatusCode, raw); classified != nil {
		return classified
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return autherr.New(autherr.KindMalformedResponse)
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID attaches a request id that is forwarded upstream.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
