// Package proxy is the validating boundary between browsers and the identity
// functions. Usernames are validated before anything is forwarded, and every
// failure is re-emitted as a taxonomy envelope, never as the upstream body.
package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cofrap/cofrap_auth/internal/autherr"
	"github.com/cofrap/cofrap_auth/internal/gateway"
	"github.com/cofrap/cofrap_auth/internal/middleware"
	"github.com/cofrap/cofrap_auth/internal/validate"
)

// Version is reported by /api/version and /api/status. Overridden at link time.
var Version = "dev"

// Upstream is the set of identity operations the proxy forwards.
type Upstream interface {
	CheckStatus(ctx context.Context, username string) (gateway.IdentityRecord, error)
	CreateUser(ctx context.Context, username string) (gateway.IssuedCredentials, error)
	SetupTwoFactor(ctx context.Context, username string) (gateway.TwoFactorBundle, error)
	Authenticate(ctx context.Context, creds gateway.Credentials) (gateway.Identity, error)
}

// Handler serves /api/auth/*.
type Handler struct {
	upstream    Upstream
	serviceName string
	gatewayURL  string
	logger      *slog.Logger
}

// NewHandler builds the proxy handler. gatewayURL is only reported by /api/status.
func NewHandler(upstream Upstream, serviceName, gatewayURL string, logger *slog.Logger) *Handler {
	return &Handler{upstream: upstream, serviceName: serviceName, gatewayURL: gatewayURL, logger: logger}
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

func (h *Handler) fail(c *fiber.Ctx, op string, err error) error {
	e := autherr.As(err)
	h.logger.Info("identity operation refused",
		slog.String("operation", op),
		slog.String("kind", string(e.Kind)),
		slog.String("request_id", middleware.RequestIDFrom(c)),
	)
	return c.Status(autherr.HTTPStatus(e.Kind)).JSON(autherr.ToEnvelope(e))
}

// parse decodes the body and validates the username. When ok is false the
// rejection has been written and err is what the handler returns.
func (h *Handler) parse(c *fiber.Ctx, op string) (authRequest, context.Context, bool, error) {
	var req authRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return req, nil, false, h.fail(c, op, autherr.Validation("body", "bad_format"))
	}
	if err := validate.Username(req.Username).Err("username"); err != nil {
		return req, nil, false, h.fail(c, op, err)
	}
	ctx := gateway.WithRequestID(c.UserContext(), middleware.RequestIDFrom(c))
	return req, ctx, true, nil
}

// CheckUser reports whether a user exists and whether password, 2FA or
// renewal is needed next.
func (h *Handler) CheckUser(c *fiber.Ctx) error {
	req, ctx, ok, err := h.parse(c, "check-user")
	if !ok {
		return err
	}
	rec, err := h.upstream.CheckStatus(ctx, req.Username)
	if autherr.KindOf(err) == autherr.KindNotFound {
		return c.JSON(fiber.Map{"exists": false, "has_2fa": false, "expired": false})
	}
	if err != nil {
		return h.fail(c, "check-user", err)
	}
	return c.JSON(fiber.Map{
		"exists":   true,
		"has_2fa":  rec.Has2FA,
		"expired":  rec.Expired,
		"user_id":  rec.UserID,
		"username": rec.Username,
	})
}

// CreateUser issues a password for a new or expired user.
func (h *Handler) CreateUser(c *fiber.Ctx) error {
	req, ctx, ok, err := h.parse(c, "create-user")
	if !ok {
		return err
	}
	creds, err := h.upstream.CreateUser(ctx, req.Username)
	if err != nil {
		return h.fail(c, "create-user", err)
	}
	return c.JSON(fiber.Map{
		"status":   "success",
		"user_id":  creds.UserID,
		"password": creds.Password,
		"qr_code":  creds.QRImage,
	})
}

// SetupTwoFactor issues a TOTP secret.
func (h *Handler) SetupTwoFactor(c *fiber.Ctx) error {
	req, ctx, ok, err := h.parse(c, "setup-2fa")
	if !ok {
		return err
	}
	bundle, err := h.upstream.SetupTwoFactor(ctx, req.Username)
	if err != nil {
		return h.fail(c, "setup-2fa", err)
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"qr_code": bundle.QRImage,
		"secret":  bundle.Secret,
	})
}

// Authenticate verifies credentials.
func (h *Handler) Authenticate(c *fiber.Ctx) error {
	req, ctx, ok, err := h.parse(c, "authenticate")
	if !ok {
		return err
	}
	if err := validate.Password(req.Password).Err("password"); err != nil {
		return h.fail(c, "authenticate", err)
	}
	if err := validate.TOTP(req.TOTPCode, false).Err("totp_code"); err != nil {
		return h.fail(c, "authenticate", err)
	}
	id, err := h.upstream.Authenticate(ctx, gateway.Credentials{Username: req.Username, Password: req.Password, TOTPCode: req.TOTPCode})
	if err != nil {
		return h.fail(c, "authenticate", err)
	}
	return c.JSON(fiber.Map{
		"status":   "success",
		"user_id":  id.UserID,
		"username": id.Username,
	})
}

// Status describes the service and its endpoints.
func (h *Handler) Status(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"service": h.serviceName,
		"status":  "operational",
		"version": Version,
		"gateway": h.gatewayURL,
		"endpoints": fiber.Map{
			"check_user":   gateway.ProxyRoutes.CheckStatus,
			"create_user":  gateway.ProxyRoutes.CreateUser,
			"setup_2fa":    gateway.ProxyRoutes.SetupTwoFactor,
			"authenticate": gateway.ProxyRoutes.Authenticate,
			"flow":         "/api/flow",
			"session":      "/api/session",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// VersionInfo reports the build version.
func (h *Handler) VersionInfo(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"name": h.serviceName, "version": Version})
}
