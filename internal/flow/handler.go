package flow

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cofrap/cofrap_auth/internal/autherr"
	"github.com/cofrap/cofrap_auth/internal/gateway"
	"github.com/cofrap/cofrap_auth/internal/middleware"
	"github.com/cofrap/cofrap_auth/internal/session"
)

// Limiter throttles password submissions per username.
type Limiter interface {
	Allow(ctx context.Context, subject string) bool
}

// Handler exposes the flow of the caller's browser session over HTTP.
type Handler struct {
	flows  *Registry
	logins Limiter
}

// NewHandler builds a flow HTTP handler. logins may be nil.
func NewHandler(flows *Registry, logins Limiter) *Handler {
	return &Handler{flows: flows, logins: logins}
}

type eventRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

type requires struct {
	Username bool `json:"username"`
	Password bool `json:"password"`
	TOTP     bool `json:"totp_code"`
}

type stateResponse struct {
	Node             Node              `json:"node"`
	Username         string            `json:"username,omitempty"`
	TwoFactorEnabled bool              `json:"two_factor_enabled"`
	Pending          bool              `json:"pending"`
	Locked           bool              `json:"locked,omitempty"`
	Requires         requires          `json:"requires"`
	Error            *autherr.Envelope `json:"error,omitempty"`
	Identity         *session.Identity `json:"identity,omitempty"`
	Issued           *Artifacts        `json:"issued,omitempty"`
}

func render(s State) stateResponse {
	out := stateResponse{
		Node:             s.Node,
		Username:         s.Username,
		TwoFactorEnabled: s.TwoFactorEnabled,
		Pending:          s.Pending,
		Locked:           s.Locked,
		Requires: requires{
			Username: s.Node == NodeEntry || s.Node == NodeNeedsRenewal,
			Password: s.RequiresPassword(),
			TOTP:     s.RequiresTOTP(),
		},
		Identity: s.Identity,
		Issued:   s.Issued,
	}
	if s.Err != nil {
		out.Error = autherr.ToEnvelope(s.Err)
	}
	return out
}

// Start begins a new flow, replacing any previous one.
func (h *Handler) Start(c *fiber.Ctx) error {
	m := h.flows.Start(middleware.SessionID(c))
	return c.Status(http.StatusCreated).JSON(render(m.State()))
}

// Current returns the active flow without changing it.
func (h *Handler) Current(c *fiber.Ctx) error {
	m, ok := h.flows.Get(middleware.SessionID(c))
	if !ok {
		return fiber.NewError(http.StatusNotFound, "no active flow")
	}
	return c.JSON(render(m.State()))
}

// Abandon cancels the active flow. Any pending result is discarded.
func (h *Handler) Abandon(c *fiber.Ctx) error {
	h.flows.Abandon(middleware.SessionID(c))
	return c.SendStatus(http.StatusNoContent)
}

// Dispatch applies one event to the active flow.
func (h *Handler) Dispatch(c *fiber.Ctx) error {
	var req eventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	ev, err := parseEvent(req)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	m, ok := h.flows.Get(middleware.SessionID(c))
	if !ok {
		return fiber.NewError(http.StatusNotFound, "no active flow")
	}
	if _, ok := ev.(SubmitCredentials); ok && h.logins != nil {
		if cur := m.State(); cur.RequiresPassword() && !h.logins.Allow(c.UserContext(), cur.Username) {
			return fiber.NewError(http.StatusTooManyRequests, "too many login attempts, try again later")
		}
	}

	state, err := m.Dispatch(gateway.WithRequestID(c.UserContext(), middleware.RequestIDFrom(c)), ev)
	switch {
	case err == nil:
		return c.JSON(render(state))
	case errors.Is(err, ErrInvalidEvent):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(http.StatusConflict, err.Error())
	}
}

func parseEvent(req eventRequest) (Event, error) {
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "submit_username":
		return SubmitUsername{Username: req.Username}, nil
	case "register":
		return Register{}, nil
	case "submit_credentials":
		return SubmitCredentials{Password: req.Password, TOTPCode: req.TOTPCode}, nil
	case "setup_2fa":
		return SetupTwoFactor{}, nil
	case "continue":
		return Continue{}, nil
	case "renew":
		return Renew{Username: req.Username}, nil
	case "acknowledge":
		return Acknowledge{}, nil
	case "restart":
		return Restart{}, nil
	case "":
		return nil, errors.New("event type is required")
	default:
		return nil, errors.New("unknown event type")
	}
}
