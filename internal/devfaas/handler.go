package devfaas

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler serves the function endpoints in the OpenFaaS wire format.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler builds the function handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the four functions on r, typically the /function group.
func (h *Handler) Register(r fiber.Router) {
	r.Post("/check-user-status", h.CheckUserStatus)
	r.Post("/generate-password", h.GeneratePassword)
	r.Post("/generate-2fa", h.GenerateTwoFactor)
	r.Post("/authenticate-user", h.AuthenticateUser)
}

type functionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

func errorBody(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func (h *Handler) parse(c *fiber.Ctx) (functionRequest, error) {
	var req functionRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return req, errorBody(c, http.StatusBadRequest, "Invalid JSON in request body")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return req, errorBody(c, http.StatusBadRequest, "Username is required")
	}
	return req, nil
}

func (h *Handler) internal(c *fiber.Ctx, op string, err error) error {
	h.logger.Error("function failed", slog.String("function", op), slog.Any("error", err))
	return errorBody(c, http.StatusInternalServerError, "Internal server error")
}

// CheckUserStatus reports existence, expiry and 2FA state.
func (h *Handler) CheckUserStatus(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Status(c.UserContext(), req.Username)
	if err != nil {
		return h.internal(c, "check-user-status", err)
	}
	body := fiber.Map{"exists": st.Exists, "expired": st.Expired, "has_2fa": st.Has2FA}
	if st.Exists {
		body["user_id"] = st.UserID
	}
	return c.JSON(body)
}

// GeneratePassword creates a user or renews an expired one.
func (h *Handler) GeneratePassword(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return err
	}
	issued, err := h.svc.GeneratePassword(c.UserContext(), req.Username)
	switch {
	case errors.Is(err, ErrUserExists):
		return errorBody(c, http.StatusConflict, "User already exists")
	case errors.Is(err, ErrLocked):
		return errorBody(c, http.StatusLocked, "Account is locked")
	case err != nil:
		return h.internal(c, "generate-password", err)
	}
	return c.JSON(fiber.Map{
		"status":   "success",
		"user_id":  issued.UserID,
		"password": issued.Password,
		"qr_code":  issued.QRCode,
		"message":  "Password generated successfully. Scan QR code to get your password.",
	})
}

// GenerateTwoFactor issues a TOTP secret.
func (h *Handler) GenerateTwoFactor(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return err
	}
	bundle, err := h.svc.GenerateTwoFactor(c.UserContext(), req.Username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return errorBody(c, http.StatusNotFound, "User does not exist")
	case err != nil:
		return h.internal(c, "generate-2fa", err)
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"qr_code": bundle.QRCode,
		"secret":  bundle.Secret,
	})
}

// AuthenticateUser verifies a password and optional TOTP code.
func (h *Handler) AuthenticateUser(c *fiber.Ctx) error {
	req, err := h.parse(c)
	if err != nil {
		return err
	}
	if req.Password == "" {
		return errorBody(c, http.StatusBadRequest, "Username and password are required")
	}
	user, err := h.svc.Authenticate(c.UserContext(), req.Username, req.Password, req.TOTPCode)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return errorBody(c, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, ErrTOTPRequired):
		return errorBody(c, http.StatusForbidden, "TOTP code is required")
	case errors.Is(err, ErrInvalidTOTP):
		return errorBody(c, http.StatusUnauthorized, "Invalid TOTP code")
	case errors.Is(err, ErrExpired):
		return c.Status(http.StatusForbidden).JSON(fiber.Map{
			"status":  "expired",
			"message": "Account has expired. Please contact support.",
		})
	case errors.Is(err, ErrLocked):
		return errorBody(c, http.StatusLocked, "Account is locked")
	case err != nil:
		return h.internal(c, "authenticate-user", err)
	}
	return c.JSON(fiber.Map{
		"status":  "OK",
		"message": "Authentication successful",
		"user":    fiber.Map{"id": user.ID, "username": user.Username},
	})
}
