package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// IdentityRecord is what check-user-status reports about an existing user.
type IdentityRecord struct {
	UserID   string
	Username string
	Has2FA   bool
	Expired  bool
}

// IssuedCredentials is the one-time output of password generation.
type IssuedCredentials struct {
	UserID   string
	Password string
	QRImage  string
}

// TwoFactorBundle is the one-time output of second-factor generation.
type TwoFactorBundle struct {
	Secret  string
	QRImage string
}

// Credentials are submitted to authenticate-user. TOTPCode may be empty.
type Credentials struct {
	Username string
	Password string
	TOTPCode string
}

// Identity is the authenticated user returned on success.
type Identity struct {
	UserID   string
	Username string
}

// ID decodes user ids that the identity functions emit as numbers and the
// proxy re-emits as strings.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type usernameRequest struct {
	Username string `json:"username"`
}

type authenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code,omitempty"`
}

type checkStatusResponse struct {
	Exists   bool   `json:"exists"`
	Has2FA   bool   `json:"has_2fa"`
	Expired  bool   `json:"expired"`
	UserID   ID     `json:"user_id"`
	Username string `json:"username"`
}

type createUserResponse struct {
	UserID   ID     `json:"user_id"`
	Password string `json:"password"`
	QRCode   string `json:"qr_code"`
}

type twoFactorResponse struct {
	QRCode string `json:"qr_code"`
	Secret string `json:"secret"`
}

type authenticateResponse struct {
	UserID   ID     `json:"user_id"`
	Username string `json:"username"`
	User     *struct {
		ID       ID     `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}
