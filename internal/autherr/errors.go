// Package autherr defines the closed error taxonomy shared by the proxy, the
// gateway client and the flow orchestrator, and the normalizer that maps raw
// upstream failures into it. It is the only package allowed to look at raw
// upstream error bodies.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one entry of the closed taxonomy.
type Kind string

const (
	KindValidationFailed     Kind = "validation_failed"
	KindNotFound             Kind = "not_found"
	KindAlreadyExists        Kind = "already_exists"
	KindInvalidCredentials   Kind = "invalid_credentials"
	KindInvalidSecondFactor  Kind = "invalid_second_factor"
	KindSecondFactorRequired Kind = "second_factor_required"
	KindAccountExpired       Kind = "account_expired"
	KindAccountLocked        Kind = "account_locked"
	KindUpstreamUnavailable  Kind = "upstream_unavailable"
	KindNetworkTimeout       Kind = "network_timeout"
	KindMalformedResponse    Kind = "malformed_upstream_response"
	KindUnknown              Kind = "unknown"
)

var kinds = map[Kind]struct{}{
	KindValidationFailed:     {},
	KindNotFound:             {},
	KindAlreadyExists:        {},
	KindInvalidCredentials:   {},
	KindInvalidSecondFactor:  {},
	KindSecondFactorRequired: {},
	KindAccountExpired:       {},
	KindAccountLocked:        {},
	KindUpstreamUnavailable:  {},
	KindNetworkTimeout:       {},
	KindMalformedResponse:    {},
	KindUnknown:              {},
}

// ParseKind returns the Kind named by code, if it belongs to the taxonomy.
func ParseKind(code string) (Kind, bool) {
	k := Kind(code)
	_, ok := kinds[k]
	return k, ok
}

// Error is a classified failure. Field is set for ValidationFailed, Detail
// carries the validation reason or the sanitized message of an Unknown error.
type Error struct {
	Kind   Kind
	Field  string
	Detail string
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return string(e.Kind)
	}
}

// Is matches on Kind so errors.Is(err, autherr.New(KindNotFound)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

// New builds an error of the given kind.
func New(kind Kind) *Error { return &Error{Kind: kind} }

// Validation builds a ValidationFailed error for field.
func Validation(field, reason string) *Error {
	return &Error{Kind: KindValidationFailed, Field: field, Detail: reason}
}

// Unknown builds an Unknown error; msg is sanitized before it is stored.
func Unknown(msg string) *Error {
	return &Error{Kind: KindUnknown, Detail: Sanitize(msg)}
}

// As extracts the classified error from err. Errors outside the taxonomy are
// reported as Unknown.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unknown(err.Error())
}

// KindOf returns the taxonomy kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

// HTTPStatus is the status the proxy uses when re-emitting kind.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists:
		return http.StatusConflict
	case KindInvalidCredentials, KindInvalidSecondFactor:
		return http.StatusUnauthorized
	case KindSecondFactorRequired, KindAccountExpired:
		return http.StatusForbidden
	case KindAccountLocked:
		return http.StatusLocked
	case KindUpstreamUnavailable, KindMalformedResponse:
		return http.StatusBadGateway
	case KindNetworkTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

const genericRetry = "Something went wrong. Please try again."

// UserMessage renders the text shown to end users. It depends only on the
// taxonomy, never on upstream text.
func UserMessage(err error) string {
	e := As(err)
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindValidationFailed:
		return validationMessage(e.Field, e.Detail)
	case KindNotFound:
		return "User not found. Please check your username or create a new account."
	case KindAlreadyExists:
		return "Username already exists. Please choose a different username."
	case KindInvalidCredentials:
		return "Invalid credentials. Please check your username and password."
	case KindInvalidSecondFactor:
		return "Invalid 2FA code. Please check your authenticator app and try again."
	case KindSecondFactorRequired:
		return "Please enter your 2FA authentication code."
	case KindAccountExpired:
		return "Your credentials have expired. Please renew them to continue."
	case KindAccountLocked:
		return "Your account is locked. Please contact support."
	case KindNetworkTimeout:
		return "The identity service took too long to respond. Please try again."
	default:
		return genericRetry
	}
}

func validationMessage(field, reason string) string {
	switch field + "/" + reason {
	case "username/required":
		return "Username is required."
	case "username/too_short":
		return "Username must be at least 3 characters long."
	case "username/too_long":
		return "Username must be at most 64 characters long."
	case "username/bad_charset":
		return "Username can only contain letters, numbers, hyphens, and underscores."
	case "password/required":
		return "Password is required."
	case "totp_code/required":
		return "Please enter your 2FA authentication code."
	case "totp_code/bad_format":
		return "The 2FA code must be exactly 6 digits."
	default:
		return "The request is invalid."
	}
}

// Envelope is the only error shape re-emitted to clients.
type Envelope struct {
	Error   Kind   `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ToEnvelope renders err for clients. It returns nil for a nil error.
func ToEnvelope(err error) *Envelope {
	e := As(err)
	if e == nil {
		return nil
	}
	return &Envelope{Error: e.Kind, Message: UserMessage(e), Field: e.Field}
}
