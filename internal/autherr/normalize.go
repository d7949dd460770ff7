package autherr

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
)

// phrase maps a recognizable upstream sentence onto a kind. Order matters:
// "Invalid TOTP code" must win over the broader credential phrases.
type phrase struct {
	text string
	kind Kind
}

var phrases = []phrase{
	{"TOTP code is required", KindSecondFactorRequired},
	{"Invalid TOTP code", KindInvalidSecondFactor},
	{"Invalid username or password", KindInvalidCredentials},
	{"Invalid credentials", KindInvalidCredentials},
	{"Account has expired", KindAccountExpired},
	{"Credentials expired", KindAccountExpired},
	{"User already exists", KindAlreadyExists},
	{"User does not exist", KindNotFound},
	{"User not found", KindNotFound},
	{"Account is locked", KindAccountLocked},
	{"Account locked", KindAccountLocked},
}

// upstreamBody is the union of the error shapes emitted by the identity
// functions and by this service's own proxy envelope.
type upstreamBody struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field"`
	Expired bool   `json:"expired"`
}

// FromResponse classifies an upstream HTTP response. It returns nil when the
// response is a success that carries no error marker.
func FromResponse(status int, body []byte) *Error {
	success := status >= 200 && status < 300

	var parsed upstreamBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		if success {
			return nil
		}
		return fromBareStatus(status)
	}

	if success && parsed.Error == "" && !strings.EqualFold(parsed.Status, "error") && !strings.EqualFold(parsed.Status, "expired") {
		return nil
	}

	if kind, ok := ParseKind(parsed.Error); ok {
		e := &Error{Kind: kind}
		switch kind {
		case KindValidationFailed:
			e.Field = parsed.Field
		case KindUnknown:
			e.Detail = Sanitize(parsed.Message)
		}
		return e
	}

	for _, text := range []string{parsed.Error, parsed.Message} {
		if text == "" {
			continue
		}
		if kind, ok := matchPhrase(text); ok {
			return New(kind)
		}
	}

	if strings.EqualFold(parsed.Status, "expired") || parsed.Expired {
		return New(KindAccountExpired)
	}

	switch status {
	case http.StatusLocked:
		return New(KindAccountLocked)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return New(KindUpstreamUnavailable)
	}

	msg := parsed.Error
	if msg == "" {
		msg = parsed.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return Unknown(msg)
}

func fromBareStatus(status int) *Error {
	switch status {
	case http.StatusLocked:
		return New(KindAccountLocked)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return New(KindUpstreamUnavailable)
	default:
		return New(KindMalformedResponse)
	}
}

func matchPhrase(text string) (Kind, bool) {
	for _, p := range phrases {
		if strings.Contains(text, p.text) {
			return p.kind, true
		}
	}
	return "", false
}

// FromTransport classifies a failure that happened before any response was
// read: timeouts, refused connections, aborted requests.
func FromTransport(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return New(KindNetworkTimeout)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return New(KindNetworkTimeout)
	}
	// Refused, reset, aborted and DNS failures all mean nobody answered.
	return New(KindUpstreamUnavailable)
}
