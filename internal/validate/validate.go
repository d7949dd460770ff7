// Package validate holds the syntactic checks applied to user input before any
// upstream call is issued. Every function here is pure.
package validate

import (
	"github.com/cofrap/cofrap_auth/internal/autherr"
)

const (
	// UsernameMinLength is the shortest accepted username.
	UsernameMinLength = 3
	// UsernameMaxLength is the longest accepted username.
	UsernameMaxLength = 64
	// TOTPLength is the number of digits in a second-factor code.
	TOTPLength = 6
)

// Reason explains why an input was rejected.
type Reason string

const (
	ReasonRequired   Reason = "required"
	ReasonTooShort   Reason = "too_short"
	ReasonTooLong    Reason = "too_long"
	ReasonBadCharset Reason = "bad_charset"
	ReasonBadFormat  Reason = "bad_format"
)

// Result is either valid or carries the rejection reason.
type Result struct {
	Reason Reason
}

// Valid is the accepted result.
var Valid = Result{}

// OK reports whether the input passed.
func (r Result) OK() bool { return r.Reason == "" }

// Err converts an invalid result into a ValidationFailed error for field.
// It returns nil for valid results.
func (r Result) Err(field string) error {
	if r.OK() {
		return nil
	}
	return autherr.Validation(field, string(r.Reason))
}

func invalid(reason Reason) Result { return Result{Reason: reason} }

// Username checks length and the [A-Za-z0-9_-] charset.
func Username(s string) Result {
	switch {
	case s == "":
		return invalid(ReasonRequired)
	case len(s) < UsernameMinLength:
		return invalid(ReasonTooShort)
	case len(s) > UsernameMaxLength:
		return invalid(ReasonTooLong)
	}
	for i := 0; i < len(s); i++ {
		if !usernameByte(s[i]) {
			return invalid(ReasonBadCharset)
		}
	}
	return Valid
}

func usernameByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	default:
		return false
	}
}

// TOTP checks a second-factor code. An empty code is only rejected when the
// target identity has a second factor enabled.
func TOTP(code string, required bool) Result {
	if code == "" {
		if required {
			return invalid(ReasonRequired)
		}
		return Valid
	}
	if len(code) != TOTPLength {
		return invalid(ReasonBadFormat)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return invalid(ReasonBadFormat)
		}
	}
	return Valid
}

// Password only checks presence; strength is owned by the upstream generator.
func Password(s string) Result {
	if s == "" {
		return invalid(ReasonRequired)
	}
	return Valid
}
