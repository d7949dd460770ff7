// Package devfaas is a development double of the OpenFaaS identity functions
// (check-user-status, generate-password, generate-2fa, authenticate-user). It
// speaks the same wire format so the proxy can be exercised end to end without
// a cluster.
package devfaas

import "time"

// User is a row of the users table.
type User struct {
	ID             int64
	Username       string
	PasswordHash   []byte
	TOTPSecret     string
	GenDate        time.Time
	Expired        bool
	FailedAttempts int
	Locked         bool
}

// HasTwoFactor reports whether a TOTP secret has been generated.
func (u User) HasTwoFactor() bool { return u.TOTPSecret != "" }
