package flow

import (
	"errors"

	"github.com/cofrap/cofrap_auth/internal/autherr"
	"github.com/cofrap/cofrap_auth/internal/session"
)

// Node is a position in the credential lifecycle.
type Node string

const (
	NodeEntry               Node = "entry"
	NodeChecking            Node = "checking"
	NodeNeedsRegistration   Node = "needs_registration"
	NodeRegistering         Node = "registering"
	NodeCredentialsIssued   Node = "credentials_issued"
	NodeNeedsPassword       Node = "needs_password"
	NodeNeedsPasswordAnd2FA Node = "needs_password_and_2fa"
	NodeAuthenticating      Node = "authenticating"
	NodeAuthenticated       Node = "authenticated"
	NodeNeedsRenewal        Node = "needs_renewal"
	NodeRenewing            Node = "renewing"
	NodeFailed              Node = "failed"
)

var (
	// ErrBusy is returned while a gateway call is pending for the flow.
	ErrBusy = errors.New("flow: operation already in progress")
	// ErrSuperseded is returned when the flow was restarted or cancelled while
	// the call was in flight. The late result is discarded.
	ErrSuperseded = errors.New("flow: superseded by restart")
	// ErrInvalidEvent is returned for an event the current node does not accept.
	ErrInvalidEvent = errors.New("flow: event not accepted in current state")
	// ErrTerminal is returned for any event other than Restart in a terminal node.
	ErrTerminal = errors.New("flow: flow has terminated")
)

// Event drives a transition.
type Event interface {
	name() string
}

type (
	SubmitUsername    struct{ Username string }
	Register          struct{}
	SubmitCredentials struct {
		Password string
		TOTPCode string
	}
	SetupTwoFactor struct{}
	Continue       struct{}
	// Renew reissues credentials. An empty Username means the flow's username.
	Renew       struct{ Username string }
	Acknowledge struct{}
	Restart     struct{}
)

func (SubmitUsername) name() string    { return "submit_username" }
func (Register) name() string          { return "register" }
func (SubmitCredentials) name() string { return "submit_credentials" }
func (SetupTwoFactor) name() string    { return "setup_2fa" }
func (Continue) name() string          { return "continue" }
func (Renew) name() string             { return "renew" }
func (Acknowledge) name() string       { return "acknowledge" }
func (Restart) name() string           { return "restart" }

// EventName returns the wire name of ev.
func EventName(ev Event) string { return ev.name() }

// Artifacts are the one-time outputs of credential issuance. They appear only
// in the State returned by the Dispatch that produced them.
type Artifacts struct {
	Password        string `json:"password,omitempty"`
	QRImage         string `json:"qr_code,omitempty"`
	TwoFactorSecret string `json:"two_factor_secret,omitempty"`
	TwoFactorQR     string `json:"two_factor_qr_code,omitempty"`
}

// State is a snapshot of the flow.
type State struct {
	Node             Node              `json:"node"`
	Username         string            `json:"username,omitempty"`
	TwoFactorEnabled bool              `json:"two_factor_enabled"`
	Pending          bool              `json:"pending"`
	Locked           bool              `json:"locked,omitempty"`
	Err              *autherr.Error    `json:"-"`
	Identity         *session.Identity `json:"identity,omitempty"`
	Issued           *Artifacts        `json:"issued,omitempty"`
}

// RequiresPassword reports whether the current node collects a password.
func (s State) RequiresPassword() bool {
	return s.Node == NodeNeedsPassword || s.Node == NodeNeedsPasswordAnd2FA
}

// RequiresTOTP reports whether the current node collects a TOTP code.
func (s State) RequiresTOTP() bool { return s.Node == NodeNeedsPasswordAnd2FA }

// Terminal reports whether only Restart is accepted.
func (s State) Terminal() bool {
	return s.Node == NodeAuthenticated || (s.Node == NodeFailed && s.Locked)
}
