// Package flow is the credential-lifecycle orchestrator. A Machine decides,
// after each gateway round-trip, which credential artifact to ask for next.
// It allows at most one gateway call in flight and discards results that
// arrive after a Restart.
package flow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cofrap/cofrap_auth/internal/audit"
	"github.com/cofrap/cofrap_auth/internal/autherr"
	"github.com/cofrap/cofrap_auth/internal/gateway"
	"github.com/cofrap/cofrap_auth/internal/logging"
	"github.com/cofrap/cofrap_auth/internal/session"
	"github.com/cofrap/cofrap_auth/internal/validate"
)

// Gateway is the set of identity operations the flow drives.
type Gateway interface {
	CheckStatus(ctx context.Context, username string) (gateway.IdentityRecord, error)
	CreateUser(ctx context.Context, username string) (gateway.IssuedCredentials, error)
	SetupTwoFactor(ctx context.Context, username string) (gateway.TwoFactorBundle, error)
	Authenticate(ctx context.Context, creds gateway.Credentials) (gateway.Identity, error)
}

// SessionWriter receives the identity once authentication succeeds.
type SessionWriter interface {
	Login(ctx context.Context, id session.Identity) error
}

// Machine holds one FlowState. It is safe for concurrent use.
type Machine struct {
	gw       Gateway
	sess     SessionWriter
	recorder audit.Recorder
	logger   *slog.Logger
	key      string

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
}

// Option customizes a Machine.
type Option func(*Machine)

func WithRecorder(r audit.Recorder) Option { return func(m *Machine) { m.recorder = r } }

func WithLogger(l *slog.Logger) Option { return func(m *Machine) { m.logger = l } }

// WithSessionKey tags audit events with the owning browser session.
func WithSessionKey(key string) Option { return func(m *Machine) { m.key = key } }

// New builds a machine at Entry. sess may be nil when no identity needs to be
// kept, e.g. in the terminal client.
func New(gw Gateway, sess SessionWriter, opts ...Option) *Machine {
	m := &Machine{
		gw:     gw,
		sess:   sess,
		logger: logging.Discard(),
		state:  State{Node: NodeEntry},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current snapshot. Issued artifacts are never part of it.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cancel abandons the flow: any in-flight call is cancelled and its result
// discarded, and the machine returns to Entry.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Machine) resetLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.state = State{Node: NodeEntry}
}

// outcome is the result of a gateway step, applied under the lock.
type outcome struct {
	to        Node
	err       *autherr.Error
	twoFactor *bool
	locked    bool
	issued    *Artifacts
	identity  *gateway.Identity
}

type step struct {
	inflight Node
	run      func(ctx context.Context) outcome
}

// Dispatch applies ev. The returned error is reserved for protocol problems
// (ErrBusy, ErrSuperseded, ErrInvalidEvent, ErrTerminal); user-facing failures
// are reported in State.Err.
func (m *Machine) Dispatch(ctx context.Context, ev Event) (State, error) {
	m.mu.Lock()
	from := m.state.Node

	if _, ok := ev.(Restart); ok {
		m.resetLocked()
		s := m.state
		m.mu.Unlock()
		m.record(ctx, ev, from, s)
		return s, nil
	}
	if m.state.Pending {
		s := m.state
		m.mu.Unlock()
		return s, ErrBusy
	}
	if m.state.Terminal() {
		s := m.state
		m.mu.Unlock()
		return s, ErrTerminal
	}

	st, err := m.planLocked(ev)
	if err != nil {
		s := m.state
		m.mu.Unlock()
		return s, err
	}
	if st == nil {
		s := m.state
		m.mu.Unlock()
		m.record(ctx, ev, from, s)
		return s, nil
	}

	callCtx, cancel := context.WithCancel(ctx)
	m.gen++
	gen := m.gen
	m.cancel = cancel
	m.state.Pending = true
	m.state.Node = st.inflight
	m.state.Err = nil
	m.mu.Unlock()

	out := st.run(callCtx)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		s := m.state
		m.mu.Unlock()
		m.logger.Debug("discarding superseded flow result", slog.String("trigger", ev.name()), slog.String("to", string(out.to)))
		return s, ErrSuperseded
	}
	m.cancel = nil
	m.state.Pending = false
	m.applyLocked(ctx, from, out)
	s := m.state
	s.Issued = out.issued
	m.mu.Unlock()

	m.record(ctx, ev, from, s)
	return s, nil
}

// planLocked validates ev against the current node. A nil step means the
// transition was applied synchronously.
func (m *Machine) planLocked(ev Event) (*step, error) {
	s := &m.state
	switch e := ev.(type) {
	case SubmitUsername:
		if s.Node != NodeEntry {
			return nil, ErrInvalidEvent
		}
		if err := validate.Username(e.Username).Err("username"); err != nil {
			s.Err = autherr.As(err)
			return nil, nil
		}
		s.Username = e.Username
		s.Err = nil
		return m.checkStep(e.Username), nil

	case Register:
		if s.Node != NodeNeedsRegistration {
			return nil, ErrInvalidEvent
		}
		return m.issueStep(NodeRegistering, s.Username, false), nil

	case SetupTwoFactor:
		if s.Node != NodeCredentialsIssued || s.TwoFactorEnabled {
			return nil, ErrInvalidEvent
		}
		return m.twoFactorStep(s.Username), nil

	case Continue:
		if s.Node != NodeCredentialsIssued {
			return nil, ErrInvalidEvent
		}
		s.Node = passwordNode(s.TwoFactorEnabled)
		s.Err = nil
		return nil, nil

	case SubmitCredentials:
		if !s.RequiresPassword() {
			return nil, ErrInvalidEvent
		}
		if err := validate.Password(e.Password).Err("password"); err != nil {
			s.Err = autherr.As(err)
			return nil, nil
		}
		if err := validate.TOTP(e.TOTPCode, s.RequiresTOTP()).Err("totp_code"); err != nil {
			s.Err = autherr.As(err)
			return nil, nil
		}
		creds := gateway.Credentials{Username: s.Username, Password: e.Password, TOTPCode: e.TOTPCode}
		return m.authenticateStep(creds, s.Node), nil

	case Renew:
		if s.Node != NodeNeedsRenewal {
			return nil, ErrInvalidEvent
		}
		username := e.Username
		if username == "" {
			username = s.Username
		}
		if err := validate.Username(username).Err("username"); err != nil {
			s.Err = autherr.As(err)
			return nil, nil
		}
		s.Username = username
		return m.issueStep(NodeRenewing, username, s.TwoFactorEnabled), nil

	case Acknowledge:
		if s.Node != NodeFailed {
			return nil, ErrInvalidEvent
		}
		*s = State{Node: NodeEntry}
		return nil, nil
	}
	return nil, ErrInvalidEvent
}

func (m *Machine) checkStep(username string) *step {
	return &step{inflight: NodeChecking, run: func(ctx context.Context) outcome {
		return routeRecord(m.gw.CheckStatus(ctx, username))
	}}
}

// issueStep covers both registration and renewal. Registration lands on
// CredentialsIssued; renewal goes straight back to the password node with the
// fresh artifacts attached to the returned State.
func (m *Machine) issueStep(inflight Node, username string, twoFactor bool) *step {
	origin := NodeNeedsRegistration
	if inflight == NodeRenewing {
		origin = NodeNeedsRenewal
	}
	return &step{inflight: inflight, run: func(ctx context.Context) outcome {
		creds, err := m.gw.CreateUser(ctx, username)
		if err != nil {
			e := autherr.As(err)
			if e.Kind != autherr.KindAlreadyExists {
				return outcome{to: origin, err: e}
			}
			out := routeRecord(m.gw.CheckStatus(ctx, username))
			if out.err == nil {
				out.err = e
			}
			return out
		}
		issued := &Artifacts{Password: creds.Password, QRImage: creds.QRImage}
		if inflight == NodeRenewing {
			return outcome{to: passwordNode(twoFactor), issued: issued}
		}
		return outcome{to: NodeCredentialsIssued, twoFactor: boolPtr(false), issued: issued}
	}}
}

func (m *Machine) twoFactorStep(username string) *step {
	return &step{inflight: NodeCredentialsIssued, run: func(ctx context.Context) outcome {
		bundle, err := m.gw.SetupTwoFactor(ctx, username)
		if err != nil {
			return outcome{to: NodeCredentialsIssued, err: autherr.As(err)}
		}
		return outcome{
			to:        NodeCredentialsIssued,
			twoFactor: boolPtr(true),
			issued:    &Artifacts{TwoFactorSecret: bundle.Secret, TwoFactorQR: bundle.QRImage},
		}
	}}
}

func (m *Machine) authenticateStep(creds gateway.Credentials, origin Node) *step {
	return &step{inflight: NodeAuthenticating, run: func(ctx context.Context) outcome {
		id, err := m.gw.Authenticate(ctx, creds)
		if err == nil {
			return outcome{to: NodeAuthenticated, identity: &id}
		}
		e := autherr.As(err)
		switch e.Kind {
		case autherr.KindSecondFactorRequired:
			return outcome{to: NodeNeedsPasswordAnd2FA, twoFactor: boolPtr(true)}
		case autherr.KindAccountExpired:
			return outcome{to: NodeNeedsRenewal, err: e}
		case autherr.KindAccountLocked:
			return outcome{to: NodeFailed, err: e, locked: true}
		case autherr.KindNotFound:
			return outcome{to: NodeNeedsRegistration, err: e}
		default:
			return outcome{to: origin, err: e}
		}
	}}
}

// routeRecord picks the node for a status check result. Expiry wins over a
// second factor: renewal comes before 2FA verification.
func routeRecord(rec gateway.IdentityRecord, err error) outcome {
	if err != nil {
		e := autherr.As(err)
		if e.Kind == autherr.KindNotFound {
			return outcome{to: NodeNeedsRegistration}
		}
		return outcome{to: NodeFailed, err: e}
	}
	out := outcome{twoFactor: boolPtr(rec.Has2FA)}
	switch {
	case rec.Expired:
		out.to = NodeNeedsRenewal
	case rec.Has2FA:
		out.to = NodeNeedsPasswordAnd2FA
	default:
		out.to = NodeNeedsPassword
	}
	return out
}

func (m *Machine) applyLocked(ctx context.Context, from Node, out outcome) {
	s := &m.state
	if out.identity != nil {
		id := session.Identity{UserID: out.identity.UserID, Username: out.identity.Username, AuthenticatedAt: time.Now().UTC()}
		if m.sess != nil {
			if err := m.sess.Login(ctx, id); err != nil {
				m.logger.Error("session login failed", slog.Any("error", err))
				s.Node = from
				s.Err = autherr.New(autherr.KindUnknown)
				return
			}
		}
		s.Identity = &id
	}
	s.Node = out.to
	s.Err = out.err
	if out.twoFactor != nil {
		s.TwoFactorEnabled = *out.twoFactor
	}
	if out.locked {
		s.Locked = true
	}
}

func (m *Machine) record(ctx context.Context, ev Event, from Node, s State) {
	if m.recorder == nil {
		return
	}
	rec := audit.Event{
		Session:  m.key,
		Trigger:  ev.name(),
		From:     string(from),
		To:       string(s.Node),
		Username: s.Username,
	}
	if s.Err != nil {
		rec.Kind = string(s.Err.Kind)
	}
	if err := m.recorder.Record(ctx, rec); err != nil {
		m.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

func passwordNode(twoFactor bool) Node {
	if twoFactor {
		return NodeNeedsPasswordAnd2FA
	}
	return NodeNeedsPassword
}

func boolPtr(b bool) *bool { return &b }
