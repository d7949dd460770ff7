package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/cofrap/cofrap_auth/internal/autherr"
	"github.com/cofrap/cofrap_auth/internal/flow"
)

// prompter is satisfied by *liner.State.
type prompter interface {
	Prompt(prompt string) (string, error)
	PasswordPrompt(prompt string) (string, error)
}

type terminal struct {
	in    prompter
	out   io.Writer
	qrDir string
}

var errQuit = errors.New("quit")

// run drives one machine until the user is authenticated, the account is
// locked or the user quits. The returned value is the process exit code.
func (t *terminal) run(ctx context.Context, gw flow.Gateway, logger *slog.Logger) int {
	m := flow.New(gw, nil, flow.WithLogger(logger))
	state := m.State()
	for {
		if state.Err != nil {
			fmt.Fprintf(t.out, "! %s\n", autherr.UserMessage(state.Err))
		}
		t.show(state)

		switch {
		case state.Node == flow.NodeAuthenticated:
			fmt.Fprintf(t.out, "Welcome, %s.\n", state.Identity.Username)
			return 0
		case state.Node == flow.NodeFailed && state.Locked:
			return 2
		}

		ev, err := t.next(state)
		if errors.Is(err, errQuit) || errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(t.out)
			return 1
		}
		if err != nil {
			fmt.Fprintf(t.out, "! %v\n", err)
			return 1
		}

		next, err := m.Dispatch(ctx, ev)
		if err != nil {
			if ctx.Err() != nil {
				return 130
			}
			fmt.Fprintf(t.out, "! %v\n", err)
			continue
		}
		state = next
	}
}

// next asks for whatever the current node needs.
func (t *terminal) next(s flow.State) (flow.Event, error) {
	switch s.Node {
	case flow.NodeEntry:
		name, err := t.in.Prompt("Username: ")
		if err != nil {
			return nil, err
		}
		return flow.SubmitUsername{Username: strings.TrimSpace(name)}, nil

	case flow.NodeNeedsRegistration:
		ok, err := t.confirm(fmt.Sprintf("No account named %q. Create it?", s.Username))
		if err != nil || !ok {
			return flow.Restart{}, err
		}
		return flow.Register{}, nil

	case flow.NodeCredentialsIssued:
		if s.TwoFactorEnabled {
			return flow.Continue{}, nil
		}
		ok, err := t.confirm("Enable two-factor authentication?")
		if err != nil {
			return nil, err
		}
		if ok {
			return flow.SetupTwoFactor{}, nil
		}
		return flow.Continue{}, nil

	case flow.NodeNeedsPassword, flow.NodeNeedsPasswordAnd2FA:
		pw, err := t.in.PasswordPrompt("Password: ")
		if err != nil {
			return nil, err
		}
		ev := flow.SubmitCredentials{Password: pw}
		if s.RequiresTOTP() {
			code, err := t.in.Prompt("2FA code: ")
			if err != nil {
				return nil, err
			}
			ev.TOTPCode = strings.TrimSpace(code)
		}
		return ev, nil

	case flow.NodeNeedsRenewal:
		ok, err := t.confirm("Issue new credentials?")
		if err != nil || !ok {
			return flow.Restart{}, err
		}
		return flow.Renew{}, nil

	case flow.NodeFailed:
		answer, err := t.in.Prompt("Press enter to start over, q to quit: ")
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(strings.TrimSpace(answer), "q") {
			return nil, errQuit
		}
		return flow.Acknowledge{}, nil
	}
	return nil, fmt.Errorf("unexpected state %s", s.Node)
}

func (t *terminal) confirm(question string) (bool, error) {
	answer, err := t.in.Prompt(question + " [y/N/q] ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	case "q", "quit":
		return false, errQuit
	default:
		return false, nil
	}
}

// show prints artifacts issued by the last transition. They are never
// written anywhere else unless qrDir is set.
func (t *terminal) show(s flow.State) {
	if s.Issued == nil {
		return
	}
	if s.Issued.Password != "" {
		fmt.Fprintf(t.out, "Your password for %s: %s\n", s.Username, s.Issued.Password)
		fmt.Fprintln(t.out, "It is shown only once and is valid for 6 months.")
		t.saveQR(s.Username+"-password.png", s.Issued.QRImage)
	}
	if s.Issued.TwoFactorSecret != "" {
		fmt.Fprintf(t.out, "Authenticator secret: %s\n", s.Issued.TwoFactorSecret)
		t.saveQR(s.Username+"-2fa.png", s.Issued.TwoFactorQR)
	}
}

func (t *terminal) saveQR(name, encoded string) {
	if t.qrDir == "" || encoded == "" {
		return
	}
	png, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		fmt.Fprintf(t.out, "! could not decode QR code: %v\n", err)
		return
	}
	path := filepath.Join(t.qrDir, name)
	if err := os.WriteFile(path, png, 0o600); err != nil {
		fmt.Fprintf(t.out, "! could not save QR code: %v\n", err)
		return
	}
	fmt.Fprintf(t.out, "QR code saved to %s\n", path)
}
