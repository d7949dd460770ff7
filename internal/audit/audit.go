// Package audit records credential-lifecycle transitions. Records never carry
// passwords, TOTP codes, or generated secrets.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event describes one flow transition.
type Event struct {
	ID       string    `json:"id"`
	Session  string    `json:"session,omitempty"`
	Trigger  string    `json:"trigger"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Username string    `json:"username,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	At       time.Time `json:"at"`
}

// Recorder delivers audit events to a sink.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Stamp fills in the id and timestamp if missing.
func Stamp(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return ev
}

// LoggerRecorder writes events to the structured logger.
type LoggerRecorder struct {
	logger *slog.Logger
}

func NewLoggerRecorder(logger *slog.Logger) *LoggerRecorder {
	return &LoggerRecorder{logger: logger}
}

func (r *LoggerRecorder) Record(_ context.Context, ev Event) error {
	if r == nil || r.logger == nil {
		return nil
	}
	ev = Stamp(ev)
	attrs := []any{
		slog.String("audit_id", ev.ID),
		slog.String("trigger", ev.Trigger),
		slog.String("from", ev.From),
		slog.String("to", ev.To),
	}
	if ev.Session != "" {
		attrs = append(attrs, slog.String("session", ev.Session))
	}
	if ev.Username != "" {
		attrs = append(attrs, slog.String("username", ev.Username))
	}
	if ev.Kind != "" {
		attrs = append(attrs, slog.String("kind", ev.Kind))
	}
	r.logger.Info("flow transition", attrs...)
	return nil
}

// MemoryRecorder keeps events in memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

func (r *MemoryRecorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Stamp(ev))
	return nil
}

// Events returns a copy of the recorded events.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Multi fans an event out to every recorder, returning the first error.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	ev = Stamp(ev)
	var first error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
