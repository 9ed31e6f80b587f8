package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of recorder event.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventSessionStop  EventType = "session_stop"
	EventSnapshot     EventType = "snapshot"
	EventUpload       EventType = "upload"
	EventUploadFailed EventType = "upload_failed"
	EventSweep        EventType = "sweep"
)

// Event is an audit record for a session, snapshot, or sweep action.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name,omitempty"` // stream name, empty for sweep events
	PID        int       `json:"pid,omitempty"`
	Path       string    `json:"path,omitempty"` // local output path or transferred file
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans events out to several sinks. A failing sink is logged and does
// not block delivery to the others.
type Multi struct {
	Sinks  []Sink
	Logger *slog.Logger
}

func (m *Multi) Send(ctx context.Context, e Event) error {
	for _, s := range m.Sinks {
		if err := s.Send(ctx, e); err != nil && m.Logger != nil {
			m.Logger.Warn("history sink send failed", "type", string(e.Type), "error", err)
		}
	}
	return nil
}

// Emit sends e to sink when sink is non-nil, stamping OccurredAt if unset.
// Errors are logged, never escalated; audit loss must not affect operations.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, e Event) {
	if sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if err := sink.Send(ctx, e); err != nil && logger != nil {
		logger.Warn("history event dropped", "type", string(e.Type), "error", err)
	}
}
