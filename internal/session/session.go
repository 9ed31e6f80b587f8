package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Spec describes a recording session to be started.
type Spec struct {
	Name    string `json:"name"`     // stream name, sole registry key
	Source  string `json:"source"`   // RTSP source address
	TraceID string `json:"trace_id"` // caller-supplied id, part of the output name
}

// Validate checks identifiers used to derive filesystem paths.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("session name required")
	}
	if strings.ContainsAny(s.Name, "/\\") || strings.Contains(s.Name, "..") {
		return fmt.Errorf("invalid session name: %q", s.Name)
	}
	if strings.TrimSpace(s.Source) == "" {
		return errors.New("session source required")
	}
	if strings.ContainsAny(s.TraceID, "/\\") || strings.Contains(s.TraceID, "..") {
		return fmt.Errorf("invalid trace id: %q", s.TraceID)
	}
	return nil
}

// State classifies a session record.
type State string

const (
	// StateActive means a record exists and the capture subprocess is live.
	StateActive State = "active"
	// StateInactive means a record existed but its subprocess is gone; the
	// stale record has been removed as a side effect of the observation.
	StateInactive State = "inactive"
	// StateNoRecord means no record exists for the name.
	StateNoRecord State = "no_record"
)

// Status reports the observed state of one named session.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Output    string    `json:"output,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}
