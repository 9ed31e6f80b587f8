package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by Start when a live session exists for the name.
	ErrAlreadyActive = errors.New("session already active")
	// ErrNotFound is returned by Stop when no record exists for the name.
	ErrNotFound = errors.New("no session record")
)

// LaunchError reports a capture subprocess that could not be started
// (missing binary, bad arguments). Distinct from ErrAlreadyActive.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch capture for %q: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
