package capture

import "fmt"

// CaptureError reports a failed snapshot attempt along with the subprocess
// diagnostic output.
type CaptureError struct {
	Name   string
	Output string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("capture %q: %v: %s", e.Name, e.Err, e.Output)
	}
	return fmt.Sprintf("capture %q: %v", e.Name, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }
