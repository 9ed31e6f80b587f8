package transfer

import (
	"context"
	"fmt"
)

// Mover transfers one local file to remote storage with move semantics: on
// success the local copy is gone, on failure it is left intact so the next
// sweep cycle retries it. Implementations must be safe for concurrent use.
type Mover interface {
	// Move transfers localPath to the remote location identified by key
	// (a slash-separated path relative to the remote destination root).
	Move(ctx context.Context, localPath, key string) error
}

// TransferError reports a failed transfer of a single file. It is per-file
// and non-fatal to a sweep.
type TransferError struct {
	Path   string
	Output string
	Err    error
}

func (e *TransferError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("transfer %s: %v: %s", e.Path, e.Err, e.Output)
	}
	return fmt.Sprintf("transfer %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
