package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Meta is the second line of a token file. StartUnix guards against PID
// reuse: the token is only considered live when the current process with
// that PID started at the recorded time. Output records what the holder
// is writing, when applicable.
type Meta struct {
	StartUnix int64  `json:"start_unix"`
	Output    string `json:"output,omitempty"`
}

// TokenFile is a liveness token on disk: first line is the PID, second line
// is JSON metadata carrying the process start time. Both the recording
// session registry and the sweep lock use this format.
type TokenFile struct {
	Path string
}

// Create writes the token atomically with O_EXCL. It fails with os.ErrExist
// when the token already exists; callers decide whether the existing holder
// is live before clearing it.
func (t TokenFile) Create(pid int, meta Meta) error {
	if err := os.MkdirAll(filepath.Dir(t.Path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(t.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	m, _ := json.Marshal(meta)
	_, werr := fmt.Fprintf(f, "%d\n%s\n", pid, m)
	cerr := f.Close()
	if werr != nil {
		_ = os.Remove(t.Path)
		return werr
	}
	return cerr
}

// Read returns the recorded PID and metadata. A missing file yields
// os.ErrNotExist; a malformed file yields an error and pid 0.
func (t TokenFile) Read() (int, Meta, error) {
	var meta Meta
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return 0, meta, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) == 0 {
		return 0, meta, fmt.Errorf("empty token file: %s", t.Path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", t.Path, err)
	}
	if len(lines) >= 2 {
		// Metadata is optional; a bare-PID token still works, just without
		// reuse protection.
		_ = json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &meta)
	}
	return pid, meta, nil
}

// Remove deletes the token, best-effort.
func (t TokenFile) Remove() { _ = os.Remove(t.Path) }

// Alive reports whether the token's holder is live: the file exists, the
// PID exists, and the recorded start token matches the current process
// start time (when both are known).
func (t TokenFile) Alive() (bool, error) {
	pid, meta, err := t.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if meta.StartUnix > 0 {
		cur := ProcStartUnix(pid)
		if cur > 0 && cur != meta.StartUnix {
			return false, nil // PID reused; not the process that wrote the token
		}
	}
	return PIDAlive(pid), nil
}
