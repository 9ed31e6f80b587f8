//go:build !windows

package sweep

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ProcOpenForWrite reports whether any process on the host holds path open
// with write access. It scans /proc/<pid>/fd symlinks and checks the access
// mode in fdinfo. This is the correctness-critical check that keeps the
// sweep from shipping a file the recorder is still writing.
func ProcOpenForWrite(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	// fd links carry the canonical path; a symlink anywhere in the media
	// root would otherwise never match.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	pids, err := gopsproc.Pids()
	if err != nil {
		return false
	}
	for _, pid := range pids {
		fdDir := "/proc/" + strconv.Itoa(int(pid)) + "/fd"
		entries, err := os.ReadDir(fdDir)
		if err != nil {
			continue // process gone or not ours to inspect
		}
		for _, e := range entries {
			target, err := os.Readlink(filepath.Join(fdDir, e.Name()))
			if err != nil || target != abs {
				continue
			}
			if fdWritable(int(pid), e.Name()) {
				return true
			}
		}
	}
	return false
}

// fdWritable parses /proc/<pid>/fdinfo/<fd> for the open flags and checks
// the access mode bits (O_WRONLY or O_RDWR).
func fdWritable(pid int, fd string) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/fdinfo/" + fd)
	if err != nil {
		// Cannot verify the mode; assume writable so the file is deferred.
		return true
	}
	for _, line := range strings.Split(string(b), "\n") {
		if !strings.HasPrefix(line, "flags:") {
			continue
		}
		v := strings.TrimSpace(strings.TrimPrefix(line, "flags:"))
		flags, err := strconv.ParseInt(v, 8, 64)
		if err != nil {
			return true
		}
		return flags&0b11 != 0 // O_ACCMODE: 0 read-only, 1 write-only, 2 read-write
	}
	return true
}
