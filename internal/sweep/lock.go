package sweep

import (
	"errors"
	"log/slog"
	"os"

	"github.com/nvrd/nvrd/internal/detector"
)

// ErrLockHeld means another live sweep holds the lock. It is a graceful
// no-op condition, not a failure.
var ErrLockHeld = errors.New("sweep lock held")

// Lock is the host-wide mutual exclusion token for sweeps: a token file
// created with O_EXCL, carrying the holder PID and its start-time token.
// A lock whose holder is no longer live is stale and is cleared during
// acquisition (self-healing after a crashed sweep).
type Lock struct {
	Token  detector.TokenFile
	Logger *slog.Logger
}

// Acquire takes the lock for the current process. Returns ErrLockHeld when
// a live holder exists.
func (l *Lock) Acquire() error {
	meta := detector.Meta{StartUnix: detector.ProcStartUnix(os.Getpid())}
	err := l.Token.Create(os.Getpid(), meta)
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return err
	}

	alive, aerr := l.Token.Alive()
	if aerr != nil {
		// Unreadable lock: clear it, the holder cannot be verified.
		l.logger().Warn("unreadable sweep lock, clearing", "path", l.Token.Path, "error", aerr)
	} else if alive {
		return ErrLockHeld
	} else {
		l.logger().Info("clearing stale sweep lock", "path", l.Token.Path)
	}
	l.Token.Remove()

	// One retry; losing the recreate race means someone else won the lock.
	if err := l.Token.Create(os.Getpid(), meta); err != nil {
		if os.IsExist(err) {
			return ErrLockHeld
		}
		return err
	}
	return nil
}

// Release drops the lock unconditionally if this process holds it.
func (l *Lock) Release() {
	pid, _, err := l.Token.Read()
	if err != nil {
		return
	}
	if pid == os.Getpid() {
		l.Token.Remove()
	}
}

func (l *Lock) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
