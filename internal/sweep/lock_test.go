package sweep

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvrd/nvrd/internal/detector"
)

func testLock(t *testing.T) *Lock {
	t.Helper()
	return &Lock{Token: detector.TokenFile{Path: filepath.Join(t.TempDir(), "upload-sweep.lock")}}
}

func TestLock_AcquireRelease(t *testing.T) {
	l := testLock(t)
	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	pid, _, err := l.Token.Read()
	if err != nil {
		t.Fatalf("lock token not written: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("lock holder = %d, want %d", pid, os.Getpid())
	}

	l.Release()
	if _, _, err := l.Token.Read(); !os.IsNotExist(err) {
		t.Fatalf("lock not released: %v", err)
	}
}

func TestLock_HeldByLiveHolder(t *testing.T) {
	l := testLock(t)
	// Simulate a live holder: this test process itself.
	meta := detector.Meta{StartUnix: detector.ProcStartUnix(os.Getpid())}
	if err := l.Token.Create(os.Getpid(), meta); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	if err := l.Acquire(); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("Acquire = %v, want ErrLockHeld", err)
	}
}

func TestLock_StaleHolderCleared(t *testing.T) {
	l := testLock(t)
	// A lock left behind by a crashed sweep: dead PID.
	if err := l.Token.Create(99999999, detector.Meta{StartUnix: 1}); err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire over stale lock: %v", err)
	}
	pid, _, err := l.Token.Read()
	if err != nil || pid != os.Getpid() {
		t.Fatalf("lock not taken over: pid=%d err=%v", pid, err)
	}
	l.Release()
}

func TestLock_UnreadableCleared(t *testing.T) {
	l := testLock(t)
	if err := os.MkdirAll(filepath.Dir(l.Token.Path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(l.Token.Path, []byte("garbage\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire over unreadable lock: %v", err)
	}
	l.Release()
}

func TestLock_ReleaseIgnoresForeignHolder(t *testing.T) {
	l := testLock(t)
	if err := l.Token.Create(1, detector.Meta{}); err != nil {
		t.Fatalf("seed foreign lock: %v", err)
	}
	l.Release()
	if pid, _, err := l.Token.Read(); err != nil || pid != 1 {
		t.Fatalf("foreign lock touched: pid=%d err=%v", pid, err)
	}
}
