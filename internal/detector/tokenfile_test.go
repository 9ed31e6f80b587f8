package detector

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTokenFile_CreateReadRemove(t *testing.T) {
	tok := TokenFile{Path: filepath.Join(t.TempDir(), "state", "cam1.rec.pid")}

	meta := Meta{StartUnix: 1700000000, Output: "/media/video/cam1/cam1_t1.mp4"}
	if err := tok.Create(4242, meta); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pid, got, err := tok.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pid != 4242 {
		t.Fatalf("pid = %d, want 4242", pid)
	}
	if got.StartUnix != meta.StartUnix || got.Output != meta.Output {
		t.Fatalf("meta = %+v, want %+v", got, meta)
	}

	tok.Remove()
	if _, _, err := tok.Read(); !os.IsNotExist(err) {
		t.Fatalf("Read after Remove: %v, want not-exist", err)
	}
}

func TestTokenFile_CreateIsExclusive(t *testing.T) {
	tok := TokenFile{Path: filepath.Join(t.TempDir(), "x.rec.pid")}
	if err := tok.Create(1, Meta{}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := tok.Create(2, Meta{})
	if !os.IsExist(err) {
		t.Fatalf("second Create: %v, want exist error", err)
	}
	// loser must not clobber the winner
	pid, _, err := tok.Read()
	if err != nil || pid != 1 {
		t.Fatalf("Read after lost race: pid=%d err=%v", pid, err)
	}
}

func TestTokenFile_AliveOwnProcess(t *testing.T) {
	tok := TokenFile{Path: filepath.Join(t.TempDir(), "self.rec.pid")}
	pid := os.Getpid()
	if err := tok.Create(pid, Meta{StartUnix: ProcStartUnix(pid)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	alive, err := tok.Alive()
	if err != nil {
		t.Fatalf("Alive: %v", err)
	}
	if !alive {
		t.Fatal("own process should be detected as alive")
	}
}

func TestTokenFile_AliveDeadPID(t *testing.T) {
	tok := TokenFile{Path: filepath.Join(t.TempDir(), "dead.rec.pid")}
	// Way beyond any default pid_max.
	if err := tok.Create(99999999, Meta{StartUnix: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	alive, err := tok.Alive()
	if err != nil {
		t.Fatalf("Alive: %v", err)
	}
	if alive {
		t.Fatal("nonexistent PID reported alive")
	}
}

func TestTokenFile_AliveStartMismatch(t *testing.T) {
	tok := TokenFile{Path: filepath.Join(t.TempDir(), "reused.rec.pid")}
	pid := os.Getpid()
	// A live PID with a start token that cannot match the current process.
	if err := tok.Create(pid, Meta{StartUnix: 12345}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	alive, err := tok.Alive()
	if err != nil {
		t.Fatalf("Alive: %v", err)
	}
	if alive {
		t.Fatal("mismatched start token must mean a recycled PID, not a live session")
	}
}

func TestTokenFile_AliveMissingFile(t *testing.T) {
	tok := TokenFile{Path: filepath.Join(t.TempDir(), "missing.rec.pid")}
	alive, err := tok.Alive()
	if err != nil {
		t.Fatalf("Alive on missing file: %v", err)
	}
	if alive {
		t.Fatal("missing token reported alive")
	}
}

func TestTokenFile_ReadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.rec.pid")
	if err := os.WriteFile(path, []byte("not-a-pid\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	tok := TokenFile{Path: path}
	if _, _, err := tok.Read(); err == nil {
		t.Fatal("expected error for malformed token")
	}
	if _, err := tok.Alive(); err == nil {
		t.Fatal("Alive should surface the malformed token error")
	}
}

func TestTokenFile_BarePIDToken(t *testing.T) {
	// Tokens written without metadata still parse; they just lack PID-reuse
	// protection.
	path := filepath.Join(t.TempDir(), "bare.rec.pid")
	if err := os.WriteFile(path, []byte("321\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, meta, err := TokenFile{Path: path}.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pid != 321 || meta.StartUnix != 0 {
		t.Fatalf("pid=%d meta=%+v, want 321 and zero meta", pid, meta)
	}
}

func TestPIDAlive(t *testing.T) {
	if !PIDAlive(os.Getpid()) {
		t.Fatal("own PID should be alive")
	}
	if PIDAlive(0) || PIDAlive(-5) {
		t.Fatal("non-positive PIDs are never alive")
	}
	if PIDAlive(99999999) {
		t.Fatal("nonexistent PID reported alive")
	}
}

func TestProcStartUnix(t *testing.T) {
	ts := ProcStartUnix(os.Getpid())
	if ts <= 0 {
		t.Fatalf("start time for own process = %d, want > 0", ts)
	}
	if ProcStartUnix(99999999) != 0 {
		t.Fatal("nonexistent PID should yield 0")
	}
}
