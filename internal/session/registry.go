package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/nvrd/nvrd/internal/detector"
	"github.com/nvrd/nvrd/internal/history"
	"github.com/nvrd/nvrd/internal/metrics"
	"github.com/nvrd/nvrd/internal/notify"
)

const tokenSuffix = ".rec.pid"

// BuildCommand constructs the (not yet started) capture subprocess for a
// spec and returns it together with the output target path. Injected so the
// registry stays independent of ffmpeg argument details.
type BuildCommand func(spec Spec) (*exec.Cmd, string, error)

// Config wires a Registry.
type Config struct {
	// StateDir holds one liveness token per session name; it must survive
	// daemon restarts.
	StateDir string
	// Build creates the capture subprocess for a spec.
	Build BuildCommand
	// SubprocessWriter, when set, provides a log destination for the capture
	// subprocess stderr. The registry closes it after the subprocess exits.
	SubprocessWriter func(name string) io.WriteCloser
	Logger           *slog.Logger
	Sink             history.Sink    // optional audit trail
	Notifier         notify.Notifier // optional event publishing
}

// child tracks a subprocess launched by this daemon instance so it can be
// reaped. Sessions started by a previous instance exist only as token files.
type child struct {
	cmd  *exec.Cmd
	logW io.WriteCloser
}

// Registry enforces at most one live capture session per stream name.
// Records are liveness tokens on disk (PID plus start-time generation
// token), so the invariant holds across daemon restarts and stale records
// left by crashes are detected and self-healed.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	children map[string]*child
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{cfg: cfg, children: make(map[string]*child)}
}

func (r *Registry) token(name string) detector.TokenFile {
	return detector.TokenFile{Path: filepath.Join(r.cfg.StateDir, name+tokenSuffix)}
}

// Start launches the capture subprocess for spec unless a live session
// already exists for spec.Name. A stale record (dead or recycled PID) is
// cleared and replaced. The subprocess is detached into its own process
// group; Start returns as soon as the launch succeeds and makes no claim
// about the stream connection itself.
func (r *Registry) Start(spec Spec) (Status, error) {
	if err := spec.Validate(); err != nil {
		return Status{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tok := r.token(spec.Name)
	alive, err := tok.Alive()
	if err != nil {
		// Unreadable token: treat as stale rather than blocking starts forever.
		r.cfg.Logger.Warn("unreadable session token, clearing", "name", spec.Name, "error", err)
		tok.Remove()
	} else if alive {
		return Status{}, ErrAlreadyActive
	} else if _, _, rerr := tok.Read(); rerr == nil {
		r.cfg.Logger.Info("clearing stale session record", "name", spec.Name)
		tok.Remove()
		delete(r.children, spec.Name)
	}

	cmd, output, err := r.cfg.Build(spec)
	if err != nil {
		metrics.IncLaunchFailure(spec.Name)
		return Status{}, &LaunchError{Name: spec.Name, Err: err}
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var logW io.WriteCloser
	if r.cfg.SubprocessWriter != nil {
		logW = r.cfg.SubprocessWriter(spec.Name)
	}
	if logW != nil {
		cmd.Stderr = logW
	}

	if err := cmd.Start(); err != nil {
		if logW != nil {
			_ = logW.Close()
		}
		metrics.IncLaunchFailure(spec.Name)
		return Status{}, &LaunchError{Name: spec.Name, Err: err}
	}
	pid := cmd.Process.Pid

	meta := detector.Meta{StartUnix: detector.ProcStartUnix(pid), Output: output}
	if cerr := tok.Create(pid, meta); cerr != nil {
		// Lost the creation race to another starter; the existing holder wins.
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		go func() { _ = cmd.Wait() }()
		if logW != nil {
			_ = logW.Close()
		}
		if os.IsExist(cerr) {
			return Status{}, ErrAlreadyActive
		}
		return Status{}, cerr
	}

	r.children[spec.Name] = &child{cmd: cmd, logW: logW}
	go r.reap(spec.Name, cmd, logW)

	st := Status{Name: spec.Name, State: StateActive, PID: pid, Output: output, StartedAt: time.Now()}
	metrics.IncSessionStart(spec.Name)
	metrics.SetActiveSessions(r.countLiveLocked())
	r.emit(history.Event{Type: history.EventSessionStart, Name: spec.Name, PID: pid, Path: output})
	r.cfg.Logger.Info("capture session started", "name", spec.Name, "pid", pid, "output", output)
	return st, nil
}

// reap waits for a child launched by this instance so it does not linger as
// a zombie, and closes its log writer. It does not touch the token file:
// stale tokens are observed and removed by Status/Start, which keeps the
// "Inactive reported exactly once" behavior.
func (r *Registry) reap(name string, cmd *exec.Cmd, logW io.WriteCloser) {
	err := cmd.Wait()
	if logW != nil {
		_ = logW.Close()
	}
	r.mu.Lock()
	if c, ok := r.children[name]; ok && c.cmd == cmd {
		delete(r.children, name)
	}
	r.mu.Unlock()
	if err != nil {
		r.cfg.Logger.Debug("capture subprocess exited", "name", name, "error", err)
	}
}

// Stop terminates the session for name. The record is removed even when
// signal delivery fails: the registry favors consistency over confirming
// subprocess death, and a surviving orphan is logged for the operator.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tok := r.token(name)
	pid, meta, err := tok.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		// Malformed record: nothing to signal; treat as absent after clearing.
		r.cfg.Logger.Warn("removing malformed session token", "name", name, "error", err)
		tok.Remove()
		return ErrNotFound
	}

	// A recycled PID is not our subprocess; clear the stale record without
	// signaling the stranger that inherited the number.
	if meta.StartUnix > 0 {
		if cur := detector.ProcStartUnix(pid); cur > 0 && cur != meta.StartUnix {
			r.cfg.Logger.Info("clearing stale session record", "name", name, "pid", pid)
			tok.Remove()
			delete(r.children, name)
			metrics.SetActiveSessions(r.countLiveLocked())
			return nil
		}
	}

	// Signal the whole process group; fall back to the single PID when the
	// group is gone.
	if kerr := syscall.Kill(-pid, syscall.SIGTERM); kerr != nil {
		if kerr = syscall.Kill(pid, syscall.SIGTERM); kerr != nil {
			r.cfg.Logger.Warn("termination signal failed, removing record anyway",
				"name", name, "pid", pid, "error", kerr)
		}
	}
	tok.Remove()
	delete(r.children, name)

	metrics.IncSessionStop(name)
	metrics.SetActiveSessions(r.countLiveLocked())
	r.emit(history.Event{Type: history.EventSessionStop, Name: name, PID: pid})
	r.cfg.Logger.Info("capture session stopped", "name", name, "pid", pid)
	return nil
}

// Status reports the state for name. Observing a stale record removes it,
// so a dead session reports Inactive exactly once and NoRecord afterwards.
func (r *Registry) Status(name string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked(name)
}

func (r *Registry) statusLocked(name string) Status {
	tok := r.token(name)
	pid, meta, err := tok.Read()
	if err != nil {
		if !os.IsNotExist(err) {
			r.cfg.Logger.Warn("removing malformed session token", "name", name, "error", err)
			tok.Remove()
		}
		return Status{Name: name, State: StateNoRecord}
	}

	alive := detector.PIDAlive(pid)
	if alive && meta.StartUnix > 0 {
		if cur := detector.ProcStartUnix(pid); cur > 0 && cur != meta.StartUnix {
			alive = false // recycled PID
		}
	}
	if alive {
		st := Status{Name: name, State: StateActive, PID: pid, Output: meta.Output}
		if meta.StartUnix > 0 {
			st.StartedAt = time.Unix(meta.StartUnix, 0)
		}
		return st
	}

	tok.Remove()
	delete(r.children, name)
	metrics.SetActiveSessions(r.countLiveLocked())
	r.cfg.Logger.Info("stale session record removed", "name", name, "pid", pid)
	return Status{Name: name, State: StateInactive, PID: pid, Output: meta.Output}
}

// List reports the status of every known record, live or stale. Stale
// records observed here are removed the same way Status removes them.
func (r *Registry) List() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.recordNamesLocked()
	out := make([]Status, 0, len(names))
	for _, n := range names {
		out = append(out, r.statusLocked(n))
	}
	return out
}

// SweepRecords unconditionally removes all session records without
// signaling the underlying subprocesses. Intended for post-crash cleanup.
func (r *Registry) SweepRecords() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.recordNamesLocked()
	for _, n := range names {
		r.token(n).Remove()
		delete(r.children, n)
	}
	metrics.SetActiveSessions(0)
	if len(names) > 0 {
		r.cfg.Logger.Info("session records cleared", "count", len(names))
	}
	return len(names)
}

func (r *Registry) recordNamesLocked() []string {
	matches, _ := filepath.Glob(filepath.Join(r.cfg.StateDir, "*"+tokenSuffix))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), tokenSuffix))
	}
	return names
}

func (r *Registry) countLiveLocked() int {
	n := 0
	for _, name := range r.recordNamesLocked() {
		if ok, _ := r.token(name).Alive(); ok {
			n++
		}
	}
	return n
}

func (r *Registry) emit(e history.Event) {
	ctx := context.Background()
	history.Emit(ctx, r.cfg.Sink, r.cfg.Logger, e)
	notify.Emit(ctx, r.cfg.Notifier, r.cfg.Logger, e)
}
