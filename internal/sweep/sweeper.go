package sweep

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvrd/nvrd/internal/history"
	"github.com/nvrd/nvrd/internal/metrics"
	"github.com/nvrd/nvrd/internal/notify"
	"github.com/nvrd/nvrd/internal/transfer"
)

// Config wires a Sweeper.
type Config struct {
	// Root is the media directory tree to sweep.
	Root string
	// VideoExts and ImageExts are the recognized artifact extensions,
	// lowercase with leading dot. Videos are swept before images.
	VideoExts []string
	ImageExts []string
	// MinAge skips files modified too recently, a quiescence guard on top
	// of the open-for-write check.
	MinAge time.Duration
	Mover  transfer.Mover
	Lock   *Lock
	// OpenForWrite defaults to ProcOpenForWrite; injectable for tests.
	OpenForWrite func(path string) bool
	Logger       *slog.Logger
	Sink         history.Sink
	Notifier     notify.Notifier
}

// Summary reports what one sweep cycle did.
type Summary struct {
	LockHeld    bool `json:"lock_held"`
	Moved       int  `json:"moved"`
	Failed      int  `json:"failed"`
	SkippedOpen int  `json:"skipped_open"`
}

// Sweeper runs at most one upload pass at a time across the host, moving
// completed artifacts to remote storage and never touching files still
// open for writing. Per-file failures are isolated; the file stays on disk
// and is retried on the next cycle.
type Sweeper struct {
	cfg Config
}

func NewSweeper(cfg Config) *Sweeper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OpenForWrite == nil {
		cfg.OpenForWrite = ProcOpenForWrite
	}
	if len(cfg.VideoExts) == 0 {
		cfg.VideoExts = []string{".mp4", ".mkv", ".mov", ".avi", ".ts"}
	}
	if len(cfg.ImageExts) == 0 {
		cfg.ImageExts = []string{".jpg", ".jpeg", ".png"}
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = 30 * time.Second
	}
	return &Sweeper{cfg: cfg}
}

// Run executes one sweep cycle. When the lock is held by a live holder it
// returns immediately with Summary.LockHeld set and no error. The lock is
// released unconditionally, even when individual transfers failed.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	if err := s.cfg.Lock.Acquire(); err != nil {
		if errors.Is(err, ErrLockHeld) {
			metrics.IncSweepRun("lock_held")
			s.cfg.Logger.Debug("sweep skipped, lock held")
			sum.LockHeld = true
			return sum, nil
		}
		return sum, err
	}
	defer s.cfg.Lock.Release()

	started := time.Now()
	s.pass(ctx, s.cfg.VideoExts, &sum)
	s.pass(ctx, s.cfg.ImageExts, &sum)

	metrics.IncSweepRun("ran")
	metrics.AddSweepMoved(sum.Moved)
	metrics.AddSweepFailed(sum.Failed)
	metrics.AddSweepSkippedOpen(sum.SkippedOpen)
	metrics.ObserveSweepDuration(time.Since(started).Seconds())

	s.emit(ctx, history.Event{
		Type:   history.EventSweep,
		Detail: sweepDetail(sum),
	})
	s.cfg.Logger.Info("sweep finished",
		"moved", sum.Moved, "failed", sum.Failed, "skipped_open", sum.SkippedOpen,
		"took", time.Since(started))
	return sum, ctx.Err()
}

func (s *Sweeper) pass(ctx context.Context, exts []string, sum *Summary) {
	now := time.Now()
	_ = filepath.WalkDir(s.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if err != nil {
			s.cfg.Logger.Warn("sweep walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !matchExt(path, exts) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil // racing a concurrent move/delete
		}
		if now.Sub(info.ModTime()) < s.cfg.MinAge || s.cfg.OpenForWrite(path) {
			// Still being written; defer to the next cycle.
			sum.SkippedOpen++
			s.cfg.Logger.Debug("skipping open file", "path", path)
			return nil
		}

		key, rerr := filepath.Rel(s.cfg.Root, path)
		if rerr != nil {
			return nil
		}
		key = filepath.ToSlash(key)
		if err := s.cfg.Mover.Move(ctx, path, key); err != nil {
			// Per-file failure: log, count, continue. The file remains on
			// disk and is retried next cycle.
			sum.Failed++
			s.cfg.Logger.Warn("transfer failed", "path", path, "error", err)
			s.emit(ctx, history.Event{Type: history.EventUploadFailed, Path: path, Detail: err.Error()})
			return nil
		}
		sum.Moved++
		s.cfg.Logger.Info("artifact moved", "path", path, "key", key)
		s.emit(ctx, history.Event{Type: history.EventUpload, Path: path, Detail: key})
		return nil
	})
}

func matchExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func sweepDetail(sum Summary) string {
	return fmt.Sprintf("moved=%d failed=%d skipped_open=%d", sum.Moved, sum.Failed, sum.SkippedOpen)
}

func (s *Sweeper) emit(ctx context.Context, e history.Event) {
	history.Emit(ctx, s.cfg.Sink, s.cfg.Logger, e)
	notify.Emit(ctx, s.cfg.Notifier, s.cfg.Logger, e)
}
