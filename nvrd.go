package nvrd

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvrd/nvrd/internal/capture"
	cfg "github.com/nvrd/nvrd/internal/config"
	"github.com/nvrd/nvrd/internal/cron"
	"github.com/nvrd/nvrd/internal/detector"
	"github.com/nvrd/nvrd/internal/history"
	"github.com/nvrd/nvrd/internal/history/factory"
	"github.com/nvrd/nvrd/internal/metrics"
	"github.com/nvrd/nvrd/internal/notify"
	"github.com/nvrd/nvrd/internal/server"
	"github.com/nvrd/nvrd/internal/session"
	"github.com/nvrd/nvrd/internal/sweep"
	"github.com/nvrd/nvrd/internal/transfer"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = session.Spec

type Status = session.Status

type SweepSummary = sweep.Summary

type Config = cfg.Config

// LoadConfig reads the daemon TOML configuration.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// RegisterMetrics registers the recorder metrics with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// Daemon bundles the session registry, the sweep coordinator, the
// scheduler, and the HTTP control surface built from one Config.
type Daemon struct {
	cfg      *Config
	registry *session.Registry
	sweeper  *sweep.Sweeper
	ffmpeg   *capture.FFmpeg
	sched    *cron.Scheduler
	sink     history.Sink
	notifier *notify.Redis

	httpSrv    *http.Server
	metricsSrv *http.Server
}

// New assembles a Daemon. No listener or ticker is started yet; call Start.
func New(c *Config) (*Daemon, error) {
	log := c.Log.NewLogger()

	var sink history.Sink
	if c.History.DSN != "" {
		s, err := factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		sink = s
	}
	notifier := notify.NewRedis(c.Notify)

	ffmpeg := &capture.FFmpeg{
		Bin:       c.Capture.FFmpeg,
		MediaRoot: c.Media.Root,
		Transport: c.Capture.Transport,
	}
	if !ffmpeg.Available() {
		return nil, fmt.Errorf("ffmpeg binary %q not found in PATH", c.Capture.FFmpeg)
	}

	logCfg := c.Log
	registry := session.NewRegistry(session.Config{
		StateDir: c.State.Dir,
		Build: func(spec session.Spec) (*exec.Cmd, string, error) {
			return ffmpeg.RecordCommand(spec.Name, spec.Source, spec.TraceID)
		},
		SubprocessWriter: logCfg.SubprocessWriter,
		Logger:           log.With("component", "session"),
		Sink:             sink,
		Notifier:         notifierOrNil(notifier),
	})

	var mover transfer.Mover
	switch c.Sweep.Mover {
	case "s3":
		m, err := transfer.NewS3(context.Background(), c.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 mover: %w", err)
		}
		mover = m
	default:
		rc := &transfer.Rclone{
			Bin:       c.Sweep.Rclone,
			Remote:    c.Sweep.Remote,
			Transfers: c.Sweep.Transfers,
			Checkers:  c.Sweep.Checkers,
		}
		if !rc.Available() {
			return nil, fmt.Errorf("rclone binary %q not found in PATH", rc.Bin)
		}
		mover = rc
	}

	sweeper := sweep.NewSweeper(sweep.Config{
		Root:      c.Media.Root,
		VideoExts: c.Media.VideoExts,
		ImageExts: c.Media.ImageExts,
		MinAge:    c.Media.MinAge,
		Mover:     mover,
		Lock: &sweep.Lock{
			Token:  detector.TokenFile{Path: filepath.Join(c.State.Dir, "upload-sweep.lock")},
			Logger: log.With("component", "sweep"),
		},
		Logger:   log.With("component", "sweep"),
		Sink:     sink,
		Notifier: notifierOrNil(notifier),
	})

	sched := cron.NewScheduler()
	if c.Sweep.Schedule != "" {
		job := &cron.Job{
			Name:     "upload-sweep",
			Schedule: c.Sweep.Schedule,
			Fn: func(ctx context.Context) {
				_, _ = sweeper.Run(ctx)
			},
		}
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}

	return &Daemon{
		cfg:      c,
		registry: registry,
		sweeper:  sweeper,
		ffmpeg:   ffmpeg,
		sched:    sched,
		sink:     sink,
		notifier: notifier,
	}, nil
}

// Registry exposes the session registry for embedding.
func (d *Daemon) Registry() *session.Registry { return d.registry }

// Sweeper exposes the sweep coordinator for embedding.
func (d *Daemon) Sweeper() *sweep.Sweeper { return d.sweeper }

// Start launches the HTTP API, the metrics listener, and the sweep schedule.
func (d *Daemon) Start() error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	if addr := d.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		d.metricsSrv = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() { _ = d.metricsSrv.ListenAndServe() }()
	}
	if err := d.sched.Start(); err != nil {
		return err
	}
	d.httpSrv = server.NewServer(d.cfg.Server.Addr, server.Config{
		Registry: d.registry,
		Sweeper:  d.sweeper,
		FFmpeg:   d.ffmpeg,
		BasePath: d.cfg.Server.BasePath,
		APIKey:   d.cfg.Server.APIKey,
		Logger:   d.cfg.Log.NewLogger().With("component", "http"),
		Sink:     d.sink,
		Notifier: notifierOrNil(d.notifier),
	})
	return nil
}

// Stop shuts down listeners and tickers. Capture subprocesses keep running;
// their records survive in the state directory for the next daemon.
func (d *Daemon) Stop(ctx context.Context) error {
	d.sched.Stop()
	var first error
	if d.httpSrv != nil {
		if err := d.httpSrv.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	if d.metricsSrv != nil {
		if err := d.metricsSrv.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	if d.notifier != nil {
		_ = d.notifier.Close()
	}
	if c, ok := d.sink.(interface{ Close() error }); ok && c != nil {
		_ = c.Close()
	}
	return first
}

// notifierOrNil avoids a typed-nil interface when redis is not configured.
func notifierOrNil(r *notify.Redis) notify.Notifier {
	if r == nil {
		return nil
	}
	return r
}
