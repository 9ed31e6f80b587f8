package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Job defines a scheduled action, e.g. the periodic upload sweep.
// Schedule supports only the form "@every <duration>" (e.g., "@every 10m").
// Non-overlap: if the previous run of the same job is still running, the
// tick is skipped (the sweep lock additionally enforces this across
// processes).
type Job struct {
	Name     string
	Schedule string
	Fn       func(ctx context.Context)

	// internal (guarded via atomic)
	running atomic.Bool
}

// parseEvery parses schedules of the form "@every <duration>".
func parseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	durStr := strings.TrimSpace(strings.TrimPrefix(expr, "@every "))
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("@every duration must be > 0")
	}
	return d, nil
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("cron job requires a name")
	}
	if j.Schedule == "" {
		return errors.New("cron job requires a schedule")
	}
	if j.Fn == nil {
		return errors.New("cron job requires a function")
	}
	return nil
}

// Scheduler runs jobs on fixed intervals.
// Use Start to launch the background tickers, and Stop to cancel them.
type Scheduler struct {
	jobs []*Job
	quit chan struct{}
}

func NewScheduler() *Scheduler { return &Scheduler{} }

func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	if _, err := parseEvery(job.Schedule); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches all job loops. Call Stop to cancel; a stopped scheduler
// can be started again.
func (s *Scheduler) Start() error {
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	s.quit = make(chan struct{})
	for _, j := range s.jobs {
		d, _ := parseEvery(j.Schedule) // validated in Add
		go runJob(j, d, s.quit)
	}
	return nil
}

func runJob(j *Job, period time.Duration, quit <-chan struct{}) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-quit:
			return
		case <-t.C:
			// attempt to mark running; if already true, skip this tick
			if !j.running.CompareAndSwap(false, true) {
				continue
			}
			// run in a separate goroutine so a long sweep never blocks the ticker
			go func(j *Job) {
				defer j.running.Store(false)
				j.Fn(context.Background())
			}(j)
		}
	}
}

// Stop cancels all jobs. Idempotent; Start may be called again afterwards.
func (s *Scheduler) Stop() {
	if s.quit == nil {
		return
	}
	close(s.quit)
	s.quit = nil
}
