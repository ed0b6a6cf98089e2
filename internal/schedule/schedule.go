// Package schedule refreshes a feed on a fixed cadence. Retries live here,
// with the caller, so the feed itself never retries.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-retry"

	"weatherfeed/internal/feed"
	"weatherfeed/internal/metrics"
)

const (
	DefaultInterval  = "600"
	DefaultRetryBase = 2 * time.Second
	JobName          = "refresh_weather"
)

// Refresher is the part of feed.Service the runner drives.
type Refresher interface {
	Refresh(ctx context.Context) (feed.Snapshot, error)
}

type Config struct {
	// Interval is either whole seconds ("300") or a standard five-field
	// cron expression ("*/10 * * * *").
	Interval   string
	MaxRetries uint64
	RetryBase  time.Duration
	// RunOnStart triggers one refresh as soon as Start is called.
	RunOnStart bool
}

// ParseInterval accepts integer seconds or a cron expression.
func ParseInterval(s string) (cron.Schedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = DefaultInterval
	}
	if v, err := strconv.Atoi(s); err == nil {
		if v <= 0 {
			return nil, fmt.Errorf("interval must be positive, got %d", v)
		}
		return cron.Every(time.Duration(v) * time.Second), nil
	}
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return nil, fmt.Errorf("parse interval %q: %w", s, err)
	}
	return sched, nil
}

// Runner drives periodic refreshes of one feed.
type Runner struct {
	cfg      Config
	feed     Refresher
	logger   *slog.Logger
	schedule cron.Schedule

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	started bool
}

func New(cfg Config, r Refresher, logger *slog.Logger) (*Runner, error) {
	if r == nil {
		return nil, errors.New("schedule: nil refresher")
	}
	sched, err := ParseInterval(cfg.Interval)
	if err != nil {
		return nil, err
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, feed: r, logger: logger.With("job", JobName), schedule: sched}, nil
}

// RunOnce refreshes the feed, retrying temporary retrieval failures with
// exponential backoff. Configuration, parse and permanent provider errors
// are returned immediately.
func (r *Runner) RunOnce(ctx context.Context) (feed.Snapshot, error) {
	started := time.Now()
	attempt := 0
	backoff := retry.WithMaxRetries(r.cfg.MaxRetries, retry.NewExponential(r.cfg.RetryBase))
	snap, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (feed.Snapshot, error) {
		attempt++
		snap, err := r.feed.Refresh(ctx)
		if err == nil {
			return snap, nil
		}
		var re *feed.RetrievalError
		if errors.As(err, &re) && re.Temporary() && ctx.Err() == nil {
			r.logger.Warn("refresh failed, will retry", "attempt", attempt, "error", err)
			return feed.Empty, retry.RetryableError(err)
		}
		return feed.Empty, err
	})
	metrics.UpdateJobMetrics(JobName, started, err)
	if err != nil {
		r.logger.Error("scheduled refresh failed", "attempts", attempt, "duration", time.Since(started), "error", err)
		return feed.Empty, err
	}
	r.logger.Info("scheduled refresh completed", "attempts", attempt, "version", snap.Version, "duration", time.Since(started))
	return snap, nil
}

// Start schedules refreshes until ctx is done or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	log := cronLogger{r.logger}
	r.cron = cron.New(cron.WithLogger(log), cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)))
	id := r.cron.Schedule(r.schedule, cron.FuncJob(func() {
		_, _ = r.RunOnce(ctx)
	}))
	r.cron.Start()
	r.logger.Info("scheduler started", "interval", r.cfg.Interval, "next", r.cron.Entry(id).Next)

	if r.cfg.RunOnStart {
		go func() { _, _ = r.RunOnce(ctx) }()
	}
	go func() {
		<-ctx.Done()
		r.Stop()
	}()
}

// Stop halts scheduling and waits for a running refresh to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	r.logger.Info("scheduler stopped")
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
