package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

const defaultTick = time.Minute

// Tracker is the part of the sync tracker the runner drives.
type Tracker interface {
	// Eligible returns the records that need to be pushed.
	Eligible(ctx context.Context) ([]establishment.Record, error)

	// StartRun starts a sync run.
	StartRun(ctx context.Context) (*sync.RunResult, error)

	// Status returns the persisted status.
	Status(ctx context.Context) (sync.Status, error)
}

// RunnerConfig holds the configuration for creating a Runner.
type RunnerConfig struct {
	// Clock overrides the time source.
	Clock func() time.Time

	// Logger is the structured logger.
	Logger *slog.Logger

	// Settings stores the schedule settings. They are reloaded on every tick.
	Settings Store

	// StaleRunAfter is how long an in-progress run may block scheduled runs. It should
	// match the tracker's takeover window. Defaults to sync.DefaultStaleRunAfter.
	StaleRunAfter time.Duration

	// Tick is how often the runner checks whether a run is due. Defaults to one minute.
	Tick time.Duration

	// Tracker runs the sync.
	Tracker Tracker
}

// validate checks that all required RunnerConfig fields are set.
func (c *RunnerConfig) validate() error {
	var errs []error
	if c.Settings == nil {
		errs = append(errs, errors.New("settings store is required"))
	}
	if c.Tracker == nil {
		errs = append(errs, errors.New("tracker is required"))
	}
	if c.Tick < 0 {
		errs = append(errs, fmt.Errorf("tick cannot be negative, got %v", c.Tick))
	}
	return errors.Join(errs...)
}

// Runner starts sync runs when they are due.
type Runner struct {
	logger     *slog.Logger
	now        func() time.Time
	settings   Store
	staleAfter time.Duration
	tick       time.Duration
	tracker    Tracker
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &Runner{
		logger:     cfg.Logger,
		now:        cfg.Clock,
		settings:   cfg.Settings,
		staleAfter: cfg.StaleRunAfter,
		tick:       cfg.Tick,
		tracker:    cfg.Tracker,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.staleAfter == 0 {
		r.staleAfter = sync.DefaultStaleRunAfter
	}
	if r.tick == 0 {
		r.tick = defaultTick
	}
	return r, nil
}

// Run checks for due runs on every tick until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.logger.Info("schedule runner started", "tick", r.tick)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("schedule runner stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				r.logger.Error("scheduled sync failed", "error", err)
			}
		}
	}
}

// Tick starts a run if one is due. Returns nil when nothing was started.
func (r *Runner) Tick(ctx context.Context) (*sync.RunResult, error) {
	settings, err := Load(ctx, r.settings)
	if err != nil {
		return nil, err
	}

	status, err := r.tracker.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting sync status: %w", err)
	}

	now := r.now()
	if !Due(settings, status, now, r.staleAfter) {
		return nil, nil
	}
	if status.InProgress {
		r.logger.Warn("run in progress looks abandoned, starting scheduled sync", "run_id", status.RunID, "started_at", status.RunStartedAt)
	}

	eligible, err := r.tracker.Eligible(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing eligible establishments: %w", err)
	}
	if len(eligible) == 0 {
		r.logger.Debug("scheduled sync skipped, nothing eligible")
		return nil, nil
	}

	r.logger.Info("starting scheduled sync", "eligible", len(eligible), "interval_minutes", settings.IntervalMinutes)
	return r.tracker.StartRun(ctx)
}
