// Package worker runs the periodic refresh-token sweep. On Postgres the sweep
// is a River periodic job, so only one instance runs it per interval; on
// SQLite it runs in-process on a cron schedule.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/robfig/cron/v3"
)

// Sweeper deletes refresh tokens that can no longer be used.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// SweepRecorder counts deleted tokens.
type SweepRecorder interface {
	TokensSwept(n int64)
}

// Sweep runs one sweep and logs the outcome.
func Sweep(ctx context.Context, s Sweeper, rec SweepRecorder, log *slog.Logger) error {
	start := time.Now()
	n, err := s.SweepExpired(ctx)
	if err != nil {
		log.ErrorContext(ctx, "refresh token sweep failed", "err", err)
		return err
	}
	if rec != nil {
		rec.TokensSwept(n)
	}
	log.InfoContext(ctx, "refresh token sweep", "deleted", n, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// SweepArgs is the River job that deletes expired or revoked refresh tokens.
type SweepArgs struct{}

// Kind returns the unique job type identifier.
func (SweepArgs) Kind() string { return "refresh_token_sweep" }

type sweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	sweeper Sweeper
	rec     SweepRecorder
	log     *slog.Logger
}

func (w *sweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	return Sweep(ctx, w.sweeper, w.rec, w.log)
}

// Queue is the interface exposed by both schedulers.
type Queue interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options configures New.
type Options struct {
	Driver      string
	Pool        *pgxpool.Pool // required when Driver == "postgres"
	Concurrency int
	Interval    time.Duration
	Sweeper     Sweeper
	Recorder    SweepRecorder
	Logger      *slog.Logger
}

// Client wraps river.Client and exposes a Start/Stop lifecycle.
type Client struct {
	client *river.Client[pgx.Tx]
}

// Start begins processing queued and periodic jobs.
func (c *Client) Start(ctx context.Context) error { return c.client.Start(ctx) }

// Stop gracefully shuts down the worker client.
func (c *Client) Stop(ctx context.Context) error { return c.client.Stop(ctx) }

// Cron runs the sweep in-process for the SQLite driver.
type Cron struct {
	cron *cron.Cron
	spec string
	run  func()
	log  *slog.Logger
}

// Start schedules the sweep. It also runs once immediately.
func (c *Cron) Start(ctx context.Context) error {
	if _, err := c.cron.AddFunc(c.spec, c.run); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.cron.Start()
	go c.run()
	c.log.InfoContext(ctx, "refresh token sweep scheduled", "schedule", c.spec)
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (c *Cron) Stop(ctx context.Context) error {
	select {
	case <-c.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// New creates the scheduler appropriate for the driver.
func New(opts Options) (Queue, error) {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Driver != "postgres" {
		return &Cron{
			cron: cron.New(),
			spec: "@every " + opts.Interval.String(),
			run: func() {
				ctx, cancel := context.WithTimeout(context.Background(), opts.Interval)
				defer cancel()
				_ = Sweep(ctx, opts.Sweeper, opts.Recorder, opts.Logger)
			},
			log: opts.Logger,
		}, nil
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("worker: postgres driver requires a pgx pool")
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &sweepWorker{sweeper: opts.Sweeper, rec: opts.Recorder, log: opts.Logger})

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	client, err := river.NewClient(riverpgxv5.New(opts.Pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: concurrency},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(opts.Interval),
				func() (river.JobArgs, *river.InsertOpts) { return SweepArgs{}, nil },
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Client{client: client}, nil
}

// MigrateRiver runs River's built-in schema migrations against the given pool.
// Only call this when DB_DRIVER=postgres.
func MigrateRiver(ctx context.Context, db *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(db), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("run river migrations: %w", err)
	}
	return nil
}
