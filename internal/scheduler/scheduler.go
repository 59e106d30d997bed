// Package scheduler triggers a full crawl once a day at a fixed wall-clock
// time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
)

const (
	DefaultHour   = 10
	DefaultMinute = 0

	hoursPerDay    = 24
	minutesPerHour = 60
)

var (
	// ErrInvalidTime is returned for an hour or minute outside the clock range.
	ErrInvalidTime = errors.New("invalid schedule time")
	// ErrAlreadyRunning is returned by RunOnce while another run is active.
	ErrAlreadyRunning = errors.New("run already in progress")
)

// Config holds the daily trigger time in the process's local zone.
type Config struct {
	Hour   int  `env:"SCHEDULER_HOUR"    yaml:"hour"`
	Minute int  `env:"SCHEDULER_MINUTE"  yaml:"minute"`
	RunNow bool `env:"SCHEDULER_RUN_NOW" yaml:"run_now"`
}

// Validate checks the hour and minute ranges.
func (c Config) Validate() error {
	if c.Hour < 0 || c.Hour >= hoursPerDay {
		return fmt.Errorf("%w: hour %d not in 0-23", ErrInvalidTime, c.Hour)
	}
	if c.Minute < 0 || c.Minute >= minutesPerHour {
		return fmt.Errorf("%w: minute %d not in 0-59", ErrInvalidTime, c.Minute)
	}
	return nil
}

// Spec returns the five-field cron expression "M H * * *".
func (c Config) Spec() string {
	return fmt.Sprintf("%d %d * * *", c.Minute, c.Hour)
}

// Job is one scheduled run.
type Job func(ctx context.Context) error

// Daily runs a Job every day at the configured time. A run that is still in
// progress when the next trigger fires causes that trigger to be skipped.
type Daily struct {
	cfg      Config
	job      Job
	log      logger.Logger
	cron     *cron.Cron
	schedule cron.Schedule

	mu      sync.Mutex
	running bool
}

// NewDaily validates cfg and prepares the cron entry.
func NewDaily(cfg Config, job Job, log logger.Logger) (*Daily, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errors.New("job is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	schedule, err := cron.ParseStandard(cfg.Spec())
	if err != nil {
		return nil, fmt.Errorf("failed to parse cron expression: %w", err)
	}

	cl := cronLogger{log: log}
	return &Daily{
		cfg:      cfg,
		job:      job,
		log:      log,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		schedule: schedule,
	}, nil
}

// Next returns the first trigger time strictly after now.
func (d *Daily) Next(now time.Time) time.Time {
	return d.schedule.Next(now)
}

// Run schedules the job and blocks until ctx is cancelled. In-flight runs
// see the cancellation through their context and are waited for.
func (d *Daily) Run(ctx context.Context) error {
	d.cron.Schedule(d.schedule, cron.FuncJob(func() { d.trigger(ctx, "cron") }))
	d.cron.Start()
	d.log.Info("Scheduler started",
		logger.String("schedule", d.cfg.Spec()),
		logger.Time("next_run", d.Next(time.Now())),
	)

	// A startup run is not tracked by cron, so it gets its own WaitGroup.
	var startup sync.WaitGroup
	if d.cfg.RunNow {
		startup.Add(1)
		go func() {
			defer startup.Done()
			d.trigger(ctx, "startup")
		}()
	}

	<-ctx.Done()
	d.log.Info("Scheduler stopping")
	<-d.cron.Stop().Done()
	startup.Wait()
	d.log.Info("Scheduler stopped")
	return nil
}

// RunOnce runs the job immediately, unless a run is already in progress.
func (d *Daily) RunOnce(ctx context.Context) error {
	if !d.begin() {
		return ErrAlreadyRunning
	}
	defer d.end()
	return d.job(ctx)
}

func (d *Daily) trigger(ctx context.Context, source string) {
	start := time.Now()
	d.log.Info("Scheduled crawl triggered", logger.String("trigger", source))

	err := d.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		d.log.Warn("Skipping trigger, previous run still in progress", logger.String("trigger", source))
	case err != nil:
		d.log.Error("Scheduled crawl failed",
			logger.String("trigger", source),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err),
		)
	default:
		d.log.Info("Scheduled crawl finished",
			logger.String("trigger", source),
			logger.Duration("elapsed", time.Since(start)),
			logger.Time("next_run", d.Next(time.Now())),
		)
	}
}

func (d *Daily) begin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return false
	}
	d.running = true
	return true
}

func (d *Daily) end() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, logger.Any(key, kv[i+1]))
	}
	return fields
}
