package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"PlumFinder/internal/ports"
)

// ErrAlreadyStarted is returned by a second Start without Stop.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Parser accepts standard 5-field expressions, an optional leading seconds
// field and descriptors like @daily or @every 1h.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronScheduler runs one job on a cron expression. A trigger that fires while
// the previous run is still going is skipped.
type CronScheduler struct {
	spec     string
	location *time.Location
	logger   *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler configured via cron expression string.
func NewCronScheduler(spec string, location *time.Location, logger *zap.Logger) *CronScheduler {
	if location == nil {
		location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronScheduler{spec: spec, location: location, logger: logger.Named("scheduler")}
}

// Validate parses a cron expression.
func Validate(spec string) error {
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return nil
}

// Start registers the job and begins scheduling. The scheduler stops when
// ctx is done.
func (c *CronScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return ErrAlreadyStarted
	}

	log := cronLogger{sugar: c.logger.Sugar()}
	cr := cron.New(
		cron.WithParser(Parser),
		cron.WithLocation(c.location),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := cr.AddFunc(c.spec, func() {
		job(time.Now().In(c.location))
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", c.spec, err)
	}

	cr.Start()
	c.cron = cr
	if entries := cr.Entries(); len(entries) > 0 {
		c.logger.Info("scheduler started",
			zap.String("spec", c.spec),
			zap.String("timezone", c.location.String()),
			zap.Time("next_run", entries[0].Next))
	}

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()
	return nil
}

// NextRun returns the next trigger time, zero when not started.
func (c *CronScheduler) NextRun() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron == nil {
		return time.Time{}
	}
	entries := c.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop halts scheduling and waits for a running job or ctx.
func (c *CronScheduler) Stop(ctx context.Context) error {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr == nil {
		return nil
	}

	done := cr.Stop()
	select {
	case <-done.Done():
		c.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
