// Package jobs runs periodic housekeeping for the in-memory moderation state.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/optiplay/backend/internal/logger"
)

// Sweeper removes stale entries as of now and reports how many it dropped.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SweeperFunc adapts a function to Sweeper.
type SweeperFunc func(now time.Time) int

// Sweep calls f(now).
func (f SweeperFunc) Sweep(now time.Time) int { return f(now) }

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron *cron.Cron
	now  func() time.Time
}

// NewScheduler returns a stopped Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cronLogger{}))),
		now:  time.Now,
	}
}

// AddSweep runs s every interval under name.
func (s *Scheduler) AddSweep(name string, interval time.Duration, sw Sweeper) error {
	if interval <= 0 {
		return fmt.Errorf("sweep %s: interval must be positive", name)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.runSweep(name, sw)
	})
	if err != nil {
		return fmt.Errorf("schedule sweep %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) runSweep(name string, sw Sweeper) int {
	removed := sw.Sweep(s.now())
	if removed > 0 {
		logger.Component("jobs").WithFields(map[string]interface{}{
			"job":     name,
			"removed": removed,
		}).Debug("sweep finished")
	}
	return removed
}

// Len reports the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes cron's own messages into logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Component("jobs").WithFields(kv(keysAndValues)).Debug(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Component("jobs").WithError(err).WithFields(kv(keysAndValues)).Error(msg)
}

func kv(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
