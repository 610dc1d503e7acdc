// Package scheduler provides scheduling logic for OrderPipe.
//
// It runs housekeeping jobs, such as sweeping idle conversations, on cron expressions.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/OrderPipe/internal/metrics"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec runs the idle session sweep every ten minutes.
const DefaultSweepSpec = "*/10 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Purger removes conversations idle since before.
type Purger interface {
	PurgeIdleConversations(before time.Time) (int, error)
}

// SessionSweeper deletes conversations that have been idle longer than the timeout.
type SessionSweeper struct {
	purger  Purger
	timeout time.Duration
	now     func() time.Time
}

// NewSessionSweeper creates a sweeper for purger.
func NewSessionSweeper(purger Purger, idleTimeout time.Duration) *SessionSweeper {
	return &SessionSweeper{purger: purger, timeout: idleTimeout, now: time.Now}
}

// Sweep runs one purge pass and returns the number of conversations removed.
func (s *SessionSweeper) Sweep() (int, error) {
	cutoff := s.now().Add(-s.timeout)
	n, err := s.purger.PurgeIdleConversations(cutoff)
	if err != nil {
		slog.Error("SessionSweeper.Sweep: purge failed", "error", err, "cutoff", cutoff)
		return 0, err
	}
	metrics.SessionsPurgedTotal.Add(float64(n))
	if n > 0 {
		slog.Info("SessionSweeper.Sweep: purged idle conversations", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// ScheduleSweep registers the sweeper on s.
func (s *Scheduler) ScheduleSweep(spec string, sweeper *SessionSweeper) error {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	if err := s.AddJob(spec, func() { _, _ = sweeper.Sweep() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	slog.Info("Session sweep scheduled", "spec", spec, "idle_timeout", sweeper.timeout)
	return nil
}
