// Package scheduler runs tagged periodic jobs on one cooperative loop.
// A job that fails or panics is logged under its tag and never prevents
// other due jobs from running, on the same tick or any later one.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a named unit of periodic work owned by the scheduler for the
// process lifetime.
type Job struct {
	Tag      string
	Interval time.Duration
	fn       func() error

	lastRun time.Time
	running bool
}

// Scheduler drives registered jobs. Due jobs run one at a time in
// registration order; there is no priority beyond due time.
type Scheduler struct {
	logger zerolog.Logger
	tick   time.Duration

	// OnFailure, when set, is called with the job tag after a failed or
	// panicked run. Used to feed metrics.
	OnFailure func(tag string)

	mu   sync.Mutex
	jobs []*Job
}

// New creates a scheduler that checks for due jobs every second.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With().Str("component", "scheduler").Logger(),
		tick:   time.Second,
	}
}

// Every registers a job under a unique tag.
func (s *Scheduler) Every(interval time.Duration, tag string, fn func() error) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval for %q must be positive", tag)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Tag == tag {
			return fmt.Errorf("scheduler: duplicate job tag %q", tag)
		}
	}
	s.jobs = append(s.jobs, &Job{Tag: tag, Interval: interval, fn: fn})
	return nil
}

// Start runs the scheduling loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("starting scheduler")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("shutting down scheduler")
			return
		case now := <-ticker.C:
			s.RunPending(now)
		}
	}
}

// RunPending executes every job due at now, in registration order. A job
// still running from a previous invocation is skipped for this tick rather
// than overlapped.
func (s *Scheduler) RunPending(now time.Time) {
	s.mu.Lock()
	var due []*Job
	for _, j := range s.jobs {
		if j.running {
			s.logger.Debug().Str("tag", j.Tag).Msg("job still running, skipping tick")
			continue
		}
		if j.lastRun.IsZero() || now.Sub(j.lastRun) >= j.Interval {
			j.running = true
			j.lastRun = now
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.runJob(j)
	}
}

func (s *Scheduler) runJob(j *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("tag", j.Tag).
				Interface("panic", r).
				Msg("job panicked")
			s.fail(j.Tag)
		}
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()

	if err := j.fn(); err != nil {
		s.logger.Error().Err(err).Str("tag", j.Tag).Msg("job failed")
		s.fail(j.Tag)
	}
}

func (s *Scheduler) fail(tag string) {
	if s.OnFailure != nil {
		s.OnFailure(tag)
	}
}
