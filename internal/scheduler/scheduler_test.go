package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestScheduler() *Scheduler {
	return New(zerolog.Nop())
}

func TestEveryRejectsDuplicateTag(t *testing.T) {
	s := newTestScheduler()
	if err := s.Every(time.Second, "scout", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Every(time.Minute, "scout", func() error { return nil }); err == nil {
		t.Error("expected duplicate tag to be rejected")
	}
}

func TestEveryRejectsNonPositiveInterval(t *testing.T) {
	s := newTestScheduler()
	if err := s.Every(0, "scout", func() error { return nil }); err == nil {
		t.Error("expected zero interval to be rejected")
	}
}

func TestRunPendingRunsDueJobs(t *testing.T) {
	s := newTestScheduler()
	runs := 0
	if err := s.Every(10*time.Second, "scout", func() error {
		runs++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	s.RunPending(now) // first run fires immediately
	s.RunPending(now.Add(5 * time.Second))
	s.RunPending(now.Add(10 * time.Second))

	if runs != 2 {
		t.Errorf("expected 2 runs, got %d", runs)
	}
}

func TestFailingJobDoesNotBlockOthers(t *testing.T) {
	s := newTestScheduler()
	var failed []string
	s.OnFailure = func(tag string) { failed = append(failed, tag) }

	healthyRuns := 0
	if err := s.Every(time.Second, "broken", func() error {
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Every(time.Second, "healthy", func() error {
		healthyRuns++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	s.RunPending(now)
	s.RunPending(now.Add(time.Second))

	if healthyRuns != 2 {
		t.Errorf("expected healthy job to run twice, got %d", healthyRuns)
	}
	if len(failed) != 2 || failed[0] != "broken" || failed[1] != "broken" {
		t.Errorf("expected two failure reports for broken, got %v", failed)
	}
}

func TestPanickingJobIsContained(t *testing.T) {
	s := newTestScheduler()
	var failed []string
	s.OnFailure = func(tag string) { failed = append(failed, tag) }

	laterRuns := 0
	if err := s.Every(time.Second, "panics", func() error {
		panic("scout exploded")
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Every(time.Second, "later", func() error {
		laterRuns++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	s.RunPending(now)                      // panic tick
	s.RunPending(now.Add(time.Second))     // panicking job must run again
	s.RunPending(now.Add(2 * time.Second)) // and again

	if laterRuns != 3 {
		t.Errorf("expected later job to run 3 times, got %d", laterRuns)
	}
	if len(failed) != 3 {
		t.Errorf("expected 3 failure reports, got %d", len(failed))
	}
}

func TestRunningJobSkipsTick(t *testing.T) {
	s := newTestScheduler()

	started := make(chan struct{})
	release := make(chan struct{})
	runs := 0
	if err := s.Every(time.Second, "slow", func() error {
		runs++
		if runs == 1 {
			close(started)
			<-release
		}
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Now()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunPending(now)
	}()
	<-started

	// The job is still running; a later tick must skip it, not overlap.
	s.RunPending(now.Add(time.Second))
	if runs != 1 {
		t.Errorf("expected a single overlapping run, got %d", runs)
	}

	close(release)
	wg.Wait()

	// Once finished the job becomes schedulable again.
	s.RunPending(now.Add(2 * time.Second))
	if runs != 2 {
		t.Errorf("expected job to run after completion, got %d runs", runs)
	}
}
