// Package scheduler runs worker job functions on fixed intervals. Ticks are
// serial per job (an overrunning tick delays the next one), job errors and
// panics are logged and never stop the schedule, and shutdown lets the
// current tick finish within a bounded grace period before cancelling it.
package scheduler

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one periodically invoked function.
type Job struct {
	Name string
	// InitialDelay before the first tick.
	InitialDelay time.Duration
	// Interval between the end of one tick and the start of the next.
	Interval time.Duration
	// Run does one tick's work. Errors are logged, never propagated.
	Run func(ctx context.Context) error
}

// Scheduler drives a set of Jobs until its context is cancelled.
type Scheduler struct {
	// ShutdownGrace bounds how long an in-flight tick may keep running after
	// shutdown is requested. Defaults to 10s.
	ShutdownGrace time.Duration
	jobs          []Job
}

func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		ShutdownGrace: 10 * time.Second,
		jobs:          jobs,
	}
}

// Schedule adds a job. Call before Run.
func (s *Scheduler) Schedule(job Job) {
	s.jobs = append(s.jobs, job)
}

// Run blocks until ctx is cancelled and every job's in-flight tick has been
// given its grace period. It always returns nil; job failures never surface.
func (s *Scheduler) Run(ctx context.Context) error {
	eg := errgroup.Group{}
	for _, job := range s.jobs {
		j := job
		eg.Go(func() error {
			s.runJob(ctx, j)
			return nil
		})
	}
	return eg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	timer := time.NewTimer(job.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.tick(ctx, job)
		timer.Reset(job.Interval)
	}
}

// tick runs one invocation. The tick's context outlives the scheduler's until
// the grace period elapses, so a worker can finish its current lease instead
// of abandoning it to the lock TTL.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			select {
			case <-done:
			case <-time.After(s.ShutdownGrace):
				cancel()
			}
		}
	}()
	defer close(done)

	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("job %s panicked, details: %v", job.Name, r))
		}
	}()
	if err := job.Run(tickCtx); err != nil {
		log.Error(fmt.Sprintf("job %s failed, details: %v", job.Name, err))
	}
}
