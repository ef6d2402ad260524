package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_TicksUntilCancelled(t *testing.T) {
	var ticks int32
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Job{
		Name:     "counter",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			if atomic.AddInt32(&ticks, 1) >= 3 {
				cancel()
			}
			return nil
		},
	})

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop after cancellation")
	}
	if atomic.LoadInt32(&ticks) < 3 {
		t.Errorf("only %d ticks fired", ticks)
	}
}

func TestRun_TicksAreSerialPerJob(t *testing.T) {
	var running, overlapped int32
	var ticks int32
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Job{
		Name:     "slow",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.StoreInt32(&overlapped, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			if atomic.AddInt32(&ticks, 1) >= 3 {
				cancel()
			}
			return nil
		},
	})
	s.Run(ctx)
	if atomic.LoadInt32(&overlapped) == 1 {
		t.Errorf("ticks of one job overlapped")
	}
}

func TestRun_SurvivesPanicsAndErrors(t *testing.T) {
	var ticks int32
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Job{
		Name:     "flaky",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			switch atomic.AddInt32(&ticks, 1) {
			case 1:
				panic("boom")
			case 2:
				return errors.New("transient")
			default:
				cancel()
				return nil
			}
		},
	})
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("a panicking tick killed the schedule")
	}
	if atomic.LoadInt32(&ticks) < 3 {
		t.Errorf("schedule stopped early after %d ticks", ticks)
	}
}

func TestRun_DrivesMultipleJobs(t *testing.T) {
	var a, b int32
	ctx, cancel := context.WithCancel(context.Background())
	bump := func(counter *int32) func(context.Context) error {
		return func(ctx context.Context) error {
			atomic.AddInt32(counter, 1)
			if atomic.LoadInt32(&a) >= 2 && atomic.LoadInt32(&b) >= 2 {
				cancel()
			}
			return nil
		}
	}
	s := New(Job{Name: "a", Interval: time.Millisecond, Run: bump(&a)})
	s.Schedule(Job{Name: "b", Interval: time.Millisecond, Run: bump(&b)})

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if atomic.LoadInt32(&a) < 2 || atomic.LoadInt32(&b) < 2 {
		t.Errorf("jobs not all driven: a=%d b=%d", a, b)
	}
}

func TestTick_GraceLetsInFlightWorkFinish(t *testing.T) {
	started := make(chan struct{})
	var sawCancel int32
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Job{
		Name:     "graceful",
		Interval: time.Hour,
		Run: func(tickCtx context.Context) error {
			close(started)
			// The scheduler's shutdown must not cancel this tick within the grace period.
			select {
			case <-tickCtx.Done():
				atomic.StoreInt32(&sawCancel, 1)
			case <-time.After(50 * time.Millisecond):
			}
			return nil
		},
	})
	s.ShutdownGrace = time.Second

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	<-started
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if atomic.LoadInt32(&sawCancel) == 1 {
		t.Errorf("tick was cancelled inside the grace period")
	}
}
