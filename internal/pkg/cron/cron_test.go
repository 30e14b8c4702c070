package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunExecutesJob(t *testing.T) {
	t.Parallel()
	s := New()
	var runs int32
	s.Register(Job{
		Name:     "tick",
		Interval: time.Hour,
		Fn: func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	if err := s.Run(context.Background(), "tick"); err != nil {
		t.Fatalf("run: %v", err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) == 1 })
}

func TestRunUnknownJob(t *testing.T) {
	t.Parallel()
	s := New()
	if err := s.Run(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()
	s := New()
	release := make(chan struct{})
	var runs int32
	s.Register(Job{
		Name:     "slow",
		Interval: time.Hour,
		Fn: func(context.Context) error {
			atomic.AddInt32(&runs, 1)
			<-release
			return nil
		},
	})

	_ = s.Run(context.Background(), "slow")
	waitFor(t, func() bool { return atomic.LoadInt32(&runs) == 1 })

	// Second trigger while the first is still in flight must be dropped.
	_ = s.Run(context.Background(), "slow")
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("expected overlap skipped, got %d runs", got)
	}
	close(release)
}

func TestListReportsFailure(t *testing.T) {
	t.Parallel()
	s := New()
	s.Register(Job{
		Name:     "failing",
		Interval: time.Hour,
		Fn: func(context.Context) error {
			return errors.New("boom")
		},
	})

	_ = s.Run(context.Background(), "failing")
	waitFor(t, func() bool {
		for _, item := range s.List() {
			if item.Name == "failing" && item.Status == StatusReject {
				return item.Message == "boom"
			}
		}
		return false
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
