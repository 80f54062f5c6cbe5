package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/chapterbridge/nlp-pack-worker/internal/config"
)

func TestRunExitsImmediatelyOnCanceledContext(t *testing.T) {
	cfg := &config.Config{NumWorkers: 3, PollSeconds: time.Minute, MaxJobsPerRestart: 500}
	d := New(nil, nil, nil, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return promptly after context cancellation")
	}
}

func TestSleepOrDoneReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		sleepOrDone(ctx, time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleepOrDone did not return after context cancellation")
	}
}

func TestSleepOrDoneReturnsAfterDuration(t *testing.T) {
	start := time.Now()
	sleepOrDone(context.Background(), 20*time.Millisecond)
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("sleepOrDone returned early after %v", elapsed)
	}
}
