package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nullEntry() (*logrus.Entry, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	return logrus.NewEntry(logger), hook
}

func TestNewRunnerValidatesTasks(t *testing.T) {
	entry, _ := nullEntry()
	noop := func(context.Context) error { return nil }

	_, err := NewRunner(entry, Task{Interval: time.Second, Run: noop})
	assert.Error(t, err)

	_, err = NewRunner(entry, Task{Name: "x", Interval: time.Second})
	assert.Error(t, err)

	_, err = NewRunner(entry, Task{Name: "x", Run: noop})
	assert.Error(t, err)

	_, err = NewRunner(entry, Task{Name: "x", Interval: time.Second, Run: noop})
	assert.NoError(t, err)
}

func TestRunnerRunsTasksIndependently(t *testing.T) {
	entry, hook := nullEntry()

	var fast, failing, panicking atomic.Int32
	runner, err := NewRunner(entry,
		Task{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			fast.Add(1)
			return nil
		}},
		Task{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		}},
		Task{Name: "panicking", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			panicking.Add(1)
			panic("unexpected")
		}},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		return fast.Load() >= 3 && failing.Load() >= 3 && panicking.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}

	var sawFailure, sawPanic bool
	for _, e := range hook.AllEntries() {
		switch e.Data["event"] {
		case "task_failed":
			sawFailure = true
		case "task_panicked":
			sawPanic = true
		}
	}
	assert.True(t, sawFailure, "expected task failures to be logged")
	assert.True(t, sawPanic, "expected task panics to be logged")
}

func TestRunnerWaitsIntervalBetweenRuns(t *testing.T) {
	entry, _ := nullEntry()

	var runs atomic.Int32
	runner, err := NewRunner(entry, Task{Name: "slow", Interval: time.Hour, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = runner.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "task runs once immediately, then waits its interval")

	cancel()
	<-done
}
