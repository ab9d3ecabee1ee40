package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnce_RecoversPanic(t *testing.T) {
	s := New(nil)
	err := s.RunOnce(context.Background(), Task{
		Name: "boom",
		Run:  func(context.Context) error { panic("kaboom") },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	st := s.Status()["boom"]
	assert.Equal(t, int64(1), st.Iterations)
	assert.Equal(t, int64(1), st.Failures)
	assert.NotEmpty(t, st.LastError)
}

func TestRunOnce_AppliesTimeout(t *testing.T) {
	s := New(nil)
	err := s.RunOnce(context.Background(), Task{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_FailingTaskDoesNotStopOthers(t *testing.T) {
	s := New(nil)
	var healthy, failing, panicking atomic.Int64

	s.Add(Task{
		Name:     "healthy",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			healthy.Add(1)
			return nil
		},
	})
	s.Add(Task{
		Name:         "failing",
		Interval:     time.Hour,
		ErrorBackoff: 5 * time.Millisecond,
		Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("transient")
		},
	})
	s.Add(Task{
		Name:     "panicking",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			panicking.Add(1)
			panic("bad iteration")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return healthy.Load() >= 3 && failing.Load() >= 3 && panicking.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Running())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.False(t, s.Running())

	st := s.Status()
	assert.Zero(t, st["healthy"].Failures)
	assert.Equal(t, st["failing"].Iterations, st["failing"].Failures)
	assert.Equal(t, "transient", st["failing"].LastError)
}

func TestRun_InitialDelayHonoursCancel(t *testing.T) {
	s := New(nil)
	var ran atomic.Bool
	s.Add(Task{
		Name:         "delayed",
		InitialDelay: time.Hour,
		Run: func(context.Context) error {
			ran.Store(true)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.False(t, ran.Load())
}

func TestRun_NoTasks(t *testing.T) {
	assert.Error(t, New(nil).Run(context.Background()))
}
