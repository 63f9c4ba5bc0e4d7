package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("0 7 * * *"))
	assert.NoError(t, Validate("30 0 7 * * *"))
	assert.NoError(t, Validate("@daily"))
	assert.Error(t, Validate("every morning"))
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := NewCronScheduler("not a cron", time.UTC, zaptest.NewLogger(t))
	err := s.Start(context.Background(), func(time.Time) {})
	assert.Error(t, err)
}

func TestSchedulerRunsJobAndSkipsOverlaps(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	s := NewCronScheduler("@every 1s", loc, zaptest.NewLogger(t))
	var (
		started atomic.Int32
		running atomic.Int32
		overlap atomic.Bool
	)
	fired := make(chan time.Time, 8)
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx, func(at time.Time) {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		started.Add(1)
		fired <- at
		<-release
		running.Add(-1)
	}))
	assert.ErrorIs(t, s.Start(ctx, func(time.Time) {}), ErrAlreadyStarted)
	assert.False(t, s.NextRun().IsZero())

	select {
	case at := <-fired:
		assert.Equal(t, loc, at.Location())
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}

	// Hold the job across at least two more ticks.
	time.Sleep(2200 * time.Millisecond)
	assert.EqualValues(t, 1, started.Load())
	close(release)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, overlap.Load())
	assert.True(t, s.NextRun().IsZero())
}
