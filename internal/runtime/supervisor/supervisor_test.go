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

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go0("boom", func(ctx context.Context) { panic("kaboom") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in boom: kaboom")

	snap := s.Snapshot()
	require.Len(t, snap.Names, 1)
	assert.Equal(t, uint64(1), snap.Names[0].Panics)
	assert.Equal(t, int64(0), snap.Counters.Active)
}

func TestGoCanceledIsClean(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, int64(1), s.Counters().Active)
	require.NoError(t, s.Stop(waitCtx(t)))
	assert.Equal(t, uint64(1), s.Counters().Started)
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(ctx context.Context) error { return errors.New("nope") })
	s.Go("waits", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, "fails: nope", err.Error())
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	require.NoError(t, s.Wait(waitCtx(t)))
	assert.Equal(t, int32(3), runs.Load())
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		panic("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, int32(3), runs.Load())
}

func TestWaitHonorsDeadline(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
	close(release)
	require.NoError(t, s.Wait(waitCtx(t)))
}
