package xbreaker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/resilience/xbreaker"
	"github.com/omeyang/xrelay/pkg/resilience/xretry"
)

var errUpstream = errors.New("upstream failed")

func newBreaker(t *testing.T, opts ...xbreaker.Option) *xbreaker.Breaker {
	t.Helper()
	opts = append([]xbreaker.Option{xbreaker.WithLogger(xlog.Discard())}, opts...)
	b, err := xbreaker.New("primary", opts...)
	require.NoError(t, err)
	return b
}

func call(b *xbreaker.Breaker, calls *atomic.Int32, fail bool) error {
	return b.Do(context.Background(), func(context.Context) error {
		calls.Add(1)
		if fail {
			return errUpstream
		}
		return nil
	})
}

func waitEvent(t *testing.T, ch <-chan xbreaker.Event) xbreaker.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no state change event")
		return xbreaker.Event{}
	}
}

func TestBreaker_TripsAtHalfOfLastTen(t *testing.T) {
	b := newBreaker(t, xbreaker.WithRollingWindow(10, 0.5), xbreaker.WithResetTimeout(time.Hour))
	events, cancel := b.Subscribe(4)
	defer cancel()

	var calls atomic.Int32
	for range 5 {
		require.NoError(t, call(b, &calls, false))
	}
	for i := range 5 {
		err := call(b, &calls, true)
		require.ErrorIs(t, err, errUpstream, "call %d must reach upstream", i+6)
	}
	assert.Equal(t, xbreaker.StateOpen, b.State())

	ev := waitEvent(t, events)
	assert.Equal(t, xbreaker.StateClosed, ev.From)
	assert.Equal(t, xbreaker.StateOpen, ev.To)

	// 第 11 次调用直接拒绝，不发往下游
	err := call(b, &calls, false)
	require.Error(t, err)
	assert.True(t, xbreaker.IsOpen(err))
	assert.ErrorIs(t, err, xbreaker.ErrOpen)
	assert.Equal(t, int32(10), calls.Load())

	var be *xbreaker.BreakerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "primary", be.Name)
	assert.Equal(t, xbreaker.StateOpen, be.State)
	assert.False(t, xretry.IsRetryable(err))

	snap := b.Snapshot()
	assert.Equal(t, "open", snap.State)
	assert.False(t, snap.OpenedAt.IsZero())
}

func TestBreaker_TripsWhenFailuresPrecedeSuccesses(t *testing.T) {
	b := newBreaker(t, xbreaker.WithRollingWindow(10, 0.5), xbreaker.WithResetTimeout(time.Hour))
	events, cancel := b.Subscribe(4)
	defer cancel()

	var calls atomic.Int32
	for range 5 {
		require.ErrorIs(t, call(b, &calls, true), errUpstream)
	}
	assert.Equal(t, xbreaker.StateClosed, b.State())
	// 第 10 次成功填满窗口，5/10 达到阈值；本次结果照常返回
	for range 5 {
		require.NoError(t, call(b, &calls, false))
	}
	assert.Equal(t, xbreaker.StateOpen, b.State())

	ev := waitEvent(t, events)
	assert.Equal(t, xbreaker.StateClosed, ev.From)
	assert.Equal(t, xbreaker.StateOpen, ev.To)

	err := call(b, &calls, false)
	assert.ErrorIs(t, err, xbreaker.ErrOpen)
	assert.Equal(t, int32(10), calls.Load())
	assert.False(t, b.Snapshot().OpenedAt.IsZero())
}

func TestBreaker_SuccessKeepsClosedBelowRatio(t *testing.T) {
	b := newBreaker(t, xbreaker.WithRollingWindow(10, 0.5))
	var calls atomic.Int32
	for range 4 {
		_ = call(b, &calls, true)
	}
	for range 6 {
		require.NoError(t, call(b, &calls, false))
	}
	assert.Equal(t, xbreaker.StateClosed, b.State())
}

func TestBreaker_ResetDropsInFlightOutcome(t *testing.T) {
	b := newBreaker(t, xbreaker.WithRollingWindow(10, 0.5))

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return errUpstream
		})
	}()
	<-started
	b.Reset()
	close(release)
	require.ErrorIs(t, <-done, errUpstream)

	assert.Zero(t, b.Snapshot().WindowFailures)
}

func TestBreaker_StaysClosedBelowRatio(t *testing.T) {
	b := newBreaker(t, xbreaker.WithRollingWindow(10, 0.5))
	var calls atomic.Int32
	for i := range 20 {
		// 每 10 次里失败 4 次
		_ = call(b, &calls, i%10 < 4)
	}
	assert.Equal(t, xbreaker.StateClosed, b.State())
	assert.Equal(t, int32(20), calls.Load())

	snap := b.Snapshot()
	assert.Equal(t, 10, snap.WindowSize)
	assert.Equal(t, 4, snap.WindowFailures)
}

func TestBreaker_DoesNotTripBeforeWindowFills(t *testing.T) {
	b := newBreaker(t, xbreaker.WithRollingWindow(10, 0.5))
	var calls atomic.Int32
	for range 9 {
		_ = call(b, &calls, true)
	}
	assert.Equal(t, xbreaker.StateClosed, b.State())
	_ = call(b, &calls, true)
	assert.Equal(t, xbreaker.StateOpen, b.State())
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b := newBreaker(t,
		xbreaker.WithRollingWindow(2, 0.5),
		xbreaker.WithResetTimeout(50*time.Millisecond),
	)
	var calls atomic.Int32
	_ = call(b, &calls, true)
	_ = call(b, &calls, true)
	require.Equal(t, xbreaker.StateOpen, b.State())

	require.Eventually(t, func() bool {
		return b.State() == xbreaker.StateHalfOpen
	}, time.Second, 10*time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := call(b, &calls, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, xbreaker.ErrTooManyRequests)
	assert.True(t, xbreaker.IsOpen(err))
	assert.Equal(t, int32(2), calls.Load())

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, xbreaker.StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := newBreaker(t,
		xbreaker.WithRollingWindow(1, 1),
		xbreaker.WithResetTimeout(30*time.Millisecond),
	)
	var calls atomic.Int32
	_ = call(b, &calls, true)
	require.Equal(t, xbreaker.StateOpen, b.State())

	require.Eventually(t, func() bool {
		return b.State() == xbreaker.StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	require.ErrorIs(t, call(b, &calls, true), errUpstream)
	assert.Equal(t, xbreaker.StateOpen, b.State())
}

func TestBreaker_Reset(t *testing.T) {
	b := newBreaker(t, xbreaker.WithRollingWindow(1, 1), xbreaker.WithResetTimeout(time.Hour))
	var calls atomic.Int32
	_ = call(b, &calls, true)
	require.Equal(t, xbreaker.StateOpen, b.State())

	events, cancel := b.Subscribe(1)
	defer cancel()

	b.Reset()
	assert.Equal(t, xbreaker.StateClosed, b.State())
	ev := waitEvent(t, events)
	assert.Equal(t, xbreaker.StateOpen, ev.From)
	assert.Equal(t, xbreaker.StateClosed, ev.To)

	require.NoError(t, call(b, &calls, false))
	snap := b.Snapshot()
	assert.Equal(t, uint32(1), snap.Requests)
	assert.True(t, snap.OpenedAt.IsZero())
}

func TestBreaker_SuccessPolicy(t *testing.T) {
	b := newBreaker(t,
		xbreaker.WithRollingWindow(1, 1),
		xbreaker.WithSuccessPolicy(xbreaker.SuccessFunc(func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		})),
	)
	err := b.Do(context.Background(), func(context.Context) error { return context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, xbreaker.StateClosed, b.State())
}

func TestExecute_ReturnsValue(t *testing.T) {
	b := newBreaker(t)
	v, err := xbreaker.Execute(context.Background(), b, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = xbreaker.Execute[string](context.Background(), b, nil)
	assert.ErrorIs(t, err, xbreaker.ErrNilFunc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = xbreaker.Execute(ctx, b, func(context.Context) (string, error) { return "x", nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	_, err := xbreaker.New("")
	assert.ErrorIs(t, err, xbreaker.ErrEmptyName)

	_, err = xbreaker.NewRollingWindow(0, 0.5)
	assert.ErrorIs(t, err, xbreaker.ErrInvalidSize)
	_, err = xbreaker.NewRollingWindow(10, 0)
	assert.ErrorIs(t, err, xbreaker.ErrInvalidRatio)
	_, err = xbreaker.NewRollingWindow(10, 1.5)
	assert.ErrorIs(t, err, xbreaker.ErrInvalidRatio)
}
