package xjob_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/omeyang/xrelay/pkg/mq/xjob"
	"github.com/omeyang/xrelay/pkg/observability/xlog"
	"github.com/omeyang/xrelay/pkg/resilience/xretry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seqIDs() xjob.Option {
	var n atomic.Int64
	return xjob.WithIDGenerator(func(context.Context) (string, error) {
		return fmt.Sprintf("job-%03d", n.Add(1)), nil
	})
}

func newQueue(t *testing.T, h xjob.Handler, opts ...xjob.Option) (*xjob.Queue, xjob.Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := xjob.NewMemoryStore()
	base := []xjob.Option{seqIDs(), xjob.WithClock(clock.Now), xjob.WithLogger(xlog.Discard())}
	q, err := xjob.New(store, h, append(base, opts...)...)
	require.NoError(t, err)
	return q, store, clock
}

func TestQueue_Validation(t *testing.T) {
	ok := func(context.Context, *xjob.Job) ([]byte, error) { return nil, nil }
	_, err := xjob.New(nil, ok)
	assert.ErrorIs(t, err, xjob.ErrNilStore)
	_, err = xjob.New(xjob.NewMemoryStore(), nil)
	assert.ErrorIs(t, err, xjob.ErrNilHandler)

	q, _, _ := newQueue(t, ok)
	ctx := context.Background()
	_, err = q.Enqueue(ctx, " ", nil, xjob.EnqueueOptions{})
	assert.ErrorIs(t, err, xjob.ErrEmptyType)
	_, err = q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{Priority: xjob.MaxPriority + 1})
	assert.ErrorIs(t, err, xjob.ErrInvalidPriority)
	_, err = q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{Priority: -1})
	assert.ErrorIs(t, err, xjob.ErrInvalidPriority)
	_, err = q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{Delay: -time.Second})
	assert.ErrorIs(t, err, xjob.ErrInvalidDelay)
}

// 最多 3 次尝试全部失败：终止为 failed，attemptsMade == 3，退避严格递增，不会有第 4 次
func TestQueue_RetryThenExhausted(t *testing.T) {
	var calls atomic.Int32
	q, _, clock := newQueue(t, func(context.Context, *xjob.Job) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("provider down")
	}, xjob.WithMaxAttempts(3))
	ctx := context.Background()

	events, unsubscribe := q.Subscribe(16)
	defer unsubscribe()

	h, err := q.Enqueue(ctx, "completion", []byte(`{}`), xjob.EnqueueOptions{})
	require.NoError(t, err)
	require.True(t, h.Created)

	var delays []time.Duration
	for attempt := 1; attempt <= 3; attempt++ {
		processed, err := q.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, processed, "attempt %d", attempt)

		// 退避未到期时不会被领取
		processed, err = q.ProcessNext(ctx)
		require.NoError(t, err)
		require.False(t, processed)

		st, err := q.Status(ctx, h.JobID)
		require.NoError(t, err)
		require.Equal(t, attempt, st.Job.AttemptsMade)
		if attempt < 3 {
			assert.Equal(t, xjob.StateQueued, st.State)
			assert.Equal(t, xjob.StatusDelayed, st.Job.Status)
			delay := st.Job.RunAt.Sub(clock.Now())
			delays = append(delays, delay)
			clock.Advance(delay)
		}
	}

	st, err := q.Status(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.StateFailed, st.State)
	assert.Equal(t, 3, st.Job.AttemptsMade)

	require.Len(t, delays, 2)
	assert.Greater(t, delays[1], delays[0])
	assert.Equal(t, time.Second, delays[0])

	clock.Advance(time.Hour)
	processed, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Equal(t, int32(3), calls.Load())

	_, err = q.Result(ctx, h.JobID)
	var failed *xjob.FailedError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, xjob.ErrAttemptsExhausted)
	assert.Equal(t, 3, failed.Attempts)

	var kinds []xjob.EventKind
	var retryDelays []time.Duration
	for len(events) > 0 {
		ev := <-events
		kinds = append(kinds, ev.Kind)
		if ev.Kind == xjob.EventRetrying {
			retryDelays = append(retryDelays, ev.Delay)
		}
	}
	assert.Equal(t, []xjob.EventKind{
		xjob.EventEnqueued,
		xjob.EventStarted, xjob.EventRetrying,
		xjob.EventStarted, xjob.EventRetrying,
		xjob.EventStarted, xjob.EventFailed,
	}, kinds)
	assert.Equal(t, delays, retryDelays)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(2), stats.Retried)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Zero(t, stats.Depth)
}

func TestQueue_PermanentErrorNotRetried(t *testing.T) {
	q, _, _ := newQueue(t, func(context.Context, *xjob.Job) ([]byte, error) {
		return nil, xretry.Permanent(errors.New("bad request"))
	})
	ctx := context.Background()
	h, err := q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{MaxAttempts: 5})
	require.NoError(t, err)

	_, err = q.ProcessNext(ctx)
	require.NoError(t, err)

	_, err = q.Result(ctx, h.JobID)
	var failed *xjob.FailedError
	require.ErrorAs(t, err, &failed)
	assert.NotErrorIs(t, err, xjob.ErrAttemptsExhausted)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "bad request", failed.Message)
}

func TestQueue_HandlerPanicFailsJob(t *testing.T) {
	q, _, _ := newQueue(t, func(context.Context, *xjob.Job) ([]byte, error) {
		panic("boom")
	})
	ctx := context.Background()
	h, err := q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{})
	require.NoError(t, err)

	_, err = q.ProcessNext(ctx)
	require.NoError(t, err)
	st, err := q.Status(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.StateFailed, st.State)
	assert.Contains(t, st.Job.Error, "panic")
}

func TestQueue_SuccessAndResult(t *testing.T) {
	q, _, _ := newQueue(t, func(_ context.Context, j *xjob.Job) ([]byte, error) {
		return append([]byte("done:"), j.Payload...), nil
	})
	ctx := context.Background()

	st, err := q.Status(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, xjob.StateNotFound, st.State)
	_, err = q.Result(ctx, "nope")
	assert.ErrorIs(t, err, xjob.ErrJobNotFound)

	h, err := q.Enqueue(ctx, "completion", []byte("x"), xjob.EnqueueOptions{Tenant: "acme"})
	require.NoError(t, err)
	_, err = q.Result(ctx, h.JobID)
	assert.ErrorIs(t, err, xjob.ErrJobNotFinished)

	_, err = q.ProcessNext(ctx)
	require.NoError(t, err)
	res, err := q.Result(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, []byte("done:x"), res)

	st, err = q.Status(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.StateCompleted, st.State)
	assert.Equal(t, "acme", st.Job.Tenant)
}

func TestQueue_PriorityOrder(t *testing.T) {
	var order []string
	q, _, _ := newQueue(t, func(_ context.Context, j *xjob.Job) ([]byte, error) {
		order = append(order, string(j.Payload))
		return nil, nil
	})
	ctx := context.Background()
	for _, e := range []struct {
		name     string
		priority int
	}{{"low", 500}, {"high", 1}, {"default", 0}, {"high-later", 1}} {
		_, err := q.Enqueue(ctx, "completion", []byte(e.name), xjob.EnqueueOptions{Priority: e.priority})
		require.NoError(t, err)
	}
	for {
		ok, err := q.ProcessNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	assert.Equal(t, []string{"high", "high-later", "default", "low"}, order)
}

func TestQueue_Idempotency(t *testing.T) {
	q, _, _ := newQueue(t, func(context.Context, *xjob.Job) ([]byte, error) { return nil, nil })
	ctx := context.Background()
	a, err := q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{IdempotencyKey: "req-42"})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{IdempotencyKey: "req-42"})
	require.NoError(t, err)
	assert.Equal(t, a.JobID, b.JobID)
	assert.False(t, b.Created)
}

func TestQueue_DelayedEnqueue(t *testing.T) {
	q, _, clock := newQueue(t, func(context.Context, *xjob.Job) ([]byte, error) { return nil, nil })
	ctx := context.Background()
	h, err := q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{Delay: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, xjob.StatusDelayed, h.Status)

	ok, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	clock.Advance(time.Minute)
	ok, err = q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueue_CancelWaiting(t *testing.T) {
	q, _, _ := newQueue(t, func(context.Context, *xjob.Job) ([]byte, error) {
		t.Fatal("cancelled job must not run")
		return nil, nil
	})
	ctx := context.Background()
	h, err := q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{})
	require.NoError(t, err)

	res, err := q.Cancel(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.CancelRemoved, res)

	st, err := q.Status(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.StateNotFound, st.State)
	ok, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = q.Cancel(ctx, h.JobID)
	assert.ErrorIs(t, err, xjob.ErrJobNotFound)
}

func TestQueue_CancelActiveIsBestEffort(t *testing.T) {
	started := make(chan struct{})
	q, _, _ := newQueue(t, func(ctx context.Context, _ *xjob.Job) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, xjob.WithLease(60*time.Millisecond))
	ctx := context.Background()
	h, err := q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{MaxAttempts: 5})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := q.ProcessNext(ctx)
		done <- err
	}()
	<-started

	res, err := q.Cancel(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.CancelSignalled, res)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("active job did not observe cancellation")
	}

	st, err := q.Status(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.StateFailed, st.State)
	assert.Equal(t, 1, st.Job.AttemptsMade)
	assert.Contains(t, st.Job.Error, "cancelled")
}

func TestQueue_RateCap(t *testing.T) {
	clock := newFakeClock()
	rc, err := xjob.NewSlidingWindowCap(2, time.Minute)
	require.NoError(t, err)
	q, err := xjob.New(xjob.NewMemoryStore(), func(context.Context, *xjob.Job) ([]byte, error) { return nil, nil },
		seqIDs(), xjob.WithClock(clock.Now), xjob.WithRateCap(rc), xjob.WithLogger(xlog.Discard()))
	require.NoError(t, err)
	ctx := context.Background()
	for range 3 {
		_, err := q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{})
		require.NoError(t, err)
	}

	for range 2 {
		ok, err := q.ProcessNext(ctx)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, err = q.ProcessNext(ctx)
	assert.ErrorIs(t, err, xjob.ErrRateLimited)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
	assert.Equal(t, int64(1), stats.RateLimited)

	clock.Advance(time.Minute)
	ok, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueue_ReclaimStalledAndPurge(t *testing.T) {
	q, store, clock := newQueue(t, func(context.Context, *xjob.Job) ([]byte, error) { return []byte("ok"), nil },
		xjob.WithLease(time.Second), xjob.WithRetention(time.Hour, 24*time.Hour))
	ctx := context.Background()
	h, err := q.Enqueue(ctx, "completion", nil, xjob.EnqueueOptions{})
	require.NoError(t, err)

	// 另一个 worker 领取后崩溃
	_, err = store.Claim(ctx, "crashed", clock.Now(), time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	res, err := q.ReclaimStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, xjob.ReclaimResult{Requeued: 1}, res)

	ok, err := q.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	st, err := q.Status(ctx, h.JobID)
	require.NoError(t, err)
	assert.Equal(t, xjob.StateCompleted, st.State)
	assert.Equal(t, 2, st.Job.AttemptsMade)

	n, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	clock.Advance(time.Hour + time.Second)
	n, err = q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Reclaimed)
	assert.Equal(t, int64(1), stats.Purged)
	assert.Zero(t, stats.Completed)
}

func TestQueue_RunBoundedConcurrency(t *testing.T) {
	var (
		inflight, peak atomic.Int32
		done           atomic.Int32
	)
	store := xjob.NewMemoryStore()
	q, err := xjob.New(store, func(context.Context, *xjob.Job) ([]byte, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		done.Add(1)
		return nil, nil
	}, seqIDs(), xjob.WithConcurrency(2), xjob.WithPollInterval(10*time.Millisecond),
		xjob.WithLogger(xlog.Discard()), xjob.WithMaintenance("@every 1s", "@every 1s"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- q.Run(ctx) }()

	for range 6 {
		_, err := q.Enqueue(context.Background(), "completion", nil, xjob.EnqueueOptions{})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return done.Load() == 6 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-runErr)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	c, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), c.Completed)
}
