package xbreaker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xrelay/pkg/resilience/xbreaker"
)

func TestRollingWindowPolicy(t *testing.T) {
	p, err := xbreaker.NewRollingWindow(4, 0.5)
	require.NoError(t, err)

	p.Record(false)
	p.Record(false)
	assert.False(t, p.ReadyToTrip(xbreaker.Counts{}), "window not filled")

	p.Record(true)
	p.Record(true)
	assert.True(t, p.ReadyToTrip(xbreaker.Counts{}))

	// 最早的两次失败滚出窗口
	p.Record(true)
	p.Record(true)
	size, failures := p.Window()
	assert.Equal(t, 4, size)
	assert.Equal(t, 0, failures)
	assert.False(t, p.ReadyToTrip(xbreaker.Counts{}))

	p.Record(false)
	p.Record(false)
	assert.True(t, p.ReadyToTrip(xbreaker.Counts{}))

	p.Reset()
	_, failures = p.Window()
	assert.Equal(t, 0, failures)
	assert.False(t, p.ReadyToTrip(xbreaker.Counts{}))
}

func TestCountPolicies(t *testing.T) {
	cf := xbreaker.NewConsecutiveFailures(3)
	assert.False(t, cf.ReadyToTrip(xbreaker.Counts{ConsecutiveFailures: 2}))
	assert.True(t, cf.ReadyToTrip(xbreaker.Counts{ConsecutiveFailures: 3}))

	fr := xbreaker.NewFailureRatio(0.5, 10)
	assert.False(t, fr.ReadyToTrip(xbreaker.Counts{Requests: 4, TotalFailures: 4}))
	assert.True(t, fr.ReadyToTrip(xbreaker.Counts{Requests: 10, TotalFailures: 5}))
	assert.False(t, fr.ReadyToTrip(xbreaker.Counts{Requests: 10, TotalFailures: 4}))
}

func TestRegistry(t *testing.T) {
	r := xbreaker.NewRegistry()
	a, err := r.Register("primary", xbreaker.WithRollingWindow(1, 1))
	require.NoError(t, err)
	_, err = r.Register("secondary", xbreaker.WithRollingWindow(1, 1))
	require.NoError(t, err)
	_, err = r.Register("primary")
	require.ErrorIs(t, err, xbreaker.ErrDuplicate)

	got, ok := r.Get("primary")
	require.True(t, ok)
	assert.Same(t, a, got)

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "primary", snaps[0].Name)
	assert.Equal(t, "secondary", snaps[1].Name)

	assert.Equal(t, 2, r.ResetAll())
}
