package redis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFail = errors.New("fail")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := NewBreaker(maxFailures, time.Second)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3)
	assert.Equal(t, BreakerClosed, b.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(func() error { return errFail }), errFail)
	}
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)
	b.Do(func() error { return errFail })
	b.Do(func() error { return errFail })
	require.NoError(t, b.Do(func() error { return nil }))
	b.Do(func() error { return errFail })
	b.Do(func() error { return errFail })
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_ProbeAfterCoolDown(t *testing.T) {
	b, clock := newTestBreaker(1)
	var transitions []BreakerState
	b.OnStateChange = func(_, to BreakerState) { transitions = append(transitions, to) }

	b.Do(func() error { return errFail })
	clock.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrBreakerOpen)

	clock.Advance(time.Second)
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}, transitions)
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(2)
	b.Do(func() error { return errFail })
	b.Do(func() error { return errFail })

	clock.Advance(2 * time.Second)
	assert.ErrorIs(t, b.Do(func() error { return errFail }), errFail)
	assert.Equal(t, BreakerOpen, b.State())

	// Cool-down restarts from the failed probe.
	clock.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrBreakerOpen)
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}
