package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	l, err := New(cfg)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l.SetClock(clock.Now)
	// Deterministic jitter: always the maximum.
	l.jitter = func(n int64) int64 { return n - 1 }
	return l, clock
}

func TestNew_Defaults(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, 5, l.cfg.MaxCalls)
	assert.Equal(t, time.Second, l.cfg.Window)
	assert.Equal(t, 200*time.Millisecond, *l.cfg.BaseDelay)
	assert.Equal(t, 5*time.Second, l.cfg.MaxDelay)
	assert.Equal(t, 3, l.cfg.FailureThreshold)
}

func TestLimiter_ShouldThrottle(t *testing.T) {
	l, clock := newTestLimiter(t, Config{MaxCalls: 3, Window: time.Second})

	for i := 0; i < 2; i++ {
		l.RecordCall("lastfm")
		clock.Advance(10 * time.Millisecond)
	}
	assert.False(t, l.ShouldThrottle("lastfm"))

	l.RecordCall("lastfm")
	assert.True(t, l.ShouldThrottle("lastfm"), "N calls within the window throttle")
	assert.False(t, l.ShouldThrottle("other"), "providers are tracked separately")

	clock.Advance(time.Second)
	assert.False(t, l.ShouldThrottle("lastfm"), "calls leave the window")
}

func TestLimiter_ComputeDelay(t *testing.T) {
	l, clock := newTestLimiter(t, Config{
		MaxCalls:  4,
		Window:    time.Second,
		BaseDelay: Delay(100 * time.Millisecond),
		MaxDelay:  2 * time.Second,
	})

	assert.Equal(t, time.Duration(0), l.ComputeDelay("lastfm"), "empty window means no delay")

	l.RecordCall("lastfm")
	one := l.ComputeDelay("lastfm")
	l.RecordCall("lastfm")
	two := l.ComputeDelay("lastfm")
	assert.Greater(t, two, one, "delay grows with window fill")
	assert.LessOrEqual(t, two, 100*time.Millisecond)

	l.RecordCall("lastfm")
	l.RecordCall("lastfm")
	clock.Advance(300 * time.Millisecond)
	throttled := l.ComputeDelay("lastfm")
	assert.GreaterOrEqual(t, throttled, 700*time.Millisecond, "waits for the oldest call to leave the window")
	assert.LessOrEqual(t, throttled, 2*time.Second)
}

func TestLimiter_ZeroBaseDelay(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxCalls: 4, Window: time.Second, BaseDelay: Delay(0)})
	require.NotNil(t, l.cfg.BaseDelay)
	assert.Equal(t, time.Duration(0), *l.cfg.BaseDelay, "explicit zero is kept")

	l.RecordCall("lastfm")
	l.RecordCall("lastfm")
	assert.Equal(t, time.Duration(0), l.ComputeDelay("lastfm"), "no delay below the call limit")

	_, err := New(Config{BaseDelay: Delay(-time.Millisecond)})
	assert.Error(t, err)
}

func TestLimiter_ComputeDelayIsCapped(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		MaxCalls: 1,
		Window:   time.Minute,
		MaxDelay: 50 * time.Millisecond,
	})

	l.RecordCall("lastfm")
	assert.Equal(t, 50*time.Millisecond, l.ComputeDelay("lastfm"))
}

func TestLimiter_DisabledAfterConsecutiveFailures(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})

	l.RecordFailure("lastfm")
	l.RecordFailure("lastfm")
	l.RecordSuccess("lastfm")
	l.RecordFailure("lastfm")
	l.RecordFailure("lastfm")
	assert.False(t, l.IsDisabled("lastfm"), "a success resets the failure count")

	l.RecordFailure("lastfm")
	assert.True(t, l.IsDisabled("lastfm"))

	l.RecordSuccess("lastfm")
	assert.True(t, l.IsDisabled("lastfm"), "disabled state is sticky")

	err := l.Wait(context.Background(), "lastfm")
	assert.ErrorIs(t, err, ErrDisabled)

	l.Reset()
	assert.False(t, l.IsDisabled("lastfm"))
}

func TestLimiter_Wait(t *testing.T) {
	l, err := New(Config{MaxCalls: 2, Window: time.Second, BaseDelay: Delay(time.Millisecond), MaxDelay: 5 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, l.Wait(context.Background(), "lastfm"))
	require.NoError(t, l.Wait(context.Background(), "lastfm"))
	assert.True(t, l.ShouldThrottle("lastfm"), "Wait records calls")
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l, err := New(Config{MaxCalls: 1, Window: time.Minute, MaxDelay: time.Minute})
	require.NoError(t, err)
	l.RecordCall("lastfm")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = l.Wait(ctx, "lastfm")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
