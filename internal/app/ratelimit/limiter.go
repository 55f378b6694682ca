// Package ratelimit throttles calls to remote providers over a sliding time window.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	zlog "github.com/rs/zerolog/log"
)

// ErrDisabled is returned by Wait when a provider has been disabled after repeated failures.
var ErrDisabled = errors.New("provider disabled after repeated failures")

// Config holds the limiter parameters.
type Config struct {
	MaxCalls         int            `default:"5"`     // Calls allowed per window
	Window           time.Duration  `default:"1s"`    // Sliding window length
	BaseDelay        *time.Duration `default:"200ms"` // Delay unit scaled by window fill; an explicit zero disables it
	MaxDelay         time.Duration  `default:"5s"`    // Upper bound of any computed delay
	FailureThreshold int            `default:"3"`     // Consecutive failures before a provider is disabled
}

type providerState struct {
	calls    []time.Time // ordered, oldest first
	failures int
	disabled bool
}

// Limiter tracks calls per provider. It is safe for concurrent use.
type Limiter struct {
	cfg       Config
	mu        sync.Mutex
	providers map[string]*providerState

	now    func() time.Time
	jitter func(n int64) int64
}

// Delay returns a pointer to d, for Config.BaseDelay.
func Delay(d time.Duration) *time.Duration {
	return &d
}

// New creates a Limiter. Zero fields of cfg take their defaults.
func New(cfg Config) (*Limiter, error) {
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if cfg.MaxCalls < 1 {
		return nil, errors.Newf("max calls must be positive: %d", cfg.MaxCalls)
	}
	if *cfg.BaseDelay < 0 {
		return nil, errors.Newf("base delay must not be negative: %s", *cfg.BaseDelay)
	}
	return &Limiter{
		cfg:       cfg,
		providers: make(map[string]*providerState),
		now:       time.Now,
		jitter:    rand.Int64N,
	}, nil
}

// SetClock replaces the time source.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *Limiter) state(provider string) *providerState {
	st, ok := l.providers[provider]
	if !ok {
		st = &providerState{}
		l.providers[provider] = st
	}
	return st
}

// prune drops calls that left the window. Caller must hold mu.
func (l *Limiter) prune(st *providerState, now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(st.calls) && !st.calls[i].After(cutoff) {
		i++
	}
	st.calls = st.calls[i:]
}

// RecordCall records a call to provider at the current time.
func (l *Limiter) RecordCall(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(provider)
	now := l.now()
	l.prune(st, now)
	st.calls = append(st.calls, now)
}

// ShouldThrottle reports whether MaxCalls or more calls happened within the window.
func (l *Limiter) ShouldThrottle(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(provider)
	l.prune(st, l.now())
	return len(st.calls) >= l.cfg.MaxCalls
}

// ComputeDelay returns a randomized delay that grows as the window fills.
// When throttled, the delay covers at least the time until the oldest call leaves the window.
func (l *Limiter) ComputeDelay(provider string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.computeDelay(provider)
}

func (l *Limiter) computeDelay(provider string) time.Duration {
	st := l.state(provider)
	now := l.now()
	l.prune(st, now)

	count := len(st.calls)
	if count == 0 {
		return 0
	}

	var delay time.Duration
	if count >= l.cfg.MaxCalls {
		delay = st.calls[0].Add(l.cfg.Window).Sub(now)
		delay += l.randomUpTo(*l.cfg.BaseDelay)
	} else {
		base := *l.cfg.BaseDelay * time.Duration(count) / time.Duration(l.cfg.MaxCalls)
		delay = base + l.randomUpTo(base)
	}

	if delay > l.cfg.MaxDelay {
		delay = l.cfg.MaxDelay
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (l *Limiter) randomUpTo(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(l.jitter(int64(d) + 1))
}

// Wait sleeps for ComputeDelay and records the call.
// It returns ErrDisabled without waiting for a disabled provider, or the context error.
func (l *Limiter) Wait(ctx context.Context, provider string) error {
	l.mu.Lock()
	if l.state(provider).disabled {
		l.mu.Unlock()
		return ErrDisabled
	}
	delay := l.computeDelay(provider)
	l.mu.Unlock()

	if delay > 0 {
		zlog.Debug().Msgf("rate limiting provider: provider=%s delay=%s", provider, delay)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	l.RecordCall(provider)
	return nil
}

// RecordSuccess resets the consecutive failure count of provider.
func (l *Limiter) RecordSuccess(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state(provider).failures = 0
}

// RecordFailure counts a failed call. Reaching the failure threshold disables the
// provider until Reset.
func (l *Limiter) RecordFailure(provider string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(provider)
	st.failures++
	if !st.disabled && st.failures >= l.cfg.FailureThreshold {
		st.disabled = true
		zlog.Warn().Msgf("provider disabled: provider=%s consecutive_failures=%d", provider, st.failures)
	}
}

// IsDisabled reports whether provider has been disabled.
func (l *Limiter) IsDisabled(provider string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state(provider).disabled
}

// Reset forgets every call window and re-enables all providers.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.providers = make(map[string]*providerState)
}
