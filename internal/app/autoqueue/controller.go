// Package autoqueue tops up the play queue when it is about to run out.
package autoqueue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/discovery"
	"github.com/osa030/similarbox/internal/app/settings"
)

// State represents the controller state.
type State int

const (
	StateDetached State = iota // Not listening to playback events
	StateIdle                  // Listening, no run in flight
	StateRunning               // Listening, auto run in flight
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Runner runs a discovery request.
type Runner interface {
	Run(ctx context.Context, req discovery.Request) discovery.Result
}

// Settings is the subset of the settings store used by the controller.
type Settings interface {
	Options() settings.Options
	SetBool(key string, value bool)
}

// Controller triggers auto discovery runs from playback position events.
type Controller struct {
	mu sync.Mutex

	runner   Runner
	settings Settings
	position QueuePosition
	notifier PositionNotifier

	detach      func()
	running     bool
	lastTrigger time.Time
	cancelRun   context.CancelFunc
	wg          sync.WaitGroup

	onResult func(discovery.Result)
	now      func() time.Time
}

// NewController creates a new Controller. notifier may be nil, in which case
// HandlePositionChanged must be driven by the caller.
func NewController(runner Runner, s Settings, position QueuePosition, notifier PositionNotifier) (*Controller, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if s == nil {
		return nil, errors.New("settings are required")
	}
	return &Controller{
		runner:   runner,
		settings: s,
		position: position,
		notifier: notifier,
		now:      time.Now,
	}, nil
}

// SetClock replaces the time source.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// OnResult registers a callback receiving the result of every auto run.
func (c *Controller) OnResult(fn func(discovery.Result)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = fn
}

// Enable persists the enabled flag and starts listening to position events.
// Runs are started under ctx.
func (c *Controller) Enable(ctx context.Context) {
	c.settings.SetBool(settings.KeyAutoEnabled, true)
	c.attach(ctx)
	zlog.Info().Msg("auto-queue enabled")
}

// Disable persists the disabled flag and stops listening. An in-flight run is left to finish.
func (c *Controller) Disable(ctx context.Context) {
	c.settings.SetBool(settings.KeyAutoEnabled, false)
	c.Detach()
	zlog.Info().Msg("auto-queue disabled")
}

// Detach stops listening to position events without changing the persisted flag.
func (c *Controller) Detach() {
	c.mu.Lock()
	detach := c.detach
	c.detach = nil
	c.mu.Unlock()
	if detach != nil {
		detach()
	}
}

// Restore starts listening when the persisted flag says auto-queue is enabled.
func (c *Controller) Restore(ctx context.Context) {
	if c.settings.Options().AutoEnabled {
		c.attach(ctx)
		zlog.Info().Msg("auto-queue restored")
	}
}

func (c *Controller) attach(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detach != nil {
		return
	}
	if c.notifier == nil {
		// Events are driven by the caller.
		c.detach = func() {}
		return
	}
	c.detach = c.notifier.OnPositionChanged(func() {
		c.HandlePositionChanged(ctx)
	})
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.running:
		return StateRunning
	case c.detach != nil:
		return StateIdle
	default:
		return StateDetached
	}
}

// HandlePositionChanged evaluates one position event and starts an auto run
// when the queue is about to run out. It reports whether a run was started.
func (c *Controller) HandlePositionChanged(ctx context.Context) bool {
	opts := c.settings.Options()
	if !opts.AutoEnabled {
		return false
	}
	if c.position == nil {
		return false
	}

	remaining, ok := c.position.Remaining(ctx)
	if !ok {
		return false
	}
	if remaining <= 0 || remaining > opts.AutoThreshold {
		return false
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		zlog.Debug().Msgf("auto-queue skipped, run in flight: remaining=%d", remaining)
		return false
	}
	now := c.now()
	if !c.lastTrigger.IsZero() && now.Sub(c.lastTrigger) < opts.AutoCooldown() {
		c.mu.Unlock()
		zlog.Debug().Msgf("auto-queue skipped, cooling down: remaining=%d since=%v", remaining, now.Sub(c.lastTrigger))
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.lastTrigger = now
	c.cancelRun = cancel
	onResult := c.onResult
	c.wg.Add(1)
	c.mu.Unlock()

	zlog.Info().Msgf("auto-queue triggered: remaining=%d threshold=%d", remaining, opts.AutoThreshold)

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.running = false
			c.cancelRun = nil
			c.mu.Unlock()
			cancel()
		}()

		result := c.runner.Run(runCtx, discovery.Request{Auto: true})
		if result.Success {
			zlog.Info().Msgf("auto-queue run finished: run_id=%s added=%d", result.RunID, result.TracksAdded)
		} else {
			zlog.Info().Msgf("auto-queue run ended: run_id=%s message=%s", result.RunID, result.Message)
		}
		if onResult != nil {
			onResult(result)
		}
	}()
	return true
}

// Cancel abandons the in-flight auto run, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancelRun
	c.mu.Unlock()
	if cancel != nil {
		zlog.Debug().Msg("auto-queue run canceled")
		cancel()
	}
}

// Wait blocks until the in-flight auto run has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}
