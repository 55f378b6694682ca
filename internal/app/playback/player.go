// Package playback provides an in-memory host player with a play queue.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/domain/track"
)

// Errors
var (
	ErrNoTrack    = errors.New("no track playing")
	ErrQueueEmpty = errors.New("queue is empty")
	ErrNotPlaying = errors.New("not playing")
	ErrNotPaused  = errors.New("not paused")
	ErrClosed     = errors.New("player closed")
)

// State is the playback state of a Player.
type State int

const (
	StateIdle    State = iota // Stopped or nothing left to play
	StatePlaying              // Current entry is playing
	StatePaused               // Current entry is paused
)

var stateNames = [...]string{"idle", "playing", "paused"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// DefaultTrackDuration is used for tracks without a known duration.
const DefaultTrackDuration = 3 * time.Minute

// Config holds player configuration.
type Config struct {
	DefaultDuration time.Duration // Duration of tracks without one, DefaultTrackDuration when zero
	Speed           float64       // Playback speed factor, 1 when zero
}

// Player is an in-memory host player. The play queue keeps played entries;
// the cursor points at the current entry.
type Player struct {
	mu sync.RWMutex

	entries   []track.Track
	cursor    int // Index of the current entry, -1 before the first start
	selection []track.Track

	state         State
	startTime     time.Time
	pausedAt      *time.Time
	pausedElapsed time.Duration
	timerCancel   func()
	generation    int // Incremented on every entry start, guards stale timers

	config Config

	listeners    map[int]func(Event)
	nextListener int
	eventCh      chan Event
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPlayer creates a new Player.
func NewPlayer(config Config) *Player {
	if config.DefaultDuration <= 0 {
		config.DefaultDuration = DefaultTrackDuration
	}
	if config.Speed <= 0 {
		config.Speed = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		cursor:    -1,
		state:     StateIdle,
		config:    config,
		listeners: make(map[int]func(Event)),
		eventCh:   make(chan Event, 64),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go p.dispatch()
	return p
}

// Subscribe registers fn for every player event and returns a function that unregisters it.
// Listeners run on a single dispatcher goroutine.
func (p *Player) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// OnPositionChanged registers fn for every change of the current entry.
func (p *Player) OnPositionChanged(fn func()) func() {
	return p.Subscribe(func(e Event) {
		if e.Type == EventTrackStarted {
			fn()
		}
	})
}

// Play starts playback, resuming when paused.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StatePlaying:
		return nil
	case StatePaused:
		return p.resumeLocked()
	}
	if p.cursor >= 0 && p.cursor < len(p.entries) {
		// Restart the current entry after a stop.
		p.startEntryLocked(p.cursor)
		return nil
	}
	return p.advanceLocked()
}

// Pause pauses the current track.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentLocked() == nil {
		return ErrNoTrack
	}
	if p.state != StatePlaying {
		return ErrNotPlaying
	}

	p.stopTimerLocked()
	now := toWallTime(time.Now())
	p.pausedAt = &now
	p.state = StatePaused
	p.sendEventLocked(Event{Type: EventStateChanged, Track: p.currentLocked(), State: p.state})
	return nil
}

// Resume resumes paused playback.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumeLocked()
}

func (p *Player) resumeLocked() error {
	if p.currentLocked() == nil {
		return ErrNoTrack
	}
	if p.state != StatePaused {
		return ErrNotPaused
	}

	if p.pausedAt != nil {
		p.pausedElapsed += toWallTime(time.Now()).Sub(*p.pausedAt)
	}
	p.pausedAt = nil
	p.state = StatePlaying

	remaining := p.remainingLocked()
	if remaining <= 0 {
		p.onTrackEndLocked()
		return nil
	}
	p.startTrackTimer(remaining)
	p.sendEventLocked(Event{Type: EventStateChanged, Track: p.currentLocked(), State: p.state})
	return nil
}

// Skip moves to the next entry.
func (p *Player) Skip() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.currentLocked()
	if current == nil {
		return ErrNoTrack
	}
	p.stopTimerLocked()
	p.sendEventLocked(Event{Type: EventTrackSkipped, Track: current, State: p.state})
	return p.advanceLocked()
}

// Stop stops playback and keeps the queue and cursor.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTimerLocked()
	p.state = StateIdle
	p.pausedAt = nil
	p.pausedElapsed = 0
}

// Select sets the tracks the user has selected.
func (p *Player) Select(tracks ...track.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selection = append([]track.Track(nil), tracks...)
}

// GetState returns the playback state.
func (p *Player) GetState() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// RemainingDuration returns the remaining time of the current track.
func (p *Player) RemainingDuration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remainingLocked()
}

// Selection returns the selected tracks, or the play queue when nothing is selected.
func (p *Player) Selection(ctx context.Context) ([]track.Track, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.selection) > 0 {
		return append([]track.Track(nil), p.selection...), nil
	}
	return append([]track.Track(nil), p.entries...), nil
}

// NowPlaying returns the current track, nil when nothing is current.
func (p *Player) NowPlaying(ctx context.Context) (*track.Track, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	current := p.currentLocked()
	if current == nil {
		return nil, nil
	}
	t := *current
	return &t, nil
}

// QueuedTracks returns every entry of the play queue, played ones included.
func (p *Player) QueuedTracks(ctx context.Context) ([]track.Track, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]track.Track(nil), p.entries...), nil
}

// AppendTracks appends tracks to the play queue.
func (p *Player) AppendTracks(ctx context.Context, tracks []track.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.entries = append(p.entries, tracks...)
	p.sendEventLocked(Event{Type: EventQueueChanged, Track: p.currentLocked(), State: p.state})
	return nil
}

// ClearQueue removes every entry except the current one.
func (p *Player) ClearQueue(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if current := p.currentLocked(); current != nil {
		p.entries = []track.Track{*current}
		p.cursor = 0
	} else {
		p.entries = nil
		p.cursor = -1
	}
	p.sendEventLocked(Event{Type: EventQueueChanged, Track: p.currentLocked(), State: p.state})
	return nil
}

// QueueCursor returns the index of the current entry and the queue length.
func (p *Player) QueueCursor(ctx context.Context) (int, int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return 0, 0, ErrClosed
	}
	return p.cursor, len(p.entries), nil
}

// Close stops the player and its dispatcher.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.stopTimerLocked()
	p.state = StateIdle
	p.mu.Unlock()

	p.cancel()
	<-p.done
}

func (p *Player) currentLocked() *track.Track {
	if p.cursor < 0 || p.cursor >= len(p.entries) {
		return nil
	}
	return &p.entries[p.cursor]
}

// advanceLocked moves the cursor to the next entry and starts it.
func (p *Player) advanceLocked() error {
	next := p.cursor + 1
	if next >= len(p.entries) {
		// Park past the end so the next appended entry becomes current.
		p.cursor = len(p.entries)
		p.state = StateIdle
		p.pausedAt = nil
		p.pausedElapsed = 0
		p.sendEventLocked(Event{Type: EventQueueEmpty, State: p.state})
		return ErrQueueEmpty
	}
	p.startEntryLocked(next)
	return nil
}

func (p *Player) startEntryLocked(index int) {
	p.cursor = index
	p.generation++
	p.pausedAt = nil
	p.pausedElapsed = 0
	p.state = StatePlaying
	p.startTime = toWallTime(time.Now())

	current := p.currentLocked()
	duration := p.durationOf(current)
	p.startTrackTimer(duration)

	zlog.Debug().Msgf("playback: track started: artist=%s title=%s position=%d/%d duration=%v",
		current.Artist, current.Title, p.cursor+1, len(p.entries), duration)
	p.sendEventLocked(Event{Type: EventTrackStarted, Track: current, State: p.state})
}

// durationOf returns the wall-clock play time of t.
func (p *Player) durationOf(t *track.Track) time.Duration {
	d := t.Duration
	if d <= 0 {
		d = p.config.DefaultDuration
	}
	return time.Duration(float64(d) / p.config.Speed)
}

func (p *Player) remainingLocked() time.Duration {
	current := p.currentLocked()
	if current == nil || p.state == StateIdle {
		return 0
	}
	now := toWallTime(time.Now())
	elapsed := now.Sub(p.startTime) - p.pausedElapsed
	if p.state == StatePaused && p.pausedAt != nil {
		elapsed -= now.Sub(*p.pausedAt)
	}
	remaining := p.durationOf(current) - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p *Player) onTrackEnd(generation int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if generation != p.generation || p.state != StatePlaying {
		return
	}
	p.onTrackEndLocked()
}

func (p *Player) onTrackEndLocked() {
	current := p.currentLocked()
	if current == nil || p.closed {
		return
	}
	p.stopTimerLocked()
	p.sendEventLocked(Event{Type: EventTrackEnded, Track: current, State: p.state})
	_ = p.advanceLocked()
}

func (p *Player) stopTimerLocked() {
	if p.timerCancel != nil {
		p.timerCancel()
		p.timerCancel = nil
	}
}

// sendEventLocked queues an event for the dispatcher without blocking.
func (p *Player) sendEventLocked(e Event) {
	if e.Track != nil {
		t := *e.Track
		e.Track = &t
	}
	select {
	case p.eventCh <- e:
	case <-p.ctx.Done():
	default:
		zlog.Warn().Msgf("playback: event dropped: type=%s", e.Type)
	}
}

func (p *Player) dispatch() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case e := <-p.eventCh:
			p.mu.RLock()
			listeners := make([]func(Event), 0, len(p.listeners))
			for _, fn := range p.listeners {
				listeners = append(listeners, fn)
			}
			p.mu.RUnlock()
			for _, fn := range listeners {
				fn(e)
			}
		}
	}
}

// startTrackTimer starts the track end timer using wall clock.
func (p *Player) startTrackTimer(duration time.Duration) {
	p.stopTimerLocked()
	generation := p.generation
	p.timerCancel = startWallClockTimer(duration, func() { p.onTrackEnd(generation) })
}

// startWallClockTimer calls callback after duration of wall-clock time.
// Returns a cancel function.
func startWallClockTimer(duration time.Duration, callback func()) func() {
	ctx, cancel := context.WithCancel(context.Background())
	tick := 100 * time.Millisecond
	if duration < tick {
		tick = max(duration, time.Millisecond)
	}

	go func() {
		endTime := toWallTime(time.Now()).Add(duration)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !toWallTime(time.Now()).Before(endTime) {
					callback()
					return
				}
			}
		}
	}()

	return cancel
}

// toWallTime returns the time with monotonic clock stripped.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
