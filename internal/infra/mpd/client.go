// Package mpd adapts an MPD server to the host player contracts:
// play queue, now playing, queue cursor, position events and library import.
package mpd

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fhs/gompd/v2/mpd"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/domain/track"
)

const (
	network          = "tcp"
	watcherRetryWait = time.Second
)

// Client wraps the MPD client with reconnection logic.
type Client struct {
	mu       sync.RWMutex
	client   *mpd.Client
	addr     string
	password string

	watchMu      sync.Mutex
	watcher      *mpd.Watcher
	listeners    map[int]func()
	nextListener int
	lastSongID   string
}

// NewClient creates a new MPD client for addr ("host:port").
func NewClient(addr, password string) *Client {
	return &Client{
		addr:      addr,
		password:  password,
		listeners: make(map[int]func()),
	}
}

// Connect establishes the connection to MPD.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	zlog.Info().Msgf("connecting to MPD: addr=%s", c.addr)

	var (
		client *mpd.Client
		err    error
	)
	if c.password != "" {
		client, err = mpd.DialAuthenticated(network, c.addr, c.password)
	} else {
		client, err = mpd.Dial(network, c.addr)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to connect to MPD at %s", c.addr)
	}
	c.client = client
	return nil
}

// ensureConnected checks the connection and reconnects if needed.
func (c *Client) ensureConnected(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return c.connectLocked()
	}
	if err := c.client.Ping(); err != nil {
		zlog.Warn().Msgf("MPD connection lost, reconnecting: error=%v", err)
		c.client.Close()
		c.client = nil
		return c.connectLocked()
	}
	return nil
}

// do runs fn with a live connection.
func (c *Client) do(ctx context.Context, fn func(client *mpd.Client) error) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(c.client)
}

// Close closes the connection and the watcher.
func (c *Client) Close() error {
	c.watchMu.Lock()
	if c.watcher != nil {
		c.watcher.Close()
		c.watcher = nil
	}
	c.watchMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// QueuedTracks returns every entry of the MPD queue.
func (c *Client) QueuedTracks(ctx context.Context) ([]track.Track, error) {
	var attrs []mpd.Attrs
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		attrs, err = client.PlaylistInfo(-1, -1)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read MPD queue")
	}
	return tracksFromAttrs(attrs), nil
}

// AppendTracks adds tracks to the end of the MPD queue by file URI.
func (c *Client) AppendTracks(ctx context.Context, tracks []track.Track) error {
	return c.do(ctx, func(client *mpd.Client) error {
		for _, t := range tracks {
			if err := ctx.Err(); err != nil {
				return err
			}
			uri := t.Path
			if uri == "" {
				uri = t.ID
			}
			if err := client.Add(uri); err != nil {
				return errors.Wrapf(err, "failed to add %s to MPD queue", uri)
			}
		}
		return nil
	})
}

// ClearQueue removes every entry except the current one.
func (c *Client) ClearQueue(ctx context.Context) error {
	return c.do(ctx, func(client *mpd.Client) error {
		status, err := client.Status()
		if err != nil {
			return errors.Wrap(err, "failed to read MPD status")
		}
		cursor, count := cursorFromStatus(status)
		if cursor < 0 {
			return client.Clear()
		}
		if cursor+1 < count {
			if err := client.Delete(cursor+1, count); err != nil {
				return errors.Wrap(err, "failed to delete upcoming entries")
			}
		}
		if cursor > 0 {
			if err := client.Delete(0, cursor); err != nil {
				return errors.Wrap(err, "failed to delete played entries")
			}
		}
		return nil
	})
}

// Selection returns the MPD queue; MPD has no notion of a selection.
func (c *Client) Selection(ctx context.Context) ([]track.Track, error) {
	return c.QueuedTracks(ctx)
}

// NowPlaying returns the current song, nil when there is none.
func (c *Client) NowPlaying(ctx context.Context) (*track.Track, error) {
	var attrs mpd.Attrs
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		attrs, err = client.CurrentSong()
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read MPD current song")
	}
	if attrs["file"] == "" {
		return nil, nil
	}
	t := trackFromAttrs(attrs)
	return &t, nil
}

// QueueCursor returns the position of the current song and the queue length.
func (c *Client) QueueCursor(ctx context.Context) (int, int, error) {
	var status mpd.Attrs
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		status, err = client.Status()
		return err
	})
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to read MPD status")
	}
	cursor, count := cursorFromStatus(status)
	return cursor, count, nil
}

// LibraryTracks returns every song of the MPD database.
func (c *Client) LibraryTracks(ctx context.Context) ([]track.Track, error) {
	var attrs []mpd.Attrs
	err := c.do(ctx, func(client *mpd.Client) error {
		var err error
		attrs, err = client.ListAllInfo("/")
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list MPD database")
	}
	return tracksFromAttrs(attrs), nil
}

// OnPositionChanged registers fn for every change of the current song.
// The first listener starts an MPD idle watcher on the player subsystem.
func (c *Client) OnPositionChanged(fn func()) func() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn

	if c.watcher == nil {
		if err := c.startWatcherLocked(); err != nil {
			zlog.Error().Msgf("failed to watch MPD player: error=%v", err)
		}
	}

	return func() {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		delete(c.listeners, id)
		if len(c.listeners) == 0 && c.watcher != nil {
			c.watcher.Close()
			c.watcher = nil
		}
	}
}

func (c *Client) startWatcherLocked() error {
	watcher, err := mpd.NewWatcher(network, c.addr, c.password, "player", "playlist")
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	c.watcher = watcher

	go func() {
		for {
			select {
			case _, ok := <-watcher.Event:
				if !ok {
					return
				}
				c.onPlayerEvent()
			case err, ok := <-watcher.Error:
				if !ok {
					return
				}
				zlog.Error().Msgf("MPD watcher error: error=%v", err)
				time.Sleep(watcherRetryWait)
			}
		}
	}()
	return nil
}

// onPlayerEvent notifies listeners when the current song changed.
func (c *Client) onPlayerEvent() {
	var status mpd.Attrs
	err := c.do(context.Background(), func(client *mpd.Client) error {
		var err error
		status, err = client.Status()
		return err
	})
	if err != nil {
		zlog.Warn().Msgf("failed to read MPD status after event: error=%v", err)
		return
	}

	c.watchMu.Lock()
	songID := status["songid"]
	if songID == c.lastSongID {
		c.watchMu.Unlock()
		return
	}
	c.lastSongID = songID
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.watchMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// cursorFromStatus extracts the current song position and queue length.
// cursor is -1 when no song is current.
func cursorFromStatus(status mpd.Attrs) (int, int) {
	count, err := strconv.Atoi(status["playlistlength"])
	if err != nil {
		count = 0
	}
	cursor, err := strconv.Atoi(status["song"])
	if err != nil {
		cursor = -1
	}
	return cursor, count
}

func tracksFromAttrs(attrs []mpd.Attrs) []track.Track {
	tracks := make([]track.Track, 0, len(attrs))
	for _, a := range attrs {
		if a["file"] == "" {
			// Directories and playlists in listallinfo output
			continue
		}
		tracks = append(tracks, trackFromAttrs(a))
	}
	return tracks
}

// trackFromAttrs converts MPD song attributes. The file URI serves as ID and path;
// MPD carries no rating.
func trackFromAttrs(a mpd.Attrs) track.Track {
	artist := a["Artist"]
	if artist == "" {
		artist = a["AlbumArtist"]
	}
	return track.Track{
		ID:       a["file"],
		Path:     a["file"],
		Artist:   artist,
		Title:    a["Title"],
		Album:    a["Album"],
		Genre:    a["Genre"],
		Rating:   track.UnknownRating,
		Duration: durationFromAttrs(a),
	}
}

func durationFromAttrs(a mpd.Attrs) time.Duration {
	if s, err := strconv.ParseFloat(a["duration"], 64); err == nil {
		return time.Duration(s * float64(time.Second))
	}
	if s, err := strconv.Atoi(a["Time"]); err == nil {
		return time.Duration(s) * time.Second
	}
	return 0
}
