package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/domain/playlist"
	"github.com/osa030/similarbox/internal/domain/track"
)

// SettingsBackend is a settings.Backend backed by SQLite.
type SettingsBackend struct {
	db *sql.DB
}

// NewSettingsBackend creates a new SettingsBackend.
func NewSettingsBackend(db *sql.DB) *SettingsBackend {
	return &SettingsBackend{db: db}
}

// Load implements settings.Backend.
func (b *SettingsBackend) Load(namespace, key string) (string, bool, error) {
	var value string
	err := b.db.QueryRow(`SELECT value FROM settings WHERE namespace = ? AND key = ?`, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to load setting %s", key)
	}
	return value, true, nil
}

// Save implements settings.Backend.
func (b *SettingsBackend) Save(namespace, key, value string) error {
	_, err := b.db.Exec(`
		INSERT INTO settings (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value
	`, namespace, key, value)
	if err != nil {
		return errors.Wrapf(err, "failed to save setting %s", key)
	}
	return nil
}

// Keys implements settings.Backend.
func (b *SettingsBackend) Keys(namespace string) ([]string, error) {
	rows, err := b.db.Query(`SELECT key FROM settings WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list settings")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "failed to scan setting key")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ResponseCache persists JSON-encoded responses with a lifetime.
// Storage errors are logged and reported as misses.
type ResponseCache[V any] struct {
	db  *sql.DB
	ttl time.Duration

	mu  sync.RWMutex
	now func() time.Time
}

// NewResponseCache creates a new ResponseCache.
func NewResponseCache[V any](db *sql.DB, ttl time.Duration) *ResponseCache[V] {
	return &ResponseCache[V]{
		db:  db,
		ttl: ttl,
		now: time.Now,
	}
}

// SetClock replaces the time source.
func (c *ResponseCache[V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *ResponseCache[V]) clock() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

// Get returns the value stored for key if it is younger than the TTL.
func (c *ResponseCache[V]) Get(key string) (V, bool) {
	var zero V

	var (
		raw       string
		fetchedAt int64
	)
	err := c.db.QueryRow(`SELECT value, fetched_at FROM response_cache WHERE key = ?`, key).Scan(&raw, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false
	}
	if err != nil {
		zlog.Warn().Msgf("failed to read cached response: key=%s error=%v", key, err)
		return zero, false
	}

	if c.clock().Sub(time.UnixMilli(fetchedAt)) >= c.ttl {
		return zero, false
	}

	var value V
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		zlog.Warn().Msgf("failed to decode cached response: key=%s error=%v", key, err)
		return zero, false
	}
	return value, true
}

// Put stores value for key.
func (c *ResponseCache[V]) Put(key string, value V) {
	raw, err := json.Marshal(value)
	if err != nil {
		zlog.Warn().Msgf("failed to encode response: key=%s error=%v", key, err)
		return
	}
	_, err = c.db.Exec(`
		INSERT INTO response_cache (key, value, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, fetched_at = excluded.fetched_at
	`, key, string(raw), c.clock().UnixMilli())
	if err != nil {
		zlog.Warn().Msgf("failed to store response: key=%s error=%v", key, err)
	}
}

// InvalidateAll removes every stored response.
func (c *ResponseCache[V]) InvalidateAll() {
	if _, err := c.db.Exec(`DELETE FROM response_cache`); err != nil {
		zlog.Warn().Msgf("failed to clear response cache: error=%v", err)
	}
}

// Playlists is a sink.PlaylistStore backed by SQLite.
type Playlists struct {
	db  *sql.DB
	now func() time.Time
}

// NewPlaylists creates a new Playlists store.
func NewPlaylists(db *sql.DB) *Playlists {
	return &Playlists{db: db, now: time.Now}
}

// FindByName returns the playlist called name with its tracks, nil when missing.
func (s *Playlists) FindByName(ctx context.Context, name string) (*playlist.Playlist, error) {
	var (
		id     int64
		parent string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, parent FROM playlists WHERE name = ?`, name).Scan(&id, &parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find playlist %q", name)
	}

	p := &playlist.Playlist{ID: strconv.FormatInt(id, 10), Name: name, Parent: parent}
	if p.Tracks, err = s.tracks(ctx, id); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns every playlist without tracks, ordered by name.
func (s *Playlists) List(ctx context.Context) ([]playlist.Playlist, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, parent FROM playlists ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list playlists")
	}
	defer rows.Close()

	var result []playlist.Playlist
	for rows.Next() {
		var (
			id int64
			p  playlist.Playlist
		)
		if err := rows.Scan(&id, &p.Name, &p.Parent); err != nil {
			return nil, errors.Wrap(err, "failed to scan playlist")
		}
		p.ID = strconv.FormatInt(id, 10)
		result = append(result, p)
	}
	return result, rows.Err()
}

// CreatePlaylist creates an empty playlist.
func (s *Playlists) CreatePlaylist(ctx context.Context, name, parent string) (*playlist.Playlist, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO playlists (name, parent, created_at) VALUES (?, ?, ?)`,
		name, parent, s.now().Unix())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create playlist %q", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read playlist id")
	}
	return &playlist.Playlist{ID: strconv.FormatInt(id, 10), Name: name, Parent: parent}, nil
}

// ClearPlaylist removes every track of p.
func (s *Playlists) ClearPlaylist(ctx context.Context, p *playlist.Playlist) error {
	id, err := parseID(p)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM playlist_tracks WHERE playlist_id = ?`, id); err != nil {
		return errors.Wrapf(err, "failed to clear playlist %q", p.Name)
	}
	p.Tracks = nil
	return nil
}

// AddTracks appends tracks to p.
func (s *Playlists) AddTracks(ctx context.Context, p *playlist.Playlist, tracks []track.Track) error {
	id, err := parseID(p)
	if err != nil {
		return err
	}
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var next int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM playlist_tracks WHERE playlist_id = ?`, id).Scan(&next)
		if err != nil {
			return errors.Wrap(err, "failed to read playlist length")
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO playlist_tracks (playlist_id, position, track_id) VALUES (?, ?, ?)`)
		if err != nil {
			return errors.Wrap(err, "failed to prepare playlist insert")
		}
		defer stmt.Close()

		for i, t := range tracks {
			if _, err := stmt.ExecContext(ctx, id, next+i, t.ID); err != nil {
				return errors.Wrapf(err, "failed to add track %s to playlist %q", t.ID, p.Name)
			}
		}
		return nil
	})
}

// tracks returns the tracks of a playlist in order. Entries missing from the
// library keep only their ID.
func (s *Playlists) tracks(ctx context.Context, playlistID int64) ([]track.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pt.track_id, COALESCE(t.path, ''), COALESCE(t.artist, ''), COALESCE(t.title, ''),
			COALESCE(t.album, ''), COALESCE(t.genre, ''), COALESCE(t.rating, -1), COALESCE(t.duration_ms, 0)
		FROM playlist_tracks pt
		LEFT JOIN library_tracks t ON t.id = pt.track_id
		WHERE pt.playlist_id = ?
		ORDER BY pt.position
	`, playlistID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load playlist tracks")
	}
	defer rows.Close()

	var result []track.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func parseID(p *playlist.Playlist) (int64, error) {
	id, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid playlist id %q", p.ID)
	}
	return id, nil
}
