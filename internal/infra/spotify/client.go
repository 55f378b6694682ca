// Package spotify exports discovered tracks to Spotify playlists.
package spotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/similarbox/internal/app/cache"
	"github.com/osa030/similarbox/internal/domain/playlist"
	"github.com/osa030/similarbox/internal/domain/track"
)

const (
	pageSize            = 50
	maxTracksPerRequest = 100
	playlistDescription = "Similar artists from your library"
)

// api is the subset of the Spotify Web API used by the store.
type api interface {
	CurrentUser(ctx context.Context) (*spotify.PrivateUser, error)
	CurrentUsersPlaylists(ctx context.Context, opts ...spotify.RequestOption) (*spotify.SimplePlaylistPage, error)
	CreatePlaylistForUser(ctx context.Context, userID, playlistName, description string, public bool, collaborative bool) (*spotify.FullPlaylist, error)
	ReplacePlaylistTracks(ctx context.Context, playlistID spotify.ID, trackIDs ...spotify.ID) error
	AddTracksToPlaylist(ctx context.Context, playlistID spotify.ID, trackIDs ...spotify.ID) (string, error)
	Search(ctx context.Context, query string, t spotify.SearchType, opts ...spotify.RequestOption) (*spotify.SearchResult, error)
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
	Public       bool // Create public playlists
}

// Client is a sink.PlaylistStore writing to the user's Spotify playlists.
// Library tracks are resolved to Spotify tracks by artist and title.
type Client struct {
	client     api
	market     string
	public     bool
	resolved   *cache.TTL[spotify.ID]
	maxRetries int
	retryDelay time.Duration
}

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(
			spotifyauth.ScopePlaylistModifyPublic,
			spotifyauth.ScopePlaylistModifyPrivate,
			spotifyauth.ScopePlaylistReadPrivate,
		),
	)

	// Create token from refresh token
	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	// Get HTTP client with auto-refresh capability
	httpClient := auth.Client(ctx, token)
	return newClient(spotify.New(httpClient), cfg), nil
}

func newClient(client api, cfg Config) *Client {
	return &Client{
		client:     client,
		market:     cfg.Market,
		public:     cfg.Public,
		resolved:   cache.NewTTL[spotify.ID](cache.DefaultTTL),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// FindByName returns the user's playlist called name, nil when missing.
// Tracks are not loaded.
func (c *Client) FindByName(ctx context.Context, name string) (*playlist.Playlist, error) {
	for offset := 0; ; offset += pageSize {
		var page *spotify.SimplePlaylistPage
		err := c.retry(func() error {
			p, err := c.client.CurrentUsersPlaylists(ctx, spotify.Limit(pageSize), spotify.Offset(offset))
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to list playlists")
		}

		for _, p := range page.Playlists {
			if p.Name == name {
				return &playlist.Playlist{
					ID:   string(p.ID),
					Name: p.Name,
					URL:  c.GetPlaylistURL(string(p.ID)),
				}, nil
			}
		}

		if len(page.Playlists) < pageSize {
			return nil, nil
		}
	}
}

// CreatePlaylist creates an empty playlist. Spotify has no folders, parent is ignored.
func (c *Client) CreatePlaylist(ctx context.Context, name, parent string) (*playlist.Playlist, error) {
	user, err := c.client.CurrentUser(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get current user")
	}

	var created *spotify.FullPlaylist
	err = c.retry(func() error {
		p, err := c.client.CreatePlaylistForUser(ctx, user.ID, name, playlistDescription, c.public, false)
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create playlist")
	}

	return &playlist.Playlist{
		ID:     string(created.ID),
		Name:   name,
		Parent: parent,
		URL:    c.GetPlaylistURL(string(created.ID)),
	}, nil
}

// ClearPlaylist removes every track of p.
func (c *Client) ClearPlaylist(ctx context.Context, p *playlist.Playlist) error {
	err := c.retry(func() error {
		return c.client.ReplacePlaylistTracks(ctx, spotify.ID(p.ID))
	})
	if err != nil {
		return errors.Wrap(err, "failed to clear playlist")
	}
	p.Tracks = nil
	return nil
}

// AddTracks appends tracks to p. Tracks without a Spotify match are skipped.
func (c *Client) AddTracks(ctx context.Context, p *playlist.Playlist, tracks []track.Track) error {
	ids := make([]spotify.ID, 0, len(tracks))
	for _, t := range tracks {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, ok := c.resolve(ctx, t)
		if !ok {
			zlog.Debug().Msgf("no spotify match, skipping: artist=%s title=%s", t.Artist, t.Title)
			continue
		}
		ids = append(ids, id)
	}

	for i := 0; i < len(ids); i += maxTracksPerRequest {
		batch := ids[i:min(i+maxTracksPerRequest, len(ids))]
		err := c.retry(func() error {
			_, err := c.client.AddTracksToPlaylist(ctx, spotify.ID(p.ID), batch...)
			return err
		})
		if err != nil {
			return errors.Wrap(err, "failed to add tracks to playlist")
		}
	}

	zlog.Info().Msgf("spotify playlist updated: name=%s resolved=%d of=%d", p.Name, len(ids), len(tracks))
	return nil
}

// resolve finds the Spotify track for a library track.
func (c *Client) resolve(ctx context.Context, t track.Track) (spotify.ID, bool) {
	if id := extractTrackID(t.Path); id != "" {
		return spotify.ID(id), true
	}

	key := cache.Key("spotify", t.Artist, t.Title)
	if id, ok := c.resolved.Get(key); ok {
		return id, id != ""
	}

	opts := []spotify.RequestOption{spotify.Limit(1)}
	if c.market != "" {
		opts = append(opts, spotify.Market(c.market))
	}

	var result *spotify.SearchResult
	err := c.retry(func() error {
		r, err := c.client.Search(ctx, searchQuery(t), spotify.SearchTypeTrack, opts...)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		zlog.Warn().Msgf("spotify search failed: artist=%s title=%s error=%v", t.Artist, t.Title, err)
		return "", false
	}

	var id spotify.ID
	if result.Tracks != nil && len(result.Tracks.Tracks) > 0 {
		id = result.Tracks.Tracks[0].ID
	}
	// Misses are cached as well.
	c.resolved.Put(key, id)
	return id, id != ""
}

// searchQuery builds a field-filtered Spotify search query.
func searchQuery(t track.Track) string {
	clean := func(s string) string {
		return strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
	}
	return fmt.Sprintf(`track:"%s" artist:"%s"`, clean(t.Title), clean(t.Artist))
}

// GetPlaylistURL returns the Spotify URL for a playlist.
func (c *Client) GetPlaylistURL(playlistID string) string {
	return fmt.Sprintf("https://open.spotify.com/playlist/%s", playlistID)
}

// retry retries an operation with linear backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractTrackID extracts the track ID from a Spotify track URI or URL.
// It returns "" for anything else, such as a local file path.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}
	return ""
}
