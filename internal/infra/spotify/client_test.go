package spotify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"

	"github.com/osa030/similarbox/internal/app/sink"
	"github.com/osa030/similarbox/internal/domain/playlist"
	"github.com/osa030/similarbox/internal/domain/track"
)

var _ sink.PlaylistStore = (*Client)(nil)

type fakeAPI struct {
	playlists []spotify.SimplePlaylist
	catalog   map[string]spotify.ID // search query -> track
	failures  int                   // transient failures before each search succeeds

	searches int
	created  []string
	replaced []spotify.ID
	added    [][]spotify.ID
}

func (f *fakeAPI) CurrentUser(ctx context.Context) (*spotify.PrivateUser, error) {
	return &spotify.PrivateUser{User: spotify.User{ID: "me"}}, nil
}

func (f *fakeAPI) CurrentUsersPlaylists(ctx context.Context, opts ...spotify.RequestOption) (*spotify.SimplePlaylistPage, error) {
	// Offsets come through opts; the fake serves one page per call in order.
	page := &spotify.SimplePlaylistPage{}
	n := min(pageSize, len(f.playlists))
	page.Playlists = f.playlists[:n]
	f.playlists = f.playlists[n:]
	return page, nil
}

func (f *fakeAPI) CreatePlaylistForUser(ctx context.Context, userID, playlistName, description string, public bool, collaborative bool) (*spotify.FullPlaylist, error) {
	f.created = append(f.created, playlistName)
	return &spotify.FullPlaylist{SimplePlaylist: spotify.SimplePlaylist{ID: "new", Name: playlistName}}, nil
}

func (f *fakeAPI) ReplacePlaylistTracks(ctx context.Context, playlistID spotify.ID, trackIDs ...spotify.ID) error {
	f.replaced = append(f.replaced, playlistID)
	return nil
}

func (f *fakeAPI) AddTracksToPlaylist(ctx context.Context, playlistID spotify.ID, trackIDs ...spotify.ID) (string, error) {
	f.added = append(f.added, trackIDs)
	return "snapshot", nil
}

func (f *fakeAPI) Search(ctx context.Context, query string, t spotify.SearchType, opts ...spotify.RequestOption) (*spotify.SearchResult, error) {
	f.searches++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("503 Service Unavailable")
	}
	result := &spotify.SearchResult{Tracks: &spotify.FullTrackPage{}}
	if id, ok := f.catalog[query]; ok {
		result.Tracks.Tracks = []spotify.FullTrack{{SimpleTrack: spotify.SimpleTrack{ID: id}}}
	}
	return result, nil
}

func newTestClient(api *fakeAPI) *Client {
	c := newClient(api, Config{Market: "JP"})
	c.retryDelay = 0
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{ClientID: "id"})
	assert.Error(t, err)
}

func TestClient_FindByName(t *testing.T) {
	var playlists []spotify.SimplePlaylist
	for i := range pageSize + 3 {
		playlists = append(playlists, spotify.SimplePlaylist{ID: spotify.ID(fmt.Sprintf("p%d", i)), Name: fmt.Sprintf("List %d", i)})
	}

	c := newTestClient(&fakeAPI{playlists: playlists})
	got, err := c.FindByName(context.Background(), fmt.Sprintf("List %d", pageSize+1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fmt.Sprintf("p%d", pageSize+1), got.ID)
	assert.Equal(t, fmt.Sprintf("https://open.spotify.com/playlist/p%d", pageSize+1), got.URL)

	c = newTestClient(&fakeAPI{playlists: playlists[:3]})
	got, err = c.FindByName(context.Background(), "Similar to Muse")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClient_CreateAndClear(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api)
	ctx := context.Background()

	p, err := c.CreatePlaylist(ctx, "Similar to Muse", "Discovery")
	require.NoError(t, err)
	assert.Equal(t, "new", p.ID)
	assert.Equal(t, []string{"Similar to Muse"}, api.created)

	p.Tracks = []track.Track{{ID: "1"}}
	require.NoError(t, c.ClearPlaylist(ctx, p))
	assert.Empty(t, p.Tracks)
	assert.Equal(t, []spotify.ID{"new"}, api.replaced)
}

func TestClient_AddTracks(t *testing.T) {
	api := &fakeAPI{
		catalog: map[string]spotify.ID{
			`track:"Hysteria" artist:"Muse"`: "sp-hysteria",
			`track:"Uprising" artist:"Muse"`: "sp-uprising",
		},
		failures: 1,
	}
	c := newTestClient(api)
	p := &playlist.Playlist{ID: "p1", Name: "Similar to Muse"}

	tracks := []track.Track{
		{ID: "1", Artist: "Muse", Title: "Hysteria"},
		{ID: "2", Artist: "Muse", Title: "Unknown Demo"},
		{ID: "3", Artist: "Muse", Title: "Uprising"},
		{ID: "4", Path: "spotify:track:direct"},
	}
	require.NoError(t, c.AddTracks(context.Background(), p, tracks))

	require.Len(t, api.added, 1)
	assert.Equal(t, []spotify.ID{"sp-hysteria", "sp-uprising", "direct"}, api.added[0])
	assert.Equal(t, 4, api.searches, "one retried failure plus three lookups")

	// Hits and misses are both cached.
	require.NoError(t, c.AddTracks(context.Background(), p, tracks[:3]))
	assert.Equal(t, 4, api.searches)
}

func TestClient_AddTracksBatches(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(api)

	tracks := make([]track.Track, maxTracksPerRequest+5)
	for i := range tracks {
		tracks[i] = track.Track{Path: fmt.Sprintf("spotify:track:t%d", i)}
	}
	require.NoError(t, c.AddTracks(context.Background(), &playlist.Playlist{ID: "p1"}, tracks))

	require.Len(t, api.added, 2)
	assert.Len(t, api.added[0], maxTracksPerRequest)
	assert.Len(t, api.added[1], 5)
	assert.Zero(t, api.searches)
}

func TestSearchQuery(t *testing.T) {
	got := searchQuery(track.Track{Artist: ` Guns N' Roses `, Title: `"Sweet" Child`})
	assert.Equal(t, `track:"Sweet Child" artist:"Guns N' Roses"`, got)
}

func TestExtractTrackID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Spotify URI format",
			input:    "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Spotify URL format",
			input:    "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Localized URL with query params",
			input:    "https://open.spotify.com/intl-ja/track/4uLU6hMCjMI75M1A2tKUQC?si=abc123",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Local file path",
			input:    "rock/muse/hysteria.flac",
			expected: "",
		},
		{
			name:     "Playlist URI",
			input:    "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M",
			expected: "",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractTrackID(tt.input)
			assert.Equal(t, tt.expected, result,
				"extractTrackID(%s) should return %s", tt.input, tt.expected)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "rate limit error with 429",
			err:      errors.New("Error 429: rate limit exceeded"),
			expected: true,
		},
		{
			name:     "server error 503",
			err:      errors.New("503 Service Unavailable"),
			expected: true,
		},
		{
			name:     "client error 400",
			err:      errors.New("400 Bad Request"),
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("something went wrong"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRetryable(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
