package similarity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/similarbox/internal/app/cache"
	"github.com/osa030/similarbox/internal/app/ratelimit"
	"github.com/osa030/similarbox/internal/domain/track"
	"github.com/osa030/similarbox/internal/infra/lastfm"
)

// fakeLastFm records calls and returns canned data.
type fakeLastFm struct {
	mu    sync.Mutex
	calls int
	err   error

	similar   []lastfm.SimilarArtist
	tracks    []lastfm.SimilarTrack
	tagTop    []lastfm.TopArtist
	topTracks []lastfm.TopTrack
}

func (f *fakeLastFm) record() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeLastFm) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLastFm) GetSimilarArtists(ctx context.Context, artistName string, limit int) ([]lastfm.SimilarArtist, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return f.similar, nil
}

func (f *fakeLastFm) GetSimilarTracks(ctx context.Context, artistName, trackName string, limit int) ([]lastfm.SimilarTrack, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return f.tracks, nil
}

func (f *fakeLastFm) GetTagTopArtists(ctx context.Context, tagName string, limit int) ([]lastfm.TopArtist, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return f.tagTop, nil
}

func (f *fakeLastFm) GetArtistTopTracks(ctx context.Context, artistName string, limit int) ([]lastfm.TopTrack, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return f.topTracks, nil
}

func newTestClient(t *testing.T, lf *fakeLastFm) (*Client, *ratelimit.Limiter) {
	t.Helper()
	limiter, err := ratelimit.New(ratelimit.Config{MaxCalls: 100, BaseDelay: ratelimit.Delay(time.Microsecond), MaxDelay: time.Millisecond})
	require.NoError(t, err)
	client, err := New(lf, nil, limiter)
	require.NoError(t, err)
	return client, limiter
}

func TestNew_Validation(t *testing.T) {
	limiter, err := ratelimit.New(ratelimit.Config{})
	require.NoError(t, err)

	_, err = New(nil, nil, limiter)
	assert.Error(t, err)
	_, err = New(&fakeLastFm{}, nil, nil)
	assert.Error(t, err)
}

func TestClient_GetSimilarArtists(t *testing.T) {
	lf := &fakeLastFm{similar: []lastfm.SimilarArtist{
		{Name: "Queens of the Stone Age", Match: 0.9},
		{Name: "Biffy Clyro", Match: 0.8},
	}}
	client, _ := newTestClient(t, lf)

	got := client.GetSimilarArtists(context.Background(), "Muse", 5)
	assert.Equal(t, []track.Candidate{
		{Artist: "Queens of the Stone Age", Match: 0.9},
		{Artist: "Biffy Clyro", Match: 0.8},
	}, got)
}

func TestClient_CacheIdempotence(t *testing.T) {
	lf := &fakeLastFm{similar: []lastfm.SimilarArtist{{Name: "Biffy Clyro"}}}
	client, _ := newTestClient(t, lf)
	ctx := context.Background()

	first := client.GetSimilarArtists(ctx, "Muse", 5)
	second := client.GetSimilarArtists(ctx, "Muse", 5)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, lf.Calls(), "second call within the TTL is served from cache")

	client.GetSimilarArtists(ctx, " MUSE ", 5)
	assert.Equal(t, 1, lf.Calls(), "cache key is normalized")

	client.InvalidateAll()
	client.GetSimilarArtists(ctx, "Muse", 5)
	assert.Equal(t, 2, lf.Calls(), "invalidation forces a new network call")
}

func TestClient_EmptyResponsesAreCached(t *testing.T) {
	lf := &fakeLastFm{}
	client, _ := newTestClient(t, lf)
	ctx := context.Background()

	assert.Empty(t, client.GetTopTracks(ctx, "Unknown Band", 3))
	assert.Empty(t, client.GetTopTracks(ctx, "Unknown Band", 3))
	assert.Equal(t, 1, lf.Calls())
}

func TestClient_FailuresDegradeToEmpty(t *testing.T) {
	lf := &fakeLastFm{err: errors.New("connection refused")}
	client, limiter := newTestClient(t, lf)
	ctx := context.Background()

	assert.Empty(t, client.GetSimilarArtists(ctx, "Muse", 5))
	assert.Empty(t, client.GetSimilarTracks(ctx, "Muse", "Hysteria", 5))
	assert.Empty(t, client.GetTopArtistsForTag(ctx, "rock", 5))
	assert.Equal(t, 3, lf.Calls(), "failures are not cached")
	assert.True(t, limiter.IsDisabled(Provider), "three consecutive failures disable the provider")

	assert.Empty(t, client.GetTopTracks(ctx, "Muse", 5))
	assert.Equal(t, 3, lf.Calls(), "disabled provider is skipped without network I/O")

	limiter.Reset()
	lf.err = nil
	client.GetTopTracks(ctx, "Muse", 5)
	assert.Equal(t, 4, lf.Calls())
}

func TestClient_UnknownArtistsKeepProviderEnabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("artist") != "Muse" {
			fmt.Fprint(w, `{"error": 6, "message": "The artist you supplied could not be found"}`)
			return
		}
		fmt.Fprint(w, `{"similarartists": {"artist": [{"name": "Biffy Clyro", "match": "0.9"}]}}`)
	}))
	defer server.Close()

	lf, err := lastfm.New(lastfm.Config{APIKey: "test_key", BaseURL: server.URL + "/"})
	require.NoError(t, err)
	limiter, err := ratelimit.New(ratelimit.Config{MaxCalls: 100, BaseDelay: ratelimit.Delay(time.Microsecond), MaxDelay: time.Millisecond})
	require.NoError(t, err)
	client, err := New(lf, nil, limiter)
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{"Unknown A", "Unknown B", "Unknown C", "Unknown D"} {
		assert.Empty(t, client.GetSimilarArtists(ctx, name, 5))
	}
	assert.False(t, limiter.IsDisabled(Provider), "not-found replies are not provider failures")

	got := client.GetSimilarArtists(ctx, "Muse", 5)
	assert.Equal(t, []track.Candidate{{Artist: "Biffy Clyro", Match: 0.9}}, got)
}

func TestClient_NotFoundIsCached(t *testing.T) {
	lf := &fakeLastFm{err: errors.WithStack(&lastfm.APIError{Code: lastfm.CodeInvalidParameters, Message: "not found"})}
	client, limiter := newTestClient(t, lf)
	ctx := context.Background()

	assert.Empty(t, client.GetTopTracks(ctx, "Unknown Band", 3))
	assert.Empty(t, client.GetTopTracks(ctx, "Unknown Band", 3))
	assert.Equal(t, 1, lf.Calls())
	assert.False(t, limiter.IsDisabled(Provider))
}

func TestClient_SuccessResetsFailureCount(t *testing.T) {
	lf := &fakeLastFm{err: errors.New("timeout")}
	client, limiter := newTestClient(t, lf)
	ctx := context.Background()

	client.GetSimilarArtists(ctx, "a", 5)
	client.GetSimilarArtists(ctx, "b", 5)
	lf.err = nil
	client.GetSimilarArtists(ctx, "c", 5)
	lf.err = errors.New("timeout")
	client.GetSimilarArtists(ctx, "d", 5)
	client.GetSimilarArtists(ctx, "e", 5)

	assert.False(t, limiter.IsDisabled(Provider))
}

func TestClient_Canceled(t *testing.T) {
	lf := &fakeLastFm{similar: []lastfm.SimilarArtist{{Name: "Biffy Clyro"}}}
	client, limiter := newTestClient(t, lf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Empty(t, client.GetSimilarArtists(ctx, "Muse", 5))
	assert.Equal(t, 0, lf.Calls(), "no network call after cancellation")
	assert.False(t, limiter.IsDisabled(Provider))
}

func TestClient_ConvertsAllLookups(t *testing.T) {
	lf := &fakeLastFm{
		tracks:    []lastfm.SimilarTrack{{Name: "Mountains", Artist: "Biffy Clyro", Match: 0.5}},
		tagTop:    []lastfm.TopArtist{{Name: "Radiohead"}},
		topTracks: []lastfm.TopTrack{{Name: "Hysteria", Artist: "Muse"}, {Name: "Uprising", Artist: "Muse"}},
	}
	client, _ := newTestClient(t, lf)
	ctx := context.Background()

	assert.Equal(t, []track.Candidate{{Artist: "Biffy Clyro", Title: "Mountains", Match: 0.5}},
		client.GetSimilarTracks(ctx, "Muse", "Hysteria", 5))
	assert.Equal(t, []track.Candidate{{Artist: "Radiohead"}},
		client.GetTopArtistsForTag(ctx, "rock", 5))
	assert.Equal(t, []string{"Hysteria", "Uprising"},
		client.GetTopTracks(ctx, "Muse", 5))
}

func TestClient_UsesInjectedCache(t *testing.T) {
	lf := &fakeLastFm{similar: []lastfm.SimilarArtist{{Name: "Biffy Clyro"}}}
	limiter, err := ratelimit.New(ratelimit.Config{MaxCalls: 100})
	require.NoError(t, err)
	c := cache.NewTTL[Entry](time.Hour)
	client, err := New(lf, c, limiter)
	require.NoError(t, err)

	client.GetSimilarArtists(context.Background(), "Muse", 5)
	assert.Equal(t, 1, c.Len())
}
