// Package similarity looks up similar artists and tracks through a cached, rate limited provider.
package similarity

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/cache"
	"github.com/osa030/similarbox/internal/app/ratelimit"
	"github.com/osa030/similarbox/internal/domain/track"
	"github.com/osa030/similarbox/internal/infra/lastfm"
)

// Provider is the rate limiter key of the remote similarity API.
const Provider = "lastfm"

// Cache lookup modes.
const (
	modeSimilarArtists = "artist"
	modeSimilarTracks  = "track"
	modeTagArtists     = "genre"
	modeTopTracks      = "toptracks"
)

// LastFmClient defines the interface for Last.fm operations.
type LastFmClient interface {
	GetSimilarArtists(ctx context.Context, artistName string, limit int) ([]lastfm.SimilarArtist, error)
	GetSimilarTracks(ctx context.Context, artistName, trackName string, limit int) ([]lastfm.SimilarTrack, error)
	GetTagTopArtists(ctx context.Context, tagName string, limit int) ([]lastfm.TopArtist, error)
	GetArtistTopTracks(ctx context.Context, artistName string, limit int) ([]lastfm.TopTrack, error)
}

// Cache stores successful responses. Candidate lists and title lists share one cache.
type Cache interface {
	Get(key string) (Entry, bool)
	Put(key string, value Entry)
	InvalidateAll()
}

// Limiter is the subset of ratelimit.Limiter used by the client.
type Limiter interface {
	Wait(ctx context.Context, provider string) error
	RecordSuccess(provider string)
	RecordFailure(provider string)
}

// Entry is a cached response: candidates for similarity lookups, titles for top tracks.
type Entry struct {
	Candidates []track.Candidate `json:"candidates,omitempty"`
	Titles     []string          `json:"titles,omitempty"`
}

// Client wraps the similarity provider with a response cache and a rate limiter.
// Lookups never fail: provider errors yield an empty result and are logged.
type Client struct {
	lastfm  LastFmClient
	cache   Cache
	limiter Limiter
}

// New creates a new Client. A nil cache selects an in-memory cache with the default TTL.
func New(lastfmClient LastFmClient, c Cache, limiter Limiter) (*Client, error) {
	if lastfmClient == nil {
		return nil, errors.New("last.fm client is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if c == nil {
		c = cache.NewTTL[Entry](cache.DefaultTTL)
	}
	return &Client{
		lastfm:  lastfmClient,
		cache:   c,
		limiter: limiter,
	}, nil
}

// GetSimilarArtists returns artists similar to artistName, most similar first.
func (c *Client) GetSimilarArtists(ctx context.Context, artistName string, limit int) []track.Candidate {
	key := cache.Key(modeSimilarArtists, artistName, fmt.Sprint(limit))
	entry, ok := c.lookup(ctx, key, func(ctx context.Context) (Entry, error) {
		artists, err := c.lastfm.GetSimilarArtists(ctx, artistName, limit)
		if err != nil {
			return Entry{}, err
		}
		candidates := make([]track.Candidate, 0, len(artists))
		for _, a := range artists {
			candidates = append(candidates, track.Candidate{Artist: a.Name, Match: a.Match})
		}
		return Entry{Candidates: candidates}, nil
	})
	if !ok {
		return []track.Candidate{}
	}
	return entry.Candidates
}

// GetSimilarTracks returns tracks similar to the given track, most similar first.
func (c *Client) GetSimilarTracks(ctx context.Context, artistName, trackTitle string, limit int) []track.Candidate {
	key := cache.Key(modeSimilarTracks, artistName, trackTitle, fmt.Sprint(limit))
	entry, ok := c.lookup(ctx, key, func(ctx context.Context) (Entry, error) {
		tracks, err := c.lastfm.GetSimilarTracks(ctx, artistName, trackTitle, limit)
		if err != nil {
			return Entry{}, err
		}
		candidates := make([]track.Candidate, 0, len(tracks))
		for _, t := range tracks {
			candidates = append(candidates, track.Candidate{Artist: t.Artist, Title: t.Name, Match: t.Match})
		}
		return Entry{Candidates: candidates}, nil
	})
	if !ok {
		return []track.Candidate{}
	}
	return entry.Candidates
}

// GetTopArtistsForTag returns the top artists of a tag.
func (c *Client) GetTopArtistsForTag(ctx context.Context, tag string, limit int) []track.Candidate {
	key := cache.Key(modeTagArtists, tag, fmt.Sprint(limit))
	entry, ok := c.lookup(ctx, key, func(ctx context.Context) (Entry, error) {
		artists, err := c.lastfm.GetTagTopArtists(ctx, tag, limit)
		if err != nil {
			return Entry{}, err
		}
		candidates := make([]track.Candidate, 0, len(artists))
		for _, a := range artists {
			candidates = append(candidates, track.Candidate{Artist: a.Name})
		}
		return Entry{Candidates: candidates}, nil
	})
	if !ok {
		return []track.Candidate{}
	}
	return entry.Candidates
}

// GetTopTracks returns the titles of an artist's most popular tracks.
func (c *Client) GetTopTracks(ctx context.Context, artistName string, limit int) []string {
	key := cache.Key(modeTopTracks, artistName, fmt.Sprint(limit))
	entry, ok := c.lookup(ctx, key, func(ctx context.Context) (Entry, error) {
		tracks, err := c.lastfm.GetArtistTopTracks(ctx, artistName, limit)
		if err != nil {
			return Entry{}, err
		}
		titles := make([]string, 0, len(tracks))
		for _, t := range tracks {
			titles = append(titles, t.Name)
		}
		return Entry{Titles: titles}, nil
	})
	if !ok {
		return []string{}
	}
	return entry.Titles
}

// InvalidateAll drops every cached response.
func (c *Client) InvalidateAll() {
	c.cache.InvalidateAll()
}

// lookup runs the cache, limiter and fetch pipeline for one request.
func (c *Client) lookup(ctx context.Context, key string, fetch func(context.Context) (Entry, error)) (Entry, bool) {
	if cached, ok := c.cache.Get(key); ok {
		zlog.Debug().Msgf("similarity cache hit: key=%s", key)
		return cached, true
	}

	if err := ctx.Err(); err != nil {
		return Entry{}, false
	}

	if err := c.limiter.Wait(ctx, Provider); err != nil {
		if errors.Is(err, ratelimit.ErrDisabled) {
			zlog.Debug().Msgf("similarity provider disabled, skipping: key=%s", key)
		} else {
			zlog.Debug().Msgf("similarity lookup abandoned: key=%s error=%v", key, err)
		}
		return Entry{}, false
	}

	entry, err := fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation says nothing about provider health.
			zlog.Debug().Msgf("similarity lookup canceled: key=%s", key)
			return Entry{}, false
		}
		if lastfm.IsNotFound(err) {
			// The provider answered; it just knows nothing about the request.
			zlog.Debug().Msgf("similarity lookup found nothing: key=%s error=%v", key, err)
			c.limiter.RecordSuccess(Provider)
			c.cache.Put(key, Entry{})
			return Entry{}, true
		}
		c.limiter.RecordFailure(Provider)
		zlog.Warn().Msgf("similarity lookup failed: key=%s error=%v", key, err)
		return Entry{}, false
	}

	c.limiter.RecordSuccess(Provider)
	c.cache.Put(key, entry)
	return entry, true
}
