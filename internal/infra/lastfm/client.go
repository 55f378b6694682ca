// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// DefaultBaseURL is the Last.fm REST endpoint.
const DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

const maxLimit = 1000

// Client is a Last.fm API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey  string
	BaseURL string        // Defaults to DefaultBaseURL
	Timeout time.Duration // Defaults to 10s
}

// SimilarArtist represents a similar artist from Last.fm.
type SimilarArtist struct {
	Name  string
	Match float64
}

// SimilarTrack represents a similar track from Last.fm.
type SimilarTrack struct {
	Name   string
	Artist string
	Match  float64
}

// TopArtist represents a top artist for a tag.
type TopArtist struct {
	Name string
}

// TopTrack represents a top track of an artist.
type TopTrack struct {
	Name   string
	Artist string
}

// APIError represents an error envelope returned by Last.fm.
type APIError struct {
	Code    int    `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("last.fm API error %d: %s", e.Code, e.Message)
}

// Last.fm error codes for requests naming an unknown artist, track or tag.
const (
	CodeInvalidParameters = 6
	CodeInvalidResource   = 7
)

// IsNotFound reports whether err is a Last.fm reply saying the requested
// artist, track or tag does not exist.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodeInvalidParameters || apiErr.Code == CodeInvalidResource
}

// getSimilarArtistsResponse represents the response from artist.getSimilar API.
type getSimilarArtistsResponse struct {
	SimilarArtists struct {
		Artist list[struct {
			Name  string `json:"name"`
			Match score  `json:"match"`
		}] `json:"artist"`
	} `json:"similarartists"`
}

// getSimilarTracksResponse represents the response from track.getSimilar API.
type getSimilarTracksResponse struct {
	SimilarTracks struct {
		Track list[struct {
			Name   string     `json:"name"`
			Artist artistName `json:"artist"`
			Match  score      `json:"match"`
		}] `json:"track"`
	} `json:"similartracks"`
}

// getTagTopArtistsResponse represents the response from tag.getTopArtists API.
type getTagTopArtistsResponse struct {
	TopArtists struct {
		Artist list[struct {
			Name string `json:"name"`
		}] `json:"artist"`
	} `json:"topartists"`
}

// getArtistTopTracksResponse represents the response from artist.getTopTracks API.
type getArtistTopTracksResponse struct {
	TopTracks struct {
		Track list[struct {
			Name   string     `json:"name"`
			Artist artistName `json:"artist"`
		}] `json:"track"`
	} `json:"toptracks"`
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// GetSimilarArtists retrieves artists similar to artistName, most similar first.
// Reference: https://www.last.fm/api/show/artist.getSimilar
func (c *Client) GetSimilarArtists(ctx context.Context, artistName string, limit int) ([]SimilarArtist, error) {
	if artistName == "" {
		return nil, errors.New("artist name is required")
	}

	params := url.Values{}
	params.Set("method", "artist.getSimilar")
	params.Set("artist", artistName)
	params.Set("limit", fmt.Sprintf("%d", clampLimit(limit)))
	params.Set("autocorrect", "1")

	var response getSimilarArtistsResponse
	if err := c.call(ctx, params, &response); err != nil {
		return nil, err
	}

	artists := make([]SimilarArtist, 0, len(response.SimilarArtists.Artist))
	for _, a := range response.SimilarArtists.Artist {
		if a.Name == "" {
			continue
		}
		artists = append(artists, SimilarArtist{
			Name:  a.Name,
			Match: float64(a.Match),
		})
	}

	return artists, nil
}

// GetSimilarTracks retrieves tracks similar to the given track, most similar first.
// Reference: https://www.last.fm/api/show/track.getSimilar
func (c *Client) GetSimilarTracks(ctx context.Context, artistName, trackName string, limit int) ([]SimilarTrack, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}

	params := url.Values{}
	params.Set("method", "track.getSimilar")
	params.Set("artist", artistName)
	params.Set("track", trackName)
	params.Set("limit", fmt.Sprintf("%d", clampLimit(limit)))
	params.Set("autocorrect", "1")

	var response getSimilarTracksResponse
	if err := c.call(ctx, params, &response); err != nil {
		return nil, err
	}

	tracks := make([]SimilarTrack, 0, len(response.SimilarTracks.Track))
	for _, t := range response.SimilarTracks.Track {
		if t.Name == "" || t.Artist == "" {
			continue
		}
		tracks = append(tracks, SimilarTrack{
			Name:   t.Name,
			Artist: string(t.Artist),
			Match:  float64(t.Match),
		})
	}

	return tracks, nil
}

// GetTagTopArtists retrieves the top artists for a tag.
// Reference: https://www.last.fm/api/show/tag.getTopArtists
func (c *Client) GetTagTopArtists(ctx context.Context, tagName string, limit int) ([]TopArtist, error) {
	if tagName == "" {
		return nil, errors.New("tag name is required")
	}

	params := url.Values{}
	params.Set("method", "tag.getTopArtists")
	params.Set("tag", tagName)
	params.Set("limit", fmt.Sprintf("%d", clampLimit(limit)))

	var response getTagTopArtistsResponse
	if err := c.call(ctx, params, &response); err != nil {
		return nil, err
	}

	artists := make([]TopArtist, 0, len(response.TopArtists.Artist))
	for _, a := range response.TopArtists.Artist {
		if a.Name == "" {
			continue
		}
		artists = append(artists, TopArtist{Name: a.Name})
	}

	return artists, nil
}

// GetArtistTopTracks retrieves the most popular tracks of an artist, most popular first.
// Reference: https://www.last.fm/api/show/artist.getTopTracks
func (c *Client) GetArtistTopTracks(ctx context.Context, artistName string, limit int) ([]TopTrack, error) {
	if artistName == "" {
		return nil, errors.New("artist name is required")
	}

	params := url.Values{}
	params.Set("method", "artist.getTopTracks")
	params.Set("artist", artistName)
	params.Set("limit", fmt.Sprintf("%d", clampLimit(limit)))
	params.Set("autocorrect", "1")

	var response getArtistTopTracksResponse
	if err := c.call(ctx, params, &response); err != nil {
		return nil, err
	}

	tracks := make([]TopTrack, 0, len(response.TopTracks.Track))
	for _, t := range response.TopTracks.Track {
		if t.Name == "" {
			continue
		}
		tracks = append(tracks, TopTrack{
			Name:   t.Name,
			Artist: string(t.Artist),
		})
	}
	// Some responses ignore the limit parameter.
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}

	return tracks, nil
}

// call issues a GET request and decodes the response body into out.
func (c *Client) call(ctx context.Context, params url.Values, out any) error {
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")

	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	zlog.Debug().Msgf("last.fm request: method=%s", params.Get("method"))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response body")
	}

	// Check for Last.fm API errors
	var apiError APIError
	if err := json.Unmarshal(body, &apiError); err == nil && apiError.Code != 0 {
		return errors.WithStack(&apiError)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("unexpected status code: %d", resp.StatusCode)
	}
	if len(body) == 0 {
		return errors.New("empty response body")
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
