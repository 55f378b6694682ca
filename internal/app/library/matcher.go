package library

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/settings"
	"github.com/osa030/similarbox/internal/domain/track"
)

// Searcher runs structured queries against a local library.
// Results are ordered by rank, then rating when the query asks for it, then randomly.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]track.Track, error)
}

// RankStore persists the popularity rank of library tracks.
type RankStore interface {
	// ClearRanks removes every rank.
	ClearRanks(ctx context.Context) error
	// UpsertRank stores rank for trackID, keeping the higher value on conflict.
	UpsertRank(ctx context.Context, trackID string, rank int) error
}

// Filters are the configured matching predicates.
type Filters struct {
	ExcludeTitles []string
	ExcludeGenres []string
	MinRating     int
	AllowUnknown  bool
}

// FiltersFrom extracts the matching filters from a settings snapshot.
func FiltersFrom(opts settings.Options) Filters {
	return Filters{
		ExcludeTitles: opts.ExcludedTitles(),
		ExcludeGenres: opts.ExcludedGenres(),
		MinRating:     opts.MinRating,
		AllowUnknown:  opts.AllowUnknown,
	}
}

// Options controls result ordering and filtering of FindTracks.
type Options struct {
	RankEnabled bool
	BestEnabled bool
	Filters     Filters
}

// Matcher translates (artist, title) candidates into local library tracks.
type Matcher struct {
	searcher Searcher
}

// NewMatcher creates a new Matcher.
func NewMatcher(searcher Searcher) *Matcher {
	return &Matcher{searcher: searcher}
}

// FindTracks returns at most limit library tracks by artistName whose title contains title.
// An empty title matches every track of the artist. Search failures yield an empty result.
func (m *Matcher) FindTracks(ctx context.Context, artistName, title string, limit int, opts Options) []track.Track {
	if err := ctx.Err(); err != nil {
		return []track.Track{}
	}

	q := Query{
		Artist:        artistName,
		Title:         title,
		ExcludeTitles: opts.Filters.ExcludeTitles,
		ExcludeGenres: opts.Filters.ExcludeGenres,
		MinRating:     opts.Filters.MinRating,
		AllowUnknown:  opts.Filters.AllowUnknown,
		OrderByRank:   opts.RankEnabled,
		OrderByRating: opts.BestEnabled,
		Limit:         limit,
	}

	tracks, err := m.searcher.Search(ctx, q)
	if err != nil {
		zlog.Warn().Msgf("library search failed: artist=%s title=%s error=%v", artistName, title, err)
		return []track.Track{}
	}
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks
}
