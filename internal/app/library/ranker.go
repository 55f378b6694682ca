package library

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// MaxRank is the rank given to an artist's most popular track.
const MaxRank = 100

// TopTracksSource returns an artist's most popular track titles, most popular first.
type TopTracksSource interface {
	GetTopTracks(ctx context.Context, artistName string, limit int) []string
}

// RankConfig controls a rank table rebuild.
type RankConfig struct {
	TopTracks int // Titles fetched per artist, at most MaxRank
	FanOut    int // Library tracks ranked per title
	Filters   Filters
}

// Ranker rebuilds the popularity rank table from remote top-track charts.
type Ranker struct {
	source  TopTracksSource
	matcher *Matcher
	store   RankStore
}

// NewRanker creates a new Ranker.
func NewRanker(source TopTracksSource, matcher *Matcher, store RankStore) *Ranker {
	return &Ranker{
		source:  source,
		matcher: matcher,
		store:   store,
	}
}

// Clear empties the rank table.
func (r *Ranker) Clear(ctx context.Context) error {
	return r.store.ClearRanks(ctx)
}

// Rebuild clears the rank table and ranks the library tracks of every artist.
// The title at 1-based position p of an artist's chart ranks 101-p.
// It returns the number of rank updates written.
func (r *Ranker) Rebuild(ctx context.Context, artists []string, cfg RankConfig) (int, error) {
	if cfg.TopTracks <= 0 || cfg.TopTracks > MaxRank {
		cfg.TopTracks = MaxRank
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 5
	}

	if err := r.store.ClearRanks(ctx); err != nil {
		return 0, errors.Wrap(err, "failed to clear rank table")
	}

	updated := 0
	for _, artist := range artists {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		titles := r.source.GetTopTracks(ctx, artist, cfg.TopTracks)
		for i, title := range titles {
			if i >= cfg.TopTracks {
				break
			}
			if err := ctx.Err(); err != nil {
				return updated, err
			}

			rank := MaxRank + 1 - (i + 1)
			tracks := r.matcher.FindTracks(ctx, artist, title, cfg.FanOut, Options{Filters: cfg.Filters})
			for _, t := range tracks {
				if err := r.store.UpsertRank(ctx, t.ID, rank); err != nil {
					zlog.Warn().Msgf("failed to store rank: track_id=%s rank=%d error=%v", t.ID, rank, err)
					continue
				}
				updated++
			}
		}
		zlog.Debug().Msgf("ranked artist: artist=%s titles=%d", artist, len(titles))
	}

	zlog.Info().Msgf("rank table rebuilt: artists=%d updates=%d", len(artists), updated)
	return updated, nil
}
