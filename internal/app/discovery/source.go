package discovery

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/settings"
	"github.com/osa030/similarbox/internal/domain/track"
)

// Similarity is the subset of the similarity client used by discovery.
type Similarity interface {
	GetSimilarArtists(ctx context.Context, artistName string, limit int) []track.Candidate
	GetSimilarTracks(ctx context.Context, artistName, trackTitle string, limit int) []track.Candidate
	GetTopArtistsForTag(ctx context.Context, tag string, limit int) []track.Candidate
	GetTopTracks(ctx context.Context, artistName string, limit int) []string
}

// CandidateSource produces similarity candidates for a seed.
// Different implementations back the discovery modes.
type CandidateSource interface {
	// Candidates returns up to limit candidates for seed, best first.
	Candidates(ctx context.Context, seed track.Seed, limit int) []track.Candidate

	// Name returns the discovery mode served by the source.
	Name() string
}

// NewSource creates the candidate source for a discovery mode.
func NewSource(mode string, similarity Similarity) (CandidateSource, error) {
	switch mode {
	case settings.ModeArtist, "":
		return &artistSource{similarity: similarity}, nil
	case settings.ModeTrack:
		return &trackSource{similarity: similarity}, nil
	case settings.ModeGenre:
		return &genreSource{similarity: similarity}, nil
	default:
		return nil, errors.Newf("unsupported discovery mode: %s", mode)
	}
}

// artistSource returns artists similar to the seed artist.
type artistSource struct {
	similarity Similarity
}

func (s *artistSource) Name() string { return settings.ModeArtist }

func (s *artistSource) Candidates(ctx context.Context, seed track.Seed, limit int) []track.Candidate {
	return s.similarity.GetSimilarArtists(ctx, seed.Name, limit)
}

// trackSource returns tracks similar to the seed track.
// Seeds without a source track fall back to similar artists.
type trackSource struct {
	similarity Similarity
}

func (s *trackSource) Name() string { return settings.ModeTrack }

func (s *trackSource) Candidates(ctx context.Context, seed track.Seed, limit int) []track.Candidate {
	if seed.Source == nil || seed.Source.Title == "" {
		zlog.Debug().Msgf("seed has no track, using similar artists: seed=%s", seed.Name)
		return s.similarity.GetSimilarArtists(ctx, seed.Name, limit)
	}
	return s.similarity.GetSimilarTracks(ctx, seed.Name, seed.Source.Title, limit)
}

// genreSource returns the top artists of the seed track's genre.
// Seeds without a genre use the seed name as the tag.
type genreSource struct {
	similarity Similarity
}

func (s *genreSource) Name() string { return settings.ModeGenre }

func (s *genreSource) Candidates(ctx context.Context, seed track.Seed, limit int) []track.Candidate {
	tag := seed.Name
	if seed.Source != nil && seed.Source.Genre != "" {
		tag = seed.Source.Genre
	}
	return s.similarity.GetTopArtistsForTag(ctx, tag, limit)
}
