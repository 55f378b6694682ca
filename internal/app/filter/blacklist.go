package filter

import (
	"context"

	"github.com/osa030/similarbox/internal/domain/track"
)

// ArtistBlacklistFilter rejects tracks by blacklisted artists (case-insensitive).
type ArtistBlacklistFilter struct {
	artists map[string]bool
}

// NewArtistBlacklistFilter creates a new artist blacklist filter.
func NewArtistBlacklistFilter(artists []string) *ArtistBlacklistFilter {
	f := &ArtistBlacklistFilter{artists: make(map[string]bool, len(artists))}
	for _, a := range artists {
		if key := track.NormalizeName(a); key != "" {
			f.artists[key] = true
		}
	}
	return f
}

// Name returns the filter name.
func (f *ArtistBlacklistFilter) Name() string {
	return "artist_blacklist_filter"
}

// Contains reports whether artist is blacklisted.
func (f *ArtistBlacklistFilter) Contains(artist string) bool {
	return f.artists[track.NormalizeName(artist)]
}

// Check rejects tracks by blacklisted artists.
func (f *ArtistBlacklistFilter) Check(ctx context.Context, t track.Track) Result {
	if f.Contains(t.Artist) {
		return Reject(CodeBlacklisted)
	}
	return Accept()
}
