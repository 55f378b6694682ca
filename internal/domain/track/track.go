// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// Track represents a track in the local library.
// Rating uses a 0-100 scale; a negative rating means the rating is unknown.
type Track struct {
	ID       string        // Library track ID
	Path     string        // Location understood by the host player (file path or URI)
	Artist   string        // Artist name
	Title    string        // Track title
	Album    string        // Album name
	Genre    string        // Genre
	Rating   int           // Rating (0-100, negative if unknown)
	Duration time.Duration // Duration (zero if unknown)
}

// UnknownRating is the conventional value for a track without rating.
const UnknownRating = -1

// HasUnknownRating returns true if the track carries no rating.
func (t *Track) HasUnknownRating() bool {
	return t.Rating < 0
}

// Seed represents a seed artist used to start a discovery run.
type Seed struct {
	Name   string // Artist name as it appeared first
	Source *Track // Track the seed was taken from (nil when given by name only)
}

// Key returns the case-folded identity of the seed.
func (s Seed) Key() string {
	return NormalizeName(s.Name)
}

// Candidate represents an artist or track returned by the similarity provider.
// Title is empty for artist candidates.
type Candidate struct {
	Artist string
	Title  string
	Match  float64 // Similarity score (0.0-1.0), zero if the provider did not send one
}

// IsTrack returns true if the candidate names a specific track.
func (c Candidate) IsTrack() bool {
	return c.Title != ""
}

// NormalizeName trims and case-folds an artist or track name for comparisons.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
