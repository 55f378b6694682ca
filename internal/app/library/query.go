// Package library matches similarity candidates against the local track library.
package library

import (
	"strings"

	"github.com/osa030/similarbox/internal/domain/track"
)

// RatingFuzz widens the minimum rating so tracks just below it still match.
const RatingFuzz = 5

// Query is a structured local library search.
// Artist matches case-insensitively in full; Title matches case-insensitively as a substring.
// Empty terms match everything.
type Query struct {
	Artist        string
	Title         string
	ExcludeTitles []string // Case-insensitive substrings rejected in titles
	ExcludeGenres []string // Case-insensitive genres rejected
	MinRating     int      // 0 disables the minimum
	AllowUnknown  bool     // Accept tracks with a negative (unknown) rating
	OrderByRank   bool
	OrderByRating bool
	Limit         int // 0 means unbounded
}

// AcceptsRating applies the rating rule.
// With a minimum R > 0 a known rating must exceed R-RatingFuzz; unknown ratings
// pass only when AllowUnknown is set.
func (q Query) AcceptsRating(t track.Track) bool {
	if t.HasUnknownRating() {
		return q.AllowUnknown
	}
	if q.MinRating > 0 {
		return t.Rating > q.MinRating-RatingFuzz
	}
	return true
}

// Matches reports whether t satisfies every predicate of the query.
func (q Query) Matches(t track.Track) bool {
	if q.Artist != "" && !strings.EqualFold(strings.TrimSpace(t.Artist), strings.TrimSpace(q.Artist)) {
		return false
	}
	title := strings.ToLower(t.Title)
	if q.Title != "" && !strings.Contains(title, strings.ToLower(strings.TrimSpace(q.Title))) {
		return false
	}
	for _, ex := range q.ExcludeTitles {
		if ex != "" && strings.Contains(title, strings.ToLower(ex)) {
			return false
		}
	}
	for _, g := range q.ExcludeGenres {
		if g != "" && strings.EqualFold(strings.TrimSpace(t.Genre), strings.TrimSpace(g)) {
			return false
		}
	}
	return q.AcceptsRating(t)
}
