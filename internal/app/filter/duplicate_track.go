package filter

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/osa030/similarbox/internal/domain/track"
)

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),       // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),      // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),      // "[Remastered]"
		regexp.MustCompile(`\s*-\s*remaster(ed)?(\s+version)?\b`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),               // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),               // "[Any Remaster text]"
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`),         // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),            // "(Radio Edit)"
		regexp.MustCompile(`\s*-\s*live\b.*$`),          // "- Live at Wembley"
		regexp.MustCompile(`\s*\(live\b.*?\)`),          // "(Live)"
		regexp.MustCompile(`\s*-\s*radio\s+edit\b`),     // "- Radio Edit"
		regexp.MustCompile(`\s*-\s*single\s+version\b`), // "- Single Version"
	}
	whitespace = regexp.MustCompile(`\s+`)
)

// DuplicateTrackFilter rejects tracks already present in the play queue.
// Detects:
// - Exact track ID matches
// - Remasters and alternate versions (normalized title + same artist)
// Excludes:
// - Cover songs (same title but different artist)
//
// Accepted tracks are remembered, so duplicates within one batch are rejected too.
type DuplicateTrackFilter struct {
	mu     sync.Mutex
	ids    map[string]bool
	titles map[string]bool // artist + normalized title
}

// NewDuplicateTrackFilter creates a filter primed with the tracks already queued.
func NewDuplicateTrackFilter(queued []track.Track) *DuplicateTrackFilter {
	f := &DuplicateTrackFilter{
		ids:    make(map[string]bool, len(queued)),
		titles: make(map[string]bool, len(queued)),
	}
	for _, t := range queued {
		f.remember(t)
	}
	return f
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, t track.Track) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	// 1. Exact track ID match
	if t.ID != "" && f.ids[t.ID] {
		return Reject(CodeDuplicateTrack)
	}

	// 2. Remaster detection: normalized name + same artist
	if key := versionKey(t); key != "" && f.titles[key] {
		return Reject(CodeDuplicateTrack)
	}

	f.remember(t)
	return Accept()
}

// remember records t. Caller must hold mu, or own f exclusively.
func (f *DuplicateTrackFilter) remember(t track.Track) {
	if t.ID != "" {
		f.ids[t.ID] = true
	}
	if key := versionKey(t); key != "" {
		f.titles[key] = true
	}
}

// versionKey identifies a song regardless of remaster or version suffixes.
func versionKey(t track.Track) string {
	artist := track.NormalizeName(t.Artist)
	title := normalizeTrackName(t.Title)
	if artist == "" || title == "" {
		return ""
	}
	return artist + "\x00" + title
}

// normalizeTrackName removes remaster information and version details.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)

	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = whitespace.ReplaceAllString(normalized, " ")

	// Remove trailing dashes
	normalized = strings.TrimRight(normalized, " -")

	return normalized
}
