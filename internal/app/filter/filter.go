// Package filter provides the filter chain applied to matched tracks before dispatch.
package filter

import (
	"context"

	"github.com/osa030/similarbox/internal/domain/track"
)

// Rejection codes.
const (
	CodeDuplicateTrack = "duplicate_track"
	CodeBlacklisted    = "blacklisted_artist"
)

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "duplicate_track", "blacklisted_artist"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for track filters.
type Filter interface {
	// Name returns the filter name.
	Name() string
	// Check performs the filter check.
	Check(ctx context.Context, t track.Track) Result
}
