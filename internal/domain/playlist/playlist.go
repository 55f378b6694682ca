// Package playlist provides the Playlist domain entity.
package playlist

import (
	"fmt"
	"strings"

	"github.com/osa030/similarbox/internal/domain/track"
)

// Placeholder is replaced by the seed name in playlist name templates.
const Placeholder = "%"

// Playlist represents a named playlist in a playlist store.
type Playlist struct {
	ID     string        // Store-specific playlist ID
	Name   string        // Playlist name
	Parent string        // Parent folder (empty for root)
	URL    string        // External URL, if the store has one
	Tracks []track.Track // Tracks in the playlist (may be empty when not loaded)
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	ids := make([]string, len(p.Tracks))
	for i, t := range p.Tracks {
		ids[i] = t.ID
	}
	return ids
}

// ResolveName builds a playlist name from a template.
// Every placeholder is substituted with the seed name. A template without
// placeholder gets the seed name appended after a space.
func ResolveName(template, seedName string) string {
	template = strings.TrimSpace(template)
	seedName = strings.TrimSpace(seedName)
	if template == "" {
		return seedName
	}
	if !strings.Contains(template, Placeholder) {
		if seedName == "" {
			return template
		}
		return template + " " + seedName
	}
	return strings.TrimSpace(strings.ReplaceAll(template, Placeholder, seedName))
}

// NumberedName returns the n-th disambiguated variant of a playlist name.
// n <= 1 returns the name unchanged, otherwise "name_n".
func NumberedName(name string, n int) string {
	if n <= 1 {
		return name
	}
	return fmt.Sprintf("%s_%d", name, n)
}
