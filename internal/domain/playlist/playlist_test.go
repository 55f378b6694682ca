package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/similarbox/internal/domain/track"
)

func TestPlaylist_TrackIDs(t *testing.T) {
	tests := []struct {
		name     string
		tracks   []track.Track
		expected []string
	}{
		{
			name:     "empty playlist",
			tracks:   []track.Track{},
			expected: []string{},
		},
		{
			name: "single track",
			tracks: []track.Track{
				{ID: "track-1"},
			},
			expected: []string{"track-1"},
		},
		{
			name: "multiple tracks",
			tracks: []track.Track{
				{ID: "track-1"},
				{ID: "track-2"},
				{ID: "track-3"},
			},
			expected: []string{"track-1", "track-2", "track-3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Playlist{Tracks: tt.tracks}
			assert.Equal(t, tt.expected, p.TrackIDs())
		})
	}
}

func TestResolveName(t *testing.T) {
	tests := []struct {
		name     string
		template string
		seed     string
		expected string
	}{
		{name: "placeholder in the middle", template: "Similar to % mix", seed: "Muse", expected: "Similar to Muse mix"},
		{name: "placeholder at the end", template: "Similar to %", seed: "Muse", expected: "Similar to Muse"},
		{name: "no placeholder", template: "Discovery", seed: "Muse", expected: "Discovery Muse"},
		{name: "empty template", template: "", seed: "Muse", expected: "Muse"},
		{name: "empty seed", template: "Similar to %", seed: "", expected: "Similar to"},
		{name: "multiple placeholders", template: "% / %", seed: "Muse", expected: "Muse / Muse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveName(tt.template, tt.seed))
		})
	}
}

func TestNumberedName(t *testing.T) {
	assert.Equal(t, "Similar to Muse", NumberedName("Similar to Muse", 1))
	assert.Equal(t, "Similar to Muse_2", NumberedName("Similar to Muse", 2))
	assert.Equal(t, "Similar to Muse_3", NumberedName("Similar to Muse", 3))
}
