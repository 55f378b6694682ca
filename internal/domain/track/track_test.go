package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrack_HasUnknownRating(t *testing.T) {
	tests := []struct {
		name     string
		rating   int
		expected bool
	}{
		{name: "conventional unknown", rating: UnknownRating, expected: true},
		{name: "any negative", rating: -20, expected: true},
		{name: "zero is a known rating", rating: 0, expected: false},
		{name: "rated", rating: 80, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trk := Track{Rating: tt.rating}
			assert.Equal(t, tt.expected, trk.HasUnknownRating())
		})
	}
}

func TestSeed_Key(t *testing.T) {
	assert.Equal(t, "muse", Seed{Name: "  MUSE "}.Key())
	assert.Equal(t, Seed{Name: "Muse"}.Key(), Seed{Name: "muse"}.Key())
}

func TestCandidate_IsTrack(t *testing.T) {
	assert.False(t, Candidate{Artist: "Muse"}.IsTrack())
	assert.True(t, Candidate{Artist: "Muse", Title: "Hysteria"}.IsTrack())
}
