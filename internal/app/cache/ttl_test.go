package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		parts    []string
		expected string
	}{
		{name: "single part", mode: "artist", parts: []string{"Muse"}, expected: "artist|muse"},
		{name: "trimmed and folded", mode: " Artist ", parts: []string{"  MUSE "}, expected: "artist|muse"},
		{name: "multiple parts", mode: "track", parts: []string{"Muse", "Hysteria", "20"}, expected: "track|muse|hysteria|20"},
		{name: "no parts", mode: "chart", parts: nil, expected: "chart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Key(tt.mode, tt.parts...))
		})
	}
}

func TestTTL_GetPut(t *testing.T) {
	c := NewTTL[[]string](time.Minute)

	_, ok := c.Get("artist|muse")
	assert.False(t, ok)

	c.Put("artist|muse", []string{"Biffy Clyro"})
	v, ok := c.Get("artist|muse")
	assert.True(t, ok)
	assert.Equal(t, []string{"Biffy Clyro"}, v)
	assert.Equal(t, 1, c.Len())
}

func TestTTL_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTL[int](time.Minute)
	c.SetClock(func() time.Time { return now })

	c.Put("k", 1)

	now = now.Add(59 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry is valid before the TTL")

	now = now.Add(time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry expires exactly at the TTL")
}

func TestTTL_InvalidateAll(t *testing.T) {
	c := NewTTL[int](0)
	assert.Equal(t, DefaultTTL, c.ttl)

	c.Put("a", 1)
	c.Put("b", 2)
	c.InvalidateAll()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
