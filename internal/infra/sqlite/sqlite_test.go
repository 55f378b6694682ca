package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/similarbox/internal/app/library"
	"github.com/osa030/similarbox/internal/app/settings"
	"github.com/osa030/similarbox/internal/app/similarity"
	"github.com/osa030/similarbox/internal/app/sink"
	"github.com/osa030/similarbox/internal/domain/track"
)

// Compile-time interface checks.
var (
	_ library.Searcher   = (*Library)(nil)
	_ library.RankStore  = (*Library)(nil)
	_ settings.Backend   = (*SettingsBackend)(nil)
	_ similarity.Cache   = (*ResponseCache[similarity.Entry])(nil)
	_ sink.PlaylistStore = (*Playlists)(nil)
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(memoryDBPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func importTestTracks(t *testing.T, lib *Library) {
	t.Helper()
	n, err := lib.ImportTracks(context.Background(), []track.Track{
		{ID: "1", Artist: "Muse", Title: "Hysteria", Genre: "Rock", Rating: 80},
		{ID: "2", Artist: "Muse", Title: "Hysteria (Live)", Genre: "Rock", Rating: 60},
		{ID: "3", Artist: "muse", Title: "Uprising", Genre: "Alternative", Rating: 74},
		{ID: "4", Artist: "Muse", Title: "Madness", Genre: "Pop", Rating: track.UnknownRating},
		{ID: "5", Artist: "Museum", Title: "Hysteria", Genre: "Rock", Rating: 100, Duration: 3 * time.Minute},
		{ID: "", Artist: "Nobody", Title: "Skipped"},
	})
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func ids(tracks []track.Track) []string {
	result := make([]string, len(tracks))
	for i, t := range tracks {
		result[i] = t.ID
	}
	return result
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, initSchema(db))
}

func TestLibrary_Search(t *testing.T) {
	lib := NewLibrary(setupTestDB(t))
	importTestTracks(t, lib)
	ctx := context.Background()

	tests := []struct {
		name     string
		query    library.Query
		expected []string
	}{
		{
			name:     "artist is matched in full",
			query:    library.Query{Artist: " MUSE ", AllowUnknown: true},
			expected: []string{"1", "2", "3", "4"},
		},
		{
			name:     "title is a substring",
			query:    library.Query{Artist: "Muse", Title: "hyster", AllowUnknown: true},
			expected: []string{"1", "2"},
		},
		{
			name:     "excluded title",
			query:    library.Query{Artist: "Muse", Title: "Hysteria", ExcludeTitles: []string{"live"}, AllowUnknown: true},
			expected: []string{"1"},
		},
		{
			name:     "excluded genre",
			query:    library.Query{Artist: "Muse", ExcludeGenres: []string{"rock", "pop"}, AllowUnknown: true},
			expected: []string{"3"},
		},
		{
			name:     "unknown ratings rejected",
			query:    library.Query{Artist: "Muse"},
			expected: []string{"1", "2", "3"},
		},
		{
			name:     "minimum 80 keeps ratings above 75",
			query:    library.Query{Artist: "Muse", MinRating: 80},
			expected: []string{"1"},
		},
		{
			name:     "minimum 79 rejects 74",
			query:    library.Query{Artist: "Muse", MinRating: 79, AllowUnknown: true},
			expected: []string{"1", "4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lib.Search(ctx, tt.query)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.expected, ids(got))
		})
	}
}

func TestLibrary_SearchOrdering(t *testing.T) {
	lib := NewLibrary(setupTestDB(t))
	importTestTracks(t, lib)
	ctx := context.Background()

	got, err := lib.Search(ctx, library.Query{Artist: "Muse", OrderByRating: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "2"}, ids(got))

	require.NoError(t, lib.UpsertRank(ctx, "2", 90))
	require.NoError(t, lib.UpsertRank(ctx, "3", 50))
	require.NoError(t, lib.UpsertRank(ctx, "3", 10))

	rank, err := lib.Rank(ctx, "3")
	require.NoError(t, err)
	assert.Equal(t, 50, rank, "higher rank wins")

	got, err = lib.Search(ctx, library.Query{Artist: "Muse", OrderByRank: true, OrderByRating: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, ids(got))

	require.NoError(t, lib.ClearRanks(ctx))
	rank, err = lib.Rank(ctx, "2")
	require.NoError(t, err)
	assert.Zero(t, rank)
}

func TestLibrary_ImportReplaces(t *testing.T) {
	lib := NewLibrary(setupTestDB(t))
	importTestTracks(t, lib)
	ctx := context.Background()

	_, err := lib.ImportTracks(ctx, []track.Track{{ID: "1", Artist: "Muse", Title: "Hysteria", Rating: 20}})
	require.NoError(t, err)

	count, err := lib.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	got, err := lib.Tracks(ctx, []string{"5", "missing", "1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 3*time.Minute, got[0].Duration)
	assert.Equal(t, 20, got[1].Rating)
}

func TestLibrary_WorksWithMatcher(t *testing.T) {
	lib := NewLibrary(setupTestDB(t))
	importTestTracks(t, lib)

	got := library.NewMatcher(lib).FindTracks(context.Background(), "muse", "UPRISING", 1, library.Options{})
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].ID)
}

func TestSettingsBackend(t *testing.T) {
	store := settings.New(NewSettingsBackend(setupTestDB(t)), settings.Namespace)

	assert.Equal(t, "fallback", store.Get("mode", "fallback"))
	store.EnsureDefaults(settings.Defaults())
	assert.Equal(t, settings.ModeArtist, store.Get("mode", ""))

	store.Set("mode", settings.ModeGenre)
	store.EnsureDefaults(settings.Defaults())
	assert.Equal(t, settings.ModeGenre, store.Options().Mode, "defaults never overwrite")

	other := settings.New(NewSettingsBackend(setupTestDB(t)), "other")
	assert.Empty(t, other.All())
}

func TestResponseCache(t *testing.T) {
	c := NewResponseCache[similarity.Entry](setupTestDB(t), time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return now })

	_, ok := c.Get("artist|muse")
	assert.False(t, ok)

	entry := similarity.Entry{Candidates: []track.Candidate{{Artist: "Biffy Clyro", Match: 0.8}}}
	c.Put("artist|muse", entry)

	got, ok := c.Get("artist|muse")
	require.True(t, ok)
	assert.Equal(t, entry, got)

	now = now.Add(time.Hour)
	_, ok = c.Get("artist|muse")
	assert.False(t, ok, "expired at exactly the TTL")

	c.Put("toptracks|muse", similarity.Entry{Titles: []string{"Hysteria"}})
	c.InvalidateAll()
	_, ok = c.Get("toptracks|muse")
	assert.False(t, ok)
}

func TestPlaylists(t *testing.T) {
	db := setupTestDB(t)
	lib := NewLibrary(db)
	importTestTracks(t, lib)
	store := NewPlaylists(db)
	ctx := context.Background()

	missing, err := store.FindByName(ctx, "Similar to Muse")
	require.NoError(t, err)
	assert.Nil(t, missing)

	p, err := store.CreatePlaylist(ctx, "Similar to Muse", "Discovery")
	require.NoError(t, err)
	require.NoError(t, store.AddTracks(ctx, p, []track.Track{{ID: "3"}, {ID: "1"}}))
	require.NoError(t, store.AddTracks(ctx, p, []track.Track{{ID: "gone"}}))

	found, err := store.FindByName(ctx, "Similar to Muse")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, p.ID, found.ID)
	assert.Equal(t, "Discovery", found.Parent)
	assert.Equal(t, []string{"3", "1", "gone"}, found.TrackIDs())
	assert.Equal(t, "Uprising", found.Tracks[0].Title)

	_, err = store.CreatePlaylist(ctx, "Similar to Muse", "")
	assert.Error(t, err, "names are unique")

	require.NoError(t, store.ClearPlaylist(ctx, found))
	found, err = store.FindByName(ctx, "Similar to Muse")
	require.NoError(t, err)
	assert.Empty(t, found.Tracks)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPlaylists_WithSink(t *testing.T) {
	db := setupTestDB(t)
	store := NewPlaylists(db)
	ctx := context.Background()

	s, err := sink.New(nopQueue{}, store)
	require.NoError(t, err)

	for range 2 {
		_, err := s.Dispatch(ctx, sink.Request{
			SeedName:     "Muse",
			Tracks:       []track.Track{{ID: "1", Artist: "Muse", Title: "Hysteria"}},
			Overwrite:    settings.OverwriteCreate,
			NameTemplate: "Similar to %",
		})
		require.NoError(t, err)
	}

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Similar to Muse", all[0].Name)
	assert.Equal(t, "Similar to Muse_2", all[1].Name)
}

type nopQueue struct{}

func (nopQueue) QueuedTracks(ctx context.Context) ([]track.Track, error) { return nil, nil }

func (nopQueue) AppendTracks(ctx context.Context, tracks []track.Track) error { return nil }

func (nopQueue) ClearQueue(ctx context.Context) error { return nil }
