package library

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/osa030/similarbox/internal/domain/track"
)

// MemoryLibrary is an in-process Searcher and RankStore.
type MemoryLibrary struct {
	mu     sync.RWMutex
	tracks []track.Track
	ranks  map[string]int
}

// NewMemoryLibrary creates a library holding tracks.
func NewMemoryLibrary(tracks ...track.Track) *MemoryLibrary {
	return &MemoryLibrary{
		tracks: append([]track.Track(nil), tracks...),
		ranks:  make(map[string]int),
	}
}

// Add appends tracks to the library.
func (l *MemoryLibrary) Add(tracks ...track.Track) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks = append(l.tracks, tracks...)
}

// Search implements Searcher.
func (l *MemoryLibrary) Search(ctx context.Context, q Query) ([]track.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	var result []track.Track
	for _, t := range l.tracks {
		if q.Matches(t) {
			result = append(result, t)
		}
	}
	ranks := make(map[string]int, len(result))
	for _, t := range result {
		ranks[t.ID] = l.ranks[t.ID]
	}
	l.mu.RUnlock()

	// Random order first so the stable sort leaves ties randomized.
	rand.Shuffle(len(result), func(i, j int) {
		result[i], result[j] = result[j], result[i]
	})
	sort.SliceStable(result, func(i, j int) bool {
		if q.OrderByRank && ranks[result[i].ID] != ranks[result[j].ID] {
			return ranks[result[i].ID] > ranks[result[j].ID]
		}
		if q.OrderByRating && result[i].Rating != result[j].Rating {
			return result[i].Rating > result[j].Rating
		}
		return false
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// ClearRanks implements RankStore.
func (l *MemoryLibrary) ClearRanks(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ranks = make(map[string]int)
	return nil
}

// UpsertRank implements RankStore.
func (l *MemoryLibrary) UpsertRank(ctx context.Context, trackID string, rank int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rank > l.ranks[trackID] {
		l.ranks[trackID] = rank
	}
	return nil
}

// Rank returns the stored rank of trackID, zero if unranked.
func (l *MemoryLibrary) Rank(trackID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ranks[trackID]
}
