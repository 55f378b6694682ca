package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/similarbox/internal/app/library"
	"github.com/osa030/similarbox/internal/domain/track"
)

// Library is a library.Searcher and library.RankStore backed by SQLite.
type Library struct {
	db *sql.DB
}

// NewLibrary creates a new Library.
func NewLibrary(db *sql.DB) *Library {
	return &Library{db: db}
}

// Search implements library.Searcher.
func (l *Library) Search(ctx context.Context, q library.Query) ([]track.Track, error) {
	query, args := buildSearch(q)
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search library")
	}
	defer rows.Close()

	var result []track.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// buildSearch translates a query into parameterized SQL.
// Text columns are compared against the lower-cased *_key copies.
func buildSearch(q library.Query) (string, []any) {
	var (
		where []string
		args  []any
	)

	if artist := track.NormalizeName(q.Artist); artist != "" {
		where = append(where, "t.artist_key = ?")
		args = append(args, artist)
	}
	if title := strings.ToLower(strings.TrimSpace(q.Title)); title != "" {
		where = append(where, "instr(t.title_key, ?) > 0")
		args = append(args, title)
	}
	for _, ex := range q.ExcludeTitles {
		if ex == "" {
			continue
		}
		where = append(where, "instr(t.title_key, ?) = 0")
		args = append(args, strings.ToLower(ex))
	}
	for _, g := range q.ExcludeGenres {
		if g = track.NormalizeName(g); g == "" {
			continue
		}
		where = append(where, "t.genre_key <> ?")
		args = append(args, g)
	}

	known := "t.rating >= 0"
	if q.MinRating > 0 {
		known = "(t.rating >= 0 AND t.rating > ?)"
		args = append(args, q.MinRating-library.RatingFuzz)
	}
	if q.AllowUnknown {
		where = append(where, "(t.rating < 0 OR "+known+")")
	} else {
		where = append(where, known)
	}

	var order []string
	if q.OrderByRank {
		order = append(order, "COALESCE(r.rank, 0) DESC")
	}
	if q.OrderByRating {
		order = append(order, "t.rating DESC")
	}
	order = append(order, "RANDOM()")

	var sb strings.Builder
	sb.WriteString(`SELECT t.id, t.path, t.artist, t.title, t.album, t.genre, t.rating, t.duration_ms
		FROM library_tracks t
		LEFT JOIN library_ranks r ON r.track_id = t.id`)
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(where, " AND "))
	sb.WriteString(" ORDER BY ")
	sb.WriteString(strings.Join(order, ", "))
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return sb.String(), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrack(s scanner) (track.Track, error) {
	var (
		t          track.Track
		durationMS int64
	)
	if err := s.Scan(&t.ID, &t.Path, &t.Artist, &t.Title, &t.Album, &t.Genre, &t.Rating, &durationMS); err != nil {
		return track.Track{}, errors.Wrap(err, "failed to scan track")
	}
	t.Duration = time.Duration(durationMS) * time.Millisecond
	return t, nil
}

// ClearRanks implements library.RankStore.
func (l *Library) ClearRanks(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM library_ranks`); err != nil {
		return errors.Wrap(err, "failed to clear ranks")
	}
	return nil
}

// UpsertRank implements library.RankStore.
func (l *Library) UpsertRank(ctx context.Context, trackID string, rank int) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO library_ranks (track_id, rank) VALUES (?, ?)
		ON CONFLICT(track_id) DO UPDATE SET rank = MAX(rank, excluded.rank)
	`, trackID, rank)
	if err != nil {
		return errors.Wrapf(err, "failed to store rank for %s", trackID)
	}
	return nil
}

// Rank returns the stored rank of trackID, zero if unranked.
func (l *Library) Rank(ctx context.Context, trackID string) (int, error) {
	var rank int
	err := l.db.QueryRowContext(ctx, `SELECT rank FROM library_ranks WHERE track_id = ?`, trackID).Scan(&rank)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read rank for %s", trackID)
	}
	return rank, nil
}

// ImportTracks inserts or replaces tracks in one transaction and returns how many were written.
func (l *Library) ImportTracks(ctx context.Context, tracks []track.Track) (int, error) {
	written := 0
	err := WithTx(ctx, l.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO library_tracks (id, path, artist, title, album, genre, rating, duration_ms, artist_key, title_key, genre_key)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				path = excluded.path,
				artist = excluded.artist,
				title = excluded.title,
				album = excluded.album,
				genre = excluded.genre,
				rating = excluded.rating,
				duration_ms = excluded.duration_ms,
				artist_key = excluded.artist_key,
				title_key = excluded.title_key,
				genre_key = excluded.genre_key
		`)
		if err != nil {
			return errors.Wrap(err, "failed to prepare import")
		}
		defer stmt.Close()

		for _, t := range tracks {
			if t.ID == "" {
				continue
			}
			_, err := stmt.ExecContext(ctx,
				t.ID, t.Path, t.Artist, t.Title, t.Album, t.Genre, t.Rating, t.Duration.Milliseconds(),
				track.NormalizeName(t.Artist), strings.ToLower(t.Title), track.NormalizeName(t.Genre),
			)
			if err != nil {
				return errors.Wrapf(err, "failed to import track %s", t.ID)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Tracks returns the library tracks with the given IDs, in the order of ids.
// Unknown IDs are skipped.
func (l *Library) Tracks(ctx context.Context, ids []string) ([]track.Track, error) {
	result := make([]track.Track, 0, len(ids))
	for _, id := range ids {
		row := l.db.QueryRowContext(ctx, `
			SELECT id, path, artist, title, album, genre, rating, duration_ms
			FROM library_tracks WHERE id = ?
		`, id)
		t, err := scanTrack(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// Count returns the number of library tracks.
func (l *Library) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM library_tracks`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count library tracks")
	}
	return n, nil
}
