// Package sink delivers matched tracks to the play queue or to a named playlist.
package sink

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/filter"
	"github.com/osa030/similarbox/internal/app/settings"
	"github.com/osa030/similarbox/internal/domain/playlist"
	"github.com/osa030/similarbox/internal/domain/track"
)

// maxNameAttempts bounds the "_2", "_3", ... disambiguation search.
const maxNameAttempts = 1000

// Queue is the live play queue of the host player.
type Queue interface {
	QueuedTracks(ctx context.Context) ([]track.Track, error)
	AppendTracks(ctx context.Context, tracks []track.Track) error
	ClearQueue(ctx context.Context) error
}

// PlaylistStore persists named playlists.
type PlaylistStore interface {
	// FindByName returns nil without error when no playlist has that name.
	FindByName(ctx context.Context, name string) (*playlist.Playlist, error)
	CreatePlaylist(ctx context.Context, name, parent string) (*playlist.Playlist, error)
	ClearPlaylist(ctx context.Context, p *playlist.Playlist) error
	AddTracks(ctx context.Context, p *playlist.Playlist, tracks []track.Track) error
}

// Navigator is notified after dispatch with the navigation target
// (settings.NavigatePlaylist or settings.NavigateNowPlaying). p is nil for now playing.
type Navigator func(target string, p *playlist.Playlist)

// Request describes one dispatch.
type Request struct {
	SeedName       string
	Tracks         []track.Track
	Enqueue        bool   // Append to the play queue instead of writing a playlist
	ClearQueue     bool   // Clear the play queue before appending
	SkipDuplicates bool   // Skip tracks already in the play queue
	Overwrite      string // settings.OverwriteCreate, OverwriteReuse or OverwriteNone
	NameTemplate   string // Playlist name template, "%" is replaced by the seed name
	Parent         string // Parent folder of created playlists
	Navigate       string // settings.NavigateNone, NavigatePlaylist or NavigateNowPlaying
}

// RequestFrom fills the sink settings of a request from a settings snapshot.
func RequestFrom(opts settings.Options, seedName string, tracks []track.Track) Request {
	return Request{
		SeedName:       seedName,
		Tracks:         tracks,
		Enqueue:        opts.Enqueue,
		ClearQueue:     opts.ClearQueue,
		SkipDuplicates: opts.SkipDuplicates,
		Overwrite:      opts.Overwrite,
		NameTemplate:   opts.NameTemplate,
		Navigate:       opts.Navigate,
	}
}

// Outcome reports what a dispatch wrote.
type Outcome struct {
	Added    int                // Tracks written to the queue or playlist
	Skipped  int                // Tracks skipped as duplicates
	Playlist *playlist.Playlist // Playlist written, nil in enqueue mode
}

// Sink dispatches matched tracks.
type Sink struct {
	queue     Queue
	playlists PlaylistStore
	navigator Navigator
}

// New creates a new Sink. playlists may be nil, in which case every dispatch enqueues.
func New(queue Queue, playlists PlaylistStore) (*Sink, error) {
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	return &Sink{
		queue:     queue,
		playlists: playlists,
	}, nil
}

// SetNavigator registers the navigation callback.
func (s *Sink) SetNavigator(n Navigator) {
	s.navigator = n
}

// Dispatch writes req.Tracks to the queue or a playlist.
// Writes are not rolled back when a later step fails.
func (s *Sink) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	if req.Enqueue || req.Overwrite == settings.OverwriteNone || s.playlists == nil {
		return s.enqueue(ctx, req)
	}
	return s.writePlaylist(ctx, req)
}

func (s *Sink) enqueue(ctx context.Context, req Request) (Outcome, error) {
	var existing []track.Track
	if req.ClearQueue {
		if err := s.queue.ClearQueue(ctx); err != nil {
			return Outcome{}, errors.Wrap(err, "failed to clear queue")
		}
	} else if req.SkipDuplicates {
		queued, err := s.queue.QueuedTracks(ctx)
		if err != nil {
			// Enqueue anyway, a duplicate is better than nothing.
			zlog.Warn().Msgf("failed to read queue, duplicates not skipped: error=%v", err)
		}
		existing = queued
	}

	tracks := req.Tracks
	if req.SkipDuplicates {
		tracks = filter.NewChain(filter.NewDuplicateTrackFilter(existing)).Apply(ctx, tracks)
	}
	outcome := Outcome{Skipped: len(req.Tracks) - len(tracks)}

	if len(tracks) > 0 {
		if err := s.queue.AppendTracks(ctx, tracks); err != nil {
			return outcome, errors.Wrap(err, "failed to append tracks to queue")
		}
	}
	outcome.Added = len(tracks)

	zlog.Info().Msgf("tracks enqueued: seed=%s added=%d skipped=%d", req.SeedName, outcome.Added, outcome.Skipped)

	if req.Navigate == settings.NavigateNowPlaying {
		s.navigate(settings.NavigateNowPlaying, nil)
	}
	return outcome, nil
}

func (s *Sink) writePlaylist(ctx context.Context, req Request) (Outcome, error) {
	name := playlist.ResolveName(req.NameTemplate, req.SeedName)
	if name == "" {
		return Outcome{}, errors.New("playlist name is empty")
	}

	var (
		p   *playlist.Playlist
		err error
	)
	switch req.Overwrite {
	case settings.OverwriteReuse:
		p, err = s.reusePlaylist(ctx, name, req.Parent)
	default:
		p, err = s.createUniquePlaylist(ctx, name, req.Parent)
	}
	if err != nil {
		return Outcome{}, err
	}

	// Playlists never receive the same track twice.
	tracks := filter.NewChain(filter.NewDuplicateTrackFilter(nil)).Apply(ctx, req.Tracks)
	if len(tracks) > 0 {
		if err := s.playlists.AddTracks(ctx, p, tracks); err != nil {
			return Outcome{Playlist: p}, errors.Wrapf(err, "failed to add tracks to playlist %q", p.Name)
		}
	}
	p.Tracks = tracks

	zlog.Info().Msgf("playlist written: name=%s id=%s tracks=%d", p.Name, p.ID, len(tracks))

	switch req.Navigate {
	case settings.NavigatePlaylist:
		s.navigate(settings.NavigatePlaylist, p)
	case settings.NavigateNowPlaying:
		s.navigate(settings.NavigateNowPlaying, nil)
	}

	return Outcome{
		Added:    len(tracks),
		Skipped:  len(req.Tracks) - len(tracks),
		Playlist: p,
	}, nil
}

// reusePlaylist clears the playlist called name, creating it when missing.
func (s *Sink) reusePlaylist(ctx context.Context, name, parent string) (*playlist.Playlist, error) {
	p, err := s.playlists.FindByName(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up playlist %q", name)
	}
	if p == nil {
		return s.create(ctx, name, parent)
	}
	if err := s.playlists.ClearPlaylist(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "failed to clear playlist %q", name)
	}
	return p, nil
}

// createUniquePlaylist creates name, or the first free of name_2, name_3, ...
func (s *Sink) createUniquePlaylist(ctx context.Context, name, parent string) (*playlist.Playlist, error) {
	for n := 1; n <= maxNameAttempts; n++ {
		candidate := playlist.NumberedName(name, n)
		existing, err := s.playlists.FindByName(ctx, candidate)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to look up playlist %q", candidate)
		}
		if existing == nil {
			return s.create(ctx, candidate, parent)
		}
	}
	return nil, errors.Newf("no free playlist name for %q", name)
}

func (s *Sink) create(ctx context.Context, name, parent string) (*playlist.Playlist, error) {
	p, err := s.playlists.CreatePlaylist(ctx, name, parent)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create playlist %q", name)
	}
	return p, nil
}

func (s *Sink) navigate(target string, p *playlist.Playlist) {
	if s.navigator == nil {
		return
	}
	s.navigator(target, p)
}
