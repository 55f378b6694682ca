package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/cache"
	"github.com/osa030/similarbox/internal/app/discovery"
	"github.com/osa030/similarbox/internal/app/engine"
	"github.com/osa030/similarbox/internal/app/progress"
	"github.com/osa030/similarbox/internal/app/similarity"
	"github.com/osa030/similarbox/internal/app/sink"
	"github.com/osa030/similarbox/internal/domain/playlist"
	"github.com/osa030/similarbox/internal/infra/config"
	"github.com/osa030/similarbox/internal/infra/lastfm"
	"github.com/osa030/similarbox/internal/infra/spotify"
	"github.com/osa030/similarbox/internal/infra/sqlite"
)

// player is the host a runtime is attached to.
type player interface {
	sink.Queue
	discovery.Host
}

// stack holds the storage and provider clients shared by every command.
type stack struct {
	cfg       *config.Config
	db        *sql.DB
	library   *sqlite.Library
	playlists *sqlite.Playlists
	settings  *sqlite.SettingsBackend
}

func openStack(cfg *config.Config) (*stack, error) {
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	return &stack{
		cfg:       cfg,
		db:        db,
		library:   sqlite.NewLibrary(db),
		playlists: sqlite.NewPlaylists(db),
		settings:  sqlite.NewSettingsBackend(db),
	}, nil
}

func (s *stack) Close() {
	if err := s.db.Close(); err != nil {
		zlog.Warn().Msgf("Failed to close database: %v", err)
	}
}

// responseCache selects the persisted or the in-memory response cache.
func (s *stack) responseCache() similarity.Cache {
	if s.cfg.Cache.Persist {
		return sqlite.NewResponseCache[similarity.Entry](s.db, s.cfg.CacheTTL())
	}
	return cache.NewTTL[similarity.Entry](s.cfg.CacheTTL())
}

// playlistStore selects Spotify export when enabled, the local database otherwise.
func (s *stack) playlistStore(ctx context.Context) (sink.PlaylistStore, error) {
	if !s.cfg.Spotify.Enabled {
		return s.playlists, nil
	}
	client, err := spotify.New(ctx, spotify.Config{
		ClientID:     s.cfg.Spotify.ClientID,
		ClientSecret: s.cfg.Spotify.ClientSecret,
		RefreshToken: s.cfg.Spotify.RefreshToken,
		Market:       s.cfg.Spotify.Market,
		Public:       s.cfg.Spotify.Public,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Spotify client")
	}
	return client, nil
}

// runtime builds an engine attached to host.
func (s *stack) runtime(ctx context.Context, host player, prompter discovery.Prompter) (*engine.Runtime, error) {
	fm, err := lastfm.New(lastfm.Config{
		APIKey:  s.cfg.LastFm.APIKey,
		BaseURL: s.cfg.LastFm.BaseURL,
		Timeout: s.cfg.LastFmTimeout(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Last.fm client")
	}

	playlists, err := s.playlistStore(ctx)
	if err != nil {
		return nil, err
	}

	return engine.New(engine.Deps{
		Settings:  s.settings,
		LastFm:    fm,
		Library:   s.library,
		Queue:     host,
		Playlists: playlists,
		Host:      host,
		Cache:     s.responseCache(),
		Limiter:   s.cfg.Limiter(),
		Prompter:  prompter,
		Navigator: logNavigation,
		Defaults:  s.cfg.Settings,
	})
}

func logNavigation(target string, p *playlist.Playlist) {
	if p == nil {
		zlog.Info().Msgf("Open playlist: target=%s", target)
		return
	}
	if p.URL != "" {
		zlog.Info().Msgf("Open playlist: target=%s name=%s url=%s", target, p.Name, p.URL)
		return
	}
	zlog.Info().Msgf("Open playlist: target=%s name=%s", target, p.Name)
}

// watchProgress logs run events of rt until the returned stop func is called.
func watchProgress(ctx context.Context, rt *engine.Runtime) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	events, unsubscribe := rt.Progress().SubscribeChan(32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logProgress(ctx, events)
	}()
	return func() {
		cancel()
		<-done
		unsubscribe()
	}
}

// logProgress logs events until ctx is done, then drains what is buffered.
func logProgress(ctx context.Context, events <-chan progress.Event) {
	for {
		select {
		case e := <-events:
			logEvent(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-events:
					logEvent(e)
				default:
					return
				}
			}
		}
	}
}

func logEvent(e progress.Event) {
	switch {
	case e.State == progress.StateMatchingLibrary:
		zlog.Debug().Msgf("[%s] %d/%d artist=%s matched=%d", e.State, e.Index, e.Total, e.Artist, e.Matched)
	case e.State.IsTerminal():
		zlog.Info().Msgf("[%s] run_id=%s auto=%t %s", e.State, e.RunID, e.Auto, e.Message)
	default:
		zlog.Debug().Msgf("[%s] run_id=%s", e.State, e.RunID)
	}
}

// stdinPrompter asks for confirmation on the terminal.
type stdinPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newStdinPrompter() *stdinPrompter {
	return &stdinPrompter{in: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// Confirm implements discovery.Prompter.
func (p *stdinPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N] ", message)

	answers := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			errs <- err
			return
		}
		answers <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errs:
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, errors.Wrap(err, "failed to read answer")
	case line := <-answers:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
