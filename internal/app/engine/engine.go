// Package engine wires the discovery components into one runtime.
package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/autoqueue"
	"github.com/osa030/similarbox/internal/app/discovery"
	"github.com/osa030/similarbox/internal/app/library"
	"github.com/osa030/similarbox/internal/app/progress"
	"github.com/osa030/similarbox/internal/app/ratelimit"
	"github.com/osa030/similarbox/internal/app/settings"
	"github.com/osa030/similarbox/internal/app/similarity"
	"github.com/osa030/similarbox/internal/app/sink"
)

// Library is a searchable local library that also stores track ranks.
type Library interface {
	library.Searcher
	library.RankStore
}

// Deps holds the collaborators of a Runtime.
type Deps struct {
	Settings settings.Backend        // Required
	LastFm   similarity.LastFmClient // Required
	Library  Library                 // Required
	Queue    sink.Queue              // Required

	Playlists sink.PlaylistStore        // Optional, playlist output is unavailable without it
	Host      discovery.Host            // Optional, requests must carry seeds without it
	Position  autoqueue.QueuePosition   // Optional, detected from Host when nil
	Notifier  autoqueue.PositionNotifier // Optional, detected from Host when nil
	Cache     similarity.Cache          // Optional, in-memory when nil
	Limiter   ratelimit.Config
	Prompter  discovery.Prompter
	Navigator sink.Navigator

	// Defaults are stored for keys that have no value yet, ahead of the documented defaults.
	Defaults map[string]string
}

// Runtime is one isolated instance of the discovery engine.
type Runtime struct {
	settings     *settings.Store
	progress     *progress.Broadcaster
	limiter      *ratelimit.Limiter
	similarity   *similarity.Client
	ranker       *library.Ranker
	orchestrator *discovery.Orchestrator
	auto         *autoqueue.Controller
}

// New creates a new Runtime.
func New(deps Deps) (*Runtime, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings backend is required")
	}
	if deps.LastFm == nil {
		return nil, errors.New("last.fm client is required")
	}
	if deps.Library == nil {
		return nil, errors.New("library is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("queue is required")
	}

	store := settings.New(deps.Settings, settings.Namespace)
	if len(deps.Defaults) > 0 {
		store.EnsureDefaults(deps.Defaults)
	}
	store.EnsureDefaults(settings.Defaults())

	limiter, err := ratelimit.New(deps.Limiter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create rate limiter")
	}

	sim, err := similarity.New(deps.LastFm, deps.Cache, limiter)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create similarity client")
	}

	matcher := library.NewMatcher(deps.Library)
	ranker := library.NewRanker(sim, matcher, deps.Library)

	out, err := sink.New(deps.Queue, deps.Playlists)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create sink")
	}
	if deps.Navigator != nil {
		out.SetNavigator(deps.Navigator)
	}

	broadcaster := progress.NewBroadcaster()
	orch, err := discovery.New(discovery.Deps{
		Settings:   store,
		Similarity: sim,
		Matcher:    matcher,
		Sink:       out,
		Host:       deps.Host,
		Ranker:     ranker,
		Prompter:   deps.Prompter,
		Progress:   broadcaster,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create orchestrator")
	}

	position := deps.Position
	if position == nil && deps.Host != nil {
		position = autoqueue.DetectPosition(deps.Host)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier, _ = deps.Host.(autoqueue.PositionNotifier)
	}
	if position == nil {
		zlog.Warn().Msg("host exposes no queue position, auto-queue will never trigger")
	}

	auto, err := autoqueue.NewController(orch, store, position, notifier)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create auto-queue controller")
	}

	return &Runtime{
		settings:     store,
		progress:     broadcaster,
		limiter:      limiter,
		similarity:   sim,
		ranker:       ranker,
		orchestrator: orch,
		auto:         auto,
	}, nil
}

// Settings returns the settings store.
func (r *Runtime) Settings() *settings.Store {
	return r.settings
}

// Progress returns the broadcaster carrying run state events.
func (r *Runtime) Progress() *progress.Broadcaster {
	return r.progress
}

// AutoQueue returns the auto-queue controller.
func (r *Runtime) AutoQueue() *autoqueue.Controller {
	return r.auto
}

// Start resumes auto-queue when it was left enabled.
func (r *Runtime) Start(ctx context.Context) {
	r.auto.Restore(ctx)
}

// RunManual runs a user-requested discovery. An in-flight auto run is canceled first.
func (r *Runtime) RunManual(ctx context.Context, req discovery.Request) discovery.Result {
	r.auto.Cancel()
	req.Auto = false
	return r.orchestrator.Run(ctx, req)
}

// Reset drops cached responses and ranks and clears rate limiter state.
func (r *Runtime) Reset(ctx context.Context) error {
	r.similarity.InvalidateAll()
	r.limiter.Reset()
	if err := r.ranker.Clear(ctx); err != nil {
		return errors.Wrap(err, "failed to clear ranks")
	}
	zlog.Info().Msg("cache, ranks and rate limiter reset")
	return nil
}

// Close stops auto-queue listening, waits for an in-flight auto run and closes
// the progress broadcaster. The persisted auto-queue flag is left untouched.
func (r *Runtime) Close() {
	r.auto.Detach()
	r.auto.Cancel()
	r.auto.Wait()
	r.progress.Close()
}
