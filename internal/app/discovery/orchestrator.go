// Package discovery implements the similar-artist discovery pipeline.
package discovery

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/filter"
	"github.com/osa030/similarbox/internal/app/library"
	"github.com/osa030/similarbox/internal/app/progress"
	"github.com/osa030/similarbox/internal/app/settings"
	"github.com/osa030/similarbox/internal/app/sink"
	"github.com/osa030/similarbox/internal/domain/playlist"
	"github.com/osa030/similarbox/internal/domain/track"
)

var (
	// ErrNoSeeds is returned when no seed artist could be collected.
	ErrNoSeeds = errors.New("select at least one track")
	// ErrNoResults is returned when no library track matched any candidate.
	ErrNoResults = errors.New("no matching tracks found")
	// ErrDeclined is returned when the user refused the confirmation prompt.
	ErrDeclined = errors.New("discovery declined")
)

// SettingsSource provides the current settings snapshot.
type SettingsSource interface {
	Options() settings.Options
}

// Matcher finds library tracks for a candidate.
type Matcher interface {
	FindTracks(ctx context.Context, artistName, title string, limit int, opts library.Options) []track.Track
}

// Ranker rebuilds the popularity rank table.
type Ranker interface {
	Rebuild(ctx context.Context, artists []string, cfg library.RankConfig) (int, error)
}

// Sink receives the final track list.
type Sink interface {
	Dispatch(ctx context.Context, req sink.Request) (sink.Outcome, error)
}

// Host exposes the player state seeds are collected from.
type Host interface {
	// Selection returns the current selection, or the play queue when nothing is selected.
	Selection(ctx context.Context) ([]track.Track, error)
	// NowPlaying returns the current track, nil when idle.
	NowPlaying(ctx context.Context) (*track.Track, error)
}

// Prompter asks the user for confirmation.
type Prompter interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// Request describes one discovery run.
type Request struct {
	Mode  string       // Discovery mode, empty for the configured mode
	Seeds []track.Seed // Explicit seeds, empty to collect from the host
	Auto  bool         // Triggered by the auto-queue controller
}

// Result is the observable outcome of a run.
type Result struct {
	RunID       string
	Success     bool
	TracksAdded int
	Err         error
	Message     string
	State       progress.State
	Playlist    *playlist.Playlist
}

// Deps holds the collaborators of an Orchestrator.
type Deps struct {
	Settings   SettingsSource
	Similarity Similarity
	Matcher    Matcher
	Sink       Sink
	Host       Host                  // Optional when every request carries seeds
	Ranker     Ranker                // Optional, rank rebuild is skipped without it
	Prompter   Prompter              // Optional, confirmation is skipped without it
	Progress   *progress.Broadcaster // Optional
}

// Orchestrator runs the discovery pipeline. Runs may execute concurrently.
type Orchestrator struct {
	deps    Deps
	shuffle func(n int, swap func(i, j int))
}

// New creates a new Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings are required")
	}
	if deps.Similarity == nil {
		return nil, errors.New("similarity client is required")
	}
	if deps.Matcher == nil {
		return nil, errors.New("library matcher is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("sink is required")
	}
	return &Orchestrator{
		deps:    deps,
		shuffle: rand.Shuffle,
	}, nil
}

// limits are the per-run bounds, tighter for auto runs.
type limits struct {
	seeds           int
	similar         int
	tracksPerArtist int
	total           int
}

func limitsFor(opts settings.Options, auto bool) limits {
	if auto {
		return limits{
			seeds:           opts.SeedLimit,
			similar:         opts.AutoSimilarLimit,
			tracksPerArtist: opts.AutoTracksPerArtist,
			total:           opts.AutoTotalLimit,
		}
	}
	return limits{
		seeds:           opts.SeedLimit,
		similar:         opts.SimilarLimit,
		tracksPerArtist: opts.TracksPerArtist,
		total:           opts.TotalLimit,
	}
}

// run carries the state of one pipeline execution.
type run struct {
	id      string
	req     Request
	opts    settings.Options
	limits  limits
	blocked *filter.ArtistBlacklistFilter
	libOpts library.Options

	tracks []track.Track
	seen   map[string]bool
}

func (r *run) full() bool {
	return len(r.tracks) >= r.limits.total
}

// add appends t unless it is a duplicate. It reports whether the cap is reached.
func (r *run) add(t track.Track) bool {
	if r.full() {
		return true
	}
	if !r.seen[t.ID] {
		r.seen[t.ID] = true
		r.tracks = append(r.tracks, t)
	}
	return r.full()
}

// Run executes one discovery run.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	opts := o.deps.Settings.Options()
	r := &run{
		id:      uuid.New().String(),
		req:     req,
		opts:    opts,
		limits:  limitsFor(opts, req.Auto),
		blocked: filter.NewArtistBlacklistFilter(opts.BlacklistedArtists()),
		libOpts: library.Options{
			RankEnabled: opts.Rank,
			BestEnabled: opts.Best,
			Filters:     library.FiltersFrom(opts),
		},
		seen: make(map[string]bool),
	}

	mode := req.Mode
	if mode == "" {
		mode = opts.Mode
	}
	source, err := NewSource(mode, o.deps.Similarity)
	if err != nil {
		return o.fail(r, err)
	}

	zlog.Info().Msgf("discovery started: run_id=%s mode=%s auto=%t", r.id, source.Name(), req.Auto)

	// Collecting seeds
	o.publish(r, progress.Event{State: progress.StateCollectingSeeds})
	seeds := o.collectSeeds(ctx, r)
	if len(seeds) == 0 {
		return o.fail(r, ErrNoSeeds)
	}

	// Fetching similarity
	artists := o.fetchCandidates(ctx, r, source, seeds)
	if err := ctx.Err(); err != nil {
		return o.fail(r, err)
	}

	if len(seeds) == 1 && opts.IncludeSeedTrack && seeds[0].Source != nil && seeds[0].Source.ID != "" {
		r.add(*seeds[0].Source)
	}

	if opts.Rank && !req.Auto && o.deps.Ranker != nil {
		o.rebuildRanks(ctx, r, artists)
	}

	// Matching library
	o.matchCandidates(ctx, r, artists)
	if err := ctx.Err(); err != nil {
		return o.fail(r, err)
	}
	if len(r.tracks) == 0 {
		return o.fail(r, ErrNoResults)
	}

	// Finalizing
	o.publish(r, progress.Event{State: progress.StateFinalizing, Matched: len(r.tracks)})
	if opts.Shuffle {
		o.shuffle(len(r.tracks), func(i, j int) {
			r.tracks[i], r.tracks[j] = r.tracks[j], r.tracks[i]
		})
	}

	if opts.Confirm && !req.Auto && o.deps.Prompter != nil {
		msg := fmt.Sprintf("Add %d tracks similar to %s?", len(r.tracks), seedLabel(seeds))
		ok, err := o.deps.Prompter.Confirm(ctx, msg)
		if err != nil {
			return o.fail(r, errors.Wrap(err, "confirmation failed"))
		}
		if !ok {
			return o.fail(r, ErrDeclined)
		}
	}

	if err := ctx.Err(); err != nil {
		return o.fail(r, err)
	}

	sinkReq := sink.RequestFrom(opts, seeds[0].Name, r.tracks)
	if req.Auto {
		sinkReq.Enqueue = true
		sinkReq.ClearQueue = false
		sinkReq.Navigate = settings.NavigateNone
	}
	outcome, err := o.deps.Sink.Dispatch(ctx, sinkReq)
	if err != nil {
		return o.fail(r, errors.Wrap(err, "failed to dispatch tracks"))
	}

	result := Result{
		RunID:       r.id,
		Success:     true,
		TracksAdded: outcome.Added,
		State:       progress.StateDone,
		Playlist:    outcome.Playlist,
		Message:     fmt.Sprintf("Added %d tracks", outcome.Added),
	}
	o.publish(r, progress.Event{State: progress.StateDone, Matched: len(r.tracks), Message: result.Message})
	zlog.Info().Msgf("discovery finished: run_id=%s matched=%d added=%d", r.id, len(r.tracks), outcome.Added)
	return result
}

// collectSeeds returns the deduplicated, filtered and bounded seed list.
func (o *Orchestrator) collectSeeds(ctx context.Context, r *run) []track.Seed {
	raw := r.req.Seeds
	if len(raw) == 0 {
		raw = o.hostSeeds(ctx, r.req.Auto)
	}

	seeds := make([]track.Seed, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, s := range raw {
		s.Name = strings.TrimSpace(s.Name)
		key := s.Key()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if r.blocked.Contains(s.Name) {
			zlog.Debug().Msgf("seed blacklisted: seed=%s", s.Name)
			continue
		}
		seeds = append(seeds, s)
	}

	if r.opts.SortSeeds {
		sort.SliceStable(seeds, func(i, j int) bool {
			return seeds[i].Key() < seeds[j].Key()
		})
	}
	if r.limits.seeds > 0 && len(seeds) > r.limits.seeds {
		seeds = seeds[:r.limits.seeds]
	}
	return seeds
}

// hostSeeds reads seed tracks from the host. Auto runs prefer the playing track.
func (o *Orchestrator) hostSeeds(ctx context.Context, auto bool) []track.Seed {
	if o.deps.Host == nil {
		return nil
	}

	nowPlaying := func() []track.Seed {
		t, err := o.deps.Host.NowPlaying(ctx)
		if err != nil {
			zlog.Warn().Msgf("failed to read now playing: error=%v", err)
			return nil
		}
		if t == nil {
			return nil
		}
		return []track.Seed{{Name: t.Artist, Source: t}}
	}
	selection := func() []track.Seed {
		tracks, err := o.deps.Host.Selection(ctx)
		if err != nil {
			zlog.Warn().Msgf("failed to read selection: error=%v", err)
			return nil
		}
		seeds := make([]track.Seed, 0, len(tracks))
		for i := range tracks {
			seeds = append(seeds, track.Seed{Name: tracks[i].Artist, Source: &tracks[i]})
		}
		return seeds
	}

	if auto {
		if seeds := nowPlaying(); len(seeds) > 0 {
			return seeds
		}
		return selection()
	}
	if seeds := selection(); len(seeds) > 0 {
		return seeds
	}
	return nowPlaying()
}

// fetchCandidates collects the candidates of every seed in seed order,
// without duplicates or blacklisted artists.
func (o *Orchestrator) fetchCandidates(ctx context.Context, r *run, source CandidateSource, seeds []track.Seed) []track.Candidate {
	var candidates []track.Candidate
	seen := make(map[string]bool)
	push := func(c track.Candidate) {
		key := track.NormalizeName(c.Artist) + "\x00" + track.NormalizeName(c.Title)
		if c.Artist == "" || seen[key] || r.blocked.Contains(c.Artist) {
			return
		}
		seen[key] = true
		candidates = append(candidates, c)
	}

	for i, seed := range seeds {
		if ctx.Err() != nil {
			return candidates
		}
		o.publish(r, progress.Event{
			State:  progress.StateFetchingSimilarity,
			Index:  i + 1,
			Total:  len(seeds),
			Artist: seed.Name,
		})

		if r.opts.IncludeSeedArtist {
			push(track.Candidate{Artist: seed.Name, Match: 1})
		}
		found := source.Candidates(ctx, seed, r.limits.similar)
		zlog.Debug().Msgf("similarity candidates: run_id=%s seed=%s count=%d", r.id, seed.Name, len(found))
		for _, c := range found {
			push(c)
		}
	}
	return candidates
}

// rebuildRanks refreshes the rank table from the candidate artists.
func (o *Orchestrator) rebuildRanks(ctx context.Context, r *run, candidates []track.Candidate) {
	var artists []string
	seen := make(map[string]bool)
	for _, c := range candidates {
		key := track.NormalizeName(c.Artist)
		if !seen[key] {
			seen[key] = true
			artists = append(artists, c.Artist)
		}
	}

	_, err := o.deps.Ranker.Rebuild(ctx, artists, library.RankConfig{
		TopTracks: r.opts.RankTopTracks,
		FanOut:    r.opts.RankFanOut,
		Filters:   r.libOpts.Filters,
	})
	if err != nil {
		zlog.Warn().Msgf("rank rebuild failed, continuing: run_id=%s error=%v", r.id, err)
	}
}

// matchCandidates resolves candidates to library tracks until the cap is reached.
func (o *Orchestrator) matchCandidates(ctx context.Context, r *run, candidates []track.Candidate) {
	for i, c := range candidates {
		if r.full() || ctx.Err() != nil {
			return
		}
		o.publish(r, progress.Event{
			State:   progress.StateMatchingLibrary,
			Index:   i + 1,
			Total:   len(candidates),
			Artist:  c.Artist,
			Title:   c.Title,
			Matched: len(r.tracks),
		})

		if c.IsTrack() {
			if o.matchTitle(ctx, r, c.Artist, c.Title) {
				return
			}
			continue
		}

		titles := o.deps.Similarity.GetTopTracks(ctx, c.Artist, r.limits.tracksPerArtist)
		for j, title := range titles {
			if j >= r.limits.tracksPerArtist {
				break
			}
			if o.matchTitle(ctx, r, c.Artist, title) {
				return
			}
		}
	}
}

// matchTitle matches one title. It reports whether matching must stop.
func (o *Orchestrator) matchTitle(ctx context.Context, r *run, artist, title string) bool {
	if ctx.Err() != nil {
		return true
	}
	for _, t := range o.deps.Matcher.FindTracks(ctx, artist, title, 1, r.libOpts) {
		if r.add(t) {
			zlog.Debug().Msgf("track limit reached: run_id=%s limit=%d", r.id, r.limits.total)
			return true
		}
	}
	return false
}

func (o *Orchestrator) fail(r *run, err error) Result {
	result := Result{
		RunID:   r.id,
		Success: false,
		Err:     err,
		State:   progress.StateFailed,
		Message: Message(err),
	}
	o.publish(r, progress.Event{State: progress.StateFailed, Matched: len(r.tracks), Message: result.Message})

	switch {
	case errors.Is(err, ErrNoSeeds), errors.Is(err, ErrNoResults), errors.Is(err, ErrDeclined):
		zlog.Info().Msgf("discovery ended: run_id=%s reason=%s", r.id, result.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		zlog.Info().Msgf("discovery canceled: run_id=%s", r.id)
	default:
		zlog.Error().Msgf("discovery failed: run_id=%s error=%v", r.id, err)
	}
	return result
}

func (o *Orchestrator) publish(r *run, e progress.Event) {
	if o.deps.Progress == nil {
		return
	}
	e.RunID = r.id
	e.Auto = r.req.Auto
	o.deps.Progress.Publish(e)
}

// Message returns the user-facing message for a run error.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSeeds):
		return "Select at least one track"
	case errors.Is(err, ErrNoResults):
		return "No matching tracks found"
	case errors.Is(err, ErrDeclined):
		return "Cancelled"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	default:
		return err.Error()
	}
}

func seedLabel(seeds []track.Seed) string {
	if len(seeds) == 1 {
		return seeds[0].Name
	}
	return fmt.Sprintf("%s and %d more", seeds[0].Name, len(seeds)-1)
}
