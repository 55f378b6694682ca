package main

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/discovery"
	"github.com/osa030/similarbox/internal/app/library"
	"github.com/osa030/similarbox/internal/app/playback"
	"github.com/osa030/similarbox/internal/app/settings"
	"github.com/osa030/similarbox/internal/domain/track"
	"github.com/osa030/similarbox/internal/infra/config"
	"github.com/osa030/similarbox/internal/infra/mpd"
)

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func connectMPD(cfg *config.Config) (*mpd.Client, error) {
	client := mpd.NewClient(cfg.MPD.Addr, cfg.MPD.Password)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func runDiscover(cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	host, err := connectMPD(cfg)
	if err != nil {
		return err
	}
	defer host.Close()

	var prompter discovery.Prompter
	if !*discoverYes {
		prompter = newStdinPrompter()
	}
	rt, err := st.runtime(ctx, host, prompter)
	if err != nil {
		return err
	}
	defer rt.Close()

	defer watchProgress(ctx, rt)()

	req := discovery.Request{Mode: *discoverMode}
	for _, name := range *discoverSeeds {
		req.Seeds = append(req.Seeds, track.Seed{Name: name})
	}

	result := rt.RunManual(ctx, req)
	fmt.Println(result.Message)
	if result.Playlist != nil {
		fmt.Printf("Playlist: %s\n", result.Playlist.Name)
	}
	if !result.Success && !errors.Is(result.Err, discovery.ErrDeclined) {
		return result.Err
	}
	return nil
}

func runAuto(cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	host, err := connectMPD(cfg)
	if err != nil {
		return err
	}
	defer host.Close()

	rt, err := st.runtime(ctx, host, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if *autoDisable {
		rt.AutoQueue().Disable(ctx)
		fmt.Println("Auto-queue disabled")
		return nil
	}

	defer watchProgress(ctx, rt)()

	rt.AutoQueue().Enable(ctx)
	// Evaluate the current position once; later checks follow MPD player events.
	rt.AutoQueue().HandlePositionChanged(ctx)

	zlog.Info().Msgf("Auto-queue running on %s, press Ctrl+C to stop", cfg.MPD.Addr)
	<-ctx.Done()
	zlog.Info().Msg("Received shutdown signal...")
	return nil
}

func runImport(cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	host, err := connectMPD(cfg)
	if err != nil {
		return err
	}
	defer host.Close()

	tracks, err := host.LibraryTracks(ctx)
	if err != nil {
		return err
	}
	n, err := st.library.ImportTracks(ctx, tracks)
	if err != nil {
		return err
	}
	total, err := st.library.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d tracks (%d in library)\n", n, total)
	return nil
}

func runPlaylists(cfg *config.Config) error {
	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	all, err := st.playlists.List(context.Background())
	if err != nil {
		return err
	}
	for _, p := range all {
		if p.Parent != "" {
			fmt.Printf("%s/%s\n", p.Parent, p.Name)
			continue
		}
		fmt.Println(p.Name)
	}
	return nil
}

func runReset(cfg *config.Config) error {
	ctx := context.Background()

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// A reset needs no live player.
	idle := playback.NewPlayer(playback.Config{})
	defer idle.Close()

	rt, err := st.runtime(ctx, idle, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("Cache and ranks cleared")
	return nil
}

func settingsStore(st *stack) *settings.Store {
	store := settings.New(st.settings, settings.Namespace)
	store.EnsureDefaults(st.cfg.Settings)
	store.EnsureDefaults(settings.Defaults())
	return store
}

func runSettingsList(cfg *config.Config) error {
	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	all := settingsStore(st).All()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-24s %s\n", k, all[k])
	}
	return nil
}

func runSettingsSet(cfg *config.Config, key, value string) error {
	if err := settings.ValidateSetting(key, value); err != nil {
		return err
	}

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	settingsStore(st).Set(key, value)
	fmt.Printf("%s = %s\n", key, value)
	return nil
}

func runSettingsDefaults(cfg *config.Config) error {
	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	store := settingsStore(st)
	for k, v := range settings.Defaults() {
		store.Set(k, v)
	}
	fmt.Println("Settings restored to defaults")
	return nil
}

// runSimulate plays library tracks on an in-memory player so auto-queue can be
// observed without an MPD server.
func runSimulate(cfg *config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()
	ctx, stop := context.WithTimeout(ctx, *simulateDuration)
	defer stop()

	st, err := openStack(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	player := playback.NewPlayer(playback.Config{Speed: *simulateSpeed})
	defer player.Close()

	unsubscribePlayer := player.Subscribe(func(e playback.Event) {
		switch e.Type {
		case playback.EventTrackStarted:
			if e.Track == nil {
				return
			}
			zlog.Info().Msgf("Now playing: %s - %s", e.Track.Artist, e.Track.Title)
		case playback.EventQueueEmpty:
			zlog.Info().Msg("Queue ran out")
		}
	})
	defer unsubscribePlayer()

	var start []track.Track
	for _, artist := range *simulateArtists {
		found, err := st.library.Search(ctx, library.Query{Artist: artist, AllowUnknown: true, Limit: 1})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			zlog.Warn().Msgf("No library track for artist: %s", artist)
			continue
		}
		start = append(start, found[0])
	}
	if len(start) == 0 {
		return errors.New("no starting tracks found, run import first")
	}

	rt, err := st.runtime(ctx, player, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	defer watchProgress(ctx, rt)()

	// The simulation must not change the persisted auto-queue flag.
	wasEnabled := rt.Settings().Options().AutoEnabled
	rt.AutoQueue().Enable(ctx)
	defer rt.Settings().SetBool(settings.KeyAutoEnabled, wasEnabled)

	if err := player.AppendTracks(ctx, start); err != nil {
		return err
	}
	if err := player.Play(); err != nil {
		return err
	}

	<-ctx.Done()
	cursor, count, _ := player.QueueCursor(context.Background())
	fmt.Printf("Simulation finished: played=%d queued=%d\n", max(cursor, 0), count)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil
	}
	zlog.Info().Msg("Received shutdown signal...")
	return nil
}
