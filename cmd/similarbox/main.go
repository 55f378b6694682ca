// Package main provides the similarbox command line entry point.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/similarbox/internal/app/settings"
	"github.com/osa030/similarbox/internal/infra/config"
	"github.com/osa030/similarbox/internal/infra/logger"
)

var (
	app        = kingpin.New("similarbox", "Queue tracks from your library that are similar to what you are playing")
	configPath = app.Flag("config", "Path to config file").Default("similarbox.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	discoverCmd   = app.Command("discover", "Add library tracks similar to the MPD queue (default)").Default()
	discoverMode  = discoverCmd.Flag("mode", "Discovery mode").Enum(settings.ModeArtist, settings.ModeTrack, settings.ModeGenre)
	discoverSeeds = discoverCmd.Flag("seed", "Seed artist, or tag in genre mode (repeatable)").Strings()
	discoverYes   = discoverCmd.Flag("yes", "Skip the confirmation prompt").Short('y').Bool()

	autoCmd     = app.Command("auto", "Keep the MPD queue topped up with similar tracks until interrupted")
	autoDisable = autoCmd.Flag("disable", "Disable auto-queue and exit").Bool()

	importCmd    = app.Command("import", "Import the MPD database into the local library")
	playlistsCmd = app.Command("playlists", "List playlists stored in the local database")
	resetCmd     = app.Command("reset", "Clear cached responses, the rank table and rate limiter state")

	settingsCmd      = app.Command("settings", "Show or change discovery settings")
	settingsListCmd  = settingsCmd.Command("list", "List every setting").Default()
	settingsSetCmd   = settingsCmd.Command("set", "Change one setting")
	settingsKey      = settingsSetCmd.Arg("key", "Setting key").Required().String()
	settingsValue    = settingsSetCmd.Arg("value", "Setting value").Required().String()
	settingsResetCmd = settingsCmd.Command("defaults", "Restore every setting to its default")

	simulateCmd      = app.Command("simulate", "Play library tracks on an in-memory player with auto-queue enabled")
	simulateArtists  = simulateCmd.Flag("artist", "Artist to start the queue with (repeatable)").Required().Strings()
	simulateSpeed    = simulateCmd.Flag("speed", "Playback speed factor").Default("60").Float64()
	simulateDuration = simulateCmd.Flag("duration", "How long to simulate").Default("2m").Duration()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stderr", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Debug().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(command, cfg); err != nil {
		zlog.Error().Msgf("%s failed: %v", command, err)
		os.Exit(1)
	}
}

// run dispatches the parsed command. Using a separate function ensures
// deferred cleanups run before the process exits.
func run(command string, cfg *config.Config) error {
	switch command {
	case discoverCmd.FullCommand():
		return runDiscover(cfg)
	case autoCmd.FullCommand():
		return runAuto(cfg)
	case importCmd.FullCommand():
		return runImport(cfg)
	case playlistsCmd.FullCommand():
		return runPlaylists(cfg)
	case resetCmd.FullCommand():
		return runReset(cfg)
	case settingsListCmd.FullCommand():
		return runSettingsList(cfg)
	case settingsSetCmd.FullCommand():
		return runSettingsSet(cfg, *settingsKey, *settingsValue)
	case settingsResetCmd.FullCommand():
		return runSettingsDefaults(cfg)
	case simulateCmd.FullCommand():
		return runSimulate(cfg)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}
