package settings

import (
	"fmt"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// Setting keys that are written outside of the options snapshot.
const (
	KeyAutoEnabled = "auto_enabled"
	KeyMode        = "mode"
)

// Discovery modes.
const (
	ModeArtist = "artist"
	ModeTrack  = "track"
	ModeGenre  = "genre"
)

// Playlist overwrite modes.
const (
	OverwriteCreate = "create"
	OverwriteReuse  = "overwrite"
	OverwriteNone   = "none"
)

// Navigation targets after a playlist has been populated.
const (
	NavigateNone       = "none"
	NavigatePlaylist   = "playlist"
	NavigateNowPlaying = "nowplaying"
)

// Options is a typed snapshot of every discovery setting.
type Options struct {
	// Seeds and similarity
	SeedLimit         int    `mapstructure:"seed_limit" default:"20" validate:"gte=1"`
	SimilarLimit      int    `mapstructure:"similar_limit" default:"20" validate:"gte=1"`
	TracksPerArtist   int    `mapstructure:"tracks_per_artist" default:"9" validate:"gte=1"`
	TotalLimit        int    `mapstructure:"total_limit" default:"100" validate:"gte=1"`
	IncludeSeedArtist bool   `mapstructure:"include_seed_artist"`
	IncludeSeedTrack  bool   `mapstructure:"include_seed_track"`
	SortSeeds         bool   `mapstructure:"sort_seeds"`
	Blacklist         string `mapstructure:"blacklist"`
	Mode              string `mapstructure:"mode" default:"artist" validate:"oneof=artist track genre"`

	// Library matching
	Shuffle       bool   `mapstructure:"shuffle" default:"true"`
	Best          bool   `mapstructure:"best"`
	Rank          bool   `mapstructure:"rank"`
	RankTopTracks int    `mapstructure:"rank_top_tracks" default:"100" validate:"gte=1,lte=100"`
	RankFanOut    int    `mapstructure:"rank_fan_out" default:"5" validate:"gte=1"`
	MinRating     int    `mapstructure:"min_rating" validate:"gte=0,lte=100"`
	AllowUnknown  bool   `mapstructure:"allow_unknown" default:"true"`
	ExcludeTitles string `mapstructure:"exclude_titles"`
	ExcludeGenres string `mapstructure:"exclude_genres"`

	// Sink
	Enqueue        bool   `mapstructure:"enqueue" default:"true"`
	ClearQueue     bool   `mapstructure:"clear_queue"`
	SkipDuplicates bool   `mapstructure:"skip_duplicates" default:"true"`
	Overwrite      string `mapstructure:"overwrite" default:"create" validate:"oneof=create overwrite none"`
	NameTemplate   string `mapstructure:"name_template" default:"Similar to %"`
	Navigate       string `mapstructure:"navigate" default:"none" validate:"oneof=none playlist nowplaying"`
	Confirm        bool   `mapstructure:"confirm"`

	// Auto mode
	AutoEnabled         bool `mapstructure:"auto_enabled"`
	AutoThreshold       int  `mapstructure:"auto_threshold" default:"2" validate:"gte=1"`
	AutoCooldownMS      int  `mapstructure:"auto_cooldown_ms" default:"5000" validate:"gte=0"`
	AutoSimilarLimit    int  `mapstructure:"auto_similar_limit" default:"5" validate:"gte=1"`
	AutoTracksPerArtist int  `mapstructure:"auto_tracks_per_artist" default:"2" validate:"gte=1"`
	AutoTotalLimit      int  `mapstructure:"auto_total_limit" default:"10" validate:"gte=1"`
}

// ExcludedTitles returns the title substrings excluded from matching.
func (o Options) ExcludedTitles() []string { return SplitList(o.ExcludeTitles) }

// ExcludedGenres returns the genres excluded from matching.
func (o Options) ExcludedGenres() []string { return SplitList(o.ExcludeGenres) }

// BlacklistedArtists returns the artist names never used as seeds or candidates.
func (o Options) BlacklistedArtists() []string { return SplitList(o.Blacklist) }

// AutoCooldown returns the minimum interval between auto triggers.
func (o Options) AutoCooldown() time.Duration {
	return time.Duration(o.AutoCooldownMS) * time.Millisecond
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	var opts Options
	if err := defaults.Set(&opts); err != nil {
		// Only reachable if a default tag is malformed.
		panic(errors.Wrap(err, "invalid settings defaults"))
	}
	return opts
}

// Defaults returns the documented defaults as raw setting values, suitable for EnsureDefaults.
func Defaults() map[string]string {
	var decoded map[string]any
	if err := mapstructure.Decode(DefaultOptions(), &decoded); err != nil {
		panic(errors.Wrap(err, "failed to encode settings defaults"))
	}
	result := make(map[string]string, len(decoded))
	for k, v := range decoded {
		result[k] = fmt.Sprint(v)
	}
	return result
}

// Options decodes every stored setting into a typed snapshot.
// Values that cannot be coerced or fail validation keep their default.
func (s *Store) Options() Options {
	return DecodeOptions(s.All())
}

// DecodeOptions decodes raw setting values over the defaults.
func DecodeOptions(raw map[string]string) Options {
	opts := DefaultOptions()

	for key, value := range raw {
		if err := decodeOne(key, value, &opts); err != nil {
			zlog.Warn().Msgf("invalid setting, using default: key=%s value=%q error=%v", key, value, err)
		}
	}

	err := validator.New().Struct(opts)
	if err == nil {
		return opts
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		zlog.Warn().Msgf("settings validation failed, using defaults: error=%v", err)
		return DefaultOptions()
	}

	// Reset only the failing fields
	def := reflect.ValueOf(DefaultOptions())
	cur := reflect.ValueOf(&opts).Elem()
	for _, fe := range verrs {
		zlog.Warn().Msgf("setting out of range, using default: field=%s value=%v rule=%s", fe.StructField(), fe.Value(), fe.Tag())
		cur.FieldByName(fe.StructField()).Set(def.FieldByName(fe.StructField()))
	}
	return opts
}

func decodeOne(key, value string, opts *Options) error {
	// Decode into a scratch copy so a failed key cannot half-write the snapshot.
	scratch := *opts
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &scratch,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(map[string]string{key: value}); err != nil {
		return errors.Wrap(err, "failed to decode setting")
	}
	*opts = scratch
	return nil
}

// ValidateSetting reports whether value is acceptable for key.
func ValidateSetting(key, value string) error {
	if _, ok := Defaults()[key]; !ok {
		return errors.Newf("unknown setting: %s", key)
	}
	opts := DefaultOptions()
	if err := decodeOne(key, value, &opts); err != nil {
		return err
	}
	if err := validator.New().Struct(opts); err != nil {
		return errors.Wrapf(err, "invalid value for %s", key)
	}
	return nil
}
