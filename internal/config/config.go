// Package config provides configuration management for playoutd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultFPSNum             = 30
	defaultFPSDen             = 1
	defaultFrameWidth         = 1280
	defaultFrameHeight        = 720
	defaultSampleRate         = 48000
	defaultChannels           = 2
	defaultVideoLookaheadLow  = 4
	defaultVideoLookahead     = 12
	defaultAudioLookaheadMs   = 500
	defaultPrimeMinAudioMs    = 200
	defaultPrimeBudget        = 2 * time.Second
	defaultStatsInterval      = 30 * time.Second
	defaultCatalogDSN         = "playoutd.db"
	defaultShutdownTimeout    = 10 * time.Second
	defaultTransportStreamPID = 256
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Video   VideoConfig   `mapstructure:"video"`
	Audio   AudioConfig   `mapstructure:"audio"`
	Playout PlayoutConfig `mapstructure:"playout"`
	Prepare PrepareConfig `mapstructure:"prepare"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Output  OutputConfig  `mapstructure:"output"`
	FFmpeg  FFmpegConfig  `mapstructure:"ffmpeg"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// VideoConfig describes the output raster and frame rate.
// The frame rate is an exact rational (e.g. 30000/1001 for NTSC 29.97).
type VideoConfig struct {
	FPSNum int `mapstructure:"fps_num"`
	FPSDen int `mapstructure:"fps_den"`
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// AudioConfig describes the output audio format (PCM s16le interleaved).
type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
}

// PlayoutConfig holds tick-loop and lookahead tuning.
type PlayoutConfig struct {
	// VideoLookaheadLow is the low-water mark for the video lookahead buffer.
	VideoLookaheadLow int `mapstructure:"video_lookahead_low"`
	// VideoLookahead is the target depth for the video lookahead buffer.
	VideoLookahead int `mapstructure:"video_lookahead"`
	// AudioLookaheadMs is the target audio depth in milliseconds.
	AudioLookaheadMs int `mapstructure:"audio_lookahead_ms"`
	// StatsInterval is how often the session logs a stats snapshot.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	// ShutdownTimeout bounds the cooperative stop of session goroutines.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PrepareConfig holds seam-preparation tuning.
type PrepareConfig struct {
	// MinAudioMs is the audio depth a source must decode before it counts
	// as primed.
	MinAudioMs int `mapstructure:"min_audio_ms"`
	// PrimeBudget bounds the wall-clock time spent priming first
	// frame/audio. Probe/open/seek are not covered by this budget.
	PrimeBudget time.Duration `mapstructure:"prime_budget"`
	// OpenTimeout optionally bounds decoder open/probe/seek. Zero means
	// unbounded, which is the default: a hung open leaks one goroutine
	// until process exit rather than risking an unsafe abort.
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// CatalogConfig holds the asset duration catalog configuration.
type CatalogConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	LogLevel string `mapstructure:"log_level"` // silent, error, warn, info
}

// OutputConfig holds the downstream sink configuration.
type OutputConfig struct {
	// Format selects the sink: "ts" (MPEG-TS via astits) or "null".
	Format string `mapstructure:"format"`
	// Path is the output file; "-" means stdout.
	Path string `mapstructure:"path"`
	// VideoPID and AudioPID are the TS elementary stream PIDs.
	VideoPID int `mapstructure:"video_pid"`
	AudioPID int `mapstructure:"audio_pid"`
}

// FFmpegConfig holds ffprobe binary configuration for asset probing.
type FFmpegConfig struct {
	ProbePath    string        `mapstructure:"probe_path"` // empty = "ffprobe" from PATH
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with PLAYOUTD_ and use underscores
// for nesting. Example: PLAYOUTD_VIDEO_FPS_NUM=25.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/playoutd")
		v.AddConfigPath("$HOME/.playoutd")
	}

	v.SetEnvPrefix("PLAYOUTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Video defaults
	v.SetDefault("video.fps_num", defaultFPSNum)
	v.SetDefault("video.fps_den", defaultFPSDen)
	v.SetDefault("video.width", defaultFrameWidth)
	v.SetDefault("video.height", defaultFrameHeight)

	// Audio defaults
	v.SetDefault("audio.sample_rate", defaultSampleRate)
	v.SetDefault("audio.channels", defaultChannels)

	// Playout defaults
	v.SetDefault("playout.video_lookahead_low", defaultVideoLookaheadLow)
	v.SetDefault("playout.video_lookahead", defaultVideoLookahead)
	v.SetDefault("playout.audio_lookahead_ms", defaultAudioLookaheadMs)
	v.SetDefault("playout.stats_interval", defaultStatsInterval)
	v.SetDefault("playout.shutdown_timeout", defaultShutdownTimeout)

	// Prepare defaults
	v.SetDefault("prepare.min_audio_ms", defaultPrimeMinAudioMs)
	v.SetDefault("prepare.prime_budget", defaultPrimeBudget)
	v.SetDefault("prepare.open_timeout", time.Duration(0))

	// Catalog defaults
	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.dsn", defaultCatalogDSN)
	v.SetDefault("catalog.log_level", "warn")

	// Output defaults
	v.SetDefault("output.format", "ts")
	v.SetDefault("output.path", "-")
	v.SetDefault("output.video_pid", defaultTransportStreamPID)
	v.SetDefault("output.audio_pid", defaultTransportStreamPID+1)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.probe_timeout", 30*time.Second)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Video.FPSNum <= 0 || c.Video.FPSDen <= 0 {
		return fmt.Errorf("video.fps_num and video.fps_den must be positive, got %d/%d",
			c.Video.FPSNum, c.Video.FPSDen)
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("video.width and video.height must be positive, got %dx%d",
			c.Video.Width, c.Video.Height)
	}
	// Chroma subsampling in the pad frame needs even dimensions.
	if c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		return fmt.Errorf("video dimensions must be even, got %dx%d", c.Video.Width, c.Video.Height)
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 8 {
		return fmt.Errorf("audio.channels must be between 1 and 8, got %d", c.Audio.Channels)
	}

	if c.Playout.VideoLookahead < 1 {
		return errors.New("playout.video_lookahead must be at least 1")
	}
	if c.Playout.VideoLookaheadLow < 0 || c.Playout.VideoLookaheadLow > c.Playout.VideoLookahead {
		return fmt.Errorf("playout.video_lookahead_low must be between 0 and playout.video_lookahead (%d)",
			c.Playout.VideoLookahead)
	}
	if c.Playout.AudioLookaheadMs < 0 {
		return errors.New("playout.audio_lookahead_ms must not be negative")
	}

	if c.Prepare.MinAudioMs < 0 {
		return errors.New("prepare.min_audio_ms must not be negative")
	}
	if c.Prepare.PrimeBudget <= 0 {
		return errors.New("prepare.prime_budget must be positive")
	}
	if c.Prepare.OpenTimeout < 0 {
		return errors.New("prepare.open_timeout must not be negative")
	}

	validLogLevels := map[string]bool{"silent": true, "error": true, "warn": true, "info": true}
	if c.Catalog.Enabled && !validLogLevels[c.Catalog.LogLevel] {
		return errors.New("catalog.log_level must be one of: silent, error, warn, info")
	}
	if c.Catalog.Enabled && c.Catalog.DSN == "" {
		return errors.New("catalog.dsn must be set when catalog is enabled")
	}

	validFormats := map[string]bool{"ts": true, "null": true}
	if !validFormats[c.Output.Format] {
		return fmt.Errorf("output.format must be one of: ts, null (got %q)", c.Output.Format)
	}
	if c.Output.Format == "ts" {
		if c.Output.VideoPID < 32 || c.Output.VideoPID > 8186 {
			return fmt.Errorf("output.video_pid must be between 32 and 8186, got %d", c.Output.VideoPID)
		}
		if c.Output.AudioPID < 32 || c.Output.AudioPID > 8186 {
			return fmt.Errorf("output.audio_pid must be between 32 and 8186, got %d", c.Output.AudioPID)
		}
		if c.Output.VideoPID == c.Output.AudioPID {
			return errors.New("output.video_pid and output.audio_pid must differ")
		}
	}

	return nil
}
