// Package config loads and validates captiond settings from the config file,
// the environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gap "github.com/muesli/go-app-paths"
	"golang.org/x/text/language"

	"github.com/zbimage/captiond/internal/audio"
	"github.com/zbimage/captiond/internal/sweeper"
	"github.com/zbimage/captiond/internal/vision"
)

// DefaultAuthToken is the shared secret used when none is configured.
const DefaultAuthToken = "zbimage"

// Config contains all captiond settings.
type Config struct {
	Listen          string        `yaml:"listen"`
	AuthToken       string        `yaml:"auth_token"`
	Debug           bool          `yaml:"debug"`
	LogFile         string        `yaml:"log_file"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	Cache     CacheConfig     `yaml:"cache"`
	Caption   CaptionConfig   `yaml:"caption"`
	Translate TranslateConfig `yaml:"translate"`
	Speech    SpeechConfig    `yaml:"speech"`
	Audio     AudioConfig     `yaml:"audio"`
	Playback  PlaybackConfig  `yaml:"playback"`
}

// CacheConfig configures the result store and its sweeper.
type CacheConfig struct {
	Dir              string `yaml:"dir"`
	Ceiling          int    `yaml:"ceiling"`
	SweepSchedule    string `yaml:"sweep_schedule"`
	CompressionLevel int    `yaml:"compression_level"`
}

// CaptionConfig selects the captioning backend.
type CaptionConfig struct {
	Backend string       `yaml:"backend"`
	BLIP    BLIPConfig   `yaml:"blip"`
	OpenAI  OpenAIConfig `yaml:"openai"`
}

type BLIPConfig struct {
	URL  string `yaml:"url"`
	Path string `yaml:"path"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Prompt  string `yaml:"prompt"`
}

// TranslateConfig configures the translation direction and service.
type TranslateConfig struct {
	Source            string `yaml:"source"`
	Target            string `yaml:"target"`
	BaseURL           string `yaml:"base_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// SpeechConfig configures gTTS synthesis.
type SpeechConfig struct {
	Language          string        `yaml:"language"`
	GTTSBinary        string        `yaml:"gtts_binary"`
	FFmpegBinary      string        `yaml:"ffmpeg_binary"`
	Slow              bool          `yaml:"slow"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

// AudioConfig configures the output device.
type AudioConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate int     `yaml:"sample_rate"`
	Volume     float64 `yaml:"volume"`
}

// PlaybackConfig configures the playback queue.
type PlaybackConfig struct {
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// DefaultConfig returns a Config with the built-in defaults: port 47860 on
// loopback, English to Vietnamese, a ten entry cache checked every minute.
func DefaultConfig() Config {
	return Config{
		Listen:          "127.0.0.1:47860",
		AuthToken:       DefaultAuthToken,
		UpstreamTimeout: 60 * time.Second,
		MaxBodyBytes:    20 << 20,
		Cache: CacheConfig{
			Dir:              DefaultCacheDir(),
			Ceiling:          sweeper.DefaultCeiling,
			SweepSchedule:    sweeper.DefaultSchedule,
			CompressionLevel: 3,
		},
		Caption: CaptionConfig{
			Backend: vision.BackendBLIP,
			BLIP: BLIPConfig{
				URL:  "http://127.0.0.1:5000",
				Path: "/caption",
			},
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
		},
		Translate: TranslateConfig{
			Source:            "en",
			Target:            "vi",
			RequestsPerMinute: 60,
		},
		Speech: SpeechConfig{
			Language:          "vi",
			GTTSBinary:        "gtts-cli",
			FFmpegBinary:      "ffmpeg",
			RequestsPerMinute: 50,
			Timeout:           30 * time.Second,
		},
		Audio: AudioConfig{
			Enabled:    true,
			SampleRate: 44100,
			Volume:     1.0,
		},
		Playback: PlaybackConfig{
			QueueSize:  8,
			JobTimeout: 2 * time.Minute,
		},
	}
}

// DefaultCacheDir returns the per-user cache directory for captiond.
func DefaultCacheDir() string {
	dir, err := gap.NewScope(gap.User, "captiond").CacheDir()
	if err != nil || dir == "" {
		return "captiond-cache"
	}
	return dir
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address cannot be empty"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream_timeout must be positive, got %v", c.UpstreamTimeout))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes))
	}

	if err := c.Cache.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	if err := c.Caption.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("caption: %w", err))
	}
	if err := c.Translate.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("translate: %w", err))
	}
	if err := c.Speech.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("speech: %w", err))
	}
	if err := c.AudioDevice().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}

	if c.Playback.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("playback: queue_size must be at least 1, got %d", c.Playback.QueueSize))
	}
	if c.Playback.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("playback: job_timeout must be positive, got %v", c.Playback.JobTimeout))
	}

	return errors.Join(errs...)
}

// Validate checks the cache settings.
func (c *CacheConfig) Validate() error {
	if strings.TrimSpace(c.Dir) == "" {
		return errors.New("dir cannot be empty")
	}
	if c.Ceiling < 1 {
		return fmt.Errorf("ceiling must be at least 1, got %d", c.Ceiling)
	}
	if _, err := sweeper.ParseSchedule(c.SweepSchedule); err != nil {
		return err
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 22 {
		return fmt.Errorf("compression_level must be between 1 and 22, got %d", c.CompressionLevel)
	}
	return nil
}

// Validate checks the captioning backend settings.
func (c *CaptionConfig) Validate() error {
	c.Backend = strings.ToLower(c.Backend)
	switch c.Backend {
	case vision.BackendBLIP:
		if c.BLIP.URL == "" {
			return errors.New("blip.url is required for the blip backend")
		}
	case vision.BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return errors.New("openai.api_key (or OPENAI_API_KEY) is required for the openai backend")
		}
	default:
		return fmt.Errorf("invalid backend %q: must be one of %v", c.Backend, []string{vision.BackendBLIP, vision.BackendOpenAI})
	}
	return nil
}

// Validate checks the translation settings.
func (c *TranslateConfig) Validate() error {
	if _, err := language.Parse(c.Source); err != nil {
		return fmt.Errorf("invalid source language %q: %w", c.Source, err)
	}
	if _, err := language.Parse(c.Target); err != nil {
		return fmt.Errorf("invalid target language %q: %w", c.Target, err)
	}
	if c.RequestsPerMinute < 1 {
		return fmt.Errorf("requests_per_minute must be at least 1, got %d", c.RequestsPerMinute)
	}
	return nil
}

// Validate checks the speech settings.
func (c *SpeechConfig) Validate() error {
	// gTTS language codes are plain BCP 47 tags like "vi" or "zh-CN"
	if _, err := language.Parse(c.Language); err != nil {
		return fmt.Errorf("invalid language %q: %w", c.Language, err)
	}
	if c.GTTSBinary == "" || c.FFmpegBinary == "" {
		return errors.New("gtts_binary and ffmpeg_binary cannot be empty")
	}
	if c.RequestsPerMinute < 1 {
		return fmt.Errorf("requests_per_minute must be at least 1, got %d", c.RequestsPerMinute)
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1 second, got %v", c.Timeout)
	}
	return nil
}

// SourceLanguage returns the parsed caption language.
func (c *Config) SourceLanguage() language.Tag {
	return language.Make(c.Translate.Source)
}

// TargetLanguage returns the parsed translation language.
func (c *Config) TargetLanguage() language.Tag {
	return language.Make(c.Translate.Target)
}

// AudioDevice converts the audio settings to a device configuration.
func (c *Config) AudioDevice() audio.Config {
	ac := audio.DefaultConfig()
	ac.SampleRate = c.Audio.SampleRate
	ac.Volume = c.Audio.Volume
	return ac
}

// UsesDefaultSecret reports whether the built-in shared secret is in use.
func (c *Config) UsesDefaultSecret() bool {
	return c.AuthToken == DefaultAuthToken
}
