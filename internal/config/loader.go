package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Secrets are read from the environment and override file values.
type Secrets struct {
	AuthToken    string `env:"CAPTIOND_AUTH_TOKEN"`
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
}

// Load builds a Config from defaults, then v, then the environment, and
// validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()

	setString(v, "listen", &cfg.Listen)
	setString(v, "auth_token", &cfg.AuthToken)
	setBool(v, "debug", &cfg.Debug)
	setString(v, "log_file", &cfg.LogFile)
	setDuration(v, "upstream_timeout", &cfg.UpstreamTimeout)
	if v.IsSet("max_body_bytes") {
		cfg.MaxBodyBytes = v.GetInt64("max_body_bytes")
	}

	// Cache
	setString(v, "cache.dir", &cfg.Cache.Dir)
	setInt(v, "cache.ceiling", &cfg.Cache.Ceiling)
	setString(v, "cache.sweep_schedule", &cfg.Cache.SweepSchedule)
	setInt(v, "cache.compression_level", &cfg.Cache.CompressionLevel)

	// Captioning
	setString(v, "caption.backend", &cfg.Caption.Backend)
	setString(v, "caption.blip.url", &cfg.Caption.BLIP.URL)
	setString(v, "caption.blip.path", &cfg.Caption.BLIP.Path)
	setString(v, "caption.openai.api_key", &cfg.Caption.OpenAI.APIKey)
	setString(v, "caption.openai.base_url", &cfg.Caption.OpenAI.BaseURL)
	setString(v, "caption.openai.model", &cfg.Caption.OpenAI.Model)
	setString(v, "caption.openai.prompt", &cfg.Caption.OpenAI.Prompt)

	// Translation
	setString(v, "translate.source", &cfg.Translate.Source)
	setString(v, "translate.target", &cfg.Translate.Target)
	setString(v, "translate.base_url", &cfg.Translate.BaseURL)
	setInt(v, "translate.requests_per_minute", &cfg.Translate.RequestsPerMinute)

	// Speech
	setString(v, "speech.language", &cfg.Speech.Language)
	setString(v, "speech.gtts_binary", &cfg.Speech.GTTSBinary)
	setString(v, "speech.ffmpeg_binary", &cfg.Speech.FFmpegBinary)
	setBool(v, "speech.slow", &cfg.Speech.Slow)
	setInt(v, "speech.requests_per_minute", &cfg.Speech.RequestsPerMinute)
	setDuration(v, "speech.timeout", &cfg.Speech.Timeout)

	// Audio and playback
	setBool(v, "audio.enabled", &cfg.Audio.Enabled)
	setInt(v, "audio.sample_rate", &cfg.Audio.SampleRate)
	if v.IsSet("audio.volume") {
		cfg.Audio.Volume = v.GetFloat64("audio.volume")
	}
	setInt(v, "playback.queue_size", &cfg.Playback.QueueSize)
	setDuration(v, "playback.job_timeout", &cfg.Playback.JobTimeout)

	if err := cfg.applySecrets(); err != nil {
		return cfg, err
	}
	if err := cfg.expandPaths(); err != nil {
		return cfg, err
	}

	// Validate the loaded configuration
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applySecrets() error {
	secrets, err := env.ParseAs[Secrets]()
	if err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	if secrets.AuthToken != "" {
		c.AuthToken = secrets.AuthToken
	}
	if secrets.OpenAIAPIKey != "" && c.Caption.OpenAI.APIKey == "" {
		c.Caption.OpenAI.APIKey = secrets.OpenAIAPIKey
	}
	return nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Cache.Dir, &c.LogFile, &c.Speech.GTTSBinary, &c.Speech.FFmpegBinary} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("unable to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

// setDuration accepts "30s" style strings and plain numbers of seconds.
func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if !v.IsSet(key) {
		return
	}
	if d, err := time.ParseDuration(v.GetString(key)); err == nil {
		*dst = d
		return
	}
	if secs := v.GetFloat64(key); secs > 0 {
		*dst = time.Duration(secs * float64(time.Second))
	}
}
