// Package audio plays PCM clips on the local output device.
package audio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrDeviceClosed is returned by Play after Close
	ErrDeviceClosed = errors.New("audio device is closed")

	// ErrEmptyClip is returned when Play is given no samples
	ErrEmptyClip = errors.New("audio data is empty")
)

// Device is a single audio output. Play blocks until the clip has finished
// or ctx is done. Implementations allow only one clip at a time.
type Device interface {
	Play(ctx context.Context, pcm []byte) error
	Close() error
}

// Config contains configuration for the audio device.
type Config struct {
	SampleRate int     // 44100 or 48000 Hz only
	Channels   int     // 1 = mono, 2 = stereo
	BufferSize int     // Device buffer in bytes
	Volume     float64 // 0.0 to 1.0
}

// DefaultConfig returns the default device configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate: 44100, // CD quality
		Channels:   1,     // Mono for TTS
		BufferSize: 4096,
		Volume:     1.0,
	}
}

// Validate checks the device configuration.
func (config Config) Validate() error {
	// OTO only supports specific sample rates reliably
	if config.SampleRate != 44100 && config.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", config.SampleRate)
	}

	if config.Channels != 1 && config.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", config.Channels)
	}

	if config.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}

	if config.Volume < 0.0 || config.Volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", config.Volume)
	}

	return nil
}

// Duration returns the play time of n bytes of 16-bit PCM in this format.
func (c Config) Duration(n int) time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := n / (c.Channels * 2)
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Discard is a Device for hosts without audio output. It logs each clip and
// returns immediately.
type Discard struct {
	Logger *log.Logger
	Config Config
}

// Play implements Device.
func (d Discard) Play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return ErrEmptyClip
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Logger != nil {
		d.Logger.Debug("Discarding audio clip", "bytes", len(pcm), "duration", d.Config.Duration(len(pcm)))
	}
	return nil
}

// Close implements Device.
func (Discard) Close() error { return nil }
