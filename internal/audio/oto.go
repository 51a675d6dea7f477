//go:build !nocgo
// +build !nocgo

package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

// pollInterval is how often Play checks whether the clip has finished.
const pollInterval = 20 * time.Millisecond

// OtoDevice plays clips through oto. The oto context is created once and
// lives as long as the device; oto allows only one per process.
type OtoDevice struct {
	context *oto.Context
	config  Config
	logger  *log.Logger

	// mu is held for the whole duration of a clip
	mu     sync.Mutex
	closed bool
}

// NewOtoDevice opens the system audio output.
func NewOtoDevice(config Config, logger *log.Logger) (*OtoDevice, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.Default().WithPrefix("audio")
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(config.BufferSize) * time.Second / time.Duration(config.SampleRate*config.Channels*2),
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for context to be ready
	<-readyChan

	logger.Debug("Audio device ready", "sampleRate", config.SampleRate, "channels", config.Channels)

	return &OtoDevice{
		context: ctx,
		config:  config,
		logger:  logger,
	}, nil
}

// Play implements Device.
func (d *OtoDevice) Play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return ErrEmptyClip
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}

	// Own a copy so the reader's backing array stays alive during playback
	data := make([]byte, len(pcm))
	copy(data, pcm)

	player := d.context.NewPlayer(bytes.NewReader(data))
	defer func() {
		if err := player.Close(); err != nil {
			d.logger.Debug("Failed to close oto player", "error", err)
		}
	}()

	player.SetVolume(d.config.Volume)
	player.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// Close marks the device closed. The oto context itself cannot be released
// in v3 and is reclaimed at process exit.
func (d *OtoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if err := d.context.Err(); err != nil {
		return fmt.Errorf("oto context: %w", err)
	}
	return nil
}

var _ Device = (*OtoDevice)(nil)
