package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

const (
	maxTextSize = 5000
	maxMP3Size  = 50 * 1024 * 1024
	maxPCMSize  = 20 * 1024 * 1024
)

// GTTSConfig holds configuration for the gTTS engine.
type GTTSConfig struct {
	// Binaries; default to looking up gtts-cli and ffmpeg in PATH
	GTTSBinary   string
	FFmpegBinary string

	// Slow speech (--slow flag)
	Slow bool

	// Output format; must match the audio device
	SampleRate int
	Channels   int

	// Rate limit requests per minute to avoid being blocked (defaults to 50)
	RequestsPerMinute int

	// Per-step subprocess timeouts
	SynthesisTimeout  time.Duration
	ConversionTimeout time.Duration

	Logger *log.Logger
}

// GTTS synthesizes speech with gtts-cli (Google Translate TTS) and converts
// the MP3 to PCM with ffmpeg.
type GTTS struct {
	config      GTTSConfig
	rateLimiter *rate.Limiter
	logger      *log.Logger
}

// NewGTTS creates a gTTS engine, filling in defaults.
func NewGTTS(config GTTSConfig) *GTTS {
	if config.GTTSBinary == "" {
		config.GTTSBinary = "gtts-cli"
	}
	if config.FFmpegBinary == "" {
		config.FFmpegBinary = "ffmpeg"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 44100
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	if config.RequestsPerMinute == 0 {
		config.RequestsPerMinute = 50
	}
	if config.SynthesisTimeout == 0 {
		config.SynthesisTimeout = 30 * time.Second
	}
	if config.ConversionTimeout == 0 {
		config.ConversionTimeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.Default().WithPrefix("speech")
	}

	return &GTTS{
		config:      config,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
		logger:      config.Logger,
	}
}

// Synthesize implements Synthesizer.
// Process: text → gtts-cli → MP3 → ffmpeg → PCM
func (e *GTTS) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if len(text) > maxTextSize {
		return nil, fmt.Errorf("%w: %d characters (max %d)", ErrTextTooLong, len(text), maxTextSize)
	}
	if lang == "" {
		lang = "en"
	}

	if err := e.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	start := time.Now()

	mp3Data, err := e.synthesizeToMP3(ctx, text, lang)
	if err != nil {
		return nil, fmt.Errorf("MP3 generation failed: %w", err)
	}

	pcmData, err := e.convertMP3ToPCM(ctx, mp3Data)
	if err != nil {
		return nil, fmt.Errorf("MP3 to PCM conversion failed: %w", err)
	}

	e.logger.Debug("Synthesis completed",
		"lang", lang,
		"textLength", len(text),
		"mp3", humanize.Bytes(uint64(len(mp3Data))),
		"pcm", humanize.Bytes(uint64(len(pcmData))),
		"duration", time.Since(start))

	return pcmData, nil
}

// synthesizeToMP3 generates MP3 audio using gtts-cli
func (e *GTTS) synthesizeToMP3(ctx context.Context, text, lang string) ([]byte, error) {
	args := []string{text, "-l", lang}
	if e.config.Slow {
		args = append(args, "--slow")
	}
	args = append(args, "-o", "-")

	mp3Data, err := runCommand(ctx, e.config.SynthesisTimeout, e.config.GTTSBinary, args, nil)
	if err != nil {
		return nil, err
	}
	if len(mp3Data) == 0 {
		return nil, fmt.Errorf("%s produced no MP3 output", e.config.GTTSBinary)
	}
	if len(mp3Data) > maxMP3Size {
		return nil, fmt.Errorf("MP3 output too large: %d bytes (max %d)", len(mp3Data), maxMP3Size)
	}
	return mp3Data, nil
}

// convertMP3ToPCM pipes MP3 through ffmpeg and reads raw PCM back
func (e *GTTS) convertMP3ToPCM(ctx context.Context, mp3Data []byte) ([]byte, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", // signed 16-bit little-endian
		"-ar", strconv.Itoa(e.config.SampleRate),
		"-ac", strconv.Itoa(e.config.Channels),
		"pipe:1",
	}

	pcmData, err := runCommand(ctx, e.config.ConversionTimeout, e.config.FFmpegBinary, args, mp3Data)
	if err != nil {
		return nil, err
	}
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("%s produced no PCM output", e.config.FFmpegBinary)
	}
	if len(pcmData) > maxPCMSize {
		return nil, fmt.Errorf("PCM output too large: %d bytes (max %d)", len(pcmData), maxPCMSize)
	}
	return pcmData, nil
}

// Validate checks that both binaries can be found.
func (e *GTTS) Validate() error {
	if _, err := exec.LookPath(e.config.GTTSBinary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w\n\nInstall with: pip install gtts", e.config.GTTSBinary, err)
	}
	if _, err := exec.LookPath(e.config.FFmpegBinary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w\n\nInstall ffmpeg for audio conversion", e.config.FFmpegBinary, err)
	}
	return nil
}

// runCommand runs name with a timeout. On expiry the process gets an
// interrupt first and is killed if it has not exited shortly after.
func runCommand(ctx context.Context, timeout time.Duration, name string, args []string, stdin []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 100 * time.Millisecond

	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	} else {
		cmd.Stdin = strings.NewReader("")
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timeout after %s: %w", name, timeout, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

var _ Synthesizer = (*GTTS)(nil)
