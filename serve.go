package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/zbimage/captiond/internal/audio"
	"github.com/zbimage/captiond/internal/httpapi"
	"github.com/zbimage/captiond/internal/playback"
	"github.com/zbimage/captiond/internal/service"
	"github.com/zbimage/captiond/internal/speech"
	"github.com/zbimage/captiond/internal/store"
	"github.com/zbimage/captiond/internal/sweeper"
	"github.com/zbimage/captiond/internal/translate"
	"github.com/zbimage/captiond/internal/vision"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Default()
	if cfg.UsesDefaultSecret() {
		logger.Warn("Using the built-in shared secret, set CAPTIOND_AUTH_TOKEN to change it")
	}

	st, err := store.Open(cfg.Cache.Dir,
		store.WithCompressionLevel(cfg.Cache.CompressionLevel),
		store.WithLogger(logger.WithPrefix("store")))
	if err != nil {
		return err
	}
	defer st.Close()

	// Startup clear happens before the listener opens
	sw, closeWatcher := newSweeper(st, logger)
	defer closeWatcher()
	startupClear(sw, logger)

	device := openDevice(logger)
	defer device.Close()

	synth := speech.NewGTTS(speech.GTTSConfig{
		GTTSBinary:        cfg.Speech.GTTSBinary,
		FFmpegBinary:      cfg.Speech.FFmpegBinary,
		Slow:              cfg.Speech.Slow,
		SampleRate:        cfg.Audio.SampleRate,
		Channels:          cfg.AudioDevice().Channels,
		RequestsPerMinute: cfg.Speech.RequestsPerMinute,
		SynthesisTimeout:  cfg.Speech.Timeout,
		Logger:            logger.WithPrefix("speech"),
	})
	if err := synth.Validate(); err != nil {
		logger.Warn("Speech synthesis unavailable, playback will fail", "error", err)
	}

	scheduler := playback.New(st, synth, device, playback.Config{
		QueueSize:  cfg.Playback.QueueSize,
		Language:   cfg.Speech.Language,
		JobTimeout: cfg.Playback.JobTimeout,
		Logger:     logger.WithPrefix("playback"),
	})
	defer scheduler.Close()

	captioner, err := vision.New(vision.Config{
		Backend: cfg.Caption.Backend,
		BLIP: vision.BLIPConfig{
			BaseURL: cfg.Caption.BLIP.URL,
			Path:    cfg.Caption.BLIP.Path,
			Timeout: cfg.UpstreamTimeout,
			Logger:  logger.WithPrefix("vision"),
		},
		OpenAI: vision.OpenAIConfig{
			APIKey:  cfg.Caption.OpenAI.APIKey,
			BaseURL: cfg.Caption.OpenAI.BaseURL,
			Model:   cfg.Caption.OpenAI.Model,
			Prompt:  cfg.Caption.OpenAI.Prompt,
			Logger:  logger.WithPrefix("vision"),
		},
	})
	if err != nil {
		return err
	}

	translator := translate.NewGoogle(translate.GoogleConfig{
		BaseURL:           cfg.Translate.BaseURL,
		Timeout:           cfg.UpstreamTimeout,
		RequestsPerMinute: cfg.Translate.RequestsPerMinute,
		Logger:            logger.WithPrefix("translate"),
	})
	defer translator.Close()

	svc := service.New(st, captioner, translator, scheduler, service.Config{
		Source:          cfg.SourceLanguage(),
		Target:          cfg.TargetLanguage(),
		UpstreamTimeout: cfg.UpstreamTimeout,
		Logger:          logger.WithPrefix("service"),
	})

	srv := httpapi.NewServer(svc,
		httpapi.WithSecret(cfg.AuthToken),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithLogger(logger.WithPrefix("http")),
		httpapi.WithStatus(func() map[string]any {
			status := map[string]any{
				"sweeper":  sw.State().String(),
				"playback": scheduler.Stats(),
				"store":    st.Stats(),
			}
			if n, err := st.ListCount(); err == nil {
				status["entries"] = n
			}
			return status
		}),
	)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", cfg.Listen, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sw.Run(ctx); err != nil {
			logger.Error("Cache sweeper terminated, cache is no longer bounded", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logger.Info("Listening", "addr", ln.Addr().String(), "cache", cfg.Cache.Dir,
		"backend", cfg.Caption.Backend, "target", cfg.Translate.Target)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown failed", "error", err)
	}

	stop()
	wg.Wait()
	return serveErr
}

// newSweeper builds the cache sweeper, watching the cache root so the sweep
// loop ends as soon as the directory disappears.
func newSweeper(st *store.FileStore, logger *log.Logger) (*sweeper.Sweeper, func()) {
	// Validated when the config was loaded
	schedule, _ := sweeper.ParseSchedule(cfg.Cache.SweepSchedule)

	swCfg := sweeper.Config{
		Ceiling:  cfg.Cache.Ceiling,
		Schedule: schedule,
		Logger:   logger.WithPrefix("sweeper"),
	}

	closer := func() {}
	watcher, err := store.WatchRoot(st.Root(), logger.WithPrefix("store"))
	if err != nil {
		logger.Warn("Unable to watch cache directory", "error", err)
	} else {
		swCfg.Gone = watcher.Gone()
		closer = func() { _ = watcher.Close() }
	}

	return sweeper.New(st, swCfg), closer
}

// startupClear wipes the cache before the listener opens. A failed clear is
// logged and the service still starts; the sweep loop retries on its next
// tick.
func startupClear(sw *sweeper.Sweeper, logger *log.Logger) bool {
	if err := sw.Startup(); err != nil {
		logger.Error("Startup cache clear failed, serving anyway", "error", err)
		return false
	}
	return true
}

// openDevice opens the speakers, falling back to a device that discards
// audio when output is disabled or unavailable.
func openDevice(logger *log.Logger) audio.Device {
	devCfg := cfg.AudioDevice()
	discard := audio.Discard{Logger: logger.WithPrefix("audio"), Config: devCfg}

	if !cfg.Audio.Enabled {
		logger.Info("Audio output disabled")
		return discard
	}

	d, err := audio.NewOtoDevice(devCfg, logger.WithPrefix("audio"))
	if err != nil {
		logger.Warn("Audio output unavailable, playback disabled", "error", err)
		return discard
	}
	return d
}
