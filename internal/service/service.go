// Package service handles caption requests: it identifies the image, serves
// cached results, calls the captioning and translation collaborators on a
// miss, stores the result and schedules playback of the translation.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/zbimage/captiond/internal/contentkey"
	"github.com/zbimage/captiond/internal/store"
	"github.com/zbimage/captiond/internal/translate"
	"github.com/zbimage/captiond/internal/vision"
)

// Store is the part of the result store the service needs.
type Store interface {
	Exists(key contentkey.Key) (bool, error)
	Get(key contentkey.Key) (store.Record, error)
	Put(key contentkey.Key, rec store.Record) error
}

// Scheduler queues playback of a translated caption.
type Scheduler interface {
	Schedule(key contentkey.Key, text string) bool
}

// Config holds service settings.
type Config struct {
	Source language.Tag
	Target language.Tag

	// UpstreamTimeout bounds captioning plus translation of one image
	UpstreamTimeout time.Duration

	Logger *log.Logger
}

// DefaultConfig returns English to Vietnamese with a one minute upstream
// budget.
func DefaultConfig() Config {
	return Config{
		Source:          language.English,
		Target:          language.Vietnamese,
		UpstreamTimeout: 60 * time.Second,
	}
}

// Result is the outcome of a caption request.
type Result struct {
	SourceText     string
	TranslatedText string
	Cached         bool
}

// Service is the caption request handler.
type Service struct {
	store      Store
	captioner  vision.Captioner
	translator translate.Translator
	scheduler  Scheduler
	config     Config
	logger     *log.Logger

	inflight singleflight.Group
}

// New creates a service.
func New(st Store, captioner vision.Captioner, translator translate.Translator, scheduler Scheduler, config Config) *Service {
	defaults := DefaultConfig()
	if config.Source == language.Und {
		config.Source = defaults.Source
	}
	if config.Target == language.Und {
		config.Target = defaults.Target
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = defaults.UpstreamTimeout
	}
	if config.Logger == nil {
		config.Logger = log.Default().WithPrefix("service")
	}

	return &Service{
		store:      st,
		captioner:  captioner,
		translator: translator,
		scheduler:  scheduler,
		config:     config,
		logger:     config.Logger,
	}
}

// Handle captions image. A result already in the store is returned with
// Cached set and no collaborator is called. Playback of the translation is
// scheduled in both cases and never delays the response.
func (s *Service) Handle(ctx context.Context, img []byte) (Result, error) {
	if err := validateImage(img); err != nil {
		return Result{}, err
	}

	key := contentkey.Identify(img)
	logger := s.logger.With("key", key.Short())

	// Check cache first
	rec, persist, hit := s.lookup(key, logger)
	if hit {
		logger.Debug("Cache hit")
		s.scheduler.Schedule(key, rec.TranslatedText)
		return Result{SourceText: rec.SourceText, TranslatedText: rec.TranslatedText, Cached: true}, nil
	}

	v, err, shared := s.inflight.Do(string(key), func() (any, error) {
		return s.compute(ctx, key, img, persist, logger)
	})
	if err != nil {
		return Result{}, err
	}
	if shared {
		logger.Debug("Joined in-flight request")
	}

	rec = v.(store.Record)
	s.scheduler.Schedule(key, rec.TranslatedText)
	return Result{SourceText: rec.SourceText, TranslatedText: rec.TranslatedText}, nil
}

// lookup reports whether key is cached. persist is false when the store
// failed, so a miss computed afterwards is not written back.
func (s *Service) lookup(key contentkey.Key, logger *log.Logger) (rec store.Record, persist, hit bool) {
	exists, err := s.store.Exists(key)
	if err != nil {
		se := storeError(err)
		logger.Warn("Cache lookup failed, continuing uncached", "code", se.Code, "error", se)
		return store.Record{}, false, false
	}
	if !exists {
		return store.Record{}, true, false
	}

	rec, err = s.store.Get(key)
	switch {
	case err == nil:
		return rec, true, true
	case errors.Is(err, store.ErrNotFound):
		// Swept between Exists and Get
		logger.Debug("Cache entry vanished, recomputing")
		return store.Record{}, true, false
	case errors.Is(err, store.ErrCorrupt):
		se := storeError(err)
		logger.Warn("Corrupt cache entry, recomputing", "code", se.Code, "error", se)
		return store.Record{}, true, false
	default:
		se := storeError(err)
		logger.Warn("Cache read failed, continuing uncached", "code", se.Code, "error", se)
		return store.Record{}, false, false
	}
}

// compute runs the collaborators. It is detached from the caller's
// cancellation since other requests may be waiting on the same key.
func (s *Service) compute(ctx context.Context, key contentkey.Key, img []byte, persist bool, logger *log.Logger) (store.Record, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.UpstreamTimeout)
	defer cancel()

	start := time.Now()
	caption, err := s.captioner.Caption(ctx, img)
	if err != nil {
		return store.Record{}, NewError(CodeUpstreamFailure, "caption failed", err)
	}

	translated, err := s.translator.Translate(ctx, caption, s.config.Source, s.config.Target)
	if err != nil {
		return store.Record{}, NewError(CodeUpstreamFailure, "translation failed", err)
	}

	rec := store.Record{SourceText: caption, TranslatedText: translated}
	logger.Info("Caption generated", "caption", caption, "translation", translated, "duration", time.Since(start))

	if !persist {
		return rec, nil
	}
	if err := s.store.Put(key, rec); err != nil {
		se := storeError(err)
		logger.Warn("Failed to cache result", "code", se.Code, "error", se)
	}
	return rec, nil
}

// decodable lists the image types with a registered decoder.
var decodable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// validateImage rejects empty input, content that is not an image, image
// types nothing can decode, and images whose data does not fully decode.
func validateImage(img []byte) error {
	if len(img) == 0 {
		return NewError(CodeInvalidInput, "No image provided", nil)
	}

	mime := mimetype.Detect(img).String()
	if !decodable[mime] {
		return NewError(CodeInvalidInput, fmt.Sprintf("Invalid image: unsupported content type %s", mime), nil)
	}

	if _, _, err := image.Decode(bytes.NewReader(img)); err != nil {
		return NewError(CodeInvalidInput, "Invalid image", err)
	}
	return nil
}
