// Package playback speaks cached captions on the shared audio device without
// blocking the request that asked for it.
package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/zbimage/captiond/internal/audio"
	"github.com/zbimage/captiond/internal/contentkey"
	"github.com/zbimage/captiond/internal/speech"
	"github.com/zbimage/captiond/internal/store"
)

// AudioStore is the part of the result store the scheduler needs.
type AudioStore interface {
	HasAudio(key contentkey.Key) (bool, error)
	GetAudio(key contentkey.Key) ([]byte, error)
	PutAudio(key contentkey.Key, pcm []byte) error
}

// Config holds scheduler settings.
type Config struct {
	// QueueSize is how many jobs may wait behind the one playing. Jobs
	// arriving when the queue is full are dropped.
	QueueSize int

	// Language passed to the synthesizer
	Language string

	// JobTimeout bounds synthesis plus playback of one job
	JobTimeout time.Duration

	Logger *log.Logger
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize:  8,
		Language:   "vi",
		JobTimeout: 2 * time.Minute,
	}
}

// Job is one pending playback request.
type Job struct {
	Key      contentkey.Key
	Text     string
	Enqueued time.Time
}

// Stats tracks scheduler activity
type Stats struct {
	Queued      int64 `json:"queued"`
	Played      int64 `json:"played"`
	Synthesized int64 `json:"synthesized"`
	Dropped     int64 `json:"dropped"`
	Failed      int64 `json:"failed"`
	Pending     int   `json:"pending"`
	Playing     bool  `json:"playing"`
}

// Scheduler serializes playback: a single consumer goroutine owns the device
// and handles one job at a time, in arrival order.
type Scheduler struct {
	store  AudioStore
	synth  speech.Synthesizer
	device audio.Device
	config Config
	logger *log.Logger

	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	queued      atomic.Int64
	played      atomic.Int64
	synthesized atomic.Int64
	dropped     atomic.Int64
	failed      atomic.Int64
	playing     atomic.Bool
}

// New starts a scheduler.
func New(st AudioStore, synth speech.Synthesizer, device audio.Device, config Config) *Scheduler {
	defaults := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Language == "" {
		config.Language = defaults.Language
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.Logger == nil {
		config.Logger = log.Default().WithPrefix("playback")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:  st,
		synth:  synth,
		device: device,
		config: config,
		logger: config.Logger,
		jobs:   make(chan Job, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Schedule enqueues playback of text for key and returns immediately. It
// reports false when the job was dropped because the queue is full or the
// scheduler is closed.
func (s *Scheduler) Schedule(key contentkey.Key, text string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.dropped.Add(1)
		return false
	}

	select {
	case s.jobs <- Job{Key: key, Text: text, Enqueued: time.Now()}:
		s.queued.Add(1)
		return true
	default:
		s.dropped.Add(1)
		s.logger.Warn("Playback queue full, skipping", "key", key.Short(), "pending", len(s.jobs))
		return false
	}
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Queued:      s.queued.Load(),
		Played:      s.played.Load(),
		Synthesized: s.synthesized.Load(),
		Dropped:     s.dropped.Load(),
		Failed:      s.failed.Load(),
		Pending:     len(s.jobs),
		Playing:     s.playing.Load(),
	}
}

// Close stops the consumer, interrupting the clip in progress. Pending jobs
// are discarded.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	if n := len(s.jobs); n > 0 {
		s.logger.Debug("Discarding pending playback jobs", "count", n)
	}
	return nil
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case job := <-s.jobs:
			s.handle(job)
		}
	}
}

func (s *Scheduler) handle(job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.JobTimeout)
	defer cancel()

	logger := s.logger.With("key", job.Key.Short())
	logger.Debug("Playback job started", "waited", time.Since(job.Enqueued))

	pcm, err := s.audioFor(ctx, job, logger)
	if err != nil {
		s.failed.Add(1)
		logger.Warn("Audio synthesis failed", "error", err)
		return
	}

	s.playing.Store(true)
	err = s.device.Play(ctx, pcm)
	s.playing.Store(false)

	if err != nil {
		if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
			logger.Debug("Playback interrupted by shutdown")
			return
		}
		s.failed.Add(1)
		logger.Warn("Playback failed", "error", err)
		return
	}

	s.played.Add(1)
	logger.Debug("Playback finished", "audio", humanize.Bytes(uint64(len(pcm))))
}

// audioFor returns the stored artifact for the job's key, synthesizing and
// storing it first if needed. A store failure never blocks playback of
// freshly synthesized audio.
func (s *Scheduler) audioFor(ctx context.Context, job Job, logger *log.Logger) ([]byte, error) {
	has, err := s.store.HasAudio(job.Key)
	if err != nil {
		logger.Debug("Audio lookup failed", "error", err)
	}

	if has {
		pcm, err := s.store.GetAudio(job.Key)
		if err == nil {
			return pcm, nil
		}
		// Swept or corrupted between the check and the read
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrCorrupt) {
			logger.Debug("Audio read failed", "error", err)
		}
	}

	pcm, err := s.synth.Synthesize(ctx, job.Text, s.config.Language)
	if err != nil {
		return nil, err
	}
	s.synthesized.Add(1)

	if err := s.store.PutAudio(job.Key, pcm); err != nil {
		logger.Warn("Failed to cache audio", "error", err)
	}
	return pcm, nil
}
