// Package sweeper bounds the size of the result cache by wiping it whenever
// the entry count exceeds a ceiling.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/zbimage/captiond/internal/store"
)

// DefaultSchedule checks the cache once a minute.
const DefaultSchedule = "@every 60s"

// DefaultCeiling is the largest entry count left alone.
const DefaultCeiling = 10

// ErrStopped is returned by Run when the sweeper already terminated.
var ErrStopped = errors.New("sweeper stopped")

// Store is the part of the result store the sweeper needs.
type Store interface {
	ListCount() (int, error)
	ClearAll() (int, error)
}

// State of the sweeper
type State int32

const (
	StateIdle State = iota
	StateSweeping
	StateStopped
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSweeping:
		return "sweeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds sweeper settings.
type Config struct {
	// Ceiling is the largest entry count that does not trigger a wipe
	Ceiling int

	// Schedule decides when the next check runs. Defaults to DefaultSchedule.
	Schedule cron.Schedule

	// Gone, when set, stops the loop as soon as it is closed. Wire it to a
	// watcher on the cache root.
	Gone <-chan struct{}

	Logger *log.Logger
}

// ParseSchedule parses a standard cron expression or descriptor such as
// "@every 60s".
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// Sweeper enforces the cache ceiling. It wipes the whole store rather than
// evicting individual entries.
type Sweeper struct {
	store    Store
	ceiling  int
	schedule cron.Schedule
	gone     <-chan struct{}
	logger   *log.Logger

	state   atomic.Int32
	sweeps  atomic.Int64
	removed atomic.Int64
}

// New creates a sweeper in the idle state.
func New(st Store, config Config) *Sweeper {
	if config.Ceiling <= 0 {
		config.Ceiling = DefaultCeiling
	}
	if config.Schedule == nil {
		config.Schedule, _ = ParseSchedule(DefaultSchedule)
	}
	if config.Logger == nil {
		config.Logger = log.Default().WithPrefix("sweeper")
	}

	return &Sweeper{
		store:    st,
		ceiling:  config.Ceiling,
		schedule: config.Schedule,
		gone:     config.Gone,
		logger:   config.Logger,
	}
}

// State returns the current state.
func (s *Sweeper) State() State {
	return State(s.state.Load())
}

// Sweeps returns how many wipes have run, including the startup clear.
func (s *Sweeper) Sweeps() int64 {
	return s.sweeps.Load()
}

// Startup clears the store unconditionally. Call it before serving requests.
func (s *Sweeper) Startup() error {
	if s.State() == StateStopped {
		return ErrStopped
	}

	n, err := s.clear()
	if err != nil {
		return fmt.Errorf("startup clear: %w", err)
	}
	s.logger.Info("Cache cleared at startup", "removed", n)
	return nil
}

// Sweep runs a single check, wiping the store if the entry count exceeds the
// ceiling. It reports whether a wipe happened.
func (s *Sweeper) Sweep() (bool, error) {
	count, err := s.store.ListCount()
	if err != nil {
		return false, fmt.Errorf("count entries: %w", err)
	}
	if count <= s.ceiling {
		s.logger.Debug("Cache within ceiling", "entries", count, "ceiling", s.ceiling)
		return false, nil
	}

	n, err := s.clear()
	if err != nil {
		return false, fmt.Errorf("clear entries: %w", err)
	}
	s.logger.Info("Cache ceiling exceeded, wiped", "entries", count, "ceiling", s.ceiling, "removed", n)
	return true, nil
}

// Run checks the store on every tick of the schedule until ctx is done. A
// missing cache root is fatal to the loop only: Run moves to the stopped
// state and returns the error. Other failures are logged and retried on the
// next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.State() == StateStopped {
		return ErrStopped
	}

	for {
		now := time.Now()
		timer := time.NewTimer(s.schedule.Next(now).Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case <-s.gone:
			timer.Stop()
			s.stop()
			s.logger.Warn("Cache root removed, sweeper stopped")
			return fmt.Errorf("cache root removed: %w", ErrStopped)

		case <-timer.C:
			_, err := s.Sweep()
			switch {
			case err == nil:
			case errors.Is(err, store.ErrRootMissing):
				s.stop()
				s.logger.Error("Sweeper stopped", "error", err)
				return err
			default:
				s.logger.Warn("Sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) clear() (int, error) {
	s.state.Store(int32(StateSweeping))
	defer s.state.CompareAndSwap(int32(StateSweeping), int32(StateIdle))

	n, err := s.store.ClearAll()
	if err != nil {
		return n, err
	}
	s.sweeps.Add(1)
	s.removed.Add(int64(n))
	return n, nil
}

func (s *Sweeper) stop() {
	s.state.Store(int32(StateStopped))
}
