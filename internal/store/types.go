package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zbimage/captiond/internal/contentkey"
)

// Common errors for store operations
var (
	// ErrNotFound is returned when a key has no entry, including entries that
	// vanished mid-read because a sweep removed them.
	ErrNotFound = errors.New("cache entry not found")

	// ErrCorrupt is returned when a persisted entry cannot be parsed
	ErrCorrupt = errors.New("cache entry corrupted")

	// ErrUnavailable wraps every underlying storage failure (I/O, permissions)
	ErrUnavailable = errors.New("cache storage unavailable")

	// ErrRootMissing is returned when the cache root directory no longer
	// exists. It also matches ErrUnavailable.
	ErrRootMissing = fmt.Errorf("%w: cache root directory missing", ErrUnavailable)
)

// Record is a caption pair stored under a content key. Records are written
// once and never updated.
type Record struct {
	SourceText     string
	TranslatedText string
}

// Kind identifies which namespace a file on disk belongs to.
type Kind int

const (
	// KindText is a caption record
	KindText Kind = iota

	// KindAudio is a synthesized audio artifact
	KindAudio

	// KindOther is anything else found in the cache root
	KindOther
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAudio:
		return "audio"
	default:
		return "other"
	}
}

const (
	textSuffix  = ".txt"
	audioSuffix = ".pcm.zst"
	tempPrefix  = ".tmp-"
)

// Entry describes one file in the cache root.
type Entry struct {
	Name    string
	Key     contentkey.Key
	Kind    Kind
	Size    int64
	ModTime time.Time
}

func parseEntryName(name string) (contentkey.Key, Kind) {
	switch {
	case strings.HasSuffix(name, textSuffix):
		k := contentkey.Key(strings.TrimSuffix(name, textSuffix))
		if k.Valid() {
			return k, KindText
		}
	case strings.HasSuffix(name, audioSuffix):
		k := contentkey.Key(strings.TrimSuffix(name, audioSuffix))
		if k.Valid() {
			return k, KindAudio
		}
	}
	return "", KindOther
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

// Stats holds store counters
type Stats struct {
	Hits        int64 // Get calls that returned a record
	Misses      int64 // Get calls that returned ErrNotFound
	Writes      int64 // Successful Put and PutAudio calls
	WriteErrors int64 // Failed Put and PutAudio calls
	Clears      int64 // ClearAll calls
	Removed     int64 // Files removed by ClearAll
	LastClear   time.Time
}
