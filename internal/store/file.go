// Package store persists caption records and audio artifacts under a single
// cache root directory, one file per entry.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"

	"github.com/zbimage/captiond/internal/contentkey"
)

// FileStore is the on-disk result cache. Text records are two-line UTF-8
// files, audio artifacts are zstd-compressed PCM. Every write goes through a
// temp file in the same directory followed by a rename, so readers never see
// a partially written entry.
type FileStore struct {
	fs   afero.Fs
	root string

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	logger *log.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	writes      atomic.Int64
	writeErrors atomic.Int64
	clears      atomic.Int64
	removed     atomic.Int64

	mu        sync.Mutex
	lastClear time.Time
}

// Option configures a FileStore.
type Option func(*options)

type options struct {
	compressionLevel int
	logger           *log.Logger
}

// WithCompressionLevel sets the zstd level used for audio artifacts.
func WithCompressionLevel(level int) Option {
	return func(o *options) {
		o.compressionLevel = level
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Open creates a FileStore on the operating system filesystem.
func Open(root string, opts ...Option) (*FileStore, error) {
	return New(afero.NewOsFs(), root, opts...)
}

// New creates a FileStore rooted at root on fsys, creating the directory if
// needed.
func New(fsys afero.Fs, root string, opts ...Option) (*FileStore, error) {
	o := options{
		compressionLevel: 3,
		logger:           log.Default().WithPrefix("store"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(o.compressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &FileStore{
		fs:      fsys,
		root:    root,
		encoder: encoder,
		decoder: decoder,
		logger:  o.logger,
	}, nil
}

// Root returns the cache root directory.
func (s *FileStore) Root() string {
	return s.root
}

// Exists reports whether a caption record is stored for key.
func (s *FileStore) Exists(key contentkey.Key) (bool, error) {
	return s.exists(s.textPath(key))
}

// Get returns the caption record for key.
func (s *FileStore) Get(key contentkey.Key) (Record, error) {
	data, err := s.read(s.textPath(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.misses.Add(1)
		}
		return Record{}, err
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, fmt.Errorf("record %s: %w", key, err)
	}

	s.hits.Add(1)
	return rec, nil
}

// Put stores rec under key. Overwriting is allowed but unexpected.
func (s *FileStore) Put(key contentkey.Key, rec Record) error {
	return s.write(s.textPath(key), encodeRecord(rec))
}

// HasAudio reports whether an audio artifact is stored for key.
func (s *FileStore) HasAudio(key contentkey.Key) (bool, error) {
	return s.exists(s.audioPath(key))
}

// GetAudio returns the decompressed audio artifact for key.
func (s *FileStore) GetAudio(key contentkey.Key) ([]byte, error) {
	data, err := s.read(s.audioPath(key))
	if err != nil {
		return nil, err
	}

	pcm, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("audio %s: %w: %w", key, ErrCorrupt, err)
	}
	return pcm, nil
}

// PutAudio stores the audio artifact for key.
func (s *FileStore) PutAudio(key contentkey.Key, pcm []byte) error {
	return s.write(s.audioPath(key), s.encoder.EncodeAll(pcm, nil))
}

// ClearAll removes every file in the cache root, text and audio alike, and
// returns how many were removed. Files that disappear while clearing are
// skipped.
func (s *FileStore) ClearAll() (int, error) {
	infos, err := s.readDir()
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		err := s.fs.Remove(filepath.Join(s.root, info.Name()))
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
			// Removed concurrently
		default:
			errs = append(errs, err)
		}
	}

	s.clears.Add(1)
	s.removed.Add(int64(removed))
	s.mu.Lock()
	s.lastClear = time.Now()
	s.mu.Unlock()

	if len(errs) > 0 {
		return removed, fmt.Errorf("clear %s: %w: %w", s.root, ErrUnavailable, errors.Join(errs...))
	}
	return removed, nil
}

// ListCount returns the number of entries in the cache root. Temp files of
// writes still in progress are not counted.
func (s *FileStore) ListCount() (int, error) {
	infos, err := s.readDir()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, info := range infos {
		if info.IsDir() || isTemp(info.Name()) {
			continue
		}
		count++
	}
	return count, nil
}

// Entries lists the cache root, skipping temp files.
func (s *FileStore) Entries() ([]Entry, error) {
	infos, err := s.readDir()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || isTemp(info.Name()) {
			continue
		}
		key, kind := parseEntryName(info.Name())
		entries = append(entries, Entry{
			Name:    info.Name(),
			Key:     key,
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// Stats returns store counters.
func (s *FileStore) Stats() Stats {
	s.mu.Lock()
	lastClear := s.lastClear
	s.mu.Unlock()

	return Stats{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Writes:      s.writes.Load(),
		WriteErrors: s.writeErrors.Load(),
		Clears:      s.clears.Load(),
		Removed:     s.removed.Load(),
		LastClear:   lastClear,
	}
}

// Close releases compression resources.
func (s *FileStore) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// Private helper methods

func (s *FileStore) textPath(key contentkey.Key) string {
	return filepath.Join(s.root, string(key)+textSuffix)
}

func (s *FileStore) audioPath(key contentkey.Key) string {
	return filepath.Join(s.root, string(key)+audioSuffix)
}

func (s *FileStore) exists(path string) (bool, error) {
	info, err := s.fs.Stat(path)
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w: %w", filepath.Base(path), ErrUnavailable, err)
}

func (s *FileStore) read(path string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err == nil {
		return data, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("read %s: %w: %w", filepath.Base(path), ErrUnavailable, err)
}

func (s *FileStore) readDir() ([]os.FileInfo, error) {
	infos, err := afero.ReadDir(s.fs, s.root)
	if err == nil {
		return infos, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list %s: %w", s.root, ErrRootMissing)
	}
	return nil, fmt.Errorf("list %s: %w: %w", s.root, ErrUnavailable, err)
}

// write stores data at path via a temp file and rename.
func (s *FileStore) write(path string, data []byte) error {
	if err := s.writeFile(path, data); err != nil {
		s.writeErrors.Add(1)
		return fmt.Errorf("write %s: %w: %w", filepath.Base(path), ErrUnavailable, err)
	}
	s.writes.Add(1)
	return nil
}

func (s *FileStore) writeFile(path string, data []byte) error {
	file, err := afero.TempFile(s.fs, s.root, tempPrefix+"*")
	if err != nil {
		return err
	}
	tempPath := file.Name()

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		_ = s.fs.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		_ = s.fs.Remove(tempPath)
		return closeErr
	}

	if err := s.fs.Rename(tempPath, path); err != nil {
		_ = s.fs.Remove(tempPath)
		return err
	}
	return nil
}

func encodeRecord(rec Record) []byte {
	var b strings.Builder
	b.WriteString(singleLine(rec.SourceText))
	b.WriteByte('\n')
	b.WriteString(singleLine(rec.TranslatedText))
	b.WriteByte('\n')
	return []byte(b.String())
}

// decodeRecord reads the first two lines. The trailing newline is optional;
// a missing or blank line is corrupt.
func decodeRecord(data []byte) (Record, error) {
	lines := strings.SplitN(string(data), "\n", 3)
	if len(lines) < 2 {
		return Record{}, fmt.Errorf("%w: want 2 lines, got %d", ErrCorrupt, len(lines))
	}

	rec := Record{
		SourceText:     strings.TrimSpace(lines[0]),
		TranslatedText: strings.TrimSpace(lines[1]),
	}
	if rec.SourceText == "" || rec.TranslatedText == "" {
		return Record{}, fmt.Errorf("%w: empty line", ErrCorrupt)
	}
	return rec, nil
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}
