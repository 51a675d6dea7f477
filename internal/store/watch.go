package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// RootWatcher reports when the cache root directory is removed or renamed
// away. It only works on the operating system filesystem.
type RootWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	logger  *log.Logger

	gone     chan struct{}
	goneOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// WatchRoot starts watching root.
func WatchRoot(root string, logger *log.Logger) (*RootWatcher, error) {
	if logger == nil {
		logger = log.Default().WithPrefix("store")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve cache root: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	if err := w.Add(abs); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
	}

	rw := &RootWatcher{
		root:    abs,
		watcher: w,
		logger:  logger,
		gone:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	rw.wg.Add(1)
	go rw.loop()

	logger.Debug("fsnotify watching cache root", "dir", abs)
	return rw, nil
}

// Gone is closed once the root directory has been removed or renamed.
func (rw *RootWatcher) Gone() <-chan struct{} {
	return rw.gone
}

// Close stops the watcher.
func (rw *RootWatcher) Close() error {
	close(rw.done)
	err := rw.watcher.Close()
	rw.wg.Wait()
	return err
}

func (rw *RootWatcher) loop() {
	defer rw.wg.Done()

	for {
		select {
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == rw.root &&
				(event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
				rw.logger.Warn("cache root removed", "dir", rw.root, "event", event.Op)
				rw.goneOnce.Do(func() { close(rw.gone) })
				continue
			}
			if event.Has(fsnotify.Create) && !isTemp(filepath.Base(event.Name)) {
				rw.logger.Debug("cache entry created", "file", filepath.Base(event.Name))
			}

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Debug("fsnotify error", "dir", rw.root, "error", err)

		case <-rw.done:
			return
		}
	}
}
