package tui

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// DBWatcher reports writes to a SQLite database file made by any process.
// Changes is buffered by one, so bursts collapse into a single signal.
type DBWatcher struct {
	watcher *fsnotify.Watcher
	base    string
	changes chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// WatchDatabase watches the directory holding path for writes to the
// database, its WAL or its rollback journal.
func WatchDatabase(path string) (*DBWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	w := &DBWatcher{
		watcher: watcher,
		base:    filepath.Base(path),
		changes: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Changes is closed once the watcher stops
func (w *DBWatcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops the watcher and waits for its goroutine. Safe to call more than once.
func (w *DBWatcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		w.closeErr = w.watcher.Close()
	})
	return w.closeErr
}

func (w *DBWatcher) run() {
	defer close(w.doneCh)
	defer close(w.changes)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				fire = timer.C
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

		case <-fire:
			timer, fire = nil, nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}

func (w *DBWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(event.Name)
	if name == w.base {
		return true
	}
	// -shm is touched by readers too
	suffix, ok := strings.CutPrefix(name, w.base)
	return ok && (suffix == "-wal" || suffix == "-journal")
}
