package inbox

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// defaultPollInterval is the scan period once fsnotify is unavailable.
const defaultPollInterval = 2 * time.Second

// Watcher signals when command files arrive in the inbox directory, using
// fsnotify with a polling fallback.
type Watcher struct {
	// dir is the inbox directory being monitored.
	dir string
	// events is buffered to 1 so a burst of commands coalesces into one wake-up.
	events chan struct{}
	// done is closed by [Watcher.Close].
	done chan struct{}
	// fsw is nil when polling.
	fsw  *fsnotify.Watcher
	once sync.Once
	// polling is true once the watcher has fallen back to directory scans.
	polling      atomic.Bool
	pollInterval time.Duration
}

// NewWatcher watches dir, creating it if needed.
func NewWatcher(dir string) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	w := &Watcher{
		dir:          dir,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: defaultPollInterval,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to inbox polling", "error", err)
		w.startPolling()
		return w, nil
	}

	if err := fsw.Add(dir); err != nil {
		slog.Info("cannot watch inbox, falling back to polling", "path", dir, "error", err)
		fsw.Close()
		w.startPolling()
		return w, nil
	}

	w.fsw = fsw
	go w.watch()
	return w, nil
}

func (w *Watcher) startPolling() {
	w.polling.Store(true)
	go w.poll()
}

// watch forwards create and rename-into events for command files. An
// fsnotify error switches the watcher to polling.
func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && isCommandFile(event.Name) {
				w.notify()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Info("fsnotify error, switching to inbox polling", "error", err)
			w.fsw.Close()
			w.startPolling()
			return
		}
	}
}

// poll scans the directory and signals while command files are pending.
// Files are removed once drained, so a non-empty scan always means new work.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if w.pending() {
				w.notify()
			}
		}
	}
}

// pending reports whether any command file is waiting in the directory.
func (w *Watcher) pending() bool {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && isCommandFile(e.Name()) {
			return true
		}
	}
	return false
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal when commands arrive.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		if w.fsw != nil && !w.polling.Load() {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
		}
	})
	return err
}

// notify sends a single signal, coalescing with any pending one.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
