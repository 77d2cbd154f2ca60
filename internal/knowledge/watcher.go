package knowledge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must be quiet before it is re-indexed.
const DefaultDebounce = 250 * time.Millisecond

// WatchEvent reports one re-index (or removal) triggered by the watcher.
type WatchEvent struct {
	Path    string
	Chunks  int
	Removed bool
	Err     error
}

// Watcher re-indexes documents in the Builder's root as they change.
type Watcher struct {
	builder  *Builder
	fs       *fsnotify.Watcher
	debounce time.Duration
	events   chan WatchEvent
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// NewWatcher creates a watcher for b.Root. Call Start to begin.
func NewWatcher(b *Builder, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("knowledge: create fsnotify watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		builder:  b,
		fs:       fsw,
		debounce: debounce,
		events:   make(chan WatchEvent, 16),
		done:     make(chan struct{}),
	}, nil
}

// Events delivers re-index results. It is closed when the watcher stops.
// Events are dropped when nobody reads.
func (w *Watcher) Events() <-chan WatchEvent {
	return w.events
}

// Start watches the root directory until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fs.Add(w.builder.Root); err != nil {
		return fmt.Errorf("knowledge: watch %s: %w", w.builder.Root, err)
	}
	w.started.Store(true)
	go w.run(ctx)
	return nil
}

// Stop closes the fsnotify watcher and waits for the loop to exit.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		err = w.fs.Close()
		if w.started.Load() {
			<-w.done
		}
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.fs.Close()
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !IsDocFile(ev.Name) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				pending[ev.Name] = time.Now()
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				delete(pending, ev.Name)
				err := w.builder.RemoveFile(ctx, ev.Name)
				w.emit(WatchEvent{Path: ev.Name, Removed: true, Err: err})
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.emit(WatchEvent{Err: err})

		case <-ticker.C:
			now := time.Now()
			for path, at := range pending {
				if now.Sub(at) < w.debounce {
					continue
				}
				delete(pending, path)
				n, err := w.builder.IndexFile(ctx, path)
				if err != nil {
					w.builder.Logger.Warn("knowledge: reindex failed", "path", path, "error", err)
				}
				w.emit(WatchEvent{Path: path, Chunks: n, Err: err})
			}
		}
	}
}

func (w *Watcher) emit(ev WatchEvent) {
	select {
	case w.events <- ev:
	default:
	}
}
