package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a file and calls onChange when its modification time or
// size changes, or when it appears or disappears. It is shared by the
// config reloader and the profile store.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange func(ctx context.Context)
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	started  bool

	lastMod  time.Time
	lastSize int64
	exists   bool
}

// NewWatcher creates a file watcher that polls for changes.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger, onChange func(ctx context.Context)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "watcher"),
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start records the current file state and begins polling until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.snapshot()
	w.started = true
	go w.poll(ctx)
	w.logger.Info("file watcher started", "path", w.path, "interval", w.interval)
}

// Stop stops the watcher and waits for the poll loop to exit. It is safe to
// call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		if w.started {
			<-w.done
		}
		w.logger.Info("file watcher stopped", "path", w.path)
	})
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.changed() && w.onChange != nil {
				w.onChange(ctx)
			}
		}
	}
}

func (w *Watcher) snapshot() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.exists = false
		return
	}
	w.exists = true
	w.lastMod = info.ModTime()
	w.lastSize = info.Size()
}

func (w *Watcher) changed() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		if w.exists {
			w.logger.Warn("watched file disappeared", "path", w.path, "error", err)
			w.exists = false
			return true
		}
		return false
	}

	if !w.exists || !info.ModTime().Equal(w.lastMod) || info.Size() != w.lastSize {
		w.logger.Info("watched file changed", "path", w.path, "modTime", info.ModTime())
		w.exists = true
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
		return true
	}
	return false
}
