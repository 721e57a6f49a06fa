package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fileState is one observed version of the config file. The content hash
// guards against mtime-only touches, the mtime makes the common no-change
// poll a single stat call.
type fileState struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and reports content changes through a
// callback. Polling keeps the reload path free of platform notification
// APIs; a few-second delay is fine for operator-driven edits.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu   sync.Mutex
	last fileState

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the 5 second default polling interval.
// Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the file once, then keeps polling it in the background
// until [Watcher.Stop]. A file that fails the initial load fails NewWatcher;
// after that, broken writes are logged and skipped while the previous config
// stays active.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	state, err := w.readFile()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = state

	go w.run()
	return w, nil
}

// Current returns the latest config that passed validation.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config file unreadable, keeping current config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	state, err := w.readFile()
	if err != nil {
		slog.Warn("config reload rejected, keeping current config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if state.hash == w.last.hash {
		// mtime touch with identical content
		w.last.mtime = state.mtime
		w.mu.Unlock()
		return
	}
	old := w.last.cfg
	w.last = state
	w.mu.Unlock()

	slog.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		// outside the lock so the callback may call Current
		w.onChange(old, state.cfg)
	}
}

// readFile parses and validates the file, capturing its hash and mtime for
// change detection.
func (w *Watcher) readFile() (fileState, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fileState{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return fileState{}, err
	}
	return fileState{
		cfg:   cfg,
		hash:  sha256.Sum256(data),
		mtime: info.ModTime(),
	}, nil
}
