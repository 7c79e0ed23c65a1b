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

// defaultPollInterval is coarse on purpose: capture reconfiguration is a
// rare, human-driven event.
const defaultPollInterval = 5 * time.Second

// snapshot pairs a parsed config with the file state it was read from.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and reports content changes so the running
// daemon can rewire an active session without a restart. Polling keeps the
// daemon free of platform file-notification dependencies.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu   sync.Mutex
	last snapshot

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the poll interval. Non-positive values keep the
// default of 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher reads path once, fails unless that first read yields a valid
// config, and then polls in the background. onChange fires with the previous
// and the newly applied config whenever the file content changes to
// something valid; invalid edits are logged and the previous config stays in
// effect.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap

	go w.run()
	return w, nil
}

// Current returns the most recently applied valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-tick.C:
			w.reload()
		}
	}
}

// reload runs one poll cycle: skip when the mtime is unchanged, re-read
// otherwise, swap configs only when the content hash differs and the new
// content validates.
func (w *Watcher) reload() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watch: stat", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := w.read()
	if err != nil {
		slog.Warn("config watch: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.sum == w.last.sum {
		// Touched, not edited.
		w.last.mtime = snap.mtime
		w.mu.Unlock()
		return
	}
	old := w.last.cfg
	w.last = snap
	w.mu.Unlock()

	slog.Info("config watch: configuration reloaded", "path", w.path)

	// The callback runs outside the lock so it can call Current.
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// read loads and validates the file once, capturing the content hash and
// modification time the parse corresponds to.
func (w *Watcher) read() (snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
