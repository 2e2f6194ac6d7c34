package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 2 * time.Second

// stamp identifies one observed version of the config file.
type stamp struct {
	modTime time.Time
	size    int64
	sum     [sha256.Size]byte
}

// Watcher keeps the config file at path under observation. When the file
// content changes and still validates, onChange receives the previous and
// the new config. Rejected edits are reported through the logger and the
// optional rejection hook; the last accepted config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(prev, next *Config)
	onReject func(error)
	log      *slog.Logger

	// reloadMu serialises reloads from Run and Reload so onChange sees
	// configs in order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    stamp
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for reload events. Default slog.Default().
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// OnReject registers fn to be called with the load error whenever an edited
// file fails to parse or validate.
func OnReject(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReject = fn }
}

// NewWatcher loads path and returns a watcher holding it as the current
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(prev, next *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, st
	return w, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string { return w.path }

// Current returns the last accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done and always returns nil, so it can be
// run in an errgroup next to the servers.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.unchanged() {
				continue
			}
			_, _ = w.reload()
		}
	}
}

// Reload re-reads the file immediately, regardless of its modification time.
// It reports whether a new config was accepted. A file whose content did not
// change yields false and no error.
func (w *Watcher) Reload() (bool, error) {
	return w.reload()
}

// unchanged is the cheap pre-check: same size and modification time as the
// last read means the content is not hashed again.
func (w *Watcher) unchanged() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config: stat failed", "path", w.path, "err", err)
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return info.ModTime().Equal(w.seen.modTime) && info.Size() == w.seen.size
}

func (w *Watcher) reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, st, err := w.read()
	if err != nil {
		w.log.Warn("config: edit rejected, keeping previous config", "path", w.path, "err", err)
		if w.onReject != nil {
			w.onReject(err)
		}
		// Remember the stamp so a broken file is reported once per edit.
		w.mu.Lock()
		w.seen.modTime, w.seen.size = st.modTime, st.size
		w.mu.Unlock()
		return false, err
	}

	w.mu.Lock()
	if st.sum == w.seen.sum {
		w.seen = st
		w.mu.Unlock()
		return false, nil
	}
	prev := w.current
	w.current, w.seen = cfg, st
	w.mu.Unlock()

	w.log.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev, cfg)
	}
	return true, nil
}

// read loads and validates the file. The returned stamp carries the file's
// size and modification time even when parsing fails.
func (w *Watcher) read() (*Config, stamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	st := stamp{modTime: info.ModTime(), size: info.Size()}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, st, err
	}
	st.sum = sha256.Sum256(data)

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, st, err
	}
	return cfg, st, nil
}
