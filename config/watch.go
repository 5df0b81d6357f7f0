package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	jwtbearer "github.com/ggoodman/jwt-bearer-go"
)

// DefaultDebounce coalesces the burst of events editors and secret mounts
// produce for a single logical change.
const DefaultDebounce = 250 * time.Millisecond

// ApplyFunc receives each successfully loaded configuration. Client.SetConfig
// satisfies it.
type ApplyFunc func(*jwtbearer.ClientConfig) error

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogHandler sets the slog.Handler for reload events. If nil,
// logging is discarded.
func WithWatchLogHandler(h slog.Handler) WatchOption {
	return func(w *Watcher) {
		if h != nil {
			w.log = slog.New(h)
		}
	}
}

// Watcher reloads a YAML configuration file when it or the signing key file it
// names changes, and hands each valid result to an ApplyFunc. A reload that
// fails to load, validate or apply is logged and otherwise ignored, so the
// configuration in use stays in place.
type Watcher struct {
	path     string
	apply    ApplyFunc
	debounce time.Duration
	log      *slog.Logger
}

// NewWatcher returns a Watcher for the YAML file at path.
func NewWatcher(path string, apply ApplyFunc, opts ...WatchOption) *Watcher {
	w := &Watcher{
		path:     path,
		apply:    apply,
		debounce: DefaultDebounce,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. It returns an error only when the watch
// cannot be established.
func (w *Watcher) Run(ctx context.Context) error {
	cfgPath, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	// Directories are watched rather than files so that atomic replacement
	// (write temp, rename over) keeps being observed.
	watchedDirs := map[string]struct{}{}
	watch := func(file string) error {
		dir := filepath.Dir(file)
		if _, ok := watchedDirs[dir]; ok {
			return nil
		}
		if err := fw.Add(dir); err != nil {
			return err
		}
		watchedDirs[dir] = struct{}{}
		return nil
	}

	if err := watch(cfgPath); err != nil {
		return fmt.Errorf("watch %s: %w", cfgPath, err)
	}
	relevant := map[string]struct{}{cfgPath: {}}
	_, keyPath, err := load(cfgPath)
	if err != nil {
		w.log.Warn("current configuration is invalid", slog.String("path", cfgPath), slog.String("err", err.Error()))
	}
	if keyPath != "" {
		relevant[keyPath] = struct{}{}
		if err := watch(keyPath); err != nil {
			w.log.Warn("cannot watch signing key directory", slog.String("path", keyPath), slog.String("err", err.Error()))
		}
	}

	reload := make(chan struct{}, 1)
	d := &debouncer{interval: w.debounce, fire: func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	}}
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			if _, ok := relevant[name]; ok {
				d.trigger()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", slog.String("err", err.Error()))
		case <-reload:
			keyPath := w.reload(cfgPath)
			if keyPath == "" {
				continue
			}
			if _, ok := relevant[keyPath]; !ok {
				relevant[keyPath] = struct{}{}
				if err := watch(keyPath); err != nil {
					w.log.Warn("cannot watch signing key directory", slog.String("path", keyPath), slog.String("err", err.Error()))
				}
			}
		}
	}
}

// reload loads and applies the configuration. It returns the signing key path
// named by the file, even when the configuration was rejected.
func (w *Watcher) reload(cfgPath string) string {
	cfg, keyPath, err := load(cfgPath)
	if err != nil {
		w.log.Warn("configuration reload rejected", slog.String("path", cfgPath), slog.String("err", err.Error()))
		return keyPath
	}
	if err := w.apply(cfg); err != nil {
		w.log.Warn("configuration reload rejected", slog.String("path", cfgPath), slog.String("err", err.Error()))
		return keyPath
	}
	w.log.Info("configuration reloaded",
		slog.String("path", cfgPath),
		slog.String("client_id", cfg.ClientID))
	return keyPath
}

type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	pending  bool
	interval time.Duration
	fire     func()
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interval <= 0 {
		d.fire()
		return
	}
	if d.pending {
		return
	}
	d.pending = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.flush)
	} else {
		d.timer.Reset(d.interval)
	}
}

func (d *debouncer) flush() {
	d.mu.Lock()
	d.pending = false
	d.mu.Unlock()
	d.fire()
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
