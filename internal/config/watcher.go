package config

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Live holds the most recently accepted configuration. It is safe for
// concurrent use and serves the printer endpoint to the print submitter.
type Live struct {
	current atomic.Pointer[Config]
}

// NewLive wraps an initial configuration
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.current.Store(cfg)
	return l
}

// Get returns the current configuration
func (l *Live) Get() *Config {
	return l.current.Load()
}

// Store replaces the current configuration
func (l *Live) Store(cfg *Config) {
	l.current.Store(cfg)
}

// PrinterEndpoint returns the configured printer endpoint, empty when unset
func (l *Live) PrinterEndpoint() string {
	cfg := l.current.Load()
	if cfg == nil {
		return ""
	}
	return cfg.Printer.Endpoint
}

// Watcher reloads the config file on change and publishes valid results to a Live
type Watcher struct {
	loader   *Loader
	live     *Live
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	onReload func(*Config)
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	stopCh chan struct{}
	once   sync.Once
}

// NewWatcher watches the directory holding the loader's config file. The
// directory is watched rather than the file so editors that replace the file
// on save are still observed.
func NewWatcher(loader *Loader, live *Live, logger zerolog.Logger, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(filepath.Dir(loader.GetConfigPath())); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		loader:   loader,
		live:     live,
		watcher:  fsw,
		logger:   logger.With().Str("component", "config_watcher").Logger(),
		onReload: onReload,
		debounce: 250 * time.Millisecond,
		stopCh:   make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run() {
	target := filepath.Clean(w.loader.GetConfigPath())

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Config change detected")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload keeps the previous configuration when the new file is unreadable or invalid
func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Config reload failed, keeping previous config")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn().Err(err).Msg("Reloaded config is invalid, keeping previous config")
		return
	}

	w.live.Store(cfg)
	w.logger.Info().Str("printer_endpoint", cfg.Printer.Endpoint).Msg("Config reloaded")

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
