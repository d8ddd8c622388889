package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce coalesces editor save bursts into one reload.
const reloadDebounce = 100 * time.Millisecond

// Attempt describes one load of the configuration file, accepted or not.
type Attempt struct {
	Reason   string // "startup", "watch" or "manual"
	Path     string
	Data     []byte
	Version  int
	Accepted bool
	Err      error
}

// Loader handles configuration loading, watching, and hot-reloading.
// A file that fails to decode or validate never replaces the current
// configuration.
type Loader struct {
	path      string
	logger    *slog.Logger
	mu        sync.RWMutex
	config    *Config
	settings  Settings
	watcher   *fsnotify.Watcher
	cbMu      sync.Mutex
	onChange  []func(*Config)
	onAttempt []func(Attempt)
	ctx       context.Context
	cancel    context.CancelFunc
	errChan   chan error
}

// NewLoader creates a new configuration loader. An empty path uses
// ConfigPath.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:    path,
		logger:  logger.With("component", "config"),
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Path returns the watched configuration file.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, migrates and validates the configuration file and makes it
// current. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	return l.load("startup")
}

// Reload is Load on demand. On error the previous configuration stays.
func (l *Loader) Reload() (*Config, error) {
	return l.load("manual")
}

func (l *Loader) load(reason string) (*Config, error) {
	cfg, data, err := l.read()
	attempt := Attempt{Reason: reason, Path: l.path, Data: data, Err: err}
	if cfg != nil {
		attempt.Version = cfg.Version
	}
	if err != nil {
		l.notifyAttempt(attempt)
		return nil, err
	}

	l.mu.Lock()
	l.config = cfg
	l.settings = cfg.Settings()
	l.mu.Unlock()

	attempt.Accepted = true
	l.notifyAttempt(attempt)
	l.notifyChange(cfg)
	return cfg, nil
}

func (l *Loader) read() (*Config, []byte, error) {
	if err := LoadEnvFile(filepath.Join(filepath.Dir(l.path), ".env")); err != nil {
		l.logger.Warn("env file ignored", "error", err)
	}

	cfg, data, err := loadConfigFromFile(l.path)
	if err != nil {
		return nil, data, err
	}
	cfg.ApplyEnvOverrides()

	if result := MigrateConfig(cfg); result != nil {
		l.logger.Info("configuration migrated in memory",
			"from", result.FromVersion, "to", result.ToVersion, "changes", result.Changes)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, data, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, data, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Snapshot returns the current settings. Before the first successful load
// it returns the defaults.
func (l *Loader) Snapshot() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.config == nil {
		return DefaultSettings()
	}
	return l.settings
}

// Watch starts watching the configuration file for changes.
// When changes are detected, the configuration is reloaded and
// registered callbacks are invoked.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		watcher.Close()
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go l.watchLoop()

	return nil
}

func (l *Loader) watchLoop() {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.sendErr(err)
		}
	}
}

func (l *Loader) reload() {
	if l.ctx.Err() != nil {
		return
	}
	if _, err := l.load("watch"); err != nil {
		l.logger.Error("config reload rejected, keeping previous", "path", l.path, "error", err)
		l.sendErr(fmt.Errorf("reload config: %w", err))
		return
	}
	l.logger.Info("config reloaded", "path", l.path)
}

func (l *Loader) sendErr(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// OnChange registers a callback invoked after a configuration is accepted.
func (l *Loader) OnChange(cb func(*Config)) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// OnAttempt registers a callback invoked after every load, including
// rejected ones.
func (l *Loader) OnAttempt(cb func(Attempt)) {
	l.cbMu.Lock()
	defer l.cbMu.Unlock()
	l.onAttempt = append(l.onAttempt, cb)
}

func (l *Loader) notifyChange(cfg *Config) {
	l.cbMu.Lock()
	cbs := append([]func(*Config){}, l.onChange...)
	l.cbMu.Unlock()
	for _, cb := range cbs {
		cb(cfg)
	}
}

func (l *Loader) notifyAttempt(a Attempt) {
	l.cbMu.Lock()
	cbs := append([]func(Attempt){}, l.onAttempt...)
	l.cbMu.Unlock()
	for _, cb := range cbs {
		cb(a)
	}
}

// Errors returns a channel for receiving errors that occur during watching.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops the watcher and releases resources.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// loadConfigFromFile reads and parses a config file based on its extension.
// The raw bytes are returned alongside for history records.
func loadConfigFromFile(path string) (*Config, []byte, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil, nil
		}
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, data, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, data, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, data, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, data, fmt.Errorf("parse config: %w", err)
		}
	}

	return cfg, data, nil
}

// autoDetectAndParse attempts to parse the config in multiple formats.
// Each attempt decodes into a fresh default so a partial failure does not
// leak into the next format.
func autoDetectAndParse(data []byte, cfg *Config) error {
	try := DefaultConfig()
	if _, err := toml.Decode(string(data), try); err == nil {
		*cfg = *try
		return nil
	}

	try = DefaultConfig()
	if err := json.Unmarshal(data, try); err == nil {
		*cfg = *try
		return nil
	}

	try = DefaultConfig()
	if err := yaml.Unmarshal(data, try); err == nil {
		*cfg = *try
		return nil
	}

	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

// LoadOrCreate loads the configuration from the specified path,
// writing a default configuration file first if none exists.
func LoadOrCreate(path string, logger *slog.Logger) (*Loader, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := SaveConfig(DefaultConfig(), path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		created = true
	}

	loader := NewLoader(path, logger)
	if _, err := loader.Load(); err != nil {
		return nil, created, err
	}
	return loader, created, nil
}
