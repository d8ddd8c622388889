// Package config handles configuration loading, validation, and management for smartim.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"smartim/internal/scenario"
)

// Version is the current configuration schema version.
const Version = 3

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// General holds the switching settings shared by every editor.
	General GeneralConfig `toml:"general" json:"general" yaml:"general"`

	// Scenarios holds the per-language context targets.
	Scenarios ScenariosConfig `toml:"scenarios" json:"scenarios" yaml:"scenarios"`

	// ToolWindows lists host panels that force a target on activation.
	ToolWindows ToolWindowsConfig `toml:"tool_windows" json:"tool_windows" yaml:"tool_windows"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the editor plugin socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Storage configuration for switch history.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Registry selects the OS input-source backend.
	Registry RegistryConfig `toml:"registry" json:"registry" yaml:"registry"`
}

// GeneralConfig holds the global switching settings.
type GeneralConfig struct {
	// Enabled turns switching on or off without stopping the daemon.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// DebounceMs is the quiet period after the last cursor move before a
	// switch cycle runs. Zero runs on the next scheduler tick.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// NativeIM is the input source id used for the native default.
	NativeIM string `toml:"native_im" json:"native_im" yaml:"native_im"`

	// LatinIM is the input source id used for the Latin default.
	LatinIM string `toml:"latin_im" json:"latin_im" yaml:"latin_im"`

	// LeaveMode is the target applied when the host loses focus.
	LeaveMode scenario.Target `toml:"leave_mode" json:"leave_mode" yaml:"leave_mode"`

	// NativeScript and LatinScript are fallback scripts run when the
	// registry cannot select the configured source.
	NativeScript string `toml:"native_script" json:"native_script" yaml:"native_script"`
	LatinScript  string `toml:"latin_script" json:"latin_script" yaml:"latin_script"`

	// Caret color hints (hex), reported to plugins.
	NativeColor   string `toml:"native_color" json:"native_color" yaml:"native_color"`
	LatinColor    string `toml:"latin_color" json:"latin_color" yaml:"latin_color"`
	CapsLockColor string `toml:"caps_lock_color" json:"caps_lock_color" yaml:"caps_lock_color"`
}

// ScenariosConfig holds one scenario.Config per language bucket.
type ScenariosConfig struct {
	General scenario.Config `toml:"general" json:"general" yaml:"general"`
	Java    scenario.Config `toml:"java" json:"java" yaml:"java"`
	Kotlin  scenario.Config `toml:"kotlin" json:"kotlin" yaml:"kotlin"`
	Python  scenario.Config `toml:"python" json:"python" yaml:"python"`
}

// Bucket returns the scenario for b. Unknown buckets get General.
func (s ScenariosConfig) Bucket(b scenario.Bucket) scenario.Config {
	switch b {
	case scenario.Java:
		return s.Java
	case scenario.Kotlin:
		return s.Kotlin
	case scenario.Python:
		return s.Python
	default:
		return s.General
	}
}

// ToolWindowsConfig holds tool window ids that switch to the Latin default.
type ToolWindowsConfig struct {
	Latin []string `toml:"latin" json:"latin" yaml:"latin"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig holds the plugin socket configuration.
type IPCConfig struct {
	// Enabled determines whether the IPC server is started.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the path to the Unix socket.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the Unix socket permissions (e.g., "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum number of concurrent plugin connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the idle connection timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// MaxTrackedEditors bounds the per-editor gate table.
	MaxTrackedEditors int `toml:"max_tracked_editors" json:"max_tracked_editors" yaml:"max_tracked_editors"`
}

// StorageConfig holds switch history configuration.
type StorageConfig struct {
	// Enabled determines whether cycle outcomes are recorded.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database path.
	Path string `toml:"path" json:"path" yaml:"path"`

	// RetentionDays prunes events older than this at startup. Zero keeps
	// everything.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// RegistryConfig selects and bounds input-source backend calls.
type RegistryConfig struct {
	// Backend is one of auto, ibus, fcitx5, macos, none.
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// CallTimeoutMs bounds one list-and-activate sequence.
	CallTimeoutMs int `toml:"call_timeout_ms" json:"call_timeout_ms" yaml:"call_timeout_ms"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := SmartimDir()
	native, latin := defaultScripts()

	return &Config{
		Version: Version,
		General: GeneralConfig{
			Enabled:       true,
			DebounceMs:    300,
			NativeIM:      "搜狗拼音",
			LatinIM:       "ABC",
			LeaveMode:     scenario.Latin(),
			NativeScript:  native,
			LatinScript:   latin,
			NativeColor:   "#FF0000",
			LatinColor:    "#808080",
			CapsLockColor: "#FFD700",
		},
		Scenarios: ScenariosConfig{
			General: scenario.DefaultConfig(),
			Java:    scenario.DefaultConfig(),
			Kotlin:  scenario.DefaultConfig(),
			Python:  scenario.DefaultConfig(),
		},
		ToolWindows: ToolWindowsConfig{
			Latin: []string{"Terminal", "Project"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "file",
			FilePath:   filepath.Join(dir, "logs", "smartimd.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:           true,
			SocketPath:        defaultSocketPath(),
			Permissions:       "0600",
			MaxConnections:    16,
			TimeoutSec:        300,
			MaxTrackedEditors: 64,
		},
		Storage: StorageConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "history.db"),
			RetentionDays: 30,
		},
		Registry: RegistryConfig{
			Backend:       "auto",
			CallTimeoutMs: 2000,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(SmartimDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	if err := LoadEnvFile(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	cfg, _, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	MigrateConfig(cfg)
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Logging.FilePath),
	}
	if c.IPC.Enabled {
		dirs = append(dirs, filepath.Dir(c.IPC.SocketPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SmartimDir returns the base smartim directory.
// Uses platform-specific paths or the SMARTIM_DIR environment override.
func SmartimDir() string {
	if envDir := os.Getenv("SMARTIM_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with SMARTIM_ and use underscores.
// Unparseable numeric or boolean values are ignored.
func (c *Config) ApplyEnvOverrides() {
	// General overrides
	if v, ok := envBool("SMARTIM_ENABLED"); ok {
		c.General.Enabled = v
	}
	if v, ok := envInt("SMARTIM_DEBOUNCE_MS"); ok {
		c.General.DebounceMs = v
	}
	if v := os.Getenv("SMARTIM_NATIVE_IM"); v != "" {
		c.General.NativeIM = v
	}
	if v := os.Getenv("SMARTIM_LATIN_IM"); v != "" {
		c.General.LatinIM = v
	}
	if v := os.Getenv("SMARTIM_LEAVE_MODE"); v != "" {
		c.General.LeaveMode = scenario.ParseTarget(v)
	}

	// Logging overrides
	if v := os.Getenv("SMARTIM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SMARTIM_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	// IPC overrides
	if v := os.Getenv("SMARTIM_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}

	// Storage overrides
	if v := os.Getenv("SMARTIM_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}

	// Registry overrides
	if v := os.Getenv("SMARTIM_BACKEND"); v != "" {
		c.Registry.Backend = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.ToolWindows.Latin = append([]string{}, c.ToolWindows.Latin...)
	return &clone
}

// Helper functions

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}

// defaultScripts returns the platform's fallback scripts. Only macOS has
// a sensible default (an osascript key press).
func defaultScripts() (native, latin string) {
	if runtime.GOOS == "darwin" {
		return `tell application "System Events" to key code 102`,
			`tell application "System Events" to key code 104`
	}
	return "", ""
}

func defaultSocketPath() string {
	return filepath.Join(PlatformRuntimeDir(), "smartimd.sock")
}
