package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"smartim/internal/ime"
	"smartim/internal/scenario"
)

// ErrInvalidConfig is wrapped by loaders when validation rejects a file.
var ErrInvalidConfig = errors.New("invalid configuration")

var (
	colorPattern       = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	permissionsPattern = regexp.MustCompile(`^0[0-7]{3}$`)
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

// Fields returns the names of the failing fields in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateGeneral(&c.General)...)
	errs = append(errs, validateScenarios(&c.Scenarios)...)
	errs = append(errs, validateToolWindows(&c.ToolWindows)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateRegistry(&c.Registry)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateGeneral(g *GeneralConfig) ValidationErrors {
	var errs ValidationErrors

	if g.DebounceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "general.debounce_ms",
			Message: fmt.Sprintf("debounce must not be negative, got %d", g.DebounceMs),
		})
	}
	if strings.TrimSpace(g.NativeIM) == "" {
		errs = append(errs, ValidationError{Field: "general.native_im", Message: "native input source is required"})
	}
	if strings.TrimSpace(g.LatinIM) == "" {
		errs = append(errs, ValidationError{Field: "general.latin_im", Message: "latin input source is required"})
	}

	for field, color := range map[string]string{
		"general.native_color":    g.NativeColor,
		"general.latin_color":     g.LatinColor,
		"general.caps_lock_color": g.CapsLockColor,
	} {
		if color != "" && !colorPattern.MatchString(color) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid color %q (expected #RRGGBB)", color),
			})
		}
	}
	sortErrors(errs)
	return errs
}

func validateScenarios(s *ScenariosConfig) ValidationErrors {
	var errs ValidationErrors
	for _, b := range scenario.Buckets {
		cfg := s.Bucket(b)
		for name, t := range map[string]scenario.Target{
			"string_literal":   cfg.StringLiteral,
			"constant_literal": cfg.ConstantLiteral,
			"single_comment":   cfg.SingleComment,
			"multi_comment":    cfg.MultiComment,
			"doc_comment":      cfg.DocComment,
		} {
			if t.Mode == scenario.Literal && strings.TrimSpace(t.Name) == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("scenarios.%s.%s", b, name),
					Message: "input source name is empty",
				})
			}
		}
	}
	sortErrors(errs)
	return errs
}

func validateToolWindows(t *ToolWindowsConfig) ValidationErrors {
	var errs ValidationErrors
	for i, id := range t.Latin {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("tool_windows.latin[%d]", i),
				Message: "tool window id is empty",
			})
		}
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is %q", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.rotation",
			Message: "rotation limits must not be negative",
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	}

	if i.Permissions != "" && !permissionsPattern.MatchString(i.Permissions) {
		errs = append(errs, ValidationError{
			Field:   "ipc.permissions",
			Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
		})
	}

	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections must be at least 1",
		})
	}

	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	if i.MaxTrackedEditors < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_tracked_editors",
			Message: "must track at least 1 editor",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors
	if s.Enabled && s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: "database path is required when storage is enabled",
		})
	}
	if s.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.retention_days",
			Message: "retention must not be negative",
		})
	}
	return errs
}

func validateRegistry(r *RegistryConfig) ValidationErrors {
	var errs ValidationErrors
	if _, err := ime.ParseBackend(r.Backend); err != nil {
		errs = append(errs, ValidationError{Field: "registry.backend", Message: err.Error()})
	}
	if r.CallTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "registry.call_timeout_ms",
			Message: "timeout must not be negative",
		})
	}
	return errs
}

// sortErrors orders errors built from map iteration by field.
func sortErrors(errs ValidationErrors) {
	slices.SortFunc(errs, func(a, b ValidationError) int {
		return strings.Compare(a.Field, b.Field)
	})
}
