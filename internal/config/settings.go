package config

import (
	"slices"
	"time"

	"smartim/internal/scenario"
)

// Settings is the immutable view of a configuration handed to each switch
// cycle. A reload produces a new value; existing values never change.
type Settings struct {
	Enabled       bool
	Debounce      time.Duration
	NativeIM      string
	LatinIM       string
	LeaveMode     scenario.Target
	NativeColor   string
	LatinColor    string
	CapsLockColor string
	CallTimeout   time.Duration

	scenarios   ScenariosConfig
	toolWindows []string
}

// Settings builds the snapshot for c.
func (c *Config) Settings() Settings {
	return Settings{
		Enabled:       c.General.Enabled,
		Debounce:      time.Duration(c.General.DebounceMs) * time.Millisecond,
		NativeIM:      c.General.NativeIM,
		LatinIM:       c.General.LatinIM,
		LeaveMode:     c.General.LeaveMode,
		NativeColor:   c.General.NativeColor,
		LatinColor:    c.General.LatinColor,
		CapsLockColor: c.General.CapsLockColor,
		CallTimeout:   time.Duration(c.Registry.CallTimeoutMs) * time.Millisecond,
		scenarios:     c.Scenarios,
		toolWindows:   slices.Clone(c.ToolWindows.Latin),
	}
}

// DefaultSettings is the snapshot of DefaultConfig.
func DefaultSettings() Settings {
	return DefaultConfig().Settings()
}

// Scenario returns the scenario configured for bucket b.
func (s Settings) Scenario(b scenario.Bucket) scenario.Config {
	return s.scenarios.Bucket(b)
}

// IsLatinToolWindow reports whether activating tool window id switches to
// the Latin default.
func (s Settings) IsLatinToolWindow(id string) bool {
	return slices.Contains(s.toolWindows, id)
}

// ToolWindows returns a copy of the Latin tool window ids.
func (s Settings) ToolWindows() []string {
	return slices.Clone(s.toolWindows)
}
