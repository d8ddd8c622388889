package scenario

import (
	"strings"
)

// Mode distinguishes symbolic targets from literal input-source names.
type Mode int

const (
	// Literal names a concrete input source, passed through unchanged.
	Literal Mode = iota
	DefaultNative
	DefaultLatin
	KeepCurrent
)

// Canonical spellings written back to configuration files.
const (
	nativeLabel = "default_native"
	latinLabel  = "default_latin"
	keepLabel   = "keep_current"
)

// Target is the outcome of scenario resolution: a symbolic choice or a
// concrete input-source name.
type Target struct {
	Mode Mode
	Name string
}

// Native returns the symbolic native-language target.
func Native() Target { return Target{Mode: DefaultNative} }

// Latin returns the symbolic Latin target.
func Latin() Target { return Target{Mode: DefaultLatin} }

// Keep returns the "leave the input method alone" target.
func Keep() Target { return Target{Mode: KeepCurrent} }

// Named returns a literal target for the given input-source id.
func Named(id string) Target { return Target{Mode: Literal, Name: id} }

// ParseTarget interprets a configuration value. Symbolic spellings, in
// English or in the labels older settings files stored, map to the
// symbolic modes; an empty value means keep; anything else is a literal
// input-source name.
func ParseTarget(s string) Target {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "", keepLabel, "keep", "保持现状":
		return Keep()
	case nativeLabel, "native", "默认中文", "中文":
		return Native()
	case latinLabel, "latin", "默认英文", "英文":
		return Latin()
	}
	return Named(trimmed)
}

// String returns the canonical spelling of t.
func (t Target) String() string {
	switch t.Mode {
	case DefaultNative:
		return nativeLabel
	case DefaultLatin:
		return latinLabel
	case KeepCurrent:
		return keepLabel
	default:
		return t.Name
	}
}

// IsSymbolic reports whether t is one of the symbolic modes.
func (t Target) IsSymbolic() bool { return t.Mode != Literal }

// MarshalText implements encoding.TextMarshaler.
func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Target) UnmarshalText(b []byte) error {
	*t = ParseTarget(string(b))
	return nil
}
