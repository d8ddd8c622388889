// Package store provides SQLite-based switch history for smartim.
package store

import "time"

// SwitchEvent is one recorded cycle outcome.
type SwitchEvent struct {
	ID        int64         `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	EditorID  string        `json:"editor_id,omitempty"`
	Trigger   string        `json:"trigger"`
	Language  string        `json:"language,omitempty"`
	Bucket    string        `json:"bucket,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Target    string        `json:"target"`
	Resolved  string        `json:"resolved,omitempty"`
	Role      string        `json:"role,omitempty"`
	Path      string        `json:"path"`
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Query filters RecentSwitches.
type Query struct {
	EditorID string
	Path     string
	Since    time.Time
	Limit    int
}

// PathCount is the number of events recorded for one switch path.
type PathCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// ConfigSnapshot records one configuration load or reload.
type ConfigSnapshot struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Version    int       `json:"version"`
	Path       string    `json:"path"`
	ConfigHash string    `json:"config_hash"`
	ConfigData string    `json:"-"`
	Reason     string    `json:"reason"`
	Accepted   bool      `json:"accepted"`
	Error      string    `json:"error,omitempty"`
}
