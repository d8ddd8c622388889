package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Changes     []string
}

// MigrateConfig upgrades cfg in memory to the current version. The file on
// disk is left alone. Returns nil when cfg is already current.
//
// Targets written with the legacy labels (默认中文, 默认英文, 保持现状,
// 中文, 英文) decode at every version, so no step rewrites them.
func MigrateConfig(cfg *Config) *MigrationResult {
	if cfg.Version >= Version || cfg.Version < 1 {
		return nil
	}

	result := &MigrationResult{FromVersion: cfg.Version, ToVersion: Version}
	for cfg.Version < Version {
		switch cfg.Version {
		case 1:
			result.Changes = append(result.Changes, migrateV1ToV2(cfg)...)
		case 2:
			result.Changes = append(result.Changes, migrateV2ToV3(cfg)...)
		}
		cfg.Version++
	}
	return result
}

// migrateV1ToV2 adds tool windows.
func migrateV1ToV2(cfg *Config) (changes []string) {
	if cfg.ToolWindows.Latin == nil {
		cfg.ToolWindows.Latin = []string{"Terminal", "Project"}
		changes = append(changes, "set default tool_windows.latin")
	}
	return changes
}

// migrateV2ToV3 adds the registry section and the editor bound.
func migrateV2ToV3(cfg *Config) (changes []string) {
	if cfg.Registry.Backend == "" {
		cfg.Registry.Backend = "auto"
		changes = append(changes, "set registry.backend = auto")
	}
	if cfg.Registry.CallTimeoutMs == 0 {
		cfg.Registry.CallTimeoutMs = 2000
		changes = append(changes, "set default registry.call_timeout_ms")
	}
	if cfg.IPC.MaxTrackedEditors == 0 {
		cfg.IPC.MaxTrackedEditors = 64
		changes = append(changes, "set default ipc.max_tracked_editors")
	}
	return changes
}

// SaveConfig saves the configuration to a file.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders cfg in the format named by ext (".toml", ".json",
// ".yaml", ".yml"). Anything else is TOML.
func Encode(cfg *Config, ext string) ([]byte, error) {
	switch ext {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		buf.WriteString("# smartim configuration\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}
