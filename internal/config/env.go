package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// envFileVars records the variables a previous LoadEnvFile set and the
// value it set them to.
var (
	envFileMu   sync.Mutex
	envFileVars = map[string]string{}
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// before SMARTIM_* overrides are read. A missing file is not an error.
//
// Variables set by the real environment win. Variables the file supplied
// earlier follow the file on every call: edited values are updated and
// removed lines are unset, so a hot reload sees the current file. A
// variable changed by someone else since is left alone.
func LoadEnvFile(path string) error {
	vals, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		vals = nil
	}

	envFileMu.Lock()
	defer envFileMu.Unlock()

	for key, set := range envFileVars {
		if cur, ok := os.LookupEnv(key); !ok || cur != set {
			delete(envFileVars, key)
		}
	}

	for key, val := range vals {
		if _, owned := envFileVars[key]; !owned {
			if _, exists := os.LookupEnv(key); exists {
				continue
			}
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set %s from env file: %w", key, err)
		}
		envFileVars[key] = val
	}

	for key := range envFileVars {
		if _, ok := vals[key]; !ok {
			os.Unsetenv(key)
			delete(envFileVars, key)
		}
	}
	return nil
}
