//go:build !darwin && !linux

package ime

import (
	"context"
	"runtime"
)

// DetectBackend always reports BackendNone on unsupported platforms.
func DetectBackend() Backend {
	return BackendNone
}

func openBackend(_ context.Context, backend Backend) (Registry, error) {
	if backend == BackendNone {
		return Unsupported{}, nil
	}
	return nil, ErrUnsupported
}

func scriptInterpreter() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"sh", "-c"}
}
