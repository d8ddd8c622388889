package ime

import (
	"context"
	"fmt"
	"strings"
)

// Backend selects the input-source registry implementation.
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendIBus   Backend = "ibus"
	BackendFcitx5 Backend = "fcitx5"
	BackendMacOS  Backend = "macos"
	BackendNone   Backend = "none"
)

// ParseBackend validates a backend name. The empty string means auto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendIBus, BackendFcitx5, BackendMacOS, BackendNone:
		return b, nil
	default:
		return "", fmt.Errorf("unknown registry backend %q", s)
	}
}

// Open connects to the registry for backend. BackendAuto picks the one
// available on this machine. Callers should Close the result when it
// implements io.Closer.
func Open(ctx context.Context, backend Backend) (Registry, error) {
	if backend == BackendNone {
		return Unsupported{}, nil
	}
	if backend == BackendAuto {
		backend = DetectBackend()
	}
	reg, err := openBackend(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("open %s registry: %w", backend, err)
	}
	return reg, nil
}
