//go:build linux

package ime

import (
	"context"
	"os"
	"os/exec"
)

// DetectBackend determines which input method framework is running.
func DetectBackend() Backend {
	// Fcitx5 first (preferred on KDE Plasma)
	if _, err := exec.LookPath("fcitx5"); err == nil {
		return BackendFcitx5
	}
	if _, err := os.Stat("/usr/share/fcitx5"); err == nil {
		return BackendFcitx5
	}
	// IBus (most common on GNOME)
	if os.Getenv("IBUS_ADDRESS") != "" {
		return BackendIBus
	}
	if _, err := os.Stat("/usr/share/ibus/component"); err == nil {
		return BackendIBus
	}
	if _, err := exec.LookPath("ibus-daemon"); err == nil {
		return BackendIBus
	}
	return BackendNone
}

func openBackend(ctx context.Context, backend Backend) (Registry, error) {
	switch backend {
	case BackendFcitx5:
		return NewFcitx5Registry(ctx)
	case BackendIBus:
		return NewIBusRegistry(ctx)
	case BackendNone:
		return Unsupported{}, nil
	default:
		return nil, ErrUnsupported
	}
}

func scriptInterpreter() []string {
	return []string{"sh", "-c"}
}
