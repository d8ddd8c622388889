package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"smartim/internal/config"
	"smartim/internal/health"
	"smartim/internal/ipc"
)

// writeTestConfig writes a daemon configuration that touches nothing
// outside dir: no OS registry, no fallback scripts.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()

	// Unix socket paths are limited to about 104 bytes.
	sockDir, err := os.MkdirTemp("", "smimd")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	cfg := config.DefaultConfig()
	cfg.General.DebounceMs = 0
	cfg.General.NativeScript = ""
	cfg.General.LatinScript = ""
	cfg.Registry.Backend = "none"
	cfg.Logging.FilePath = filepath.Join(dir, "logs", "smartimd.log")
	cfg.Storage.Path = filepath.Join(dir, "history.db")
	cfg.IPC.SocketPath = filepath.Join(sockDir, "d.sock")

	path := filepath.Join(dir, "config.toml")
	if err := config.SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	return path
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ipc.IsSocketListening(path) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("daemon never listened on %s", path)
}

func TestDaemonLifecycle(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SMARTIM_DIR", dir)
	cfgPath := writeTestConfig(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := NewDaemon(ctx, cfgPath, "test")
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	socket := d.server.SocketPath()
	waitForSocket(t, socket)

	client := ipc.NewClient(ipc.DefaultClientConfig(socket))
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	status, err := client.Status(ctx, false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Version != "test" {
		t.Errorf("expected version test, got %q", status.Version)
	}
	if status.Backend != "none" {
		t.Errorf("expected backend none, got %q", status.Backend)
	}
	if status.ConfigPath != cfgPath {
		t.Errorf("expected config path %s, got %s", cfgPath, status.ConfigPath)
	}

	report, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if report.Status != health.StatusUnhealthy {
		t.Errorf("expected unhealthy without a registry, got %s", report.Status)
	}
	if got := report.Components["history"].Status; got != health.StatusHealthy {
		t.Errorf("expected healthy history database, got %s", got)
	}

	// Nothing can switch without a registry or scripts; the failure is
	// still reported and recorded.
	out, err := client.Switch(ctx, "default_native")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if out.OK {
		t.Error("expected switch to fail without a registry")
	}
	if out.Path != "failed" {
		t.Errorf("expected path failed, got %s", out.Path)
	}

	history, err := client.History(ctx, ipc.HistoryRequest{Limit: 10})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history.Events) != 1 {
		t.Fatalf("expected 1 history event, got %d", len(history.Events))
	}
	if history.Events[0].Trigger != "manual" {
		t.Errorf("expected manual trigger, got %s", history.Events[0].Trigger)
	}

	snaps, err := d.history.ConfigHistory(ctx, 10)
	if err != nil {
		t.Fatalf("ConfigHistory: %v", err)
	}
	if len(snaps) == 0 || snaps[0].Reason != "startup" {
		t.Errorf("expected a startup config snapshot, got %+v", snaps)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	if ipc.IsSocketListening(socket) {
		t.Error("socket still listening after shutdown")
	}
}

func TestDaemonRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SMARTIM_DIR", dir)

	cfg := config.DefaultConfig()
	cfg.Registry.Backend = "xkb"
	cfg.Logging.FilePath = filepath.Join(dir, "smartimd.log")
	cfg.Storage.Path = filepath.Join(dir, "history.db")
	path := filepath.Join(dir, "config.toml")
	if err := config.SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	if _, err := NewDaemon(context.Background(), path, "test"); err == nil {
		t.Fatal("expected unknown backend to be rejected")
	}
}
