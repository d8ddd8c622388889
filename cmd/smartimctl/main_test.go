package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartim/internal/engine"
	"smartim/internal/health"
	"smartim/internal/ipc"
	"smartim/internal/scenario"
	"smartim/internal/store"
	"smartim/internal/switcher"
	"smartim/internal/tracker"
)

// fakeDaemon answers requests with canned responses.
func fakeDaemon(ctx context.Context, _ *ipc.Client, msg *ipc.Message) (*ipc.Message, error) {
	id := msg.Header.RequestID
	switch msg.Header.Type {
	case ipc.MsgStatusRequest:
		var req ipc.StatusRequest
		if err := ipc.Decode(msg.Payload, &req); err != nil {
			return nil, err
		}
		var editors []tracker.EditorState
		if req.IncludeEditors {
			editors = []tracker.EditorState{
				{ID: "Main.java", State: "idle"},
				{ID: "build.gradle.kts", State: "pending", Deadline: time.Now().Add(300 * time.Millisecond)},
			}
		}
		return ipc.NewResponse(ipc.MsgStatusResponse, id, &ipc.StatusResponse{
			EditorList: editors,
			Version:  "1.4.0",
			Enabled:  true,
			NativeIM: "搜狗拼音",
			LatinIM:  "ABC",
			Backend:  "ibus",
			Cached:   "ABC",
			Editors:  2,
			Counters: map[string]uint64{"cycles": 7, "cache_hits": 5},
		})
	case ipc.MsgListSources:
		return ipc.NewResponse(ipc.MsgListSourcesResp, id, &ipc.ListSourcesResponse{
			Sources:  []string{"搜狗拼音", "ABC", "xkb:de::ger"},
			Cached:   "ABC",
			NativeIM: "搜狗拼音",
			LatinIM:  "ABC",
		})
	case ipc.MsgSwitch:
		var req ipc.SwitchRequest
		if err := ipc.Decode(msg.Payload, &req); err != nil {
			return nil, err
		}
		out := engine.Outcome{
			Trigger:  engine.TriggerManual,
			Target:   scenario.ParseTarget(req.Target),
			Resolved: req.Target,
			Path:     switcher.PathPrimary,
			OK:       true,
			Duration: 3 * time.Millisecond,
		}
		if req.Target == "missing" {
			out.Path = switcher.PathFailed
			out.OK = false
			out.Error = "input source not found: missing"
		}
		return ipc.NewResponse(ipc.MsgSwitchResp, id, &ipc.OutcomeResponse{Outcome: out})
	case ipc.MsgHistory:
		return ipc.NewResponse(ipc.MsgHistoryResp, id, &ipc.HistoryResponse{
			Events: []store.SwitchEvent{{
				ID:        1,
				Timestamp: time.Now(),
				EditorID:  "Main.java",
				Trigger:   "cursor",
				Kind:      "single_line_comment",
				Target:    "default_native",
				Resolved:  "搜狗拼音",
				Path:      "primary",
				OK:        true,
			}},
			Counts: []store.PathCount{{Path: "primary", Count: 1}},
		})
	case ipc.MsgHealthRequest:
		return ipc.NewResponse(ipc.MsgHealthResponse, id, &health.Report{
			Status: health.StatusUnhealthy,
			Components: map[string]health.Result{
				"registry": {Status: health.StatusUnhealthy, Message: "cannot list input sources", Error: "no session bus"},
				"history":  {Status: health.StatusHealthy, Message: "history database ok"},
			},
		})
	case ipc.MsgReloadConfig:
		return ipc.NewErrorMessage(id, ipc.ErrConfigRejected, "configuration rejected, previous configuration kept"), nil
	}
	return ipc.NewErrorMessage(id, ipc.ErrInvalidRequest, "unexpected"), nil
}

func startFakeDaemon(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "smctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := ipc.DefaultServerConfig(filepath.Join(dir, "d.sock"))
	cfg.Version = "1.4.0"
	srv := ipc.NewServer(cfg, ipc.HandlerFunc(fakeDaemon))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return cfg.SocketPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatus(t *testing.T) {
	socket := startFakeDaemon(t)

	out, err := run(t, "--socket", socket, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "1.4.0")
	assert.Contains(t, out, "ibus")
	assert.Contains(t, out, "cache_hits")

	out, err = run(t, "--socket", socket, "--json", "status")
	require.NoError(t, err)
	assert.Contains(t, out, `"backend": "ibus"`)
}

func TestStatusEditors(t *testing.T) {
	socket := startFakeDaemon(t)

	out, err := run(t, "--socket", socket, "status", "--editors")
	require.NoError(t, err)

	var pendingLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "build.gradle.kts") {
			pendingLine = line
		}
	}
	assert.Contains(t, out, "Main.java")
	assert.Contains(t, pendingLine, "pending")
	assert.Regexp(t, `\d{2}:\d{2}:\d{2}\.\d{3}`, pendingLine)

	out, err = run(t, "--socket", socket, "status")
	require.NoError(t, err)
	assert.NotContains(t, out, "build.gradle.kts")
}

func TestSources(t *testing.T) {
	socket := startFakeDaemon(t)

	out, err := run(t, "--socket", socket, "sources")
	require.NoError(t, err)

	var abcLine string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "ABC") {
			abcLine = line
		}
	}
	assert.Contains(t, abcLine, "latin")
	assert.Contains(t, abcLine, "*")
	assert.Contains(t, out, "xkb:de::ger")
}

func TestSwitch(t *testing.T) {
	socket := startFakeDaemon(t)

	out, err := run(t, "--socket", socket, "switch", "ABC")
	require.NoError(t, err)
	assert.Contains(t, out, "ABC (primary")

	_, err = run(t, "--socket", socket, "switch", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input source not found")

	_, err = run(t, "--socket", socket, "switch")
	assert.Error(t, err, "target argument is required")
}

func TestHistory(t *testing.T) {
	socket := startFakeDaemon(t)

	out, err := run(t, "--socket", socket, "history", "--limit", "5", "--since", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Main.java")
	assert.Contains(t, out, "single_line_comment")
	assert.Contains(t, out, "搜狗拼音")
}

func TestHealth(t *testing.T) {
	socket := startFakeDaemon(t)

	out, err := run(t, "--socket", socket, "health")
	require.Error(t, err)
	assert.Contains(t, out, "Overall: unhealthy")
	assert.Contains(t, out, "cannot list input sources: no session bus")
	assert.Contains(t, out, "history database ok")
}

func TestReloadRejected(t *testing.T) {
	socket := startFakeDaemon(t)

	_, err := run(t, "--socket", socket, "reload")
	var errResp *ipc.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Equal(t, ipc.ErrConfigRejected, errResp.Code)
}

func TestDaemonNotRunning(t *testing.T) {
	dir, err := os.MkdirTemp("", "smctl")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	_, err = run(t, "--socket", filepath.Join(dir, "none.sock"), "status")
	require.ErrorIs(t, err, ipc.ErrDaemonNotRunning)
	assert.Contains(t, err.Error(), "smartimd start")

	out, err := run(t, "--socket", filepath.Join(dir, "none.sock"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SMARTIM_DIR", dir)
	path := filepath.Join(dir, "config.toml")

	out, err := run(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")
	_, err = run(t, "--config", path, "config", "init")
	assert.Error(t, err, "refuses to overwrite")

	out, err = run(t, "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, ": ok")

	out, err = run(t, "--config", path, "config", "show", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"debounce_ms": 300`)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("version = 3\n[general]\ndebounce_ms = -5\n"), 0600))
	_, err = run(t, "config", "validate", bad)
	assert.Error(t, err)
}

func TestPrintEvent(t *testing.T) {
	ev, err := ipc.NewEvent(ipc.EventSwitch, &engine.Outcome{
		EditorID: "Main.java",
		Trigger:  engine.TriggerCursor,
		Kind:     "doc_comment",
		Target:   scenario.Native(),
		Resolved: "搜狗拼音",
		Path:     switcher.PathCache,
		OK:       true,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	printEvent(&buf, ev)
	line := buf.String()
	assert.Contains(t, line, "switch Main.java cursor doc_comment -> default_native [cache] 搜狗拼音")

	ev, err = ipc.NewEvent(ipc.EventConfigRejected, &ipc.ConfigEvent{Path: "c.toml", Version: 3, Reason: "watch", Error: "bad"})
	require.NoError(t, err)
	buf.Reset()
	printEvent(&buf, ev)
	assert.Contains(t, buf.String(), "config_rejected c.toml version=3 reason=watch error: bad")
}
