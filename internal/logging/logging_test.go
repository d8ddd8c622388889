package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"smartim/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for level, want := range map[Level]string{
		LevelDebug: "debug",
		LevelInfo:  "info",
		LevelWarn:  "warn",
		LevelError: "error",
	} {
		if got := LevelString(level); got != want {
			t.Errorf("LevelString(%v) = %q, want %q", level, got, want)
		}
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"DB_PASSWORD", true},
		{"native_script", true},
		{"api_key", true},
		{"keywords", false},
		{"editor", false},
		{"target", false},
	}
	for _, tt := range tests {
		if got := shouldRedact(tt.key); got != tt.want {
			t.Errorf("shouldRedact(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

// =============================================================================
// Logger output
// =============================================================================

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Writer:    &buf,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("failed to create JSON logger: %v", err)
	}

	logger.Debug("hidden")
	logger.WithComponent("switcher").Info("switched", "target", "ABC", "token", "abc123")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["msg"] != "switched" || entry["target"] != "ABC" {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["token"] != "[REDACTED]" {
		t.Errorf("token should be redacted, got %v", entry["token"])
	}
	if entry["component"] != "switcher" {
		t.Errorf("expected child component, got %v", entry["component"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelDebug, Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("cache hit", "id", "ABC")

	if !strings.Contains(buf.String(), "msg=\"cache hit\"") || !strings.Contains(buf.String(), "id=ABC") {
		t.Errorf("unexpected text output %q", buf.String())
	}
}

func TestFromSettings(t *testing.T) {
	dir := t.TempDir()
	cfg, err := FromSettings(config.LoggingConfig{
		Level:      "debug",
		Format:     "json",
		Output:     "file",
		FilePath:   filepath.Join(dir, "smartimd.log"),
		MaxSizeMB:  5,
		MaxBackups: 2,
		MaxAgeDays: 3,
	})
	if err != nil {
		t.Fatalf("FromSettings failed: %v", err)
	}
	if cfg.Level != LevelDebug || cfg.Format != FormatJSON || cfg.MaxSize != 5 || cfg.MaxBackups != 2 {
		t.Errorf("unexpected config %+v", cfg)
	}

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("started")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"started"`) {
		t.Errorf("unexpected file contents %q", data)
	}

	if _, err := FromSettings(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected error for bad level")
	}
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	SetDefault(logger)

	if Default() != logger {
		t.Error("Default should return the installed logger")
	}
}

// =============================================================================
// File rotation
// =============================================================================

func TestFileRotator(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "test.log")

	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 3})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	testData := []byte("test log line\n")
	n, err := rotator.Write(testData)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if n != len(testData) {
		t.Errorf("expected to write %d bytes, wrote %d", len(testData), n)
	}
	if err := rotator.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file was not created: %v", err)
	}
}

func TestFileRotatorRotatesBySize(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	rotator, err := NewFileRotator(&Config{FilePath: logPath, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 4; i++ {
		if _, err := rotator.Write(chunk); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	if err := rotator.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	files, err := rotator.LogFiles()
	if err != nil {
		t.Fatalf("LogFiles failed: %v", err)
	}
	// Three rotations happened; MaxBackups keeps two of them.
	if len(files) != 3 {
		t.Errorf("expected current + 2 rotated files, got %v", files)
	}
}

func TestFileRotatorCompressesAndRotatesDaily(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	rotator, err := NewFileRotator(&Config{FilePath: logPath, Compress: true, MaxBackups: 5})
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	rotator.now = func() time.Time { return day }
	rotator.opened = day

	rotator.Write([]byte("before midnight\n"))
	day = day.Add(2 * time.Minute)
	rotator.Write([]byte("after midnight\n"))
	if err := rotator.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	gz, _ := filepath.Glob(filepath.Join(filepath.Dir(logPath), "test-*.log.gz"))
	if len(gz) != 1 {
		t.Fatalf("expected 1 compressed file, got %v", gz)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("current log missing: %v", err)
	}
	if string(data) != "after midnight\n" {
		t.Errorf("unexpected current log %q", data)
	}
}

// =============================================================================
// Crash handling
// =============================================================================

func TestCrashHandlerRecover(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(&Config{Level: LevelInfo, Writer: &buf})

	var got []CrashReport
	handler := NewCrashHandler(&CrashHandlerConfig{
		Dir:       t.TempDir(),
		Component: "gate",
		Logger:    logger.Logger,
		OnCrash:   func(r CrashReport) { got = append(got, r) },
	})

	panicked := handler.Recover(map[string]any{"editor": "ed-1"}, func() {
		panic("classifier blew up")
	})
	if !panicked {
		t.Fatal("Recover should report the panic")
	}
	if handler.Recover(nil, func() {}) {
		t.Error("Recover should report no panic for a clean run")
	}

	if len(got) != 1 || got[0].PanicValue != "classifier blew up" || got[0].Component != "gate" {
		t.Fatalf("unexpected reports %+v", got)
	}
	if !strings.Contains(buf.String(), "recovered panic") {
		t.Error("panic should be logged")
	}

	reports, err := handler.Reports()
	if err != nil {
		t.Fatalf("Reports failed: %v", err)
	}
	if len(reports) != 1 || reports[0].Context["editor"] != "ed-1" {
		t.Errorf("unexpected stored reports %+v", reports)
	}
}

func TestCrashHandlerCleanupOld(t *testing.T) {
	dir := t.TempDir()
	handler := NewCrashHandler(&CrashHandlerConfig{Dir: dir, Component: "test"})

	for i := 0; i < 3; i++ {
		handler.HandlePanic("test panic", nil)
	}
	reports, _ := handler.Reports()
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}

	old := time.Now().Add(-48 * time.Hour)
	files, _ := filepath.Glob(filepath.Join(dir, "crash-*.json"))
	if err := os.Chtimes(files[0], old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	removed, err := handler.CleanupOld(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanupOld failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed report, got %d", removed)
	}
}

func TestCrashHandlerWithoutDir(t *testing.T) {
	handler := NewCrashHandler(nil)
	handler.HandlePanic("boom", nil)

	reports, err := handler.Reports()
	if err != nil || reports != nil {
		t.Errorf("expected no stored reports, got %v, %v", reports, err)
	}
}
