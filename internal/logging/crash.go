package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// CrashReport describes a recovered panic.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	NumGoroutine int            `json:"num_goroutine"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Component    string         `json:"component,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandlerConfig configures a CrashHandler.
type CrashHandlerConfig struct {
	// Dir receives one JSON file per recovered panic. Empty disables dumps.
	Dir string

	Component string
	Logger    *slog.Logger

	// OnCrash is called after the report is logged and written.
	OnCrash func(CrashReport)
}

// CrashHandler turns panics in background goroutines into logged reports.
// The daemon keeps running; only the panicking cycle is lost.
type CrashHandler struct {
	mu      sync.Mutex
	dir     string
	comp    string
	logger  *slog.Logger
	onCrash func(CrashReport)
	seq     atomic.Uint64
}

// DefaultCrashDir returns the crash dump directory under dataDir.
func DefaultCrashDir(dataDir string) string {
	return filepath.Join(dataDir, "crashes")
}

// NewCrashHandler creates a CrashHandler. A nil cfg logs only.
func NewCrashHandler(cfg *CrashHandlerConfig) *CrashHandler {
	if cfg == nil {
		cfg = &CrashHandlerConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir != "" {
		os.MkdirAll(cfg.Dir, 0750)
	}
	return &CrashHandler{
		dir:     cfg.Dir,
		comp:    cfg.Component,
		logger:  logger.With("component", "crash"),
		onCrash: cfg.OnCrash,
	}
}

// Recover runs fn and reports a panic instead of propagating it. It
// returns true when fn panicked.
func (h *CrashHandler) Recover(contextInfo map[string]any, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			h.HandlePanic(r, contextInfo)
		}
	}()
	fn()
	return false
}

// HandlePanic records a recovered panic value.
func (h *CrashHandler) HandlePanic(panicValue any, contextInfo map[string]any) {
	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprintf("%v", panicValue),
		StackTrace:   string(debug.Stack()),
		Component:    h.comp,
		Context:      contextInfo,
	}

	h.logger.Error("recovered panic",
		"panic", report.PanicValue,
		"context", contextInfo,
		"stack", report.StackTrace,
	)

	if h.dir != "" {
		if err := h.writeCrashDump(report); err != nil {
			h.logger.Warn("crash dump not written", "error", err)
		}
	}
	if h.onCrash != nil {
		h.onCrash(report)
	}
}

func (h *CrashHandler) writeCrashDump(report CrashReport) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	name := fmt.Sprintf("crash-%s-%s-%d.json",
		report.Component, report.Timestamp.Format("20060102-150405"), h.seq.Add(1))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(h.dir, name), data, 0640); err != nil {
		return fmt.Errorf("write crash report: %w", err)
	}
	return nil
}

// Reports returns the crash reports stored in the dump directory.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	if h.dir == "" {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// CleanupOld removes dumps older than maxAge and returns how many went.
func (h *CrashHandler) CleanupOld(maxAge time.Duration) (int, error) {
	if h.dir == "" {
		return 0, nil
	}
	files, err := filepath.Glob(filepath.Join(h.dir, "crash-*.json"))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) && os.Remove(file) == nil {
			removed++
		}
	}
	return removed, nil
}
