// Package engine binds scenario targets to concrete input sources and runs
// the classify, resolve, decide and switch cycle for editor events.
package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"smartim/internal/config"
	smartctx "smartim/internal/context"
	"smartim/internal/metrics"
	"smartim/internal/scenario"
	"smartim/internal/store"
	"smartim/internal/switcher"
)

// Decide binds target to a switch request using the ids in settings. It is
// pure: the same inputs always produce the same request.
func Decide(target scenario.Target, settings config.Settings) switcher.Request {
	switch target.Mode {
	case scenario.DefaultNative:
		return switcher.Native(settings.NativeIM)
	case scenario.DefaultLatin:
		return switcher.Latin(settings.LatinIM)
	case scenario.KeepCurrent:
		return switcher.Keep()
	}

	switch target.Name {
	case "":
		return switcher.Keep()
	case settings.NativeIM:
		return switcher.Native(target.Name)
	case settings.LatinIM:
		return switcher.Latin(target.Name)
	default:
		return switcher.Named(target.Name)
	}
}

// Trigger identifies what started a cycle.
type Trigger string

const (
	TriggerCursor     Trigger = "cursor"
	TriggerFocusLost  Trigger = "focus_lost"
	TriggerToolWindow Trigger = "tool_window"
	TriggerManual     Trigger = "manual"
)

// Outcome describes one finished cycle.
type Outcome struct {
	Timestamp  time.Time       `json:"timestamp"`
	EditorID   string          `json:"editor_id,omitempty"`
	Trigger    Trigger         `json:"trigger"`
	Language   string          `json:"language,omitempty"`
	Bucket     scenario.Bucket `json:"bucket,omitempty"`
	Kind       smartctx.Kind   `json:"kind,omitempty"`
	Target     scenario.Target `json:"target"`
	Resolved   string          `json:"resolved,omitempty"`
	Role       string          `json:"role,omitempty"`
	Path       switcher.Path   `json:"path,omitempty"`
	OK         bool            `json:"ok"`
	Error      string          `json:"error,omitempty"`
	CaretColor string          `json:"caret_color,omitempty"`
	Duration   time.Duration   `json:"duration"`

	// Disabled is set when switching is turned off; nothing else ran.
	Disabled bool `json:"disabled,omitempty"`

	Err error `json:"-"`
}

// History receives every outcome that reached the switcher.
type History interface {
	AppendSwitch(ctx context.Context, e store.SwitchEvent) (int64, error)
}

// Options configures an Engine.
type Options struct {
	// Settings returns the snapshot for the next cycle.
	Settings func() config.Settings

	Switcher *switcher.Switcher
	History  History
	Metrics  *metrics.SwitchMetrics
	Logger   *slog.Logger

	// OnOutcome observes every finished cycle, disabled ones included.
	OnOutcome func(Outcome)
}

// Engine runs switch cycles. It is safe for concurrent use; the switcher
// serializes the actual switches.
type Engine struct {
	settings  func() config.Settings
	sw        *switcher.Switcher
	history   History
	metrics   *metrics.SwitchMetrics
	logger    *slog.Logger
	onOutcome func(Outcome)
	now       func() time.Time
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settings := opts.Settings
	if settings == nil {
		settings = config.DefaultSettings
	}
	sw := opts.Switcher
	if sw == nil {
		sw = switcher.New(nil, nil, logger)
	}
	return &Engine{
		settings:  settings,
		sw:        sw,
		history:   opts.History,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "engine"),
		onOutcome: opts.OnOutcome,
		now:       time.Now,
	}
}

// Switcher returns the engine's switcher.
func (e *Engine) Switcher() *switcher.Switcher { return e.sw }

// Settings returns the snapshot the next cycle would use.
func (e *Engine) Settings() config.Settings { return e.settings() }

// Cycle classifies the caret of an editor and switches accordingly. snap
// must only be read inside the host's read scope, which is where the
// debounce gate calls this.
func (e *Engine) Cycle(ctx context.Context, editorID string, snap smartctx.Snapshot, offset int) Outcome {
	settings := e.settings()
	out := Outcome{EditorID: editorID, Trigger: TriggerCursor}
	if !settings.Enabled {
		return e.disabled(out)
	}
	if snap == nil {
		snap = &smartctx.StaticSnapshot{}
	}

	kind := smartctx.Classify(snap, offset)
	out.Language = snap.Language()
	out.Bucket = scenario.BucketFor(out.Language)
	cfg := settings.Scenario(out.Bucket)
	line := snap.LineTextBefore(offset)

	out.Target = scenario.Resolve(kind, cfg, line)
	if kind == smartctx.Code && scenario.MatchKeyword(cfg.Keywords(), line) {
		kind = smartctx.CustomKeywordHit
	}
	out.Kind = kind

	return e.apply(ctx, settings, out)
}

// Leave applies the leave mode when the host application loses focus.
func (e *Engine) Leave(ctx context.Context) Outcome {
	settings := e.settings()
	out := Outcome{Trigger: TriggerFocusLost, Target: settings.LeaveMode}
	if !settings.Enabled {
		return e.disabled(out)
	}
	return e.apply(ctx, settings, out)
}

// ToolWindow switches to the Latin default when id is one of the configured
// Latin tool windows. Other tool windows keep the current input method.
func (e *Engine) ToolWindow(ctx context.Context, id string) Outcome {
	settings := e.settings()
	out := Outcome{EditorID: id, Trigger: TriggerToolWindow, Target: scenario.Keep()}
	if !settings.Enabled {
		return e.disabled(out)
	}
	if settings.IsLatinToolWindow(id) {
		out.Target = scenario.Latin()
	}
	return e.apply(ctx, settings, out)
}

// Switch applies target directly, bypassing classification. It still
// honors the enabled flag.
func (e *Engine) Switch(ctx context.Context, target scenario.Target) Outcome {
	settings := e.settings()
	out := Outcome{Trigger: TriggerManual, Target: target}
	if !settings.Enabled {
		return e.disabled(out)
	}
	return e.apply(ctx, settings, out)
}

func (e *Engine) disabled(out Outcome) Outcome {
	out.Timestamp = e.now()
	out.Disabled = true
	e.logger.Debug("switching disabled, cycle skipped", "trigger", out.Trigger)
	if e.onOutcome != nil {
		e.onOutcome(out)
	}
	return out
}

func (e *Engine) apply(ctx context.Context, settings config.Settings, out Outcome) Outcome {
	out.Timestamp = e.now()
	req := Decide(out.Target, settings)
	if !req.IsKeep() {
		out.Resolved = req.ID
		out.Role = req.Role.String()
	}

	callCtx := ctx
	if settings.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, settings.CallTimeout)
		defer cancel()
	}
	res := e.sw.Do(callCtx, req)

	out.Path = res.Path
	out.OK = res.OK
	out.Err = res.Err
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	out.Duration = res.Duration

	active := out.Resolved
	if active == "" {
		active = e.sw.Cached()
	}
	out.CaretColor = CaretColor(active, settings)

	e.logger.Info("cycle finished",
		"trigger", out.Trigger,
		"editor", out.EditorID,
		"kind", out.Kind,
		"target", out.Target.String(),
		"path", out.Path,
		"ok", out.OK,
	)

	if e.metrics != nil {
		e.metrics.RecordPath(string(out.Path), out.Duration)
	}
	e.record(ctx, out)
	if e.onOutcome != nil {
		e.onOutcome(out)
	}
	return out
}

func (e *Engine) record(ctx context.Context, out Outcome) {
	if e.history == nil {
		return
	}
	_, err := e.history.AppendSwitch(ctx, store.SwitchEvent{
		Timestamp: out.Timestamp,
		EditorID:  out.EditorID,
		Trigger:   string(out.Trigger),
		Language:  out.Language,
		Bucket:    string(out.Bucket),
		Kind:      string(out.Kind),
		Target:    out.Target.String(),
		Resolved:  out.Resolved,
		Role:      out.Role,
		Path:      string(out.Path),
		OK:        out.OK,
		Error:     out.Error,
		Duration:  out.Duration,
	})
	if err != nil {
		e.logger.Warn("switch history not recorded", "error", err)
	}
}

// nativeMarkers identify native-language input sources by name when the id
// is not the configured native one.
var nativeMarkers = []string{"拼音", "输入法", "Pinyin"}

// CaretColor returns the caret color hint for the active input source id.
// An empty id yields no hint.
func CaretColor(id string, settings config.Settings) string {
	if id == "" {
		return ""
	}
	if id == settings.NativeIM {
		return settings.NativeColor
	}
	for _, m := range nativeMarkers {
		if strings.Contains(id, m) {
			return settings.NativeColor
		}
	}
	return settings.LatinColor
}
