// Package tracker keeps one debounce gate per editor reported by the
// plugins and bounds how many editors are tracked at once.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	smartctx "smartim/internal/context"
	"smartim/internal/debounce"
	"smartim/internal/engine"
	"smartim/internal/metrics"
)

// DefaultSize bounds the editor table when Options.Size is zero.
const DefaultSize = 64

// Options configures a Tracker.
type Options struct {
	Size      int
	Engine    *engine.Engine
	Scheduler debounce.Scheduler
	Metrics   *metrics.SwitchMetrics
	Logger    *slog.Logger

	// OnPanic receives panics raised by a cycle.
	OnPanic func(value any, info map[string]any)
}

// editor is the daemon-side host of one plugin editor. Snapshots arrive as
// plain data, so the read scope only has to exclude disposal. Closing never
// waits for a cycle that is already running.
type editor struct {
	closed atomic.Bool
}

func (e *editor) Disposed() bool {
	return e.closed.Load()
}

func (e *editor) ReadAccess(fn func()) error {
	if e.closed.Load() {
		return debounce.ErrDisposed
	}
	fn()
	return nil
}

func (e *editor) close() {
	e.closed.Store(true)
}

type entry struct {
	host *editor
	gate *debounce.Gate
}

// Tracker maps editor ids to their gates. The least recently active editor
// is disposed when the table is full.
type Tracker struct {
	ctx     context.Context
	engine  *engine.Engine
	sched   debounce.Scheduler
	metrics *metrics.SwitchMetrics
	onPanic func(any, map[string]any)
	logger  *slog.Logger

	mu    sync.Mutex
	gates *lru.Cache[string, *entry]
}

// New creates a Tracker. Cycles run with ctx; cancelling it aborts
// in-flight registry calls.
func New(ctx context.Context, opts Options) (*Tracker, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("tracker requires an engine")
	}
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		ctx:     ctx,
		engine:  opts.Engine,
		sched:   opts.Scheduler,
		metrics: opts.Metrics,
		onPanic: opts.OnPanic,
		logger:  logger.With("component", "tracker"),
	}
	gates, err := lru.NewWithEvict[string, *entry](size, t.evicted)
	if err != nil {
		return nil, fmt.Errorf("create editor table: %w", err)
	}
	t.gates = gates
	return t, nil
}

func (t *Tracker) evicted(id string, e *entry) {
	e.gate.Dispose()
	e.host.close()
	t.logger.Debug("editor released", "editor", id)
}

func (t *Tracker) updateGauge() {
	if t.metrics != nil {
		t.metrics.TrackedEditors.Set(int64(t.gates.Len()))
	}
}

// CursorMoved feeds a caret snapshot of editor id into its gate, creating
// the gate on first use.
func (t *Tracker) CursorMoved(id string, snap *smartctx.StaticSnapshot) {
	if snap == nil {
		return
	}
	t.gate(id).OnCursorMoved(debounce.Event{Offset: snap.Offset, Snapshot: snap})
}

func (t *Tracker) gate(id string) *debounce.Gate {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.gates.Get(id); ok {
		return e.gate
	}

	host := &editor{}
	gate := debounce.New(debounce.Options{
		Name:      id,
		Host:      host,
		Scheduler: t.sched,
		Delay:     func() time.Duration { return t.engine.Settings().Debounce },
		Run: func(ev debounce.Event) {
			t.engine.Cycle(t.ctx, id, ev.Snapshot, ev.Offset)
		},
		OnPanic: t.onPanic,
		Logger:  t.logger,
	})
	if t.gates.Add(id, &entry{host: host, gate: gate}) {
		t.logger.Info("editor table full, least recent editor evicted")
	}
	t.updateGauge()
	return gate
}

// Close disposes the gate of editor id and drops any pending cycle. It
// reports whether the editor was tracked.
func (t *Tracker) Close(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ok := t.gates.Remove(id)
	t.updateGauge()
	return ok
}

// CloseAll disposes every gate.
func (t *Tracker) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gates.Purge()
	t.updateGauge()
}

// Len returns the number of tracked editors.
func (t *Tracker) Len() int {
	return t.gates.Len()
}

// EditorState describes one tracked editor.
type EditorState struct {
	ID       string    `json:"id"`
	State    string    `json:"state"`
	Deadline time.Time `json:"deadline,omitzero"`
}

// Editors lists tracked editors from least to most recently active.
func (t *Tracker) Editors() []EditorState {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.gates.Keys()
	out := make([]EditorState, 0, len(keys))
	for _, id := range keys {
		e, ok := t.gates.Peek(id)
		if !ok {
			continue
		}
		state, deadline := e.gate.State()
		out = append(out, EditorState{ID: id, State: state.String(), Deadline: deadline})
	}
	return out
}
