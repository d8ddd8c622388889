// Package debounce coalesces cursor-move events of one editor into a single
// delayed classification cycle.
//
// A Gate is either Idle or Pending. Every event moves the deadline to
// now+delay and replaces the pending event (last write wins). Only one
// wake-up is ever scheduled: when it fires before the deadline it re-arms
// itself for the remaining interval instead of running the work.
package debounce

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	smartctx "smartim/internal/context"
)

// ErrDisposed is returned by hosts whose editor is gone.
var ErrDisposed = errors.New("editor disposed")

// State is the gate's state.
type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "idle"
}

// Event is one cursor move.
type Event struct {
	Offset   int
	Snapshot smartctx.Snapshot
	Received time.Time
}

// Host is the editor side of a gate.
type Host interface {
	// Disposed reports whether the editor has been closed.
	Disposed() bool

	// ReadAccess runs fn inside the host's read scope. The scope must be
	// released on every exit path of fn, panics included.
	ReadAccess(fn func()) error
}

// Timer is a scheduled wake-up.
type Timer interface {
	Stop() bool
}

// Scheduler provides the clock and the wake-ups of a gate.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) Now() time.Time { return time.Now() }

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on the runtime timer heap.
var RealScheduler Scheduler = realScheduler{}

// Options configures a Gate.
type Options struct {
	Name      string
	Host      Host
	Scheduler Scheduler

	// Delay is read on every event so reloaded settings apply to the next
	// move. Nil means no delay.
	Delay func() time.Duration

	// Run is the classification cycle. It executes inside the host's read
	// scope on the wake-up goroutine.
	Run func(Event)

	// OnPanic receives a panic raised by Run after the read scope has
	// been released. Nil logs the panic.
	OnPanic func(value any, info map[string]any)

	Logger *slog.Logger
}

// Gate debounces the events of one editor.
type Gate struct {
	name    string
	host    Host
	sched   Scheduler
	delay   func() time.Duration
	run     func(Event)
	onPanic func(any, map[string]any)
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	deadline time.Time
	latest   Event
	timer    Timer
	disposed bool

	// cycle serializes fired work so one editor never runs two cycles.
	cycle sync.Mutex
}

// New creates an idle gate.
func New(opts Options) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = RealScheduler
	}
	delay := opts.Delay
	if delay == nil {
		delay = func() time.Duration { return 0 }
	}
	return &Gate{
		name:    opts.Name,
		host:    opts.Host,
		sched:   sched,
		delay:   delay,
		run:     opts.Run,
		onPanic: opts.OnPanic,
		logger:  logger.With("component", "debounce", "editor", opts.Name),
	}
}

// OnCursorMoved records ev as the latest event and pushes the deadline
// out by the configured delay.
func (g *Gate) OnCursorMoved(ev Event) {
	now := g.sched.Now()
	if ev.Received.IsZero() {
		ev.Received = now
	}
	d := max(g.delay(), 0)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.disposed {
		return
	}
	g.latest = ev
	g.deadline = now.Add(d)
	if g.state == Idle {
		g.state = Pending
		g.timer = g.sched.AfterFunc(d, g.wake)
	}
}

func (g *Gate) wake() {
	g.mu.Lock()
	if g.state != Pending {
		g.mu.Unlock()
		return
	}
	if remaining := g.deadline.Sub(g.sched.Now()); remaining > 0 {
		g.timer = g.sched.AfterFunc(remaining, g.wake)
		g.mu.Unlock()
		return
	}
	ev := g.latest
	g.state = Idle
	g.latest = Event{}
	g.timer = nil
	g.mu.Unlock()

	g.fire(ev)
}

func (g *Gate) fire(ev Event) {
	g.cycle.Lock()
	defer g.cycle.Unlock()

	if g.host == nil || g.run == nil {
		return
	}
	if g.host.Disposed() {
		g.logger.Debug("editor disposed before cycle, dropping event")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			info := map[string]any{"editor": g.name, "offset": ev.Offset}
			if g.onPanic != nil {
				g.onPanic(r, info)
				return
			}
			g.logger.Error("cycle panicked", "panic", r)
		}
	}()

	err := g.host.ReadAccess(func() { g.run(ev) })
	switch {
	case errors.Is(err, ErrDisposed):
		g.logger.Debug("editor disposed during cycle")
	case err != nil:
		g.logger.Warn("read access denied", "error", err)
	}
}

// Dispose drops any pending work. Later events are ignored.
func (g *Gate) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.disposed = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.state = Idle
	g.latest = Event{}
}

// State returns the current state and, when Pending, the deadline.
func (g *Gate) State() (State, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Pending {
		return Pending, g.deadline
	}
	return Idle, time.Time{}
}

// Disposed reports whether Dispose was called.
func (g *Gate) Disposed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disposed
}

// Name returns the editor id the gate was created for.
func (g *Gate) Name() string { return g.name }
