// Package switcher performs idempotent input-method switches with a
// last-success cache and a role-based fallback.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smartim/internal/ime"
)

// Role tells the switcher which fallback applies when the registry cannot
// satisfy a request.
type Role int

const (
	// RoleNamed requests a user-supplied literal id. It has no fallback.
	RoleNamed Role = iota
	RoleNative
	RoleLatin
)

func (r Role) String() string {
	switch r {
	case RoleNative:
		return "native"
	case RoleLatin:
		return "latin"
	default:
		return "named"
	}
}

// Request is a concrete switch instruction. The zero value is not a valid
// request; use Keep, Native, Latin or Named.
type Request struct {
	ID   string
	Role Role
	keep bool
}

// Keep returns the sentinel request that never touches the registry.
func Keep() Request { return Request{keep: true} }

// Native requests id in the native-language role.
func Native(id string) Request { return Request{ID: id, Role: RoleNative} }

// Latin requests id in the Latin role.
func Latin(id string) Request { return Request{ID: id, Role: RoleLatin} }

// Named requests a literal id without fallback.
func Named(id string) Request { return Request{ID: id, Role: RoleNamed} }

// IsKeep reports whether r is the keep sentinel. A request without an id
// is treated the same way.
func (r Request) IsKeep() bool { return r.keep || r.ID == "" }

func (r Request) String() string {
	if r.IsKeep() {
		return "keep"
	}
	return fmt.Sprintf("%s(%s)", r.Role, r.ID)
}

// Path records how a request was satisfied.
type Path string

const (
	PathKeep     Path = "keep"
	PathCache    Path = "cache"
	PathPrimary  Path = "primary"
	PathFallback Path = "fallback"
	PathFailed   Path = "failed"
)

// Result is the detailed outcome of one Do call.
type Result struct {
	Request  Request
	Path     Path
	OK       bool
	Err      error
	Duration time.Duration
}

// Switcher owns the registry, the fallback and the cache of the last id
// the registry confirmed. All calls are serialized.
type Switcher struct {
	registry ime.Registry
	fallback ime.Fallback
	logger   *slog.Logger

	mu    sync.Mutex
	cache string
}

// New creates a Switcher. fallback may be nil, in which case every
// fallback attempt fails with ime.ErrNoFallback.
func New(registry ime.Registry, fallback ime.Fallback, logger *slog.Logger) *Switcher {
	if registry == nil {
		registry = ime.Unsupported{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Switcher{
		registry: registry,
		fallback: fallback,
		logger:   logger.With("component", "switcher"),
	}
}

// Apply switches to req and reports whether the request is now believed
// satisfied.
func (s *Switcher) Apply(ctx context.Context, req Request) bool {
	return s.Do(ctx, req).OK
}

// Do is Apply with the full outcome.
func (s *Switcher) Do(ctx context.Context, req Request) Result {
	start := time.Now()
	res := s.do(ctx, req)
	res.Request = req
	res.Duration = time.Since(start)
	return res
}

func (s *Switcher) do(ctx context.Context, req Request) Result {
	if req.IsKeep() {
		return Result{Path: PathKeep, OK: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == s.cache {
		s.logger.Debug("switch skipped, already active", "id", req.ID)
		return Result{Path: PathCache, OK: true}
	}

	err := s.activate(ctx, req.ID)
	if err == nil {
		s.cache = req.ID
		s.logger.Info("switched input source", "id", req.ID, "role", req.Role.String())
		return Result{Path: PathPrimary, OK: true}
	}

	s.logger.Warn("primary switch failed, trying fallback",
		"id", req.ID, "role", req.Role.String(), "error", err)

	if fbErr := s.runFallback(ctx, req.Role); fbErr != nil {
		s.logger.Error("switch failed", "id", req.ID, "error", errors.Join(err, fbErr))
		return Result{Path: PathFailed, Err: errors.Join(err, fbErr)}
	}
	// The script changed the active source to something the registry never
	// confirmed, so the cached id no longer describes it.
	s.cache = ""
	return Result{Path: PathFallback, OK: true, Err: err}
}

func (s *Switcher) activate(ctx context.Context, id string) error {
	sources, err := s.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list input sources: %w", err)
	}
	if !ime.Contains(sources, id) {
		return fmt.Errorf("%w: %s", ime.ErrSourceNotFound, id)
	}
	if err := s.registry.Activate(ctx, id); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	return nil
}

func (s *Switcher) runFallback(ctx context.Context, role Role) error {
	if s.fallback == nil {
		return ime.ErrNoFallback
	}
	switch role {
	case RoleNative:
		return s.fallback.ActivateNative(ctx)
	case RoleLatin:
		return s.fallback.ActivateLatin(ctx)
	default:
		// TODO: run a per-id script for named targets once settings can
		// carry one.
		return ime.ErrNoFallback
	}
}

// Cached returns the id of the last confirmed primary switch.
func (s *Switcher) Cached() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache
}

// Sources lists the registry's input sources.
func (s *Switcher) Sources(ctx context.Context) ([]string, error) {
	return s.registry.List(ctx)
}
