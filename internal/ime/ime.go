package ime

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// Errors
var (
	ErrSourceNotFound = errors.New("input source not found")
	ErrUnsupported    = errors.New("input source switching not supported on this platform")
	ErrNoFallback     = errors.New("no fallback configured")
)

// Registry enumerates and activates input sources by exact id.
type Registry interface {
	// List returns the ids of every selectable input source.
	List(ctx context.Context) ([]string, error)

	// Activate selects the input source with the given id.
	Activate(ctx context.Context, id string) error
}

// Fallback is the coarse switching mechanism used when the registry cannot
// satisfy a request.
type Fallback interface {
	ActivateNative(ctx context.Context) error
	ActivateLatin(ctx context.Context) error
}

// Contains reports whether id is one of the listed sources.
func Contains(sources []string, id string) bool {
	return slices.Contains(sources, id)
}

// Unsupported is the registry of platforms without a backend. Every call
// fails with ErrUnsupported.
type Unsupported struct{}

func (Unsupported) List(context.Context) ([]string, error)  { return nil, ErrUnsupported }
func (Unsupported) Activate(context.Context, string) error { return ErrUnsupported }

// StaticRegistry is an in-memory Registry with a fixed source list. Tests
// use it in place of the OS registry.
type StaticRegistry struct {
	mu          sync.Mutex
	sources     []string
	active      string
	activations int
	failing     map[string]error
}

// NewStaticRegistry returns a registry listing sources.
func NewStaticRegistry(sources ...string) *StaticRegistry {
	return &StaticRegistry{
		sources: slices.Clone(sources),
		failing: make(map[string]error),
	}
}

// List implements Registry.
func (r *StaticRegistry) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sources), nil
}

// Activate implements Registry.
func (r *StaticRegistry) Activate(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activations++
	if err, ok := r.failing[id]; ok {
		return err
	}
	if !slices.Contains(r.sources, id) {
		return ErrSourceNotFound
	}
	r.active = id
	return nil
}

// FailActivation makes activation of id return err.
func (r *StaticRegistry) FailActivation(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[id] = err
}

// Active returns the id of the last successfully activated source.
func (r *StaticRegistry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Activations returns how many times Activate was called.
func (r *StaticRegistry) Activations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activations
}

var (
	_ Registry = Unsupported{}
	_ Registry = (*StaticRegistry)(nil)
)
