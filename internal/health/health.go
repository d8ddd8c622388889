// Package health runs the daemon's component checks: can the input-source
// registry be reached and does it list the configured sources, does the
// history database answer, are fallback scripts configured.
package health

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Result is the outcome of one check.
type Result struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Checked  time.Time     `json:"checked"`
	Duration time.Duration `json:"duration"`
}

// Check is a function that performs a health check.
type Check func(ctx context.Context) Result

// Component is a named check. A failing critical component makes the
// daemon unhealthy; any other failure only degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Report aggregates one run over every component.
type Report struct {
	Status     Status            `json:"status"`
	Components map[string]Result `json:"components"`
	Checked    time.Time         `json:"checked"`
}

// DefaultTimeout bounds a check that sets no Timeout.
const DefaultTimeout = 5 * time.Second

// Checker holds the registered components and their last results.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	last       map[string]Result
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		last:       make(map[string]Result),
	}
}

// Register adds or replaces a component.
func (c *Checker) Register(component Component) {
	if component.Timeout <= 0 {
		component.Timeout = DefaultTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[component.Name] = &component
	c.last[component.Name] = Result{Status: StatusUnknown}
}

// Names returns the registered component names in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run executes every check concurrently and returns the aggregated report.
// A check that panics or outlives its timeout is reported unhealthy.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]Result, len(components))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, comp := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := runOne(ctx, comp)
			mu.Lock()
			results[comp.Name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	c.mu.Lock()
	for name, res := range results {
		c.last[name] = res
	}
	c.mu.Unlock()

	return Report{
		Status:     c.aggregate(results),
		Components: results,
		Checked:    time.Now(),
	}
}

func runOne(ctx context.Context, comp *Component) Result {
	checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.Check(checkCtx)
	}()

	var res Result
	select {
	case res = <-done:
	case <-checkCtx.Done():
		res = Result{Status: StatusUnhealthy, Message: "check timed out", Error: checkCtx.Err().Error()}
	}
	res.Checked = start
	res.Duration = time.Since(start)
	return res
}

func (c *Checker) aggregate(results map[string]Result) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := StatusHealthy
	for name, res := range results {
		comp := c.components[name]
		if comp == nil {
			continue
		}
		switch res.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			status = StatusDegraded
		case StatusDegraded, StatusUnknown:
			status = StatusDegraded
		}
	}
	return status
}

// Last returns the most recent result for name.
func (c *Checker) Last(name string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.last[name]
	return res, ok
}

// RegistryCheck lists input sources and reports degraded when a wanted id
// is missing. The wanted ids are read at check time so configuration
// reloads are honoured.
func RegistryCheck(list func(context.Context) ([]string, error), wanted func() []string) Check {
	return func(ctx context.Context) Result {
		sources, err := list(ctx)
		if err != nil {
			return Result{Status: StatusUnhealthy, Message: "cannot list input sources", Error: err.Error()}
		}
		var missing []string
		for _, id := range wanted() {
			if id != "" && !slices.Contains(sources, id) {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			return Result{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d sources listed, not found: %v", len(sources), missing),
			}
		}
		return Result{Status: StatusHealthy, Message: fmt.Sprintf("%d sources listed", len(sources))}
	}
}

// PingCheck wraps a connectivity check such as sql.DB.PingContext.
func PingCheck(what string, ping func(context.Context) error) Check {
	return func(ctx context.Context) Result {
		if err := ping(ctx); err != nil {
			return Result{Status: StatusUnhealthy, Message: what + " unreachable", Error: err.Error()}
		}
		return Result{Status: StatusHealthy, Message: what + " ok"}
	}
}

// FallbackCheck reports degraded when a role has no fallback script, since
// a registry failure for that role then leaves the source unchanged.
func FallbackCheck(nativeScript, latinScript string) Check {
	return func(context.Context) Result {
		var missing []string
		if nativeScript == "" {
			missing = append(missing, "native")
		}
		if latinScript == "" {
			missing = append(missing, "latin")
		}
		if len(missing) > 0 {
			return Result{Status: StatusDegraded, Message: fmt.Sprintf("no fallback script for %v", missing)}
		}
		return Result{Status: StatusHealthy, Message: "fallback scripts configured"}
	}
}
