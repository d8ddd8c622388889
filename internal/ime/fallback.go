package ime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes a fallback script.
type Runner interface {
	Run(ctx context.Context, script string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, script string) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, script string) error { return f(ctx, script) }

// CommandRunner runs scripts through an interpreter, e.g.
// ["osascript", "-e"] or ["sh", "-c"].
type CommandRunner struct {
	Command []string
}

// Run implements Runner.
func (r CommandRunner) Run(ctx context.Context, script string) error {
	if len(r.Command) == 0 {
		return ErrUnsupported
	}
	args := append(append([]string{}, r.Command[1:]...), script)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", r.Command[0], err, msg)
		}
		return fmt.Errorf("%s: %w", r.Command[0], err)
	}
	return nil
}

// ScriptFallback switches by running one configured script per role.
type ScriptFallback struct {
	NativeScript string
	LatinScript  string
	Runner       Runner
}

// NewScriptFallback returns a fallback using the platform interpreter.
func NewScriptFallback(nativeScript, latinScript string) *ScriptFallback {
	return &ScriptFallback{
		NativeScript: nativeScript,
		LatinScript:  latinScript,
		Runner:       CommandRunner{Command: scriptInterpreter()},
	}
}

// ActivateNative implements Fallback.
func (f *ScriptFallback) ActivateNative(ctx context.Context) error {
	return f.run(ctx, f.NativeScript)
}

// ActivateLatin implements Fallback.
func (f *ScriptFallback) ActivateLatin(ctx context.Context) error {
	return f.run(ctx, f.LatinScript)
}

func (f *ScriptFallback) run(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return ErrNoFallback
	}
	if f.Runner == nil {
		return ErrUnsupported
	}
	if err := f.Runner.Run(ctx, script); err != nil {
		return fmt.Errorf("fallback script failed: %w", err)
	}
	return nil
}

var _ Fallback = (*ScriptFallback)(nil)
