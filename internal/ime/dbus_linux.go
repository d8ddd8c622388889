//go:build linux

package ime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/godbus/dbus/v5"
)

// IBusRegistry talks to the IBus daemon on its private bus.
type IBusRegistry struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewIBusRegistry connects to the IBus bus. The address comes from
// IBUS_ADDRESS or `ibus address`.
func NewIBusRegistry(ctx context.Context) (*IBusRegistry, error) {
	addr, err := ibusBusAddress(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := dbus.Connect(addr, dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ibus bus: %w", err)
	}
	return &IBusRegistry{conn: conn}, nil
}

func ibusBusAddress(ctx context.Context) (string, error) {
	if addr := os.Getenv("IBUS_ADDRESS"); addr != "" {
		return addr, nil
	}
	out, err := exec.CommandContext(ctx, "ibus", "address").Output()
	if err != nil {
		return "", fmt.Errorf("ibus address: %w", err)
	}
	addr, ok := parseIBusAddress(string(out))
	if !ok {
		return "", errors.New("ibus-daemon is not running")
	}
	return addr, nil
}

func (r *IBusRegistry) object() (dbus.BusObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil, errors.New("ibus registry closed")
	}
	return r.conn.Object(IBusService, IBusPath), nil
}

// List implements Registry. Preloaded engines are preferred; the full
// engine list is used when the daemon does not expose them.
func (r *IBusRegistry) List(ctx context.Context) ([]string, error) {
	obj, err := r.object()
	if err != nil {
		return nil, err
	}

	var active dbus.Variant
	err = obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0,
		IBusInterface, "ActiveEngines").Store(&active)
	if err == nil {
		if names := ibusEngineNames(active); len(names) > 0 {
			return names, nil
		}
	}

	var engines []dbus.Variant
	if err := obj.CallWithContext(ctx, IBusInterface+".ListEngines", 0).Store(&engines); err != nil {
		return nil, fmt.Errorf("ListEngines: %w", err)
	}
	return ibusEngineNames(engines), nil
}

// Activate implements Registry.
func (r *IBusRegistry) Activate(ctx context.Context, id string) error {
	obj, err := r.object()
	if err != nil {
		return err
	}
	if err := obj.CallWithContext(ctx, IBusInterface+".SetGlobalEngine", 0, id).Err; err != nil {
		return fmt.Errorf("SetGlobalEngine %s: %w", id, err)
	}
	return nil
}

// Close releases the bus connection.
func (r *IBusRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Fcitx5Registry drives Fcitx5 through its D-Bus controller on the session
// bus. Sources are the input methods of the current group.
type Fcitx5Registry struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewFcitx5Registry connects to the session bus.
func NewFcitx5Registry(ctx context.Context) (*Fcitx5Registry, error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &Fcitx5Registry{conn: conn}, nil
}

func (r *Fcitx5Registry) object() (dbus.BusObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil, errors.New("fcitx5 registry closed")
	}
	return r.conn.Object(Fcitx5Service, Fcitx5Path), nil
}

// List implements Registry.
func (r *Fcitx5Registry) List(ctx context.Context) ([]string, error) {
	obj, err := r.object()
	if err != nil {
		return nil, err
	}

	var group string
	if err := obj.CallWithContext(ctx, Fcitx5Interface+".CurrentInputMethodGroup", 0).Store(&group); err != nil {
		return nil, fmt.Errorf("CurrentInputMethodGroup: %w", err)
	}

	var layout string
	var items []fcitx5GroupItem
	if err := obj.CallWithContext(ctx, Fcitx5Interface+".InputMethodGroupInfo", 0, group).Store(&layout, &items); err != nil {
		return nil, fmt.Errorf("InputMethodGroupInfo %s: %w", group, err)
	}
	return fcitx5Names(items), nil
}

// Activate implements Registry.
func (r *Fcitx5Registry) Activate(ctx context.Context, id string) error {
	obj, err := r.object()
	if err != nil {
		return err
	}
	if err := obj.CallWithContext(ctx, Fcitx5Interface+".SetCurrentIM", 0, id).Err; err != nil {
		return fmt.Errorf("SetCurrentIM %s: %w", id, err)
	}
	return nil
}

// Close releases the bus connection.
func (r *Fcitx5Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

var (
	_ Registry = (*IBusRegistry)(nil)
	_ Registry = (*Fcitx5Registry)(nil)
)
