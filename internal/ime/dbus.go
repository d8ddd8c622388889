package ime

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

// IBus D-Bus constants
const (
	IBusService   = "org.freedesktop.IBus"
	IBusPath      = "/org/freedesktop/IBus"
	IBusInterface = "org.freedesktop.IBus"
)

// Fcitx5 D-Bus constants
const (
	Fcitx5Service   = "org.fcitx.Fcitx5"
	Fcitx5Path      = "/controller"
	Fcitx5Interface = "org.fcitx.Fcitx.Controller1"
)

// ibusEngineName extracts the engine name from a serialized
// IBusEngineDesc. The desc is a struct whose first field is the type name,
// the second its attachments and the third the engine name.
func ibusEngineName(v interface{}) (string, bool) {
	if variant, ok := v.(dbus.Variant); ok {
		v = variant.Value()
	}
	fields, ok := v.([]interface{})
	if !ok || len(fields) < 3 {
		return "", false
	}
	if typ, ok := fields[0].(string); !ok || typ != "IBusEngineDesc" {
		return "", false
	}
	name, ok := fields[2].(string)
	return name, ok && name != ""
}

// ibusEngineNames decodes an "av" list of engine descs, skipping entries
// that do not parse.
func ibusEngineNames(v interface{}) []string {
	if variant, ok := v.(dbus.Variant); ok {
		v = variant.Value()
	}
	var items []interface{}
	switch list := v.(type) {
	case []dbus.Variant:
		for _, item := range list {
			items = append(items, item)
		}
	case []interface{}:
		items = list
	default:
		return nil
	}

	names := make([]string, 0, len(items))
	for _, item := range items {
		if name, ok := ibusEngineName(item); ok {
			names = append(names, name)
		}
	}
	return names
}

// parseIBusAddress normalizes the output of `ibus address`.
func parseIBusAddress(out string) (string, bool) {
	addr := strings.TrimSpace(out)
	if addr == "" || addr == "(null)" {
		return "", false
	}
	return addr, true
}

// fcitx5GroupItem is one entry of Controller1.InputMethodGroupInfo.
type fcitx5GroupItem struct {
	Name   string
	Layout string
}

func fcitx5Names(items []fcitx5GroupItem) []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		if item.Name != "" {
			names = append(names, item.Name)
		}
	}
	return names
}
