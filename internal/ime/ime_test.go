package ime

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewStaticRegistry("ABC", "搜狗拼音")

	sources, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC", "搜狗拼音"}, sources)

	require.NoError(t, reg.Activate(ctx, "搜狗拼音"))
	assert.Equal(t, "搜狗拼音", reg.Active())

	err = reg.Activate(ctx, "Missing")
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.Equal(t, "搜狗拼音", reg.Active())

	boom := errors.New("boom")
	reg.FailActivation("ABC", boom)
	assert.ErrorIs(t, reg.Activate(ctx, "ABC"), boom)
	assert.Equal(t, 3, reg.Activations())
}

func TestStaticRegistryCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := NewStaticRegistry("ABC")
	_, err := reg.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, reg.Activate(ctx, "ABC"), context.Canceled)
}

func TestUnsupported(t *testing.T) {
	_, err := Unsupported{}.List(context.Background())
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, Unsupported{}.Activate(context.Background(), "ABC"), ErrUnsupported)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"ABC", "搜狗拼音"}, "ABC"))
	assert.False(t, Contains([]string{"ABC"}, "abc"))
	assert.False(t, Contains(nil, ""))
}

// =============================================================================
// ScriptFallback
// =============================================================================

func TestScriptFallbackRoles(t *testing.T) {
	var ran []string
	fb := &ScriptFallback{
		NativeScript: "key code 102",
		LatinScript:  "key code 104",
		Runner: RunnerFunc(func(_ context.Context, script string) error {
			ran = append(ran, script)
			return nil
		}),
	}

	require.NoError(t, fb.ActivateNative(context.Background()))
	require.NoError(t, fb.ActivateLatin(context.Background()))
	assert.Equal(t, []string{"key code 102", "key code 104"}, ran)
}

func TestScriptFallbackEmptyScript(t *testing.T) {
	called := false
	fb := &ScriptFallback{
		LatinScript: "  ",
		Runner: RunnerFunc(func(context.Context, string) error {
			called = true
			return nil
		}),
	}

	assert.ErrorIs(t, fb.ActivateNative(context.Background()), ErrNoFallback)
	assert.ErrorIs(t, fb.ActivateLatin(context.Background()), ErrNoFallback)
	assert.False(t, called)
}

func TestScriptFallbackRunnerError(t *testing.T) {
	boom := errors.New("exit status 1")
	fb := &ScriptFallback{
		NativeScript: "x",
		Runner: RunnerFunc(func(context.Context, string) error {
			return boom
		}),
	}
	assert.ErrorIs(t, fb.ActivateNative(context.Background()), boom)
}

func TestCommandRunnerEmpty(t *testing.T) {
	assert.ErrorIs(t, CommandRunner{}.Run(context.Background(), "true"), ErrUnsupported)
}

func TestNewScriptFallbackUsesInterpreter(t *testing.T) {
	fb := NewScriptFallback("a", "b")
	runner, ok := fb.Runner.(CommandRunner)
	require.True(t, ok)
	assert.NotEmpty(t, runner.Command)
}

// =============================================================================
// Backends
// =============================================================================

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", BackendAuto, false},
		{"auto", BackendAuto, false},
		{"IBus", BackendIBus, false},
		{" fcitx5 ", BackendFcitx5, false},
		{"macos", BackendMacOS, false},
		{"none", BackendNone, false},
		{"xim", "", true},
	}
	for _, tc := range tests {
		got, err := ParseBackend(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestOpenNone(t *testing.T) {
	reg, err := Open(context.Background(), BackendNone)
	require.NoError(t, err)
	assert.IsType(t, Unsupported{}, reg)
}

// =============================================================================
// D-Bus decoding
// =============================================================================

func engineDesc(name string) []interface{} {
	return []interface{}{"IBusEngineDesc", map[string]dbus.Variant{}, name, "Long " + name, "desc", "en"}
}

func TestIBusEngineName(t *testing.T) {
	name, ok := ibusEngineName(engineDesc("xkb:us::eng"))
	require.True(t, ok)
	assert.Equal(t, "xkb:us::eng", name)

	name, ok = ibusEngineName(dbus.MakeVariant(engineDesc("libpinyin")))
	require.True(t, ok)
	assert.Equal(t, "libpinyin", name)

	_, ok = ibusEngineName([]interface{}{"IBusText", nil, "x"})
	assert.False(t, ok)
	_, ok = ibusEngineName("garbage")
	assert.False(t, ok)
	_, ok = ibusEngineName(engineDesc(""))
	assert.False(t, ok)
}

func TestIBusEngineNames(t *testing.T) {
	list := []dbus.Variant{
		dbus.MakeVariant(engineDesc("xkb:us::eng")),
		dbus.MakeVariant("not a desc"),
		dbus.MakeVariant(engineDesc("rime")),
	}
	assert.Equal(t, []string{"xkb:us::eng", "rime"}, ibusEngineNames(list))
	assert.Equal(t, []string{"rime"}, ibusEngineNames([]interface{}{engineDesc("rime")}))
	assert.Nil(t, ibusEngineNames(42))
}

func TestParseIBusAddress(t *testing.T) {
	addr, ok := parseIBusAddress("unix:path=/tmp/ibus,guid=abc\n")
	assert.True(t, ok)
	assert.Equal(t, "unix:path=/tmp/ibus,guid=abc", addr)

	_, ok = parseIBusAddress("(null)\n")
	assert.False(t, ok)
	_, ok = parseIBusAddress("")
	assert.False(t, ok)
}

func TestFcitx5Names(t *testing.T) {
	items := []fcitx5GroupItem{
		{Name: "keyboard-us", Layout: ""},
		{Name: "", Layout: "us"},
		{Name: "pinyin", Layout: ""},
	}
	assert.Equal(t, []string{"keyboard-us", "pinyin"}, fcitx5Names(items))
}
