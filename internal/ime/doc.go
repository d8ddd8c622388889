// Package ime enumerates and activates operating-system input sources.
//
// # Architecture Overview
//
// The switching core never talks to the OS directly. It depends on two
// small interfaces:
//
//	Registry   List(ctx) / Activate(ctx, id)   exact-id enumeration + selection
//	Fallback   ActivateNative / ActivateLatin  coarse "go native / go latin"
//
// Registries are platform specific and selected with Open:
//
//	┌──────────┬──────────────┬──────────────────────────────────────────┐
//	│ Platform │ Backend      │ Mechanism                                │
//	├──────────┼──────────────┼──────────────────────────────────────────┤
//	│ macOS    │ macos        │ Carbon Text Input Sources (cgo)          │
//	│ Linux    │ fcitx5       │ org.fcitx.Fcitx.Controller1 over D-Bus   │
//	│ Linux    │ ibus         │ org.freedesktop.IBus on the IBus bus     │
//	│ any      │ none         │ Unsupported, every call fails            │
//	└──────────┴──────────────┴──────────────────────────────────────────┘
//
// The Fallback is a ScriptFallback: one user-configured script per role,
// run through osascript on macOS and sh elsewhere. A missing input source is
// an ordinary error (ErrSourceNotFound), never a panic.
package ime
