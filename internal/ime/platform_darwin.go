//go:build darwin

package ime

/*
#cgo LDFLAGS: -framework Carbon -framework CoreFoundation

#include <stdlib.h>
#include <Carbon/Carbon.h>

// ============================================================================
// Text Input Sources
// ============================================================================

static char* smartim_cfstring(CFStringRef s) {
    if (s == NULL) {
        return NULL;
    }
    CFIndex size = CFStringGetMaximumSizeForEncoding(CFStringGetLength(s), kCFStringEncodingUTF8) + 1;
    char* buf = malloc(size);
    if (buf == NULL) {
        return NULL;
    }
    if (!CFStringGetCString(s, buf, size, kCFStringEncodingUTF8)) {
        free(buf);
        return NULL;
    }
    return buf;
}

static CFArrayRef smartim_sources(void) {
    return TISCreateInputSourceList(NULL, true);
}

static void smartim_release(CFArrayRef list) {
    CFRelease(list);
}

static int smartim_source_count(CFArrayRef list) {
    return (int)CFArrayGetCount(list);
}

// Returns the id of the i-th keyboard input source, or NULL for other
// categories (palettes, ink, ...).
static char* smartim_keyboard_source_id(CFArrayRef list, int i) {
    TISInputSourceRef src = (TISInputSourceRef)CFArrayGetValueAtIndex(list, i);
    if (src == NULL) {
        return NULL;
    }
    CFStringRef category = (CFStringRef)TISGetInputSourceProperty(src, kTISPropertyInputSourceCategory);
    if (category == NULL || !CFEqual(category, kTISCategoryKeyboardInputSource)) {
        return NULL;
    }
    return smartim_cfstring((CFStringRef)TISGetInputSourceProperty(src, kTISPropertyInputSourceID));
}

// Returns 0 on success, -1 if the list could not be created, -2 if no
// source has the id, otherwise the OSStatus of TISSelectInputSource.
static int smartim_select(const char* id) {
    CFStringRef key = CFStringCreateWithCString(NULL, id, kCFStringEncodingUTF8);
    if (key == NULL) {
        return -1;
    }
    const void* keys[] = { kTISPropertyInputSourceID };
    const void* vals[] = { key };
    CFDictionaryRef filter = CFDictionaryCreate(NULL, keys, vals, 1,
        &kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
    CFArrayRef list = TISCreateInputSourceList(filter, true);
    CFRelease(filter);
    CFRelease(key);
    if (list == NULL) {
        return -1;
    }
    int rc = -2;
    if (CFArrayGetCount(list) > 0) {
        rc = (int)TISSelectInputSource((TISInputSourceRef)CFArrayGetValueAtIndex(list, 0));
    }
    CFRelease(list);
    return rc;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"unsafe"
)

// TISRegistry lists and selects macOS keyboard input sources by their
// Text Input Source id (e.g. "com.apple.keylayout.ABC").
type TISRegistry struct{}

// NewTISRegistry returns the macOS registry.
func NewTISRegistry() *TISRegistry {
	return &TISRegistry{}
}

// List implements Registry.
func (r *TISRegistry) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list := C.smartim_sources()
	if list == 0 {
		return nil, errors.New("TISCreateInputSourceList returned NULL")
	}
	defer C.smartim_release(list)

	n := int(C.smartim_source_count(list))
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		cid := C.smartim_keyboard_source_id(list, C.int(i))
		if cid == nil {
			continue
		}
		if id := C.GoString(cid); id != "" {
			ids = append(ids, id)
		}
		C.free(unsafe.Pointer(cid))
	}
	return ids, nil
}

// Activate implements Registry.
func (r *TISRegistry) Activate(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cid := C.CString(id)
	defer C.free(unsafe.Pointer(cid))

	switch rc := C.smartim_select(cid); rc {
	case 0:
		return nil
	case -1:
		return errors.New("TISCreateInputSourceList returned NULL")
	case -2:
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	default:
		return fmt.Errorf("TISSelectInputSource failed: OSStatus %d", int(rc))
	}
}

// DetectBackend always reports the Text Input Sources backend on macOS.
func DetectBackend() Backend {
	return BackendMacOS
}

func openBackend(_ context.Context, backend Backend) (Registry, error) {
	switch backend {
	case BackendMacOS:
		return NewTISRegistry(), nil
	case BackendNone:
		return Unsupported{}, nil
	default:
		return nil, ErrUnsupported
	}
}

func scriptInterpreter() []string {
	return []string{"osascript", "-e"}
}

var _ Registry = (*TISRegistry)(nil)
