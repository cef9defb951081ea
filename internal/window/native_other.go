//go:build !nogui && !headless && !linux && !darwin && !windows

package window

import "unsafe"

// Other platforms keep the window visible from creation and report it
// as never minimized.
func nativeShow(unsafe.Pointer)           {}
func nativeHide(unsafe.Pointer)           {}
func nativeRestore(unsafe.Pointer)        {}
func nativeFocus(unsafe.Pointer)          {}
func nativeMinimized(unsafe.Pointer) bool { return false }
