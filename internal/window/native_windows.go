//go:build !nogui && !headless && windows

package window

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	swHide    = 0
	swShow    = 5
	swRestore = 9
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procShowWindow          = user32.NewProc("ShowWindow")
	procIsIconic            = user32.NewProc("IsIconic")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
)

func nativeShow(h unsafe.Pointer)    { _, _, _ = procShowWindow.Call(uintptr(h), swShow) }
func nativeHide(h unsafe.Pointer)    { _, _, _ = procShowWindow.Call(uintptr(h), swHide) }
func nativeRestore(h unsafe.Pointer) { _, _, _ = procShowWindow.Call(uintptr(h), swRestore) }

func nativeFocus(h unsafe.Pointer) {
	_, _, _ = procSetForegroundWindow.Call(uintptr(h))
}

func nativeMinimized(h unsafe.Pointer) bool {
	r, _, _ := procIsIconic.Call(uintptr(h))
	return r != 0
}
