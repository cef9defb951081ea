//go:build !nogui && !headless && darwin

package window

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Cocoa
#import <Cocoa/Cocoa.h>

static void polaris_show(void *w) { [(NSWindow *)w makeKeyAndOrderFront:nil]; }
static void polaris_hide(void *w) { [(NSWindow *)w orderOut:nil]; }
static void polaris_restore(void *w) { [(NSWindow *)w deminiaturize:nil]; }

static void polaris_focus(void *w) {
	[NSApp activateIgnoringOtherApps:YES];
	[(NSWindow *)w makeKeyAndOrderFront:nil];
}

static int polaris_minimized(void *w) { return [(NSWindow *)w isMiniaturized] ? 1 : 0; }
*/
import "C"

import "unsafe"

func nativeShow(h unsafe.Pointer)    { C.polaris_show(h) }
func nativeHide(h unsafe.Pointer)    { C.polaris_hide(h) }
func nativeRestore(h unsafe.Pointer) { C.polaris_restore(h) }
func nativeFocus(h unsafe.Pointer)   { C.polaris_focus(h) }

func nativeMinimized(h unsafe.Pointer) bool { return C.polaris_minimized(h) != 0 }
