//go:build !nogui && !headless && linux

package window

/*
#cgo pkg-config: gtk+-3.0
#include <gtk/gtk.h>

static void polaris_show(void *w) { gtk_widget_show_all(GTK_WIDGET(w)); }
static void polaris_hide(void *w) { gtk_widget_hide(GTK_WIDGET(w)); }
static void polaris_restore(void *w) { gtk_window_deiconify(GTK_WINDOW(w)); }
static void polaris_focus(void *w) { gtk_window_present(GTK_WINDOW(w)); }

static int polaris_minimized(void *w) {
	GdkWindow *gw = gtk_widget_get_window(GTK_WIDGET(w));
	if (gw == NULL) {
		return 0;
	}
	return (gdk_window_get_state(gw) & GDK_WINDOW_STATE_ICONIFIED) != 0;
}
*/
import "C"

import "unsafe"

func nativeShow(h unsafe.Pointer)    { C.polaris_show(h) }
func nativeHide(h unsafe.Pointer)    { C.polaris_hide(h) }
func nativeRestore(h unsafe.Pointer) { C.polaris_restore(h) }
func nativeFocus(h unsafe.Pointer)   { C.polaris_focus(h) }

func nativeMinimized(h unsafe.Pointer) bool { return C.polaris_minimized(h) != 0 }
