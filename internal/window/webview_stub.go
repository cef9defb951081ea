//go:build nogui || headless

package window

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// WebviewHost is unavailable in nogui and headless builds.
type WebviewHost struct{}

// NewWebviewHost always fails in this build; callers fall back to the
// browser host.
func NewWebviewHost(*zap.SugaredLogger) (*WebviewHost, error) {
	return nil, fmt.Errorf("%w: built without webview support", ErrUnavailable)
}

func (*WebviewHost) Open(Options, Handler) (Window, error) { return nil, ErrUnavailable }

func (*WebviewHost) Run(context.Context) error { return ErrUnavailable }
