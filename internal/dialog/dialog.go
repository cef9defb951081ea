// Package dialog shows native error dialogs and file pickers.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gen2brain/beeep"
	"github.com/ncruces/zenity"
	"go.uber.org/zap"
)

// Dialog titles used by the shell
const (
	TitleBackendError      = "Backend Error"
	TitleBackendStartError = "Backend Start Error"
	TitleFatal             = "Error in Polaris Antenna Visualizer"
)

const (
	defaultPickerTitle = "Select antenna data files"
	appName            = "Polaris Antenna Visualizer"
)

// Notifier surfaces errors to the user
type Notifier interface {
	Error(title, message string)
}

// AlertNotifier shows errors in a modal dialog. When no dialog can be
// shown it falls back to a system alert, which does not block.
type AlertNotifier struct {
	logger *zap.SugaredLogger
	modal  func(title, message string) error
	alert  func(title, message string) error
}

// NewAlertNotifier creates a notifier backed by zenity and beeep
func NewAlertNotifier(logger *zap.SugaredLogger) *AlertNotifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	beeep.AppName = appName
	return &AlertNotifier{
		logger: logger,
		modal:  modalError,
		alert: func(title, message string) error {
			return beeep.Alert(title, message, "")
		},
	}
}

func modalError(title, message string) error {
	return zenity.Error(message, zenity.Title(title), zenity.ErrorIcon)
}

// Error blocks until the user dismisses the dialog. Failures are logged;
// the message is always logged.
func (n *AlertNotifier) Error(title, message string) {
	n.logger.Errorw("Showing error dialog", "title", title, "message", message)
	err := n.modal(title, message)
	if err == nil || errors.Is(err, zenity.ErrCanceled) {
		return
	}
	n.logger.Warnw("Modal dialog unavailable, falling back to a system alert", "title", title, "error", err)
	if err := n.alert(title, message); err != nil {
		n.logger.Warnw("Failed to show error dialog", "title", title, "error", err)
	}
}

// Filter restricts the files a picker offers
type Filter struct {
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"`
}

// FileRequest is the payload of an open-file-dialog request
type FileRequest struct {
	Title   string   `json:"title,omitempty"`
	Filters []Filter `json:"filters,omitempty"`
	Single  bool     `json:"single,omitempty"`
}

// ParseFileRequest decodes a request payload. An empty or null payload
// yields the default request.
func ParseFileRequest(raw json.RawMessage) (FileRequest, error) {
	var req FileRequest
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &req); err != nil {
			return FileRequest{}, fmt.Errorf("invalid file dialog request: %w", err)
		}
	}
	if req.Title == "" {
		req.Title = defaultPickerTitle
	}
	if len(req.Filters) == 0 {
		req.Filters = []Filter{{Name: "Text Files", Patterns: []string{"*.txt"}}}
	}
	return req, nil
}

// FilePicker asks the user for files. Cancellation returns an empty list
// and no error.
type FilePicker interface {
	PickFiles(ctx context.Context, req FileRequest) ([]string, error)
}

// NativePicker uses the platform file chooser
type NativePicker struct{}

func (NativePicker) PickFiles(ctx context.Context, req FileRequest) ([]string, error) {
	opts := []zenity.Option{zenity.Context(ctx), zenity.Title(req.Title)}
	filters := make(zenity.FileFilters, 0, len(req.Filters))
	for _, f := range req.Filters {
		filters = append(filters, zenity.FileFilter{Name: f.Name, Patterns: f.Patterns, CaseFold: true})
	}
	opts = append(opts, filters)

	var (
		paths []string
		err   error
	)
	if req.Single {
		var path string
		path, err = zenity.SelectFile(opts...)
		if path != "" {
			paths = []string{path}
		}
	} else {
		paths, err = zenity.SelectFileMultiple(opts...)
	}

	if errors.Is(err, zenity.ErrCanceled) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file dialog failed: %w", err)
	}
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}
