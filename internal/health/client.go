package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrUnreachable means nothing answered on the backend port yet.
var ErrUnreachable = errors.New("backend unreachable")

// StatusError is returned when the backend answered with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend answered with status %d", e.Code)
}

// NewClient creates the HTTP client used for probes. Resty retries are
// disabled; the poller owns the retry policy.
func NewClient(timeout time.Duration, logger *zap.SugaredLogger) *resty.Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.NoRedirectPolicy()).
		SetHeader("User-Agent", "polaris-desktop").
		SetLogger(restyLogger{logger.Named("http")})
}

// Probe issues one GET against url. It returns nil for any 2xx answer,
// ErrUnreachable for transport failures and *StatusError otherwise.
func Probe(ctx context.Context, client *resty.Client, url string) error {
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if !resp.IsSuccess() {
		return &StatusError{Code: resp.StatusCode()}
	}
	return nil
}

// restyLogger routes resty's own messages to zap at debug level; probe
// failures are expected while the backend boots.
type restyLogger struct {
	l *zap.SugaredLogger
}

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Debugf(format, v...) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Debugf(format, v...) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debugf(format, v...) }
