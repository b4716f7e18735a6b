package observability

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/spec-kit/echannelling-auth/internal/config"
)

// ErrorReporter forwards unexpected failures to an error tracker.
type ErrorReporter interface {
	CaptureException(err error)
	Recover(r any)
	Flush(timeout time.Duration) bool
}

// NewErrorReporter returns a Sentry-backed reporter, or a no-op one when no DSN is configured.
func NewErrorReporter(cfg config.SentryConfig, app config.AppConfig) (ErrorReporter, error) {
	if cfg.DSN == "" {
		return nopReporter{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: app.Env,
		Release:     app.Name + "@" + app.Version,
		SampleRate:  cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	return sentryReporter{hub: sentry.CurrentHub()}, nil
}

type sentryReporter struct {
	hub *sentry.Hub
}

func (r sentryReporter) CaptureException(err error) {
	if err == nil {
		return
	}
	r.hub.CaptureException(err)
}

func (r sentryReporter) Recover(v any) {
	r.hub.Recover(v)
}

func (r sentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

type nopReporter struct{}

func (nopReporter) CaptureException(error)   {}
func (nopReporter) Recover(any)              {}
func (nopReporter) Flush(time.Duration) bool { return true }
