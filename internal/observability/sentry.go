package observability

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/spec-kit/support-desk/internal/config"
)

// InitSentry configures error reporting. The returned func flushes buffered
// events and is a no-op when no DSN is configured.
func InitSentry(cfg config.SentryConfig, release string) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          release,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
	}); err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
