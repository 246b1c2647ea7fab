package bridge

import (
	"log/slog"
	"time"
)

// Default engine configuration values.
const (
	defaultEventBuffer   = 100
	defaultScannerBuffer = 1 << 20 // 1 MB
	defaultGracePeriod   = 5 * time.Second
)

// EngineOptions holds resolved construction-time configuration.
type EngineOptions struct {
	// EventBuffer is the channel buffer size for process events.
	EventBuffer int

	// ScannerBuffer is the maximum line size in bytes for the stdout
	// scanner.
	ScannerBuffer int

	// GracePeriod is the duration to wait after SIGTERM before SIGKILL.
	GracePeriod time.Duration

	// Logger receives malformed-line warnings and lifecycle tracing.
	Logger *slog.Logger
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*EngineOptions)

// WithEventBuffer sets the event channel buffer size.
// Values <= 0 are ignored.
func WithEventBuffer(size int) EngineOption {
	return func(o *EngineOptions) {
		if size > 0 {
			o.EventBuffer = size
		}
	}
}

// WithScannerBuffer sets the maximum stdout line size in bytes.
// Values <= 0 are ignored.
func WithScannerBuffer(size int) EngineOption {
	return func(o *EngineOptions) {
		if size > 0 {
			o.ScannerBuffer = size
		}
	}
}

// WithGracePeriod sets the SIGTERM→SIGKILL escalation delay.
// Values <= 0 are ignored.
func WithGracePeriod(d time.Duration) EngineOption {
	return func(o *EngineOptions) {
		if d > 0 {
			o.GracePeriod = d
		}
	}
}

// WithLogger sets the structured logger for the engine and its processes.
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *EngineOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

func resolveEngineOptions(opts ...EngineOption) EngineOptions {
	o := EngineOptions{
		EventBuffer:   defaultEventBuffer,
		ScannerBuffer: defaultScannerBuffer,
		GracePeriod:   defaultGracePeriod,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.Logger = loggerOrDefault(o.Logger)
	return o
}
