package eventbus

import (
	"github.com/vinayprograms/eventbus/logging"
	"github.com/vinayprograms/eventbus/telemetry"
)

// Option configures an EventBus.
type Option func(*EventBus)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *logging.Logger) Option {
	return func(b *EventBus) {
		if l != nil {
			b.logger = l.WithComponent("eventbus")
		}
	}
}

// WithTracer sets the tracer. Default: the global tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(b *EventBus) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithExporter records traffic events. Default: none.
func WithExporter(e telemetry.Exporter) Option {
	return func(b *EventBus) {
		if e != nil {
			b.events = e
		}
	}
}
