package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fitness-messaging"

// Tracer returns the process tracer. Without a registered TracerProvider
// this is the otel noop tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
