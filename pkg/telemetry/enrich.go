package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordVerdict annotates the provided span with the admission outcome.
// Kind and rule are empty for admitted requests.
func RecordVerdict(span trace.Span, allowed bool, kind, rule string) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.Bool("shield.allowed", allowed))

	if kind != "" {
		span.SetAttributes(attribute.String("shield.rejection_kind", kind))
	}
	if rule != "" {
		span.SetAttributes(attribute.String("shield.rule", rule))
	}

	if !allowed {
		span.AddEvent("shield.rejected")
	}
}
