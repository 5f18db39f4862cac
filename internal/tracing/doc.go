// Package tracing wires OpenTelemetry. Each request gets a span
// (thumbnail.generate, thumbnail.metadata) with child spans per decoder tier,
// pipeline and probe run. Spans are exported over OTLP/HTTP when
// OTEL_ENDPOINT is set; otherwise a noop provider keeps the calls free.
package tracing
