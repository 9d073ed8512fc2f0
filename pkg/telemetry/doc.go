// Package telemetry wires OpenTelemetry exporters, meters, and span
// enrichment for ExShield.
//
// It centralises tracer provider setup for the standalone server and offers
// helpers that attach admission outcomes to spans and record check latency,
// admission counters, and expression-cache statistics so operators can
// correlate rejections with rule behaviour.
package telemetry
