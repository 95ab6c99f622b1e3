// Package telemetry provides the structured logging, metrics, and tracing
// surfaces used across mainloopd. It mirrors the teacher's
// runtime/agent/telemetry split (Logger/Metrics/Tracer as small interfaces,
// swappable backends) but binds the concrete implementations to this
// project's ambient stack: goa.design/clue/log for structured logging,
// Prometheus client_golang for metrics, and OpenTelemetry for tracing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log lines keyed by context (request id, task
	// id, workflow id are typically already attached to ctx by the caller).
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. Tag pairs are passed as
	// a flat key/value list, matching the teacher's convention.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates spans for distributed tracing across workflow/activity
	// boundaries.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is the minimal span surface workflow and step code needs.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
