// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package xowsotel provides OpenTelemetry instrumentation for xows clients.
// It implements the [xows.CallHook] interface to add client spans and call
// metrics.
//
// Usage:
//
//	client, err := xows.NewClient("10.0.0.1",
//	    xows.WithCallHook(xowsotel.NewHook(xowsotel.DefaultConfig())))
package xowsotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/netascode/go-xows"
)

const instrumentationName = "github.com/netascode/go-xows"

// Config configures OpenTelemetry instrumentation
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordErrors calls RecordError on the span for failed calls.
	// Default true.
	RecordErrors bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with tracing, metrics and error recording
// enabled. Providers are resolved from the global OTel SDK by NewHook.
func DefaultConfig() Config {
	return Config{
		EnableTracing: true,
		EnableMetrics: true,
		RecordErrors:  true,
	}
}

// Hook implements xows.CallHook
type Hook struct {
	cfg               Config
	tracer            trace.Tracer
	callCounter       metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

var _ xows.CallHook = (*Hook)(nil)

// NewHook creates a hook from cfg
func NewHook(cfg Config) *Hook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	h := &Hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.callCounter, _ = meter.Int64Counter("xows.client.calls",
			metric.WithUnit("{call}"),
			metric.WithDescription("Number of xAPI calls"),
		)
		h.durationHistogram, _ = meter.Float64Histogram("xows.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of xAPI calls"),
		)
	}
	return h
}

// spanToken is the HookToken returned by OnCallStart
type spanToken struct {
	span  trace.Span
	start time.Time
}

// OnCallStart starts a client span named after the method
func (h *Hook) OnCallStart(ctx context.Context, info xows.CallInfo) (context.Context, xows.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{start: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.service", "xapi"),
		attribute.String("rpc.method", info.Method),
		attribute.String("xows.session_id", info.SessionID),
	}
	if len(info.Path) > 0 {
		attrs = append(attrs, attribute.String("xows.path", info.Path.String()))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("xapi/%s", info.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, start: time.Now()}
}

// OnCallEnd records metrics and ends the span
func (h *Hook) OnCallEnd(ctx context.Context, token xows.HookToken, info xows.CallInfo, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.start)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.method", metricMethod(info.Method)),
			attribute.String("status", status),
		)
		if h.callCounter != nil {
			h.callCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	st.span.SetAttributes(attribute.Int64("jsonrpc.request_id", int64(info.CallID)))
	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordErrors {
			st.span.RecordError(err)
		}
		st.span.SetAttributes(attribute.String("xows.error_type", errorType(err)))
		var pe *xows.ProtocolError
		if errors.As(err, &pe) {
			st.span.SetAttributes(attribute.Int("jsonrpc.error_code", pe.Code))
		}
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}

// metricMethod collapses command paths to keep metric cardinality bounded
func metricMethod(method string) string {
	if len(method) > len(xows.MethodCommandPrefix) && method[:len(xows.MethodCommandPrefix)+1] == xows.MethodCommandPrefix+"/" {
		return xows.MethodCommandPrefix
	}
	return method
}

func errorType(err error) string {
	var pe *xows.ProtocolError
	var ce *xows.ConnectError
	switch {
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &ce):
		return "connect"
	case errors.Is(err, xows.ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return fmt.Sprintf("%T", err)
	}
}
