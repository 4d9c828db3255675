// Package telemetry provides an OpenTelemetry interceptor for the dispatcher.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/morezero/rpcmesh/pkg/protocol"
)

const instrumentationName = "rpcmesh"

// Config configures the interceptor.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// ServiceName is the rpc.service attribute value.
	ServiceName string
	// Version is the rpcmesh.version attribute value.
	Version string
}

type spanToken struct {
	span  trace.Span
	start time.Time
}

// Interceptor opens a server span per call in StartCall and closes it in
// EndCall, recording a request counter and a duration histogram. Through
// CallContext the handler context carries the span.
type Interceptor struct {
	cfg      Config
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inflight *xsync.MapOf[*protocol.Request, spanToken]
}

// NewInterceptor creates an Interceptor.
func NewInterceptor(cfg Config) *Interceptor {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	ic := &Interceptor{
		cfg:      cfg,
		tracer:   cfg.TracerProvider.Tracer(instrumentationName),
		inflight: xsync.NewMapOf[*protocol.Request, spanToken](),
	}
	meter := cfg.MeterProvider.Meter(instrumentationName)
	ic.requests, _ = meter.Int64Counter("rpc.server.requests",
		metric.WithUnit("{request}"),
		metric.WithDescription("Number of RPC requests"),
	)
	ic.duration, _ = meter.Float64Histogram("rpc.server.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of RPC requests"),
	)
	return ic
}

// StartCall starts the span. It never short-circuits.
func (ic *Interceptor) StartCall(ctx context.Context, req *protocol.Request) (bool, *protocol.Response) {
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", instrumentationName),
		attribute.String("rpc.service", ic.cfg.ServiceName),
		attribute.String("rpc.method", req.Method),
	}
	if ic.cfg.Version != "" {
		attrs = append(attrs, attribute.String("rpcmesh.version", ic.cfg.Version))
	}
	if req.Context != nil {
		if len(req.Context.Sequence) > 0 {
			attrs = append(attrs, attribute.String("rpcmesh.sequence", string(req.Context.Sequence)))
		}
		if req.Context.Source != nil {
			depth := 0
			for n := req.Context.Source; len(n.Children) > 0; n = n.Children[len(n.Children)-1] {
				depth++
			}
			attrs = append(attrs, attribute.Int("rpcmesh.hop_depth", depth))
		}
	}

	_, span := ic.tracer.Start(ctx, fmt.Sprintf("%s/%s", instrumentationName, req.Method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	ic.inflight.Store(req, spanToken{span: span, start: time.Now()})
	return true, nil
}

// CallContext returns ctx carrying the span started for req.
func (ic *Interceptor) CallContext(ctx context.Context, req *protocol.Request) context.Context {
	tok, ok := ic.inflight.Load(req)
	if !ok {
		return ctx
	}
	return trace.ContextWithSpan(ctx, tok.span)
}

// EndCall records metrics and ends the span. It never overrides the response.
func (ic *Interceptor) EndCall(ctx context.Context, req *protocol.Request, resp *protocol.Response) (bool, *protocol.Response) {
	tok, ok := ic.inflight.LoadAndDelete(req)
	if !ok {
		return true, nil
	}
	elapsed := time.Since(tok.start)

	status := "ok"
	if resp == nil || resp.Status != protocol.StatusOK {
		status = "error"
	}
	metricAttrs := metric.WithAttributes(
		attribute.String("rpc.system", instrumentationName),
		attribute.String("rpc.service", ic.cfg.ServiceName),
		attribute.String("rpc.method", req.Method),
		attribute.String("status", status),
	)
	ic.requests.Add(ctx, 1, metricAttrs)
	ic.duration.Record(ctx, elapsed.Seconds(), metricAttrs)

	if tok.span.IsRecording() {
		if resp != nil {
			tok.span.SetAttributes(attribute.Int("rpcmesh.status", resp.Status))
		}
		if status == "error" {
			info := "no response"
			if resp != nil {
				info = resp.StatusInfo
			}
			tok.span.SetStatus(codes.Error, info)
			tok.span.SetAttributes(attribute.String("rpcmesh.status_info", info))
		} else {
			tok.span.SetStatus(codes.Ok, "")
		}
	}
	tok.span.End()
	return true, nil
}

// Pending returns the number of started calls not yet ended.
func (ic *Interceptor) Pending() int {
	return ic.inflight.Size()
}
