// Package tracing wraps OpenTelemetry for handshake runs.
//
// Each peer gets one span:
//
//	p2p.handshake          (peer.addr, handshake.result, error.kind)
//	└── p2p.dial
//
// and every frame sent or received during the handshake is recorded as a
// p2p.send / p2p.receive event on the handshake span.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mcass19/p2p-node-handshake/internal/p2perr"
)

const (
	TracerName = "github.com/mcass19/p2p-node-handshake"

	SpanHandshake = "p2p.handshake"
	SpanDial      = "p2p.dial"

	EventSend    = "p2p.send"
	EventReceive = "p2p.receive"

	AttrPeerAddr  = "peer.addr"
	AttrCommand   = "message.command"
	AttrResult    = "handshake.result"
	AttrErrorKind = "error.kind"
	AttrUserAgent = "peer.user_agent"
)

// Tracer is safe for concurrent use. A nil *Tracer records nothing.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses provider, or a no-op provider when provider is nil.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(TracerName)}
}

func (t *Tracer) get() trace.Tracer {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer(TracerName)
	}
	return t.tracer
}

func (t *Tracer) StartHandshake(ctx context.Context, addr string) (context.Context, trace.Span) {
	return t.get().Start(ctx, SpanHandshake,
		trace.WithAttributes(attribute.String(AttrPeerAddr, addr)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (t *Tracer) StartDial(ctx context.Context, addr string) (context.Context, trace.Span) {
	return t.get().Start(ctx, SpanDial,
		trace.WithAttributes(attribute.String(AttrPeerAddr, addr)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// End closes span with a status derived from err.
func End(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(
			attribute.String(AttrResult, "failure"),
			attribute.String(AttrErrorKind, p2perr.KindOf(err).String()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.String(AttrResult, "success"))
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// MessageEvent records a frame on the span carried by ctx, if any.
func MessageEvent(ctx context.Context, event, cmd string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(event, trace.WithAttributes(attribute.String(AttrCommand, cmd)))
}
