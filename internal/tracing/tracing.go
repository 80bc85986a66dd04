// Package tracing carries causal trace context across stateless turns.
//
// Long-lived scopes (a session, a topic) are represented by a span that is
// started and ended at once. Its context is serialized into a Token that the
// caller persists; later turns decode the token and pass it explicitly as
// the parent of their spans, so no span stays open between requests and
// nothing depends on the ambient request context.
package tracing

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/abhisek/sensei/internal/tracing"

// Token is an opaque, persistable span reference. The empty token means
// "no parent".
type Token string

// Propagator starts spans from tokens and encodes spans into tokens.
type Propagator struct {
	tracer trace.Tracer
	codec  propagation.TextMapPropagator
}

// NewPropagator creates a Propagator on tp, or the global provider when tp
// is nil.
func NewPropagator(tp trace.TracerProvider) *Propagator {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Propagator{
		tracer: tp.Tracer(instrumentationName),
		codec:  propagation.TraceContext{},
	}
}

// Encode serializes the span in ctx. It returns the empty token when ctx
// has no valid span.
func (p *Propagator) Encode(ctx context.Context) (Token, error) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return "", nil
	}
	carrier := propagation.MapCarrier{}
	p.codec.Inject(ctx, carrier)
	b, err := json.Marshal(carrier)
	if err != nil {
		return "", fmt.Errorf("encode trace token: %w", err)
	}
	return Token(b), nil
}

// Decode restores the span context held by tok. The empty token decodes to
// an invalid span context and no error.
func (p *Propagator) Decode(tok Token) (trace.SpanContext, error) {
	if tok == "" {
		return trace.SpanContext{}, nil
	}
	carrier := propagation.MapCarrier{}
	if err := json.Unmarshal([]byte(tok), &carrier); err != nil {
		return trace.SpanContext{}, fmt.Errorf("decode trace token: %w", err)
	}
	sc := trace.SpanContextFromContext(p.codec.Extract(context.Background(), carrier))
	if !sc.IsValid() {
		return trace.SpanContext{}, fmt.Errorf("decode trace token: no valid traceparent")
	}
	return sc, nil
}

// StartChild starts a span whose parent is the span referenced by parent.
// The span already in ctx, if any, is attached as a link rather than used
// as the parent. An empty parent starts a new trace. The caller ends the
// span.
func (p *Propagator) StartChild(ctx context.Context, parent Token, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, error) {
	sc, err := p.Decode(parent)
	if err != nil {
		return ctx, trace.SpanFromContext(ctx), err
	}

	opts := []trace.SpanStartOption{trace.WithAttributes(attrs...)}
	if ambient := trace.SpanContextFromContext(ctx); ambient.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{
			SpanContext: ambient,
			Attributes:  []attribute.KeyValue{attribute.String("link.kind", "request")},
		}))
	}

	if sc.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	} else {
		opts = append(opts, trace.WithNewRoot())
	}
	ctx, span := p.tracer.Start(ctx, name, opts...)
	return ctx, span, nil
}

// Boundary opens and immediately closes a span under parent and returns its
// token. Use it for scopes that outlive a single request.
func (p *Propagator) Boundary(ctx context.Context, parent Token, name string, attrs ...attribute.KeyValue) (Token, error) {
	ctx, span, err := p.StartChild(ctx, parent, name, attrs...)
	if err != nil {
		return "", err
	}
	span.End()
	return p.Encode(ctx)
}

// SpanID returns the span id referenced by tok, or the empty string.
func (p *Propagator) SpanID(tok Token) string {
	sc, err := p.Decode(tok)
	if err != nil || !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}
