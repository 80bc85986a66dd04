package tracing

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestPropagator(t *testing.T) (*Propagator, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewPropagator(tp), rec
}

func TestBoundaryEndsSpanImmediately(t *testing.T) {
	p, rec := newTestPropagator(t)

	tok, err := p.Boundary(context.Background(), "", "session")
	if err != nil {
		t.Fatalf("Boundary: %v", err)
	}
	if tok == "" {
		t.Fatal("empty token")
	}
	if len(rec.Started()) != 1 || len(rec.Ended()) != 1 {
		t.Fatalf("started=%d ended=%d, want 1/1", len(rec.Started()), len(rec.Ended()))
	}
	if got, want := p.SpanID(tok), rec.Ended()[0].SpanContext().SpanID().String(); got != want {
		t.Errorf("token span id = %s, want %s", got, want)
	}
}

func TestChildFromTokenAcrossPropagators(t *testing.T) {
	first, _ := newTestPropagator(t)
	sessionTok, err := first.Boundary(context.Background(), "", "session")
	if err != nil {
		t.Fatalf("Boundary: %v", err)
	}
	topicTok, err := first.Boundary(context.Background(), sessionTok, "topic")
	if err != nil {
		t.Fatalf("Boundary: %v", err)
	}

	// A fresh worker that only has the persisted token.
	second, rec := newTestPropagator(t)
	_, span, err := second.StartChild(context.Background(), topicTok, "turn")
	if err != nil {
		t.Fatalf("StartChild: %v", err)
	}
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended = %d, want 1", len(ended))
	}
	child := ended[0]
	if got, want := child.Parent().SpanID().String(), first.SpanID(topicTok); got != want {
		t.Errorf("parent span id = %s, want %s", got, want)
	}
	sc, _ := first.Decode(sessionTok)
	if child.SpanContext().TraceID() != sc.TraceID() {
		t.Error("child is not in the session trace")
	}
}

func TestStartChildLinksAmbientSpan(t *testing.T) {
	p, rec := newTestPropagator(t)
	parent, err := p.Boundary(context.Background(), "", "session")
	if err != nil {
		t.Fatalf("Boundary: %v", err)
	}

	reqCtx, reqSpan, _ := p.StartChild(context.Background(), "", "http request")
	_, span, err := p.StartChild(reqCtx, parent, "turn")
	if err != nil {
		t.Fatalf("StartChild: %v", err)
	}
	span.End()
	reqSpan.End()

	var turn sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == "turn" {
			turn = s
		}
	}
	if turn == nil {
		t.Fatal("turn span not recorded")
	}
	if turn.Parent().SpanID().String() != p.SpanID(parent) {
		t.Error("turn span parented by the request span")
	}
	links := turn.Links()
	if len(links) != 1 || links[0].SpanContext.SpanID() != reqSpan.SpanContext().SpanID() {
		t.Errorf("links = %+v, want the request span", links)
	}
}

func TestDecode(t *testing.T) {
	p, _ := newTestPropagator(t)

	sc, err := p.Decode("")
	if err != nil || sc.IsValid() {
		t.Errorf("Decode(\"\") = %v, %v; want invalid, nil", sc, err)
	}
	if _, err := p.Decode("not json"); err == nil {
		t.Error("Decode(garbage) error = nil")
	}
	if _, err := p.Decode(`{"traceparent":"00-zz"}`); err == nil {
		t.Error("Decode(bad traceparent) error = nil")
	}
	if _, _, err := p.StartChild(context.Background(), "not json", "x"); err == nil {
		t.Error("StartChild(garbage) error = nil")
	}
}

func TestEncodeWithoutSpan(t *testing.T) {
	p, _ := newTestPropagator(t)
	tok, err := p.Encode(context.Background())
	if err != nil || tok != "" {
		t.Errorf("Encode = %q, %v; want empty", tok, err)
	}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.SpanContext{})
	if tok, _ := p.Encode(ctx); tok != "" {
		t.Errorf("Encode(invalid) = %q", tok)
	}
}

func TestInitDisabledStillIssuesTokens(t *testing.T) {
	tp, err := Init(context.Background(), nil, Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tok, err := NewPropagator(tp).Boundary(context.Background(), "", "session")
	if err != nil {
		t.Fatalf("Boundary: %v", err)
	}
	if tok == "" {
		t.Error("no token with export disabled")
	}
}
