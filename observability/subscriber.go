package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/devflow/event"
)

// Span names and attribute keys.
const (
	SpanRun  = "devflow.run"
	SpanNode = "devflow.node"

	AttrRunID    = "devflow.run_id"
	AttrFlowID   = "devflow.flow_id"
	AttrNodeID   = "devflow.node_id"
	AttrNodeType = "devflow.node_type"
	AttrAttempt  = "devflow.attempt"
	AttrStatus   = "devflow.status"
)

type openSpan struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
}

type nodeKey struct{ runID, nodeID string }

// Subscriber converts run events into spans and metrics. One Subscriber
// may observe many runs at once.
type Subscriber struct {
	tracer  trace.Tracer
	metrics *Metrics

	mu    sync.Mutex
	runs  map[string]openSpan
	nodes map[nodeKey]openSpan
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithTracerProvider uses tp instead of the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) SubscriberOption {
	return func(s *Subscriber) { s.tracer = tp.Tracer(InstrumentationName) }
}

// WithMetrics records into m. Without it no metrics are recorded.
func WithMetrics(m *Metrics) SubscriberOption {
	return func(s *Subscriber) { s.metrics = m }
}

// NewSubscriber creates a subscriber on the global tracer provider.
func NewSubscriber(opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		tracer: otel.Tracer(InstrumentationName),
		runs:   make(map[string]openSpan),
		nodes:  make(map[nodeKey]openSpan),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle implements event.Subscriber.
func (s *Subscriber) Handle(e event.Event) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}

	switch e.Type {
	case event.RunStarted:
		s.startRun(e, at)
	case event.RunFinished:
		s.finishRun(e, at)
	case event.NodeStarted:
		s.startNode(e, at)
	case event.NodeAttempt, event.NodeRetry, event.NodePaused, event.NodeAwaitingRetry:
		s.annotate(e, at)
	case event.NodeSucceeded, event.NodeFailed, event.NodeSkipped, event.NodeAbandoned:
		s.finishNode(e, at)
	}
}

// Open returns the number of spans not yet ended.
func (s *Subscriber) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs) + len(s.nodes)
}

func (s *Subscriber) startRun(e event.Event, at time.Time) {
	ctx, span := s.tracer.Start(context.Background(), SpanRun,
		trace.WithTimestamp(at),
		trace.WithAttributes(
			attribute.String(AttrRunID, e.RunID),
			attribute.String(AttrFlowID, e.FlowID),
		),
	)
	s.mu.Lock()
	s.runs[e.RunID] = openSpan{ctx: ctx, span: span, start: at}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRunStart(ctx, e.FlowID)
	}
}

func (s *Subscriber) finishRun(e event.Event, at time.Time) {
	s.mu.Lock()
	run, ok := s.runs[e.RunID]
	delete(s.runs, e.RunID)
	for k, n := range s.nodes {
		if k.runID == e.RunID {
			n.span.End(trace.WithTimestamp(at))
			delete(s.nodes, k)
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	status := e.Status
	if e.Report != nil {
		status = string(e.Report.Status)
		if e.Report.Checkpoint != "" {
			run.span.SetAttributes(attribute.String("devflow.checkpoint", e.Report.Checkpoint))
		}
	}
	run.span.SetAttributes(attribute.String(AttrStatus, status))
	if status == "failed" {
		run.span.SetStatus(codes.Error, "run failed")
	} else if status == "success" {
		run.span.SetStatus(codes.Ok, "")
	}
	run.span.End(trace.WithTimestamp(at))

	if s.metrics != nil {
		s.metrics.RecordRunEnd(run.ctx, e.FlowID, status, at.Sub(run.start))
	}
}

func (s *Subscriber) startNode(e event.Event, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := context.Background()
	if run, ok := s.runs[e.RunID]; ok {
		parent = run.ctx
	}
	ctx, span := s.tracer.Start(parent, SpanNode,
		trace.WithTimestamp(at),
		trace.WithAttributes(
			attribute.String(AttrRunID, e.RunID),
			attribute.String(AttrNodeID, e.NodeID),
			attribute.String(AttrNodeType, e.NodeType),
			attribute.Int("devflow.wave", e.Wave),
		),
	)
	s.nodes[nodeKey{e.RunID, e.NodeID}] = openSpan{ctx: ctx, span: span, start: at}
}

func (s *Subscriber) annotate(e event.Event, at time.Time) {
	s.mu.Lock()
	n, ok := s.nodes[nodeKey{e.RunID, e.NodeID}]
	s.mu.Unlock()

	if e.Type == event.NodeRetry && s.metrics != nil {
		s.metrics.RecordRetry(context.Background(), e.NodeType)
	}
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{attribute.Int(AttrAttempt, e.Attempt)}
	if e.Message != "" {
		attrs = append(attrs, attribute.String("message", e.Message))
	}
	if e.DelayMs > 0 {
		attrs = append(attrs, attribute.Int64("delay_ms", e.DelayMs))
	}
	n.span.AddEvent(string(e.Type), trace.WithTimestamp(at), trace.WithAttributes(attrs...))
}

func (s *Subscriber) finishNode(e event.Event, at time.Time) {
	key := nodeKey{e.RunID, e.NodeID}
	s.mu.Lock()
	n, ok := s.nodes[key]
	delete(s.nodes, key)
	s.mu.Unlock()

	status := nodeStatus(e.Type)
	var d time.Duration
	if ok {
		d = at.Sub(n.start)
		if e.Record != nil && e.Record.DurationMs > 0 {
			d = time.Duration(e.Record.DurationMs) * time.Millisecond
		}
		n.span.SetAttributes(attribute.String(AttrStatus, status))
		if e.Record != nil {
			n.span.SetAttributes(attribute.Int(AttrAttempt, e.Record.Attempts))
		}
		switch e.Type {
		case event.NodeFailed:
			n.span.SetStatus(codes.Error, e.Message)
		case event.NodeSucceeded:
			n.span.SetStatus(codes.Ok, "")
		}
		n.span.End(trace.WithTimestamp(at))
	}

	if s.metrics != nil {
		s.metrics.RecordNode(context.Background(), e.NodeType, status, d)
	}
}

func nodeStatus(t event.Type) string {
	switch t {
	case event.NodeSucceeded:
		return "success"
	case event.NodeFailed:
		return "error"
	case event.NodeSkipped:
		return "skipped"
	default:
		return "abandoned"
	}
}

var _ event.Subscriber = (*Subscriber)(nil)
