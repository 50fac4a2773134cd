package proctor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ashureev/recovery-room/internal/proctor"

type tracedGateway struct {
	next     Gateway
	provider string
	tracer   trace.Tracer
}

// WithTracing wraps g so every call produces a span on the global tracer.
func WithTracing(g Gateway, provider string) Gateway {
	return &tracedGateway{
		next:     g,
		provider: provider,
		tracer:   otel.Tracer(tracerName),
	}
}

func (t *tracedGateway) RequestTurn(ctx context.Context, req TurnRequest) (string, error) {
	ctx, span := t.tracer.Start(ctx, "proctor.RequestTurn", trace.WithAttributes(
		attribute.String("proctor.provider", t.provider),
		attribute.String("simulation.scenario", string(req.Scenario.ID)),
		attribute.Int("simulation.history_len", len(req.History)),
		attribute.Int("simulation.anger", req.CurrentAnger),
	))
	defer span.End()

	text, err := t.next.RequestTurn(ctx, req)
	finish(span, text, err)
	return text, err
}

func (t *tracedGateway) RequestAudit(ctx context.Context, req AuditRequest) (string, error) {
	ctx, span := t.tracer.Start(ctx, "proctor.RequestAudit", trace.WithAttributes(
		attribute.String("proctor.provider", t.provider),
		attribute.String("simulation.scenario", string(req.Scenario.ID)),
		attribute.Int("simulation.transcript_len", len(req.Transcript)),
	))
	defer span.End()

	text, err := t.next.RequestAudit(ctx, req)
	finish(span, text, err)
	return text, err
}

func finish(span trace.Span, text string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.Int("proctor.response_len", len(text)))
}
