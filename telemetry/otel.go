package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/spetersoncode/braid"

// OTel records spans and metrics with OpenTelemetry. A run span is opened
// by RunStarted; step and tool spans are children recorded after the fact.
type OTel struct {
	tracer trace.Tracer

	tokens       metric.Int64Counter
	steps        metric.Int64Counter
	toolCalls    metric.Int64Counter
	stepDuration metric.Float64Histogram
	toolDuration metric.Float64Histogram
}

// NewOTel creates a recorder from the given providers.
func NewOTel(tp trace.TracerProvider, mp metric.MeterProvider) (*OTel, error) {
	meter := mp.Meter(instrumentation)
	o := &OTel{tracer: tp.Tracer(instrumentation)}

	var err error
	if o.tokens, err = meter.Int64Counter("braid.tokens", metric.WithDescription("Tokens used"), metric.WithUnit("{token}")); err != nil {
		return nil, fmt.Errorf("telemetry: tokens counter: %w", err)
	}
	if o.steps, err = meter.Int64Counter("braid.steps", metric.WithDescription("Model invocations")); err != nil {
		return nil, fmt.Errorf("telemetry: steps counter: %w", err)
	}
	if o.toolCalls, err = meter.Int64Counter("braid.tool_calls", metric.WithDescription("Tool calls by outcome")); err != nil {
		return nil, fmt.Errorf("telemetry: tool calls counter: %w", err)
	}
	if o.stepDuration, err = meter.Float64Histogram("braid.step.duration", metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("telemetry: step duration: %w", err)
	}
	if o.toolDuration, err = meter.Float64Histogram("braid.tool.duration", metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("telemetry: tool duration: %w", err)
	}
	return o, nil
}

func (o *OTel) RunStarted(ctx context.Context, r Run) context.Context {
	ctx, _ = o.tracer.Start(ctx, "braid.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("braid.run_id", r.RunID),
			attribute.String("gen_ai.request.model", r.Model),
			attribute.String("gen_ai.system", r.Provider),
		))
	return ctx
}

func (o *OTel) StepFinished(ctx context.Context, s Step) {
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.request.model", s.Model),
		attribute.String("gen_ai.system", s.Provider),
		attribute.String("gen_ai.response.finish_reason", string(s.FinishReason)),
	}
	_, span := o.tracer.Start(ctx, "braid.step", trace.WithTimestamp(s.Start), trace.WithAttributes(attrs...))
	span.SetAttributes(
		attribute.Int("braid.step", s.Step),
		attribute.Int("gen_ai.usage.input_tokens", s.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", s.Usage.OutputTokens),
	)
	span.End(trace.WithTimestamp(s.Start.Add(s.Duration)))

	set := metric.WithAttributes(attrs...)
	o.steps.Add(ctx, 1, set)
	o.tokens.Add(ctx, int64(s.Usage.InputTokens), metric.WithAttributes(append(attrs, attribute.String("gen_ai.token.type", "input"))...))
	o.tokens.Add(ctx, int64(s.Usage.OutputTokens), metric.WithAttributes(append(attrs, attribute.String("gen_ai.token.type", "output"))...))
	o.stepDuration.Record(ctx, s.Duration.Seconds(), set)
}

func (o *OTel) ToolFinished(ctx context.Context, t Tool) {
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.tool.name", t.ToolName),
		attribute.String("braid.tool.outcome", t.Outcome),
	}
	_, span := o.tracer.Start(ctx, "braid.tool "+t.ToolName, trace.WithTimestamp(t.Start), trace.WithAttributes(attrs...))
	span.SetAttributes(attribute.String("gen_ai.tool.call.id", t.ToolCallID), attribute.Int("braid.step", t.Step))
	if t.Err != nil {
		span.RecordError(t.Err)
		span.SetStatus(codes.Error, t.Err.Error())
	}
	span.End(trace.WithTimestamp(t.Start.Add(t.Duration)))

	set := metric.WithAttributes(attrs...)
	o.toolCalls.Add(ctx, 1, set)
	o.toolDuration.Record(ctx, t.Duration.Seconds(), set)
}

func (o *OTel) RunFinished(ctx context.Context, r Run) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("braid.termination", r.Termination),
		attribute.Int("braid.steps", r.Steps),
		attribute.Int("gen_ai.usage.input_tokens", r.TotalUsage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", r.TotalUsage.OutputTokens),
	)
	if r.Err != nil {
		span.RecordError(r.Err)
		span.SetStatus(codes.Error, r.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
