package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	ai "github.com/spetersoncode/braid"
)

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	ctx := context.Background()
	assert.Equal(t, ctx, r.RunStarted(ctx, Run{RunID: "r"}))
	r.StepFinished(ctx, Step{})
	r.ToolFinished(ctx, Tool{})
	r.RunFinished(ctx, Run{})
}

func TestOTel(t *testing.T) {
	o, err := NewOTel(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	require.NoError(t, err)

	var r Recorder = o
	ctx := r.RunStarted(context.Background(), Run{RunID: "run-1", Model: "m", Provider: "mock"})
	assert.NotNil(t, trace.SpanFromContext(ctx))

	start := time.Now()
	r.StepFinished(ctx, Step{RunID: "run-1", Step: 1, FinishReason: ai.FinishReasonStop, Usage: ai.Usage{InputTokens: 3}, Start: start, Duration: time.Second})
	r.ToolFinished(ctx, Tool{RunID: "run-1", ToolName: "echo", Outcome: "error", Start: start, Err: errors.New("boom")})
	r.RunFinished(ctx, Run{RunID: "run-1", Termination: "complete", Steps: 1})
}
