package agent

import (
	"context"
	"slices"
	"time"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/internal/store"
	"github.com/spetersoncode/braid/merge"
	"github.com/spetersoncode/braid/model"
	"github.com/spetersoncode/braid/telemetry"
	"github.com/spetersoncode/braid/tool"
)

// Agent orchestrates multi-step generation with tool calls.
type Agent struct {
	model model.Model
	tools *tool.Registry
	opts  []Option
}

// New creates an Agent. opts are defaults for every run; options passed
// to Stream or Run are applied after them.
func New(m model.Model, tools *tool.Registry, opts ...Option) *Agent {
	if tools == nil {
		tools = tool.NewRegistry()
	}
	return &Agent{model: m, tools: tools, opts: opts}
}

// Model returns the default model.
func (a *Agent) Model() model.Model { return a.model }

// Tools returns the registry.
func (a *Agent) Tools() *tool.Registry { return a.tools }

// WithTools returns an Agent that shares a's model and default options
// but runs with tools.
func (a *Agent) WithTools(tools *tool.Registry) *Agent {
	return New(a.model, tools, a.opts...)
}

// Stream starts a run and returns immediately. The run proceeds whether or
// not the returned Result is consumed.
func (a *Agent) Stream(ctx context.Context, messages []ai.Message, opts ...Option) *Result {
	o := ApplyOptions(append(slices.Clone(a.opts), opts...)...)

	runCtx, cancel := context.WithCancelCause(ctx)
	stopTimer := context.CancelFunc(func() {})
	if o.Timeout > 0 {
		runCtx, stopTimer = context.WithTimeout(runCtx, o.Timeout)
	}

	id := ai.GenerateID("run")
	r := &run{
		agent:   a,
		opts:    o,
		id:      id,
		logger:  o.Logger.With("run_id", id),
		ctx:     runCtx,
		cancel:  cancel,
		emitCtx: context.WithoutCancel(runCtx),
		merger:  merge.New(merge.WithQueueSize(o.QueueSize)),
		history: store.NewHistory(messages),
		result:  newResult(id, cancel, o.ResponseFormat),
		start:   time.Now(),
	}
	// A fresh merger always accepts a writer.
	r.out, _ = r.merger.Writer(merge.Blocking())

	obs := telemetry.Run{RunID: id}
	if a.model != nil {
		obs.Model, obs.Provider = a.model.ModelID(), a.model.Provider()
	}
	r.telemetryCtx = o.Recorder.RunStarted(context.WithoutCancel(runCtx), obs)

	resume, unknown := collectResume(r.history)
	for _, approvalID := range unknown {
		r.logger.Warn("ignoring approval response without a matching request", "approval_id", approvalID)
	}
	go r.drain()
	go func() {
		defer stopTimer()
		r.loop(resume)
	}()
	return r.result
}

// Run executes a run to its end. The error is the run's fatal error;
// cancellation is reported through the Result's termination instead.
func (a *Agent) Run(ctx context.Context, messages []ai.Message, opts ...Option) (*Result, error) {
	res := a.Stream(ctx, messages, opts...)
	<-res.Done()
	return res, res.Wait(context.Background())
}
