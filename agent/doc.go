// Package agent runs the step loop: it invokes a model, turns its stream
// into canonical parts, executes the requested tools and feeds the results
// back until the model stops asking for tools.
//
// # Basic Usage
//
// Register tools, then create an agent:
//
//	type WeatherArgs struct {
//	    Location string `json:"location" jsonschema:"description=City name"`
//	}
//
//	registry := tool.NewRegistry()
//	registry.MustRegister(tool.Func("get_weather", "Get current weather",
//	    func(ctx context.Context, args WeatherArgs) (string, error) {
//	        return fmt.Sprintf("72F in %s", args.Location), nil
//	    },
//	))
//
//	a := agent.New(m, registry)
//	res, err := a.Run(ctx, messages, agent.WithMaxSteps(5))
//	text, _ := res.Text(ctx)
//
// # Streaming
//
// Stream returns at once. The parts can be iterated while the futures are
// awaited, in any order; every call to Events replays from the start:
//
//	res := a.Stream(ctx, messages)
//	for e := range res.Events(ctx) {
//	    if d, ok := e.(event.TextDelta); ok {
//	        fmt.Print(d.Delta)
//	    }
//	}
//	usage, err := res.TotalUsage(ctx)
//
// Tool failures, unknown tools and invalid input never fail the run; they
// become tool-error parts and are sent back to the model. Only model errors
// after retries and malformed provider streams end a run with an error part.
//
// # Human-in-the-Loop Approval
//
// Tools built with tool.WithApproval wait for a decision before executing.
// With an Approver the run waits in place:
//
//	broker := agent.NewApprovalBroker()
//	res := a.Stream(ctx, messages, agent.WithApprover(broker.Approver()))
//	// elsewhere: broker.Approve(approvalID)
//
// Without one, the run finishes with termination approval_pending. Answer
// by appending ai.NewApprovalResponseMessage to the conversation and
// calling Stream again; approved calls execute before the first model step.
//
// # Termination
//
// A run ends with exactly one finish or error part. The finish part records
// why the run ended:
//
//   - complete: the model made no tool calls the engine could resolve
//   - max_steps: WithMaxSteps was reached (default 10)
//   - stop_condition: a WithStopWhen condition matched
//   - client_tool_call: a tool without an executor was called
//   - approval_pending: calls wait for a decision from the caller
//   - cancelled, timeout: the run context ended
package agent
