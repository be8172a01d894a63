// Package braid streams multi-step model generations and orchestrates the
// tool calls they make.
//
// The root package holds the provider-neutral vocabulary shared by every
// other package: messages, tool calls and results, usage, finish reasons,
// request options and the error categories used for retries. The work
// happens in the subpackages:
//
//   - [github.com/spetersoncode/braid/event]: the stream parts a run emits
//   - [github.com/spetersoncode/braid/assembler]: turns model chunks into parts
//   - [github.com/spetersoncode/braid/merge]: merges concurrent part writers
//   - [github.com/spetersoncode/braid/tool]: tool definitions and the registry
//   - [github.com/spetersoncode/braid/agent]: the step loop and run results
//   - [github.com/spetersoncode/braid/model]: the interface provider adapters implement,
//     with adapters under provider/anthropic, provider/openai and provider/google
//
// # Basic Usage
//
//	m := anthropic.New(anthropic.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
//
//	registry := tool.NewRegistry().Add(
//	    tool.Func("get_weather", "Get the weather for a city", getWeather),
//	)
//
//	a := agent.New(m, registry, agent.WithMaxSteps(5))
//	res := a.Stream(ctx, []braid.Message{braid.NewUserMessage("Weather in Paris?")})
//
//	for part := range res.Events(ctx) {
//	    if d, ok := part.(event.TextDelta); ok {
//	        fmt.Print(d.Delta)
//	    }
//	}
//	if err := res.Wait(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// A Result can be consumed more than once: every call to Events replays the
// run from its first part, and the run proceeds whether or not anyone reads.
//
// # Approvals
//
// Tools created with [github.com/spetersoncode/braid/tool.WithApproval] are
// held until an approver decides. Without an approver the run ends with the
// approval_pending termination; resume it by appending
// [NewApprovalResponseMessage] to the conversation and streaming again.
package braid
