// Package tool defines tools the model can call and the registry that
// resolves them.
//
// A [Tool] is a capability record: name, input schema, an optional Execute
// function, an optional approval gate and an optional transform that shapes
// the result sent back to the model. A tool without Execute is a client
// tool; its calls are surfaced to the caller, who supplies the result.
//
// # Basic Usage
//
// Define the input as a struct and build the tool with [Func]:
//
//	type WeatherInput struct {
//	    City string `json:"city" jsonschema:"description=City name"`
//	}
//
//	registry := tool.NewRegistry().Add(
//	    tool.Func("get_weather", "Get current weather",
//	        func(ctx context.Context, in WeatherInput) (string, error) {
//	            return lookup(in.City), nil
//	        }),
//	)
//
// # Approval
//
// Gate a tool behind human approval with [Always] or [When]:
//
//	tool.Func("delete_file", "Delete a file", deleteFile,
//	    tool.WithApproval(tool.Always()))
//
// # Streaming Results
//
// Execute may return a [Stream]; each value is surfaced as a preliminary
// result and the last value becomes the final result. Tools can also push
// arbitrary parts with [Call.Emit].
package tool
