// Package agui connects braid runs with the AG-UI protocol.
//
// AG-UI (Agent-User Interface) is an event-based protocol for connecting
// agents to user-facing applications. This package converts canonical
// stream parts to AG-UI events and AG-UI requests to run input.
//
// The package does not provide HTTP handlers. Write events with the
// transport of your choice, for example the AG-UI SDK's SSE writer.
//
// # Usage
//
//	input, err := req.Prepare()
//	cleanup, err := input.RegisterTools(registry)
//	defer cleanup()
//
//	result := a.Stream(ctx, input.Messages)
//	mapper := agui.NewMapper(input.ThreadID, input.RunID)
//	for ev := range mapper.MapStream(result.Events(ctx)) {
//	    writeEvent(ev)
//	}
//
// # Event Mapping
//
//   - start, finish, error become RUN_STARTED, RUN_FINISHED, RUN_ERROR
//   - text spans become TEXT_MESSAGE_START/CONTENT/END
//   - reasoning spans become THINKING events
//   - tool input and calls become TOOL_CALL_START/ARGS/END
//   - final tool results, errors and denials become TOOL_CALL_RESULT
//   - approvals, progress, sources, files and data become CUSTOM events
//
// Frontend tools are registered as client tools. When the model calls
// one, the run ends with the client_tool_call termination and the
// frontend sends the result back as a tool message in the next request.
//
// A Mapper is not safe for concurrent use. The conversion functions are.
package agui
