// Package mcp connects braid tools with the Model Context Protocol.
//
// The integration runs both ways:
//
//   - Server: expose a [tool.Registry] as an MCP server so MCP clients can
//     discover and call the tools.
//   - Client: connect to an MCP server and use its tools in a run through a
//     [RemoteRegistry].
//
// # Exposing Tools as an MCP Server
//
//	registry := tool.NewRegistry().Add(
//	    tool.Func("weather", "Get weather", weatherHandler),
//	)
//
//	if err := mcp.ServeStdio(registry); err != nil {
//	    log.Fatal(err)
//	}
//
// # Consuming MCP Servers
//
//	remote, err := mcp.NewRemoteRegistry(ctx, "./my-mcp-server", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer remote.Close()
//
//	registry := tool.NewRegistry()
//	if err := remote.RegisterAll(registry); err != nil {
//	    log.Fatal(err)
//	}
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spetersoncode/braid/tool"
)

// Caller issues tool calls against an MCP server. *client.Client
// implements it.
type Caller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// RemoteError is the failure reported by an MCP tool result flagged as an
// error.
type RemoteError struct {
	Tool    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "mcp tool " + e.Tool + " failed"
	}
	return "mcp tool " + e.Tool + ": " + e.Message
}

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToMCPTool converts a tool to its MCP description.
func ToMCPTool(t *tool.Tool) mcp.Tool {
	schema := t.InputSchema
	if len(schema) == 0 {
		schema = emptyObjectSchema
	}
	return mcp.NewToolWithRawSchema(t.Name, t.Description, schema)
}

// FromMCPTool converts an MCP tool into a tool whose Execute calls the
// remote server through caller.
func FromMCPTool(t mcp.Tool, caller Caller) tool.Tool {
	name := t.Name
	return tool.Tool{
		Name:        name,
		Description: t.Description,
		InputSchema: inputSchema(t),
		Execute: func(ctx context.Context, call tool.Call) (any, error) {
			result, err := caller.CallTool(ctx, callRequest(name, call.Input))
			if err != nil {
				return nil, err
			}
			return resultOutput(name, result)
		},
	}
}

func inputSchema(t mcp.Tool) json.RawMessage {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema
	}
	data, err := json.Marshal(t.InputSchema)
	if err != nil {
		return emptyObjectSchema
	}
	return data
}

func callRequest(name string, input json.RawMessage) mcp.CallToolRequest {
	var args any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			args = string(input)
		}
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// resultOutput turns a call result into a tool output. Structured content
// wins over text; a single text block becomes a JSON string.
func resultOutput(name string, result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, &RemoteError{Tool: name, Message: "empty result"}
	}
	text := resultText(result)
	if result.IsError {
		return nil, &RemoteError{Tool: name, Message: text}
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	return text, nil
}

func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch content := c.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		default:
			if data, err := json.Marshal(content); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ToMCPCallToolResult converts a tool output or failure to an MCP result.
// JSON strings become text content, objects are sent as structured content
// with a JSON text fallback, and other values as JSON text.
func ToMCPCallToolResult(output json.RawMessage, err error) *mcp.CallToolResult {
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) {
			return mcp.NewToolResultError(remote.Message)
		}
		return mcp.NewToolResultError(err.Error())
	}
	var s string
	if json.Unmarshal(output, &s) == nil {
		return mcp.NewToolResultText(s)
	}
	if bytes.HasPrefix(bytes.TrimSpace(output), []byte("{")) {
		return mcp.NewToolResultStructured(output, string(output))
	}
	return mcp.NewToolResultText(string(output))
}
