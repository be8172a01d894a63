package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spetersoncode/braid/tool"
)

// ErrApprovalRequired is reported for calls whose tool asks for a human
// decision. An MCP server has nobody to ask.
var ErrApprovalRequired = errors.New("tool call requires approval")

// ServerOption configures a server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	name    string
	version string
}

// WithName sets the server name reported to MCP clients.
func WithName(name string) ServerOption {
	return func(c *serverConfig) { c.name = name }
}

// WithVersion sets the server version reported to MCP clients.
func WithVersion(version string) ServerOption {
	return func(c *serverConfig) { c.version = version }
}

// NewServer creates an MCP server offering the executable tools of
// registry. Client and provider-executed tools are left out. Inputs and
// outputs are checked against the tool schemas.
//
// Example:
//
//	s := mcp.NewServer(registry, mcp.WithName("my-tools"))
//	server.ServeStdio(s)
func NewServer(registry *tool.Registry, opts ...ServerOption) *server.MCPServer {
	cfg := &serverConfig{name: "braid-mcp-server", version: "1.0.0"}
	for _, opt := range opts {
		opt(cfg)
	}

	s := server.NewMCPServer(cfg.name, cfg.version, server.WithToolCapabilities(true))

	set := registry.Subset()
	for _, name := range set.Names() {
		t, _ := set.Lookup(name)
		if t.Execute == nil || t.ProviderExecuted {
			continue
		}
		s.AddTool(ToMCPTool(t), handler(set, t))
	}
	return s
}

func handler(set *tool.Set, t *tool.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := run(ctx, set, t, req)
		return ToMCPCallToolResult(output, err), nil
	}
}

func run(ctx context.Context, set *tool.Set, t *tool.Tool, req mcp.CallToolRequest) (json.RawMessage, error) {
	raw := "{}"
	if req.Params.Arguments != nil {
		data, err := json.Marshal(req.Params.Arguments)
		if err != nil {
			return nil, err
		}
		raw = string(data)
	}
	input, err := set.CheckInput(t.Name, raw)
	if err != nil {
		return nil, err
	}

	call := tool.NewCall("mcp_"+uuid.NewString(), t.Name, input, nil, nil)
	if t.NeedsApproval != nil {
		needs, err := t.NeedsApproval(ctx, call)
		if err != nil {
			return nil, err
		}
		if needs {
			return nil, ErrApprovalRequired
		}
	}

	out, err := t.Execute(ctx, call)
	if err != nil {
		return nil, err
	}
	if s, ok := out.(tool.Stream); ok {
		if out, err = drain(ctx, s); err != nil {
			return nil, err
		}
	}

	output, ok := out.(json.RawMessage)
	if !ok {
		if output, err = json.Marshal(out); err != nil {
			return nil, err
		}
	}
	if err := set.CheckOutput(t, output); err != nil {
		return nil, err
	}
	return output, nil
}

// drain returns the last value of a streaming tool. MCP results are not
// incremental, so preliminary values are dropped.
func drain(ctx context.Context, s tool.Stream) (any, error) {
	var last any
	for {
		select {
		case v, ok := <-s:
			if !ok {
				if last == nil {
					return nil, errors.New("tool stream ended without output")
				}
				return last, nil
			}
			if err, isErr := v.(error); isErr {
				return nil, err
			}
			last = v
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ServeStdio serves registry as an MCP server over stdin and stdout.
func ServeStdio(registry *tool.Registry, opts ...ServerOption) error {
	return server.ServeStdio(NewServer(registry, opts...))
}
