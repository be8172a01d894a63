package mcp

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spetersoncode/braid/tool"
)

// RemoteRegistry holds the tools offered by one MCP server. Each tool
// executes by calling the server.
type RemoteRegistry struct {
	client *client.Client

	mu    sync.RWMutex
	tools map[string]tool.Tool
}

// NewRemoteRegistry starts command as a subprocess and talks MCP to it over
// stdio.
//
// Example:
//
//	remote, err := mcp.NewRemoteRegistry(ctx, "./my-mcp-server", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer remote.Close()
func NewRemoteRegistry(ctx context.Context, command string, env []string, args ...string) (*RemoteRegistry, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}
	return NewRemoteRegistryFromClient(ctx, c)
}

// NewRemoteRegistrySSE connects to an MCP server over SSE.
func NewRemoteRegistrySSE(ctx context.Context, baseURL string) (*RemoteRegistry, error) {
	c, err := client.NewSSEMCPClient(baseURL)
	if err != nil {
		return nil, fmt.Errorf("create sse mcp client: %w", err)
	}
	return NewRemoteRegistryFromClient(ctx, c)
}

// NewRemoteRegistryFromClient starts and initializes c, then fetches its
// tools. The registry owns c from then on.
func NewRemoteRegistryFromClient(ctx context.Context, c *client.Client) (*RemoteRegistry, error) {
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp client: %w", err)
	}

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: "braid-mcp-client", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, init); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}

	r := &RemoteRegistry{client: c, tools: make(map[string]tool.Tool)}
	if err := r.Refresh(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	return r, nil
}

// Close closes the connection to the server.
func (r *RemoteRegistry) Close() error {
	return r.client.Close()
}

// Refresh refetches the tool list from the server.
func (r *RemoteRegistry) Refresh(ctx context.Context) error {
	result, err := r.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return err
	}

	tools := make(map[string]tool.Tool, len(result.Tools))
	for _, t := range result.Tools {
		tools[t.Name] = FromMCPTool(t, r.client)
	}

	r.mu.Lock()
	r.tools = tools
	r.mu.Unlock()
	return nil
}

// Tools returns the remote tools sorted by name.
func (r *RemoteRegistry) Tools() []tool.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]tool.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	slices.SortFunc(tools, func(a, b tool.Tool) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return tools
}

// Get returns the named remote tool.
func (r *RemoteRegistry) Get(name string) (tool.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether the server offers the named tool.
func (r *RemoteRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of remote tools.
func (r *RemoteRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// RegisterAll adds every remote tool to reg, with opts applied to each.
// It stops at the first name conflict.
func (r *RemoteRegistry) RegisterAll(reg *tool.Registry, opts ...tool.Option) error {
	for _, t := range r.Tools() {
		for _, opt := range opts {
			opt(&t)
		}
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
