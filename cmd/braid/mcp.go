package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/spetersoncode/braid/mcp"
)

func mcpCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the registered tools over MCP on stdio",
		Long: "Serve the registered tools over MCP on stdio. Tools that need\n" +
			"approval are refused, since an MCP client cannot be asked.",
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			registry := newRegistry(cfg)
			// stdout carries the protocol.
			slog.Info("serving tools over mcp", "tools", registry.Names())
			return mcp.ServeStdio(registry, mcp.WithName("braid-tools"))
		},
	}
}
