// Command braid runs multi-step tool-calling generations from the command
// line, serves them over HTTP, or exposes the demo tools over MCP.
//
// Configuration is via environment variables (a .env file is loaded if
// present):
//
//	BRAID_PROVIDER     - anthropic, openai, google, or vertex (required)
//	BRAID_MODEL        - model override (default: the catalog default of the provider)
//	BRAID_MAX_STEPS    - max model steps per run (default: 10)
//	BRAID_RETRIES      - attempts per model invocation (default: 3)
//	BRAID_TIMEOUT      - run timeout (default: 2m)
//	BRAID_TOOL_TIMEOUT - per tool call timeout (default: 30s)
//	BRAID_TPM          - client-side tokens per minute limit (default: off)
//	BRAID_MAX_TOKENS   - default output token limit (default: provider)
//	BRAID_TEMPERATURE  - default sampling temperature (default: provider)
//	BRAID_SIMULATE_STREAMING - stream from single generate calls (default: false)
//	BRAID_APPROVAL     - ask, auto, reject, or defer (default: ask)
//	BRAID_DEMO_TOOLS   - register the demo tools (default: true)
//	BRAID_TELEMETRY    - record OpenTelemetry spans and metrics (default: false)
//	BRAID_LOG_LEVEL    - debug, info, warn, error (default: info)
//	BRAID_ADDR         - serve address (default: :8000)
//	BRAID_REDIS_URL    - store run logs in Redis instead of memory
//	BRAID_LOG_TTL      - Redis run log retention (default: 24h)
//	ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY
//	VERTEX_PROJECT, VERTEX_LOCATION
//
// Usage:
//
//	braid run "What's the weather in Paris?"
//	braid run --format jsonl "Summarize https://go.dev"
//	braid serve
//	braid mcp
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := LoadConfig()
	slog.SetDefault(newLogger(cfg.LogLevel))

	root := &cobra.Command{
		Use:           "braid",
		Short:         "Streaming generation with tool orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(cfg), serveCommand(cfg), mcpCommand(cfg))

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05.000",
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindAny {
				if _, ok := a.Value.Any().(error); ok {
					return tint.Attr(9, a)
				}
			}
			return a
		},
	})
	return slog.New(handler)
}

func requireProvider(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	return nil
}
