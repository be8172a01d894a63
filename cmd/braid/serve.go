package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/spetersoncode/braid/agent"
	"github.com/spetersoncode/braid/streamlog"
)

func serveCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve runs over HTTP with resumable SSE delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireProvider(cfg); err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides BRAID_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg *Config) error {
	m, err := newModel(ctx, cfg)
	if err != nil {
		return err
	}
	opts, err := runOptions(cfg)
	if err != nil {
		return err
	}
	log, closeLog, err := newRunLog(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	broker := agent.NewApprovalBroker(agent.WithOnSubmit(func(req agent.ApprovalRequest) {
		slog.Info("approval requested", "approval_id", req.ApprovalID, "tool", req.ToolCall.Name)
	}))
	registry := newRegistry(cfg)
	srv := newServer(ctx, agent.New(m, registry, opts...), log, broker)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE needs no write timeout
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Addr, "provider", cfg.Provider, "tools", registry.Len())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	srv.cancelAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newRunLog picks the run log backend. Redis keeps runs resumable across
// server restarts and replicas.
func newRunLog(ctx context.Context, cfg *Config) (streamlog.Log, func(), error) {
	if cfg.RedisURL == "" {
		return streamlog.NewMemory(), func() {}, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse BRAID_REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	log, err := streamlog.NewRedis(streamlog.RedisOptions{Client: client, TTL: cfg.LogTTL})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	slog.Info("recording runs in redis", "addr", opts.Addr, "ttl", cfg.LogTTL)
	return log, func() { _ = client.Close() }, nil
}
