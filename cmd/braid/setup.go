package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/agent"
	"github.com/spetersoncode/braid/model"
	"github.com/spetersoncode/braid/provider/anthropic"
	"github.com/spetersoncode/braid/provider/google"
	"github.com/spetersoncode/braid/provider/openai"
	"github.com/spetersoncode/braid/telemetry"
	"github.com/spetersoncode/braid/tool"
	"github.com/spetersoncode/braid/transform"
)

// providerOf maps a configured provider name to the catalog provider.
func providerOf(name string) ai.Provider {
	switch name {
	case "anthropic":
		return ai.ProviderAnthropic
	case "openai":
		return ai.ProviderOpenAI
	case "google", "vertex":
		return ai.ProviderGoogle
	}
	return ""
}

// newModel builds the configured provider adapter with the client-side
// middleware applied. Without BRAID_MODEL the catalog default of the
// provider is used.
func newModel(ctx context.Context, cfg *Config) (model.Model, error) {
	id := cfg.Model
	if id == "" {
		id = model.DefaultFor(providerOf(cfg.Provider))
	}
	if _, known := model.Lookup(id); !known {
		slog.Warn("model not in catalog, costs will not be reported", "model", id)
	}

	var m model.Model
	switch cfg.Provider {
	case "anthropic":
		m = anthropic.New(anthropic.WithAPIKey(cfg.AnthropicKey), anthropic.WithModel(id))
	case "openai":
		m = openai.New(openai.WithAPIKey(cfg.OpenAIKey), openai.WithModel(id))
	case "google", "vertex":
		opts := []google.Option{google.WithAPIKey(cfg.GoogleKey)}
		if cfg.Provider == "vertex" {
			opts = []google.Option{google.WithVertexAI(cfg.VertexProject, cfg.VertexLocation)}
		}
		g, err := google.New(ctx, append(opts, google.WithModel(id))...)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		m = g
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
	return model.Wrap(m, middlewares(cfg)...), nil
}

func middlewares(cfg *Config) []model.Middleware {
	var mws []model.Middleware
	if cfg.TokensPerMin > 0 {
		mws = append(mws, model.NewRateLimiter(cfg.TokensPerMin).Middleware())
	}
	var defaults []ai.Option
	if cfg.MaxTokens > 0 {
		defaults = append(defaults, ai.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.Temperature >= 0 {
		defaults = append(defaults, ai.WithTemperature(cfg.Temperature))
	}
	if len(defaults) > 0 {
		mws = append(mws, model.DefaultSettings(defaults...))
	}
	if cfg.SimulateStreaming {
		mws = append(mws, model.SimulateStreaming())
	}
	return mws
}

// newRegistry returns the tools available to runs.
func newRegistry(cfg *Config) *tool.Registry {
	registry := tool.NewRegistry()
	if cfg.DemoTools {
		registerDemoTools(registry)
		slog.Debug("registered demo tools", "names", registry.Names())
	}
	return registry
}

// runOptions are the defaults applied to every run.
func runOptions(cfg *Config) ([]agent.Option, error) {
	opts := []agent.Option{
		agent.WithMaxSteps(cfg.MaxSteps),
		agent.WithTimeout(cfg.Timeout),
		agent.WithHandlerTimeout(cfg.HandlerTimeout),
		agent.WithRetry(ai.NewRetryConfig(cfg.Retries, 2*time.Second, 30*time.Second, 2.0, 0.1)),
		agent.WithTransform(transform.Smooth()),
		agent.WithLogger(slog.Default()),
	}
	if cfg.Telemetry {
		rec, err := telemetry.NewOTel(otel.GetTracerProvider(), otel.GetMeterProvider())
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithRecorder(rec))
	}
	return opts, nil
}
