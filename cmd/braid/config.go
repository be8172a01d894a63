package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings loaded from environment variables.
type Config struct {
	LogLevel string // debug, info, warn, error

	// Provider selection
	Provider string
	Model    string

	// API keys
	AnthropicKey string
	OpenAIKey    string
	GoogleKey    string

	// Vertex AI (uses ADC for auth)
	VertexProject  string
	VertexLocation string

	// Run settings
	MaxSteps       int
	Retries        int // attempts per model invocation
	Timeout        time.Duration
	HandlerTimeout time.Duration
	TokensPerMin   float64
	MaxTokens      int     // 0 leaves the provider default
	Temperature    float64 // negative leaves the provider default
	Approval       string  // ask, auto, reject, defer
	DemoTools      bool
	Telemetry      bool

	// SimulateStreaming serves streams from single Generate calls, for
	// endpoints that cannot stream.
	SimulateStreaming bool

	// Server
	Addr     string
	RedisURL string
	LogTTL   time.Duration
}

// LoadConfig reads the configuration, loading a .env file first if one
// exists.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:       getEnv("BRAID_LOG_LEVEL", "info"),
		Provider:       strings.ToLower(os.Getenv("BRAID_PROVIDER")),
		Model:          os.Getenv("BRAID_MODEL"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		GoogleKey:      os.Getenv("GOOGLE_API_KEY"),
		VertexProject:  os.Getenv("VERTEX_PROJECT"),
		VertexLocation: os.Getenv("VERTEX_LOCATION"),
		MaxSteps:       getEnvInt("BRAID_MAX_STEPS", 10),
		Retries:        getEnvInt("BRAID_RETRIES", 3),
		Timeout:        getEnvDuration("BRAID_TIMEOUT", 2*time.Minute),
		HandlerTimeout: getEnvDuration("BRAID_TOOL_TIMEOUT", 30*time.Second),
		TokensPerMin:   getEnvFloat("BRAID_TPM", 0),
		MaxTokens:      getEnvInt("BRAID_MAX_TOKENS", 0),
		Temperature:    getEnvFloat("BRAID_TEMPERATURE", -1),
		Approval:       getEnv("BRAID_APPROVAL", "ask"),
		DemoTools:      getEnvBool("BRAID_DEMO_TOOLS", true),
		Telemetry:      getEnvBool("BRAID_TELEMETRY", false),
		Addr:           getEnv("BRAID_ADDR", ":8000"),
		RedisURL:       os.Getenv("BRAID_REDIS_URL"),
		LogTTL:         getEnvDuration("BRAID_LOG_TTL", 24*time.Hour),
	}
	cfg.SimulateStreaming = getEnvBool("BRAID_SIMULATE_STREAMING", false)
	return cfg
}

// Validate checks that the selected provider has its credentials.
func (c *Config) Validate() error {
	switch c.Provider {
	case "":
		return fmt.Errorf("BRAID_PROVIDER is required (anthropic, openai, google, or vertex)")
	case "anthropic":
		if c.AnthropicKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case "openai":
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case "google":
		if c.GoogleKey == "" {
			return fmt.Errorf("GOOGLE_API_KEY is required for the google provider")
		}
	case "vertex":
		if c.VertexProject == "" || c.VertexLocation == "" {
			return fmt.Errorf("VERTEX_PROJECT and VERTEX_LOCATION are required for the vertex provider")
		}
	default:
		return fmt.Errorf("unknown provider: %s (must be anthropic, openai, google, or vertex)", c.Provider)
	}

	switch c.Approval {
	case "ask", "auto", "reject", "defer":
	default:
		return fmt.Errorf("BRAID_APPROVAL must be ask, auto, reject, or defer, got %q", c.Approval)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
