package model

import ai "github.com/spetersoncode/braid"

// Pricing contains pricing per million tokens (USD).
// Fields are zero if not applicable to a specific provider's model.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
	// CachedInputPerMillion applies to prompt-cached input tokens.
	CachedInputPerMillion float64
}

// Cost estimates the USD cost of usage.
func (p Pricing) Cost(u ai.Usage) float64 {
	input := float64(u.InputTokens)
	var cached float64
	if p.CachedInputPerMillion > 0 && u.CachedInputTokens > 0 {
		cached = float64(u.CachedInputTokens)
		input -= cached
	}
	return input/1e6*p.InputPerMillion +
		cached/1e6*p.CachedInputPerMillion +
		float64(u.OutputTokens)/1e6*p.OutputPerMillion
}

// Info describes a known model.
type Info struct {
	ID       string
	Provider ai.Provider
	Pricing  Pricing
}

// Model pricing last verified: December 14, 2025
var catalog = []Info{
	{"claude-opus-4-5", ai.ProviderAnthropic, Pricing{InputPerMillion: 5.00, OutputPerMillion: 25.00}},
	{"claude-sonnet-4-5", ai.ProviderAnthropic, Pricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}},
	{"claude-haiku-4-5", ai.ProviderAnthropic, Pricing{InputPerMillion: 1.00, OutputPerMillion: 5.00}},
	{"gpt-5.2", ai.ProviderOpenAI, Pricing{InputPerMillion: 1.75, OutputPerMillion: 14.00, CachedInputPerMillion: 0.175}},
	{"gpt-5", ai.ProviderOpenAI, Pricing{InputPerMillion: 1.25, OutputPerMillion: 10.00, CachedInputPerMillion: 0.125}},
	{"gpt-5-mini", ai.ProviderOpenAI, Pricing{InputPerMillion: 0.25, OutputPerMillion: 1.00, CachedInputPerMillion: 0.025}},
	{"o4-mini", ai.ProviderOpenAI, Pricing{InputPerMillion: 0.50, OutputPerMillion: 2.00, CachedInputPerMillion: 0.05}},
	{"gemini-2.5-pro", ai.ProviderGoogle, Pricing{InputPerMillion: 1.25, OutputPerMillion: 10.00}},
	{"gemini-2.5-flash", ai.ProviderGoogle, Pricing{InputPerMillion: 0.15, OutputPerMillion: 0.60}},
}

// Default model ids per provider.
const (
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOpenAIModel    = "gpt-5.2"
	DefaultGoogleModel    = "gemini-2.5-flash"
)

// Lookup returns catalog information for a model id.
func Lookup(id string) (Info, bool) {
	for _, info := range catalog {
		if info.ID == id {
			return info, true
		}
	}
	return Info{}, false
}

// DefaultFor returns the default model id for a provider.
func DefaultFor(p ai.Provider) string {
	switch p {
	case ai.ProviderAnthropic:
		return DefaultAnthropicModel
	case ai.ProviderOpenAI:
		return DefaultOpenAIModel
	case ai.ProviderGoogle:
		return DefaultGoogleModel
	}
	return ""
}
