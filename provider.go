package braid

// Provider names the vendor behind a model adapter.
type Provider string

func (p Provider) String() string { return string(p) }

// Providers with adapters under provider/.
const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
)
