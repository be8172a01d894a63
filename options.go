package braid

// Options contains the call settings for a model request.
type Options struct {
	Model         string
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	StopSequences []string
	Seed          *int
	// Headers are extra HTTP headers sent with the provider request.
	Headers map[string]string
}

// Option is a functional option for configuring model requests.
type Option func(*Options)

// WithModel sets the model to use for the request.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

// WithTemperature sets the sampling temperature (0.0 to 2.0).
func WithTemperature(t float64) Option {
	return func(o *Options) {
		o.Temperature = &t
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(p float64) Option {
	return func(o *Options) {
		o.TopP = &p
	}
}

// WithStopSequences sets sequences that end generation.
func WithStopSequences(seqs ...string) Option {
	return func(o *Options) {
		o.StopSequences = append(o.StopSequences, seqs...)
	}
}

// WithSeed sets the sampling seed for providers that support it.
func WithSeed(seed int) Option {
	return func(o *Options) {
		o.Seed = &seed
	}
}

// WithHeader adds an HTTP header to the provider request.
func WithHeader(key, value string) Option {
	return func(o *Options) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// ApplyOptions applies functional options to an Options struct.
func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Merge returns a copy of o with every field set in other taking precedence.
func (o Options) Merge(other Options) Options {
	out := o
	if other.Model != "" {
		out.Model = other.Model
	}
	if other.MaxTokens > 0 {
		out.MaxTokens = other.MaxTokens
	}
	if other.Temperature != nil {
		out.Temperature = other.Temperature
	}
	if other.TopP != nil {
		out.TopP = other.TopP
	}
	if len(other.StopSequences) > 0 {
		out.StopSequences = other.StopSequences
	}
	if other.Seed != nil {
		out.Seed = other.Seed
	}
	if len(other.Headers) > 0 {
		merged := make(map[string]string, len(o.Headers)+len(other.Headers))
		for k, v := range o.Headers {
			merged[k] = v
		}
		for k, v := range other.Headers {
			merged[k] = v
		}
		out.Headers = merged
	}
	return out
}
