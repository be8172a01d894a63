// Package openai adapts the OpenAI Chat Completions API to model.Model.
//
// The API key is read from OPENAI_API_KEY unless WithAPIKey is given.
// WithBaseURL targets any compatible server.
package openai

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/internal/provider"
	"github.com/spetersoncode/braid/model"
)

// Model streams from the OpenAI Chat Completions API.
type Model struct {
	client openai.Client
	model  string
}

type config struct {
	model   string
	reqOpts []option.RequestOption
}

// Option configures a Model.
type Option func(*config)

// WithAPIKey sets the API key instead of reading OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *config) { c.reqOpts = append(c.reqOpts, option.WithAPIKey(key)) }
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.reqOpts = append(c.reqOpts, option.WithBaseURL(url)) }
}

// WithModel sets the model id. Defaults to model.DefaultOpenAIModel.
func WithModel(id string) Option {
	return func(c *config) { c.model = id }
}

// WithRequestOptions passes options through to the SDK client.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *config) { c.reqOpts = append(c.reqOpts, opts...) }
}

// New creates an OpenAI model.
func New(opts ...Option) *Model {
	c := config{model: model.DefaultOpenAIModel}
	for _, opt := range opts {
		opt(&c)
	}
	return &Model{client: openai.NewClient(c.reqOpts...), model: c.model}
}

// Provider implements model.Model.
func (m *Model) Provider() string { return ai.ProviderOpenAI.String() }

// ModelID implements model.Model.
func (m *Model) ModelID() string { return m.model }

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, warnings, err := m.params(req)
	if err != nil {
		return nil, err
	}
	completion, err := m.client.Chat.Completions.New(ctx, params, headers(req)...)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, ai.NewTransientError("openai: response has no choices", 0, nil)
	}

	choice := completion.Choices[0]
	resp := &model.Response{
		ID:           completion.ID,
		ModelID:      completion.Model,
		Timestamp:    time.Unix(completion.Created, 0),
		Text:         choice.Message.Content,
		FinishReason: finishReason(choice.FinishReason),
		Usage:        usage(completion.Usage),
		Warnings:     warnings,
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ai.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: []byte(tc.Function.Arguments),
		})
	}
	return resp, nil
}

// Stream implements model.Model.
func (m *Model) Stream(ctx context.Context, req *model.Request) (<-chan model.Chunk, error) {
	params, warnings, err := m.params(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := m.client.Chat.Completions.NewStreaming(ctx, params, headers(req)...)

	ch := make(chan model.Chunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		if !model.Send(ctx, ch, model.StreamStart{Warnings: warnings}) {
			return
		}
		p := newProcessor(req.IncludeRaw)
		for stream.Next() {
			for _, c := range p.handle(stream.Current()) {
				if !model.Send(ctx, ch, c) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			model.Send(ctx, ch, model.Error{Err: wrapError(err)})
			return
		}
		for _, c := range p.finish() {
			if !model.Send(ctx, ch, c) {
				return
			}
		}
	}()
	return ch, nil
}

func headers(req *model.Request) []option.RequestOption {
	var opts []option.RequestOption
	for k, v := range req.Options.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return opts
}

func usage(u openai.CompletionUsage) ai.Usage {
	return ai.Usage{
		InputTokens:       int(u.PromptTokens),
		OutputTokens:      int(u.CompletionTokens),
		TotalTokens:       int(u.TotalTokens),
		ReasoningTokens:   int(u.CompletionTokensDetails.ReasoningTokens),
		CachedInputTokens: int(u.PromptTokensDetails.CachedTokens),
	}
}

func finishReason(reason string) ai.FinishReason {
	switch reason {
	case "stop":
		return ai.FinishReasonStop
	case "length":
		return ai.FinishReasonLength
	case "tool_calls", "function_call":
		return ai.FinishReasonToolCalls
	case "content_filter":
		return ai.FinishReasonContentFilter
	case "":
		return ai.FinishReasonUnknown
	default:
		return ai.FinishReasonOther
	}
}

func wrapError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return provider.Categorize(err, apiErr.StatusCode, provider.RetryAfter(apiErr.Response))
}

var _ model.Model = (*Model)(nil)
