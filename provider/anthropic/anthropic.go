// Package anthropic adapts the Anthropic Messages API to model.Model.
//
//	m := anthropic.New(anthropic.WithModel("claude-sonnet-4-5"))
//	a := agent.New(m, tools)
//
// The API key is read from ANTHROPIC_API_KEY unless WithAPIKey is given.
package anthropic

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/internal/provider"
	"github.com/spetersoncode/braid/model"
)

const defaultMaxTokens = 4096

// Model streams from the Anthropic Messages API.
type Model struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

type config struct {
	model     string
	maxTokens int64
	reqOpts   []option.RequestOption
}

// Option configures a Model.
type Option func(*config)

// WithAPIKey sets the API key instead of reading ANTHROPIC_API_KEY.
func WithAPIKey(key string) Option {
	return func(c *config) { c.reqOpts = append(c.reqOpts, option.WithAPIKey(key)) }
}

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.reqOpts = append(c.reqOpts, option.WithBaseURL(url)) }
}

// WithModel sets the model id. Defaults to model.DefaultAnthropicModel.
func WithModel(id string) Option {
	return func(c *config) { c.model = id }
}

// WithMaxTokens sets the output limit used when a request sets none.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = int64(n) }
}

// WithRequestOptions passes options through to the SDK client.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(c *config) { c.reqOpts = append(c.reqOpts, opts...) }
}

// New creates an Anthropic model.
func New(opts ...Option) *Model {
	c := config{model: model.DefaultAnthropicModel, maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&c)
	}
	return &Model{
		client:    anthropic.NewClient(c.reqOpts...),
		model:     c.model,
		maxTokens: c.maxTokens,
	}
}

// Provider implements model.Model.
func (m *Model) Provider() string { return ai.ProviderAnthropic.String() }

// ModelID implements model.Model.
func (m *Model) ModelID() string { return m.model }

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, warnings, err := m.params(req)
	if err != nil {
		return nil, err
	}
	msg, err := m.client.Messages.New(ctx, params, headers(req)...)
	if err != nil {
		return nil, wrapError(err)
	}

	resp := &model.Response{
		ID:           msg.ID,
		ModelID:      string(msg.Model),
		Timestamp:    time.Now(),
		Usage: ai.Usage{
			InputTokens:       int(msg.Usage.InputTokens),
			OutputTokens:      int(msg.Usage.OutputTokens),
			CachedInputTokens: int(msg.Usage.CacheReadInputTokens),
		},
		Warnings: warnings,
	}
	var answered bool
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += b.Text
		case anthropic.ThinkingBlock:
			resp.Reasoning += b.Thinking
		case anthropic.ToolUseBlock:
			if req.ResponseFormat != nil && b.Name == answerToolName {
				resp.Text += string(b.Input)
				answered = true
				continue
			}
			resp.ToolCalls = append(resp.ToolCalls, ai.ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	resp.FinishReason = answerReason(string(msg.StopReason), answered, len(resp.ToolCalls) > 0)
	return resp, nil
}

// Stream implements model.Model.
func (m *Model) Stream(ctx context.Context, req *model.Request) (<-chan model.Chunk, error) {
	params, warnings, err := m.params(req)
	if err != nil {
		return nil, err
	}
	stream := m.client.Messages.NewStreaming(ctx, params, headers(req)...)

	ch := make(chan model.Chunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		if !model.Send(ctx, ch, model.StreamStart{Warnings: warnings}) {
			return
		}
		p := newProcessor(req.IncludeRaw, req.ResponseFormat != nil)
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
		model.Send(ctx, ch, p.finish())
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

func finishReason(reason string) ai.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return ai.FinishReasonStop
	case "max_tokens":
		return ai.FinishReasonLength
	case "tool_use":
		return ai.FinishReasonToolCalls
	case "refusal":
		return ai.FinishReasonContentFilter
	case "":
		return ai.FinishReasonUnknown
	default:
		return ai.FinishReasonOther
	}
}

func wrapError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	return provider.Categorize(err, apiErr.StatusCode, provider.RetryAfter(apiErr.Response))
}

var _ model.Model = (*Model)(nil)
