// Package google adapts the Gemini API (google.golang.org/genai) to
// model.Model.
//
// The API key is read from GEMINI_API_KEY or GOOGLE_API_KEY unless
// WithAPIKey is given.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/internal/provider"
	"github.com/spetersoncode/braid/model"
)

// Model streams from the Gemini API.
type Model struct {
	client *genai.Client
	model  string
}

type config struct {
	model  string
	client genai.ClientConfig
}

// Option configures a Model.
type Option func(*config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *config) { c.client.APIKey = key }
}

// WithModel sets the model id. Defaults to model.DefaultGoogleModel.
func WithModel(id string) Option {
	return func(c *config) { c.model = id }
}

// WithVertexAI uses the Vertex AI backend for the given project and
// location instead of the Gemini developer API.
func WithVertexAI(project, location string) Option {
	return func(c *config) {
		c.client.Backend = genai.BackendVertexAI
		c.client.Project = project
		c.client.Location = location
	}
}

// New creates a Gemini model.
func New(ctx context.Context, opts ...Option) (*Model, error) {
	c := config{
		model:  model.DefaultGoogleModel,
		client: genai.ClientConfig{Backend: genai.BackendGeminiAPI},
	}
	for _, opt := range opts {
		opt(&c)
	}
	client, err := genai.NewClient(ctx, &c.client)
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &Model{client: client, model: c.model}, nil
}

// Provider implements model.Model.
func (m *Model) Provider() string { return ai.ProviderGoogle.String() }

// ModelID implements model.Model.
func (m *Model) ModelID() string { return m.model }

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req *model.Request) (*model.Response, error) {
	id, contents, cfg, warnings, err := m.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Models.GenerateContent(ctx, id, contents, cfg)
	if err != nil {
		return nil, wrapError(err)
	}
	if err := blocked(resp); err != nil {
		return nil, err
	}

	out := &model.Response{
		ID:           resp.ResponseID,
		ModelID:      resp.ModelVersion,
		Timestamp:    time.Now(),
		FinishReason: ai.FinishReasonUnknown,
		Usage:        usage(resp.UsageMetadata),
		Warnings:     warnings,
	}
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				switch {
				case part.FunctionCall != nil:
					out.ToolCalls = append(out.ToolCalls, toolCall(part.FunctionCall))
				case part.Thought:
					out.Reasoning += part.Text
				default:
					out.Text += part.Text
				}
			}
		}
		out.FinishReason = finishReason(cand.FinishReason, len(out.ToolCalls) > 0)
	}
	return out, nil
}

// Stream implements model.Model.
func (m *Model) Stream(ctx context.Context, req *model.Request) (<-chan model.Chunk, error) {
	id, contents, cfg, warnings, err := m.params(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan model.Chunk)
	go func() {
		defer close(ch)
		if !model.Send(ctx, ch, model.StreamStart{Warnings: warnings}) {
			return
		}
		p := newProcessor(req.IncludeRaw)
		for resp, err := range m.client.Models.GenerateContentStream(ctx, id, contents, cfg) {
			if err != nil {
				model.Send(ctx, ch, model.Error{Err: wrapError(err)})
				return
			}
			if err := blocked(resp); err != nil {
				model.Send(ctx, ch, model.Error{Err: err})
				return
			}
			for _, c := range p.handle(resp) {
				if !model.Send(ctx, ch, c) {
					return
				}
			}
		}
		for _, c := range p.finish() {
			if !model.Send(ctx, ch, c) {
				return
			}
		}
	}()
	return ch, nil
}

// BlockedError reports a prompt rejected by content filtering.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("google: request blocked: %s", e.Reason)
}

func blocked(resp *genai.GenerateContentResponse) error {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return ai.NewUserInputError("request blocked", 0, &BlockedError{Reason: string(resp.PromptFeedback.BlockReason)})
	}
	return nil
}

func toolCall(fc *genai.FunctionCall) ai.ToolCall {
	id := fc.ID
	if id == "" {
		id = ai.GenerateID("call")
	}
	args, err := json.Marshal(fc.Args)
	if err != nil || fc.Args == nil {
		args = []byte("{}")
	}
	return ai.ToolCall{ID: id, Name: fc.Name, Input: args}
}

func usage(u *genai.GenerateContentResponseUsageMetadata) ai.Usage {
	if u == nil {
		return ai.Usage{}
	}
	return ai.Usage{
		InputTokens:       int(u.PromptTokenCount),
		OutputTokens:      int(u.CandidatesTokenCount),
		TotalTokens:       int(u.TotalTokenCount),
		ReasoningTokens:   int(u.ThoughtsTokenCount),
		CachedInputTokens: int(u.CachedContentTokenCount),
	}
}

func finishReason(reason genai.FinishReason, calledTools bool) ai.FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		if calledTools {
			return ai.FinishReasonToolCalls
		}
		return ai.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return ai.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist,
		genai.FinishReasonProhibitedContent, genai.FinishReasonSPII:
		return ai.FinishReasonContentFilter
	case "":
		if calledTools {
			return ai.FinishReasonToolCalls
		}
		return ai.FinishReasonUnknown
	default:
		return ai.FinishReasonOther
	}
}

// wrapError categorizes API errors. genai.APIError carries no headers, so
// there is no Retry-After to honor.
func wrapError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	return provider.Categorize(err, apiErr.Code, 0)
}

var _ model.Model = (*Model)(nil)
