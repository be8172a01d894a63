package anthropic

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/internal/provider"
	"github.com/spetersoncode/braid/model"
)

func (m *Model) params(req *model.Request) (anthropic.MessageNewParams, []string, error) {
	opts := req.Options
	id := m.model
	if opts.Model != "" {
		id = opts.Model
	}
	maxTokens := m.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}

	msgs, system := convertMessages(req.System, req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(id),
		MaxTokens: maxTokens,
		Messages:  msgs,
		System:    system,
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = anthropic.Float(*opts.TopP)
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}

	var warnings []string
	if opts.Seed != nil {
		warnings = append(warnings, "seed is not supported by anthropic")
	}

	tools, skipped, err := convertTools(req.Tools)
	if err != nil {
		return params, nil, err
	}
	for _, name := range skipped {
		warnings = append(warnings, fmt.Sprintf("provider tool %q is not supported by anthropic", name))
	}
	if len(tools) > 0 {
		params.Tools = tools
		if choice, ok := convertToolChoice(req.ToolChoice); ok {
			params.ToolChoice = choice
		}
	}
	if req.ResponseFormat != nil {
		answer, err := answerTool(req.ResponseFormat)
		if err != nil {
			return params, nil, err
		}
		params.Tools = append(params.Tools, answer)
		// With no other tools the answer is the only way to respond.
		if len(tools) == 0 {
			params.ToolChoice = anthropic.ToolChoiceParamOfTool(answerToolName)
		}
	}
	return params, warnings, nil
}

// answerToolName names the tool whose input carries a JSON answer. The
// Messages API has no JSON mode, so the answer is requested as a call.
const answerToolName = "json_answer"

func answerTool(f *ai.ResponseFormat) (anthropic.ToolUnionParam, error) {
	schema, err := provider.SchemaMap(f.Schema)
	if err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("response format: %w", err)
	}
	if t, ok := schema["type"]; ok && t != "object" {
		return anthropic.ToolUnionParam{}, fmt.Errorf("response format: anthropic needs an object schema, got %v", t)
	}
	var required []string
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}
	desc := f.Description
	if desc == "" {
		desc = "Respond with the final answer as this tool's input."
	}
	return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
		Name:        answerToolName,
		Description: anthropic.String(desc),
		InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"], Required: required},
	}}, nil
}

// convertMessages maps the history to Anthropic messages. Tool results
// travel as user messages, and consecutive messages of the same role are
// merged because the API requires alternating roles.
func convertMessages(system string, messages []ai.Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var (
		out    []anthropic.MessageParam
		prompt []anthropic.TextBlockParam
	)
	if system != "" {
		prompt = append(prompt, anthropic.TextBlockParam{Text: system})
	}

	add := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range messages {
		switch msg.Role {
		case ai.RoleSystem:
			// Empty text blocks are rejected by the API.
			if msg.Content != "" {
				prompt = append(prompt, anthropic.TextBlockParam{Text: msg.Content})
			}
		case ai.RoleUser:
			add(anthropic.MessageParamRoleUser, userBlocks(msg))
		case ai.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				if tc.ProviderExecuted {
					continue
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, provider.InputMap(tc.Input), tc.Name))
			}
			add(anthropic.MessageParamRoleAssistant, blocks)
		case ai.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			add(anthropic.MessageParamRoleUser, blocks)
		}
	}
	return out, prompt
}

func userBlocks(msg ai.Message) []anthropic.ContentBlockParamUnion {
	if !msg.HasParts() {
		if msg.Content == "" {
			return nil
		}
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}
	}
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		switch part.Type {
		case ai.ContentPartTypeText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case ai.ContentPartTypeImage:
			if part.URL != "" {
				blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: part.URL}))
			} else if part.Data != "" {
				mediaType := part.MediaType
				if mediaType == "" {
					mediaType = "image/jpeg"
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, part.Data))
			}
		case ai.ContentPartTypeFile:
			if part.MediaType == "application/pdf" && part.Data != "" {
				blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: part.Data}))
			}
		}
	}
	return blocks
}

// convertTools maps function tools. Provider-executed tools other than
// web_search have no Anthropic equivalent and are returned as skipped.
func convertTools(defs []ai.ToolDefinition) ([]anthropic.ToolUnionParam, []string, error) {
	var (
		out     []anthropic.ToolUnionParam
		skipped []string
	)
	for _, def := range defs {
		if def.ProviderExecuted {
			if def.Name == "web_search" {
				out = append(out, anthropic.ToolUnionParam{OfWebSearchTool20250305: &anthropic.WebSearchTool20250305Param{}})
			} else {
				skipped = append(skipped, def.Name)
			}
			continue
		}

		schema, err := provider.SchemaMap(def.InputSchema)
		if err != nil {
			return nil, nil, fmt.Errorf("tool %s: %w", def.Name, err)
		}
		var required []string
		if req, ok := schema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		param := anthropic.ToolParam{
			Name:        def.Name,
			InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"], Required: required},
		}
		if def.Description != "" {
			param.Description = anthropic.String(def.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, skipped, nil
}

func convertToolChoice(choice ai.ToolChoice) (anthropic.ToolChoiceUnionParam, bool) {
	if name, ok := choice.ToolName(); ok {
		return anthropic.ToolChoiceParamOfTool(name), true
	}
	switch choice {
	case ai.ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}, true
	case ai.ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}, true
	case ai.ToolChoiceAuto:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}, true
	default:
		return anthropic.ToolChoiceUnionParam{}, false
	}
}
