package openai

import (
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/model"
)

func (m *Model) params(req *model.Request) (openai.ChatCompletionNewParams, []string, error) {
	opts := req.Options
	id := m.model
	if opts.Model != "" {
		id = opts.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    id,
		Messages: convertMessages(req.System, req.Messages),
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = openai.Float(*opts.TopP)
	}
	if opts.Seed != nil {
		params.Seed = openai.Int(int64(*opts.Seed))
	}
	if len(opts.StopSequences) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopSequences}
	}

	if req.ResponseFormat != nil {
		format, err := convertResponseFormat(req.ResponseFormat)
		if err != nil {
			return params, nil, err
		}
		params.ResponseFormat = format
	}

	var warnings []string
	tools, err := convertTools(req.Tools)
	if err != nil {
		return params, nil, err
	}
	for _, def := range req.Tools {
		if def.ProviderExecuted {
			warnings = append(warnings, fmt.Sprintf("provider tool %q is not supported by openai chat completions", def.Name))
		}
	}
	if len(tools) > 0 {
		params.Tools = tools
		if choice, ok := convertToolChoice(req.ToolChoice); ok {
			params.ToolChoice = choice
		}
	}
	return params, warnings, nil
}

// convertMessages maps the history to chat messages. Each tool result
// becomes its own tool message.
func convertMessages(system string, messages []ai.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case ai.RoleSystem:
			if msg.Content != "" {
				out = append(out, openai.SystemMessage(msg.Content))
			}
		case ai.RoleUser:
			if msg.HasParts() {
				if parts := userParts(msg.Parts); len(parts) > 0 {
					out = append(out, openai.UserMessage(parts))
				}
			} else if msg.Content != "" {
				out = append(out, openai.UserMessage(msg.Content))
			}
		case ai.RoleAssistant:
			out = append(out, assistantMessage(msg)...)
		case ai.RoleTool:
			for _, tr := range msg.ToolResults {
				out = append(out, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		}
	}
	return out
}

func assistantMessage(msg ai.Message) []openai.ChatCompletionMessageParamUnion {
	var calls []openai.ChatCompletionMessageToolCallParam
	for _, tc := range msg.ToolCalls {
		if tc.ProviderExecuted {
			continue
		}
		args := string(tc.Input)
		if args == "" {
			args = "{}"
		}
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID:       tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{Name: tc.Name, Arguments: args},
		})
	}
	if len(calls) == 0 {
		if msg.Content == "" {
			return nil
		}
		return []openai.ChatCompletionMessageParamUnion{openai.AssistantMessage(msg.Content)}
	}

	param := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
	if msg.Content != "" {
		param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
	}
	return []openai.ChatCompletionMessageParamUnion{{OfAssistant: &param}}
}

func userParts(parts []ai.ContentPart) []openai.ChatCompletionContentPartUnionParam {
	var out []openai.ChatCompletionContentPartUnionParam
	for _, part := range parts {
		switch part.Type {
		case ai.ContentPartTypeText:
			if part.Text != "" {
				out = append(out, openai.TextContentPart(part.Text))
			}
		case ai.ContentPartTypeImage:
			url := part.URL
			if url == "" && part.Data != "" {
				mediaType := part.MediaType
				if mediaType == "" {
					mediaType = "image/jpeg"
				}
				url = fmt.Sprintf("data:%s;base64,%s", mediaType, part.Data)
			}
			if url != "" {
				out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
			}
		}
	}
	return out
}

// convertResponseFormat maps a schema to json_schema mode and a bare
// format to json_object mode.
func convertResponseFormat(f *ai.ResponseFormat) (openai.ChatCompletionNewParamsResponseFormatUnion, error) {
	if len(f.Schema) == 0 {
		return openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}, nil
	}
	var schema map[string]any
	if err := json.Unmarshal(f.Schema, &schema); err != nil {
		return openai.ChatCompletionNewParamsResponseFormatUnion{}, fmt.Errorf("response format: decode schema: %w", err)
	}
	// Strict mode rejects objects that allow extra properties.
	if f.Strict {
		closeObjects(schema)
	}
	name := f.Name
	if name == "" {
		name = "response"
	}
	js := shared.ResponseFormatJSONSchemaJSONSchemaParam{Name: name, Schema: schema}
	if f.Description != "" {
		js.Description = openai.String(f.Description)
	}
	if f.Strict {
		js.Strict = openai.Bool(true)
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{JSONSchema: js},
	}, nil
}

// closeObjects sets additionalProperties to false on every object schema.
func closeObjects(schema map[string]any) {
	if schema == nil {
		return
	}
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if m, ok := p.(map[string]any); ok {
				closeObjects(m)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		closeObjects(items)
	}
}

// convertTools maps function tools. Provider-executed tools are left out.
func convertTools(defs []ai.ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	var out []openai.ChatCompletionToolParam
	for _, def := range defs {
		if def.ProviderExecuted {
			continue
		}
		var params shared.FunctionParameters
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &params); err != nil {
				return nil, fmt.Errorf("tool %s: decode schema: %w", def.Name, err)
			}
		}
		fn := shared.FunctionDefinitionParam{Name: def.Name, Parameters: params}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out, nil
}

func convertToolChoice(choice ai.ToolChoice) (openai.ChatCompletionToolChoiceOptionUnionParam, bool) {
	if name, ok := choice.ToolName(); ok {
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: name},
			},
		}, true
	}
	switch choice {
	case ai.ToolChoiceAuto, ai.ToolChoiceNone, ai.ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(string(choice))}, true
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{}, false
	}
}
