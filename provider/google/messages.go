package google

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/internal/provider"
	"github.com/spetersoncode/braid/model"
)

func (m *Model) params(req *model.Request) (string, []*genai.Content, *genai.GenerateContentConfig, []string, error) {
	opts := req.Options
	id := m.model
	if opts.Model != "" {
		id = opts.Model
	}

	contents, system, err := convertMessages(req.System, req.Messages)
	if err != nil {
		return "", nil, nil, nil, err
	}
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.TopP != nil {
		cfg.TopP = genai.Ptr(float32(*opts.TopP))
	}
	if opts.Seed != nil {
		cfg.Seed = genai.Ptr(int32(*opts.Seed))
	}
	cfg.StopSequences = opts.StopSequences
	if len(opts.Headers) > 0 {
		h := http.Header{}
		for k, v := range opts.Headers {
			h.Set(k, v)
		}
		cfg.HTTPOptions = &genai.HTTPOptions{Headers: h}
	}

	tools, warnings := convertTools(req.Tools)
	if len(tools) > 0 {
		cfg.Tools = tools
		cfg.ToolConfig = convertToolChoice(req.ToolChoice)
	}
	if f := req.ResponseFormat; f != nil {
		// Gemini rejects a JSON mime type alongside function declarations.
		if len(tools) > 0 {
			warnings = append(warnings, "response format is not enforced by google when tools are present")
		} else {
			cfg.ResponseMIMEType = "application/json"
			cfg.ResponseSchema = convertSchema(f.Schema)
		}
	}
	return id, contents, cfg, warnings, nil
}

// convertMessages maps the history to Gemini contents. Function responses
// must carry the function name, which is recovered from the earlier call
// when the result does not record it.
func convertMessages(system string, messages []ai.Message) ([]*genai.Content, *genai.Content, error) {
	var (
		contents []*genai.Content
		sys      []*genai.Part
		names    = map[string]string{}
	)
	if system != "" {
		sys = append(sys, &genai.Part{Text: system})
	}

	for _, msg := range messages {
		var (
			role  = genai.RoleUser
			parts []*genai.Part
		)
		switch msg.Role {
		case ai.RoleSystem:
			if msg.Content != "" {
				sys = append(sys, &genai.Part{Text: msg.Content})
			}
			continue
		case ai.RoleUser:
			var err error
			if parts, err = userParts(msg); err != nil {
				return nil, nil, err
			}
		case ai.RoleAssistant:
			role = genai.RoleModel
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				if tc.ProviderExecuted {
					continue
				}
				names[tc.ID] = tc.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: provider.InputMap(tc.Input),
				}})
			}
		case ai.RoleTool:
			for _, tr := range msg.ToolResults {
				name := tr.ToolName
				if name == "" {
					name = names[tr.ToolCallID]
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       tr.ToolCallID,
					Name:     name,
					Response: functionResponse(tr),
				}})
			}
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	var instruction *genai.Content
	if len(sys) > 0 {
		instruction = &genai.Content{Parts: sys}
	}
	return contents, instruction, nil
}

func functionResponse(tr ai.ToolResult) map[string]any {
	key := "output"
	if tr.IsError {
		key = "error"
	}
	var v any
	if err := json.Unmarshal([]byte(tr.Content), &v); err != nil {
		v = tr.Content
	}
	return map[string]any{key: v}
}

func userParts(msg ai.Message) ([]*genai.Part, error) {
	if !msg.HasParts() {
		if msg.Content == "" {
			return nil, nil
		}
		return []*genai.Part{{Text: msg.Content}}, nil
	}
	var parts []*genai.Part
	for _, part := range msg.Parts {
		switch part.Type {
		case ai.ContentPartTypeText:
			if part.Text != "" {
				parts = append(parts, &genai.Part{Text: part.Text})
			}
		case ai.ContentPartTypeImage, ai.ContentPartTypeFile:
			mediaType := part.MediaType
			if mediaType == "" {
				mediaType = "image/jpeg"
			}
			switch {
			case part.Data != "":
				data, err := base64.StdEncoding.DecodeString(part.Data)
				if err != nil {
					return nil, fmt.Errorf("decode %s part: %w", part.Type, err)
				}
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mediaType}})
			case strings.HasPrefix(part.URL, "gs://"), strings.HasPrefix(part.URL, "https://"):
				parts = append(parts, &genai.Part{FileData: &genai.FileData{FileURI: part.URL, MIMEType: mediaType}})
			}
		}
	}
	return parts, nil
}

// convertTools maps function tools plus the built-in google_search and
// code_execution tools.
func convertTools(defs []ai.ToolDefinition) ([]*genai.Tool, []string) {
	var (
		funcs    []*genai.FunctionDeclaration
		tools    []*genai.Tool
		warnings []string
	)
	for _, def := range defs {
		if def.ProviderExecuted {
			switch def.Name {
			case "google_search":
				tools = append(tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
			case "code_execution":
				tools = append(tools, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
			default:
				warnings = append(warnings, fmt.Sprintf("provider tool %q is not supported by google", def.Name))
			}
			continue
		}
		funcs = append(funcs, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  convertSchema(def.InputSchema),
		})
	}
	if len(funcs) > 0 {
		tools = append([]*genai.Tool{{FunctionDeclarations: funcs}}, tools...)
	}
	return tools, warnings
}

func convertToolChoice(choice ai.ToolChoice) *genai.ToolConfig {
	cfg := &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto}
	if name, ok := choice.ToolName(); ok {
		cfg.Mode = genai.FunctionCallingConfigModeAny
		cfg.AllowedFunctionNames = []string{name}
	} else {
		switch choice {
		case ai.ToolChoiceNone:
			cfg.Mode = genai.FunctionCallingConfigModeNone
		case ai.ToolChoiceRequired:
			cfg.Mode = genai.FunctionCallingConfigModeAny
		}
	}
	return &genai.ToolConfig{FunctionCallingConfig: cfg}
}
