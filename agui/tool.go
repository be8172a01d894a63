package agui

import (
	"encoding/json"

	"github.com/spetersoncode/braid/tool"
)

// Tool is a tool definition sent by an AG-UI frontend. The frontend runs
// these tools itself, so they become client tools: a run that calls one
// pauses and hands the call back.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ClientTool converts the definition to a client tool.
func (t Tool) ClientTool() tool.Tool {
	return tool.Client(t.Name, t.Description, t.Parameters)
}

// ParseTools decodes the loosely typed tools field of RunAgentInput.
func ParseTools(raw []any) ([]Tool, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var tools []Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// ClientTools converts frontend tools to client tools.
func ClientTools(tools []Tool) []tool.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]tool.Tool, len(tools))
	for i, t := range tools {
		result[i] = t.ClientTool()
	}
	return result
}

// ToolNames extracts the names from a slice of tools.
func ToolNames(tools []Tool) []string {
	if len(tools) == 0 {
		return nil
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
