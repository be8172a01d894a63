package assembler

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/model"
)

// chunkScript turns a list of op codes into a chunk sequence that an honest
// adapter could produce, including tool input that never completes.
func chunkScript(ops []int) []model.Chunk {
	var (
		chunks    []model.Chunk
		text      []string
		reasoning []string
		inputs    []string
		next      int
	)
	pieces := []string{`{"msg":`, `"hi"`, `}`}
	written := map[string]int{}

	for _, op := range ops {
		switch op {
		case 0:
			next++
			id := fmt.Sprintf("t%d", next)
			text = append(text, id)
			chunks = append(chunks, model.TextStart{ID: id})
		case 1:
			if len(text) > 0 {
				chunks = append(chunks, model.TextDelta{ID: text[len(text)-1], Delta: "x"})
			}
		case 2:
			if len(text) > 0 {
				chunks = append(chunks, model.TextEnd{ID: text[0]})
				text = text[1:]
			}
		case 3:
			next++
			id := fmt.Sprintf("r%d", next)
			reasoning = append(reasoning, id)
			chunks = append(chunks, model.ReasoningStart{ID: id})
		case 4:
			if len(reasoning) > 0 {
				chunks = append(chunks, model.ReasoningDelta{ID: reasoning[0], Delta: "y"})
			}
		case 5:
			if len(reasoning) > 0 {
				chunks = append(chunks, model.ReasoningEnd{ID: reasoning[len(reasoning)-1]})
				reasoning = reasoning[:len(reasoning)-1]
			}
		case 6:
			next++
			id := fmt.Sprintf("c%d", next)
			inputs = append(inputs, id)
			chunks = append(chunks, model.ToolInputStart{ID: id, ToolName: "echo"})
		case 7:
			if len(inputs) > 0 {
				id := inputs[0]
				if n := written[id]; n < len(pieces) {
					chunks = append(chunks, model.ToolInputDelta{ID: id, Delta: pieces[n]})
					written[id] = n + 1
				}
			}
		case 8:
			if len(inputs) > 0 {
				chunks = append(chunks, model.ToolInputEnd{ID: inputs[0]})
				inputs = inputs[1:]
			}
		case 9:
			next++
			input := `{"msg":"ok"}`
			if next%2 == 0 {
				input = `{"msg":`
			}
			chunks = append(chunks, model.ToolCall{ID: fmt.Sprintf("c%d", next), ToolName: "echo", Input: input})
		}
	}
	return chunks
}

func TestAssembler_WellFormedProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("assembled parts always validate", prop.ForAll(
		func(ops []int) bool {
			a := New(Options{Tools: echoTools()})
			var out []event.Event
			for _, c := range chunkScript(ops) {
				evs, err := a.Push(context.Background(), c)
				if err != nil {
					return false
				}
				out = append(out, evs...)
			}
			out = append(out, a.Flush(context.Background())...)
			return event.ValidateAll(wrap(out)) == nil
		},
		gen.SliceOf(gen.IntRange(0, 9)),
	))

	properties.Property("invalid calls are followed by their tool error", prop.ForAll(
		func(ops []int) bool {
			a := New(Options{Tools: echoTools()})
			var out []event.Event
			for _, c := range chunkScript(ops) {
				evs, _ := a.Push(context.Background(), c)
				out = append(out, evs...)
			}
			out = append(out, a.Flush(context.Background())...)
			for i, e := range out {
				call, ok := e.(event.ToolCall)
				if !ok || !call.Invalid {
					continue
				}
				if i+1 >= len(out) {
					return false
				}
				terr, ok := out[i+1].(event.ToolError)
				if !ok || terr.ToolCallID != call.ToolCallID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 9)),
	))

	properties.TestingRun(t)
}
