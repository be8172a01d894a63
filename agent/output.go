package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/spetersoncode/braid/tool"
)

var (
	outputValidator = tool.NewValidator()
	errNotJSON      = errors.New("not valid JSON")
)

// Output returns the JSON answer of a run started with WithResponseFormat
// or WithOutput. The answer is the text of the last step; a surrounding
// markdown code fence is stripped. It fails with ErrNoOutput when the last
// step produced no text and with an *OutputError when the text is not
// JSON or does not match the schema.
func (r *Result) Output(ctx context.Context) (json.RawMessage, error) {
	text, err := await(ctx, r, func() string {
		if len(r.steps) == 0 {
			return ""
		}
		return r.steps[len(r.steps)-1].Text
	})
	if err != nil {
		return nil, err
	}

	data := unfence([]byte(text))
	if len(data) == 0 {
		return nil, ErrNoOutput
	}
	if !json.Valid(data) {
		return nil, &OutputError{Text: text, Err: errNotJSON}
	}
	if r.format != nil {
		if err := outputValidator.Validate(r.format.Schema, data); err != nil {
			return nil, &OutputError{Text: text, Err: err}
		}
	}
	return json.RawMessage(data), nil
}

// DecodeOutput waits for the run and decodes its JSON answer into T.
func DecodeOutput[T any](ctx context.Context, r *Result) (T, error) {
	var out T
	data, err := r.Output(ctx)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &OutputError{Text: string(data), Err: err}
	}
	return out, nil
}

// unfence trims whitespace and a ``` or ```json fence around the answer.
func unfence(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if !bytes.HasPrefix(b, []byte("```")) || !bytes.HasSuffix(b, []byte("```")) || len(b) < 6 {
		return b
	}
	b = b[3 : len(b)-3]
	if i := bytes.IndexByte(b, '\n'); i >= 0 && !bytes.ContainsAny(b[:i], "{[\"") {
		b = b[i+1:]
	}
	return bytes.TrimSpace(b)
}
