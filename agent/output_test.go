package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/model"
	"github.com/spetersoncode/braid/model/modeltest"
)

type forecast struct {
	City  string `json:"city"`
	TempC int    `json:"temp_c"`
}

func TestAgent_DecodeOutput(t *testing.T) {
	m := modeltest.New(
		toolCallStep(model.ToolCall{ID: "c1", ToolName: "echo", Input: `{"msg":"a"}`}),
		modeltest.TextStep(`{"city":"Oslo","temp_c":4}`),
	)
	res, err := New(m, registry(echoTool())).Run(context.Background(), nil, WithOutput[forecast]("forecast"))
	require.NoError(t, err)

	got, err := DecodeOutput[forecast](context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, forecast{City: "Oslo", TempC: 4}, got)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	for _, req := range reqs {
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "forecast", req.ResponseFormat.Name)
		assert.JSONEq(t, string(ai.SchemaFor[forecast]()), string(req.ResponseFormat.Schema))
	}
}

func TestResult_Output(t *testing.T) {
	format := ai.FormatFor[forecast]("forecast", "")

	tests := []struct {
		name    string
		text    string
		format  *ai.ResponseFormat
		want    string
		wantErr error
		invalid bool
	}{
		{name: "plain json", text: `{"city":"Oslo","temp_c":4}`, format: format, want: `{"city":"Oslo","temp_c":4}`},
		{name: "fenced json", text: "```json\n{\"city\":\"Oslo\",\"temp_c\":4}\n```", format: format, want: `{"city":"Oslo","temp_c":4}`},
		{name: "any json without schema", text: ` [1,2] `, format: &ai.ResponseFormat{}, want: `[1,2]`},
		{name: "empty text", text: "", format: format, wantErr: ErrNoOutput},
		{name: "not json", text: "it is cold", format: format, invalid: true},
		{name: "schema mismatch", text: `{"city":4,"temp_c":"cold"}`, format: format, invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := modeltest.New(modeltest.TextStep(tt.text))
			res, err := New(m, nil).Run(context.Background(), nil, WithResponseFormat(tt.format))
			require.NoError(t, err)

			out, err := res.Output(context.Background())
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.invalid:
				var oe *OutputError
				require.ErrorAs(t, err, &oe)
				assert.Equal(t, tt.text, oe.Text)
			default:
				require.NoError(t, err)
				assert.JSONEq(t, tt.want, string(out))
			}
		})
	}
}

func TestDecodeOutput_TypeMismatch(t *testing.T) {
	m := modeltest.New(modeltest.TextStep(`["Oslo"]`))
	res, err := New(m, nil).Run(context.Background(), nil, WithResponseFormat(&ai.ResponseFormat{}))
	require.NoError(t, err)

	_, err = DecodeOutput[forecast](context.Background(), res)
	var oe *OutputError
	assert.ErrorAs(t, err, &oe)
}
