package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ai "github.com/spetersoncode/braid"
)

func TestCategorize(t *testing.T) {
	cause := errors.New("api said no")

	tests := []struct {
		code int
		want ai.ErrorCategory
	}{
		{429, ai.ErrorTransient},
		{503, ai.ErrorTransient},
		{401, ai.ErrorPermanent},
		{400, ai.ErrorUserInput},
		{418, ai.ErrorPermanent},
	}
	for _, tt := range tests {
		err := Categorize(cause, tt.code, 0)
		var cat *ai.Error
		require.ErrorAs(t, err, &cat)
		assert.Equal(t, tt.want, cat.Category(), "code %d", tt.code)
		assert.ErrorIs(t, err, cause)
	}

	err := Categorize(cause, 400, 2*time.Second)
	assert.True(t, ai.IsTransient(err))
	assert.Equal(t, 2*time.Second, ai.RetryAfterOf(err))
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Zero(t, RetryAfter(resp))
	assert.Zero(t, RetryAfter(nil))

	resp.Header.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, RetryAfter(resp))

	resp.Header.Set("Retry-After", time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
	assert.InDelta(t, float64(time.Minute), float64(RetryAfter(resp)), float64(2*time.Second))

	resp.Header.Set("Retry-After", "soon")
	assert.Zero(t, RetryAfter(resp))
}

func TestSchemaAndInputMaps(t *testing.T) {
	m, err := SchemaMap(nil)
	require.NoError(t, err)
	assert.Equal(t, "object", m["type"])

	m, err = SchemaMap(json.RawMessage(`{"type":"object","required":["a"]}`))
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, m["required"])

	_, err = SchemaMap(json.RawMessage(`{`))
	assert.Error(t, err)

	assert.Equal(t, map[string]any{"a": 1.0}, InputMap(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, map[string]any{"input": "x"}, InputMap(json.RawMessage(`"x"`)))
	assert.Equal(t, map[string]any{}, InputMap(nil))
}
