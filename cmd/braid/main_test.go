package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/agent"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/model"
	"github.com/spetersoncode/braid/model/modeltest"
	"github.com/spetersoncode/braid/streamlog"
	"github.com/spetersoncode/braid/tool"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("BRAID_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("BRAID_MAX_STEPS", "4")
	t.Setenv("BRAID_TIMEOUT", "90s")
	t.Setenv("BRAID_TPM", "not-a-number")
	t.Setenv("BRAID_DEMO_TOOLS", "false")

	cfg := LoadConfig()
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 4, cfg.MaxSteps)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Zero(t, cfg.TokensPerMin)
	assert.False(t, cfg.DemoTools)
	assert.Equal(t, "ask", cfg.Approval)
	assert.Zero(t, cfg.MaxTokens)
	assert.Negative(t, cfg.Temperature)
	assert.False(t, cfg.SimulateStreaming)
	require.NoError(t, cfg.Validate())
}

func TestNewModel_CatalogDefault(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Provider: "anthropic", AnthropicKey: "k"}, model.DefaultAnthropicModel},
		{Config{Provider: "openai", OpenAIKey: "k"}, model.DefaultOpenAIModel},
		{Config{Provider: "openai", OpenAIKey: "k", Model: "gpt-5-mini"}, "gpt-5-mini"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			m, err := newModel(context.Background(), &tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.ModelID())
		})
	}
}

func TestMiddlewares(t *testing.T) {
	assert.Empty(t, middlewares(&Config{Temperature: -1}))

	cfg := &Config{MaxTokens: 100, Temperature: 0.5, SimulateStreaming: true}
	require.Len(t, middlewares(cfg), 2)

	m := modeltest.New(modeltest.TextStep("hi"))
	res, err := agent.New(model.Wrap(m, middlewares(cfg)...), nil).
		Run(context.Background(), []ai.Message{ai.NewUserMessage("hello")})
	require.NoError(t, err)
	text, err := res.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hi", text)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 100, reqs[0].Options.MaxTokens)
	require.NotNil(t, reqs[0].Options.Temperature)
	assert.InDelta(t, 0.5, *reqs[0].Options.Temperature, 1e-9)
}

func TestCostNote(t *testing.T) {
	usage := ai.Usage{InputTokens: 1_000_000, OutputTokens: 100_000}
	assert.Equal(t, ", ~$4.5000", costNote("claude-sonnet-4-5", usage))
	assert.Empty(t, costNote("mock-model", usage))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no provider", Config{Approval: "ask"}, "BRAID_PROVIDER is required"},
		{"missing key", Config{Provider: "anthropic", Approval: "ask"}, "ANTHROPIC_API_KEY"},
		{"vertex", Config{Provider: "vertex", VertexProject: "p", Approval: "ask"}, "VERTEX_LOCATION"},
		{"unknown", Config{Provider: "acme", Approval: "ask"}, "unknown provider"},
		{"approval", Config{Provider: "google", GoogleKey: "k", Approval: "maybe"}, "BRAID_APPROVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadPrompt(t *testing.T) {
	got, err := readPrompt([]string{"hello"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = readPrompt(nil, strings.NewReader("  from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	_, err = readPrompt(nil, strings.NewReader(" \n"))
	assert.ErrorIs(t, err, ai.ErrEmptyInput)
}

func TestPromptApprover(t *testing.T) {
	var out bytes.Buffer
	approver := promptApprover(strings.NewReader("y\nno\n"), &out)
	req := agent.ApprovalRequest{ApprovalID: "a1", ToolCall: ai.ToolCall{ID: "c1", Name: "send_email", Input: json.RawMessage(`{}`)}}

	d, err := approver.Approve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d.Approved)

	d, err = approver.Approve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, "rejected by user", d.Reason)

	d, err = approver.Approve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "no terminal input", d.Reason)

	assert.Contains(t, out.String(), "Allow send_email {}?")
}

func TestCLIApprover(t *testing.T) {
	assert.Nil(t, cliApprover("defer"))

	d, err := cliApprover("reject").Approve(context.Background(), agent.ApprovalRequest{})
	require.NoError(t, err)
	assert.False(t, d.Approved)

	d, err = cliApprover("auto").Approve(context.Background(), agent.ApprovalRequest{})
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestDemoTools(t *testing.T) {
	registry := newRegistry(&Config{DemoTools: true})
	assert.Equal(t, []string{"calculate", "get_time", "get_weather", "research", "send_email"}, registry.Names())

	email, ok := registry.Get("send_email")
	require.True(t, ok)
	require.NotNil(t, email.NeedsApproval)

	assert.Zero(t, newRegistry(&Config{}).Len())
}

func TestPrintText(t *testing.T) {
	m := modeltest.New(
		modeltest.ToolStep(modeltest.Call("c1", "calculate", map[string]any{"a": 2, "b": 3, "op": "mul"})),
		modeltest.TextStep("six"),
	)
	a := agent.New(m, newRegistry(&Config{DemoTools: true}))
	res := a.Stream(context.Background(), []ai.Message{ai.NewUserMessage("2*3?")})

	var out, status bytes.Buffer
	printText(context.Background(), res, m.ModelID(), &out, &status)
	require.NoError(t, res.Wait(context.Background()))

	assert.Equal(t, "six\n", out.String())
	assert.Contains(t, status.String(), "→ calculate")
	assert.Contains(t, status.String(), "← calculate 6")
	assert.Contains(t, status.String(), "-- complete after 2 steps")
}

func newTestServer(t *testing.T, m *modeltest.Model, registry *tool.Registry) (*server, *httptest.Server) {
	t.Helper()
	broker := agent.NewApprovalBroker()
	srv := newServer(context.Background(), agent.New(m, registry), streamlog.NewMemory(), broker)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(func() {
		srv.cancelAll()
		ts.Close()
	})
	return srv, ts
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeParts(t *testing.T, r io.Reader) []event.Envelope {
	t.Helper()
	dec := event.NewDecoder(r, event.FormatSSE)
	var out []event.Envelope
	for {
		env, err := dec.Decode()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, env)
	}
}

func TestServer_RunAndResume(t *testing.T) {
	_, ts := newTestServer(t, modeltest.New(modeltest.TextStep("hello there")), nil)

	resp := postJSON(t, ts.URL+"/v1/runs", runRequest{Messages: []ai.Message{ai.NewUserMessage("hi")}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	runID := resp.Header.Get("X-Run-ID")
	require.NotEmpty(t, runID)

	parts := decodeParts(t, resp.Body)
	require.NotEmpty(t, parts)
	assert.Equal(t, event.TypeStart, parts[0].Event.Type())
	last := parts[len(parts)-1]
	finish, ok := last.Event.(event.Finish)
	require.True(t, ok)
	assert.Equal(t, event.TerminationComplete, finish.Termination)

	// Resume after the third part.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/runs/"+runID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "3")
	resumed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resumed.Body.Close()

	rest := decodeParts(t, resumed.Body)
	require.Len(t, rest, len(parts)-3)
	assert.Equal(t, uint64(4), rest[0].Seq)
}

func TestServer_BadRequests(t *testing.T) {
	_, ts := newTestServer(t, modeltest.New(modeltest.TextStep("x")), nil)

	resp := postJSON(t, ts.URL+"/v1/runs", runRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/v1/runs/r1/events?after=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/runs/missing", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/approvals/missing", map[string]any{"approved": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type deleteArgs struct {
	Path string `json:"path"`
}

func TestServer_BrokerApproval(t *testing.T) {
	registry := tool.NewRegistry().Add(
		tool.Func("delete_file", "Delete a file", func(_ context.Context, in deleteArgs) (string, error) {
			return "deleted " + in.Path, nil
		}, tool.WithApproval(tool.Always())),
	)
	m := modeltest.New(
		modeltest.ToolStep(modeltest.Call("c1", "delete_file", map[string]string{"path": "/tmp/x"})),
		modeltest.TextStep("done"),
	)
	_, ts := newTestServer(t, m, registry)

	resp := postJSON(t, ts.URL+"/v1/runs", runRequest{
		Messages: []ai.Message{ai.NewUserMessage("delete it")},
		Approval: "broker",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pending []pendingApproval
	require.Eventually(t, func() bool {
		r, err := http.Get(ts.URL + "/v1/approvals")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		pending = nil
		return json.NewDecoder(r.Body).Decode(&pending) == nil && len(pending) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "delete_file", pending[0].ToolName)

	decided := postJSON(t, ts.URL+"/v1/approvals/"+pending[0].ApprovalID, map[string]any{"approved": true})
	assert.Equal(t, http.StatusNoContent, decided.StatusCode)

	var result event.ToolResult
	for _, env := range decodeParts(t, resp.Body) {
		if r, ok := env.Event.(event.ToolResult); ok {
			result = r
		}
	}
	assert.JSONEq(t, `"deleted /tmp/x"`, string(result.Output))
}

func TestServer_AGUI(t *testing.T) {
	m := modeltest.New(modeltest.TextStep("hi from agent"))
	srv, ts := newTestServer(t, m, tool.NewRegistry())

	resp := postJSON(t, ts.URL+"/agui", map[string]any{
		"thread_id": "thread-1",
		"run_id":    "run-1",
		"messages":  []map[string]any{{"id": "m1", "role": "user", "content": "hello"}},
		"tools": []map[string]any{{
			"name":        "confirm",
			"description": "Ask the user",
			"parameters":  map[string]any{"type": "object"},
		}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var types []string
	s := bufio.NewScanner(resp.Body)
	for s.Scan() {
		if name, ok := strings.CutPrefix(s.Text(), "event: "); ok {
			types = append(types, name)
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "RUN_STARTED", types[0])
	assert.Equal(t, "RUN_FINISHED", types[len(types)-1])
	assert.Contains(t, types, "TEXT_MESSAGE_CONTENT")

	// Frontend tools stay scoped to the request.
	assert.Zero(t, srv.agent.Tools().Len())
	reqs := m.Requests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "confirm", reqs[0].Tools[0].Name)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, modeltest.New(), nil)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
