package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	aguievents "github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/agent"
	"github.com/spetersoncode/braid/agui"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/streamlog"
)

// server runs generations in the background and delivers their parts from
// the run log, so a client can disconnect and resume where it left off.
type server struct {
	base   context.Context
	agent  *agent.Agent
	log    streamlog.Log
	broker *agent.ApprovalBroker

	mu   sync.Mutex
	runs map[string]*agent.Result
}

func newServer(base context.Context, a *agent.Agent, log streamlog.Log, broker *agent.ApprovalBroker) *server {
	return &server{
		base:   context.WithoutCancel(base),
		agent:  a,
		log:    log,
		broker: broker,
		runs:   make(map[string]*agent.Result),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", s.handleStartRun)
	mux.HandleFunc("GET /v1/runs/{id}/events", s.handleEvents)
	mux.HandleFunc("DELETE /v1/runs/{id}", s.handleCancel)
	mux.HandleFunc("GET /v1/approvals", s.handlePending)
	mux.HandleFunc("POST /v1/approvals/{id}", s.handleDecide)
	mux.HandleFunc("POST /agui", s.handleAGUI)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return corsMiddleware(mux)
}

type runRequest struct {
	Messages    []ai.Message `json:"messages"`
	System      string       `json:"system,omitempty"`
	ActiveTools []string     `json:"activeTools,omitempty"`
	MaxSteps    int          `json:"maxSteps,omitempty"`
	// Approval is "broker" to wait for decisions posted to
	// /v1/approvals, or "defer" to end the run with approval_pending.
	Approval string `json:"approval,omitempty"`
}

func (req *runRequest) options(broker *agent.ApprovalBroker) []agent.Option {
	var opts []agent.Option
	if req.System != "" {
		opts = append(opts, agent.WithSystem(req.System))
	}
	if len(req.ActiveTools) > 0 {
		opts = append(opts, agent.WithActiveTools(req.ActiveTools...))
	}
	if req.MaxSteps > 0 {
		opts = append(opts, agent.WithMaxSteps(req.MaxSteps))
	}
	if req.Approval == "broker" {
		opts = append(opts, agent.WithApprover(broker.Approver()))
	}
	return opts
}

// start launches a run that outlives the request and records its parts.
func (s *server) start(a *agent.Agent, messages []ai.Message, opts ...agent.Option) *agent.Result {
	res := a.Stream(s.base, messages, opts...)
	id := res.RunID()

	s.mu.Lock()
	s.runs[id] = res
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.runs, id)
			s.mu.Unlock()
		}()
		if err := streamlog.Record(s.base, s.log, id, res.Events(s.base)); err != nil {
			slog.Error("recording run failed", "run_id", id, "error", err)
			res.Cancel()
		}
	}()
	return res
}

func (s *server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, res := range s.runs {
		res.Cancel()
	}
}

func (s *server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Messages) == 0 {
		http.Error(w, ai.ErrEmptyInput.Error(), http.StatusBadRequest)
		return
	}

	res := s.start(s.agent, req.Messages, req.options(s.broker)...)
	log := slog.With("run_id", res.RunID())
	log.Info("run started", "message_count", len(req.Messages))

	w.Header().Set("X-Run-ID", res.RunID())
	s.stream(w, r, res.RunID(), 0, log)
}

// handleEvents resumes delivery after the sequence in Last-Event-ID or the
// after query parameter.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	after, err := resumePoint(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.stream(w, r, id, after, slog.With("run_id", id))
}

func resumePoint(r *http.Request) (uint64, error) {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("after")
	}
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid resume point %q", raw)
	}
	return after, nil
}

func (s *server) stream(w http.ResponseWriter, r *http.Request, runID string, after uint64, log *slog.Logger) {
	fw, ok := newFlushWriter(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	start := time.Now()
	last, err := streamlog.Replay(r.Context(), s.log, runID, after, event.NewEncoder(fw, event.FormatSSE))
	switch {
	case err == nil:
		log.Info("delivery completed", "last_seq", last, "duration_ms", time.Since(start).Milliseconds())
	case errors.Is(err, context.Canceled):
		log.Info("client disconnected", "last_seq", last)
	default:
		log.Error("delivery failed", "last_seq", last, "error", err)
	}
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	res, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "run not active", http.StatusNotFound)
		return
	}
	res.Cancel()
	w.WriteHeader(http.StatusAccepted)
}

type pendingApproval struct {
	ApprovalID string          `json:"approvalId"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input"`
}

func (s *server) handlePending(w http.ResponseWriter, _ *http.Request) {
	pending := s.broker.Pending()
	out := make([]pendingApproval, len(pending))
	for i, req := range pending {
		out[i] = pendingApproval{
			ApprovalID: req.ApprovalID,
			ToolCallID: req.ToolCall.ID,
			ToolName:   req.ToolCall.Name,
			Input:      req.ToolCall.Input,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var input agui.ApprovalInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	input.ApprovalID = r.PathValue("id")
	if err := agui.HandleApproval(s.broker, &input); err != nil {
		if errors.Is(err, agent.ErrApprovalNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAGUI runs an agent for an AG-UI frontend. Frontend tools join the
// server tools for this request only; approvals are deferred to the next
// request through forwarded_props.
func (s *server) handleAGUI(w http.ResponseWriter, r *http.Request) {
	var input agui.RunAgentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	prepared, err := input.Prepare()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	registry := s.agent.Tools().Clone()
	if _, err := prepared.RegisterTools(registry); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a := s.agent.WithTools(registry)

	fw, ok := newFlushWriter(w)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	res := s.start(a, prepared.Messages)
	log := slog.With("run_id", res.RunID(), "thread_id", prepared.ThreadID)
	log.Info("agui run started", "message_count", len(prepared.Messages), "frontend_tools", prepared.ToolNames)

	runID := prepared.RunID
	if runID == "" {
		runID = res.RunID()
	}
	mapper := agui.NewMapper(prepared.ThreadID, runID)

	var count int
	for ev := range mapper.MapStream(res.Events(r.Context())) {
		if err := writeAGUI(fw, ev); err != nil {
			log.Error("failed to write agui event", "event_type", ev.Type(), "error", err)
			return
		}
		count++
	}
	log.Info("agui run delivered", "events_sent", count)
}

func writeAGUI(w io.Writer, ev aguievents.Event) error {
	data, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type(), data)
	return err
}

// flushWriter flushes after every write so each SSE frame is delivered
// immediately.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newFlushWriter(w http.ResponseWriter) (*flushWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &flushWriter{w: w, f: f}, true
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Run-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
