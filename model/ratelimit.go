package model

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	ai "github.com/spetersoncode/braid"
)

// RateLimiter throttles model calls by estimated tokens per minute. It halves
// its budget when the provider reports rate limiting and recovers gradually
// after successful calls.
type RateLimiter struct {
	mu         sync.Mutex
	limiter    *rate.Limiter
	currentTPM float64
	minTPM     float64
	maxTPM     float64
	recovery   float64
}

// NewRateLimiter creates a limiter starting at tpm tokens per minute.
func NewRateLimiter(tpm float64) *RateLimiter {
	if tpm <= 0 {
		tpm = 60000
	}
	minTPM := max(tpm*0.1, 1)
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(tpm/60.0), int(tpm)),
		currentTPM: tpm,
		minTPM:     minTPM,
		maxTPM:     tpm,
		recovery:   max(tpm*0.05, 1),
	}
}

// Middleware returns the limiter as a model middleware.
func (l *RateLimiter) Middleware() Middleware {
	return func(next Model) Model {
		return &limited{Model: next, limiter: l}
	}
}

// TPM returns the current tokens-per-minute budget.
func (l *RateLimiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func (l *RateLimiter) wait(ctx context.Context, req *Request) error {
	l.mu.Lock()
	burst := l.limiter.Burst()
	l.mu.Unlock()
	return l.limiter.WaitN(ctx, min(estimateTokens(req), burst))
}

func (l *RateLimiter) observe(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM
	switch {
	case err == nil:
		next = min(l.currentTPM+l.recovery, l.maxTPM)
	case ai.StatusCodeOf(err) == 429:
		next = max(l.currentTPM*0.5, l.minTPM)
	}
	if next == l.currentTPM {
		return
	}
	l.currentTPM = next
	l.limiter.SetLimit(rate.Limit(next / 60.0))
	l.limiter.SetBurst(int(next))
}

type limited struct {
	Model
	limiter *RateLimiter
}

func (m *limited) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := m.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	resp, err := m.Model.Generate(ctx, req)
	m.limiter.observe(err)
	return resp, err
}

func (m *limited) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	if err := m.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	ch, err := m.Model.Stream(ctx, req)
	m.limiter.observe(err)
	return ch, err
}

// estimateTokens approximates prompt size at four characters per token,
// plus a fixed allowance for the response.
func estimateTokens(req *Request) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Text()) + len(m.Reasoning)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Input)
		}
		for _, tr := range m.ToolResults {
			chars += len(tr.Content)
		}
	}
	for _, t := range req.Tools {
		chars += len(t.Description) + len(t.InputSchema)
	}
	return chars/4 + 500
}
