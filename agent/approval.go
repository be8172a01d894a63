package agent

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	ai "github.com/spetersoncode/braid"
)

// ApprovalRequest asks for a decision on one tool call.
type ApprovalRequest struct {
	ApprovalID string
	ToolCall   ai.ToolCall
}

// Decision is the answer to an ApprovalRequest.
type Decision struct {
	Approved bool
	// Reason explains a rejection. It is surfaced in the denied part and
	// sent back to the model.
	Reason string
}

// Approver decides approval requests while the run waits. An error fails
// the call with a tool error.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

// Approve implements Approver.
func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	return f(ctx, req)
}

// AutoApprove approves every request.
func AutoApprove() Approver {
	return ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
		return Decision{Approved: true}, nil
	})
}

// AutoReject rejects every request with reason.
func AutoReject(reason string) Approver {
	return ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
		return Decision{Reason: reason}, nil
	})
}

// ApprovalBroker routes decisions from another goroutine, typically a UI
// transport, to runs waiting for approval.
//
// Usage:
//
//	broker := agent.NewApprovalBroker()
//	go func() {
//	    for d := range frontendDecisions {
//	        broker.Decide(d.ApprovalID, agent.Decision{Approved: d.OK})
//	    }
//	}()
//	res := a.Stream(ctx, messages, agent.WithApprover(broker.Approver()))
type ApprovalBroker struct {
	mu       sync.Mutex
	pending  map[string]*waiting
	seq      uint64
	timeout  time.Duration
	onSubmit func(req ApprovalRequest)
}

type waiting struct {
	req ApprovalRequest
	seq uint64
	ch  chan Decision
}

// ApprovalBrokerOption configures an ApprovalBroker.
type ApprovalBrokerOption func(*ApprovalBroker)

// WithApprovalTimeout sets how long a request waits before it is rejected.
func WithApprovalTimeout(d time.Duration) ApprovalBrokerOption {
	return func(b *ApprovalBroker) { b.timeout = d }
}

// WithOnSubmit sets a callback that's called when a request starts waiting.
func WithOnSubmit(fn func(req ApprovalRequest)) ApprovalBrokerOption {
	return func(b *ApprovalBroker) { b.onSubmit = fn }
}

// NewApprovalBroker creates a broker. The default timeout is 5 minutes.
func NewApprovalBroker(opts ...ApprovalBrokerOption) *ApprovalBroker {
	b := &ApprovalBroker{
		pending: make(map[string]*waiting),
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Approver returns the broker as an Approver.
func (b *ApprovalBroker) Approver() Approver {
	return ApproverFunc(b.wait)
}

// Decide delivers a decision for the request with the given approval id.
func (b *ApprovalBroker) Decide(approvalID string, d Decision) error {
	b.mu.Lock()
	w, ok := b.pending[approvalID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrApprovalNotFound, approvalID)
	}

	// Only the first decision counts.
	select {
	case w.ch <- d:
	default:
	}
	return nil
}

// Approve approves a waiting request.
func (b *ApprovalBroker) Approve(approvalID string) error {
	return b.Decide(approvalID, Decision{Approved: true})
}

// Reject rejects a waiting request.
func (b *ApprovalBroker) Reject(approvalID, reason string) error {
	return b.Decide(approvalID, Decision{Reason: reason})
}

// Pending returns the waiting requests in submission order.
func (b *ApprovalBroker) Pending() []ApprovalRequest {
	b.mu.Lock()
	ws := make([]*waiting, 0, len(b.pending))
	for _, w := range b.pending {
		ws = append(ws, w)
	}
	b.mu.Unlock()

	slices.SortFunc(ws, func(x, y *waiting) int { return cmp.Compare(x.seq, y.seq) })
	reqs := make([]ApprovalRequest, len(ws))
	for i, w := range ws {
		reqs[i] = w.req
	}
	return reqs
}

func (b *ApprovalBroker) wait(ctx context.Context, req ApprovalRequest) (Decision, error) {
	w := &waiting{req: req, ch: make(chan Decision, 1)}

	b.mu.Lock()
	b.seq++
	w.seq = b.seq
	b.pending[req.ApprovalID] = w
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ApprovalID)
		b.mu.Unlock()
	}()

	if b.onSubmit != nil {
		b.onSubmit(req)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case d := <-w.ch:
		return d, nil
	case <-timer.C:
		return Decision{Reason: "approval timeout"}, nil
	case <-ctx.Done():
		return Decision{Reason: "approval cancelled"}, nil
	}
}
