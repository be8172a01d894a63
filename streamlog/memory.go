package streamlog

import (
	"context"
	"sync"
	"time"

	"github.com/spetersoncode/braid/event"
)

// Memory is an in-process Log. The zero value is not usable; create one
// with NewMemory.
type Memory struct {
	mu   sync.Mutex
	runs map[string]*memRun
}

type memRun struct {
	parts   []event.Envelope
	changed chan struct{}
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*memRun)}
}

func (m *Memory) run(runID string) *memRun {
	r, ok := m.runs[runID]
	if !ok {
		r = &memRun{changed: make(chan struct{})}
		m.runs[runID] = r
	}
	return r
}

// Append implements Log.
func (m *Memory) Append(_ context.Context, runID string, e event.Event) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.run(runID)
	seq := uint64(len(r.parts)) + 1
	r.parts = append(r.parts, event.Envelope{Seq: seq, Event: e})
	close(r.changed)
	r.changed = make(chan struct{})
	return seq, nil
}

// Read implements Log.
func (m *Memory) Read(ctx context.Context, runID string, after uint64, wait time.Duration) ([]event.Envelope, error) {
	var timer <-chan time.Time
	for {
		m.mu.Lock()
		r := m.run(runID)
		if after < uint64(len(r.parts)) {
			out := make([]event.Envelope, len(r.parts)-int(after))
			copy(out, r.parts[after:])
			m.mu.Unlock()
			return out, nil
		}
		changed := r.changed
		m.mu.Unlock()

		if wait <= 0 {
			return nil, nil
		}
		if timer == nil {
			t := time.NewTimer(wait)
			defer t.Stop()
			timer = t.C
		}
		select {
		case <-changed:
		case <-timer:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Delete drops a recorded run.
func (m *Memory) Delete(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
}
