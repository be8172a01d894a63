// Package merge interleaves asynchronous part sources into one ordered
// stream.
//
// Sources are registered while the merged stream is being consumed. A
// [Writer] is a push source: its Emit enqueues synchronously, so parts
// emitted from one goroutine keep their order and anything enqueued before
// another Emit happens-before it in the output. [Merger.Add] registers a
// pull source read in lockstep with the consumer. Parts of one source keep
// their relative order; across sources the first to arrive is forwarded
// first.
//
// The merged stream ends once the registration window is closed and every
// source has ended.
package merge

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/spetersoncode/braid/event"
)

var (
	// ErrOverflow fails the merge when a non-blocking writer finds the
	// queue full.
	ErrOverflow = errors.New("merge: queue overflow")
	// ErrClosed is returned when registering a source after Close, or
	// emitting on a closed writer.
	ErrClosed = errors.New("merge: closed")
)

// DefaultQueueSize bounds the number of parts buffered for the consumer.
const DefaultQueueSize = 256

// Option configures a Merger.
type Option func(*Merger)

// WithQueueSize sets the queue bound.
func WithQueueSize(n int) Option {
	return func(m *Merger) {
		if n > 0 {
			m.size = n
		}
	}
}

type entry struct {
	ev  event.Event
	ack chan struct{}
}

// Merger is a fan-in of part sources. It is safe for concurrent use; Next
// must be called from one consumer goroutine.
type Merger struct {
	size int

	mu      sync.Mutex
	queue   []entry
	active  int
	closed  bool
	err     error
	changed chan struct{}
	cancels []func()
	done    chan struct{}
}

// New creates a merger with an open registration window.
func New(opts ...Option) *Merger {
	m := &Merger{
		size:    DefaultQueueSize,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// Blocking makes Emit wait for queue space instead of failing the merge.
func Blocking() WriterOption {
	return func(w *Writer) { w.blocking = true }
}

// Writer is a push source.
type Writer struct {
	m        *Merger
	blocking bool
	// closed is guarded by m.mu so no part is enqueued after Close returns.
	closed bool
}

// Writer registers a push source. The caller must Close it.
func (m *Merger) Writer(opts ...WriterOption) (*Writer, error) {
	if err := m.register(nil); err != nil {
		return nil, err
	}
	w := &Writer{m: m}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Emit enqueues a part following the writer's policy. It returns the merge
// error after Abort or overflow, and ErrClosed after Close.
func (w *Writer) Emit(ctx context.Context, e event.Event) error {
	return w.m.put(ctx, w, entry{ev: e}, w.blocking)
}

// Put enqueues a part, waiting for queue space whatever the writer's
// policy.
func (w *Writer) Put(ctx context.Context, e event.Event) error {
	return w.m.put(ctx, w, entry{ev: e}, true)
}

// Close ends the source. It is safe to call more than once.
func (w *Writer) Close() {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.m.active--
	w.m.broadcastLocked()
}

// Add registers a pull source. The next part is read from src only after
// the consumer accepted the previous one. cancel, if not nil, is called when
// the merge is aborted. The returned channel is closed once src is closed
// and all its parts were accepted, or the merge was aborted.
func (m *Merger) Add(src <-chan event.Event, cancel func()) (<-chan struct{}, error) {
	if err := m.register(cancel); err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go m.pump(src, done)
	return done, nil
}

func (m *Merger) pump(src <-chan event.Event, done chan<- struct{}) {
	defer close(done)
	defer m.release()
	for {
		select {
		case ev, ok := <-src:
			if !ok {
				return
			}
			ack := make(chan struct{})
			if err := m.put(context.Background(), nil, entry{ev: ev, ack: ack}, true); err != nil {
				return
			}
			select {
			case <-ack:
			case <-m.done:
				return
			}
		case <-m.done:
			return
		}
	}
}

// Close closes the registration window. Sources registered earlier keep
// running.
func (m *Merger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.broadcastLocked()
}

// Next returns the next part. It returns io.EOF once the window is closed
// and every source ended, or the abort error after Abort.
func (m *Merger) Next(ctx context.Context) (event.Event, error) {
	for {
		m.mu.Lock()
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			return nil, err
		}
		if len(m.queue) > 0 {
			e := m.queue[0]
			m.queue[0] = entry{}
			m.queue = m.queue[1:]
			m.broadcastLocked()
			m.mu.Unlock()
			if e.ack != nil {
				close(e.ack)
			}
			return e.ev, nil
		}
		if m.closed && m.active == 0 {
			m.mu.Unlock()
			return nil, io.EOF
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Abort stops the merge: buffered parts are discarded, pull sources are
// cancelled and Next returns err. Only the first call has an effect.
func (m *Merger) Abort(err error) {
	m.mu.Lock()
	cancels := m.abortLocked(err)
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (m *Merger) abortLocked(err error) []func() {
	if m.err != nil {
		return nil
	}
	m.err = err
	m.queue = nil
	cancels := m.cancels
	m.cancels = nil
	close(m.done)
	m.broadcastLocked()
	return cancels
}

func (m *Merger) register(cancel func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.closed {
		return ErrClosed
	}
	m.active++
	if cancel != nil {
		m.cancels = append(m.cancels, cancel)
	}
	return nil
}

func (m *Merger) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
	m.broadcastLocked()
}

func (m *Merger) put(ctx context.Context, w *Writer, e entry, block bool) error {
	for {
		m.mu.Lock()
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			return err
		}
		if w != nil && w.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		if len(m.queue) < m.size {
			m.queue = append(m.queue, e)
			m.broadcastLocked()
			m.mu.Unlock()
			return nil
		}
		if !block {
			cancels := m.abortLocked(ErrOverflow)
			m.mu.Unlock()
			for _, cancel := range cancels {
				cancel()
			}
			return ErrOverflow
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Merger) broadcastLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Drain reads every remaining part into a slice. It is meant for tests and
// for consumers that only need the final sequence.
func Drain(ctx context.Context, m *Merger) ([]event.Event, error) {
	var out []event.Event
	for {
		e, err := m.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}
