// Package transform rewrites parts between the model stream and the
// consumer.
package transform

import (
	"context"
	"regexp"
	"time"

	"github.com/spetersoncode/braid/event"
)

// EmitFunc forwards a part downstream.
type EmitFunc func(ctx context.Context, e event.Event) error

// Stage is one instance of a transform, bound to a downstream emitter for
// the lifetime of a step.
type Stage interface {
	Emit(ctx context.Context, e event.Event) error
	// Flush forwards anything still buffered.
	Flush(ctx context.Context) error
}

// Transform creates a stage writing to next.
type Transform func(next EmitFunc) Stage

// Chain binds transforms in order: the first transform sees parts first.
func Chain(next EmitFunc, transforms ...Transform) Stage {
	stage := Stage(passthrough(next))
	for i := len(transforms) - 1; i >= 0; i-- {
		inner := stage
		stage = transforms[i](inner.Emit)
		stage = &chained{Stage: stage, inner: inner}
	}
	return stage
}

type chained struct {
	Stage
	inner Stage
}

func (c *chained) Flush(ctx context.Context) error {
	if err := c.Stage.Flush(ctx); err != nil {
		return err
	}
	return c.inner.Flush(ctx)
}

type passthrough EmitFunc

func (p passthrough) Emit(ctx context.Context, e event.Event) error { return p(ctx, e) }
func (passthrough) Flush(context.Context) error                     { return nil }

// Chunking selects where Smooth cuts buffered text.
type Chunking int

const (
	// ByWord emits text up to and including whitespace after a word.
	ByWord Chunking = iota
	// ByLine emits whole lines.
	ByLine
)

var chunkers = map[Chunking]*regexp.Regexp{
	ByWord: regexp.MustCompile(`\S+\s+`),
	ByLine: regexp.MustCompile(`\n+`),
}

// SmoothOption configures Smooth.
type SmoothOption func(*smooth)

// WithDelay waits d between emitted chunks. Zero disables the delay.
func WithDelay(d time.Duration) SmoothOption {
	return func(s *smooth) { s.delay = d }
}

// WithChunking selects the chunk boundary.
func WithChunking(c Chunking) SmoothOption {
	return func(s *smooth) {
		if re, ok := chunkers[c]; ok {
			s.re = re
		}
	}
}

// Smooth re-chunks text deltas into words or lines, optionally pacing them
// with a delay. Any other part flushes the buffered text first.
func Smooth(opts ...SmoothOption) Transform {
	return func(next EmitFunc) Stage {
		s := &smooth{next: next, delay: 10 * time.Millisecond, re: chunkers[ByWord]}
		for _, opt := range opts {
			opt(s)
		}
		return s
	}
}

type smooth struct {
	next  EmitFunc
	delay time.Duration
	re    *regexp.Regexp

	id  string
	buf string
}

func (s *smooth) Emit(ctx context.Context, e event.Event) error {
	d, ok := e.(event.TextDelta)
	if !ok {
		if err := s.Flush(ctx); err != nil {
			return err
		}
		return s.next(ctx, e)
	}
	if s.id != "" && s.id != d.ID {
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	s.id = d.ID
	s.buf += d.Delta

	for {
		loc := s.re.FindStringIndex(s.buf)
		if loc == nil {
			return nil
		}
		chunk := s.buf[:loc[1]]
		s.buf = s.buf[loc[1]:]
		if err := s.next(ctx, event.TextDelta{ID: s.id, Delta: chunk}); err != nil {
			return err
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

func (s *smooth) Flush(ctx context.Context) error {
	if s.buf == "" {
		return nil
	}
	d := event.TextDelta{ID: s.id, Delta: s.buf}
	s.buf = ""
	return s.next(ctx, d)
}

func (s *smooth) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return nil
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
