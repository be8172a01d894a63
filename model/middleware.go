package model

import (
	"context"

	ai "github.com/spetersoncode/braid"
)

// Middleware decorates a Model.
type Middleware func(Model) Model

// Wrap applies middlewares to m. The first middleware is the outermost.
func Wrap(m Model, mws ...Middleware) Model {
	for i := len(mws) - 1; i >= 0; i-- {
		m = mws[i](m)
	}
	return m
}

type defaults struct {
	Model
	opts ai.Options
}

// DefaultSettings fills request options the caller left unset.
func DefaultSettings(opts ...ai.Option) Middleware {
	o := *ai.ApplyOptions(opts...)
	return func(next Model) Model {
		return &defaults{Model: next, opts: o}
	}
}

func (d *defaults) apply(req *Request) *Request {
	r := *req
	r.Options = d.opts.Merge(req.Options)
	return &r
}

func (d *defaults) Generate(ctx context.Context, req *Request) (*Response, error) {
	return d.Model.Generate(ctx, d.apply(req))
}

func (d *defaults) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	return d.Model.Stream(ctx, d.apply(req))
}

type simulated struct {
	Model
}

// SimulateStreaming serves Stream by calling Generate and replaying the
// aggregated response as chunks. Useful for models without a streaming API.
func SimulateStreaming() Middleware {
	return func(next Model) Model {
		return &simulated{Model: next}
	}
}

func (s *simulated) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	resp, err := s.Model.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	chunks := ChunksFromResponse(resp)
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if !Send(ctx, ch, c) {
				return
			}
		}
	}()
	return ch, nil
}
