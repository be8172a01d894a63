package tool

import (
	"context"
	"encoding/json"

	ai "github.com/spetersoncode/braid"
)

// Option configures a tool built by Func.
type Option func(*Tool)

// WithApproval gates the tool behind a human decision.
func WithApproval(f ApprovalFunc) Option {
	return func(t *Tool) { t.NeedsApproval = f }
}

// WithModelOutput sets the transform applied to the output before it is
// sent back to the model.
func WithModelOutput(f func(json.RawMessage) (string, error)) Option {
	return func(t *Tool) { t.ToModelOutput = f }
}

// WithOutputSchema validates outputs against schema.
func WithOutputSchema(schema json.RawMessage) Option {
	return func(t *Tool) { t.OutputSchema = schema }
}

// Func creates a tool whose input schema is generated from In.
//
// Example:
//
//	type SearchArgs struct {
//	    Query string `json:"query" jsonschema:"description=Search query"`
//	}
//
//	tool.Func("search", "Search the web",
//	    func(ctx context.Context, args SearchArgs) ([]string, error) {
//	        return doSearch(args.Query)
//	    },
//	)
func Func[In, Out any](name, description string, fn func(context.Context, In) (Out, error), opts ...Option) Tool {
	return FuncCall(name, description, func(ctx context.Context, _ Call, in In) (Out, error) {
		return fn(ctx, in)
	}, opts...)
}

// FuncCall is like Func but passes the Call, so the handler can emit parts.
func FuncCall[In, Out any](name, description string, fn func(context.Context, Call, In) (Out, error), opts ...Option) Tool {
	t := Tool{
		Name:        name,
		Description: description,
		InputSchema: ai.SchemaFor[In](),
		Execute: func(ctx context.Context, call Call) (any, error) {
			var in In
			if err := call.Bind(&in); err != nil {
				return nil, err
			}
			return fn(ctx, call, in)
		},
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// StreamFunc creates a tool whose output is produced incrementally. Each
// value passed to yield becomes a preliminary result; the last one is the
// final result.
func StreamFunc[In, Out any](name, description string, fn func(ctx context.Context, in In, yield func(Out) error) error, opts ...Option) Tool {
	t := Tool{
		Name:        name,
		Description: description,
		InputSchema: ai.SchemaFor[In](),
		Execute: func(ctx context.Context, call Call) (any, error) {
			var in In
			if err := call.Bind(&in); err != nil {
				return nil, err
			}
			out := make(chan any)
			go func() {
				defer close(out)
				err := fn(ctx, in, func(v Out) error {
					select {
					case out <- v:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				})
				if err != nil {
					select {
					case out <- err:
					case <-ctx.Done():
					}
				}
			}()
			return Stream(out), nil
		},
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}
