package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spetersoncode/braid/tool"
)

type weatherArgs struct {
	Location string `json:"location" jsonschema:"description=City name, e.g. Paris"`
}

type weatherReport struct {
	Location    string `json:"location"`
	Temperature int    `json:"temperature"`
	Conditions  string `json:"conditions"`
	Unit        string `json:"unit"`
}

type timeArgs struct {
	Format string `json:"format,omitempty" jsonschema:"enum=rfc3339,enum=unix,enum=human,description=Output format"`
}

type calculateArgs struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Op string  `json:"op" jsonschema:"enum=add,enum=sub,enum=mul,enum=div,enum=pow"`
}

type researchArgs struct {
	Topic string `json:"topic" jsonschema:"description=Topic to research"`
}

type researchProgress struct {
	Topic    string   `json:"topic"`
	Done     int      `json:"done"`
	Total    int      `json:"total"`
	Findings []string `json:"findings"`
}

type emailArgs struct {
	To      string `json:"to" jsonschema:"format=email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// registerDemoTools adds tools that exercise the different execution
// paths: plain, streaming, approval-gated and data-emitting.
func registerDemoTools(registry *tool.Registry) {
	registry.Add(
		tool.Func("get_weather", "Get the current weather for a location",
			func(ctx context.Context, args weatherArgs) (weatherReport, error) {
				select {
				case <-time.After(50 * time.Millisecond):
				case <-ctx.Done():
					return weatherReport{}, ctx.Err()
				}
				return weatherReport{Location: args.Location, Temperature: 22, Conditions: "Sunny", Unit: "celsius"}, nil
			},
		),

		tool.Func("get_time", "Get the current time", func(_ context.Context, args timeArgs) (string, error) {
			now := time.Now().UTC()
			switch strings.ToLower(args.Format) {
			case "rfc3339":
				return now.Format(time.RFC3339), nil
			case "unix":
				return fmt.Sprintf("%d", now.Unix()), nil
			default:
				return now.Format("Monday, January 2, 2006 at 3:04 PM MST"), nil
			}
		}),

		tool.Func("calculate", "Perform basic arithmetic", func(_ context.Context, args calculateArgs) (float64, error) {
			switch args.Op {
			case "add":
				return args.A + args.B, nil
			case "sub":
				return args.A - args.B, nil
			case "mul":
				return args.A * args.B, nil
			case "div":
				if args.B == 0 {
					return 0, fmt.Errorf("division by zero")
				}
				return args.A / args.B, nil
			case "pow":
				return math.Pow(args.A, args.B), nil
			}
			return 0, fmt.Errorf("unknown operation %q", args.Op)
		}),

		tool.StreamFunc("research", "Research a topic, reporting findings as they arrive",
			func(ctx context.Context, args researchArgs, yield func(researchProgress) error) error {
				sources := []string{"encyclopedia", "news", "papers"}
				p := researchProgress{Topic: args.Topic, Total: len(sources)}
				for _, src := range sources {
					select {
					case <-time.After(200 * time.Millisecond):
					case <-ctx.Done():
						return ctx.Err()
					}
					p.Done++
					p.Findings = append(p.Findings, fmt.Sprintf("%s notes on %s", src, args.Topic))
					if err := yield(p); err != nil {
						return err
					}
				}
				return nil
			},
		),

		tool.FuncCall("send_email", "Send an email. Requires user approval.",
			func(ctx context.Context, call tool.Call, args emailArgs) (string, error) {
				if err := call.Data(ctx, "email-status", map[string]string{"to": args.To, "status": "sending"}); err != nil {
					return "", err
				}
				return fmt.Sprintf("email to %s sent", args.To), nil
			},
			tool.WithApproval(tool.Always()),
		),
	)
}
