package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	ai "github.com/spetersoncode/braid"
	"github.com/spetersoncode/braid/agent"
	"github.com/spetersoncode/braid/event"
	"github.com/spetersoncode/braid/model"
	"github.com/spetersoncode/braid/tool"
)

func runCommand(cfg *Config) *cobra.Command {
	var (
		format string
		system string
	)
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run one generation and print its stream",
		Long: "Run one generation and print its stream. The prompt is read from\n" +
			"stdin when no argument is given. Formats: text, jsonl, sse.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProvider(cfg); err != nil {
				return err
			}
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, prompt, system, format, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, jsonl, sse)")
	cmd.Flags().StringVarP(&system, "system", "s", "", "system prompt")
	return cmd
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", ai.ErrEmptyInput
	}
	return prompt, nil
}

func run(ctx context.Context, cfg *Config, prompt, system, format string, out io.Writer) error {
	m, err := newModel(ctx, cfg)
	if err != nil {
		return err
	}
	opts, err := runOptions(cfg)
	if err != nil {
		return err
	}
	if system != "" {
		opts = append(opts, agent.WithSystem(system))
	}
	if approver := cliApprover(cfg.Approval); approver != nil {
		opts = append(opts, agent.WithApprover(approver))
	}

	a := agent.New(m, newRegistry(cfg), opts...)
	res := a.Stream(ctx, []ai.Message{ai.NewUserMessage(prompt)})

	switch format {
	case "jsonl", "sse":
		f := event.FormatJSONL
		if format == "sse" {
			f = event.FormatSSE
		}
		enc := event.NewEncoder(out, f)
		var seq uint64
		for e := range res.Events(ctx) {
			seq++
			if err := enc.Encode(event.Envelope{Seq: seq, Event: e}); err != nil {
				res.Cancel()
				return err
			}
		}
	case "text":
		printText(ctx, res, m.ModelID(), out, os.Stderr)
	default:
		res.Cancel()
		return fmt.Errorf("unknown format %q", format)
	}
	return res.Wait(context.Background())
}

// printText writes generated text to out and tool activity to status.
func printText(ctx context.Context, res *agent.Result, modelID string, out, status io.Writer) {
	for e := range res.Events(ctx) {
		switch p := e.(type) {
		case event.TextDelta:
			fmt.Fprint(out, p.Delta)
		case event.ReasoningDelta:
			fmt.Fprintf(status, "\x1b[2m%s\x1b[0m", p.Delta)
		case event.ReasoningEnd:
			fmt.Fprintln(status)
		case event.ToolCall:
			fmt.Fprintf(status, "\n→ %s %s\n", p.ToolName, p.Input)
		case event.ToolResult:
			if !p.Preliminary {
				fmt.Fprintf(status, "← %s %s\n", p.ToolName, tool.DefaultModelOutput(p.Output))
			}
		case event.ToolError:
			fmt.Fprintf(status, "✗ %s: %s\n", p.ToolName, p.Error)
		case event.ToolOutputDenied:
			fmt.Fprintf(status, "✗ %s denied %s\n", p.ToolName, p.Reason)
		case event.ToolApprovalRequest:
			fmt.Fprintf(status, "? %s needs approval (%s)\n", p.ToolName, p.ApprovalID)
		case event.Source:
			fmt.Fprintf(status, "[source] %s %s\n", p.Title, p.URL)
		case event.Finish:
			fmt.Fprintln(out)
			fmt.Fprintf(status, "-- %s after %d steps, %d tokens%s\n",
				p.Termination, len(p.Steps), p.TotalUsage.TotalTokens, costNote(modelID, p.TotalUsage))
		case event.Error:
			fmt.Fprintln(out)
		}
	}
}

// costNote estimates the run cost from the catalog pricing of modelID.
func costNote(modelID string, usage ai.Usage) string {
	info, ok := model.Lookup(modelID)
	if !ok {
		return ""
	}
	return fmt.Sprintf(", ~$%.4f", info.Pricing.Cost(usage))
}

// cliApprover returns the approver for the approval mode. A nil approver
// defers approvals: the run ends with approval_pending.
func cliApprover(mode string) agent.Approver {
	switch mode {
	case "auto":
		return agent.AutoApprove()
	case "reject":
		return agent.AutoReject("rejected by configuration")
	case "ask":
		return promptApprover(os.Stdin, os.Stderr)
	}
	return nil
}

// promptApprover asks on the terminal. Decisions are serialized because
// parallel calls share one terminal.
func promptApprover(in io.Reader, out io.Writer) agent.Approver {
	lines := make(chan string)
	go func() {
		s := bufio.NewScanner(in)
		for s.Scan() {
			lines <- s.Text()
		}
		close(lines)
	}()
	turn := make(chan struct{}, 1)
	turn <- struct{}{}

	return agent.ApproverFunc(func(ctx context.Context, req agent.ApprovalRequest) (agent.Decision, error) {
		select {
		case <-turn:
		case <-ctx.Done():
			return agent.Decision{}, ctx.Err()
		}
		defer func() { turn <- struct{}{} }()

		fmt.Fprintf(out, "\nAllow %s %s? [y/N] ", req.ToolCall.Name, req.ToolCall.Input)
		select {
		case line, ok := <-lines:
			if !ok {
				return agent.Decision{Reason: "no terminal input"}, nil
			}
			answer := strings.ToLower(strings.TrimSpace(line))
			if answer == "y" || answer == "yes" {
				return agent.Decision{Approved: true}, nil
			}
			return agent.Decision{Reason: "rejected by user"}, nil
		case <-ctx.Done():
			return agent.Decision{}, ctx.Err()
		}
	})
}
