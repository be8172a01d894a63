package agent

import "slices"

// StopCondition inspects the steps so far and reports whether the run
// should stop. It is evaluated after steps whose tool calls were all
// resolved, so a false result means the loop continues.
type StopCondition func(steps []StepResult) bool

// StepCountIs stops once n steps have run.
func StepCountIs(n int) StopCondition {
	return func(steps []StepResult) bool { return len(steps) >= n }
}

// HasToolCall stops after a step that called one of the named tools.
func HasToolCall(names ...string) StopCondition {
	return func(steps []StepResult) bool {
		if len(steps) == 0 {
			return false
		}
		for _, tc := range steps[len(steps)-1].ToolCalls {
			if slices.Contains(names, tc.ToolName) {
				return true
			}
		}
		return false
	}
}

// AnyOf stops when any condition matches.
func AnyOf(conds ...StopCondition) StopCondition {
	return func(steps []StepResult) bool {
		for _, c := range conds {
			if c != nil && c(steps) {
				return true
			}
		}
		return false
	}
}
