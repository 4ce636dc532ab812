// Package render drives the external renderer and convolver for every
// variant of a minute and hands the result to the post-processor.
package render

import (
	"fmt"
	"time"
)

// Tool names an external executable.
type Tool string

const (
	ToolRenderer  Tool = "renderer"
	ToolConvolver Tool = "convolver"
)

// RunResult is the structured outcome of one subprocess.
type RunResult struct {
	Tool       Tool          `json:"tool"`
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"`
	Duration   time.Duration `json:"duration"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 && !r.TimedOut }

// State is a step of the per-variant state machine.
type State string

const (
	StatePending    State = "pending"
	StateRendering  State = "rendering"
	StateConverting State = "converting"
	StateValidating State = "validating"
	StateDone       State = "done"
)

// Outcome is how a variant ended.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeSkipped Outcome = "skipped"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// ExternalProcessError is a non-zero exit, a timeout or a failure to start
// one of the tools. It fails the variant only.
type ExternalProcessError struct {
	Variant string
	Result  RunResult
	Err     error // start failure, if any
}

func (e *ExternalProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s for %s failed to run: %v", e.Result.Tool, e.Variant, e.Err)
	}
	if e.Result.TimedOut {
		return fmt.Sprintf("%s for %s timed out after %s", e.Result.Tool, e.Variant, e.Result.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s for %s exited %d: %s", e.Result.Tool, e.Variant, e.Result.ExitCode, truncate(e.Result.StderrTail, 512))
}

func (e *ExternalProcessError) Unwrap() error { return e.Err }

// Retryable reports whether running the same variant again may succeed.
func (e *ExternalProcessError) Retryable() bool { return e.Result.TimedOut }

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
