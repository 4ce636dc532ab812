// Package ledger records batch runs, per-variant attempts and noise
// assignments in the SQLite database.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusRunning     = "running"
	RunStatusCompleted   = "completed"
	RunStatusFailed      = "failed"
	RunStatusInterrupted = "interrupted"
)

// ConfigLastRun is the config key holding the id of the latest run.
const ConfigLastRun = "last_run"

type Run struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Dataset    int        `json:"dataset"`
	Session    int        `json:"session"`
	Seed       int64      `json:"seed"`
	Convolve   bool       `json:"convolve"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewRun returns a running run with a fresh id.
func NewRun(command string, dataset, session int, seed int64, convolve bool) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Command:   command,
		Dataset:   dataset,
		Session:   session,
		Seed:      seed,
		Convolve:  convolve,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

type VariantAttempt struct {
	RunID      string    `json:"run_id"`
	Minute     string    `json:"minute"`
	Variant    string    `json:"variant"`
	State      string    `json:"state"`
	Outcome    string    `json:"outcome,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	TimedOut   bool      `json:"timed_out"`
	Retryable  bool      `json:"retryable"`
	StderrTail string    `json:"stderr_tail,omitempty"`
	Error      string    `json:"error,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type NoiseAssignment struct {
	RunID       string `json:"run_id"`
	Minute      string `json:"minute"`
	Loudspeaker int    `json:"loudspeaker"`
	NoiseFile   string `json:"noise_file"`
}

// MinuteError is a failure that stopped a whole minute.
type MinuteError struct {
	RunID     string    `json:"run_id"`
	Minute    string    `json:"minute"`
	Stage     string    `json:"stage"`
	Error     string    `json:"error"`
	CreatedAt time.Time `json:"created_at"`
}
