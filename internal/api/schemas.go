package api

import (
	"time"

	"github.com/spearsim/scenebatch/internal/ledger"
	"github.com/spearsim/scenebatch/internal/render"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	LastRun string `json:"last_run,omitempty"`
}

type DoctorResponse struct {
	Renderer  render.ToolInfo `json:"renderer"`
	Convolver render.ToolInfo `json:"convolver"`
	ProbedAt  string          `json:"probed_at"`
}

type RunResponse struct {
	ID         string         `json:"id"`
	Command    string         `json:"command"`
	Dataset    int            `json:"dataset"`
	Session    int            `json:"session"`
	Seed       int64          `json:"seed"`
	Convolve   bool           `json:"convolve"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at,omitempty"`
	Outcomes   map[string]int `json:"outcomes,omitempty"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type VariantsResponse struct {
	Variants []*ledger.VariantAttempt `json:"variants"`
}

type NoiseResponse struct {
	Assignments []*ledger.NoiseAssignment `json:"assignments"`
}

type MinuteErrorsResponse struct {
	Errors []*ledger.MinuteError `json:"errors"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RunToResponse(r *ledger.Run) RunResponse {
	resp := RunResponse{
		ID:        r.ID,
		Command:   r.Command,
		Dataset:   r.Dataset,
		Session:   r.Session,
		Seed:      r.Seed,
		Convolve:  r.Convolve,
		Status:    r.Status,
		Error:     r.Error,
		StartedAt: r.StartedAt.Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		resp.FinishedAt = r.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func DoctorToResponse(c *render.Capabilities) DoctorResponse {
	return DoctorResponse{
		Renderer:  c.Renderer,
		Convolver: c.Convolver,
		ProbedAt:  c.ProbedAt.Format(time.RFC3339),
	}
}
