package render

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spearsim/scenebatch/internal/config"
	"github.com/spearsim/scenebatch/internal/fsutil"
	"github.com/spearsim/scenebatch/internal/logging"
	"github.com/spearsim/scenebatch/internal/postproc"
	"github.com/spearsim/scenebatch/internal/variant"
)

// VariantKey identifies one variant of one minute within a run.
type VariantKey struct {
	RunID   string
	Dataset int
	Session int
	Minute  string
	Variant string
}

// VariantResult is the end of one variant.
type VariantResult struct {
	Variant  variant.Variant
	Outcome  Outcome
	State    State // last state reached
	Path     string
	Run      *RunResult // last tool run, if any
	Stats    []postproc.ChannelStats
	Duration time.Duration
	Err      error
}

// Recorder persists state transitions.
type Recorder interface {
	Transition(ctx context.Context, key VariantKey, state State) error
	Complete(ctx context.Context, key VariantKey, res VariantResult) error
}

// Finalizer validates and promotes convolver output.
type Finalizer interface {
	Finalize(req postproc.Request) (postproc.Result, error)
}

// MinuteJob is everything the driver needs to render one minute.
type MinuteJob struct {
	RunID           string
	Dataset         int
	Session         int
	Minute          string
	SceneFile       string // batch description
	WorkDir         string // scene working directory of the minute
	OutputDir       string
	ConvolverConfig string
	Variants        []variant.Variant
}

// MinuteReport collects the variant results of a minute.
type MinuteReport struct {
	Dataset int
	Session int
	Minute  string
	Err     error // minute-level failure, no variant ran
	Results []VariantResult
}

// Failed counts variants that ended in failure.
func (r MinuteReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

// StagingPath is where the convolver writes before validation.
func StagingPath(final string) string {
	return strings.TrimSuffix(final, filepath.Ext(final)) + ".partial.wav"
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	Settings  config.Settings
	Tools     Tools
	Ephemeral EphemeralProvider
	Finalizer Finalizer
	Recorder  Recorder // optional
	Logger    *slog.Logger
}

// Driver runs the per-variant state machine.
type Driver struct {
	settings  config.Settings
	tools     Tools
	ephemeral EphemeralProvider
	finalizer Finalizer
	recorder  Recorder
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewDriver(cfg DriverConfig) *Driver {
	eph := cfg.Ephemeral
	if eph == nil {
		eph = DirProvider{}
	}
	return &Driver{
		settings:  cfg.Settings,
		tools:     cfg.Tools,
		ephemeral: eph,
		finalizer: cfg.Finalizer,
		recorder:  cfg.Recorder,
		logger:    logging.WithComponent(logging.OrDiscard(cfg.Logger), "render"),
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RenderMinute processes the variants of job in order. A failed variant
// does not stop the others; cancellation does.
func (d *Driver) RenderMinute(ctx context.Context, job MinuteJob) MinuteReport {
	report := MinuteReport{Dataset: job.Dataset, Session: job.Session, Minute: job.Minute}
	logger := logging.WithMinute(d.logger, job.Dataset, job.Session, job.Minute)

	for _, v := range job.Variants {
		if err := ctx.Err(); err != nil {
			logger.Warn("minute interrupted", "remaining_from", v.Name(), "error", err)
			break
		}
		report.Results = append(report.Results, d.RenderVariant(ctx, job, v))
	}
	return report
}

// RenderVariant drives one variant from pending to done.
func (d *Driver) RenderVariant(ctx context.Context, job MinuteJob, v variant.Variant) VariantResult {
	start := time.Now()
	key := VariantKey{RunID: job.RunID, Dataset: job.Dataset, Session: job.Session, Minute: job.Minute, Variant: v.Name()}
	logger := logging.WithVariant(logging.WithMinute(d.logger, job.Dataset, job.Session, job.Minute), v.Name())

	final := filepath.Join(job.OutputDir, v.ArrayFileName())
	res := VariantResult{Variant: v, State: StatePending, Path: final}

	finish := func(outcome Outcome, err error) VariantResult {
		res.Outcome = outcome
		res.Err = err
		res.Duration = time.Since(start)
		if err != nil {
			logger.Error("variant failed", "state", res.State, "error", err, "retryable", IsRetryable(err))
		} else {
			logger.Info("variant finished", "outcome", outcome, "duration_ms", res.Duration.Milliseconds())
		}
		d.complete(ctx, logger, key, res)
		return res
	}

	if fsutil.Exists(final) {
		res.State = StateDone
		return finish(OutcomeSkipped, nil)
	}
	d.transition(ctx, logger, key, StatePending)

	intermediate, err := d.ephemeral.Allocate(job.WorkDir, v.IntermediateName(d.settings.AmbisonicOrder))
	if err != nil {
		return finish(OutcomeFailed, err)
	}
	released := false
	releaseIntermediate := func() {
		if released {
			return
		}
		released = true
		if err := d.ephemeral.Release(intermediate); err != nil {
			logger.Warn("failed to release intermediate", "path", logging.SanitizePath(intermediate), "error", err)
		}
	}
	defer releaseIntermediate()

	res.State = StateRendering
	d.transition(ctx, logger, key, StateRendering)
	run, err := d.tools.Render(ctx, RenderRequest{SceneFile: job.SceneFile, SceneName: v.SceneName(), Output: intermediate})
	res.Run = &run
	if err != nil || !run.IsSuccess() {
		return finish(OutcomeFailed, &ExternalProcessError{Variant: v.Name(), Result: run, Err: err})
	}

	// the renderer may still be flushing when it exits
	if err := d.sleep(ctx, d.settings.SettleDelay); err != nil {
		return finish(OutcomeFailed, err)
	}

	if !d.settings.Convolve {
		releaseIntermediate()
		return finish(OutcomePartial, nil)
	}

	res.State = StateConverting
	d.transition(ctx, logger, key, StateConverting)
	staging := StagingPath(final)
	run, err = d.tools.Convolve(ctx, ConvolveRequest{ConfigFile: job.ConvolverConfig, Input: intermediate, Output: staging})
	res.Run = &run
	releaseIntermediate()
	if err != nil || !run.IsSuccess() {
		removeStaging(logger, staging)
		return finish(OutcomeFailed, &ExternalProcessError{Variant: v.Name(), Result: run, Err: err})
	}

	res.State = StateValidating
	d.transition(ctx, logger, key, StateValidating)
	req := postproc.Request{Staging: staging, Final: final}
	if v.IsReference() {
		req.Reference = filepath.Join(job.OutputDir, v.ReferenceFileName(job.Dataset, job.Session, job.Minute))
	}
	out, err := d.finalizer.Finalize(req)
	if err != nil {
		removeStaging(logger, staging)
		return finish(OutcomeFailed, err)
	}
	res.Stats = out.Stats

	res.State = StateDone
	return finish(OutcomeDone, nil)
}

func removeStaging(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove staging file", "path", logging.SanitizePath(path), "error", err)
	}
}

func (d *Driver) transition(ctx context.Context, logger *slog.Logger, key VariantKey, state State) {
	logger.Debug("variant state", "state", state)
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Transition(context.WithoutCancel(ctx), key, state); err != nil {
		logger.Warn("failed to record transition", "state", state, "error", err)
	}
}

func (d *Driver) complete(ctx context.Context, logger *slog.Logger, key VariantKey, res VariantResult) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Complete(context.WithoutCancel(ctx), key, res); err != nil {
		logger.Warn("failed to record result", "outcome", res.Outcome, "error", err)
	}
}

// IsRetryable reports whether err is a tool failure worth retrying.
func IsRetryable(err error) bool {
	var pe *ExternalProcessError
	return errors.As(err, &pe) && pe.Retryable()
}

