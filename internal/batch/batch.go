// Package batch walks the minutes of a session: it generates their scene
// descriptions and drives the renderer over every required variant.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spearsim/scenebatch/internal/config"
	"github.com/spearsim/scenebatch/internal/fsutil"
	"github.com/spearsim/scenebatch/internal/ledger"
	"github.com/spearsim/scenebatch/internal/logging"
	"github.com/spearsim/scenebatch/internal/paths"
	"github.com/spearsim/scenebatch/internal/render"
	"github.com/spearsim/scenebatch/internal/scene"
	"github.com/spearsim/scenebatch/internal/variant"
)

// ConvolverConfigPattern matches the convolver configuration in the
// transfer-function root.
const ConvolverConfigPattern = "fmat*.conf"

// Stages recorded for minute-level failures.
const (
	StageGenerate = "generate"
	StageRender   = "render"
)

// ErrNoMinutes is returned when the scene-working root has no minute dirs.
var ErrNoMinutes = errors.New("no minute directories")

// Options select the unit of work.
type Options struct {
	Dataset      int
	Session      int
	Seed         int64
	RandomMinute bool
}

// MinuteFailure is a minute that was aborted before any variant ran.
type MinuteFailure struct {
	Minute string
	Stage  string
	Err    error
}

// Report is the outcome of one invocation.
type Report struct {
	RunID     string
	Command   string
	Dataset   int
	Session   int
	Generated []string
	Minutes   []render.MinuteReport
	Failures  []MinuteFailure
}

// Counts tallies variant outcomes over all rendered minutes.
func (r *Report) Counts() map[render.Outcome]int {
	counts := map[render.Outcome]int{}
	for _, m := range r.Minutes {
		for _, res := range m.Results {
			counts[res.Outcome]++
		}
	}
	return counts
}

// FailedUnits counts aborted minutes plus failed variants.
func (r *Report) FailedUnits() int {
	n := len(r.Failures)
	for _, m := range r.Minutes {
		n += m.Failed()
	}
	return n
}

func (r *Report) Failed() bool { return r.FailedUnits() > 0 }

// Config wires a Service.
type Config struct {
	Settings config.Settings
	Resolver paths.Resolver
	Composer *scene.Composer
	Driver   *render.Driver
	Repo     ledger.Repository // optional
	Logger   *slog.Logger
}

// Service runs generation and rendering for one session at a time.
type Service struct {
	settings config.Settings
	resolver paths.Resolver
	composer *scene.Composer
	driver   *render.Driver
	repo     ledger.Repository
	logger   *slog.Logger
}

func NewService(cfg Config) *Service {
	return &Service{
		settings: cfg.Settings,
		resolver: cfg.Resolver,
		composer: cfg.Composer,
		driver:   cfg.Driver,
		repo:     cfg.Repo,
		logger:   logging.WithComponent(logging.OrDiscard(cfg.Logger), "batch"),
	}
}

// NewRNG returns the generator every random choice of a batch draws from.
func NewRNG(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0))
}

// Generate writes the scene descriptions of every minute of the session.
func (s *Service) Generate(ctx context.Context, opts Options) (*Report, error) {
	return s.execute(ctx, "generate", opts, func(ctx context.Context, b *batchRun) error {
		return s.generate(ctx, b)
	})
}

// Render renders every required variant of the session's minutes from
// descriptions already on disk.
func (s *Service) Render(ctx context.Context, opts Options) (*Report, error) {
	return s.execute(ctx, "render", opts, func(ctx context.Context, b *batchRun) error {
		return s.render(ctx, b)
	})
}

// Run generates and then renders with a single generator, so the minute
// picked by RandomMinute follows the noise draws.
func (s *Service) Run(ctx context.Context, opts Options) (*Report, error) {
	return s.execute(ctx, "run", opts, func(ctx context.Context, b *batchRun) error {
		if err := s.generate(ctx, b); err != nil {
			return err
		}
		return s.render(ctx, b)
	})
}

type batchRun struct {
	opts      Options
	rng       *rand.Rand
	report    *Report
	sceneRoot string
	minutes   []string
	logger    *slog.Logger
}

func (s *Service) execute(ctx context.Context, command string, opts Options, fn func(context.Context, *batchRun) error) (*Report, error) {
	run := ledger.NewRun(command, opts.Dataset, opts.Session, opts.Seed, s.settings.Convolve)
	report := &Report{RunID: run.ID, Command: command, Dataset: opts.Dataset, Session: opts.Session}
	logger := logging.WithRun(s.logger, run.ID).With("command", command, "dataset", opts.Dataset, "session", opts.Session)

	if s.repo != nil {
		if err := s.repo.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
		if err := s.repo.SetConfig(ctx, ledger.ConfigLastRun, run.ID); err != nil {
			logger.Warn("failed to store last run", "error", err)
		}
	}
	logger.Info("batch started", "seed", opts.Seed, "random_minute", opts.RandomMinute, "convolve", s.settings.Convolve)

	err := s.prepare(ctx, opts, report, logger, fn)
	s.finish(ctx, logger, report, err)
	return report, err
}

func (s *Service) prepare(ctx context.Context, opts Options, report *Report, logger *slog.Logger, fn func(context.Context, *batchRun) error) error {
	sceneRoot, err := s.resolver.Resolve(opts.Dataset, opts.Session, paths.SceneWorking)
	if err != nil {
		return err
	}
	minutes, err := ListMinutes(sceneRoot)
	if err != nil {
		return err
	}
	b := &batchRun{
		opts:      opts,
		rng:       NewRNG(opts.Seed),
		report:    report,
		sceneRoot: sceneRoot,
		minutes:   minutes,
		logger:    logger,
	}
	return fn(ctx, b)
}

func (s *Service) finish(ctx context.Context, logger *slog.Logger, report *Report, err error) {
	status := ledger.RunStatusCompleted
	msg := ""
	switch {
	case err != nil:
		status = ledger.RunStatusFailed
		msg = err.Error()
	case report.Failed():
		status = ledger.RunStatusFailed
		msg = fmt.Sprintf("%d units failed", report.FailedUnits())
	}

	if s.repo != nil {
		if ferr := s.repo.FinishRun(context.WithoutCancel(ctx), report.RunID, status, msg); ferr != nil {
			logger.Warn("failed to finish run", "error", ferr)
		}
	}
	if err != nil {
		logger.Error("batch failed", "error", err)
		return
	}
	counts := report.Counts()
	logger.Info("batch finished",
		"status", status,
		"generated", len(report.Generated),
		"aborted_minutes", len(report.Failures),
		"done", counts[render.OutcomeDone],
		"skipped", counts[render.OutcomeSkipped],
		"partial", counts[render.OutcomePartial],
		"failed", counts[render.OutcomeFailed],
	)
}

// ListMinutes returns the minute directories of a scene-working root.
func ListMinutes(sceneRoot string) ([]string, error) {
	minutes, err := fsutil.VisibleSubdirs(sceneRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list minutes: %w", err)
	}
	if len(minutes) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoMinutes, sceneRoot)
	}
	return minutes, nil
}

// FindConvolverConfig returns the single convolver configuration in dir.
func FindConvolverConfig(dir string) (string, error) {
	matches, err := fsutil.GlobVisible(dir, ConvolverConfigPattern)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no %s in %s", ConvolverConfigPattern, dir)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%d convolver configurations in %s, expected one", len(matches), dir)
	}
}

func (s *Service) minuteFailed(ctx context.Context, b *batchRun, minute, stage string, err error) {
	cerr := &scene.ConfigurationError{Dataset: b.opts.Dataset, Session: b.opts.Session, Minute: minute, Err: err}
	b.report.Failures = append(b.report.Failures, MinuteFailure{Minute: minute, Stage: stage, Err: cerr})
	logging.WithMinute(b.logger, b.opts.Dataset, b.opts.Session, minute).Error("minute aborted", "stage", stage, "error", err)
	if s.repo != nil {
		if rerr := s.repo.RecordMinuteError(context.WithoutCancel(ctx), b.report.RunID, minute, stage, cerr); rerr != nil {
			b.logger.Warn("failed to record minute error", "minute", minute, "error", rerr)
		}
	}
}

func (s *Service) generate(ctx context.Context, b *batchRun) error {
	source, err := scene.NewParameterSource(b.opts.Dataset, b.sceneRoot, s.settings)
	if err != nil {
		return err
	}
	noiseDir, err := s.resolver.Resolve(b.opts.Dataset, b.opts.Session, paths.NoisePool)
	if err != nil {
		return err
	}
	pool, err := scene.LoadNoisePool(noiseDir)
	if err != nil {
		return err
	}

	for _, minute := range b.minutes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.generateMinute(ctx, b, source, pool, minute); err != nil {
			s.minuteFailed(ctx, b, minute, StageGenerate, err)
			continue
		}
		b.report.Generated = append(b.report.Generated, minute)
	}
	return nil
}

func (s *Service) generateMinute(ctx context.Context, b *batchRun, source scene.ParameterSource, pool *scene.NoisePool, minute string) error {
	dir := filepath.Join(b.sceneRoot, minute)
	idx, err := strconv.Atoi(minute)
	if err != nil {
		return fmt.Errorf("minute directory %q is not a number", minute)
	}
	params, err := source.Parameters(idx)
	if err != nil {
		return err
	}
	talkers, err := scene.DiscoverTalkers(dir, s.settings.ReceiverID, s.settings.Interferers)
	if err != nil {
		return err
	}
	files, err := pool.Choose(b.rng, len(params.Loudspeakers.Offsets))
	if err != nil {
		return err
	}
	rel, err := pool.RelativeTo(dir, files)
	if err != nil {
		return err
	}
	desc, err := s.composer.Compose(scene.MinuteInput{Params: params, Talkers: talkers, NoiseFiles: rel})
	if err != nil {
		return err
	}
	if err := scene.Write(dir, desc); err != nil {
		return err
	}

	if s.repo != nil {
		if err := s.repo.RecordNoise(context.WithoutCancel(ctx), b.report.RunID, minute, files); err != nil {
			b.logger.Warn("failed to record noise assignment", "minute", minute, "error", err)
		}
	}
	logging.WithMinute(b.logger, b.opts.Dataset, b.opts.Session, minute).Info("scene generated",
		"talkers", talkers, "loudspeakers", len(files))
	return nil
}

func (s *Service) render(ctx context.Context, b *batchRun) error {
	var convolverConfig string
	if s.settings.Convolve {
		dir, err := s.resolver.Resolve(b.opts.Dataset, b.opts.Session, paths.TransferConfig)
		if err != nil {
			return err
		}
		if convolverConfig, err = FindConvolverConfig(dir); err != nil {
			return err
		}
	}
	outputRoot, err := s.resolver.Resolve(b.opts.Dataset, b.opts.Session, paths.ReferenceOutput)
	if err != nil {
		return err
	}

	minutes := b.minutes
	if b.opts.RandomMinute {
		pick := minutes[b.rng.IntN(len(minutes))]
		b.logger.Info("random minute selected", "minute", pick)
		minutes = []string{pick}
	}

	for _, minute := range minutes {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := s.minuteJob(b, minute, outputRoot, convolverConfig)
		if err != nil {
			s.minuteFailed(ctx, b, minute, StageRender, err)
			continue
		}
		b.report.Minutes = append(b.report.Minutes, s.driver.RenderMinute(ctx, job))
	}
	return ctx.Err()
}

func (s *Service) minuteJob(b *batchRun, minute, outputRoot, convolverConfig string) (render.MinuteJob, error) {
	dir := filepath.Join(b.sceneRoot, minute)
	sceneFile := filepath.Join(dir, scene.BatchFile)
	content, err := os.ReadFile(sceneFile)
	if err != nil {
		return render.MinuteJob{}, fmt.Errorf("scene description not generated: %w", err)
	}
	talkers, err := scene.DiscoverTalkers(dir, s.settings.ReceiverID, s.settings.Interferers)
	if err != nil {
		return render.MinuteJob{}, err
	}
	variants := variant.Enumerate(talkers)
	for _, v := range variants {
		if !scene.HasScene(string(content), v.SceneName()) {
			return render.MinuteJob{}, fmt.Errorf("%s has no scene %s, regenerate the minute", scene.BatchFile, v.SceneName())
		}
	}

	outputDir := filepath.Join(outputRoot, minute)
	if info, err := os.Stat(outputDir); err != nil || !info.IsDir() {
		return render.MinuteJob{}, fmt.Errorf("output directory %s missing", outputDir)
	}

	return render.MinuteJob{
		RunID:           b.report.RunID,
		Dataset:         b.opts.Dataset,
		Session:         b.opts.Session,
		Minute:          minute,
		SceneFile:       sceneFile,
		WorkDir:         dir,
		OutputDir:       outputDir,
		ConvolverConfig: convolverConfig,
		Variants:        variants,
	}, nil
}
