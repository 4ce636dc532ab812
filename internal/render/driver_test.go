package render_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spearsim/scenebatch/internal/audioio"
	"github.com/spearsim/scenebatch/internal/config"
	"github.com/spearsim/scenebatch/internal/postproc"
	"github.com/spearsim/scenebatch/internal/render"
	"github.com/spearsim/scenebatch/internal/render/rendertest"
	"github.com/spearsim/scenebatch/internal/variant"
)

const rate = 100

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.SampleRate = rate
	s.MinuteDuration = time.Second
	s.SettleDelay = 0
	return s
}

type memRecorder struct {
	mu          sync.Mutex
	transitions map[string][]render.State
	results     map[string]render.VariantResult
}

func newMemRecorder() *memRecorder {
	return &memRecorder{transitions: map[string][]render.State{}, results: map[string]render.VariantResult{}}
}

func (m *memRecorder) Transition(_ context.Context, key render.VariantKey, state render.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[key.Variant] = append(m.transitions[key.Variant], state)
	return nil
}

func (m *memRecorder) Complete(_ context.Context, key render.VariantKey, res render.VariantResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[key.Variant] = res
	return nil
}

type fixture struct {
	job      render.MinuteJob
	tools    *rendertest.FakeTools
	recorder *memRecorder
	driver   *render.Driver
}

func newFixture(t *testing.T, s config.Settings, talkers []int, frames int) *fixture {
	t.Helper()
	root := t.TempDir()
	work := filepath.Join(root, "tascar", "05")
	out := filepath.Join(root, "ref", "05")
	require.NoError(t, os.MkdirAll(work, 0o755))
	require.NoError(t, os.MkdirAll(out, 0o755))

	f := &fixture{
		job: render.MinuteJob{
			RunID:           "run-1",
			Dataset:         2,
			Session:         1,
			Minute:          "05",
			SceneFile:       filepath.Join(work, "Tascar_scenes.tsc"),
			WorkDir:         work,
			OutputDir:       out,
			ConvolverConfig: filepath.Join(root, "fmatconv.conf"),
			Variants:        variant.Enumerate(talkers),
		},
		tools:    rendertest.New(rate, 6, frames),
		recorder: newMemRecorder(),
	}
	f.driver = render.NewDriver(render.DriverConfig{
		Settings:  s,
		Tools:     f.tools,
		Ephemeral: render.DirProvider{},
		Finalizer: postproc.New(postproc.Config{Frames: s.SamplesPerMinute(), BitDepth: 32}),
		Recorder:  f.recorder,
	})
	return f
}

func outcomes(r render.MinuteReport) map[string]render.Outcome {
	out := map[string]render.Outcome{}
	for _, res := range r.Results {
		out[res.Variant.Name()] = res.Outcome
	}
	return out
}

func assertNoLeftovers(t *testing.T, dir string) {
	t.Helper()
	partial, _ := filepath.Glob(filepath.Join(dir, "*.partial.wav"))
	hoa, _ := filepath.Glob(filepath.Join(dir, "HOA*"))
	assert.Empty(t, partial, "staging files in %s", dir)
	assert.Empty(t, hoa, "intermediates in %s", dir)
}

func TestRenderMinute_ProducesEveryArtifact(t *testing.T) {
	f := newFixture(t, testSettings(), []int{4, 3}, rate+25)

	report := f.driver.RenderMinute(context.Background(), f.job)
	require.Len(t, report.Results, 6)
	assert.Equal(t, 0, report.Failed())
	for name, o := range outcomes(report) {
		assert.Equal(t, render.OutcomeDone, o, name)
	}

	assert.Equal(t, []string{
		"Scene_full_sourceAll", "Scene_full_sourceLs",
		"Scene_full_sourceID3", "Scene_full_sourceID4",
		"Scene_ref_sourceID3", "Scene_ref_sourceID4",
	}, f.tools.Scenes())

	for _, v := range f.job.Variants {
		clip, err := audioio.Read(filepath.Join(f.job.OutputDir, v.ArrayFileName()))
		require.NoError(t, err, v.Name())
		assert.Equal(t, rate, clip.Frames(), v.Name())
		assert.Equal(t, 6, clip.Channels)
	}
	for _, id := range []int{3, 4} {
		ref := variant.Variant{Mixture: variant.Reference, Selector: variant.Talker, TalkerID: id}
		clip, err := audioio.Read(filepath.Join(f.job.OutputDir, ref.ReferenceFileName(2, 1, "05")))
		require.NoError(t, err)
		assert.Equal(t, 2, clip.Channels)
		assert.Equal(t, rate, clip.Frames())
	}
	assertNoLeftovers(t, f.job.WorkDir)
	assertNoLeftovers(t, f.job.OutputDir)

	assert.Equal(t, []render.State{
		render.StatePending, render.StateRendering, render.StateConverting, render.StateValidating,
	}, f.recorder.transitions["full_All"])
	assert.Equal(t, render.StateDone, f.recorder.results["ref_ID4"].State)
}

func TestRenderMinute_SecondRunInvokesNoTools(t *testing.T) {
	f := newFixture(t, testSettings(), []int{3, 4}, rate)
	first := f.driver.RenderMinute(context.Background(), f.job)
	require.Equal(t, 0, first.Failed())
	renders, convolves := f.tools.Renders(), f.tools.Convolves()

	second := f.driver.RenderMinute(context.Background(), f.job)
	assert.Equal(t, renders, f.tools.Renders())
	assert.Equal(t, convolves, f.tools.Convolves())
	for name, o := range outcomes(second) {
		assert.Equal(t, render.OutcomeSkipped, o, name)
	}
}

func TestRenderMinute_FailedVariantDoesNotStopOthers(t *testing.T) {
	f := newFixture(t, testSettings(), []int{3, 4}, rate)
	f.tools.FailRender = map[string]render.RunResult{
		"Scene_full_sourceID3": {ExitCode: 2, StderrTail: "scene not found"},
	}

	report := f.driver.RenderMinute(context.Background(), f.job)
	assert.Equal(t, 1, report.Failed())
	got := outcomes(report)
	assert.Equal(t, render.OutcomeFailed, got["full_ID3"])
	assert.Equal(t, render.OutcomeDone, got["full_ID4"])
	assert.Equal(t, render.OutcomeDone, got["ref_ID3"])

	res := f.recorder.results["full_ID3"]
	var pe *render.ExternalProcessError
	require.ErrorAs(t, res.Err, &pe)
	assert.Equal(t, 2, pe.Result.ExitCode)
	assert.False(t, pe.Retryable())
	assert.Equal(t, render.StateRendering, res.State)
	assert.NoFileExists(t, filepath.Join(f.job.OutputDir, "array_full_ID3.wav"))
	assertNoLeftovers(t, f.job.WorkDir)
}

func TestRenderVariant_ConvolverTimeoutLeavesNoArtifact(t *testing.T) {
	f := newFixture(t, testSettings(), []int{4}, rate)
	f.tools.FailConvolve = map[string]render.RunResult{
		"array_ref_ID4.partial.wav": {ExitCode: -1, TimedOut: true},
	}
	ref := variant.Variant{Mixture: variant.Reference, Selector: variant.Talker, TalkerID: 4}

	res := f.driver.RenderVariant(context.Background(), f.job, ref)
	assert.Equal(t, render.OutcomeFailed, res.Outcome)
	assert.Equal(t, render.StateConverting, res.State)
	assert.True(t, render.IsRetryable(res.Err))
	assert.NoFileExists(t, filepath.Join(f.job.OutputDir, ref.ArrayFileName()))
	assert.NoFileExists(t, filepath.Join(f.job.OutputDir, ref.ReferenceFileName(2, 1, "05")))
	assertNoLeftovers(t, f.job.OutputDir)
	assertNoLeftovers(t, f.job.WorkDir)
}

func TestRenderMinute_ConvolutionDisabledIsPartial(t *testing.T) {
	s := testSettings()
	s.Convolve = false
	f := newFixture(t, s, []int{3}, rate)

	report := f.driver.RenderMinute(context.Background(), f.job)
	require.Len(t, report.Results, 4)
	for name, o := range outcomes(report) {
		assert.Equal(t, render.OutcomePartial, o, name)
	}
	assert.Equal(t, 4, f.tools.Renders())
	assert.Equal(t, 0, f.tools.Convolves())
	entries, err := os.ReadDir(f.job.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assertNoLeftovers(t, f.job.WorkDir)
}

func TestRenderVariant_ShortOutputIsValidationFailure(t *testing.T) {
	f := newFixture(t, testSettings(), []int{3}, rate-1)
	all := variant.Variant{Mixture: variant.Full, Selector: variant.All}

	res := f.driver.RenderVariant(context.Background(), f.job, all)
	assert.Equal(t, render.OutcomeFailed, res.Outcome)
	assert.Equal(t, render.StateValidating, res.State)
	assert.ErrorIs(t, res.Err, postproc.ErrShortOutput)
	assert.NoFileExists(t, filepath.Join(f.job.OutputDir, all.ArrayFileName()))
	assertNoLeftovers(t, f.job.OutputDir)
}

func TestRenderVariant_ShmIntermediatesReleased(t *testing.T) {
	s := testSettings()
	f := newFixture(t, s, []int{3}, rate)
	shm := t.TempDir()
	f.driver = render.NewDriver(render.DriverConfig{
		Settings:  s,
		Tools:     f.tools,
		Ephemeral: render.ShmProvider{Dir: shm},
		Finalizer: postproc.New(postproc.Config{Frames: s.SamplesPerMinute(), BitDepth: 32}),
	})

	report := f.driver.RenderMinute(context.Background(), f.job)
	assert.Equal(t, 0, report.Failed())
	for _, in := range f.tools.Inputs() {
		assert.Equal(t, shm, filepath.Dir(in))
	}
	entries, err := os.ReadDir(shm)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRenderMinute_StopsOnCancel(t *testing.T) {
	f := newFixture(t, testSettings(), []int{3}, rate)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := f.driver.RenderMinute(ctx, f.job)
	assert.Empty(t, report.Results)
	assert.Equal(t, 0, f.tools.Renders())
}
