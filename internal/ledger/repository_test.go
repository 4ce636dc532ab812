package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spearsim/scenebatch/internal/db"
	"github.com/spearsim/scenebatch/internal/render"
	"github.com/spearsim/scenebatch/internal/variant"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	run := NewRun("render", 2, 1, 42, true)
	require.NoError(t, repo.CreateRun(ctx, run))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Equal(t, int64(42), got.Seed)
	assert.True(t, got.Convolve)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, repo.FinishRun(ctx, run.ID, RunStatusFailed, "2 variants failed"))
	got, err = repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "2 variants failed", got.Error)
	assert.NotNil(t, got.FinishedAt)

	assert.Error(t, repo.FinishRun(ctx, "missing", RunStatusCompleted, ""))

	missing, err := repo.GetRun(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	second := NewRun("generate", 3, 11, 7, false)
	require.NoError(t, repo.CreateRun(ctx, second))
	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
}

func TestVariantAttempts(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	run := NewRun("render", 2, 1, 42, true)
	require.NoError(t, repo.CreateRun(ctx, run))

	key := render.VariantKey{RunID: run.ID, Dataset: 2, Session: 1, Minute: "05", Variant: "full_All"}
	for _, s := range []render.State{render.StatePending, render.StateRendering, render.StateConverting} {
		require.NoError(t, repo.Transition(ctx, key, s))
	}

	attempts, err := repo.ListVariants(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, "converting", attempts[0].State)
	assert.Empty(t, attempts[0].Outcome)

	runResult := render.RunResult{Tool: render.ToolConvolver, ExitCode: -1, TimedOut: true, StderrTail: "killed"}
	require.NoError(t, repo.Complete(ctx, key, render.VariantResult{
		Variant:  variant.Variant{Mixture: variant.Full, Selector: variant.All},
		Outcome:  render.OutcomeFailed,
		State:    render.StateConverting,
		Run:      &runResult,
		Duration: 1500 * time.Millisecond,
		Err:      &render.ExternalProcessError{Variant: "full_All", Result: runResult},
	}))

	okKey := key
	okKey.Variant = "full_Ls"
	require.NoError(t, repo.Complete(ctx, okKey, render.VariantResult{Outcome: render.OutcomeSkipped, State: render.StateDone}))

	attempts, err = repo.ListVariants(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	failed := attempts[0]
	assert.Equal(t, "failed", failed.Outcome)
	require.NotNil(t, failed.ExitCode)
	assert.Equal(t, -1, *failed.ExitCode)
	assert.True(t, failed.TimedOut)
	assert.True(t, failed.Retryable)
	assert.Equal(t, "killed", failed.StderrTail)
	assert.Equal(t, int64(1500), failed.DurationMs)
	assert.Nil(t, attempts[1].ExitCode)

	counts, err := repo.CountOutcomes(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"failed": 1, "skipped": 1}, counts)
}

func TestNoiseAndMinuteErrors(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	run := NewRun("generate", 2, 1, 42, true)
	require.NoError(t, repo.CreateRun(ctx, run))

	require.NoError(t, repo.RecordNoise(ctx, run.ID, "00", []string{"a.wav", "b.wav", "a.wav"}))
	require.NoError(t, repo.RecordNoise(ctx, run.ID, "00", []string{"c.wav", "b.wav", "a.wav"}))
	noise, err := repo.ListNoise(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, noise, 3)
	assert.Equal(t, "c.wav", noise[0].NoiseFile)
	assert.Equal(t, 2, noise[2].Loudspeaker)

	require.NoError(t, repo.RecordMinuteError(ctx, run.ID, "01", "generate", errors.New("no receiver")))
	errs, err := repo.ListMinuteErrors(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "no receiver", errs[0].Error)
}

func TestConfig(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	v, err := repo.GetConfig(ctx, "last_seed")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, repo.SetConfig(ctx, "last_seed", "42"))
	require.NoError(t, repo.SetConfig(ctx, "last_seed", "43"))
	v, err = repo.GetConfig(ctx, "last_seed")
	require.NoError(t, err)
	assert.Equal(t, "43", v)
}
