package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spearsim/scenebatch/internal/render"
)

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	FinishRun(ctx context.Context, id, status, errorMsg string) error

	Transition(ctx context.Context, key render.VariantKey, state render.State) error
	Complete(ctx context.Context, key render.VariantKey, res render.VariantResult) error
	ListVariants(ctx context.Context, runID string) ([]*VariantAttempt, error)
	CountOutcomes(ctx context.Context, runID string) (map[string]int, error)

	RecordNoise(ctx context.Context, runID, minute string, files []string) error
	ListNoise(ctx context.Context, runID string) ([]*NoiseAssignment, error)

	RecordMinuteError(ctx context.Context, runID, minute, stage string, cause error) error
	ListMinuteErrors(ctx context.Context, runID string) ([]*MinuteError, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, command, dataset, session, seed, convolve, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Command, run.Dataset, run.Session, run.Seed, boolToInt(run.Convolve), run.Status, run.StartedAt.Format(time.RFC3339))
	return err
}

const runColumns = `id, command, dataset, session, seed, convolve, status, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var convolve int
	var errMsg, finishedAt sql.NullString
	var startedAt string

	if err := s.Scan(&run.ID, &run.Command, &run.Dataset, &run.Session, &run.Seed, &convolve, &run.Status, &errMsg, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Convolve = convolve == 1
	run.Error = errMsg.String
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) FinishRun(ctx context.Context, id, status, errorMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, status, nullString(errorMsg), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// Transition records the state a variant entered.
func (r *SQLiteRepository) Transition(ctx context.Context, key render.VariantKey, state render.State) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO variant_attempts (run_id, minute, variant, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, minute, variant) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, key.RunID, key.Minute, key.Variant, string(state), time.Now().UTC().Format(time.RFC3339))
	return err
}

// Complete records how a variant ended.
func (r *SQLiteRepository) Complete(ctx context.Context, key render.VariantKey, res render.VariantResult) error {
	var exitCode sql.NullInt64
	var timedOut bool
	var stderr string
	if res.Run != nil {
		exitCode = sql.NullInt64{Int64: int64(res.Run.ExitCode), Valid: true}
		timedOut = res.Run.TimedOut
		stderr = res.Run.StderrTail
	}
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO variant_attempts (run_id, minute, variant, state, outcome, exit_code, timed_out, retryable,
			stderr_tail, error, output_path, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, minute, variant) DO UPDATE SET
			state = excluded.state,
			outcome = excluded.outcome,
			exit_code = excluded.exit_code,
			timed_out = excluded.timed_out,
			retryable = excluded.retryable,
			stderr_tail = excluded.stderr_tail,
			error = excluded.error,
			output_path = excluded.output_path,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at
	`, key.RunID, key.Minute, key.Variant, string(res.State), string(res.Outcome), exitCode,
		boolToInt(timedOut), boolToInt(render.IsRetryable(res.Err)),
		nullString(stderr), nullString(errMsg), nullString(res.Path), res.Duration.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListVariants(ctx context.Context, runID string) ([]*VariantAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, minute, variant, state, outcome, exit_code, timed_out, retryable,
			stderr_tail, error, output_path, duration_ms, updated_at
		FROM variant_attempts WHERE run_id = ? ORDER BY minute, rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*VariantAttempt
	for rows.Next() {
		var a VariantAttempt
		var outcome, stderr, errMsg, outputPath sql.NullString
		var exitCode sql.NullInt64
		var timedOut, retryable int
		var updatedAt string

		if err := rows.Scan(&a.RunID, &a.Minute, &a.Variant, &a.State, &outcome, &exitCode, &timedOut, &retryable,
			&stderr, &errMsg, &outputPath, &a.DurationMs, &updatedAt); err != nil {
			return nil, err
		}
		a.Outcome = outcome.String
		if exitCode.Valid {
			code := int(exitCode.Int64)
			a.ExitCode = &code
		}
		a.TimedOut = timedOut == 1
		a.Retryable = retryable == 1
		a.StderrTail = stderr.String
		a.Error = errMsg.String
		a.OutputPath = outputPath.String
		a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CountOutcomes tallies finished variants of a run by outcome.
func (r *SQLiteRepository) CountOutcomes(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM variant_attempts
		WHERE run_id = ? AND outcome IS NOT NULL GROUP BY outcome
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// RecordNoise stores the noise file of every loudspeaker of a minute.
func (r *SQLiteRepository) RecordNoise(ctx context.Context, runID, minute string, files []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, f := range files {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO noise_assignments (run_id, minute, loudspeaker, noise_file) VALUES (?, ?, ?, ?)
			ON CONFLICT(run_id, minute, loudspeaker) DO UPDATE SET noise_file = excluded.noise_file
		`, runID, minute, i, f); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) ListNoise(ctx context.Context, runID string) ([]*NoiseAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, minute, loudspeaker, noise_file FROM noise_assignments
		WHERE run_id = ? ORDER BY minute, loudspeaker
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NoiseAssignment
	for rows.Next() {
		var a NoiseAssignment
		if err := rows.Scan(&a.RunID, &a.Minute, &a.Loudspeaker, &a.NoiseFile); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) RecordMinuteError(ctx context.Context, runID, minute, stage string, cause error) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO minute_errors (run_id, minute, stage, error, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, minute, stage) DO UPDATE SET error = excluded.error, created_at = excluded.created_at
	`, runID, minute, stage, cause.Error(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListMinuteErrors(ctx context.Context, runID string) ([]*MinuteError, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, minute, stage, error, created_at FROM minute_errors
		WHERE run_id = ? ORDER BY minute, stage
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MinuteError
	for rows.Next() {
		var e MinuteError
		var createdAt string
		if err := rows.Scan(&e.RunID, &e.Minute, &e.Stage, &e.Error, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
