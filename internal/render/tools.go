package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spearsim/scenebatch/internal/config"
	"github.com/spearsim/scenebatch/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024
)

// Tools runs the renderer and the convolver.
type Tools interface {
	// Render renders one named scene of a description into an ambisonic file.
	Render(ctx context.Context, req RenderRequest) (RunResult, error)

	// Convolve applies the transfer-function configuration to an
	// ambisonic file, producing the microphone-array signal.
	Convolve(ctx context.Context, req ConvolveRequest) (RunResult, error)
}

type RenderRequest struct {
	SceneFile string
	SceneName string
	Output    string
}

type ConvolveRequest struct {
	ConfigFile string
	Input      string
	Output     string
}

// ToolsConfig holds the executables and their limits.
type ToolsConfig struct {
	Renderer         string
	Convolver        string
	LibDir           string // prepended to LD_LIBRARY_PATH
	FragmentSize     int
	SampleRate       int
	RendererTimeout  time.Duration
	ConvolverTimeout time.Duration
	Logger           *slog.Logger
}

// ToolsConfigFromSettings maps the batch settings onto ToolsConfig.
func ToolsConfigFromSettings(s config.Settings, logger *slog.Logger) ToolsConfig {
	return ToolsConfig{
		Renderer:         s.Renderer,
		Convolver:        s.Convolver,
		LibDir:           s.RendererLibDir,
		FragmentSize:     s.FragmentSize,
		SampleRate:       s.SampleRate,
		RendererTimeout:  s.RendererTimeout,
		ConvolverTimeout: s.ConvolverTimeout,
		Logger:           logger,
	}
}

// SubprocessTools is the production implementation of Tools.
type SubprocessTools struct {
	cfg ToolsConfig
}

func NewSubprocessTools(cfg ToolsConfig) *SubprocessTools {
	cfg.Logger = logging.WithComponent(logging.OrDiscard(cfg.Logger), "tools")
	return &SubprocessTools{cfg: cfg}
}

// Render runs tascar_renderfile for a single scene.
func (t *SubprocessTools) Render(ctx context.Context, req RenderRequest) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.RendererTimeout)
	defer cancel()

	return t.exec(ctx, ToolRenderer, t.cfg.Renderer,
		"--fragsize", strconv.Itoa(t.cfg.FragmentSize),
		"--scene", req.SceneName,
		"-o", req.Output,
		"-r", strconv.Itoa(t.cfg.SampleRate),
		req.SceneFile,
	)
}

// Convolve runs fmatconvol.
func (t *SubprocessTools) Convolve(ctx context.Context, req ConvolveRequest) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConvolverTimeout)
	defer cancel()

	return t.exec(ctx, ToolConvolver, t.cfg.Convolver, req.ConfigFile, req.Input, req.Output)
}

// exec is the core subprocess execution helper. A start failure is returned
// as error; a non-zero exit or a timeout is reported in the result only.
func (t *SubprocessTools) exec(ctx context.Context, tool Tool, bin string, args ...string) (RunResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = libraryEnv(os.Environ(), t.cfg.LibDir)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	t.cfg.Logger.Debug("executing tool", "tool", tool, "bin", bin, "args", args)

	err := cmd.Run()
	result := RunResult{
		Tool:       tool,
		StderrTail: stderrBuf.String(),
		Duration:   time.Since(start),
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if !result.TimedOut && ctx.Err() == nil {
				return result, fmt.Errorf("failed to start %s: %w", bin, err)
			}
		}
	}

	if result.IsSuccess() {
		t.cfg.Logger.Info("tool succeeded", "tool", tool, "duration_ms", result.Duration.Milliseconds())
	} else {
		t.cfg.Logger.Warn("tool failed",
			"tool", tool,
			"exit_code", result.ExitCode,
			"timed_out", result.TimedOut,
			"duration_ms", result.Duration.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
	}
	return result, nil
}

// libraryEnv returns env with dir prepended to LD_LIBRARY_PATH.
func libraryEnv(env []string, dir string) []string {
	if dir == "" {
		return env
	}
	const key = "LD_LIBRARY_PATH="
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if strings.HasPrefix(kv, key) {
			found = true
			if old := strings.TrimPrefix(kv, key); old != "" {
				kv = key + dir + string(os.PathListSeparator) + old
			} else {
				kv = key + dir
			}
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, key+dir)
	}
	return out
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
