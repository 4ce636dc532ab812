// Package rendertest provides an in-process stand-in for the external tools.
package rendertest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spearsim/scenebatch/internal/audioio"
	"github.com/spearsim/scenebatch/internal/render"
)

// FakeTools writes a placeholder intermediate on Render and a synthetic
// multichannel wav on Convolve. Failures are keyed by scene name for Render
// and by output base name for Convolve.
type FakeTools struct {
	SampleRate int
	Channels   int
	Frames     int

	FailRender   map[string]render.RunResult
	FailConvolve map[string]render.RunResult

	renders   atomic.Int32
	convolves atomic.Int32

	mu     sync.Mutex
	scenes []string
	inputs []string
}

// New returns a fake producing channels x frames outputs.
func New(sampleRate, channels, frames int) *FakeTools {
	return &FakeTools{SampleRate: sampleRate, Channels: channels, Frames: frames}
}

func (f *FakeTools) Render(ctx context.Context, req render.RenderRequest) (render.RunResult, error) {
	f.renders.Add(1)
	f.mu.Lock()
	f.scenes = append(f.scenes, req.SceneName)
	f.mu.Unlock()

	if res, ok := f.FailRender[req.SceneName]; ok {
		res.Tool = render.ToolRenderer
		return res, nil
	}
	if err := os.WriteFile(req.Output, []byte("hoa"), 0o644); err != nil {
		return render.RunResult{Tool: render.ToolRenderer, ExitCode: 1, StderrTail: err.Error()}, nil
	}
	return render.RunResult{Tool: render.ToolRenderer, Duration: time.Millisecond}, nil
}

func (f *FakeTools) Convolve(ctx context.Context, req render.ConvolveRequest) (render.RunResult, error) {
	f.convolves.Add(1)
	f.mu.Lock()
	f.inputs = append(f.inputs, req.Input)
	f.mu.Unlock()

	if res, ok := f.FailConvolve[filepath.Base(req.Output)]; ok {
		res.Tool = render.ToolConvolver
		// a crashing convolver may leave a partial file behind
		os.WriteFile(req.Output, []byte("partial"), 0o644)
		return res, nil
	}
	if _, err := os.Stat(req.Input); err != nil {
		return render.RunResult{Tool: render.ToolConvolver, ExitCode: 1, StderrTail: err.Error()}, nil
	}

	clip := &audioio.Clip{SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: 32, Data: make([]int, f.Channels*f.Frames)}
	for i := range clip.Data {
		clip.Data[i] = (i%f.Channels+1)*1000 + i/f.Channels
	}
	if err := audioio.Write(req.Output, clip, 32); err != nil {
		return render.RunResult{Tool: render.ToolConvolver, ExitCode: 1, StderrTail: err.Error()}, nil
	}
	return render.RunResult{Tool: render.ToolConvolver, Duration: time.Millisecond}, nil
}

// Renders is the number of Render calls.
func (f *FakeTools) Renders() int { return int(f.renders.Load()) }

// Convolves is the number of Convolve calls.
func (f *FakeTools) Convolves() int { return int(f.convolves.Load()) }

// Scenes returns the rendered scene names in call order.
func (f *FakeTools) Scenes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scenes...)
}

// Inputs returns the intermediates handed to the convolver.
func (f *FakeTools) Inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}
