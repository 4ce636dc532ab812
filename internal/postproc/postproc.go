// Package postproc validates convolver output, cuts it to exactly one
// minute and derives the two-channel reference of reference variants.
package postproc

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/spearsim/scenebatch/internal/audioio"
	"github.com/spearsim/scenebatch/internal/logging"
)

var (
	ErrShortOutput   = errors.New("output shorter than one minute")
	ErrChannelLayout = errors.New("unexpected channel layout")
)

// ValidationError means the tool produced a file that does not meet the
// output contract. It is distinct from failing to read or write the file.
type ValidationError struct {
	Path string
	Err  error
	Got  int
	Want int
}

func (e *ValidationError) Error() string {
	if e.Got == 0 && e.Want == 0 {
		return fmt.Sprintf("validation of %s: %v", logging.SanitizePath(e.Path), e.Err)
	}
	return fmt.Sprintf("validation of %s: %v (got %d, want %d)", logging.SanitizePath(e.Path), e.Err, e.Got, e.Want)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ArrayLayout describes the microphone-array file. The reference pair is
// the two channels of the in-ear microphones, taken as the trailing pair.
type ArrayLayout struct {
	Channels      int
	ReferencePair [2]int
}

var DefaultLayout = ArrayLayout{Channels: 6, ReferencePair: [2]int{4, 5}}

// Config fixes the output contract.
type Config struct {
	Frames   int // samples per channel of a finished file
	BitDepth int
	Layout   ArrayLayout
	Logger   *slog.Logger
}

// Request names the files of one variant. Reference is empty for variants
// that derive no reference pair. Staging may equal Final.
type Request struct {
	Staging   string
	Final     string
	Reference string
}

// ChannelStats summarises one channel of a finished file.
type ChannelStats struct {
	Channel int     `json:"channel"`
	RMS     float64 `json:"rms"`
	Peak    float64 `json:"peak"`
	Mean    float64 `json:"mean"`
}

// Result describes a finished file.
type Result struct {
	Frames   int
	Channels int
	Dropped  int // frames cut from the end
	Stats    []ChannelStats
}

type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	if cfg.Layout.Channels == 0 {
		cfg.Layout = DefaultLayout
	}
	return &Validator{cfg: cfg}
}

// Finalize reads the staging file, checks it, truncates it and writes the
// final file. For reference variants the reference pair is written before
// the array file, because the array file marks the variant as complete.
func (v *Validator) Finalize(req Request) (Result, error) {
	clip, err := audioio.Read(req.Staging)
	if errors.Is(err, audioio.ErrNotPCM) {
		return Result{}, &ValidationError{Path: req.Staging, Err: err}
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to read convolver output: %w", err)
	}

	if clip.Frames() < v.cfg.Frames {
		return Result{}, &ValidationError{Path: req.Staging, Err: ErrShortOutput, Got: clip.Frames(), Want: v.cfg.Frames}
	}
	if req.Reference != "" && clip.Channels != v.cfg.Layout.Channels {
		return Result{}, &ValidationError{Path: req.Staging, Err: ErrChannelLayout, Got: clip.Channels, Want: v.cfg.Layout.Channels}
	}

	res := Result{Frames: v.cfg.Frames, Channels: clip.Channels, Dropped: clip.Frames() - v.cfg.Frames}
	clip.Truncate(v.cfg.Frames)
	res.Stats = Stats(clip)

	if req.Reference != "" {
		pair, err := clip.SelectChannels(v.cfg.Layout.ReferencePair[0], v.cfg.Layout.ReferencePair[1])
		if err != nil {
			return Result{}, err
		}
		if err := audioio.Write(req.Reference, pair, v.cfg.BitDepth); err != nil {
			return Result{}, fmt.Errorf("failed to write reference: %w", err)
		}
	}

	if err := audioio.Write(req.Final, clip, v.cfg.BitDepth); err != nil {
		return Result{}, fmt.Errorf("failed to write array output: %w", err)
	}
	if req.Staging != req.Final {
		if err := os.Remove(req.Staging); err != nil {
			v.cfg.Logger.Warn("failed to remove staging file", "path", logging.SanitizePath(req.Staging), "error", err)
		}
	}

	v.cfg.Logger.Debug("output finalized",
		"path", logging.SanitizePath(req.Final),
		"channels", res.Channels,
		"dropped_frames", res.Dropped,
	)
	return res, nil
}

// Stats computes per-channel level statistics on the normalised signal.
func Stats(c *audioio.Clip) []ChannelStats {
	out := make([]ChannelStats, c.Channels)
	for ch := 0; ch < c.Channels; ch++ {
		x := c.Channel(ch)
		s := ChannelStats{Channel: ch}
		if len(x) > 0 {
			s.RMS = math.Sqrt(floats.Dot(x, x) / float64(len(x)))
			s.Peak = math.Max(floats.Max(x), -floats.Min(x))
			s.Mean = stat.Mean(x, nil)
		}
		out[ch] = s
	}
	return out
}
