// Package audioio reads and writes multichannel integer PCM wav files.
package audioio

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/spearsim/scenebatch/internal/fsutil"
)

const pcmFormat = 1

var ErrNotPCM = errors.New("not an integer PCM wav file")

// Clip is an interleaved block of samples.
type Clip struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Data       []int
}

// Frames is the number of samples per channel.
func (c *Clip) Frames() int {
	if c.Channels == 0 {
		return 0
	}
	return len(c.Data) / c.Channels
}

// Truncate keeps the first n frames.
func (c *Clip) Truncate(n int) {
	if n < c.Frames() {
		c.Data = c.Data[:n*c.Channels]
	}
}

// SelectChannels returns a new clip holding the given channels in order.
func (c *Clip) SelectChannels(idx ...int) (*Clip, error) {
	for _, i := range idx {
		if i < 0 || i >= c.Channels {
			return nil, fmt.Errorf("channel %d out of range [0,%d)", i, c.Channels)
		}
	}
	frames := c.Frames()
	out := &Clip{
		SampleRate: c.SampleRate,
		Channels:   len(idx),
		BitDepth:   c.BitDepth,
		Data:       make([]int, frames*len(idx)),
	}
	for f := 0; f < frames; f++ {
		for j, i := range idx {
			out.Data[f*len(idx)+j] = c.Data[f*c.Channels+i]
		}
	}
	return out, nil
}

// Channel returns channel i scaled to [-1, 1).
func (c *Clip) Channel(i int) []float64 {
	frames := c.Frames()
	scale := float64(int64(1) << (c.BitDepth - 1))
	out := make([]float64, frames)
	for f := 0; f < frames; f++ {
		out[f] = float64(c.Data[f*c.Channels+i]) / scale
	}
	return out
}

// Convert rescales the samples to bitDepth.
func (c *Clip) Convert(bitDepth int) {
	if bitDepth == c.BitDepth {
		return
	}
	shift := bitDepth - c.BitDepth
	for i, v := range c.Data {
		if shift > 0 {
			c.Data[i] = v << shift
		} else {
			c.Data[i] = v >> -shift
		}
	}
	c.BitDepth = bitDepth
}

// Read decodes a whole file.
func Read(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: invalid wav file", path)
	}
	if d.WavAudioFormat != pcmFormat {
		return nil, fmt.Errorf("%s: %w (format %d)", path, ErrNotPCM, d.WavAudioFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &Clip{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Data:       buf.Data,
	}, nil
}

// Write encodes c at bitDepth and atomically replaces path.
func Write(path string, c *Clip, bitDepth int) error {
	c.Convert(bitDepth)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: c.Channels, SampleRate: c.SampleRate},
		Data:           c.Data,
		SourceBitDepth: bitDepth,
	}
	return fsutil.WriteAtomic(path, 0o644, func(f *os.File) error {
		enc := wav.NewEncoder(f, c.SampleRate, bitDepth, c.Channels, pcmFormat)
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", path, err)
		}
		return enc.Close()
	})
}
