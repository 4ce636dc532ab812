package config

import (
	"fmt"
	"slices"
	"time"
)

// MaxSettleDelay bounds the pause between renderer exit and convolution.
const MaxSettleDelay = 5 * time.Second

// Settings is the immutable set of scene and render constants handed to
// each component at construction. Use Clone before mutating a copy.
type Settings struct {
	SourceLevel            float64 // dB, every talker
	LoudspeakerLevelOffset float64 // dB added to SourceLevel for fixed-layout loudspeakers
	AmbisonicOrder         int
	ReceiverID             int   // position-file id of the listener
	Interferers            []int // talker ids that may appear in a scene

	SampleRate     int
	MinuteDuration time.Duration
	BitDepth       int

	Renderer         string
	Convolver        string
	RendererLibDir   string
	FragmentSize     int
	Convolve         bool
	SettleDelay      time.Duration
	RendererTimeout  time.Duration
	ConvolverTimeout time.Duration
}

// DefaultSettings returns the values used to produce the published dataset.
func DefaultSettings() Settings {
	return Settings{
		SourceLevel:            80,
		LoudspeakerLevelOffset: -13,
		AmbisonicOrder:         15,
		ReceiverID:             2,
		Interferers:            []int{3, 4, 5, 6, 7},

		SampleRate:     48000,
		MinuteDuration: 60 * time.Second,
		BitDepth:       32,

		Renderer:         "tascar_renderfile",
		Convolver:        "fmatconvol",
		RendererLibDir:   "/usr/local/lib",
		FragmentSize:     256,
		Convolve:         true,
		SettleDelay:      100 * time.Millisecond,
		RendererTimeout:  30 * time.Minute,
		ConvolverTimeout: 15 * time.Minute,
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.Interferers = slices.Clone(s.Interferers)
	return s
}

// SamplesPerMinute is the exact frame count every final artifact must have.
func (s Settings) SamplesPerMinute() int {
	return int(int64(s.SampleRate) * int64(s.MinuteDuration) / int64(time.Second))
}

// LoudspeakerLevel is the playback level of the fixed-layout noise loudspeakers.
func (s Settings) LoudspeakerLevel() float64 {
	return s.SourceLevel + s.LoudspeakerLevelOffset
}

// IsInterferer reports whether id belongs to the interferer pool.
func (s Settings) IsInterferer(id int) bool {
	return slices.Contains(s.Interferers, id)
}

// Validate checks that the settings are usable.
func (s Settings) Validate() error {
	if s.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", s.SampleRate)
	}
	if s.MinuteDuration <= 0 {
		return fmt.Errorf("minute duration must be positive, got %s", s.MinuteDuration)
	}
	switch s.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("bit_depth must be 16, 24 or 32, got %d", s.BitDepth)
	}
	if s.AmbisonicOrder < 1 {
		return fmt.Errorf("ambisonic_order must be at least 1, got %d", s.AmbisonicOrder)
	}
	if s.FragmentSize <= 0 {
		return fmt.Errorf("fragment_size must be positive, got %d", s.FragmentSize)
	}
	if len(s.Interferers) == 0 {
		return fmt.Errorf("interferer pool is empty")
	}
	seen := make(map[int]bool, len(s.Interferers))
	for _, id := range s.Interferers {
		if id == s.ReceiverID {
			return fmt.Errorf("receiver id %d must not be in the interferer pool", id)
		}
		if seen[id] {
			return fmt.Errorf("interferer id %d listed twice", id)
		}
		seen[id] = true
	}
	if s.Renderer == "" || s.Convolver == "" {
		return fmt.Errorf("renderer and convolver executables must be set")
	}
	if s.SettleDelay < 0 || s.SettleDelay > MaxSettleDelay {
		return fmt.Errorf("settle_delay must be between 0 and %s, got %s", MaxSettleDelay, s.SettleDelay)
	}
	if s.RendererTimeout <= 0 || s.ConvolverTimeout <= 0 {
		return fmt.Errorf("renderer and convolver timeouts must be positive")
	}
	return nil
}
