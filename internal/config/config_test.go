package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port() = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.Seed() != DefaultSeed {
		t.Errorf("Seed() = %d, want %d", cfg.Seed(), DefaultSeed)
	}
	s := cfg.Settings()
	if s.SamplesPerMinute() != 48000*60 {
		t.Errorf("SamplesPerMinute() = %d, want %d", s.SamplesPerMinute(), 48000*60)
	}
	if s.LoudspeakerLevel() != 67 {
		t.Errorf("LoudspeakerLevel() = %v, want 67", s.LoudspeakerLevel())
	}
	if !s.Convolve {
		t.Error("convolution should be enabled by default")
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("SCENEBATCH_ROOT", "/data/spear")
	t.Setenv("SCENEBATCH_RENDER_CONVOLVE", "false")
	t.Setenv("SCENEBATCH_RENDER_SETTLE_DELAY", "250ms")

	cfg, err := New("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Root() != "/data/spear" {
		t.Errorf("Root() = %q, want %q", cfg.Root(), "/data/spear")
	}
	s := cfg.Settings()
	if s.Convolve {
		t.Error("Convolve = true, want false from env")
	}
	if s.SettleDelay != 250*time.Millisecond {
		t.Errorf("SettleDelay = %s, want 250ms", s.SettleDelay)
	}
}

func TestNew_ConfigFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenebatch.yaml")
	content := "seed: 7\nroot: /from/file\nrender:\n  fragment_size: 512\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("root", "", "")
	flags.Bool("no-convolve", false, "")
	if err := flags.Parse([]string{"--root", "/from/flag", "--no-convolve"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := New(path, flags)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Seed() != 7 {
		t.Errorf("Seed() = %d, want 7", cfg.Seed())
	}
	if cfg.Root() != "/from/flag" {
		t.Errorf("Root() = %q, want flag value", cfg.Root())
	}
	s := cfg.Settings()
	if s.FragmentSize != 512 {
		t.Errorf("FragmentSize = %d, want 512", s.FragmentSize)
	}
	if s.Convolve {
		t.Error("--no-convolve should disable convolution")
	}
}

func TestNew_InvalidSettleDelay(t *testing.T) {
	t.Setenv("SCENEBATCH_RENDER_SETTLE_DELAY", "10s")
	if _, err := New("", nil); err == nil {
		t.Fatal("expected error for settle delay above bound")
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero sample rate", func(s *Settings) { s.SampleRate = 0 }},
		{"odd bit depth", func(s *Settings) { s.BitDepth = 20 }},
		{"empty pool", func(s *Settings) { s.Interferers = nil }},
		{"receiver in pool", func(s *Settings) { s.Interferers = []int{2, 3} }},
		{"duplicate interferer", func(s *Settings) { s.Interferers = []int{3, 3} }},
		{"negative delay", func(s *Settings) { s.SettleDelay = -time.Millisecond }},
		{"no timeout", func(s *Settings) { s.RendererTimeout = 0 }},
	}
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestSettings_CloneIsDeep(t *testing.T) {
	a := DefaultSettings()
	b := a.Clone()
	b.Interferers[0] = 99
	if a.Interferers[0] == 99 {
		t.Error("Clone shares the interferer slice")
	}
}
