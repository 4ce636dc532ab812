// Package config provides configuration management for scenebatch.
// Values come from built-in defaults, an optional config file, SCENEBATCH_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultLogLevel = "info"
	DefaultDataDir  = ".scenebatch"
	DefaultSeed     = 42

	// EnvPrefix is prepended to every environment variable, e.g.
	// SCENEBATCH_ROOT or SCENEBATCH_RENDER_CONVOLVE.
	EnvPrefix = "SCENEBATCH"

	// Database filename
	DBFilename = "ledger.db"

	// Keys
	KeyPort             = "port"
	KeyLogLevel         = "log_level"
	KeyDataDir          = "data_dir"
	KeyRoot             = "root"
	KeyBlocksDir        = "blocks_dir"
	KeySeed             = "seed"
	KeyRandomMinute     = "random_minute"
	KeySourceLevel      = "scene.source_level"
	KeyLoudspeakerDelta = "scene.loudspeaker_level_offset"
	KeyAmbisonicOrder   = "scene.ambisonic_order"
	KeyReceiverID       = "scene.receiver_id"
	KeyInterferers      = "scene.interferers"
	KeySampleRate       = "output.sample_rate"
	KeyMinuteSeconds    = "output.minute_seconds"
	KeyBitDepth         = "output.bit_depth"
	KeyRenderer         = "render.renderer"
	KeyConvolver        = "render.convolver"
	KeyRendererLibDir   = "render.lib_dir"
	KeyFragmentSize     = "render.fragment_size"
	KeyConvolve         = "render.convolve"
	KeySettleDelay      = "render.settle_delay"
	KeyRendererTimeout  = "render.renderer_timeout"
	KeyConvolverTimeout = "render.convolver_timeout"
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"port":          KeyPort,
	"log-level":     KeyLogLevel,
	"data-dir":      KeyDataDir,
	"root":          KeyRoot,
	"blocks-dir":    KeyBlocksDir,
	"seed":          KeySeed,
	"random-minute": KeyRandomMinute,
	"settle-delay":  KeySettleDelay,
}

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	Root() string
	BlocksDir() string
	Seed() int64
	RandomMinute() bool
	Settings() Settings
}

// ViperConfig reads configuration through a private viper instance.
type ViperConfig struct {
	v        *viper.Viper
	settings Settings
}

// New creates a ViperConfig. configFile may be empty; flags may be nil.
// A flag only overrides the lower layers when it was set explicitly.
func New(configFile string, flags *pflag.FlagSet) (*ViperConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("no-convolve"); f != nil && f.Changed && f.Value.String() == "true" {
			v.Set(KeyConvolve, false)
		}
	}

	cfg := &ViperConfig{v: v}

	port := v.GetInt(KeyPort)
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", KeyPort)
	}

	cfg.settings = Settings{
		SourceLevel:            v.GetFloat64(KeySourceLevel),
		LoudspeakerLevelOffset: v.GetFloat64(KeyLoudspeakerDelta),
		AmbisonicOrder:         v.GetInt(KeyAmbisonicOrder),
		ReceiverID:             v.GetInt(KeyReceiverID),
		Interferers:            v.GetIntSlice(KeyInterferers),
		SampleRate:             v.GetInt(KeySampleRate),
		MinuteDuration:         time.Duration(v.GetInt(KeyMinuteSeconds)) * time.Second,
		BitDepth:               v.GetInt(KeyBitDepth),
		FragmentSize:           v.GetInt(KeyFragmentSize),
		Renderer:               v.GetString(KeyRenderer),
		Convolver:              v.GetString(KeyConvolver),
		RendererLibDir:         v.GetString(KeyRendererLibDir),
		Convolve:               v.GetBool(KeyConvolve),
		SettleDelay:            v.GetDuration(KeySettleDelay),
		RendererTimeout:        v.GetDuration(KeyRendererTimeout),
		ConvolverTimeout:       v.GetDuration(KeyConvolverTimeout),
	}
	if err := cfg.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultSettings()

	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyDataDir, defaultDataDir())
	v.SetDefault(KeyRoot, "")
	v.SetDefault(KeyBlocksDir, "")
	v.SetDefault(KeySeed, DefaultSeed)
	v.SetDefault(KeyRandomMinute, false)

	v.SetDefault(KeySourceLevel, d.SourceLevel)
	v.SetDefault(KeyLoudspeakerDelta, d.LoudspeakerLevelOffset)
	v.SetDefault(KeyAmbisonicOrder, d.AmbisonicOrder)
	v.SetDefault(KeyReceiverID, d.ReceiverID)
	v.SetDefault(KeyInterferers, d.Interferers)
	v.SetDefault(KeySampleRate, d.SampleRate)
	v.SetDefault(KeyMinuteSeconds, int(d.MinuteDuration/time.Second))
	v.SetDefault(KeyBitDepth, d.BitDepth)
	v.SetDefault(KeyFragmentSize, d.FragmentSize)
	v.SetDefault(KeyRenderer, d.Renderer)
	v.SetDefault(KeyConvolver, d.Convolver)
	v.SetDefault(KeyRendererLibDir, d.RendererLibDir)
	v.SetDefault(KeyConvolve, d.Convolve)
	v.SetDefault(KeySettleDelay, d.SettleDelay)
	v.SetDefault(KeyRendererTimeout, d.RendererTimeout)
	v.SetDefault(KeyConvolverTimeout, d.ConvolverTimeout)
}

// Port returns the status server port
func (c *ViperConfig) Port() int {
	return c.v.GetInt(KeyPort)
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *ViperConfig) LogLevel() string {
	return c.v.GetString(KeyLogLevel)
}

// DataDir returns the data directory path
func (c *ViperConfig) DataDir() string {
	return c.v.GetString(KeyDataDir)
}

// DBPath returns the full path to the SQLite ledger file
func (c *ViperConfig) DBPath() string {
	return filepath.Join(c.DataDir(), DBFilename)
}

// Root returns the directory that contains the SPEAR tree.
func (c *ViperConfig) Root() string {
	return c.v.GetString(KeyRoot)
}

// BlocksDir returns the scene block override directory; empty means the
// embedded blocks are used.
func (c *ViperConfig) BlocksDir() string {
	return c.v.GetString(KeyBlocksDir)
}

func (c *ViperConfig) Seed() int64 {
	return c.v.GetInt64(KeySeed)
}

func (c *ViperConfig) RandomMinute() bool {
	return c.v.GetBool(KeyRandomMinute)
}

// Settings returns a copy of the scene and render settings.
func (c *ViperConfig) Settings() Settings {
	return c.settings.Clone()
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
