package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
)

type ApplicationConfig struct {
	Name   string `toml:"name"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	// Frames to run before exiting, 0 runs until interrupted.
	Frames uint64 `toml:"frames"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type RendererConfig struct {
	Backend      string `toml:"backend"`
	AsyncCompute bool   `toml:"async_compute"`
	// Enables the Vulkan validation layers.
	Validation bool `toml:"validation"`
}

type FrameGraphConfig struct {
	ValidateHandles     bool   `toml:"validate_handles"`
	DisablePassCulling  bool   `toml:"disable_pass_culling"`
	LogFrameInformation bool   `toml:"log_frame_information"`
	PoolMaxIdleFrames   uint64 `toml:"pool_max_idle_frames"`
}

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Log         LogConfig         `toml:"log"`
	Renderer    RendererConfig    `toml:"renderer"`
	FrameGraph  FrameGraphConfig  `toml:"framegraph"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:   "Anima Testbed",
			Width:  1280,
			Height: 720,
		},
		Log: LogConfig{
			Level: "info",
		},
		Renderer: RendererConfig{
			Backend:      renderer.Headless.String(),
			AsyncCompute: true,
		},
		FrameGraph: FrameGraphConfig{
			ValidateHandles:   true,
			PoolMaxIdleFrames: 3,
		},
	}
}

// Load reads the TOML file at path on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
		core.LogError(err.Error())
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		err = fmt.Errorf("%s: %w", path, err)
		core.LogError(err.Error())
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML data on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return fmt.Errorf("%w: application extent %dx%d", core.ErrInvalidConfig, c.Application.Width, c.Application.Height)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log level %q", core.ErrInvalidConfig, c.Log.Level)
	}
	if _, err := renderer.ParseRendererType(c.Renderer.Backend); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidConfig, err)
	}
	return nil
}

// RendererType is the parsed renderer backend; Validate guarantees it parses.
func (c *Config) RendererType() renderer.RendererType {
	t, _ := renderer.ParseRendererType(c.Renderer.Backend)
	return t
}

// Encode writes the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
