package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

const sample = `
[application]
name = "deferred"
width = 640
height = 360
frames = 10

[log]
level = "debug"

[renderer]
backend = "vulkan"
async_compute = false

[framegraph]
disable_pass_culling = true
pool_max_idle_frames = 8
`

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, renderer.Headless, cfg.RendererType())
	assert.True(t, cfg.FrameGraph.ValidateHandles)
	assert.True(t, cfg.Renderer.AsyncCompute)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "deferred", cfg.Application.Name)
	assert.Equal(t, uint32(640), cfg.Application.Width)
	assert.Equal(t, uint64(10), cfg.Application.Frames)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, renderer.Vulkan, cfg.RendererType())
	assert.False(t, cfg.Renderer.AsyncCompute)
	assert.True(t, cfg.FrameGraph.DisablePassCulling)
	assert.Equal(t, uint64(8), cfg.FrameGraph.PoolMaxIdleFrames)

	// untouched keys keep their defaults
	assert.True(t, cfg.FrameGraph.ValidateHandles)
	assert.False(t, cfg.FrameGraph.LogFrameInformation)
}

func TestParseRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "[application\nname = 1"},
		{"unknown key", "[framegraph]\nculling = false"},
		{"wrong type", "[application]\nwidth = \"wide\""},
		{"zero extent", "[application]\nwidth = 0"},
		{"log level", "[log]\nlevel = \"loud\""},
		{"backend", "[renderer]\nbackend = \"metal\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	path := filepath.Join(t.TempDir(), "anima.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "deferred", cfg.Application.Name)
}

func TestEncodeCanBeParsedBack(t *testing.T) {
	cfg := Default()
	cfg.FrameGraph.LogFrameInformation = true

	data, err := cfg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), "log_frame_information = true")

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestWatchReloadsValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	var mu sync.Mutex
	var reloaded []*Config

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) {
			mu.Lock()
			defer mu.Unlock()
			reloaded = append(reloaded, cfg)
		})
	}()

	// let the watcher register
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("[application]\nwidth = 0"), 0o644))
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, reloaded, "invalid files are skipped")
	mu.Unlock()

	require.NoError(t, os.WriteFile(path, []byte("[framegraph]\npool_max_idle_frames = 42"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloaded) > 0 && reloaded[len(reloaded)-1].FrameGraph.PoolMaxIdleFrames == 42
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}
