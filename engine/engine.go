package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima-rdg/engine/config"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/framegraph"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine has released every resource
	EngineStageShutdown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	case EngineStageShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// metrics are logged once every metricsInterval frames
const metricsInterval = 120

var ErrInvalidStage = errors.New("invalid engine stage")

type Option func(*Engine)

// WithConfigFile reloads the configuration from path while the engine runs.
func WithConfigFile(path string) Option {
	return func(e *Engine) {
		e.configPath = path
	}
}

// WithBackend replaces the backend selected by the configuration.
func WithBackend(backend renderer.RendererBackend) Option {
	return func(e *Engine) {
		e.backend = backend
	}
}

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *config.Config
	configPath   string
	// latest reloaded configuration not yet applied
	pending chan *config.Config

	backend renderer.RendererBackend
	app     *application
	graph   *framegraph.RenderGraph

	width    uint32
	height   uint32
	clock    *core.Clock
	metrics  *core.Metrics
	lastTime float64
	frames   uint64
}

func New(g *Game, cfg *config.Config, opts ...Option) (*Engine, error) {
	if g == nil || g.FnRender == nil {
		return nil, fmt.Errorf("%w: game has no render function", core.ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		pending:      make(chan *config.Config, 1),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("%w: initialize while %s", ErrInvalidStage, e.currentStage)
	}
	e.currentStage = EngineStageInitializing

	if err := core.SetLogLevel(e.config.Log.Level); err != nil {
		return err
	}

	if e.backend != nil {
		e.app = &application{backend: e.backend, rendererType: e.config.RendererType()}
	} else {
		app, err := newApplication(e.config)
		if err != nil {
			return err
		}
		e.app = app
		e.backend = app.backend
	}

	e.graph = framegraph.New(e.backend, framegraph.WithConfig(frameGraphConfig(e.config, e.app.asyncCompute())))
	if !e.app.asyncCompute() && e.config.Renderer.AsyncCompute {
		core.LogWarn("Backend '%s' has no async compute queue, compute passes run on the graphics queue.", e.app.rendererType)
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.backend); err != nil {
			return err
		}
	}
	if err := e.resize(e.width, e.height); err != nil {
		return err
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("'%s' initialized (%dx%d).", e.config.Application.Name, e.width, e.height)
	return nil
}

// Run drives the frame loop until ctx is done, the configured frame count is
// reached or the game fails. Failed frames are logged and counted, the loop
// carries on with the next one.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("%w: run while %s", ErrInvalidStage, e.currentStage)
	}
	e.currentStage = EngineStageRunning

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.configPath != "" {
		go func() {
			if err := config.Watch(ctx, e.configPath, e.onConfigReloaded); err != nil {
				core.LogError(err.Error())
			}
		}()
	}

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Seconds()

	for {
		select {
		case <-ctx.Done():
			core.LogInfo("Frame loop stopped after %d frames.", e.frames)
			return nil
		default:
		}

		if limit := e.config.Application.Frames; limit > 0 && e.frames >= limit {
			core.LogInfo("Rendered %d frames, stopping.", e.frames)
			return nil
		}

		if err := e.applyPendingConfig(); err != nil {
			return err
		}

		if err := e.frame(ctx); err != nil {
			if errors.Is(err, ctx.Err()) {
				continue
			}
			return err
		}
	}
}

// frame runs one update/render/execute cycle. Only game errors are returned.
func (e *Engine) frame(ctx context.Context) error {
	e.clock.Update()
	currentTime := e.clock.Seconds()
	delta := currentTime - e.lastTime

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			core.LogError("Game update failed, shutting down: %s", err)
			return err
		}
	}

	e.graph.BeginFrame()
	if err := e.gameInstance.FnRender(e.graph, delta); err != nil {
		core.LogError("Game render failed, shutting down: %s", err)
		return err
	}
	execErr := e.graph.Execute(ctx)

	e.clock.Update()
	stats := e.graph.Stats()
	e.metrics.Update(core.FrameSample{
		FrameSeconds:   e.clock.Seconds() - currentTime,
		CompileSeconds: stats.CompileTime.Seconds(),
		ExecuteSeconds: stats.ExecuteTime.Seconds(),
		Passes:         stats.Passes,
		CulledPasses:   stats.CulledPasses,
		Fences:         stats.Fences,
		Failed:         stats.Failed,
	})
	e.frames++
	e.lastTime = currentTime

	if e.frames%metricsInterval == 0 {
		total, failed := e.metrics.Frames()
		core.LogDebug("frames=%d failed=%d fps=%.1f frame=%.3fms compile=%.3fms pooled=%d",
			total, failed, e.metrics.FPS(), e.metrics.FrameTime(), e.metrics.CompileTime(), stats.Pooled)
	}

	if execErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		core.LogWarn("Frame %d dropped: %s", stats.Frame, execErr)
	}
	return nil
}

func (e *Engine) onConfigReloaded(cfg *config.Config) {
	// keep only the newest configuration
	select {
	case <-e.pending:
	default:
	}
	e.pending <- cfg
}

// applyPendingConfig runs between frames so the graph never sees a
// configuration change in the middle of authoring.
func (e *Engine) applyPendingConfig() error {
	var cfg *config.Config
	select {
	case cfg = <-e.pending:
	default:
		return nil
	}

	if cfg.RendererType() != e.app.rendererType {
		core.LogWarn("Switching the renderer backend to '%s' requires a restart.", cfg.Renderer.Backend)
		cfg.Renderer.Backend = e.config.Renderer.Backend
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn(err.Error())
	}
	e.graph.SetConfig(frameGraphConfig(cfg, e.app.asyncCompute()))
	e.config = cfg

	if cfg.Application.Width != e.width || cfg.Application.Height != e.height {
		return e.resize(cfg.Application.Width, cfg.Application.Height)
	}
	return nil
}

func (e *Engine) resize(width, height uint32) error {
	e.width = width
	e.height = height
	if e.gameInstance.FnOnResize == nil {
		return nil
	}
	core.LogDebug("Resize: %d, %d", width, height)
	return e.gameInstance.FnOnResize(width, height)
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown || e.currentStage == EngineStageUninitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var first error
	if e.gameInstance.FnShutdown != nil {
		first = e.gameInstance.FnShutdown()
	}
	if e.graph != nil {
		e.graph.Cleanup()
	}
	if e.app != nil {
		if err := e.app.destroy(); err != nil && first == nil {
			first = err
		}
	}

	total, failed := e.metrics.Frames()
	core.LogInfo("Shutdown after %d frames (%d failed).", total, failed)
	e.currentStage = EngineStageShutdown
	return first
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Metrics() *core.Metrics {
	return e.metrics
}

// GetFramebufferSize returns the width and height (in this order) of the
// frame being rendered.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}
