package engine

import (
	"fmt"

	"github.com/spaghettifunk/anima-rdg/engine/config"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/platform"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/framegraph"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/vulkan"
)

// asyncComputeBackend is implemented by backends that may lack a second queue.
type asyncComputeBackend interface {
	AsyncCompute() bool
}

// application owns the renderer backend picked by the configuration and
// whatever the backend needs to be torn down.
type application struct {
	backend      renderer.RendererBackend
	rendererType renderer.RendererType
	shutdown     []func() error
}

func newApplication(cfg *config.Config) (*application, error) {
	app := &application{rendererType: cfg.RendererType()}

	switch app.rendererType {
	case renderer.Headless:
		app.backend = headless.New()

	case renderer.Vulkan:
		p, err := platform.New()
		if err != nil {
			return nil, err
		}
		if err := p.Startup(cfg.Application.Name); err != nil {
			_ = p.Shutdown()
			return nil, err
		}
		app.shutdown = append(app.shutdown, p.Shutdown)

		vr := vulkan.New(p, cfg.Renderer.Validation)
		if err := vr.Initialize(cfg.Application.Name); err != nil {
			_ = app.destroy()
			return nil, err
		}
		app.backend = vr
		app.shutdown = append(app.shutdown, vr.Shutdown)

	default:
		err := fmt.Errorf("%w: %s", core.ErrBackendUnavailable, app.rendererType)
		core.LogError(err.Error())
		return nil, err
	}

	core.LogInfo("Renderer backend '%s' ready.", app.rendererType)
	return app, nil
}

// asyncCompute reports whether the backend can run passes on a compute queue.
func (app *application) asyncCompute() bool {
	if b, ok := app.backend.(asyncComputeBackend); ok {
		return b.AsyncCompute()
	}
	return true
}

// destroy tears the backend down in reverse creation order.
func (app *application) destroy() error {
	var first error
	for i := len(app.shutdown) - 1; i >= 0; i-- {
		if err := app.shutdown[i](); err != nil {
			core.LogError(err.Error())
			if first == nil {
				first = err
			}
		}
	}
	app.shutdown = nil
	return first
}

// frameGraphConfig maps the configuration file onto the graph options.
// Async compute needs both the setting and a backend that supports it.
func frameGraphConfig(cfg *config.Config, asyncCompute bool) framegraph.Config {
	return framegraph.Config{
		ValidateHandles:     cfg.FrameGraph.ValidateHandles,
		DisablePassCulling:  cfg.FrameGraph.DisablePassCulling,
		LogFrameInformation: cfg.FrameGraph.LogFrameInformation,
		AllowAsyncCompute:   cfg.Renderer.AsyncCompute && asyncCompute,
		PoolMaxIdleFrames:   cfg.FrameGraph.PoolMaxIdleFrames,
	}
}
