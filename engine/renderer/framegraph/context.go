package framegraph

import (
	"fmt"

	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
)

// RenderContext is handed to execute callbacks. It is only valid while the
// callback runs.
type RenderContext struct {
	Cmd     renderer.CommandBuffer
	Pool    *ObjectPool
	Backend renderer.RendererBackend

	graph *RenderGraph
	pass  *pass
}

func (rc *RenderContext) PassName() string {
	return rc.pass.name
}

func (rc *RenderContext) resolve(h ResourceHandle) (*resource, error) {
	g := rc.graph
	if err := g.registry.validate(h, g.config.ValidateHandles); err != nil {
		return nil, fmt.Errorf("%s: %w", rc.pass, err)
	}
	if g.config.ValidateHandles && !rc.pass.declares(h) {
		return nil, fmt.Errorf("%s: %w: %s was not declared by the pass", rc.pass, core.ErrInvalidHandle, h)
	}
	r := g.registry.get(h)
	if !r.created() {
		if r.wasReleased {
			return nil, fmt.Errorf("%s: %w: %s '%s' already released", rc.pass, core.ErrResourceNotCreated, r.kind, r.name)
		}
		return nil, fmt.Errorf("%s: %w: %s '%s'", rc.pass, core.ErrResourceNotCreated, r.kind, r.name)
	}
	return r, nil
}

// Texture returns the physical texture bound to h.
func (rc *RenderContext) Texture(h TextureHandle) (renderer.Texture, error) {
	r, err := rc.resolve(h.ResourceHandle)
	if err != nil {
		return nil, err
	}
	return r.texture, nil
}

// Buffer returns the physical buffer bound to h.
func (rc *RenderContext) Buffer(h BufferHandle) (renderer.Buffer, error) {
	r, err := rc.resolve(h.ResourceHandle)
	if err != nil {
		return nil, err
	}
	return r.buffer, nil
}
