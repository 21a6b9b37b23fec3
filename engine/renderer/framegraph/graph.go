// Package framegraph implements a render dependency graph. Rendering code
// declares passes and the virtual resources they read and write; the graph
// culls work nobody consumes, schedules when physical objects are created
// and released, inserts fences between the graphics and async compute
// queues and records everything through a renderer backend.
package framegraph

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type Config struct {
	// ValidateHandles enables stale handle detection and checks that
	// execute callbacks only touch resources their pass declared.
	ValidateHandles bool
	// DisablePassCulling keeps every pass alive regardless of its outputs.
	DisablePassCulling bool
	// LogFrameInformation logs the compiled frame every frame.
	LogFrameInformation bool
	// AllowAsyncCompute routes passes that ask for it to the compute queue.
	// When false they run on the graphics queue.
	AllowAsyncCompute bool
	// PoolMaxIdleFrames is how many frames an unused pooled object survives.
	PoolMaxIdleFrames uint64
}

func DefaultConfig() Config {
	return Config{
		ValidateHandles:   true,
		AllowAsyncCompute: true,
		PoolMaxIdleFrames: 3,
	}
}

type Option func(*RenderGraph)

func WithConfig(cfg Config) Option {
	return func(g *RenderGraph) {
		g.config = cfg
	}
}

// FrameStats summarizes the last executed frame.
type FrameStats struct {
	FrameID          uuid.UUID
	Frame            uint64
	Passes           int
	CulledPasses     int
	AsyncPasses      int
	Fences           int
	ResourcesCreated int
	PoolHits         int
	Pooled           int
	Purged           int
	CompileTime      time.Duration
	ExecuteTime      time.Duration
	Failed           bool
}

// RenderGraph is long lived: create it once and author, compile and execute
// one frame at a time. It is not safe for concurrent use.
type RenderGraph struct {
	backend renderer.RendererBackend
	config  Config

	registry *registry
	objects  *ObjectPool
	scoper   *Scoper

	passCount    int
	openBuilders int
	compiled     compiledGraph

	frame   uint64
	frameID uuid.UUID
	inFrame bool
	// first authoring error of the frame, returned by Execute
	err error

	stats  FrameStats
	report bytes.Buffer
}

func New(backend renderer.RendererBackend, opts ...Option) *RenderGraph {
	g := &RenderGraph{
		backend: backend,
		config:  DefaultConfig(),
		objects: newObjectPool(),
		scoper:  newScoper(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.registry = newRegistry(backend)
	return g
}

// SetConfig replaces the configuration. It must not be called while a frame
// is being authored.
func (g *RenderGraph) SetConfig(cfg Config) {
	if g.inFrame {
		core.LogWarn("framegraph: configuration change ignored in the middle of frame %d", g.frame)
		return
	}
	g.config = cfg
}

func (g *RenderGraph) Config() Config {
	return g.config
}

// BeginFrame starts authoring a new frame. Handles from earlier frames
// become stale.
func (g *RenderGraph) BeginFrame() {
	if g.inFrame {
		core.LogWarn("framegraph: frame %d was never executed, discarding it", g.frame)
		g.endFrame()
	}
	g.frame++
	g.frameID = uuid.New()
	g.inFrame = true
	g.err = nil
	g.registry.beginFrame(g.frame)
}

func (g *RenderGraph) ensureFrame() {
	if !g.inFrame {
		g.BeginFrame()
	}
}

// Frame is the index of the frame being authored, or of the last executed one.
func (g *RenderGraph) Frame() uint64 {
	return g.frame
}

func (g *RenderGraph) Scoper() *Scoper {
	return g.scoper
}

func (g *RenderGraph) ObjectPool() *ObjectPool {
	return g.objects
}

// Err returns the first authoring error of the current frame.
func (g *RenderGraph) Err() error {
	return g.err
}

func (g *RenderGraph) fail(err error) {
	core.LogError(err.Error())
	if g.err == nil {
		g.err = err
	}
}

// ImportTexture registers a texture owned by the caller. The graph never
// creates, pools or destroys it.
func (g *RenderGraph) ImportTexture(name string, texture renderer.Texture) TextureHandle {
	g.ensureFrame()
	if texture == nil {
		g.fail(fmt.Errorf("%w: imported texture '%s' is nil", core.ErrInvalidPassSetup, name))
		return TextureHandle{}
	}
	return g.registry.importTexture(name, texture)
}

func (g *RenderGraph) ImportBuffer(name string, buffer renderer.Buffer) BufferHandle {
	g.ensureFrame()
	if buffer == nil {
		g.fail(fmt.Errorf("%w: imported buffer '%s' is nil", core.ErrInvalidPassSetup, name))
		return BufferHandle{}
	}
	return g.registry.importBuffer(name, buffer)
}

// CreateTexture declares a texture whose physical object is only bound while
// passes that use it are executing.
func (g *RenderGraph) CreateTexture(desc metadata.TextureDesc) TextureHandle {
	g.ensureFrame()
	if err := desc.Normalized().Validate(); err != nil {
		g.fail(fmt.Errorf("%w: texture '%s': %w", core.ErrInvalidPassSetup, desc.Name, err))
		return TextureHandle{}
	}
	return g.registry.createTexture(desc, -1)
}

func (g *RenderGraph) CreateBuffer(desc metadata.BufferDesc) BufferHandle {
	g.ensureFrame()
	if err := desc.Normalized().Validate(); err != nil {
		g.fail(fmt.Errorf("%w: buffer '%s': %w", core.ErrInvalidPassSetup, desc.Name, err))
		return BufferHandle{}
	}
	return g.registry.createBuffer(desc, -1)
}

// TextureDesc returns the descriptor of a declared texture.
func (g *RenderGraph) TextureDesc(h TextureHandle) (metadata.TextureDesc, error) {
	if err := g.registry.validate(h.ResourceHandle, g.config.ValidateHandles); err != nil {
		return metadata.TextureDesc{}, err
	}
	return g.registry.get(h.ResourceHandle).textureDesc, nil
}

func (g *RenderGraph) BufferDesc(h BufferHandle) (metadata.BufferDesc, error) {
	if err := g.registry.validate(h.ResourceHandle, g.config.ValidateHandles); err != nil {
		return metadata.BufferDesc{}, err
	}
	return g.registry.get(h.ResourceHandle).bufferDesc, nil
}

// Stats returns the statistics of the last executed frame.
func (g *RenderGraph) Stats() FrameStats {
	return g.stats
}

// Dump writes the report of the last compiled frame.
func (g *RenderGraph) Dump(w io.Writer) error {
	_, err := w.Write(g.report.Bytes())
	return err
}

// Cleanup destroys every pooled physical object. The graph can still be used
// afterwards.
func (g *RenderGraph) Cleanup() {
	if g.inFrame {
		g.endFrame()
	}
	destroyed := g.registry.cleanup()
	core.LogDebug("framegraph: destroyed %d pooled resources", destroyed)
}

// endFrame runs whether the frame succeeded or not. Physical objects still
// bound to virtual resources go back to the pool and all per-frame state is
// reset.
func (g *RenderGraph) endFrame() {
	if leaked := g.registry.clear(); leaked > 0 {
		core.LogDebug("framegraph: returned %d unreleased resources to the pool", leaked)
	}
	g.objects.releaseScratch()
	for i := 0; i < g.passCount; i++ {
		p := g.objects.passes[i]
		g.objects.releasePassData(p.data)
		p.data = nil
		p.execute = nil
	}
	g.passCount = 0
	g.openBuilders = 0
	g.scoper.clear()
	g.stats.Purged = g.registry.purge(g.config.PoolMaxIdleFrames)
	g.stats.Pooled = g.registry.pooled()
	g.inFrame = false
}
