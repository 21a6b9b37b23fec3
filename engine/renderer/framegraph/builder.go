package framegraph

import (
	"fmt"

	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

// PassBuilder declares what a pass reads, writes and renders to. Every
// builder must be disposed before the frame is executed.
type PassBuilder[T any] struct {
	graph *RenderGraph
	pass  *pass
	data  *T
	// frame the builder was handed out in
	frame uint64
}

func AddTransferPass[T any](g *RenderGraph, name string) (*PassBuilder[T], *T) {
	return addPass[T](g, name, PassTransfer)
}

func AddComputePass[T any](g *RenderGraph, name string) (*PassBuilder[T], *T) {
	return addPass[T](g, name, PassCompute)
}

func AddRayTracingPass[T any](g *RenderGraph, name string) (*PassBuilder[T], *T) {
	return addPass[T](g, name, PassRayTracing)
}

func AddRasterPass[T any](g *RenderGraph, name string) (*PassBuilder[T], *T) {
	return addPass[T](g, name, PassRaster)
}

func addPass[T any](g *RenderGraph, name string, kind PassKind) (*PassBuilder[T], *T) {
	g.ensureFrame()

	index := g.passCount
	p := g.objects.passSlot(index)
	p.reset(index, name, kind)
	data := getPassData[T](g.objects)
	p.data = data

	g.passCount++
	g.openBuilders++
	return &PassBuilder[T]{graph: g, pass: p, data: data, frame: g.frame}, data
}

func (b *PassBuilder[T]) fail(format string, args ...interface{}) {
	b.graph.fail(fmt.Errorf("%s: %w", b.pass, fmt.Errorf(format, args...)))
}

func (b *PassBuilder[T]) stale() bool {
	return b.frame != b.graph.frame
}

func (b *PassBuilder[T]) usable() bool {
	if b.stale() {
		b.graph.fail(fmt.Errorf("%w: builder of frame %d used in frame %d", core.ErrStaleHandle, b.frame, b.graph.frame))
		return false
	}
	if b.pass.disposed {
		b.fail("%w: builder used after Dispose", core.ErrInvalidPassSetup)
		return false
	}
	return true
}

func (b *PassBuilder[T]) use(h ResourceHandle, access metadata.AccessFlags) bool {
	if !b.usable() {
		return false
	}
	g := b.graph
	if err := g.registry.validate(h, g.config.ValidateHandles); err != nil {
		b.fail("%w", err)
		return false
	}
	r := g.registry.get(h)
	if r.temporalPassIndex != -1 && r.temporalPassIndex != b.pass.index {
		b.fail("%w: temporary %s '%s' belongs to another pass", core.ErrInvalidPassSetup, r.kind, r.name)
		return false
	}
	if access.CanRead() {
		b.pass.reads[h.kind] = append(b.pass.reads[h.kind], h)
	}
	if access.CanWrite() {
		b.pass.writes[h.kind] = append(b.pass.writes[h.kind], h)
	}
	return true
}

func (b *PassBuilder[T]) ReadTexture(h TextureHandle) TextureHandle {
	b.use(h.ResourceHandle, metadata.AccessRead)
	return h
}

func (b *PassBuilder[T]) WriteTexture(h TextureHandle) TextureHandle {
	b.use(h.ResourceHandle, metadata.AccessWrite)
	return h
}

func (b *PassBuilder[T]) ReadWriteTexture(h TextureHandle) TextureHandle {
	b.use(h.ResourceHandle, metadata.AccessReadWrite)
	return h
}

func (b *PassBuilder[T]) ReadBuffer(h BufferHandle) BufferHandle {
	b.use(h.ResourceHandle, metadata.AccessRead)
	return h
}

func (b *PassBuilder[T]) WriteBuffer(h BufferHandle) BufferHandle {
	b.use(h.ResourceHandle, metadata.AccessWrite)
	return h
}

func (b *PassBuilder[T]) ReadWriteBuffer(h BufferHandle) BufferHandle {
	b.use(h.ResourceHandle, metadata.AccessReadWrite)
	return h
}

// CreateTemporaryTexture declares a texture that only lives for the duration
// of this pass.
func (b *PassBuilder[T]) CreateTemporaryTexture(desc metadata.TextureDesc) TextureHandle {
	if !b.usable() {
		return TextureHandle{}
	}
	if err := desc.Normalized().Validate(); err != nil {
		b.fail("%w: temporary texture '%s': %w", core.ErrInvalidPassSetup, desc.Name, err)
		return TextureHandle{}
	}
	h := b.graph.registry.createTexture(desc, b.pass.index)
	b.pass.temporal[ResourceTexture] = append(b.pass.temporal[ResourceTexture], h.ResourceHandle)
	return h
}

func (b *PassBuilder[T]) CreateTemporaryBuffer(desc metadata.BufferDesc) BufferHandle {
	if !b.usable() {
		return BufferHandle{}
	}
	if err := desc.Normalized().Validate(); err != nil {
		b.fail("%w: temporary buffer '%s': %w", core.ErrInvalidPassSetup, desc.Name, err)
		return BufferHandle{}
	}
	h := b.graph.registry.createBuffer(desc, b.pass.index)
	b.pass.temporal[ResourceBuffer] = append(b.pass.temporal[ResourceBuffer], h.ResourceHandle)
	return h
}

// SetColorAttachment binds h to a colour slot of a raster pass and declares
// the matching read/write access.
func (b *PassBuilder[T]) SetColorAttachment(slot int, h TextureHandle, load metadata.LoadAction, store metadata.StoreAction, access metadata.AccessFlags) TextureHandle {
	if !b.usable() {
		return h
	}
	if b.pass.kind != PassRaster {
		b.fail("%w: colour attachments are only allowed on raster passes", core.ErrInvalidPassSetup)
		return h
	}
	if slot < 0 || slot >= MaxColorAttachments {
		b.fail("%w: colour attachment slot %d out of range [0, %d)", core.ErrInvalidAttachments, slot, MaxColorAttachments)
		return h
	}
	if !b.use(h.ResourceHandle, access) {
		return h
	}
	b.pass.colorAttachments[slot] = attachment{handle: h, load: load, store: store, access: access, set: true}
	if slot+1 > b.pass.colorAttachmentMax {
		b.pass.colorAttachmentMax = slot + 1
	}
	return h
}

func (b *PassBuilder[T]) SetDepthAttachment(h TextureHandle, load metadata.LoadAction, store metadata.StoreAction, access metadata.AccessFlags) TextureHandle {
	if !b.usable() {
		return h
	}
	if b.pass.kind != PassRaster {
		b.fail("%w: depth attachments are only allowed on raster passes", core.ErrInvalidPassSetup)
		return h
	}
	if !b.use(h.ResourceHandle, access) {
		return h
	}
	if desc := b.graph.registry.get(h.ResourceHandle).textureDesc; !desc.Format.IsDepth() {
		core.LogWarn("%s: depth attachment '%s' has non depth format %s", b.pass, desc.Name, desc.Format)
	}
	b.pass.depthAttachment = attachment{handle: h, load: load, store: store, access: access, set: true}
	return h
}

// EnablePassCulling allows the pass to be culled when nothing consumes its
// outputs. Enabled by default.
func (b *PassBuilder[T]) EnablePassCulling(value bool) {
	if b.usable() {
		b.pass.enablePassCulling = value
	}
}

// EnableAsyncCompute moves the pass to the compute queue.
func (b *PassBuilder[T]) EnableAsyncCompute(value bool) {
	if !b.usable() {
		return
	}
	if value && b.pass.kind == PassRaster {
		b.fail("%w: raster passes can not run on the compute queue", core.ErrInvalidPassSetup)
		return
	}
	if value && !b.graph.config.AllowAsyncCompute {
		core.LogDebug("%s: async compute disabled, running on the graphics queue", b.pass)
		value = false
	}
	b.pass.enableAsyncCompute = value
}

func (b *PassBuilder[T]) SetExecuteFunc(fn func(data *T, rc *RenderContext) error) {
	if !b.usable() {
		return
	}
	if fn == nil {
		b.pass.execute = nil
		return
	}
	data := b.data
	b.pass.execute = func(rc *RenderContext) error {
		return fn(data, rc)
	}
}

// Dispose closes the builder. Calling it more than once, or on a builder
// from an earlier frame, is harmless.
func (b *PassBuilder[T]) Dispose() {
	if b.stale() || b.pass.disposed {
		return
	}
	b.pass.disposed = true
	b.graph.openBuilders--
}
