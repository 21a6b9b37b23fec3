package framegraph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type resource struct {
	name     string
	kind     ResourceKind
	imported bool

	textureDesc metadata.TextureDesc
	bufferDesc  metadata.BufferDesc

	texture renderer.Texture
	buffer  renderer.Buffer

	// hash of the descriptor the physical object was taken from the pool with
	cachedHash        uint64
	temporalPassIndex int
	wasReleased       bool
}

func (r *resource) created() bool {
	if r.kind == ResourceTexture {
		return r.texture != nil
	}
	return r.buffer != nil
}

func (r *resource) hash() uint64 {
	if r.kind == ResourceTexture {
		return r.textureDesc.Hash()
	}
	return r.bufferDesc.Hash()
}

// registry owns every virtual resource declared during a frame and maps them
// to physical objects. Handles are only ever resolved against the registry
// they were created by.
type registry struct {
	frame     uint64
	resources [resourceKindCount][]resource

	backend  renderer.RendererBackend
	textures *resourcePool[renderer.Texture]
	buffers  *resourcePool[renderer.Buffer]

	// counters for the current frame
	created  int
	poolHits int
}

func newRegistry(backend renderer.RendererBackend) *registry {
	return &registry{
		backend:  backend,
		textures: newResourcePool(backend.DestroyTexture),
		buffers:  newResourcePool(backend.DestroyBuffer),
	}
}

func (reg *registry) beginFrame(frame uint64) {
	reg.frame = frame
	reg.created = 0
	reg.poolHits = 0
}

func (reg *registry) count(kind ResourceKind) int {
	return len(reg.resources[kind])
}

func (reg *registry) add(r resource) ResourceHandle {
	list := reg.resources[r.kind]
	index := len(list)
	reg.resources[r.kind] = append(list, r)
	return ResourceHandle{index: index, kind: r.kind, frame: reg.frame, valid: true}
}

func (reg *registry) importTexture(name string, texture renderer.Texture) TextureHandle {
	h := reg.add(resource{
		name:              name,
		kind:              ResourceTexture,
		imported:          true,
		textureDesc:       texture.Desc(),
		texture:           texture,
		temporalPassIndex: -1,
	})
	return TextureHandle{h}
}

func (reg *registry) importBuffer(name string, buffer renderer.Buffer) BufferHandle {
	h := reg.add(resource{
		name:              name,
		kind:              ResourceBuffer,
		imported:          true,
		bufferDesc:        buffer.Desc(),
		buffer:            buffer,
		temporalPassIndex: -1,
	})
	return BufferHandle{h}
}

func (reg *registry) createTexture(desc metadata.TextureDesc, temporalPassIndex int) TextureHandle {
	desc = desc.Normalized()
	h := reg.add(resource{
		name:              desc.Name,
		kind:              ResourceTexture,
		textureDesc:       desc,
		temporalPassIndex: temporalPassIndex,
	})
	return TextureHandle{h}
}

func (reg *registry) createBuffer(desc metadata.BufferDesc, temporalPassIndex int) BufferHandle {
	desc = desc.Normalized()
	h := reg.add(resource{
		name:              desc.Name,
		kind:              ResourceBuffer,
		bufferDesc:        desc,
		temporalPassIndex: temporalPassIndex,
	})
	return BufferHandle{h}
}

// validate checks that h can be resolved. Stale handles are only detected
// when checkFrame is set.
func (reg *registry) validate(h ResourceHandle, checkFrame bool) error {
	if !h.valid {
		return core.ErrInvalidHandle
	}
	if checkFrame && h.frame != reg.frame {
		return fmt.Errorf("%w: %s used in frame %d", core.ErrStaleHandle, h, reg.frame)
	}
	if h.kind < 0 || h.kind >= resourceKindCount || h.index < 0 || h.index >= len(reg.resources[h.kind]) {
		return fmt.Errorf("%w: %s out of range", core.ErrInvalidHandle, h)
	}
	return nil
}

func (reg *registry) get(h ResourceHandle) *resource {
	return &reg.resources[h.kind][h.index]
}

func (reg *registry) at(kind ResourceKind, index int) *resource {
	return &reg.resources[kind][index]
}

// createPooledResource binds a physical object to a virtual resource, either
// reusing one from the pool or asking the backend for a new one.
func (reg *registry) createPooledResource(kind ResourceKind, index int) error {
	r := reg.at(kind, index)
	if r.imported {
		return nil
	}
	if r.created() {
		return fmt.Errorf("%w: %s '%s'", core.ErrResourceAlreadyCreated, kind, r.name)
	}

	hash := r.hash()
	r.cachedHash = hash
	switch kind {
	case ResourceTexture:
		if t, ok := reg.textures.tryGet(hash); ok {
			r.texture = t
			reg.poolHits++
			return nil
		}
		desc := r.textureDesc
		desc.Name = debugName(r.name)
		t, err := reg.backend.CreateTexture(desc)
		if err != nil {
			return fmt.Errorf("failed to create texture '%s': %w", r.name, err)
		}
		r.texture = t
	case ResourceBuffer:
		if b, ok := reg.buffers.tryGet(hash); ok {
			r.buffer = b
			reg.poolHits++
			return nil
		}
		desc := r.bufferDesc
		desc.Name = debugName(r.name)
		b, err := reg.backend.CreateBuffer(desc)
		if err != nil {
			return fmt.Errorf("failed to create buffer '%s': %w", r.name, err)
		}
		r.buffer = b
	}
	reg.created++
	core.LogDebug("created physical %s '%s'", kind, r.name)
	return nil
}

// releasePooledResource hands the physical object back to the pool.
func (reg *registry) releasePooledResource(kind ResourceKind, index int) error {
	r := reg.at(kind, index)
	if r.imported {
		return nil
	}
	if !r.created() {
		if r.wasReleased {
			return fmt.Errorf("%w: %s '%s' released twice", core.ErrResourceNotCreated, kind, r.name)
		}
		return fmt.Errorf("%w: %s '%s'", core.ErrResourceNotCreated, kind, r.name)
	}

	switch kind {
	case ResourceTexture:
		reg.textures.release(r.cachedHash, r.texture, reg.frame)
		r.texture = nil
	case ResourceBuffer:
		reg.buffers.release(r.cachedHash, r.buffer, reg.frame)
		r.buffer = nil
	}
	r.wasReleased = true
	return nil
}

// clear returns every physical object still bound to a non-imported
// resource to the pool and forgets the frame's resources.
func (reg *registry) clear() int {
	leaked := 0
	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		for i := range reg.resources[kind] {
			r := &reg.resources[kind][i]
			if !r.imported && r.created() {
				_ = reg.releasePooledResource(kind, i)
				leaked++
			}
			*r = resource{}
		}
		reg.resources[kind] = reg.resources[kind][:0]
	}
	return leaked
}

func (reg *registry) purge(maxIdle uint64) int {
	return reg.textures.purgeUnused(reg.frame, maxIdle) + reg.buffers.purgeUnused(reg.frame, maxIdle)
}

func (reg *registry) cleanup() int {
	return reg.textures.cleanup() + reg.buffers.cleanup()
}

func (reg *registry) pooled() int {
	return reg.textures.size + reg.buffers.size
}

func debugName(name string) string {
	if name == "" {
		name = "resource"
	}
	return fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
}
