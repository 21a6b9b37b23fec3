package renderer

import (
	"github.com/spaghettifunk/anima-rdg/engine/math"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

// Texture is a physical texture owned by a backend.
type Texture interface {
	Desc() metadata.TextureDesc
	// DebugName is unique per physical object.
	DebugName() string
}

// Buffer is a physical buffer owned by a backend.
type Buffer interface {
	Desc() metadata.BufferDesc
	DebugName() string
}

// Fence orders work between queues: a command buffer waiting on a fence does
// not start before the command buffer that created it has completed.
type Fence interface {
	Queue() metadata.QueueType
}

// CommandBuffer records commands for a single queue.
type CommandBuffer interface {
	Queue() metadata.QueueType
	Name() string

	Draw(vertexCount, instanceCount uint32)
	Dispatch(groupsX, groupsY, groupsZ uint32)
	CopyTexture(src, dst Texture)
	CopyBuffer(src, dst Buffer)

	PushLabel(name string)
	PopLabel()
}

// Attachment binds a texture to a render pass slot.
type Attachment struct {
	Texture Texture
	Load    metadata.LoadAction
	Store   metadata.StoreAction
	Access  metadata.AccessFlags
}

// RenderPassDesc is what a raster pass hands to the backend when it begins.
type RenderPassDesc struct {
	Name             string
	ColorAttachments []Attachment
	// DepthAttachment.Texture is nil when the pass has no depth buffer.
	DepthAttachment Attachment
	RenderArea      math.Extent2D
}

type RendererBackend interface {
	CreateTexture(desc metadata.TextureDesc) (Texture, error)
	DestroyTexture(texture Texture)
	CreateBuffer(desc metadata.BufferDesc) (Buffer, error)
	DestroyBuffer(buffer Buffer)

	BeginCommandBuffer(queue metadata.QueueType, name string) (CommandBuffer, error)
	// Submit hands the command buffer to its queue. The command buffer can not
	// be recorded into afterwards.
	Submit(cmd CommandBuffer) error
	// Discard abandons a command buffer that will never be submitted. Nothing
	// recorded into it runs and the fences it would have signaled never are.
	Discard(cmd CommandBuffer) error

	// CreateFence returns a fence signaled once cmd has completed.
	CreateFence(cmd CommandBuffer) (Fence, error)
	// WaitFence makes cmd wait on fence before executing.
	WaitFence(cmd CommandBuffer, fence Fence) error

	BeginRenderPass(cmd CommandBuffer, desc *RenderPassDesc) error
	EndRenderPass(cmd CommandBuffer) error
}
