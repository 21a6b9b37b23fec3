package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	// Pipeline is bound by callers that record real draws and dispatches.
	Pipeline  vk.Pipeline
	BindPoint vk.PipelineBindPoint

	queue metadata.QueueType
	pool  vk.CommandPool
	name  string

	labels  []string
	waits   []*VulkanSemaphore
	signals []*VulkanSemaphore
	garbage []*deferredDestroy

	renderpass *VulkanRenderpass
	// draws and dispatches dropped because no pipeline was bound
	dropped int
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		pool:  pool,
	}

	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	err := context.Locks.SafeCall(CommandBufferManagement, func() error {
		if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
			return fmt.Errorf("failed to allocate command buffer: %s", VulkanResultString(res, true))
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext) {
	if v.Handle == nil {
		return
	}
	context.Locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(context.Device.LogicalDevice, v.pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	vBeginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}

	if isSingleUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, vBeginInfo); res != vk.Success {
		err := fmt.Errorf("failed to begin command buffer '%s': %s", v.name, VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING

	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		err := fmt.Errorf("failed to end command buffer '%s': %s", v.name, VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Queue() metadata.QueueType { return v.queue }
func (v *VulkanCommandBuffer) Name() string              { return v.name }

func (v *VulkanCommandBuffer) recording() bool {
	if v.State != COMMAND_BUFFER_STATE_RECORDING && v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		core.LogWarn("command buffer '%s': command recorded while not recording", v.name)
		return false
	}
	return true
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount uint32) {
	if !v.recording() {
		return
	}
	if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		core.LogWarn("command buffer '%s': draw outside of a render pass", v.name)
		return
	}
	if v.Pipeline == nil || v.BindPoint != vk.PipelineBindPointGraphics {
		v.dropped++
		return
	}
	vk.CmdDraw(v.Handle, vertexCount, instanceCount, 0, 0)
}

func (v *VulkanCommandBuffer) Dispatch(groupsX, groupsY, groupsZ uint32) {
	if !v.recording() {
		return
	}
	if v.Pipeline == nil || v.BindPoint != vk.PipelineBindPointCompute {
		v.dropped++
		return
	}
	vk.CmdDispatch(v.Handle, groupsX, groupsY, groupsZ)
}

// BindPipeline binds a pipeline created outside the render graph.
func (v *VulkanCommandBuffer) BindPipeline(pipeline vk.Pipeline, bindPoint vk.PipelineBindPoint) {
	v.Pipeline = pipeline
	v.BindPoint = bindPoint
	vk.CmdBindPipeline(v.Handle, bindPoint, pipeline)
}

func (v *VulkanCommandBuffer) CopyTexture(src, dst renderer.Texture) {
	if !v.recording() {
		return
	}
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		core.LogWarn("command buffer '%s': copy inside of a render pass", v.name)
		return
	}
	s, sok := src.(*VulkanImage)
	d, dok := dst.(*VulkanImage)
	if !sok || !dok {
		core.LogWarn("command buffer '%s': copy between foreign textures", v.name)
		return
	}

	s.Transition(v.Handle, vk.ImageLayoutTransferSrcOptimal)
	d.Transition(v.Handle, vk.ImageLayoutTransferDstOptimal)

	region := vk.ImageCopy{
		SrcSubresource: s.subresourceLayers(),
		DstSubresource: d.subresourceLayers(),
		Extent: vk.Extent3D{
			Width:  min(s.desc.Width, d.desc.Width),
			Height: min(s.desc.Height, d.desc.Height),
			Depth:  1,
		},
	}
	region.DstSubresource.LayerCount = min(region.SrcSubresource.LayerCount, region.DstSubresource.LayerCount)
	region.SrcSubresource.LayerCount = region.DstSubresource.LayerCount
	vk.CmdCopyImage(v.Handle, s.Handle, s.Layout, d.Handle, d.Layout, 1, []vk.ImageCopy{region})
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst renderer.Buffer) {
	if !v.recording() {
		return
	}
	s, sok := src.(*VulkanBuffer)
	d, dok := dst.(*VulkanBuffer)
	if !sok || !dok {
		core.LogWarn("command buffer '%s': copy between foreign buffers", v.name)
		return
	}
	region := vk.BufferCopy{Size: min(s.Size, d.Size)}
	vk.CmdCopyBuffer(v.Handle, s.Handle, d.Handle, 1, []vk.BufferCopy{region})
}

func (v *VulkanCommandBuffer) PushLabel(name string) {
	v.labels = append(v.labels, name)
}

func (v *VulkanCommandBuffer) PopLabel() {
	if len(v.labels) == 0 {
		core.LogWarn("command buffer '%s': label stack underflow", v.name)
		return
	}
	v.labels = v.labels[:len(v.labels)-1]
}
