package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type VulkanRenderpass struct {
	Handle      vk.RenderPass
	Name        string
	Area        vk.Rect2D
	ClearValues []vk.ClearValue

	// attachments in framebuffer order, colours first
	images []*VulkanImage
}

func attachmentImage(a renderer.Attachment) (*VulkanImage, error) {
	image, ok := a.Texture.(*VulkanImage)
	if !ok || image.Handle == nil {
		return nil, fmt.Errorf("attachment %v is not a live vulkan image", a.Texture)
	}
	return image, nil
}

func RenderpassCreate(context *VulkanContext, desc *renderer.RenderPassDesc) (*VulkanRenderpass, error) {
	outRenderpass := &VulkanRenderpass{
		Name: desc.Name,
		Area: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: desc.RenderArea.Width, Height: desc.RenderArea.Height},
		},
	}

	attachmentDescriptions := make([]vk.AttachmentDescription, 0, len(desc.ColorAttachments)+1)
	colorAttachmentReferences := make([]vk.AttachmentReference, 0, len(desc.ColorAttachments))

	describe := func(a renderer.Attachment) (vk.AttachmentDescription, error) {
		image, err := attachmentImage(a)
		if err != nil {
			return vk.AttachmentDescription{}, err
		}
		outRenderpass.images = append(outRenderpass.images, image)

		initialLayout := vk.ImageLayoutUndefined
		if a.Load == metadata.LoadActionLoad {
			initialLayout = image.Layout
		}
		description := vk.AttachmentDescription{
			Format:         image.Format,
			Samples:        toSampleCount(image.desc.Samples),
			LoadOp:         toLoadOp(a.Load),
			StoreOp:        toStoreOp(a.Store),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  initialLayout,
			FinalLayout:    image.attachmentLayout(),
		}
		if image.desc.Format.HasStencil() {
			description.StencilLoadOp = description.LoadOp
			description.StencilStoreOp = description.StoreOp
		}
		return description, nil
	}

	for _, a := range desc.ColorAttachments {
		description, err := describe(a)
		if err != nil {
			return nil, fmt.Errorf("render pass '%s': %w", desc.Name, err)
		}
		colorAttachmentReferences = append(colorAttachmentReferences, vk.AttachmentReference{
			Attachment: uint32(len(attachmentDescriptions)),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		attachmentDescriptions = append(attachmentDescriptions, description)
		c := outRenderpass.images[len(outRenderpass.images)-1].desc.ClearColour
		outRenderpass.ClearValues = append(outRenderpass.ClearValues, vk.NewClearValue([]float32{c.X, c.Y, c.Z, c.W}))
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentReferences)),
		PColorAttachments:    colorAttachmentReferences,
	}

	// Depth attachment, if there is one
	if desc.DepthAttachment.Texture != nil {
		description, err := describe(desc.DepthAttachment)
		if err != nil {
			return nil, fmt.Errorf("render pass '%s': depth %w", desc.Name, err)
		}
		depthAttachmentReference := vk.AttachmentReference{
			Attachment: uint32(len(attachmentDescriptions)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		subpass.PDepthStencilAttachment = &depthAttachmentReference
		attachmentDescriptions = append(attachmentDescriptions, description)
		// depth targets clear to ClearColour.X
		depth := outRenderpass.images[len(outRenderpass.images)-1].desc.ClearColour.X
		outRenderpass.ClearValues = append(outRenderpass.ClearValues, vk.NewClearDepthStencil(depth, 0))
	}

	// Everything recorded before the pass, on any stage, completes first.
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllGraphicsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	err := context.Locks.SafeCall(RenderpassManagement, func() error {
		var pRenderPass vk.RenderPass
		if res := vk.CreateRenderPass(context.Device.LogicalDevice, &renderpassCreateInfo, context.Allocator, &pRenderPass); res != vk.Success {
			return fmt.Errorf("failed to create render pass '%s': %s", desc.Name, VulkanResultString(res, true))
		}
		outRenderpass.Handle = pRenderPass
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return outRenderpass, nil
}

func (vr *VulkanRenderpass) Views() []vk.ImageView {
	views := make([]vk.ImageView, len(vr.images))
	for i, image := range vr.images {
		views[i] = image.View
	}
	return views
}

func (vr *VulkanRenderpass) RenderpassDestroy(context *VulkanContext) {
	if vr.Handle != nil {
		vk.DestroyRenderPass(context.Device.LogicalDevice, vr.Handle, context.Allocator)
		vr.Handle = nil
	}
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer *VulkanCommandBuffer, frameBuffer vk.Framebuffer) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      vr.Handle,
		Framebuffer:     frameBuffer,
		RenderArea:      vr.Area,
		ClearValueCount: uint32(len(vr.ClearValues)),
		PClearValues:    vr.ClearValues,
	}

	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	commandBuffer.renderpass = vr
}

func (vr *VulkanRenderpass) RenderpassEnd(commandBuffer *VulkanCommandBuffer) {
	vk.CmdEndRenderPass(commandBuffer.Handle)
	commandBuffer.State = COMMAND_BUFFER_STATE_RECORDING
	commandBuffer.renderpass = nil
	for _, image := range vr.images {
		image.Layout = image.attachmentLayout()
	}
}
