package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type VulkanImage struct {
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Format vk.Format
	// Layout is the layout the last recorded command left the image in.
	Layout vk.ImageLayout

	aspect vk.ImageAspectFlags
	desc   metadata.TextureDesc
	name   string
}

func (v *VulkanImage) Desc() metadata.TextureDesc { return v.desc }
func (v *VulkanImage) DebugName() string          { return v.name }

func ImageCreate(context *VulkanContext, desc metadata.TextureDesc, name string) (*VulkanImage, error) {
	image := &VulkanImage{
		Format: toVulkanFormat(desc.Format),
		Layout: vk.ImageLayoutUndefined,
		aspect: toAspectMask(desc.Format),
		desc:   desc,
		name:   name,
	}
	if image.Format == vk.FormatUndefined {
		return nil, fmt.Errorf("image '%s': format %s is not supported", name, desc.Format)
	}

	imageType, viewType := toImageType(desc.TextureType)
	extent := vk.Extent3D{Width: desc.Width, Height: desc.Height, Depth: 1}
	layers := uint32(1)
	if desc.TextureType == metadata.TextureType3d {
		extent.Depth = desc.Depth
	} else {
		layers = desc.Depth
	}

	families := context.Device.QueueFamilies()
	imageCreateInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     imageType,
		Format:        image.Format,
		Extent:        extent,
		MipLevels:     desc.MipLevels,
		ArrayLayers:   layers,
		Samples:       toSampleCount(desc.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         toImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if desc.TextureType == metadata.TextureTypeCube {
		imageCreateInfo.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	// images move between the graphics and compute queues without ownership transfers
	if len(families) > 1 {
		imageCreateInfo.SharingMode = vk.SharingModeConcurrent
		imageCreateInfo.QueueFamilyIndexCount = uint32(len(families))
		imageCreateInfo.PQueueFamilyIndices = families
	}

	err := context.Locks.SafeCall(ImageManagement, func() error {
		var pImage vk.Image
		if res := vk.CreateImage(context.Device.LogicalDevice, &imageCreateInfo, context.Allocator, &pImage); res != vk.Success {
			return fmt.Errorf("failed to create image '%s': %s", name, VulkanResultString(res, true))
		}
		image.Handle = pImage

		var memoryRequirements vk.MemoryRequirements
		vk.GetImageMemoryRequirements(context.Device.LogicalDevice, image.Handle, &memoryRequirements)
		memoryRequirements.Deref()

		memoryType, err := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
		if err != nil {
			return fmt.Errorf("image '%s': %w", name, err)
		}

		memoryAllocateInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  memoryRequirements.Size,
			MemoryTypeIndex: memoryType,
		}
		var pMemory vk.DeviceMemory
		if res := vk.AllocateMemory(context.Device.LogicalDevice, &memoryAllocateInfo, context.Allocator, &pMemory); res != vk.Success {
			return fmt.Errorf("failed to allocate memory for image '%s': %s", name, VulkanResultString(res, true))
		}
		image.Memory = pMemory

		if res := vk.BindImageMemory(context.Device.LogicalDevice, image.Handle, image.Memory, 0); res != vk.Success {
			return fmt.Errorf("failed to bind memory for image '%s': %s", name, VulkanResultString(res, true))
		}

		viewCreateInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    image.Handle,
			ViewType: viewType,
			Format:   image.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     image.aspect,
				BaseMipLevel:   0,
				LevelCount:     desc.MipLevels,
				BaseArrayLayer: 0,
				LayerCount:     layers,
			},
		}
		var pView vk.ImageView
		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &pView); res != vk.Success {
			return fmt.Errorf("failed to create view for image '%s': %s", name, VulkanResultString(res, true))
		}
		image.View = pView
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		image.Destroy(context)
		return nil, err
	}
	return image, nil
}

func (v *VulkanImage) Destroy(context *VulkanContext) {
	if v.View != nil {
		vk.DestroyImageView(context.Device.LogicalDevice, v.View, context.Allocator)
		v.View = nil
	}
	if v.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, v.Memory, context.Allocator)
		v.Memory = nil
	}
	if v.Handle != nil {
		vk.DestroyImage(context.Device.LogicalDevice, v.Handle, context.Allocator)
		v.Handle = nil
	}
}

func (v *VulkanImage) subresourceLayers() vk.ImageSubresourceLayers {
	layers := uint32(1)
	if v.desc.TextureType != metadata.TextureType3d {
		layers = v.desc.Depth
	}
	return vk.ImageSubresourceLayers{
		AspectMask:     v.aspect,
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     layers,
	}
}

// Transition records a full barrier moving every subresource to layout.
func (v *VulkanImage) Transition(commandBuffer vk.CommandBuffer, layout vk.ImageLayout) {
	if v.Layout == layout {
		return
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		OldLayout:           v.Layout,
		NewLayout:           layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               v.Handle,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: v.aspect,
			LevelCount: v.desc.MipLevels,
			LayerCount: v.subresourceLayers().LayerCount,
		},
	}
	stages := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(commandBuffer, stages, stages, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	v.Layout = layout
}

func (v *VulkanImage) attachmentLayout() vk.ImageLayout {
	if v.desc.Format.IsDepth() {
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	}
	return vk.ImageLayoutColorAttachmentOptimal
}
