package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

var textureFormats = map[metadata.TextureFormat]vk.Format{
	metadata.TextureFormatR8Unorm:        vk.FormatR8Unorm,
	metadata.TextureFormatRGBA8Unorm:     vk.FormatR8g8b8a8Unorm,
	metadata.TextureFormatRGBA8Srgb:      vk.FormatR8g8b8a8Srgb,
	metadata.TextureFormatBGRA8Unorm:     vk.FormatB8g8r8a8Unorm,
	metadata.TextureFormatRG16Float:      vk.FormatR16g16Sfloat,
	metadata.TextureFormatRGBA16Float:    vk.FormatR16g16b16a16Sfloat,
	metadata.TextureFormatR32Float:       vk.FormatR32Sfloat,
	metadata.TextureFormatRGBA32Float:    vk.FormatR32g32b32a32Sfloat,
	metadata.TextureFormatR11G11B10Float: vk.FormatB10g11r11UfloatPack32,
	metadata.TextureFormatD32Float:       vk.FormatD32Sfloat,
	metadata.TextureFormatD24UnormS8Uint: vk.FormatD24UnormS8Uint,
	metadata.TextureFormatD32FloatS8Uint: vk.FormatD32SfloatS8Uint,
}

func toVulkanFormat(format metadata.TextureFormat) vk.Format {
	if f, ok := textureFormats[format]; ok {
		return f
	}
	return vk.FormatUndefined
}

func toImageUsage(usage metadata.TextureUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if usage.Has(metadata.TextureUsageSampled) {
		flags |= vk.ImageUsageSampledBit
	}
	if usage.Has(metadata.TextureUsageStorage) {
		flags |= vk.ImageUsageStorageBit
	}
	if usage.Has(metadata.TextureUsageColorAttachment) {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if usage.Has(metadata.TextureUsageDepthAttachment) {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if usage.Has(metadata.TextureUsageTransferSrc) {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if usage.Has(metadata.TextureUsageTransferDst) {
		flags |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(flags)
}

func toBufferUsage(usage metadata.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage.Has(metadata.BufferUsageVertex) {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if usage.Has(metadata.BufferUsageIndex) {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if usage.Has(metadata.BufferUsageUniform) {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if usage.Has(metadata.BufferUsageStorage) {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage.Has(metadata.BufferUsageIndirect) {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	if usage.Has(metadata.BufferUsageTransferSrc) {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage.Has(metadata.BufferUsageTransferDst) {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

func toSampleCount(samples uint8) vk.SampleCountFlagBits {
	switch {
	case samples >= 16:
		return vk.SampleCount16Bit
	case samples >= 8:
		return vk.SampleCount8Bit
	case samples >= 4:
		return vk.SampleCount4Bit
	case samples >= 2:
		return vk.SampleCount2Bit
	}
	return vk.SampleCount1Bit
}

func toImageType(t metadata.TextureType) (vk.ImageType, vk.ImageViewType) {
	switch t {
	case metadata.TextureType2dArray:
		return vk.ImageType2d, vk.ImageViewType2dArray
	case metadata.TextureTypeCube:
		return vk.ImageType2d, vk.ImageViewTypeCube
	case metadata.TextureType3d:
		return vk.ImageType3d, vk.ImageViewType3d
	}
	return vk.ImageType2d, vk.ImageViewType2d
}

func toAspectMask(format metadata.TextureFormat) vk.ImageAspectFlags {
	if !format.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	aspect := vk.ImageAspectDepthBit
	if format.HasStencil() {
		aspect |= vk.ImageAspectStencilBit
	}
	return vk.ImageAspectFlags(aspect)
}

func toLoadOp(load metadata.LoadAction) vk.AttachmentLoadOp {
	switch load {
	case metadata.LoadActionLoad:
		return vk.AttachmentLoadOpLoad
	case metadata.LoadActionClear:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

func toStoreOp(store metadata.StoreAction) vk.AttachmentStoreOp {
	if store == metadata.StoreActionStore {
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}
