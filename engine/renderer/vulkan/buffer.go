package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   vk.DeviceSize

	desc metadata.BufferDesc
	name string
}

func (v *VulkanBuffer) Desc() metadata.BufferDesc { return v.desc }
func (v *VulkanBuffer) DebugName() string         { return v.name }

func BufferCreate(context *VulkanContext, desc metadata.BufferDesc, name string) (*VulkanBuffer, error) {
	buffer := &VulkanBuffer{
		Size: vk.DeviceSize(desc.Size()),
		desc: desc,
		name: name,
	}

	families := context.Device.QueueFamilies()
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        buffer.Size,
		Usage:       toBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if len(families) > 1 {
		bufferCreateInfo.SharingMode = vk.SharingModeConcurrent
		bufferCreateInfo.QueueFamilyIndexCount = uint32(len(families))
		bufferCreateInfo.PQueueFamilyIndices = families
	}

	err := context.Locks.SafeCall(BufferManagement, func() error {
		var pBuffer vk.Buffer
		if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferCreateInfo, context.Allocator, &pBuffer); res != vk.Success {
			return fmt.Errorf("failed to create buffer '%s': %s", name, VulkanResultString(res, true))
		}
		buffer.Handle = pBuffer

		var memoryRequirements vk.MemoryRequirements
		vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer.Handle, &memoryRequirements)
		memoryRequirements.Deref()

		memoryType, err := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
		if err != nil {
			return fmt.Errorf("buffer '%s': %w", name, err)
		}

		memoryAllocateInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  memoryRequirements.Size,
			MemoryTypeIndex: memoryType,
		}
		var pMemory vk.DeviceMemory
		if res := vk.AllocateMemory(context.Device.LogicalDevice, &memoryAllocateInfo, context.Allocator, &pMemory); res != vk.Success {
			return fmt.Errorf("failed to allocate memory for buffer '%s': %s", name, VulkanResultString(res, true))
		}
		buffer.Memory = pMemory

		if res := vk.BindBufferMemory(context.Device.LogicalDevice, buffer.Handle, buffer.Memory, 0); res != vk.Success {
			return fmt.Errorf("failed to bind memory for buffer '%s': %s", name, VulkanResultString(res, true))
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		buffer.Destroy(context)
		return nil, err
	}
	return buffer, nil
}

func (v *VulkanBuffer) Destroy(context *VulkanContext) {
	if v.Memory != nil {
		vk.FreeMemory(context.Device.LogicalDevice, v.Memory, context.Allocator)
		v.Memory = nil
	}
	if v.Handle != nil {
		vk.DestroyBuffer(context.Device.LogicalDevice, v.Handle, context.Allocator)
		v.Handle = nil
	}
}
