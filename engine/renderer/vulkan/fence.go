package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

// VulkanFence tracks completion of a submission on the host.
type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		err := fmt.Errorf("failed to create fence: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext) {
	if vf.Handle != nil {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// FenceSignaled polls the fence without blocking.
func (vf *VulkanFence) FenceSignaled(context *VulkanContext) bool {
	if !vf.IsSignaled && vk.GetFenceStatus(context.Device.LogicalDevice, vf.Handle) == vk.Success {
		vf.IsSignaled = true
	}
	return vf.IsSignaled
}

func (vf *VulkanFence) FenceWait(context *VulkanContext, timeoutNs uint64) bool {
	if vf.IsSignaled {
		return true
	}
	result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return true
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	case vk.ErrorDeviceLost:
		core.LogError("vk_fence_wait - VK_ERROR_DEVICE_LOST.")
	case vk.ErrorOutOfHostMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_HOST_MEMORY.")
	case vk.ErrorOutOfDeviceMemory:
		core.LogError("vk_fence_wait - VK_ERROR_OUT_OF_DEVICE_MEMORY.")
	default:
		core.LogError("vk_fence_wait - An unknown error has occurred.")
	}
	return false
}

// VulkanSemaphore orders a command buffer on one queue after a command
// buffer on another. It is the backend's renderer.Fence.
type VulkanSemaphore struct {
	Handle vk.Semaphore
	queue  metadata.QueueType
	name   string
	// waited is set once a command buffer consumed the signal.
	waited bool
}

func (s *VulkanSemaphore) Queue() metadata.QueueType { return s.queue }
func (s *VulkanSemaphore) String() string            { return s.name }

func NewSemaphore(context *VulkanContext, queue metadata.QueueType, name string) (*VulkanSemaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var pSemaphore vk.Semaphore
	if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &pSemaphore); res != vk.Success {
		err := fmt.Errorf("failed to create semaphore '%s': %s", name, VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanSemaphore{Handle: pSemaphore, queue: queue, name: name}, nil
}

func (s *VulkanSemaphore) Destroy(context *VulkanContext) {
	if s.Handle != vk.NullSemaphore {
		vk.DestroySemaphore(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = vk.NullSemaphore
	}
}
