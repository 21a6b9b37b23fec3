package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	GraphicsQueueIndex uint32
	ComputeQueueIndex  uint32

	GraphicsQueue vk.Queue
	ComputeQueue  vk.Queue

	GraphicsCommandPool vk.CommandPool
	ComputeCommandPool  vk.CommandPool

	// AsyncCompute is false when compute work has to share the graphics queue.
	AsyncCompute bool

	Properties vk.PhysicalDeviceProperties
	Memory     vk.PhysicalDeviceMemoryProperties
}

type VulkanPhysicalDeviceRequirements struct {
	Compute     bool
	DiscreteGPU bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex uint32
	ComputeFamilyIndex  uint32
	// ComputeQueueIndex is the queue index inside ComputeFamilyIndex.
	ComputeQueueIndex uint32
	Dedicated         bool
}

// Queue returns the queue, family index and command pool serving the given queue type.
func (d *VulkanDevice) Queue(queue metadata.QueueType) (vk.Queue, uint32, vk.CommandPool) {
	if queue == metadata.QueueCompute {
		return d.ComputeQueue, d.ComputeQueueIndex, d.ComputeCommandPool
	}
	return d.GraphicsQueue, d.GraphicsQueueIndex, d.GraphicsCommandPool
}

// QueueFamilies lists the distinct families in use, for concurrent sharing.
func (d *VulkanDevice) QueueFamilies() []uint32 {
	if d.GraphicsQueueIndex == d.ComputeQueueIndex {
		return []uint32{d.GraphicsQueueIndex}
	}
	return []uint32{d.GraphicsQueueIndex, d.ComputeQueueIndex}
}

func DeviceCreate(context *VulkanContext) error {
	queueInfo, err := SelectPhysicalDevice(context)
	if err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	var queuePriorities = []float32{1.0, 1.0}
	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: queueInfo.GraphicsFamilyIndex,
		QueueCount:       1,
		PQueuePriorities: queuePriorities[:1],
	}}
	switch {
	case queueInfo.ComputeFamilyIndex != queueInfo.GraphicsFamilyIndex:
		queueCreateInfos = append(queueCreateInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: queueInfo.ComputeFamilyIndex,
			QueueCount:       1,
			PQueuePriorities: queuePriorities[:1],
		})
	case queueInfo.ComputeQueueIndex == 1:
		// second queue of the graphics family
		queueCreateInfos[0].QueueCount = 2
		queueCreateInfos[0].PQueuePriorities = queuePriorities
	}

	extensionNames := []string{}
	if portabilityRequired(context.Device.PhysicalDevice) {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if res := vk.CreateDevice(context.Device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &context.Device.LogicalDevice); res != vk.Success {
		err := fmt.Errorf("failed to create logical device: %s", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Logical device created.")

	device := context.Device
	device.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
	device.ComputeQueueIndex = queueInfo.ComputeFamilyIndex
	device.AsyncCompute = queueInfo.Dedicated || queueInfo.ComputeQueueIndex == 1

	vk.GetDeviceQueue(device.LogicalDevice, device.GraphicsQueueIndex, 0, &device.GraphicsQueue)
	vk.GetDeviceQueue(device.LogicalDevice, device.ComputeQueueIndex, queueInfo.ComputeQueueIndex, &device.ComputeQueue)
	core.LogInfo("Queues obtained, async compute: %t.", device.AsyncCompute)

	context.Locks.SetQueueFamily(device.GraphicsQueueIndex)
	context.Locks.SetQueueFamily(device.ComputeQueueIndex)

	if device.GraphicsCommandPool, err = createCommandPool(context, device.GraphicsQueueIndex); err != nil {
		return err
	}
	if device.ComputeCommandPool, err = createCommandPool(context, device.ComputeQueueIndex); err != nil {
		return err
	}
	core.LogInfo("Command pools created.")

	return nil
}

func createCommandPool(context *VulkanContext, family uint32) (vk.CommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		err := fmt.Errorf("failed to create command pool for family %d: %s", family, VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	return pool, nil
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	device.GraphicsQueue = nil
	device.ComputeQueue = nil

	core.LogInfo("Destroying command pools...")
	if device.ComputeCommandPool != nil {
		vk.DestroyCommandPool(device.LogicalDevice, device.ComputeCommandPool, context.Allocator)
		device.ComputeCommandPool = nil
	}
	if device.GraphicsCommandPool != nil {
		vk.DestroyCommandPool(device.LogicalDevice, device.GraphicsCommandPool, context.Allocator)
		device.GraphicsCommandPool = nil
	}

	core.LogInfo("Destroying logical device...")
	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
}

func portabilityRequired(device vk.PhysicalDevice) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	extensions := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, extensions); res != vk.Success {
		return false
	}
	for i := range extensions {
		extensions[i].Deref()
		end := FindFirstZeroInByteArray(extensions[i].ExtensionName[:])
		if string(extensions[i].ExtensionName[:end]) == "VK_KHR_portability_subset" {
			return true
		}
	}
	return false
}

func SelectPhysicalDevice(context *VulkanContext) (*VulkanPhysicalDeviceQueueFamilyInfo, error) {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return nil, fmt.Errorf("%w: %s", core.ErrBackendUnavailable, VulkanResultString(res, true))
	}
	if physicalDeviceCount == 0 {
		err := fmt.Errorf("%w: no devices which support Vulkan were found", core.ErrBackendUnavailable)
		core.LogError(err.Error())
		return nil, err
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return nil, fmt.Errorf("%w: %s", core.ErrBackendUnavailable, VulkanResultString(res, true))
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Compute:     true,
		DiscreteGPU: runtime.GOOS != "darwin",
	}

	// Fall back to any device when no discrete GPU is available.
	for _, discrete := range []bool{requirements.DiscreteGPU, false} {
		requirements.DiscreteGPU = discrete
		for i := range physicalDevices {
			properties := vk.PhysicalDeviceProperties{}
			vk.GetPhysicalDeviceProperties(physicalDevices[i], &properties)
			properties.Deref()

			queueInfo, ok := PhysicalDeviceMeetsRequirements(physicalDevices[i], &properties, &requirements)
			if !ok {
				continue
			}

			memory := vk.PhysicalDeviceMemoryProperties{}
			vk.GetPhysicalDeviceMemoryProperties(physicalDevices[i], &memory)
			memory.Deref()

			end := FindFirstZeroInByteArray(properties.DeviceName[:])
			core.LogInfo("Selected device: '%s' (%s).", string(properties.DeviceName[:end]), deviceTypeName(properties.DeviceType))
			core.LogInfo(
				"Vulkan API version: %d.%d.%d",
				vk.Version.Major(vk.Version(properties.ApiVersion)),
				vk.Version.Minor(vk.Version(properties.ApiVersion)),
				vk.Version.Patch(vk.Version(properties.ApiVersion)),
			)

			for j := 0; j < int(memory.MemoryHeapCount); j++ {
				memory.MemoryHeaps[j].Deref()
				memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
				if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
					core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
				} else {
					core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
				}
			}

			context.Device.PhysicalDevice = physicalDevices[i]
			context.Device.Properties = properties
			context.Device.Memory = memory
			core.LogInfo("Physical device selected.")
			return queueInfo, nil
		}
	}

	err := fmt.Errorf("%w: no physical devices were found which meet the requirements", core.ErrBackendUnavailable)
	core.LogError(err.Error())
	return nil, err
}

func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (*VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogDebug("Device is not a discrete GPU, and one is required. Skipping.")
		return nil, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	families := make([]queueFamily, len(queueFamilies))
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		families[i] = queueFamily{flags: queueFamilies[i].QueueFlags, count: queueFamilies[i].QueueCount}
	}

	queueInfo, ok := selectQueueFamilies(families, requirements)
	if !ok {
		core.LogDebug("Device does not expose the required queues. Skipping.")
		return nil, false
	}
	core.LogDebug("Graphics Family Index: %d", queueInfo.GraphicsFamilyIndex)
	core.LogDebug("Compute Family Index:  %d (queue %d, dedicated %t)", queueInfo.ComputeFamilyIndex, queueInfo.ComputeQueueIndex, queueInfo.Dedicated)
	return queueInfo, true
}

type queueFamily struct {
	flags vk.QueueFlags
	count uint32
}

// selectQueueFamilies prefers a compute family without graphics support, then
// a second queue of the graphics family, then the graphics queue itself.
func selectQueueFamilies(families []queueFamily, requirements *VulkanPhysicalDeviceRequirements) (*VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	graphics, compute := -1, -1
	for i, f := range families {
		isGraphics := f.flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		isCompute := f.flags&vk.QueueFlags(vk.QueueComputeBit) != 0
		if isGraphics && graphics == -1 {
			graphics = i
		}
		if isCompute && !isGraphics && compute == -1 {
			compute = i
		}
	}
	if graphics == -1 {
		return nil, false
	}

	info := &VulkanPhysicalDeviceQueueFamilyInfo{GraphicsFamilyIndex: uint32(graphics)}
	switch {
	case compute != -1:
		info.ComputeFamilyIndex = uint32(compute)
		info.Dedicated = true
	case families[graphics].flags&vk.QueueFlags(vk.QueueComputeBit) != 0:
		info.ComputeFamilyIndex = uint32(graphics)
		if families[graphics].count > 1 {
			info.ComputeQueueIndex = 1
		}
	case requirements.Compute:
		return nil, false
	default:
		info.ComputeFamilyIndex = uint32(graphics)
	}
	return info, true
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	}
	return "unknown"
}
