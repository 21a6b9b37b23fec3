package vulkan

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/platform"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

// Submissions kept in flight before the host blocks on the oldest one.
const maxInFlightSubmissions = 16

// deferredDestroy runs once every command buffer that may reference the
// object has completed on the GPU.
type deferredDestroy struct {
	holds   int
	destroy func()
}

func (d *deferredDestroy) release() {
	d.holds--
	if d.holds <= 0 && d.destroy != nil {
		d.destroy()
		d.destroy = nil
	}
}

type submission struct {
	serial  uint64
	fence   *VulkanFence
	cmd     *VulkanCommandBuffer
	garbage []*deferredDestroy
	// semaphores consumed by this submission
	semaphores []*VulkanSemaphore
}

// VulkanRenderer renders offscreen: render graph textures are plain images
// and the caller imports whatever it presents from.
type VulkanRenderer struct {
	platform *platform.Platform
	context  *VulkanContext
	debug    bool

	serial       uint64
	cmdCounter   uint64
	fenceCounter uint64

	open       map[*VulkanCommandBuffer]struct{}
	inFlight   []*submission
	semaphores map[*VulkanSemaphore]struct{}
}

func New(p *platform.Platform, debug bool) *VulkanRenderer {
	return &VulkanRenderer{
		platform: p,
		context: &VulkanContext{
			Allocator: nil,
			Device:    &VulkanDevice{},
			Locks:     NewVulkanLockPool(),
		},
		debug:      debug,
		open:       make(map[*VulkanCommandBuffer]struct{}),
		semaphores: make(map[*VulkanSemaphore]struct{}),
	}
}

// AsyncCompute reports whether compute work runs on its own queue.
func (vr *VulkanRenderer) AsyncCompute() bool {
	return vr.context.Device.AsyncCompute
}

func (vr *VulkanRenderer) Initialize(appName string) error {
	procAddr := vr.platform.VulkanProcAddr()
	if procAddr == nil {
		err := fmt.Errorf("%w: GetInstanceProcAddress is nil", core.ErrBackendUnavailable)
		core.LogError(err.Error())
		return err
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return fmt.Errorf("%w: %w", core.ErrBackendUnavailable, err)
	}

	// Setup Vulkan instance.
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Offscreen rendering needs no surface extensions.
	requiredExtensions := vr.platform.GetRequiredExtensionNames()
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}
	if vr.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	for _, e := range requiredExtensions {
		core.LogDebug("Required extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	// Validation layers should only be enabled on non-release builds.
	requiredValidationLayerNames := []string{}
	if vr.debug {
		requiredValidationLayerNames = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkValidationLayers(requiredValidationLayerNames); err != nil {
			return err
		}
	}

	createInfo.EnabledLayerCount = uint32(len(requiredValidationLayerNames))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredValidationLayerNames)

	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance); res != vk.Success {
		err := fmt.Errorf("%w: failed in creating the Vulkan Instance with error `%s`", core.ErrBackendUnavailable, VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if vr.debug {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}

		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	if err := DeviceCreate(vr.context); err != nil {
		core.LogError("Failed to create device!")
		return err
	}

	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func checkValidationLayers(required []string) error {
	core.LogDebug("Validation layers enabled. Enumerating...")

	var availableLayerCount uint32
	if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, nil); res != vk.Success {
		return fmt.Errorf("failed to enumerate instance layers: %s", VulkanResultString(res, true))
	}
	availableLayers := make([]vk.LayerProperties, availableLayerCount)
	if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, availableLayers); res != vk.Success {
		return fmt.Errorf("failed to enumerate instance layers: %s", VulkanResultString(res, true))
	}

	for _, name := range required {
		found := false
		for j := range availableLayers {
			availableLayers[j].Deref()
			end := FindFirstZeroInByteArray(availableLayers[j].LayerName[:])
			if name == string(availableLayers[j].LayerName[:end]) {
				found = true
				break
			}
		}
		if !found {
			err := fmt.Errorf("%w: required validation layer is missing: %s", core.ErrBackendUnavailable, name)
			core.LogError(err.Error())
			return err
		}
	}
	core.LogDebug("All required validation layers are present.")
	return nil
}

func (vr *VulkanRenderer) Shutdown() error {
	if vr.context.Device.LogicalDevice == nil {
		return nil
	}
	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)

	// Destroy in the opposite order of creation.
	for cmd := range vr.open {
		vr.retire(&submission{cmd: cmd, garbage: cmd.garbage})
	}
	vr.open = make(map[*VulkanCommandBuffer]struct{})
	for _, s := range vr.inFlight {
		vr.retire(s)
	}
	vr.inFlight = nil
	for s := range vr.semaphores {
		s.Destroy(vr.context)
	}
	vr.semaphores = make(map[*VulkanSemaphore]struct{})

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(vr.context)

	if vr.context.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, vr.context.Allocator)
		vr.context.debugMessenger = vk.NullDebugReportCallback
	}

	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
	return nil
}

func (vr *VulkanRenderer) CreateTexture(desc metadata.TextureDesc) (renderer.Texture, error) {
	vr.reclaim()
	return ImageCreate(vr.context, desc, desc.Name)
}

func (vr *VulkanRenderer) DestroyTexture(texture renderer.Texture) {
	image, ok := texture.(*VulkanImage)
	if !ok {
		core.LogWarn("vulkan: destroying foreign texture %v", texture)
		return
	}
	vr.deferDestroy(func() { image.Destroy(vr.context) })
}

func (vr *VulkanRenderer) CreateBuffer(desc metadata.BufferDesc) (renderer.Buffer, error) {
	vr.reclaim()
	return BufferCreate(vr.context, desc, desc.Name)
}

func (vr *VulkanRenderer) DestroyBuffer(buffer renderer.Buffer) {
	b, ok := buffer.(*VulkanBuffer)
	if !ok {
		core.LogWarn("vulkan: destroying foreign buffer %v", buffer)
		return
	}
	vr.deferDestroy(func() { b.Destroy(vr.context) })
}

func (vr *VulkanRenderer) BeginCommandBuffer(queue metadata.QueueType, name string) (renderer.CommandBuffer, error) {
	vr.reclaim()

	_, _, pool := vr.context.Device.Queue(queue)
	cmd, err := NewVulkanCommandBuffer(vr.context, pool, true)
	if err != nil {
		return nil, err
	}
	vr.cmdCounter++
	cmd.queue = queue
	cmd.name = fmt.Sprintf("%s#%d", name, vr.cmdCounter)
	if err := cmd.Begin(true, false, false); err != nil {
		cmd.Free(vr.context)
		return nil, err
	}
	vr.open[cmd] = struct{}{}
	return cmd, nil
}

func (vr *VulkanRenderer) commandBuffer(cmd renderer.CommandBuffer) (*VulkanCommandBuffer, error) {
	c, ok := cmd.(*VulkanCommandBuffer)
	if !ok || c.Handle == nil {
		return nil, fmt.Errorf("vulkan: %v is not a live vulkan command buffer", cmd)
	}
	return c, nil
}

func (vr *VulkanRenderer) Submit(cmd renderer.CommandBuffer) error {
	c, err := vr.commandBuffer(cmd)
	if err != nil {
		return err
	}
	switch c.State {
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return fmt.Errorf("vulkan: command buffer '%s' submitted inside render pass '%s'", c.name, c.renderpass.Name)
	case COMMAND_BUFFER_STATE_RECORDING:
	default:
		return fmt.Errorf("vulkan: command buffer '%s' is not recording", c.name)
	}
	if len(c.labels) != 0 {
		core.LogWarn("vulkan: command buffer '%s' submitted with %d open labels", c.name, len(c.labels))
	}
	if c.dropped > 0 {
		core.LogDebug("vulkan: command buffer '%s' dropped %d commands without a bound pipeline", c.name, c.dropped)
	}

	if err := c.End(); err != nil {
		return err
	}

	fence, err := NewFence(vr.context, false)
	if err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{c.Handle},
	}
	if len(c.waits) > 0 {
		waits := make([]vk.Semaphore, len(c.waits))
		stages := make([]vk.PipelineStageFlags, len(c.waits))
		for i, s := range c.waits {
			waits[i] = s.Handle
			stages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		}
		submitInfo.WaitSemaphoreCount = uint32(len(waits))
		submitInfo.PWaitSemaphores = waits
		submitInfo.PWaitDstStageMask = stages
	}
	if len(c.signals) > 0 {
		signals := make([]vk.Semaphore, len(c.signals))
		for i, s := range c.signals {
			signals[i] = s.Handle
		}
		submitInfo.SignalSemaphoreCount = uint32(len(signals))
		submitInfo.PSignalSemaphores = signals
	}

	queue, family, _ := vr.context.Device.Queue(c.queue)
	err = vr.context.Locks.SafeQueueCall(family, func() error {
		if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); res != vk.Success {
			return fmt.Errorf("vkQueueSubmit of '%s' failed with result: %s", c.name, VulkanResultString(res, true))
		}
		return nil
	})
	if err != nil {
		core.LogError(err.Error())
		fence.FenceDestroy(vr.context)
		return err
	}
	c.UpdateSubmitted()

	delete(vr.open, c)
	vr.serial++
	vr.inFlight = append(vr.inFlight, &submission{
		serial:     vr.serial,
		fence:      fence,
		cmd:        c,
		garbage:    c.garbage,
		semaphores: c.waits,
	})
	c.garbage = nil

	if len(vr.inFlight) > maxInFlightSubmissions {
		vr.inFlight[0].fence.FenceWait(vr.context, math.MaxUint64)
	}
	vr.reclaim()
	return nil
}

// Discard frees a command buffer that never reached its queue. Objects it
// held are released right away, the semaphores it waits on were signaled by
// earlier submissions and are destroyed once those have completed.
func (vr *VulkanRenderer) Discard(cmd renderer.CommandBuffer) error {
	c, err := vr.commandBuffer(cmd)
	if err != nil {
		return err
	}
	if _, ok := vr.open[c]; !ok {
		return fmt.Errorf("vulkan: command buffer '%s' is not open", c.name)
	}
	delete(vr.open, c)

	if c.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		core.LogDebug("vulkan: command buffer '%s' discarded inside render pass '%s'", c.name, c.renderpass.Name)
	}
	c.Free(vr.context)
	c.renderpass = nil
	c.labels = c.labels[:0]

	for _, g := range c.garbage {
		g.release()
	}
	c.garbage = nil
	for _, s := range c.signals {
		s.Destroy(vr.context)
		delete(vr.semaphores, s)
	}
	c.signals = nil
	if waits := c.waits; len(waits) > 0 {
		vr.deferDestroy(func() {
			for _, s := range waits {
				s.Destroy(vr.context)
				delete(vr.semaphores, s)
			}
		})
	}
	c.waits = nil
	return nil
}

func (vr *VulkanRenderer) CreateFence(cmd renderer.CommandBuffer) (renderer.Fence, error) {
	c, err := vr.commandBuffer(cmd)
	if err != nil {
		return nil, err
	}
	if c.State == COMMAND_BUFFER_STATE_SUBMITTED {
		return nil, fmt.Errorf("vulkan: fence created on submitted command buffer '%s'", c.name)
	}

	vr.fenceCounter++
	var s *VulkanSemaphore
	err = vr.context.Locks.SafeCall(SynchronizationManagement, func() error {
		var err error
		s, err = NewSemaphore(vr.context, c.queue, fmt.Sprintf("fence#%d(%s)", vr.fenceCounter, c.name))
		return err
	})
	if err != nil {
		return nil, err
	}
	c.signals = append(c.signals, s)
	vr.semaphores[s] = struct{}{}
	return s, nil
}

func (vr *VulkanRenderer) WaitFence(cmd renderer.CommandBuffer, fence renderer.Fence) error {
	c, err := vr.commandBuffer(cmd)
	if err != nil {
		return err
	}
	s, ok := fence.(*VulkanSemaphore)
	if !ok || s.Handle == vk.NullSemaphore {
		return fmt.Errorf("vulkan: %v is not a live vulkan fence", fence)
	}
	if s.waited {
		return fmt.Errorf("vulkan: fence '%s' waited on twice", s.name)
	}
	if s.queue == c.queue {
		core.LogDebug("vulkan: '%s' waits on '%s' from its own queue", c.name, s.name)
	}
	s.waited = true
	c.waits = append(c.waits, s)
	return nil
}

func (vr *VulkanRenderer) BeginRenderPass(cmd renderer.CommandBuffer, desc *renderer.RenderPassDesc) error {
	c, err := vr.commandBuffer(cmd)
	if err != nil {
		return err
	}
	if c.queue != metadata.QueueGraphics {
		return fmt.Errorf("vulkan: render pass '%s' begun on the %s queue", desc.Name, c.queue)
	}
	if c.State != COMMAND_BUFFER_STATE_RECORDING {
		return fmt.Errorf("vulkan: render pass '%s' begun while command buffer '%s' is not recording", desc.Name, c.name)
	}

	rp, err := RenderpassCreate(vr.context, desc)
	if err != nil {
		return err
	}
	fb, err := FramebufferCreate(vr.context, rp)
	if err != nil {
		rp.RenderpassDestroy(vr.context)
		return err
	}
	// transient objects live as long as the command buffer
	c.garbage = append(c.garbage, &deferredDestroy{holds: 1, destroy: func() {
		fb.Destroy(vr.context)
		rp.RenderpassDestroy(vr.context)
	}})

	rp.RenderpassBegin(c, fb.Handle)
	return nil
}

func (vr *VulkanRenderer) EndRenderPass(cmd renderer.CommandBuffer) error {
	c, err := vr.commandBuffer(cmd)
	if err != nil {
		return err
	}
	if c.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS || c.renderpass == nil {
		return fmt.Errorf("vulkan: command buffer '%s' ended a render pass it never began", c.name)
	}
	c.renderpass.RenderpassEnd(c)
	return nil
}

// deferDestroy holds the destruction back until every command buffer that
// is open or in flight right now has completed.
func (vr *VulkanRenderer) deferDestroy(fn func()) {
	entry := &deferredDestroy{destroy: fn}
	for cmd := range vr.open {
		entry.holds++
		cmd.garbage = append(cmd.garbage, entry)
	}
	if entry.holds == 0 && len(vr.inFlight) > 0 {
		last := vr.inFlight[len(vr.inFlight)-1]
		entry.holds++
		last.garbage = append(last.garbage, entry)
	}
	if entry.holds == 0 {
		fn()
	}
}

// reclaim retires completed submissions in submission order.
func (vr *VulkanRenderer) reclaim() {
	retired := 0
	for _, s := range vr.inFlight {
		if !s.fence.FenceSignaled(vr.context) {
			break
		}
		vr.retire(s)
		retired++
	}
	if retired > 0 {
		vr.inFlight = append(vr.inFlight[:0], vr.inFlight[retired:]...)
	}
}

func (vr *VulkanRenderer) retire(s *submission) {
	if s.fence != nil {
		s.fence.FenceDestroy(vr.context)
	}
	if s.cmd != nil {
		s.cmd.Free(vr.context)
	}
	for _, g := range s.garbage {
		g.release()
	}
	for _, sem := range s.semaphores {
		sem.Destroy(vr.context)
		delete(vr.semaphores, sem)
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

var (
	_ renderer.RendererBackend = (*VulkanRenderer)(nil)
	_ renderer.CommandBuffer   = (*VulkanCommandBuffer)(nil)
	_ renderer.Texture         = (*VulkanImage)(nil)
	_ renderer.Buffer          = (*VulkanBuffer)(nil)
	_ renderer.Fence           = (*VulkanSemaphore)(nil)
)
