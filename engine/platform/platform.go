package platform

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/anima-rdg/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform loads the Vulkan loader through GLFW. No window is created: the
// render graph draws into offscreen images.
type Platform struct {
	started   bool
	startTime float64
}

func New() (*Platform, error) {
	return &Platform{}, nil
}

func (p *Platform) Startup(applicationName string) error {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return fmt.Errorf("%w: %w", core.ErrBackendUnavailable, err)
	}
	p.started = true

	if !glfw.VulkanSupported() {
		err := fmt.Errorf("%w: no Vulkan loader found for '%s'", core.ErrBackendUnavailable, applicationName)
		core.LogError(err.Error())
		return err
	}

	p.startTime = glfw.GetTime()
	core.LogDebug("Platform started for '%s'.", applicationName)
	return nil
}

func (p *Platform) Shutdown() error {
	if p.started {
		glfw.Terminate()
		p.started = false
	}
	return nil
}

// VulkanProcAddr returns vkGetInstanceProcAddr as resolved by GLFW.
func (p *Platform) VulkanProcAddr() unsafe.Pointer {
	if !p.started {
		return nil
	}
	return glfw.GetVulkanGetInstanceProcAddress()
}

// GetRequiredExtensionNames lists the instance extensions the platform
// needs. Offscreen rendering presents nothing, so the list starts empty.
func (p *Platform) GetRequiredExtensionNames() []string {
	return []string{}
}

// Uptime is the number of seconds since Startup.
func (p *Platform) Uptime() float64 {
	if !p.started {
		return 0
	}
	return glfw.GetTime() - p.startTime
}
