package renderer

import (
	"fmt"
	"strings"
)

type RendererType uint8

const (
	Headless RendererType = iota
	Vulkan
)

func (t RendererType) String() string {
	switch t {
	case Headless:
		return "headless"
	case Vulkan:
		return "vulkan"
	}
	return fmt.Sprintf("RendererType(%d)", uint8(t))
}

func ParseRendererType(name string) (RendererType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "headless":
		return Headless, nil
	case "vulkan":
		return Vulkan, nil
	}
	return Headless, fmt.Errorf("unknown renderer backend %q", name)
}
