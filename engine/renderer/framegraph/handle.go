package framegraph

import "fmt"

type ResourceKind int

const (
	ResourceBuffer ResourceKind = iota
	ResourceTexture

	resourceKindCount
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceBuffer:
		return "buffer"
	case ResourceTexture:
		return "texture"
	}
	return fmt.Sprintf("ResourceKind(%d)", int(k))
}

// ResourceHandle identifies a virtual resource inside a single frame. The
// zero value is invalid.
type ResourceHandle struct {
	index int
	kind  ResourceKind
	frame uint64
	valid bool
}

func (h ResourceHandle) IsValid() bool      { return h.valid }
func (h ResourceHandle) Index() int         { return h.index }
func (h ResourceHandle) Kind() ResourceKind { return h.kind }

func (h ResourceHandle) String() string {
	if !h.valid {
		return "<invalid>"
	}
	return fmt.Sprintf("%s#%d@%d", h.kind, h.index, h.frame)
}

type TextureHandle struct {
	ResourceHandle
}

type BufferHandle struct {
	ResourceHandle
}
