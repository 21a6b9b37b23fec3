package framegraph

import (
	"fmt"

	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type PassKind int

const (
	PassTransfer PassKind = iota
	PassCompute
	PassRayTracing
	PassRaster
)

func (k PassKind) String() string {
	switch k {
	case PassTransfer:
		return "transfer"
	case PassCompute:
		return "compute"
	case PassRayTracing:
		return "raytracing"
	case PassRaster:
		return "raster"
	}
	return fmt.Sprintf("PassKind(%d)", int(k))
}

const MaxColorAttachments = 8

type attachment struct {
	handle TextureHandle
	load   metadata.LoadAction
	store  metadata.StoreAction
	access metadata.AccessFlags
	set    bool
}

type pass struct {
	index int
	name  string
	kind  PassKind

	reads    [resourceKindCount][]ResourceHandle
	writes   [resourceKindCount][]ResourceHandle
	temporal [resourceKindCount][]ResourceHandle

	colorAttachments   [MaxColorAttachments]attachment
	colorAttachmentMax int
	depthAttachment    attachment

	enablePassCulling  bool
	enableAsyncCompute bool

	data    interface{}
	execute func(rc *RenderContext) error

	disposed bool
}

func (p *pass) reset(index int, name string, kind PassKind) {
	p.index = index
	p.name = name
	p.kind = kind
	for k := range p.reads {
		p.reads[k] = p.reads[k][:0]
		p.writes[k] = p.writes[k][:0]
		p.temporal[k] = p.temporal[k][:0]
	}
	p.colorAttachments = [MaxColorAttachments]attachment{}
	p.colorAttachmentMax = 0
	p.depthAttachment = attachment{}
	p.enablePassCulling = true
	p.enableAsyncCompute = false
	p.data = nil
	p.execute = nil
	p.disposed = false
}

func (p *pass) String() string {
	return fmt.Sprintf("%s pass '%s' (%d)", p.kind, p.name, p.index)
}

func (p *pass) declares(h ResourceHandle) bool {
	for _, lists := range [...]*[resourceKindCount][]ResourceHandle{&p.reads, &p.writes, &p.temporal} {
		for _, d := range lists[h.kind] {
			if d.index == h.index {
				return true
			}
		}
	}
	return false
}

func (p *pass) hasColorAttachments() bool {
	return p.colorAttachmentMax > 0
}

func (p *pass) hasDepthAttachment() bool {
	return p.depthAttachment.set
}
