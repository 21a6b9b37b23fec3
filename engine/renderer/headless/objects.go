package headless

import (
	"fmt"

	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type Texture struct {
	id   uint32
	name string
	desc metadata.TextureDesc
}

func (t *Texture) Desc() metadata.TextureDesc { return t.desc }
func (t *Texture) DebugName() string          { return t.name }

type Buffer struct {
	id   uint32
	name string
	desc metadata.BufferDesc
}

func (b *Buffer) Desc() metadata.BufferDesc { return b.desc }
func (b *Buffer) DebugName() string         { return b.name }

type Fence struct {
	queue    metadata.QueueType
	name     string
	signaled bool
}

func (f *Fence) Queue() metadata.QueueType { return f.queue }
func (f *Fence) String() string            { return f.name }

// CommandBuffer appends its commands to the backend event log.
type CommandBuffer struct {
	backend *Backend
	queue   metadata.QueueType
	name    string

	submitted    bool
	discarded    bool
	inRenderPass bool
	labels       int
	commands     int
	waits        []*Fence
	signals      []*Fence
}

func (c *CommandBuffer) Queue() metadata.QueueType { return c.queue }
func (c *CommandBuffer) Name() string              { return c.name }

func (c *CommandBuffer) push(kind EventKind, object string, args [3]uint32) {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.submitted || c.discarded {
		b.violation("headless: %s recorded into closed command buffer '%s'", kind, c.name)
		return
	}
	c.commands++
	b.record(Event{Kind: kind, Queue: c.queue, CommandBuffer: c.name, Object: object, Args: args})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount uint32) {
	if !c.inRenderPass {
		c.backend.mu.Lock()
		c.backend.violation("headless: draw outside a render pass in '%s'", c.name)
		c.backend.mu.Unlock()
		return
	}
	c.push(EventDraw, "", [3]uint32{vertexCount, instanceCount})
}

func (c *CommandBuffer) Dispatch(groupsX, groupsY, groupsZ uint32) {
	c.push(EventDispatch, "", [3]uint32{groupsX, groupsY, groupsZ})
}

func (c *CommandBuffer) CopyTexture(src, dst renderer.Texture) {
	c.backend.mu.Lock()
	c.backend.checkLive(src)
	c.backend.checkLive(dst)
	c.backend.mu.Unlock()
	c.push(EventCopyTexture, fmt.Sprintf("%s->%s", src.DebugName(), dst.DebugName()), [3]uint32{})
}

func (c *CommandBuffer) CopyBuffer(src, dst renderer.Buffer) {
	c.backend.mu.Lock()
	c.backend.checkLive(src)
	c.backend.checkLive(dst)
	c.backend.mu.Unlock()
	c.push(EventCopyBuffer, fmt.Sprintf("%s->%s", src.DebugName(), dst.DebugName()), [3]uint32{})
}

func (c *CommandBuffer) PushLabel(name string) {
	c.labels++
	c.push(EventPushLabel, name, [3]uint32{})
}

func (c *CommandBuffer) PopLabel() {
	if c.labels == 0 {
		c.backend.mu.Lock()
		c.backend.violation("headless: unbalanced label pop in '%s'", c.name)
		c.backend.mu.Unlock()
		return
	}
	c.labels--
	c.push(EventPopLabel, "", [3]uint32{})
}
