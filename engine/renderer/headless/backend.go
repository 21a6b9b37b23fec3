// Package headless implements a renderer backend that records every call in
// memory instead of talking to a GPU. It enforces the same ordering rules a
// real device would (fences signaled before they are waited on, no recording
// after submission) and reports violations instead of crashing.
package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rdg/engine/containers"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

const submissionHistory = 64

type EventKind int

const (
	EventCreateTexture EventKind = iota
	EventDestroyTexture
	EventCreateBuffer
	EventDestroyBuffer
	EventBeginCommandBuffer
	EventSubmit
	EventCreateFence
	EventWaitFence
	EventBeginRenderPass
	EventEndRenderPass
	EventDraw
	EventDispatch
	EventCopyTexture
	EventCopyBuffer
	EventPushLabel
	EventPopLabel
	EventDiscard
)

var eventNames = [...]string{
	"create_texture", "destroy_texture", "create_buffer", "destroy_buffer",
	"begin_command_buffer", "submit", "create_fence", "wait_fence",
	"begin_render_pass", "end_render_pass", "draw", "dispatch",
	"copy_texture", "copy_buffer", "push_label", "pop_label",
	"discard",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one recorded backend call.
type Event struct {
	Kind          EventKind
	Queue         metadata.QueueType
	CommandBuffer string
	// Object is the debug name of the texture, buffer or fence involved, or the label.
	Object string
	Args   [3]uint32
}

func (e Event) String() string {
	return fmt.Sprintf("%s[%s] %s %s %v", e.Kind, e.Queue, e.CommandBuffer, e.Object, e.Args)
}

// Submission summarizes a submitted command buffer.
type Submission struct {
	CommandBuffer string
	Queue         metadata.QueueType
	Commands      int
	Waits         []string
	Signals       []string
}

// Backend is safe for concurrent use, although the render graph only ever
// drives it from one goroutine.
type Backend struct {
	mu sync.Mutex

	ids        *core.Identifiers
	events     []Event
	violations []error
	history    *containers.RingQueue[Submission]

	liveTextures map[uint32]*Texture
	liveBuffers  map[uint32]*Buffer
	created      int
	destroyed    int
	fences       int
	cmdCounter   int
	// command buffers neither submitted nor discarded
	open map[*CommandBuffer]struct{}

	failCreates int
}

func New() *Backend {
	return &Backend{
		ids:          core.NewIdentifiers(64),
		history:      containers.NewRingQueue[Submission](submissionHistory),
		liveTextures: make(map[uint32]*Texture),
		liveBuffers:  make(map[uint32]*Buffer),
		open:         make(map[*CommandBuffer]struct{}),
	}
}

// FailNextCreates makes the next n texture/buffer creations return an error.
func (b *Backend) FailNextCreates(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCreates = n
}

func (b *Backend) record(e Event) {
	b.events = append(b.events, e)
}

func (b *Backend) violation(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	core.LogError(err.Error())
	b.violations = append(b.violations, err)
}

func (b *Backend) CreateTexture(desc metadata.TextureDesc) (renderer.Texture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failCreates > 0 {
		b.failCreates--
		return nil, fmt.Errorf("headless: out of device memory creating texture '%s'", desc.Name)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	t := &Texture{desc: desc}
	t.id = b.ids.Acquire(t)
	t.name = fmt.Sprintf("%s#%d", desc.Name, t.id)
	b.liveTextures[t.id] = t
	b.created++
	b.record(Event{Kind: EventCreateTexture, Object: t.name, Args: [3]uint32{desc.Width, desc.Height, desc.Depth}})
	return t, nil
}

func (b *Backend) DestroyTexture(texture renderer.Texture) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := texture.(*Texture)
	if !ok || t == nil || b.liveTextures[t.id] != t {
		b.violation("headless: destroying unknown texture %v", texture)
		return
	}
	delete(b.liveTextures, t.id)
	_ = b.ids.Release(t.id)
	b.destroyed++
	b.record(Event{Kind: EventDestroyTexture, Object: t.name})
}

func (b *Backend) CreateBuffer(desc metadata.BufferDesc) (renderer.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failCreates > 0 {
		b.failCreates--
		return nil, fmt.Errorf("headless: out of device memory creating buffer '%s'", desc.Name)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	buf := &Buffer{desc: desc}
	buf.id = b.ids.Acquire(buf)
	buf.name = fmt.Sprintf("%s#%d", desc.Name, buf.id)
	b.liveBuffers[buf.id] = buf
	b.created++
	b.record(Event{Kind: EventCreateBuffer, Object: buf.name, Args: [3]uint32{desc.Count, desc.Stride}})
	return buf, nil
}

func (b *Backend) DestroyBuffer(buffer renderer.Buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf, ok := buffer.(*Buffer)
	if !ok || buf == nil || b.liveBuffers[buf.id] != buf {
		b.violation("headless: destroying unknown buffer %v", buffer)
		return
	}
	delete(b.liveBuffers, buf.id)
	_ = b.ids.Release(buf.id)
	b.destroyed++
	b.record(Event{Kind: EventDestroyBuffer, Object: buf.name})
}

func (b *Backend) BeginCommandBuffer(queue metadata.QueueType, name string) (renderer.CommandBuffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cmdCounter++
	cmd := &CommandBuffer{
		backend: b,
		queue:   queue,
		name:    fmt.Sprintf("%s#%d", name, b.cmdCounter),
	}
	b.open[cmd] = struct{}{}
	b.record(Event{Kind: EventBeginCommandBuffer, Queue: queue, CommandBuffer: cmd.name})
	return cmd, nil
}

func (b *Backend) commandBuffer(cmd renderer.CommandBuffer) (*CommandBuffer, error) {
	c, ok := cmd.(*CommandBuffer)
	if !ok || c == nil || c.backend != b {
		return nil, fmt.Errorf("headless: foreign command buffer %v", cmd)
	}
	return c, nil
}

func (b *Backend) Submit(cmd renderer.CommandBuffer) error {
	c, err := b.commandBuffer(cmd)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c.submitted {
		return fmt.Errorf("headless: command buffer '%s' submitted twice", c.name)
	}
	if c.discarded {
		return fmt.Errorf("headless: discarded command buffer '%s' submitted", c.name)
	}
	if c.inRenderPass {
		return fmt.Errorf("headless: command buffer '%s' submitted inside a render pass", c.name)
	}
	sub := Submission{CommandBuffer: c.name, Queue: c.queue, Commands: c.commands}
	for _, f := range c.waits {
		// binary semaphore rule: the signal must already be submitted
		if !f.signaled {
			b.violation("headless: '%s' waits on fence '%s' that was never submitted", c.name, f.name)
		}
		sub.Waits = append(sub.Waits, f.name)
	}
	for _, f := range c.signals {
		f.signaled = true
		sub.Signals = append(sub.Signals, f.name)
	}
	c.submitted = true
	delete(b.open, c)
	b.history.Push(sub)
	b.record(Event{Kind: EventSubmit, Queue: c.queue, CommandBuffer: c.name})
	return nil
}

func (b *Backend) Discard(cmd renderer.CommandBuffer) error {
	c, err := b.commandBuffer(cmd)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c.submitted || c.discarded {
		return fmt.Errorf("headless: command buffer '%s' is no longer recording", c.name)
	}
	if c.inRenderPass {
		b.violation("headless: command buffer '%s' discarded inside a render pass", c.name)
		c.inRenderPass = false
	}
	c.discarded = true
	delete(b.open, c)
	b.record(Event{Kind: EventDiscard, Queue: c.queue, CommandBuffer: c.name})
	return nil
}

func (b *Backend) CreateFence(cmd renderer.CommandBuffer) (renderer.Fence, error) {
	c, err := b.commandBuffer(cmd)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c.submitted || c.discarded {
		return nil, fmt.Errorf("headless: fence created on closed command buffer '%s'", c.name)
	}
	b.fences++
	f := &Fence{queue: c.queue, name: fmt.Sprintf("fence#%d(%s)", b.fences, c.name)}
	c.signals = append(c.signals, f)
	b.record(Event{Kind: EventCreateFence, Queue: c.queue, CommandBuffer: c.name, Object: f.name})
	return f, nil
}

func (b *Backend) WaitFence(cmd renderer.CommandBuffer, fence renderer.Fence) error {
	c, err := b.commandBuffer(cmd)
	if err != nil {
		return err
	}
	f, ok := fence.(*Fence)
	if !ok || f == nil {
		return fmt.Errorf("headless: foreign fence %v", fence)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if f.queue == c.queue {
		b.violation("headless: '%s' waits on fence '%s' from its own queue", c.name, f.name)
	}
	c.waits = append(c.waits, f)
	b.record(Event{Kind: EventWaitFence, Queue: c.queue, CommandBuffer: c.name, Object: f.name})
	return nil
}

func (b *Backend) BeginRenderPass(cmd renderer.CommandBuffer, desc *renderer.RenderPassDesc) error {
	c, err := b.commandBuffer(cmd)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c.queue != metadata.QueueGraphics {
		return fmt.Errorf("headless: render pass '%s' begun on the %s queue", desc.Name, c.queue)
	}
	if c.inRenderPass {
		return fmt.Errorf("headless: render pass '%s' begun inside another render pass", desc.Name)
	}
	for i, a := range desc.ColorAttachments {
		if a.Texture == nil {
			return fmt.Errorf("headless: render pass '%s' colour attachment %d is empty", desc.Name, i)
		}
		b.checkLive(a.Texture)
	}
	if desc.DepthAttachment.Texture != nil {
		b.checkLive(desc.DepthAttachment.Texture)
	}
	c.inRenderPass = true
	b.record(Event{
		Kind:          EventBeginRenderPass,
		Queue:         c.queue,
		CommandBuffer: c.name,
		Object:        desc.Name,
		Args:          [3]uint32{uint32(len(desc.ColorAttachments)), desc.RenderArea.Width, desc.RenderArea.Height},
	})
	return nil
}

func (b *Backend) EndRenderPass(cmd renderer.CommandBuffer) error {
	c, err := b.commandBuffer(cmd)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !c.inRenderPass {
		return fmt.Errorf("headless: '%s' ended a render pass that was never begun", c.name)
	}
	c.inRenderPass = false
	b.record(Event{Kind: EventEndRenderPass, Queue: c.queue, CommandBuffer: c.name})
	return nil
}

// checkLive must be called with b.mu held.
func (b *Backend) checkLive(obj interface{}) {
	switch o := obj.(type) {
	case *Texture:
		if b.liveTextures[o.id] != o {
			b.violation("headless: use of destroyed texture '%s'", o.name)
		}
	case *Buffer:
		if b.liveBuffers[o.id] != o {
			b.violation("headless: use of destroyed buffer '%s'", o.name)
		}
	case nil:
		b.violation("headless: use of nil resource")
	}
}

// Events returns a copy of everything recorded so far.
func (b *Backend) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// EventsOf filters Events by kind.
func (b *Backend) EventsOf(kind EventKind) []Event {
	var out []Event
	for _, e := range b.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (b *Backend) ResetEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = b.events[:0]
}

// Violations returns the ordering and lifetime rules broken so far.
func (b *Backend) Violations() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]error, len(b.violations))
	copy(out, b.violations)
	return out
}

// Open returns the names of command buffers begun but neither submitted nor
// discarded.
func (b *Backend) Open() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for c := range b.open {
		out = append(out, c.name)
	}
	return out
}

// Submissions returns the most recent submissions, oldest first.
func (b *Backend) Submissions() []Submission {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Items()
}

// Live returns the number of textures and buffers currently allocated.
func (b *Backend) Live() (textures, buffers int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.liveTextures), len(b.liveBuffers)
}

// Allocations returns how many physical objects were created and destroyed in total.
func (b *Backend) Allocations() (created, destroyed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created, b.destroyed
}
