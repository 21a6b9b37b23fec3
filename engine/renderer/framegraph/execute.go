package framegraph

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/math"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

// Execute compiles the authored frame and records it through the backend.
// Per-frame state is torn down whether the frame succeeds or not; errors wrap
// core.ErrFrameFailed together with the cause.
func (g *RenderGraph) Execute(ctx context.Context) (err error) {
	g.ensureFrame()

	clock := core.NewClock()
	g.stats = FrameStats{FrameID: g.frameID, Frame: g.frame, Passes: g.passCount}

	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: frame %d (%s): %w", core.ErrFrameFailed, g.frame, g.frameID, err)
			g.stats.Failed = true
		}
		g.endFrame()
	}()

	if g.err != nil {
		return g.err
	}
	if g.openBuilders > 0 {
		for i := 0; i < g.passCount; i++ {
			if p := g.objects.passes[i]; !p.disposed {
				err := fmt.Errorf("%s: %w", p, core.ErrPassNotDisposed)
				core.LogError(err.Error())
				return err
			}
		}
	}

	clock.Start()
	if err := g.compile(); err != nil {
		return err
	}
	clock.Update()
	g.stats.CompileTime = clock.Elapsed()
	g.collectCompileStats()

	g.report.Reset()
	g.writeReport(&g.report)
	if g.config.LogFrameInformation {
		core.LogInfo("framegraph: frame %d\n%s", g.frame, g.report.String())
	}

	if err := g.validatePasses(); err != nil {
		return err
	}

	clock.Start()
	err = g.executePasses(ctx)
	clock.Update()
	g.stats.ExecuteTime = clock.Elapsed()
	g.stats.ResourcesCreated = g.registry.created
	g.stats.PoolHits = g.registry.poolHits
	return err
}

func (g *RenderGraph) collectCompileStats() {
	for i := range g.compiled.passes {
		info := &g.compiled.passes[i]
		if info.culled {
			g.stats.CulledPasses++
			continue
		}
		if info.enableAsyncCompute {
			g.stats.AsyncPasses++
		}
		if info.needGraphicsFence {
			g.stats.Fences++
		}
	}
	core.LogDebug("framegraph: frame %d compiled %d passes, %d culled, %d async, %d fences",
		g.frame, g.stats.Passes, g.stats.CulledPasses, g.stats.AsyncPasses, g.stats.Fences)
}

// validatePasses checks every pass that survived culling before anything is
// recorded, so a misconfigured frame never reaches the backend.
func (g *RenderGraph) validatePasses() error {
	for i := range g.compiled.passes {
		if g.compiled.passes[i].culled {
			continue
		}
		p := g.objects.passes[i]
		if err := validatePass(p); err != nil {
			err = fmt.Errorf("%s: %w", p, err)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}

func validatePass(p *pass) error {
	if p.execute == nil {
		return core.ErrMissingExecuteFunc
	}
	if p.kind != PassRaster {
		return nil
	}
	for slot := 0; slot < p.colorAttachmentMax; slot++ {
		if !p.colorAttachments[slot].set {
			return fmt.Errorf("%w: slot %d is empty", core.ErrInvalidAttachments, slot)
		}
	}
	if !p.hasColorAttachments() && !p.hasDepthAttachment() {
		return core.ErrMissingDepthAttachment
	}
	return nil
}

type executor struct {
	g        *RenderGraph
	graphics renderer.CommandBuffer
	compute  renderer.CommandBuffer
	rc       RenderContext
	// command buffer with a render pass begun and not yet ended
	renderPass renderer.CommandBuffer
}

func (g *RenderGraph) executePasses(ctx context.Context) (err error) {
	gfx, err := g.backend.BeginCommandBuffer(metadata.QueueGraphics, fmt.Sprintf("frame-%d", g.frame))
	if err != nil {
		return fmt.Errorf("failed to begin graphics command buffer: %w", err)
	}
	e := &executor{
		g:        g,
		graphics: gfx,
		rc:       RenderContext{Pool: g.objects, Backend: g.backend, graph: g},
	}
	defer func() {
		if err != nil {
			e.abandon()
		}
	}()

	for i := range g.compiled.passes {
		if err := ctx.Err(); err != nil {
			core.LogWarn("framegraph: frame %d cancelled before pass %d", g.frame, i)
			return err
		}
		if g.compiled.passes[i].culled {
			continue
		}
		if err := e.executePass(i); err != nil {
			core.LogError(err.Error())
			return err
		}
	}

	if err := g.backend.Submit(e.graphics); err != nil {
		return fmt.Errorf("failed to submit graphics command buffer: %w", err)
	}
	e.graphics = nil
	return nil
}

// abandon ends the open render pass and discards every command buffer a
// failed frame left unsubmitted.
func (e *executor) abandon() {
	backend := e.g.backend
	if e.renderPass != nil {
		if err := backend.EndRenderPass(e.renderPass); err != nil {
			core.LogWarn("framegraph: %s", err)
		}
		e.renderPass = nil
	}
	for _, cmd := range [...]renderer.CommandBuffer{e.compute, e.graphics} {
		if cmd == nil {
			continue
		}
		if err := backend.Discard(cmd); err != nil {
			core.LogWarn("framegraph: %s", err)
			continue
		}
		core.LogDebug("framegraph: discarded command buffer '%s' of frame %d", cmd.Name(), e.g.frame)
	}
	e.compute = nil
	e.graphics = nil
}

func (e *executor) executePass(index int) error {
	g := e.g
	info := &g.compiled.passes[index]
	p := g.objects.passes[index]

	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		for _, r := range info.resourceCreateList[kind] {
			if err := g.registry.createPooledResource(kind, r); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
	}

	cmd := e.graphics
	if info.enableAsyncCompute {
		// everything recorded so far, including fences the compute queue may
		// wait on, has to be submitted before the compute work
		if err := e.flushGraphics(p.name); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		compute, err := g.backend.BeginCommandBuffer(metadata.QueueCompute, p.name)
		if err != nil {
			return fmt.Errorf("%s: failed to begin compute command buffer: %w", p, err)
		}
		e.compute = compute
		cmd = compute
	}

	if info.syncToPassIndex != -1 {
		fence := g.compiled.passes[info.syncToPassIndex].fence
		if fence == nil {
			return fmt.Errorf("%s: %w: no fence from pass %d", p, core.ErrAsyncPassNotSynchronized, info.syncToPassIndex)
		}
		if err := g.backend.WaitFence(cmd, fence); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	cmd.PushLabel(p.name)
	if p.kind == PassRaster {
		desc, err := e.renderPassDesc(p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if err := g.backend.BeginRenderPass(cmd, desc); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		e.renderPass = cmd
	}

	e.rc.Cmd = cmd
	e.rc.pass = p
	err := e.run(p)
	e.rc.Cmd = nil
	e.rc.pass = nil
	if err != nil {
		return err
	}

	if p.kind == PassRaster {
		if err := g.backend.EndRenderPass(cmd); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		e.renderPass = nil
	}
	cmd.PopLabel()

	if info.needGraphicsFence {
		fence, err := g.backend.CreateFence(cmd)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		info.fence = fence
	}

	if info.enableAsyncCompute {
		if err := g.backend.Submit(e.compute); err != nil {
			return fmt.Errorf("%s: failed to submit compute command buffer: %w", p, err)
		}
		e.compute = nil
	}

	g.objects.releaseScratch()

	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		for _, r := range info.resourceReleaseList[kind] {
			if err := g.registry.releasePooledResource(kind, r); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
		}
	}
	return nil
}

func (e *executor) flushGraphics(name string) error {
	g := e.g
	if err := g.backend.Submit(e.graphics); err != nil {
		return fmt.Errorf("failed to submit graphics command buffer: %w", err)
	}
	e.graphics = nil
	gfx, err := g.backend.BeginCommandBuffer(metadata.QueueGraphics, fmt.Sprintf("frame-%d-after-%s", g.frame, name))
	if err != nil {
		return fmt.Errorf("failed to begin graphics command buffer: %w", err)
	}
	e.graphics = gfx
	return nil
}

// run calls the execute callback, turning a panic into an error.
func (e *executor) run(p *pass) (err error) {
	defer func() {
		if r := recover(); r != nil {
			core.LogDebug("%s panicked:\n%s", p, debug.Stack())
			err = fmt.Errorf("%s: %w: %v", p, core.ErrPassPanicked, r)
		}
	}()
	if err := p.execute(&e.rc); err != nil {
		return fmt.Errorf("%s: %w", p, err)
	}
	return nil
}

func (e *executor) renderPassDesc(p *pass) (*renderer.RenderPassDesc, error) {
	reg := e.g.registry
	desc := &renderer.RenderPassDesc{Name: p.name}
	for slot := 0; slot < p.colorAttachmentMax; slot++ {
		a := p.colorAttachments[slot]
		r := reg.get(a.handle.ResourceHandle)
		if r.texture == nil {
			return nil, fmt.Errorf("%w: colour attachment %d '%s'", core.ErrResourceNotCreated, slot, r.name)
		}
		desc.ColorAttachments = append(desc.ColorAttachments, renderer.Attachment{
			Texture: r.texture,
			Load:    a.load,
			Store:   a.store,
			Access:  a.access,
		})
		if slot == 0 {
			desc.RenderArea = math.Extent2D{Width: r.textureDesc.Width, Height: r.textureDesc.Height}
		}
	}
	if p.depthAttachment.set {
		a := p.depthAttachment
		r := reg.get(a.handle.ResourceHandle)
		if r.texture == nil {
			return nil, fmt.Errorf("%w: depth attachment '%s'", core.ErrResourceNotCreated, r.name)
		}
		desc.DepthAttachment = renderer.Attachment{
			Texture: r.texture,
			Load:    a.load,
			Store:   a.store,
			Access:  a.access,
		}
		if !p.hasColorAttachments() {
			desc.RenderArea = math.Extent2D{Width: r.textureDesc.Width, Height: r.textureDesc.Height}
		}
	}
	return desc, nil
}
