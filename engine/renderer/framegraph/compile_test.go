package framegraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/headless"
)

func TestScenarioGraphicsOnlyLifetime(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	tex := g.CreateTexture(colorDesc("T"))
	addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(tex)
	})
	addTestPass(g, "P2", func(b *PassBuilder[passData]) {
		b.ReadTexture(tex)
		b.WriteTexture(backbuffer)
	})
	addTestPass(g, "P3", func(b *PassBuilder[passData]) {
		b.WriteTexture(backbuffer)
	})
	execute(t, g)

	passes := g.compiled.passes
	require.Len(t, passes, 3)
	for _, info := range passes {
		assert.False(t, info.culled, info.name)
		assert.Equal(t, -1, info.syncToPassIndex, info.name)
		assert.False(t, info.needGraphicsFence, info.name)
	}
	assert.Equal(t, []int{tex.Index()}, passes[0].resourceCreateList[ResourceTexture])
	assert.Empty(t, passes[0].resourceReleaseList[ResourceTexture])
	assert.Empty(t, passes[1].resourceCreateList[ResourceTexture])
	assert.Equal(t, []int{tex.Index()}, passes[1].resourceReleaseList[ResourceTexture])
	assert.Empty(t, passes[2].resourceCreateList[ResourceTexture])
	assert.Empty(t, passes[2].resourceReleaseList[ResourceTexture])

	assert.Equal(t, 0, g.Stats().Fences)
	assert.Empty(t, backend.EventsOf(headless.EventWaitFence))
	assert.Empty(t, backend.Violations())
}

func TestScenarioAsyncComputeConsumer(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	tex := g.CreateTexture(colorDesc("T"))
	result := g.CreateTexture(colorDesc("U"))
	addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(tex)
	})
	addTestPass(g, "P2", func(b *PassBuilder[passData]) {
		b.EnableAsyncCompute(true)
		b.ReadTexture(tex)
		b.WriteTexture(result)
	})
	addTestPass(g, "P3", func(b *PassBuilder[passData]) {
		b.ReadTexture(result)
		b.WriteTexture(backbuffer)
	})
	execute(t, g)

	passes := g.compiled.passes
	assert.Equal(t, 0, passes[1].syncToPassIndex)
	assert.True(t, passes[0].needGraphicsFence)
	assert.Equal(t, 1, passes[0].syncFromPassIndex)

	assert.Equal(t, 1, passes[2].syncToPassIndex)
	assert.True(t, passes[1].needGraphicsFence)
	assert.Equal(t, 2, passes[1].syncFromPassIndex)

	// T is last used on the compute queue, so it is released by the graphics
	// pass that waits on that queue, together with U
	assert.Empty(t, passes[1].resourceReleaseList[ResourceTexture])
	assert.ElementsMatch(t, []int{tex.Index(), result.Index()}, passes[2].resourceReleaseList[ResourceTexture])
	assert.Equal(t, []int{result.Index()}, passes[1].resourceCreateList[ResourceTexture])

	stats := g.Stats()
	assert.Equal(t, 2, stats.Fences)
	assert.Equal(t, 1, stats.AsyncPasses)

	subs := backend.Submissions()
	require.Len(t, subs, 3)
	assert.Len(t, subs[0].Signals, 1)
	assert.Equal(t, "compute", subs[1].Queue.String())
	assert.Equal(t, subs[0].Signals, subs[1].Waits)
	assert.Equal(t, subs[1].Signals, subs[2].Waits)
	assert.Empty(t, backend.Violations())
}

func TestAsyncResourceReleasedAtGraphicsWaiter(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	tex := g.CreateTexture(colorDesc("T"))
	result := g.CreateTexture(colorDesc("U"))
	unrelated := g.CreateTexture(colorDesc("X"))
	addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(tex)
	})
	addTestPass(g, "P2", func(b *PassBuilder[passData]) {
		b.EnableAsyncCompute(true)
		b.ReadTexture(tex)
		b.WriteTexture(result)
	})
	addTestPass(g, "G", func(b *PassBuilder[passData]) {
		b.WriteTexture(unrelated)
	})
	addTestPass(g, "P3", func(b *PassBuilder[passData]) {
		b.ReadTexture(result)
		b.ReadTexture(unrelated)
		b.WriteTexture(backbuffer)
	})
	execute(t, g)

	passes := g.compiled.passes
	require.False(t, passes[2].culled)
	assert.Equal(t, 3, passes[1].syncFromPassIndex)
	assert.Equal(t, 1, passes[3].syncToPassIndex)

	// G runs on the graphics queue while P2 may still be reading T
	assert.Empty(t, passes[1].resourceReleaseList[ResourceTexture])
	assert.Empty(t, passes[2].resourceReleaseList[ResourceTexture])
	assert.ElementsMatch(t, []int{tex.Index(), result.Index(), unrelated.Index()}, passes[3].resourceReleaseList[ResourceTexture])
	assert.Empty(t, backend.Violations())
}

func TestScenarioUnusedOutputIsCulled(t *testing.T) {
	g, backend := newTestGraph(t)

	tex := g.CreateTexture(colorDesc("T"))
	data := addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(tex)
	})
	execute(t, g)

	assert.True(t, g.compiled.passes[0].culled)
	assert.Empty(t, g.compiled.passes[0].resourceCreateList[ResourceTexture])
	assert.Equal(t, 0, data.calls)

	created, _ := backend.Allocations()
	assert.Equal(t, 0, created)
	assert.Equal(t, 1, g.Stats().CulledPasses)
}

func TestScenarioImportedWriteIsSideEffect(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)
	before, _ := backend.Allocations()

	data := addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(backbuffer)
	})
	execute(t, g)

	info := g.compiled.passes[0]
	assert.True(t, info.hasSideEffect)
	assert.False(t, info.culled)
	assert.Empty(t, info.resourceCreateList[ResourceTexture])
	assert.Empty(t, info.resourceReleaseList[ResourceTexture])
	assert.Equal(t, 1, data.calls)

	after, _ := backend.Allocations()
	assert.Equal(t, before, after)
}

func TestCullingDisabledPassSurvives(t *testing.T) {
	g, _ := newTestGraph(t)

	tex := g.CreateTexture(colorDesc("T"))
	addTestPass(g, "keep", func(b *PassBuilder[passData]) {
		b.EnablePassCulling(false)
		b.WriteTexture(tex)
	})
	addTestPass(g, "no-outputs", func(b *PassBuilder[passData]) {
		b.EnablePassCulling(false)
	})
	addTestPass(g, "no-outputs-cullable", nil)
	execute(t, g)

	assert.False(t, g.compiled.passes[0].culled)
	assert.False(t, g.compiled.passes[1].culled)
	assert.True(t, g.compiled.passes[2].culled)
	assert.Equal(t, []int{tex.Index()}, g.compiled.passes[0].resourceCreateList[ResourceTexture])
	assert.Equal(t, []int{tex.Index()}, g.compiled.passes[0].resourceReleaseList[ResourceTexture])
}

func TestCullingClosure(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	a := g.CreateTexture(colorDesc("A"))
	b := g.CreateTexture(colorDesc("B"))
	c := g.CreateTexture(colorDesc("C"))
	live := g.CreateTexture(colorDesc("live"))

	addTestPass(g, "shared", func(pb *PassBuilder[passData]) {
		pb.WriteTexture(a)
		pb.WriteTexture(live)
	})
	addTestPass(g, "mid", func(pb *PassBuilder[passData]) {
		pb.ReadTexture(a)
		pb.WriteTexture(b)
	})
	addTestPass(g, "tail", func(pb *PassBuilder[passData]) {
		pb.ReadTexture(b)
		pb.WriteTexture(c)
	})
	addTestPass(g, "present", func(pb *PassBuilder[passData]) {
		pb.ReadTexture(live)
		pb.WriteTexture(backbuffer)
	})
	execute(t, g)

	passes := g.compiled.passes
	assert.False(t, passes[0].culled, "shared still feeds present")
	assert.True(t, passes[1].culled)
	assert.True(t, passes[2].culled)
	assert.False(t, passes[3].culled)

	// no live pass may depend on a culled one
	for i := range passes {
		if passes[i].culled {
			continue
		}
		p := g.objects.passes[i]
		for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
			for _, h := range p.reads[kind] {
				for _, producer := range g.compiled.resources[kind][h.index].producers {
					if producer < i {
						assert.False(t, passes[producer].culled, "%s reads from culled pass %d", passes[i].name, producer)
					}
				}
			}
		}
	}

	// A is written by a live pass but its only reader was culled
	assert.Equal(t, []int{a.Index(), live.Index()}, passes[0].resourceCreateList[ResourceTexture])
	assert.Empty(t, passes[1].resourceCreateList[ResourceTexture])
	assert.Empty(t, passes[2].resourceCreateList[ResourceTexture])
}

func TestCullingCrossesResourceKinds(t *testing.T) {
	g, _ := newTestGraph(t)

	buf := g.CreateBuffer(bufferDesc("histogram"))
	tex := g.CreateTexture(colorDesc("exposure"))
	addTestPass(g, "build-histogram", func(b *PassBuilder[passData]) {
		b.WriteBuffer(buf)
	})
	addTestPass(g, "resolve-exposure", func(b *PassBuilder[passData]) {
		b.ReadBuffer(buf)
		b.WriteTexture(tex)
	})
	execute(t, g)

	assert.True(t, g.compiled.passes[0].culled)
	assert.True(t, g.compiled.passes[1].culled)
}

func TestDisablePassCulling(t *testing.T) {
	g, backend := newTestGraph(t, withConfig(func(c *Config) { c.DisablePassCulling = true }))

	tex := g.CreateTexture(colorDesc("T"))
	data := addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(tex)
	})
	execute(t, g)

	assert.False(t, g.compiled.passes[0].culled)
	assert.Equal(t, 1, data.calls)
	created, _ := backend.Allocations()
	assert.Equal(t, 1, created)
}

func TestCreateOnceReleaseOnce(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	depth := g.CreateTexture(depthDesc("depth"))
	normals := g.CreateTexture(colorDesc("normals"))
	ao := g.CreateTexture(colorDesc("ao"))
	lights := g.CreateBuffer(bufferDesc("lights"))
	unused := g.CreateBuffer(bufferDesc("unused"))
	history := g.CreateTexture(colorDesc("history"))

	addTestPass(g, "prepass", func(b *PassBuilder[passData]) {
		b.WriteTexture(depth)
		b.WriteTexture(normals)
	})
	addTestPass(g, "light-cull", func(b *PassBuilder[passData]) {
		b.ReadTexture(depth)
		b.WriteBuffer(lights)
	})
	addTestPass(g, "ssao", func(b *PassBuilder[passData]) {
		b.EnableAsyncCompute(true)
		b.ReadTexture(depth)
		b.ReadTexture(normals)
		b.WriteTexture(ao)
	})
	addTestPass(g, "dead", func(b *PassBuilder[passData]) {
		b.ReadBuffer(lights)
		b.WriteBuffer(unused)
		b.WriteTexture(history)
	})
	addTestPass(g, "lighting", func(b *PassBuilder[passData]) {
		b.ReadTexture(ao)
		b.ReadBuffer(lights)
		b.ReadWriteTexture(normals)
		b.WriteTexture(backbuffer)
	})
	execute(t, g)

	for kind := ResourceKind(0); kind < resourceKindCount; kind++ {
		for index, res := range g.compiled.resources[kind] {
			if res.imported {
				continue
			}
			creates, releases := 0, 0
			for _, info := range g.compiled.passes {
				for _, r := range info.resourceCreateList[kind] {
					if r == index {
						creates++
					}
				}
				for _, r := range info.resourceReleaseList[kind] {
					if r == index {
						releases++
					}
				}
			}
			assert.Equal(t, creates, releases, "%s %d", kind, index)
			assert.LessOrEqual(t, creates, 1, "%s %d", kind, index)
		}
	}

	assert.True(t, g.compiled.passes[3].culled)
	assert.Empty(t, g.compiled.passes[3].resourceCreateList[ResourceBuffer])
	// depth and normals are last read on the compute queue, they go back to
	// the pool once lighting has waited on ssao
	assert.Empty(t, g.compiled.passes[2].resourceReleaseList[ResourceTexture])
	assert.ElementsMatch(t, []int{depth.Index(), normals.Index(), ao.Index()}, g.compiled.passes[4].resourceReleaseList[ResourceTexture])
	assert.Equal(t, []int{lights.Index()}, g.compiled.passes[4].resourceReleaseList[ResourceBuffer])
	assert.Empty(t, backend.Violations())
}

func TestSyncMinimality(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	ao := g.CreateTexture(colorDesc("ao"))
	addTestPass(g, "ssao", func(b *PassBuilder[passData]) {
		b.EnableAsyncCompute(true)
		b.WriteTexture(ao)
	})
	addTestPass(g, "blur-h", func(b *PassBuilder[passData]) {
		b.ReadTexture(ao)
		b.WriteTexture(backbuffer)
	})
	addTestPass(g, "blur-v", func(b *PassBuilder[passData]) {
		b.ReadTexture(ao)
		b.WriteTexture(backbuffer)
	})
	execute(t, g)

	assert.Equal(t, 0, g.compiled.passes[1].syncToPassIndex)
	assert.Equal(t, -1, g.compiled.passes[2].syncToPassIndex)
	assert.Len(t, backend.EventsOf(headless.EventWaitFence), 1)
	assert.Empty(t, backend.Violations())
}

func TestAsyncPassMustRejoinGraphics(t *testing.T) {
	g, _ := newTestGraph(t)

	tex := g.CreateTexture(colorDesc("T"))
	result := g.CreateBuffer(bufferDesc("U"))
	addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(tex)
	})
	data := addTestPass(g, "P2", func(b *PassBuilder[passData]) {
		b.EnableAsyncCompute(true)
		b.EnablePassCulling(false)
		b.ReadTexture(tex)
		b.WriteBuffer(result)
	})

	err := g.Execute(context.Background())
	require.ErrorIs(t, err, core.ErrFrameFailed)
	require.ErrorIs(t, err, core.ErrAsyncPassNotSynchronized)
	assert.Equal(t, 0, data.calls)
}

func TestAsyncComputeDisabledByConfig(t *testing.T) {
	g, backend := newTestGraph(t, withConfig(func(c *Config) { c.AllowAsyncCompute = false }))
	backbuffer := importBackbuffer(t, g, backend)

	tex := g.CreateTexture(colorDesc("T"))
	addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.EnableAsyncCompute(true)
		b.WriteTexture(tex)
	})
	addTestPass(g, "P2", func(b *PassBuilder[passData]) {
		b.ReadTexture(tex)
		b.WriteTexture(backbuffer)
	})
	execute(t, g)

	assert.False(t, g.compiled.passes[0].enableAsyncCompute)
	assert.Equal(t, 0, g.Stats().Fences)
	assert.Len(t, backend.Submissions(), 1)
}

func TestTemporaryResources(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	var scratch BufferHandle
	addTestPass(g, "blur", func(b *PassBuilder[passData]) {
		scratch = b.CreateTemporaryBuffer(bufferDesc("scratch"))
		b.WriteBuffer(scratch)
		b.WriteTexture(backbuffer)
		b.SetExecuteFunc(func(_ *passData, rc *RenderContext) error {
			buf, err := rc.Buffer(scratch)
			if err != nil {
				return err
			}
			rc.Cmd.CopyBuffer(buf, buf)
			return nil
		})
	})
	execute(t, g)

	info := g.compiled.passes[0]
	assert.Equal(t, []int{scratch.Index()}, info.resourceCreateList[ResourceBuffer])
	assert.Equal(t, []int{scratch.Index()}, info.resourceReleaseList[ResourceBuffer])
	assert.Len(t, backend.EventsOf(headless.EventCopyBuffer), 1)
}

func TestTemporaryWriteDoesNotKeepPassAlive(t *testing.T) {
	g, _ := newTestGraph(t)

	out := g.CreateTexture(colorDesc("out"))
	addTestPass(g, "blur", func(b *PassBuilder[passData]) {
		tmp := b.CreateTemporaryTexture(colorDesc("tmp"))
		b.WriteTexture(tmp)
		b.WriteTexture(out)
	})
	execute(t, g)

	assert.True(t, g.compiled.passes[0].culled)
}

func TestTemporaryResourceUsedByAnotherPass(t *testing.T) {
	g, _ := newTestGraph(t)

	var tmp TextureHandle
	addTestPass(g, "owner", func(b *PassBuilder[passData]) {
		tmp = b.CreateTemporaryTexture(colorDesc("tmp"))
	})
	addTestPass(g, "thief", func(b *PassBuilder[passData]) {
		b.ReadTexture(tmp)
	})

	err := g.Execute(context.Background())
	require.ErrorIs(t, err, core.ErrInvalidPassSetup)
}

func TestReadBeforeWrite(t *testing.T) {
	g, _ := newTestGraph(t)

	tex := g.CreateTexture(colorDesc("never-written"))
	var resolveErr error
	addTestPass(g, "reader", func(b *PassBuilder[passData]) {
		b.EnablePassCulling(false)
		b.ReadTexture(tex)
		b.SetExecuteFunc(func(_ *passData, rc *RenderContext) error {
			_, resolveErr = rc.Texture(tex)
			return nil
		})
	})
	execute(t, g)

	assert.Empty(t, g.compiled.passes[0].resourceCreateList[ResourceTexture])
	assert.Empty(t, g.compiled.passes[0].resourceReleaseList[ResourceTexture])
	assert.ErrorIs(t, resolveErr, core.ErrResourceNotCreated)
}
