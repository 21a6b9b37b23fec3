package framegraph

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

type gbufferData struct {
	albedo TextureHandle
	normal TextureHandle
	depth  TextureHandle
}

func TestRasterPassRecordsRenderPass(t *testing.T) {
	g, backend := newTestGraph(t)

	b, data := AddRasterPass[gbufferData](g, "gbuffer")
	data.albedo = b.SetColorAttachment(0, g.CreateTexture(colorDesc("albedo")), metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessWrite)
	data.normal = b.SetColorAttachment(1, g.CreateTexture(colorDesc("normal")), metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessWrite)
	data.depth = b.SetDepthAttachment(g.CreateTexture(depthDesc("depth")), metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessReadWrite)
	b.EnablePassCulling(false)
	b.SetExecuteFunc(func(d *gbufferData, rc *RenderContext) error {
		albedo, err := rc.Texture(d.albedo)
		if err != nil {
			return err
		}
		if albedo.Desc().Width != 64 {
			return errors.New("unexpected albedo extent")
		}
		rc.Cmd.Draw(3, 1)
		return nil
	})
	b.Dispose()
	execute(t, g)

	var kinds []headless.EventKind
	for _, e := range backend.Events() {
		switch e.Kind {
		case headless.EventBeginRenderPass, headless.EventDraw, headless.EventEndRenderPass, headless.EventPushLabel, headless.EventPopLabel:
			kinds = append(kinds, e.Kind)
		}
	}
	assert.Equal(t, []headless.EventKind{
		headless.EventPushLabel,
		headless.EventBeginRenderPass,
		headless.EventDraw,
		headless.EventEndRenderPass,
		headless.EventPopLabel,
	}, kinds)

	begin := backend.EventsOf(headless.EventBeginRenderPass)
	require.Len(t, begin, 1)
	assert.Equal(t, "gbuffer", begin[0].Object)
	assert.Equal(t, [3]uint32{2, 64, 64}, begin[0].Args)
	assert.Empty(t, backend.Violations())
}

func TestDepthOnlyRasterPass(t *testing.T) {
	g, backend := newTestGraph(t)

	b, _ := AddRasterPass[gbufferData](g, "shadow")
	b.SetDepthAttachment(g.CreateTexture(metadata.TextureDesc{Name: "shadowmap", Width: 128, Height: 32, Format: metadata.TextureFormatD32Float}),
		metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessWrite)
	b.EnablePassCulling(false)
	b.SetExecuteFunc(func(_ *gbufferData, rc *RenderContext) error { return nil })
	b.Dispose()
	execute(t, g)

	begin := backend.EventsOf(headless.EventBeginRenderPass)
	require.Len(t, begin, 1)
	assert.Equal(t, [3]uint32{0, 128, 32}, begin[0].Args)
}

func TestExecuteValidation(t *testing.T) {
	tests := []struct {
		name    string
		author  func(g *RenderGraph)
		wantErr error
	}{
		{
			name: "missing execute function",
			author: func(g *RenderGraph) {
				b, _ := AddComputePass[passData](g, "lazy")
				b.EnablePassCulling(false)
				b.Dispose()
			},
			wantErr: core.ErrMissingExecuteFunc,
		},
		{
			name: "gap in colour attachments",
			author: func(g *RenderGraph) {
				b, _ := AddRasterPass[passData](g, "gappy")
				b.SetColorAttachment(0, g.CreateTexture(colorDesc("a")), metadata.LoadActionDontCare, metadata.StoreActionStore, metadata.AccessWrite)
				b.SetColorAttachment(2, g.CreateTexture(colorDesc("c")), metadata.LoadActionDontCare, metadata.StoreActionStore, metadata.AccessWrite)
				b.EnablePassCulling(false)
				b.SetExecuteFunc(func(*passData, *RenderContext) error { return nil })
				b.Dispose()
			},
			wantErr: core.ErrInvalidAttachments,
		},
		{
			name: "raster pass without attachments",
			author: func(g *RenderGraph) {
				b, _ := AddRasterPass[passData](g, "empty")
				b.EnablePassCulling(false)
				b.SetExecuteFunc(func(*passData, *RenderContext) error { return nil })
				b.Dispose()
			},
			wantErr: core.ErrMissingDepthAttachment,
		},
		{
			name: "builder not disposed",
			author: func(g *RenderGraph) {
				b, _ := AddComputePass[passData](g, "open")
				b.SetExecuteFunc(func(*passData, *RenderContext) error { return nil })
			},
			wantErr: core.ErrPassNotDisposed,
		},
		{
			name: "colour attachment on compute pass",
			author: func(g *RenderGraph) {
				b, _ := AddComputePass[passData](g, "compute")
				b.SetColorAttachment(0, g.CreateTexture(colorDesc("a")), metadata.LoadActionDontCare, metadata.StoreActionStore, metadata.AccessWrite)
				b.Dispose()
			},
			wantErr: core.ErrInvalidPassSetup,
		},
		{
			name: "depth attachment on transfer pass",
			author: func(g *RenderGraph) {
				b, _ := AddTransferPass[passData](g, "copy")
				b.SetDepthAttachment(g.CreateTexture(depthDesc("d")), metadata.LoadActionDontCare, metadata.StoreActionStore, metadata.AccessWrite)
				b.Dispose()
			},
			wantErr: core.ErrInvalidPassSetup,
		},
		{
			name: "colour slot out of range",
			author: func(g *RenderGraph) {
				b, _ := AddRasterPass[passData](g, "wide")
				b.SetColorAttachment(MaxColorAttachments, g.CreateTexture(colorDesc("a")), metadata.LoadActionDontCare, metadata.StoreActionStore, metadata.AccessWrite)
				b.Dispose()
			},
			wantErr: core.ErrInvalidAttachments,
		},
		{
			name: "async raster pass",
			author: func(g *RenderGraph) {
				b, _ := AddRasterPass[passData](g, "async")
				b.EnableAsyncCompute(true)
				b.Dispose()
			},
			wantErr: core.ErrInvalidPassSetup,
		},
		{
			name: "builder used after dispose",
			author: func(g *RenderGraph) {
				b, _ := AddRayTracingPass[passData](g, "rt")
				b.Dispose()
				b.WriteTexture(g.CreateTexture(colorDesc("late")))
			},
			wantErr: core.ErrInvalidPassSetup,
		},
		{
			name: "zero handle",
			author: func(g *RenderGraph) {
				b, _ := AddComputePass[passData](g, "zero")
				b.ReadBuffer(BufferHandle{})
				b.Dispose()
			},
			wantErr: core.ErrInvalidHandle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, backend := newTestGraph(t)
			tt.author(g)

			err := g.Execute(context.Background())
			require.ErrorIs(t, err, core.ErrFrameFailed)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, g.Stats().Failed)
			// nothing reaches the backend for a misconfigured frame
			assert.Empty(t, backend.EventsOf(headless.EventBeginCommandBuffer))

			// the graph recovers on the next frame
			execute(t, g)
		})
	}
}

func TestCulledPassWithoutExecuteFunc(t *testing.T) {
	g, _ := newTestGraph(t)

	b, _ := AddComputePass[passData](g, "culled")
	b.WriteTexture(g.CreateTexture(colorDesc("t")))
	b.Dispose()

	execute(t, g)
}

func TestStaleHandle(t *testing.T) {
	g, _ := newTestGraph(t)

	old := g.CreateTexture(colorDesc("old"))
	execute(t, g)

	g.BeginFrame()
	g.CreateTexture(colorDesc("new"))
	addTestPass(g, "reader", func(b *PassBuilder[passData]) {
		b.ReadTexture(old)
	})
	err := g.Execute(context.Background())
	require.ErrorIs(t, err, core.ErrStaleHandle)
}

func TestBuilderFromEarlierFrameIsRejected(t *testing.T) {
	g, backend := newTestGraph(t)

	old, _ := AddComputePass[passData](g, "old")
	old.Dispose()
	execute(t, g)

	g.BeginFrame()
	backbuffer := importBackbuffer(t, g, backend)
	current, data := AddComputePass[passData](g, "current")
	require.Same(t, old.pass, current.pass, "the pass slot is reused")

	old.WriteTexture(backbuffer)
	old.EnablePassCulling(false)
	old.Dispose()
	assert.Empty(t, current.pass.writes[ResourceTexture])
	assert.True(t, current.pass.enablePassCulling)
	assert.False(t, current.pass.disposed)
	assert.Equal(t, 1, g.openBuilders)

	current.Dispose()
	err := g.Execute(context.Background())
	require.ErrorIs(t, err, core.ErrFrameFailed)
	require.ErrorIs(t, err, core.ErrStaleHandle)
	assert.Equal(t, 0, data.calls)
}

func TestStaleHandleNotDetectedWithoutValidation(t *testing.T) {
	g, _ := newTestGraph(t, withConfig(func(c *Config) { c.ValidateHandles = false }))

	old := g.CreateTexture(colorDesc("old"))
	execute(t, g)

	g.BeginFrame()
	g.CreateTexture(colorDesc("new"))
	addTestPass(g, "reader", func(b *PassBuilder[passData]) {
		b.ReadTexture(old)
	})
	execute(t, g)
}

func TestUndeclaredHandleInCallback(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	hidden := g.CreateTexture(colorDesc("hidden"))
	var resolveErr error
	addTestPass(g, "sneaky", func(b *PassBuilder[passData]) {
		b.WriteTexture(backbuffer)
		b.SetExecuteFunc(func(_ *passData, rc *RenderContext) error {
			_, resolveErr = rc.Texture(hidden)
			return nil
		})
	})
	execute(t, g)

	assert.ErrorIs(t, resolveErr, core.ErrInvalidHandle)
}

func TestCallbackErrorTearsDown(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)
	boom := errors.New("boom")

	tex := g.CreateTexture(colorDesc("T"))
	addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(tex)
	})
	addTestPass(g, "P2", func(b *PassBuilder[passData]) {
		b.ReadTexture(tex)
		b.WriteTexture(backbuffer)
		b.SetExecuteFunc(func(*passData, *RenderContext) error { return boom })
	})

	err := g.Execute(context.Background())
	require.ErrorIs(t, err, core.ErrFrameFailed)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "P2")

	// T was created but never reached its release point
	assert.Equal(t, 1, g.Stats().Pooled)
	assert.Equal(t, 0, g.registry.count(ResourceTexture))

	// handles are per frame, the backbuffer is imported again
	g.BeginFrame()
	backbuffer = importBackbuffer(t, g, backend)
	tex = g.CreateTexture(colorDesc("T"))
	addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(tex)
	})
	addTestPass(g, "P2", func(b *PassBuilder[passData]) {
		b.ReadTexture(tex)
		b.WriteTexture(backbuffer)
	})
	execute(t, g)
	assert.Equal(t, 1, g.Stats().PoolHits)
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	addTestPass(g, "explode", func(b *PassBuilder[passData]) {
		b.WriteTexture(backbuffer)
		b.SetExecuteFunc(func(*passData, *RenderContext) error {
			panic("kaboom")
		})
	})

	err := g.Execute(context.Background())
	require.ErrorIs(t, err, core.ErrPassPanicked)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 0, g.passCount)
}

func TestFailedFrameDiscardsCommandBuffers(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)
	boom := errors.New("boom")

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
	b, _ := AddRasterPass[passData](g, "P3")
	b.ReadTexture(result)
	b.SetColorAttachment(0, backbuffer, metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessWrite)
	b.SetExecuteFunc(func(_ *passData, rc *RenderContext) error {
		rc.Cmd.Draw(3, 1)
		return boom
	})
	b.Dispose()

	err := g.Execute(context.Background())
	require.ErrorIs(t, err, boom)

	assert.Empty(t, backend.Open())
	assert.Empty(t, backend.Violations())
	assert.Len(t, backend.EventsOf(headless.EventEndRenderPass), 1)
	discarded := backend.EventsOf(headless.EventDiscard)
	require.Len(t, discarded, 1)
	assert.Contains(t, discarded[0].CommandBuffer, "frame-1-after-P2")
	assert.Len(t, backend.Submissions(), 2)

	g.BeginFrame()
	authorSimpleFrame(t, g, importBackbuffer(t, g, backend))
	execute(t, g)
	assert.Empty(t, backend.Open())
	assert.Empty(t, backend.Violations())
}

func TestCancelledContext(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	data := addTestPass(g, "present", func(b *PassBuilder[passData]) {
		b.WriteTexture(backbuffer)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Execute(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, core.ErrFrameFailed)
	assert.Equal(t, 0, data.calls)
	assert.Empty(t, backend.Open())
	assert.Len(t, backend.EventsOf(headless.EventDiscard), 1)
}

func TestBackendCreateFailure(t *testing.T) {
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
	backend.FailNextCreates(1)

	err := g.Execute(context.Background())
	require.ErrorIs(t, err, core.ErrFrameFailed)
	assert.Contains(t, err.Error(), "out of device memory")
	assert.Empty(t, backend.Open())
}

func TestPoolReuseWithinFrame(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	first := g.CreateTexture(colorDesc("first"))
	second := g.CreateTexture(colorDesc("second"))
	var physical [2]string
	addTestPass(g, "write-first", func(b *PassBuilder[passData]) {
		b.WriteTexture(first)
	})
	addTestPass(g, "read-first", func(b *PassBuilder[passData]) {
		b.ReadTexture(first)
		b.WriteTexture(backbuffer)
		b.SetExecuteFunc(func(_ *passData, rc *RenderContext) error {
			tex, err := rc.Texture(first)
			if err != nil {
				return err
			}
			physical[0] = tex.DebugName()
			return nil
		})
	})
	addTestPass(g, "write-second", func(b *PassBuilder[passData]) {
		b.WriteTexture(second)
	})
	addTestPass(g, "read-second", func(b *PassBuilder[passData]) {
		b.ReadTexture(second)
		b.WriteTexture(backbuffer)
		b.SetExecuteFunc(func(_ *passData, rc *RenderContext) error {
			tex, err := rc.Texture(second)
			if err != nil {
				return err
			}
			physical[1] = tex.DebugName()
			return nil
		})
	})
	execute(t, g)

	stats := g.Stats()
	assert.Equal(t, 1, stats.ResourcesCreated)
	assert.Equal(t, 1, stats.PoolHits)
	assert.NotEmpty(t, physical[0])
	assert.Equal(t, physical[0], physical[1])
}

func authorSimpleFrame(t *testing.T, g *RenderGraph, backbuffer TextureHandle) {
	t.Helper()
	tex := g.CreateTexture(colorDesc("T"))
	addTestPass(g, "P1", func(b *PassBuilder[passData]) {
		b.WriteTexture(tex)
	})
	addTestPass(g, "P2", func(b *PassBuilder[passData]) {
		b.ReadTexture(tex)
		b.WriteTexture(backbuffer)
	})
}

func TestPoolReuseAcrossFrames(t *testing.T) {
	g, backend := newTestGraph(t)
	tex, err := backend.CreateTexture(colorDesc("backbuffer").Normalized())
	require.NoError(t, err)
	defer backend.DestroyTexture(tex)

	for frame := 0; frame < 3; frame++ {
		g.BeginFrame()
		authorSimpleFrame(t, g, g.ImportTexture("backbuffer", tex))
		execute(t, g)
	}

	stats := g.Stats()
	assert.Equal(t, 0, stats.ResourcesCreated)
	assert.Equal(t, 1, stats.PoolHits)
	created, _ := backend.Allocations()
	assert.Equal(t, 2, created)
}

func TestPoolPurgesIdleObjects(t *testing.T) {
	g, backend := newTestGraph(t, withConfig(func(c *Config) { c.PoolMaxIdleFrames = 1 }))
	tex, err := backend.CreateTexture(colorDesc("backbuffer").Normalized())
	require.NoError(t, err)
	defer backend.DestroyTexture(tex)

	authorSimpleFrame(t, g, g.ImportTexture("backbuffer", tex))
	execute(t, g)
	assert.Equal(t, 1, g.Stats().Pooled)

	g.BeginFrame()
	execute(t, g)
	assert.Equal(t, 1, g.Stats().Pooled)

	g.BeginFrame()
	execute(t, g)
	assert.Equal(t, 0, g.Stats().Pooled)
	assert.Equal(t, 1, g.Stats().Purged)

	_, destroyed := backend.Allocations()
	assert.Equal(t, 1, destroyed)
}

func TestCleanupDestroysPooledObjects(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	authorSimpleFrame(t, g, backbuffer)
	execute(t, g)
	textures, _ := backend.Live()
	assert.Equal(t, 2, textures)

	g.Cleanup()
	textures, _ = backend.Live()
	assert.Equal(t, 1, textures, "only the imported backbuffer is left")
}

func TestSteadyStateDoesNotAllocate(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer, err := backend.CreateTexture(colorDesc("backbuffer").Normalized())
	require.NoError(t, err)
	defer backend.DestroyTexture(backbuffer)

	var scratch []*uint32
	frame := func() {
		g.BeginFrame()
		bb := g.ImportTexture("backbuffer", backbuffer)
		addTestPass(g, "cull-lights", func(b *PassBuilder[passData]) {
			b.WriteTexture(bb)
			b.SetExecuteFunc(func(_ *passData, rc *RenderContext) error {
				indices := TempSlice[uint32](rc.Pool, 64)
				for _, v := range indices {
					if v != 0 {
						return errors.New("scratch slice not cleared")
					}
				}
				indices[3] = 7
				scratch = append(scratch, &indices[0])
				return nil
			})
		})
		execute(t, g)
	}

	frame()
	allocations := g.ObjectPool().Allocations()
	frame()
	frame()

	assert.Equal(t, allocations, g.ObjectPool().Allocations())
	require.Len(t, scratch, 3)
	assert.Same(t, scratch[0], scratch[2])
}

func TestPassDataIsRecycled(t *testing.T) {
	g, _ := newTestGraph(t)

	b, first := AddComputePass[passData](g, "first")
	first.calls = 42
	b.Dispose()
	execute(t, g)

	g.BeginFrame()
	b, second := AddComputePass[passData](g, "second")
	b.Dispose()

	assert.Same(t, first, second)
	assert.Equal(t, 0, second.calls)
	execute(t, g)
}

func TestDumpDescribesCompiledFrame(t *testing.T) {
	g, backend := newTestGraph(t, withConfig(func(c *Config) { c.LogFrameInformation = true }))
	backbuffer := importBackbuffer(t, g, backend)

	authorSimpleFrame(t, g, backbuffer)
	addTestPass(g, "orphan", nil)
	execute(t, g)

	var buf bytes.Buffer
	require.NoError(t, g.Dump(&buf))
	report := buf.String()
	assert.Contains(t, report, "'P1' active on graphics")
	assert.Contains(t, report, "create textures: T")
	assert.Contains(t, report, "release textures: T")
	assert.Contains(t, report, "'orphan' culled")
}

func TestLabelsBalanced(t *testing.T) {
	g, backend := newTestGraph(t)
	backbuffer := importBackbuffer(t, g, backend)

	authorSimpleFrame(t, g, backbuffer)
	execute(t, g)

	pushes := backend.EventsOf(headless.EventPushLabel)
	require.Len(t, pushes, 2)
	assert.Equal(t, "P1", pushes[0].Object)
	assert.Equal(t, "P2", pushes[1].Object)
	assert.Len(t, backend.EventsOf(headless.EventPopLabel), 2)
}
