package testbed

import (
	"fmt"

	"github.com/spaghettifunk/anima-rdg/engine"
	"github.com/spaghettifunk/anima-rdg/engine/core"
	"github.com/spaghettifunk/anima-rdg/engine/math"
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/framegraph"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/metadata"
)

const (
	lightCount       = 256
	maxLightsPerTile = 32
	tileSize         = 16
	ssaoKernelSize   = 16
	// the overlay is authored every frame but only survives culling when
	// culling is disabled
	overlayName = "debug_overlay"
)

// Scoper names shared between passes.
const (
	depthTexture  = "depth"
	albedoTexture = "albedo"
	normalTexture = "normal"
	ssaoTexture   = "ssao"
	hdrTexture    = "hdr"
	tileLights    = "tile_lights"
)

type TestGame struct {
	*engine.Game
	state *gameState
}

type gameState struct {
	backend    renderer.RendererBackend
	width      uint32
	height     uint32
	backbuffer renderer.Texture
	lights     renderer.Buffer

	elapsed float64
	frames  uint64
}

func NewTestGame() *TestGame {
	state := &gameState{}
	tg := &TestGame{
		Game:  &engine.Game{State: state},
		state: state,
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Initialize(backend renderer.RendererBackend) error {
	core.LogInfo("initializing testbed...")
	g.state.backend = backend

	lights, err := backend.CreateBuffer(metadata.BufferDesc{
		Name:   "lights",
		Count:  lightCount,
		Stride: 32,
		Usage:  metadata.BufferUsageStorage | metadata.BufferUsageTransferDst,
	})
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	g.state.lights = lights
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	g.state.elapsed += deltaTime
	g.state.frames++
	return nil
}

// OnResize recreates the backbuffer the graph presents into.
func (g *TestGame) OnResize(width uint32, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: backbuffer extent %dx%d", core.ErrInvalidConfig, width, height)
	}
	if g.state.backbuffer != nil {
		g.state.backend.DestroyTexture(g.state.backbuffer)
		g.state.backbuffer = nil
	}
	backbuffer, err := g.state.backend.CreateTexture(metadata.TextureDesc{
		Name:      "backbuffer",
		Width:     width,
		Height:    height,
		MipLevels: 1,
		Format:    metadata.TextureFormatBGRA8Unorm,
		Usage:     metadata.TextureUsageColorAttachment | metadata.TextureUsageTransferSrc,
	}.Normalized())
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	g.state.backbuffer = backbuffer
	g.state.width = width
	g.state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	if g.state.backbuffer != nil {
		g.state.backend.DestroyTexture(g.state.backbuffer)
		g.state.backbuffer = nil
	}
	if g.state.lights != nil {
		g.state.backend.DestroyBuffer(g.state.lights)
		g.state.lights = nil
	}
	core.LogInfo("testbed ran %d frames in %.2fs", g.state.frames, g.state.elapsed)
	return nil
}

// Render authors a deferred frame. Passes publish their outputs through the
// scoper and later passes look them up by name.
func (g *TestGame) Render(graph *framegraph.RenderGraph, deltaTime float64) error {
	scoper := graph.Scoper()
	backbuffer := graph.ImportTexture("backbuffer", g.state.backbuffer)
	lights := graph.ImportBuffer("lights", g.state.lights)

	g.addDepthPrepass(graph)

	// gbuffer intermediates stay in the deferred scope, only hdr escapes
	scoper.PushScope("deferred")
	g.addGBufferPass(graph)
	g.addSSAOPass(graph)
	g.addLightCullingPass(graph, lights)
	hdr := g.addLightingPass(graph)
	scoper.PopScope()
	scoper.SetTexture(hdrTexture, hdr)

	g.addDebugOverlayPass(graph)
	g.addPresentPass(graph, backbuffer)

	return graph.Err()
}

func (g *TestGame) target(name string, format metadata.TextureFormat) metadata.TextureDesc {
	return metadata.TextureDesc{
		Name:      name,
		Width:     g.state.width,
		Height:    g.state.height,
		MipLevels: 1,
		Format:    format,
	}
}

func (g *TestGame) tiles() (uint32, uint32) {
	return math.DivRoundUp(g.state.width, tileSize), math.DivRoundUp(g.state.height, tileSize)
}

func lookup(graph *framegraph.RenderGraph, name string) framegraph.TextureHandle {
	h, ok := graph.Scoper().Texture(name)
	if !ok {
		core.LogWarn("testbed: no texture published as '%s' in scope '%s'", name, graph.Scoper().Scope())
	}
	return h
}

type depthPrepassData struct {
	depth framegraph.TextureHandle
}

func (g *TestGame) addDepthPrepass(graph *framegraph.RenderGraph) {
	b, data := framegraph.AddRasterPass[depthPrepassData](graph, "depth_prepass")
	defer b.Dispose()

	desc := g.target(depthTexture, metadata.TextureFormatD32Float)
	desc.ClearColour = math.NewVec4(1, 0, 0, 0)
	data.depth = b.SetDepthAttachment(graph.CreateTexture(desc),
		metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessWrite)
	b.SetExecuteFunc(func(d *depthPrepassData, rc *framegraph.RenderContext) error {
		rc.Cmd.Draw(36, 64)
		return nil
	})
	graph.Scoper().SetTexture(depthTexture, data.depth)
}

type gbufferData struct {
	albedo framegraph.TextureHandle
	normal framegraph.TextureHandle
	depth  framegraph.TextureHandle
}

func (g *TestGame) addGBufferPass(graph *framegraph.RenderGraph) {
	b, data := framegraph.AddRasterPass[gbufferData](graph, "gbuffer")
	defer b.Dispose()

	data.albedo = b.SetColorAttachment(0, graph.CreateTexture(g.target(albedoTexture, metadata.TextureFormatRGBA8Srgb)),
		metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessWrite)
	data.normal = b.SetColorAttachment(1, graph.CreateTexture(g.target(normalTexture, metadata.TextureFormatRGBA16Float)),
		metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessWrite)
	data.depth = b.SetDepthAttachment(lookup(graph, depthTexture),
		metadata.LoadActionLoad, metadata.StoreActionStore, metadata.AccessRead)
	b.SetExecuteFunc(func(d *gbufferData, rc *framegraph.RenderContext) error {
		rc.Cmd.Draw(36, 64)
		return nil
	})
	graph.Scoper().SetTexture(albedoTexture, data.albedo)
	graph.Scoper().SetTexture(normalTexture, data.normal)
}

type ssaoData struct {
	depth  framegraph.TextureHandle
	normal framegraph.TextureHandle
	kernel framegraph.BufferHandle
	ssao   framegraph.TextureHandle
}

func (g *TestGame) addSSAOPass(graph *framegraph.RenderGraph) {
	b, data := framegraph.AddComputePass[ssaoData](graph, "ssao")
	defer b.Dispose()

	b.EnableAsyncCompute(true)
	data.depth = b.ReadTexture(lookup(graph, depthTexture))
	data.normal = b.ReadTexture(lookup(graph, normalTexture))
	data.kernel = b.CreateTemporaryBuffer(metadata.BufferDesc{
		Name:   "ssao_kernel",
		Count:  ssaoKernelSize,
		Stride: 16,
	})
	data.ssao = b.WriteTexture(graph.CreateTexture(g.target(ssaoTexture, metadata.TextureFormatR8Unorm)))

	width, height := g.tiles()
	b.SetExecuteFunc(func(d *ssaoData, rc *framegraph.RenderContext) error {
		kernel, err := rc.Buffer(d.kernel)
		if err != nil {
			return err
		}
		samples := framegraph.TempSlice[math.Vec4](rc.Pool, int(kernel.Desc().Count))
		for i := range samples {
			scale := float32(i+1) / float32(len(samples))
			samples[i] = math.NewVec4(scale, scale*0.5, scale*0.25, 0)
		}
		rc.Cmd.Dispatch(width, height, 1)
		return nil
	})
	graph.Scoper().SetTexture(ssaoTexture, data.ssao)
}

type lightCullingData struct {
	depth  framegraph.TextureHandle
	lights framegraph.BufferHandle
	tiles  framegraph.BufferHandle
}

func (g *TestGame) addLightCullingPass(graph *framegraph.RenderGraph, lights framegraph.BufferHandle) {
	b, data := framegraph.AddComputePass[lightCullingData](graph, "light_culling")
	defer b.Dispose()

	tilesX, tilesY := g.tiles()
	data.depth = b.ReadTexture(lookup(graph, depthTexture))
	data.lights = b.ReadBuffer(lights)
	data.tiles = b.WriteBuffer(graph.CreateBuffer(metadata.BufferDesc{
		Name:   tileLights,
		Count:  tilesX * tilesY * maxLightsPerTile,
		Stride: 4,
	}))
	b.SetExecuteFunc(func(d *lightCullingData, rc *framegraph.RenderContext) error {
		rc.Cmd.Dispatch(tilesX, tilesY, 1)
		return nil
	})
	graph.Scoper().SetBuffer(tileLights, data.tiles)
}

type lightingData struct {
	albedo framegraph.TextureHandle
	normal framegraph.TextureHandle
	ssao   framegraph.TextureHandle
	tiles  framegraph.BufferHandle
	hdr    framegraph.TextureHandle
}

func (g *TestGame) addLightingPass(graph *framegraph.RenderGraph) framegraph.TextureHandle {
	b, data := framegraph.AddRasterPass[lightingData](graph, "lighting")
	defer b.Dispose()

	data.albedo = b.ReadTexture(lookup(graph, albedoTexture))
	data.normal = b.ReadTexture(lookup(graph, normalTexture))
	data.ssao = b.ReadTexture(lookup(graph, ssaoTexture))
	tiles, _ := graph.Scoper().Buffer(tileLights)
	data.tiles = b.ReadBuffer(tiles)

	desc := g.target(hdrTexture, metadata.TextureFormatRGBA16Float)
	desc.ClearColour = math.NewVec4(0.05, 0.05, 0.08, 1)
	data.hdr = b.SetColorAttachment(0, graph.CreateTexture(desc),
		metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessWrite)
	b.SetExecuteFunc(func(d *lightingData, rc *framegraph.RenderContext) error {
		// fullscreen triangle
		rc.Cmd.Draw(3, 1)
		return nil
	})
	return data.hdr
}

type overlayData struct {
	hdr     framegraph.TextureHandle
	overlay framegraph.TextureHandle
}

func (g *TestGame) addDebugOverlayPass(graph *framegraph.RenderGraph) {
	b, data := framegraph.AddRasterPass[overlayData](graph, overlayName)
	defer b.Dispose()

	data.hdr = b.ReadTexture(lookup(graph, hdrTexture))
	data.overlay = b.SetColorAttachment(0, graph.CreateTexture(g.target(overlayName, metadata.TextureFormatRGBA8Unorm)),
		metadata.LoadActionClear, metadata.StoreActionStore, metadata.AccessWrite)
	b.SetExecuteFunc(func(d *overlayData, rc *framegraph.RenderContext) error {
		rc.Cmd.Draw(6, 1)
		return nil
	})
}

type presentData struct {
	hdr        framegraph.TextureHandle
	backbuffer framegraph.TextureHandle
}

func (g *TestGame) addPresentPass(graph *framegraph.RenderGraph, backbuffer framegraph.TextureHandle) {
	b, data := framegraph.AddRasterPass[presentData](graph, "present")
	defer b.Dispose()

	data.hdr = b.ReadTexture(lookup(graph, hdrTexture))
	data.backbuffer = b.SetColorAttachment(0, backbuffer,
		metadata.LoadActionDontCare, metadata.StoreActionStore, metadata.AccessWrite)
	b.SetExecuteFunc(func(d *presentData, rc *framegraph.RenderContext) error {
		// tonemap
		rc.Cmd.Draw(3, 1)
		return nil
	})
}
