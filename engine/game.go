package engine

import (
	"github.com/spaghettifunk/anima-rdg/engine/renderer"
	"github.com/spaghettifunk/anima-rdg/engine/renderer/framegraph"
)

// Game is the set of hooks the engine drives every frame. Only FnRender is
// required.
type Game struct {
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// Initialize receives the backend so the game can create the objects it
// imports into the graph every frame (backbuffers, persistent buffers).
type Initialize func(backend renderer.RendererBackend) error
type Update func(deltaTime float64) error

// Render authors the passes of one frame. The engine executes the graph
// once Render returns.
type Render func(graph *framegraph.RenderGraph, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
