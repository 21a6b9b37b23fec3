package framegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoperLookup(t *testing.T) {
	g, _ := newTestGraph(t)
	s := g.Scoper()

	depth := g.CreateTexture(depthDesc("depth"))
	s.SetTexture("depth", depth)
	require.Equal(t, "frame", s.Scope())

	s.PushScope("shadows")
	shadowDepth := g.CreateTexture(depthDesc("shadow-depth"))
	s.SetTexture("depth", shadowDepth)
	lights := g.CreateBuffer(bufferDesc("lights"))
	s.SetBuffer("lights", lights)

	h, ok := s.Texture("depth")
	require.True(t, ok)
	assert.Equal(t, shadowDepth, h, "innermost scope wins")
	assert.Equal(t, "shadows", s.Scope())

	s.PopScope()
	h, ok = s.Texture("depth")
	require.True(t, ok)
	assert.Equal(t, depth, h)
	_, ok = s.Buffer("lights")
	assert.False(t, ok, "popped scope is forgotten")
}

func TestScoperRootCannotBePopped(t *testing.T) {
	s := newScoper()
	s.PopScope()
	assert.Equal(t, "frame", s.Scope())
}

func TestScoperClearedAtFrameEnd(t *testing.T) {
	g, _ := newTestGraph(t)
	s := g.Scoper()

	s.SetBuffer("histogram", g.CreateBuffer(bufferDesc("histogram")))
	s.PushScope("post")
	s.SetTexture("bloom", g.CreateTexture(colorDesc("bloom")))
	execute(t, g)

	assert.Equal(t, "frame", s.Scope())
	_, ok := s.Buffer("histogram")
	assert.False(t, ok)
	_, ok = s.Texture("bloom")
	assert.False(t, ok)
}
