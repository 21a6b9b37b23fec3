package renderer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRendererType(t *testing.T) {
	rt, err := ParseRendererType("Vulkan")
	require.NoError(t, err)
	assert.Equal(t, Vulkan, rt)

	rt, err = ParseRendererType("")
	require.NoError(t, err)
	assert.Equal(t, Headless, rt)

	_, err = ParseRendererType("metal")
	assert.Error(t, err)
}
