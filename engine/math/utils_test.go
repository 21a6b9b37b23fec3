package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0, 1, 5))
	assert.Equal(t, 5, Clamp(9, 1, 5))
	assert.Equal(t, float32(2.5), Clamp(float32(2.5), 1, 5))
}

func TestDivRoundUp(t *testing.T) {
	assert.Equal(t, uint32(2), DivRoundUp(uint32(9), 8))
	assert.Equal(t, uint32(1), DivRoundUp(uint32(8), 8))
	assert.Equal(t, uint32(0), DivRoundUp(uint32(8), 0))
}

func TestMipCount(t *testing.T) {
	tests := []struct {
		w, h uint32
		want uint32
	}{
		{1, 1, 1},
		{2, 1, 2},
		{256, 256, 9},
		{1920, 1080, 11},
		{0, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MipCount(tt.w, tt.h), "%dx%d", tt.w, tt.h)
	}
}
