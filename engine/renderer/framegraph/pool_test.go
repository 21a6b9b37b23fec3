package framegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcePool(t *testing.T) {
	var destroyed []string
	p := newResourcePool(func(s string) { destroyed = append(destroyed, s) })

	_, ok := p.tryGet(1)
	require.False(t, ok)

	p.release(1, "a", 1)
	p.release(1, "b", 2)
	p.release(2, "c", 2)
	assert.Equal(t, 3, p.size)

	obj, ok := p.tryGet(1)
	require.True(t, ok)
	assert.Equal(t, "b", obj)
	assert.Equal(t, 2, p.size)

	p.release(1, "b", 5)
	assert.Equal(t, 2, p.purgeUnused(5, 2))
	assert.ElementsMatch(t, []string{"a", "c"}, destroyed)

	obj, ok = p.tryGet(1)
	require.True(t, ok)
	assert.Equal(t, "b", obj)

	p.release(3, "d", 6)
	assert.Equal(t, 1, p.cleanup())
	assert.Equal(t, 0, p.size)
}

func TestTempSliceKeyedByTypeAndLength(t *testing.T) {
	op := newObjectPool()

	a := TempSlice[int](op, 4)
	b := TempSlice[int](op, 8)
	c := TempSlice[float32](op, 4)
	assert.Len(t, a, 4)
	assert.Len(t, b, 8)
	assert.Len(t, c, 4)
	assert.Equal(t, 3, op.Allocations())

	op.releaseScratch()
	d := TempSlice[int](op, 8)
	assert.Same(t, &b[0], &d[0])
	assert.Equal(t, 3, op.Allocations())
}
