package core

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAverages(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(FrameSample{FrameSeconds: 0.010, CompileSeconds: 0.001, Passes: 7, CulledPasses: 1})
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)
	assert.InDelta(t, 1.0, m.CompileTime(), 1e-9)

	total, failed := m.Frames()
	assert.Equal(t, uint64(AVG_COUNT), total)
	assert.Zero(t, failed)
	assert.Equal(t, 7, m.Last().Passes)
}

func TestMetricsFPSAndFailures(t *testing.T) {
	m := NewMetrics()
	// 101 frames of 10ms cross the one second mark once
	for i := 0; i < 101; i++ {
		m.Update(FrameSample{FrameSeconds: 0.010, Failed: i%10 == 0})
	}
	assert.InDelta(t, 100.0, m.FPS(), 1)

	total, failed := m.Frames()
	assert.Equal(t, uint64(101), total)
	assert.Equal(t, uint64(11), failed)
	assert.True(t, m.Last().Failed)
}

func TestIdentifiersReuseReleasedSlots(t *testing.T) {
	ids := NewIdentifiers(4)
	a, b, c := "a", "b", "c"

	assert.Equal(t, uint32(0), ids.Acquire(&a))
	assert.Equal(t, uint32(1), ids.Acquire(&b))
	require.NoError(t, ids.Release(0))
	assert.Equal(t, uint32(0), ids.Acquire(&c))
	assert.Equal(t, &c, ids.Owner(0))
	assert.Equal(t, 2, ids.Live())

	assert.Error(t, ids.Release(5))
	require.NoError(t, ids.Release(1))
	assert.Error(t, ids.Release(1), "double release")
	assert.Nil(t, ids.Owner(1))
	assert.Nil(t, ids.Owner(42))
}

func TestSetLogLevel(t *testing.T) {
	var out bytes.Buffer
	SetLogOutput(&out)
	t.Cleanup(func() {
		_ = SetLogLevel("info")
	})

	require.NoError(t, SetLogLevel("warn"))
	LogInfo("hidden")
	LogWarn("shown %d", 42)
	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown 42")

	assert.Error(t, SetLogLevel("loud"))
}

func TestClock(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed(), "a clock that never started does not advance")

	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Update()
	assert.GreaterOrEqual(t, c.Elapsed(), 5*time.Millisecond)
	assert.InDelta(t, c.Elapsed().Seconds(), c.Seconds(), 1e-9)

	c.Stop()
	elapsed := c.Elapsed()
	time.Sleep(time.Millisecond)
	c.Update()
	assert.Equal(t, elapsed, c.Elapsed())
}
