package core

import "sync"

const AVG_COUNT uint8 = 30

// FrameSample is what the frame loop reports once per frame.
type FrameSample struct {
	FrameSeconds   float64
	CompileSeconds float64
	ExecuteSeconds float64
	Passes         int
	CulledPasses   int
	Fences         int
	Failed         bool
}

type Metrics struct {
	mu sync.Mutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	compileTimes       [AVG_COUNT]float64
	msAvg              float64
	compileAvg         float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	totalFrames  uint64
	failedFrames uint64
	lastSample   FrameSample
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Update(sample FrameSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := sample.FrameSeconds * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	m.compileTimes[m.frameAVGCounter] = sample.CompileSeconds * 1000.0
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		m.compileAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
			m.compileAvg += m.compileTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
		m.compileAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
	m.totalFrames++
	if sample.Failed {
		m.failedFrames++
	}
	m.lastSample = sample
}

func (m *Metrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

// FrameTime is the average frame time in ms over the last AVG_COUNT frames.
func (m *Metrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

// CompileTime is the average graph compile time in ms over the last AVG_COUNT frames.
func (m *Metrics) CompileTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compileAvg
}

func (m *Metrics) Frames() (total, failed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalFrames, m.failedFrames
}

func (m *Metrics) Last() FrameSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSample
}
