package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-splat/common"
)

// Stats is one profiler report covering the frames of an update interval.
type Stats struct {
	FPS          float64
	FrameTimeMin time.Duration
	FrameTimeMax time.Duration
	HeapMB       float64
	AllocRateMB  float64
	GCCount      uint32
	GCLastPause  time.Duration
	GCMaxPause   time.Duration
	SysMB        float64
	Splats       int
}

// Profiler tracks frame rate, frame time spread and memory statistics.
// Outputs stats to the common logger at a configurable interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	lastFrame      time.Time
	minFrame       time.Duration
	maxFrame       time.Duration
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	splats         int
	last           Stats
	now            func() time.Time
}

// ProfilerOption is a functional option for configuring a Profiler.
type ProfilerOption func(p *Profiler)

// WithInterval sets how often stats are reported. Values <= 0 keep the 1 second default.
//
// Parameters:
//   - interval: the report interval
//
// Returns:
//   - ProfilerOption: option function to apply
func WithInterval(interval time.Duration) ProfilerOption {
	return func(p *Profiler) {
		if interval > 0 {
			p.updateInterval = interval
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) ProfilerOption {
	return func(p *Profiler) {
		p.now = now
	}
}

// NewProfiler creates a new Profiler. Update interval defaults to 1 second.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerOption) *Profiler {
	p := &Profiler{
		updateInterval: time.Second,
		now:            time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// SetSplatCount records the number of splats in the rendered cloud for the next report.
func (p *Profiler) SetSplatCount(n int) {
	p.splats = n
}

// Last returns the most recent report.
func (p *Profiler) Last() Stats {
	return p.last
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	currentTime := p.now()
	p.frameCount++
	if !p.lastFrame.IsZero() {
		ft := currentTime.Sub(p.lastFrame)
		if p.minFrame == 0 || ft < p.minFrame {
			p.minFrame = ft
		}
		p.maxFrame = max(p.maxFrame, ft)
	}
	p.lastFrame = currentTime

	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	runtime.ReadMemStats(&p.memStats)
	s := Stats{
		FPS:          float64(p.frameCount) / elapsed.Seconds(),
		FrameTimeMin: p.minFrame,
		FrameTimeMax: p.maxFrame,
		HeapMB:       float64(p.memStats.Alloc) / 1024 / 1024,
		AllocRateMB:  float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds(),
		GCCount:      p.memStats.NumGC,
		SysMB:        float64(p.memStats.Sys) / 1024 / 1024,
		Splats:       p.splats,
	}
	if gcCount := p.memStats.NumGC; gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 pauses
		s.GCLastPause = time.Duration(p.memStats.PauseNs[(gcCount-1)%256])
		start := p.lastGCCount
		if gcCount-start > 256 {
			start = gcCount - 256
		}
		for i := start; i < gcCount; i++ {
			s.GCMaxPause = max(s.GCMaxPause, time.Duration(p.memStats.PauseNs[i%256]))
		}
	}

	common.Logger().Info("[Profiler]",
		"fps", s.FPS,
		"frame_min", s.FrameTimeMin,
		"frame_max", s.FrameTimeMax,
		"splats", s.Splats,
		"heap_mb", s.HeapMB,
		"alloc_mb_s", s.AllocRateMB,
		"gc", s.GCCount,
		"gc_last", s.GCLastPause,
		"gc_max", s.GCMaxPause,
		"sys_mb", s.SysMB)

	p.last = s
	p.frameCount = 0
	p.minFrame, p.maxFrame = 0, 0
	p.lastTime = currentTime
	p.lastGCCount = s.GCCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
