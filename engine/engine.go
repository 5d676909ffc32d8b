package engine

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/profiler"
	"github.com/Carmen-Shannon/oxy-splat/engine/scene"
	"github.com/Carmen-Shannon/oxy-splat/engine/window"
)

// DefaultMaxRenderFailures is the number of consecutive failed frames after which the render
// loop shuts the engine down.
const DefaultMaxRenderFailures = 30

// engine implements the Engine interface.
// Coordinates engine, render, and window threads.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running bool
	wg      sync.WaitGroup

	quitChannel chan struct{}
	quitOnce    sync.Once // Ensures quitChannel is only closed once

	window       window.Window
	windowClosed bool
	baseTitle    string
	input        *input

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)
	renderCallback func(deltaTime float32)

	scenesMu *sync.RWMutex
	scenes   map[int]scene.Scene

	renderFrameLimit  time.Duration // minimum frame duration; 0 = uncapped
	maxRenderFailures int
	renderFailures    int
	captureDir        string
}

// Engine is the main entry point for the viewer.
// It orchestrates the engine loop, render loop, window management and input bindings.
type Engine interface {
	// Window returns the underlying window.
	//
	// Returns:
	//   - window.Window: the window instance, nil when headless
	Window() window.Window

	// EnableProfiler enables performance profiling output to the log.
	EnableProfiler()

	// DisableProfiler disables performance profiling output.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers the function called each engine tick.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// SetRenderCallback registers the function called after each render frame.
	//
	// Parameters:
	//   - callback: function to call each render frame, receiving the delta time in seconds
	SetRenderCallback(callback func(deltaTime float32))

	// SetRenderFrameLimit sets an optional render frame rate cap in frames per second.
	//
	// Parameters:
	//   - fps: maximum render frames per second (0 = uncapped)
	SetRenderFrameLimit(fps float64)

	// AddScene registers a scene at the given key. The active scene with the lowest key is the
	// one rendered and driven by input.
	//
	// Parameters:
	//   - key: the scene key
	//   - s: the Scene to register
	AddScene(key int, s scene.Scene)

	// RemoveScene removes the scene at the given key.
	//
	// Parameters:
	//   - key: the key of the scene to remove
	RemoveScene(key int)

	// Scene retrieves the scene registered at the given key, or nil.
	//
	// Parameters:
	//   - key: the key of the scene to retrieve
	//
	// Returns:
	//   - scene.Scene: the scene at the key, or nil if not found
	Scene(key int) scene.Scene

	// Scenes returns a copy of all registered scenes by key.
	Scenes() map[int]scene.Scene

	// ActiveScene returns the active scene with the lowest key, or nil.
	ActiveScene() scene.Scene

	// RenderFrame renders one frame of the active scene outside the render loop.
	//
	// Parameters:
	//   - deltaTime: elapsed time in seconds
	//
	// Returns:
	//   - error: the scene's render error
	RenderFrame(deltaTime float32) error

	// Run starts the engine loops and blocks until the window closes. Without a window it
	// blocks until Quit.
	Run()

	// Quit signals all engine goroutines to stop.
	// Safe to call multiple times; subsequent calls are no-ops.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options.
// When a window is set, its resize and input callbacks are bound to the active scene.
//
// Parameters:
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel:   make(chan time.Duration, 1),
		quitChannel:       make(chan struct{}),
		scenesMu:          &sync.RWMutex{},
		scenes:            make(map[int]scene.Scene),
		wg:                sync.WaitGroup{},
		engineTickRate:    time.Second / 60,
		maxRenderFailures: DefaultMaxRenderFailures,
		captureDir:        ".",
	}

	for _, opt := range options {
		opt(e)
	}
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler()
	}

	if e.window != nil {
		e.baseTitle = e.window.Title()
		e.window.SetResizeCallback(func(width, height int) {
			for _, s := range e.Scenes() {
				s.Resize(width, height)
			}
		})
		// Quit requested off the window thread closes the window from its own loop.
		e.window.SetUpdateCallback(func() {
			select {
			case <-e.quitChannel:
				e.wg.Wait()
				e.closeWindow()
			default:
			}
		})
		e.input = newInput(e)
		e.input.bind(e.window)
	}

	return e
}

func (e *engine) Window() window.Window {
	return e.window
}

func (e *engine) Run() {
	e.running = true
	e.handle()
	if e.window != nil {
		e.window.ProcessMessages()
		e.signalQuit()
	}
	e.wg.Wait()
	e.closeWindow()
	e.running = false
}

// closeWindow destroys the window once. Runs on the thread driving ProcessMessages.
func (e *engine) closeWindow() {
	if e.window == nil || e.windowClosed {
		return
	}
	e.windowClosed = true
	if err := e.window.Close(); err != nil {
		common.Logger().Warn("engine: closing window", "error", err)
	}
}

func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

// handle launches the engine and render goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle() {
	e.wg.Add(2)
	go e.handleEngine()
	go e.handleRender()
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Fires the tick callback at the configured tick rate and listens for dynamic rate changes
// via tickRateChannel. Exits when the quit channel is closed.
func (e *engine) handleEngine() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleRender runs the uncapped (or frame-limited) render loop in its own goroutine.
// Recovers from panics and signals quit on recovery.
func (e *engine) handleRender() {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			common.Logger().Error("engine: render goroutine recovered from panic", "panic", r)
			e.signalQuit()
		}
	}()

	lastRender := time.Now()

	for {
		select {
		case <-e.quitChannel:
			return
		default:
		}

		now := time.Now()
		dt := float32(now.Sub(lastRender).Seconds())
		lastRender = now

		if !e.step(dt) {
			e.signalQuit()
			return
		}

		if e.renderFrameLimit > 0 {
			if remaining := e.renderFrameLimit - time.Since(lastRender); remaining > 0 {
				time.Sleep(remaining)
			}
		}
	}
}

// step renders one frame and runs the per-frame hooks. Returns false once the consecutive
// failure limit is reached.
func (e *engine) step(dt float32) bool {
	if err := e.RenderFrame(dt); err != nil {
		e.renderFailures++
		common.Logger().Error("engine: frame failed", "error", err, "consecutive", e.renderFailures)
		if e.maxRenderFailures > 0 && e.renderFailures >= e.maxRenderFailures {
			common.Logger().Error("engine: too many failed frames, shutting down", "limit", e.maxRenderFailures)
			return false
		}
	} else {
		e.renderFailures = 0
	}

	if e.renderCallback != nil {
		e.renderCallback(dt)
	}

	if e.profilingEnabled {
		if s := e.ActiveScene(); s != nil {
			e.profiler.SetSplatCount(s.Cloud().Len())
		}
		if e.profiler.Tick() && e.window != nil {
			stats := e.profiler.Last()
			e.window.SetTitle(fmt.Sprintf("%s | %.0f fps | %d splats", e.baseTitle, stats.FPS, stats.Splats))
		}
	}
	return true
}

func (e *engine) RenderFrame(deltaTime float32) error {
	s := e.ActiveScene()
	if s == nil {
		return nil
	}
	return s.Render(deltaTime)
}

func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	if !e.running {
		e.engineTickRate = newRate
		return
	}
	// Replace a pending update rather than block.
	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

func (e *engine) SetRenderCallback(callback func(deltaTime float32)) {
	e.renderCallback = callback
}

func (e *engine) SetRenderFrameLimit(fps float64) {
	e.renderFrameLimit = frameDuration(fps)
}

func frameDuration(fps float64) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

func (e *engine) AddScene(key int, s scene.Scene) {
	e.scenesMu.Lock()
	defer e.scenesMu.Unlock()
	e.scenes[key] = s
}

func (e *engine) RemoveScene(key int) {
	e.scenesMu.Lock()
	defer e.scenesMu.Unlock()
	delete(e.scenes, key)
}

func (e *engine) Scene(key int) scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	return e.scenes[key]
}

func (e *engine) Scenes() map[int]scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	cp := make(map[int]scene.Scene, len(e.scenes))
	for k, v := range e.scenes {
		cp[k] = v
	}
	return cp
}

func (e *engine) ActiveScene() scene.Scene {
	e.scenesMu.RLock()
	defer e.scenesMu.RUnlock()
	keys := make([]int, 0, len(e.scenes))
	for k := range e.scenes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if s := e.scenes[k]; s.Active() {
			return s
		}
	}
	return nil
}

// errNoScene is returned by input actions with no active scene.
var errNoScene = errors.New("engine: no active scene")
