package engine

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/camera"
	"github.com/Carmen-Shannon/oxy-splat/engine/profiler"
	"github.com/Carmen-Shannon/oxy-splat/engine/scene"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/Carmen-Shannon/oxy-splat/engine/window"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScene records the calls the engine makes. Methods it does not override panic through
// the nil embedded interface.
type fakeScene struct {
	scene.Scene

	mu        sync.Mutex
	name      string
	active    bool
	cam       camera.Camera
	cloud     *splat.PointCloud
	renderErr error
	panics    bool
	renders   int
	resized   [2]int
	scaling   float32
	shDegree  int
	framed    int
	captures  []string
}

func newFakeScene(t *testing.T, name string, active bool) *fakeScene {
	t.Helper()
	cloud, err := splat.NewPointCloud([]splat.Gaussian{{
		Scale:    mgl32.Vec3{1, 1, 1},
		Rotation: mgl32.QuatIdent(),
		Opacity:  1,
		SH:       []float32{0, 0, 0},
	}}, 0)
	require.NoError(t, err)
	return &fakeScene{
		name:    name,
		active:  active,
		cam:     camera.NewCamera(camera.WithController(camera.NewOrbitController())),
		cloud:   cloud,
		scaling: 1,
	}
}

func (s *fakeScene) Name() string                 { return s.name }
func (s *fakeScene) Active() bool                 { return s.active }
func (s *fakeScene) Camera() camera.Camera        { return s.cam }
func (s *fakeScene) Cloud() *splat.PointCloud     { return s.cloud }
func (s *fakeScene) GaussianScaling() float32     { return s.scaling }
func (s *fakeScene) SetGaussianScaling(v float32) { s.scaling = v }
func (s *fakeScene) SHDegree() int                { return s.shDegree }
func (s *fakeScene) SetSHDegree(d int)            { s.shDegree = d }
func (s *fakeScene) FrameCloud()                  { s.framed++ }

func (s *fakeScene) Render(float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		panic("device lost")
	}
	s.renders++
	return s.renderErr
}

func (s *fakeScene) Resize(width, height int) { s.resized = [2]int{width, height} }

func (s *fakeScene) Capture(path string) error {
	s.captures = append(s.captures, path)
	return nil
}

// fakeWindow keeps the callbacks the engine registers so tests can fire them.
type fakeWindow struct {
	window.Window

	update      func()
	resize      func(width, height int)
	scroll      func(delta float32)
	keyDown     func(keyCode uint32)
	mouseButton func(button window.MouseButton, pressed bool, x, y int32)
	mouseMove   func(x, y int32)
	closed      int
	title       string
}

func (w *fakeWindow) Title() string         { return w.title }
func (w *fakeWindow) SetTitle(title string) { w.title = title }

func (w *fakeWindow) SetUpdateCallback(cb func())                  { w.update = cb }
func (w *fakeWindow) SetResizeCallback(cb func(width, height int)) { w.resize = cb }
func (w *fakeWindow) SetScrollCallback(cb func(delta float32))     { w.scroll = cb }
func (w *fakeWindow) SetKeyDownCallback(cb func(keyCode uint32))   { w.keyDown = cb }
func (w *fakeWindow) SetKeyUpCallback(func(keyCode uint32))        {}
func (w *fakeWindow) SetMouseButtonCallback(cb func(button window.MouseButton, pressed bool, x, y int32)) {
	w.mouseButton = cb
}
func (w *fakeWindow) SetMouseMoveCallback(cb func(x, y int32))   { w.mouseMove = cb }
func (w *fakeWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor { return nil }
func (w *fakeWindow) IsRunning() bool                            { return w.closed == 0 }
func (w *fakeWindow) Close() error                               { w.closed++; return nil }

func TestActiveScenePicksLowestActiveKey(t *testing.T) {
	back := newFakeScene(t, "back", true)
	hidden := newFakeScene(t, "hidden", false)
	front := newFakeScene(t, "front", true)
	e := NewEngine(WithScene(5, back), WithScene(1, hidden), WithScene(3, front))

	assert.Same(t, front, e.ActiveScene())
	require.NoError(t, e.RenderFrame(0.016))
	assert.Equal(t, 1, front.renders)
	assert.Zero(t, back.renders)

	e.RemoveScene(3)
	assert.Same(t, back, e.ActiveScene())
	assert.Len(t, e.Scenes(), 2)
	assert.Nil(t, e.Scene(3))
}

func TestRenderFrameWithoutScenes(t *testing.T) {
	e := NewEngine()
	assert.Nil(t, e.ActiveScene())
	assert.NoError(t, e.RenderFrame(0))
}

func TestStepStopsAfterConsecutiveFailures(t *testing.T) {
	s := newFakeScene(t, "s", true)
	s.renderErr = errors.New("surface lost")
	e := NewEngine(WithScene(0, s), WithMaxRenderFailures(3)).(*engine)

	assert.True(t, e.step(0))
	assert.True(t, e.step(0))

	s.renderErr = nil
	assert.True(t, e.step(0))
	assert.Zero(t, e.renderFailures)

	s.renderErr = errors.New("surface lost")
	assert.True(t, e.step(0))
	assert.True(t, e.step(0))
	assert.False(t, e.step(0))
}

func TestRunStopsOnRenderFailures(t *testing.T) {
	s := newFakeScene(t, "s", true)
	s.renderErr = errors.New("device lost")
	e := NewEngine(WithScene(0, s), WithMaxRenderFailures(5))

	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, 5, s.renders)
}

func TestRunRecoversRenderPanic(t *testing.T) {
	s := newFakeScene(t, "s", true)
	s.panics = true
	e := NewEngine(WithScene(0, s))

	done := make(chan struct{})
	go func() {
		e.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after panic")
	}
}

func TestProfilerReportUpdatesTitle(t *testing.T) {
	clock := time.Unix(0, 0)
	p := profiler.NewProfiler(
		profiler.WithInterval(time.Second),
		profiler.WithClock(func() time.Time { return clock }),
	)
	w := &fakeWindow{title: "viewer"}
	s := newFakeScene(t, "s", true)
	e := NewEngine(WithWindow(w), WithScene(0, s), WithProfiling(true), WithProfiler(p)).(*engine)

	for range 4 {
		clock = clock.Add(250 * time.Millisecond)
		require.True(t, e.step(0.25))
	}
	assert.Equal(t, 4, s.renders)
	assert.Equal(t, 1, p.Last().Splats)
	assert.Equal(t, "viewer | 4 fps | 1 splats", w.title)
}

func TestWindowBindings(t *testing.T) {
	w := &fakeWindow{}
	s := newFakeScene(t, "cloud", true)
	dir := t.TempDir()
	NewEngine(WithWindow(w), WithScene(0, s), WithCaptureDir(dir))
	ctrl := s.Camera().Controller()

	t.Run("resize", func(t *testing.T) {
		w.resize(640, 480)
		assert.Equal(t, [2]int{640, 480}, s.resized)
	})

	t.Run("scroll zooms", func(t *testing.T) {
		before := ctrl.Radius()
		w.scroll(1)
		assert.Less(t, ctrl.Radius(), before)
	})

	t.Run("left drag orbits", func(t *testing.T) {
		before := ctrl.Azimuth()
		w.mouseButton(window.MouseButtonLeft, true, 100, 100)
		w.mouseMove(140, 100)
		w.mouseButton(window.MouseButtonLeft, false, 140, 100)
		assert.InDelta(t, before-40*ctrl.MouseSensitivity(), ctrl.Azimuth(), 1e-5)

		after := ctrl.Azimuth()
		w.mouseMove(200, 100)
		assert.Equal(t, after, ctrl.Azimuth())
	})

	t.Run("right drag pans", func(t *testing.T) {
		before := ctrl.Target()
		w.mouseButton(window.MouseButtonRight, true, 0, 0)
		w.mouseMove(20, 0)
		w.mouseButton(window.MouseButtonRight, false, 20, 0)
		assert.False(t, before.ApproxEqual(ctrl.Target()))
	})

	t.Run("keys", func(t *testing.T) {
		w.keyDown(common.KeyPlus)
		assert.InDelta(t, ScalingStep, s.scaling, 1e-6)
		w.keyDown(common.KeyMinus)
		w.keyDown(common.KeyMinus)
		assert.InDelta(t, 1/ScalingStep, s.scaling, 1e-6)

		w.keyDown(common.Key2)
		assert.Equal(t, 2, s.shDegree)

		w.keyDown(common.KeyR)
		assert.Equal(t, 1, s.framed)

		elevation := ctrl.Elevation()
		w.keyDown(common.KeyW)
		assert.Greater(t, ctrl.Elevation(), elevation)

		w.keyDown(common.KeyP)
		require.Len(t, s.captures, 1)
		assert.Equal(t, dir, filepath.Dir(s.captures[0]))
		assert.Equal(t, ".png", filepath.Ext(s.captures[0]))
	})

	t.Run("escape quits", func(t *testing.T) {
		w.keyDown(common.KeyEsc)
		w.update()
		assert.Equal(t, 1, w.closed)
		w.update()
		assert.Equal(t, 1, w.closed)
	})
}

func TestScalingClamped(t *testing.T) {
	w := &fakeWindow{}
	s := newFakeScene(t, "s", true)
	s.scaling = MaxGaussianScaling
	NewEngine(WithWindow(w), WithScene(0, s))

	w.keyDown(common.KeyPlus)
	assert.InDelta(t, MaxGaussianScaling, s.scaling, 1e-6)
}
