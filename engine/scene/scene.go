package scene

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/camera"
	"github.com/Carmen-Shannon/oxy-splat/engine/frame"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/go-gl/mathgl/mgl32"
)

// Scene binds a point cloud, a camera and the frame orchestrator that renders the cloud.
// Scenes can be hot-swapped via the Active flag. Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// SetName sets the scene's identifier.
	SetName(name string)

	// Active returns whether this scene is currently active for rendering.
	Active() bool

	// SetActive sets whether this scene is active for rendering.
	SetActive(active bool)

	// Camera returns the scene's camera.
	Camera() camera.Camera

	// SetCamera replaces the scene's camera.
	//
	// Parameters:
	//   - cam: the new camera
	SetCamera(cam camera.Camera)

	// Renderer returns the scene's renderer.
	Renderer() renderer.Renderer

	// Cloud returns the rendered point cloud.
	Cloud() *splat.PointCloud

	// Orchestrator returns the frame orchestrator owning the GPU resources.
	Orchestrator() *frame.Orchestrator

	// Render updates the camera and renders and presents one frame.
	//
	// Parameters:
	//   - deltaTime: elapsed time since the last frame in seconds
	//
	// Returns:
	//   - error: an error from the renderer
	Render(deltaTime float32) error

	// Resize reconfigures the render target and the camera aspect.
	//
	// Parameters:
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	Resize(width, height int)

	// FrameCloud points the camera at the centre of the cloud from a distance that fits its
	// bounding sphere in view.
	FrameCloud()

	// GaussianScaling returns the current scale modifier.
	GaussianScaling() float32

	// SetGaussianScaling changes the scale modifier from the next frame on.
	SetGaussianScaling(scaling float32)

	// SHDegree returns the evaluated SH degree.
	SHDegree() int

	// SetSHDegree changes the evaluated SH degree from the next frame on, clamped to the cloud's.
	SetSHDegree(degree int)

	// Capture writes the next rendered frame to an image file (.png, .bmp, .tif).
	//
	// Parameters:
	//   - path: the output path
	//
	// Returns:
	//   - error: renderer.ErrUnsupportedCaptureFormat for an unknown extension
	Capture(path string) error

	// Frames returns the number of frames rendered successfully.
	Frames() uint64

	// Release releases the GPU resources of the scene. The renderer stays alive.
	Release()
}

type scene struct {
	mu *sync.RWMutex

	name   string
	active bool

	renderer renderer.Renderer
	camera   camera.Camera
	cloud    *splat.PointCloud
	orch     *frame.Orchestrator

	frameOptions []frame.OrchestratorOption
	frames       atomic.Uint64
}

var _ Scene = &scene{}

// NewScene builds the orchestrator for a cloud. Without WithCamera the scene gets an orbit
// camera framing the cloud.
//
// Parameters:
//   - r: the renderer
//   - cloud: the point cloud
//   - options: functional options
//
// Returns:
//   - Scene: the scene
//   - error: an error from orchestrator construction
func NewScene(r renderer.Renderer, cloud *splat.PointCloud, options ...SceneBuilderOption) (Scene, error) {
	s := &scene{
		mu:       &sync.RWMutex{},
		name:     "splats",
		active:   true,
		renderer: r,
		cloud:    cloud,
	}
	for _, opt := range options {
		opt(s)
	}

	orch, err := frame.New(r, cloud, s.frameOptions...)
	if err != nil {
		return nil, fmt.Errorf("scene %q: %w", s.name, err)
	}
	s.orch = orch

	if s.camera == nil {
		width, height := r.TargetSize()
		s.camera = camera.NewCamera(
			camera.WithAspect(aspect(width, height)),
			camera.WithController(camera.NewOrbitController()))
		s.FrameCloud()
	}
	return s, nil
}

func aspect(width, height int) float32 {
	if width <= 0 || height <= 0 {
		return 1
	}
	return float32(width) / float32(height)
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *scene) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *scene) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *scene) Camera() camera.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.camera
}

func (s *scene) SetCamera(cam camera.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camera = cam
}

func (s *scene) Renderer() renderer.Renderer {
	return s.renderer
}

func (s *scene) Cloud() *splat.PointCloud {
	return s.cloud
}

func (s *scene) Orchestrator() *frame.Orchestrator {
	return s.orch
}

func (s *scene) Render(deltaTime float32) error {
	cam := s.Camera()
	if cam == nil {
		return nil
	}
	cam.Update()
	if err := s.orch.Frame(s.renderer, cam); err != nil {
		return fmt.Errorf("scene %q: %w", s.Name(), err)
	}
	s.frames.Add(1)
	return nil
}

func (s *scene) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	s.renderer.Resize(width, height)
	if cam := s.Camera(); cam != nil {
		cam.SetAspect(aspect(width, height))
	}
}

func (s *scene) FrameCloud() {
	cam := s.Camera()
	if cam == nil {
		return
	}
	ctrl := cam.Controller()
	if ctrl == nil {
		return
	}

	lo, hi := s.cloud.Bounds()
	center := lo.Add(hi).Mul(0.5)
	extent := max(hi.Sub(lo).Len()/2, 0.01)
	distance := extent / float32(math.Tan(float64(cam.Fov())/2)) * 1.1

	ctrl.SetTarget(center)
	ctrl.SetRadius(distance)
	ctrl.SetAzimuth(0)
	ctrl.SetElevation(math.Pi / 8)
	if far := (distance + extent) * 2; far > cam.Far() {
		cam.SetFar(far)
	}
	cam.Update()

	common.Logger().Debug("scene: framed cloud",
		"center", fmtVec(center),
		"extent", extent,
		"distance", ctrl.Radius())
}

func fmtVec(v mgl32.Vec3) string {
	return fmt.Sprintf("(%.3g, %.3g, %.3g)", v.X(), v.Y(), v.Z())
}

func (s *scene) GaussianScaling() float32 {
	return s.orch.BufferSet().Settings().GaussianScaling
}

func (s *scene) SetGaussianScaling(scaling float32) {
	s.orch.SetGaussianScaling(s.renderer, scaling)
}

func (s *scene) SHDegree() int {
	return int(s.orch.BufferSet().Settings().SHDegree)
}

func (s *scene) SetSHDegree(degree int) {
	s.orch.SetSHDegree(s.renderer, degree)
}

func (s *scene) Capture(path string) error {
	return s.renderer.CaptureFrame(path)
}

func (s *scene) Frames() uint64 {
	return s.frames.Load()
}

func (s *scene) Release() {
	if s.orch != nil {
		s.orch.Release()
	}
}
