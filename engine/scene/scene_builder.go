package scene

import (
	"github.com/Carmen-Shannon/oxy-splat/engine/camera"
	"github.com/Carmen-Shannon/oxy-splat/engine/frame"
)

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithName sets the scene's identifier, used in logs and errors.
//
// Parameters:
//   - name: the scene name
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithName(name string) SceneBuilderOption {
	return func(s *scene) {
		s.name = name
	}
}

// WithActive sets whether the scene is active for rendering. Scenes start active.
//
// Parameters:
//   - active: whether the scene is active
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene) {
		s.active = active
	}
}

// WithCamera sets the camera instead of the default framing orbit camera.
//
// Parameters:
//   - cam: the camera
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithCamera(cam camera.Camera) SceneBuilderOption {
	return func(s *scene) {
		s.camera = cam
	}
}

// WithFrameOptions passes options through to the frame orchestrator (sort shape, workgroup
// sizes, scale modifier, SH degree).
//
// Parameters:
//   - options: orchestrator options
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithFrameOptions(options ...frame.OrchestratorOption) SceneBuilderOption {
	return func(s *scene) {
		s.frameOptions = append(s.frameOptions, options...)
	}
}
