package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraController defines the union interface for camera control systems.
// Controllers own positional state (position, target). Camera reads from the controller
// and computes view/projection matrices. Orbit and planar controls work on the same state.
type CameraController interface {
	orbitCameraController
	planarCameraController

	// Position returns the camera's world-space position.
	Position() mgl32.Vec3

	// Target returns the look-at point.
	Target() mgl32.Vec3

	// SetTarget sets the pivot point and recomputes position from spherical coordinates.
	//
	// Parameters:
	//   - target: world-space pivot
	SetTarget(target mgl32.Vec3)

	// Zoom adjusts the orbit radius. Positive delta moves toward the target.
	//
	// Parameters:
	//   - delta: zoom amount scaled by ZoomSpeed
	Zoom(delta float32)
}

// orbitCameraController provides orbit controls in spherical coordinates (radius, azimuth,
// elevation) around the target.
type orbitCameraController interface {
	// OrbitLeft rotates the camera left around the target by one orbit speed step.
	OrbitLeft()

	// OrbitRight rotates the camera right around the target by one orbit speed step.
	OrbitRight()

	// OrbitUp tilts the camera upward by one orbit speed step, clamped to max elevation.
	OrbitUp()

	// OrbitDown tilts the camera downward by one orbit speed step, clamped to min elevation.
	OrbitDown()

	// Drag orbits by a mouse movement in pixels, scaled by MouseSensitivity.
	//
	// Parameters:
	//   - dx: horizontal movement, positive to the right
	//   - dy: vertical movement, positive downward
	Drag(dx, dy float32)

	// Radius returns the current orbit radius.
	Radius() float32

	// SetRadius sets the orbit radius, clamped to the radius bounds.
	SetRadius(radius float32)

	// Azimuth returns the horizontal angle around the Y axis in radians.
	Azimuth() float32

	// SetAzimuth sets the horizontal angle and recomputes position.
	SetAzimuth(azimuth float32)

	// Elevation returns the vertical angle from the horizontal plane in radians.
	Elevation() float32

	// SetElevation sets the vertical angle, clamped to the elevation bounds.
	SetElevation(elevation float32)

	// MouseSensitivity returns the radians per dragged pixel.
	MouseSensitivity() float32

	// ZoomSpeed returns the zoom speed multiplier.
	ZoomSpeed() float32
}

// planarCameraController pans along the camera's local axes. Panning shifts both position
// and target by the same offset, preserving the orbit relationship.
type planarCameraController interface {
	// PanRight translates along the local right axis.
	//
	// Parameters:
	//   - delta: pan amount scaled by PanSpeed
	PanRight(delta float32)

	// PanUp translates along the local up axis.
	//
	// Parameters:
	//   - delta: pan amount scaled by PanSpeed
	PanUp(delta float32)

	// PanForward translates along the view direction.
	//
	// Parameters:
	//   - delta: pan amount scaled by PanSpeed
	PanForward(delta float32)

	// PanSpeed returns the pan speed multiplier.
	PanSpeed() float32
}
