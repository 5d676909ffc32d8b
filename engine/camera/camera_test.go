package camera

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPUCameraUniformLayout(t *testing.T) {
	var u GPUCameraUniform
	assert.Equal(t, 160, u.Size())

	proj := mgl32.Perspective(mgl32.DegToRad(60), 2, 0.1, 100)
	u = NewGPUCameraUniform(mgl32.Translate3D(1, 2, 3), proj, mgl32.Vec3{4, 5, 6}, 800, 400)
	assert.Equal(t, mgl32.Vec2{800, 400}, u.Viewport)
	assert.InDelta(t, proj.At(0, 0)*400, u.Focal[0], 1e-3)
	assert.InDelta(t, proj.At(1, 1)*200, u.Focal[1], 1e-3)
	assert.Equal(t, mgl32.Vec4{4, 5, 6, 1}, u.Position)

	data := u.Marshal()
	require.Len(t, data, 160)
	var back GPUCameraUniform
	require.NoError(t, back.Unmarshal(data))
	assert.Equal(t, u, back)
	assert.Error(t, back.Unmarshal(data[:100]))
}

func TestCameraLooksAtTarget(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(10), WithElevation(0), WithTarget(mgl32.Vec3{1, 0, 0}))
	cam := NewCamera(WithController(ctrl), WithClipPlanes(0.5, 50))

	pos := cam.Position()
	assert.InDelta(t, 1, pos.X(), 1e-5)
	assert.InDelta(t, 10, pos.Z(), 1e-5)

	target := cam.ViewMatrix().Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	assert.InDelta(t, 0, target.X(), 1e-4)
	assert.InDelta(t, 0, target.Y(), 1e-4)
	assert.InDelta(t, -10, target.Z(), 1e-4, "the target sits 10 units down -Z in view space")

	clip := cam.ViewProjectionMatrix().Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	assert.InDelta(t, 0, clip.X()/clip.W(), 1e-4)
	assert.InDelta(t, 0, clip.Y()/clip.W(), 1e-4)
}

func TestCameraUniformTracksController(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(4))
	cam := NewCamera(WithController(ctrl))
	before := cam.Uniform(100, 100)

	ctrl.OrbitRight()
	cam.Update()
	after := cam.Uniform(100, 100)
	assert.NotEqual(t, before.View, after.View)
	assert.Equal(t, ctrl.Position().Vec4(1), after.Position)

	cam.SetFov(mgl32.DegToRad(90))
	assert.InDelta(t, 50, cam.Uniform(100, 100).Focal[1], 1e-3)
}

func TestCameraWithoutController(t *testing.T) {
	cam := NewCamera()
	assert.Nil(t, cam.Controller())
	assert.Equal(t, mgl32.Ident4(), cam.ViewMatrix())
	assert.Equal(t, mgl32.Vec3{}, cam.Position())
	cam.Update()
}

func TestOrbitControllerClamps(t *testing.T) {
	ctrl := NewOrbitController(WithRadiusBounds(1, 10), WithRadius(5), WithElevationBounds(-0.5, 0.5))

	ctrl.Zoom(100)
	assert.Equal(t, float32(1), ctrl.Radius())
	ctrl.Zoom(-100)
	assert.Equal(t, float32(10), ctrl.Radius())

	ctrl.SetElevation(2)
	assert.Equal(t, float32(0.5), ctrl.Elevation())
	ctrl.Drag(0, -1e6)
	assert.Equal(t, float32(-0.5), ctrl.Elevation())

	az := ctrl.Azimuth()
	ctrl.Drag(100, 0)
	assert.InDelta(t, az-100*ctrl.MouseSensitivity(), ctrl.Azimuth(), 1e-6)

	dist := ctrl.Position().Sub(ctrl.Target()).Len()
	assert.InDelta(t, ctrl.Radius(), dist, 1e-4)
}

func TestPanKeepsOrbit(t *testing.T) {
	ctrl := NewOrbitController(WithRadius(3), WithAzimuth(float32(math.Pi/4)), WithPanSpeed(1))
	offset := ctrl.Position().Sub(ctrl.Target())

	ctrl.PanRight(2)
	ctrl.PanUp(-1)
	ctrl.PanForward(0.5)

	assert.InDelta(t, 0, ctrl.Position().Sub(ctrl.Target()).Sub(offset).Len(), 1e-5)
	assert.NotEqual(t, mgl32.Vec3{}, ctrl.Target())
}
