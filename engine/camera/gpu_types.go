package camera

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// GPUCameraUniformSource is the canonical WGSL definition of the CameraUniform struct.
// Matches GPUCameraUniform layout exactly (160 bytes).
//
//go:embed assets/camera_uniform.wgsl
var GPUCameraUniformSource string

// IncludeCameraUniform is the include name of GPUCameraUniformSource.
const IncludeCameraUniform = "camera_uniform"

// GPUCameraUniform is the GPU-aligned representation of the camera uniform buffer.
// Matches the WGSL CameraUniform struct layout exactly (see GPUCameraUniformSource).
// Size: 160 bytes.
type GPUCameraUniform struct {
	View     mgl32.Mat4 // offset   0: world to view, column-major (mat4x4<f32>)
	Proj     mgl32.Mat4 // offset  64: view to clip, column-major (mat4x4<f32>)
	Position mgl32.Vec4 // offset 128: world-space camera position, w = 1
	Viewport mgl32.Vec2 // offset 144: render target size in pixels
	Focal    mgl32.Vec2 // offset 152: focal lengths in pixels
}

// Size returns the size of the GPUCameraUniform struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (160)
func (g *GPUCameraUniform) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCameraUniform struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUCameraUniform) Marshal() []byte {
	buf := make([]byte, g.Size())
	off := 0
	put := func(values ...float32) {
		for _, v := range values {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	put(g.View[:]...)
	put(g.Proj[:]...)
	put(g.Position[:]...)
	put(g.Viewport[:]...)
	put(g.Focal[:]...)
	return buf
}

// Unmarshal reads the struct back from its GPU layout.
//
// Parameters:
//   - buf: at least Size() bytes
//
// Returns:
//   - error: an error if buf is too short
func (g *GPUCameraUniform) Unmarshal(buf []byte) error {
	if len(buf) < g.Size() {
		return fmt.Errorf("camera: uniform needs %d bytes, got %d", g.Size(), len(buf))
	}
	off := 0
	get := func(dst []float32) {
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
	}
	get(g.View[:])
	get(g.Proj[:])
	get(g.Position[:])
	get(g.Viewport[:])
	get(g.Focal[:])
	return nil
}

// NewGPUCameraUniform packs view and projection matrices for a viewport. The focal lengths
// are the pixel-space scale of the projection: proj[0][0]*width/2 and proj[1][1]*height/2.
//
// Parameters:
//   - view: world to view matrix
//   - proj: view to clip matrix
//   - position: world-space camera position
//   - width, height: viewport size in pixels
//
// Returns:
//   - GPUCameraUniform: the uniform
func NewGPUCameraUniform(view, proj mgl32.Mat4, position mgl32.Vec3, width, height int) GPUCameraUniform {
	w, h := float32(width), float32(height)
	return GPUCameraUniform{
		View:     view,
		Proj:     proj,
		Position: position.Vec4(1),
		Viewport: mgl32.Vec2{w, h},
		Focal:    mgl32.Vec2{proj.At(0, 0) * w / 2, proj.At(1, 1) * h / 2},
	}
}
