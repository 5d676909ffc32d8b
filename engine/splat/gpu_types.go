package splat

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// GPUGaussianSource is the canonical WGSL definition of the Gaussian struct (48 bytes).
//
//go:embed assets/gaussian.wgsl
var GPUGaussianSource string

// GPUSplatSource is the canonical WGSL definition of the Splat struct (48 bytes).
//
//go:embed assets/splat.wgsl
var GPUSplatSource string

// GPURenderSettingsSource is the canonical WGSL definition of the RenderSettings struct (16 bytes).
//
//go:embed assets/render_settings.wgsl
var GPURenderSettingsSource string

// GPUDrawIndirectArgsSource is the canonical WGSL definition of the DrawIndirectArgs struct (16 bytes).
//
//go:embed assets/draw_args.wgsl
var GPUDrawIndirectArgsSource string

// DepthKeySource defines depth_key(), the WGSL twin of DepthKey.
//
//go:embed assets/depth_key.wgsl
var DepthKeySource string

// Include names under which the WGSL sources above are registered with the shader pre-processor.
const (
	IncludeGaussian       = "gaussian"
	IncludeSplat          = "splat"
	IncludeRenderSettings = "render_settings"
	IncludeDrawArgs       = "draw_args"
	IncludeDepthKey       = "depth_key"
)

// Includes returns every WGSL snippet of this package keyed by include name.
//
// Returns:
//   - map[string]string: include name to WGSL source
func Includes() map[string]string {
	return map[string]string{
		IncludeGaussian:       GPUGaussianSource,
		IncludeSplat:          GPUSplatSource,
		IncludeRenderSettings: GPURenderSettingsSource,
		IncludeDrawArgs:       GPUDrawIndirectArgsSource,
		IncludeDepthKey:       DepthKeySource,
	}
}

// GPUGaussian is the GPU-aligned form of one input Gaussian.
// Matches the WGSL Gaussian struct (see GPUGaussianSource). Size: 48 bytes.
type GPUGaussian struct {
	PosOpacity [4]float32 // offset  0: xyz position, w activated opacity
	Rotation   [4]float32 // offset 16: unit quaternion (w, x, y, z)
	Scale      [4]float32 // offset 32: xyz linear scale, w unused
}

// Size returns the size of the GPUGaussian struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (48)
func (g *GPUGaussian) Size() int {
	return int(unsafe.Sizeof(*g))
}

// MarshalTo writes the struct into buf, which must hold at least Size() bytes.
//
// Parameters:
//   - buf: destination
func (g *GPUGaussian) MarshalTo(buf []byte) {
	putFloats(buf[0:], g.PosOpacity[:])
	putFloats(buf[16:], g.Rotation[:])
	putFloats(buf[32:], g.Scale[:])
}

// Marshal serializes the GPUGaussian struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUGaussian) Marshal() []byte {
	buf := make([]byte, g.Size())
	g.MarshalTo(buf)
	return buf
}

// Unmarshal reads the struct back from its GPU layout.
//
// Parameters:
//   - buf: at least 48 bytes
//
// Returns:
//   - error: an error if buf is too short
func (g *GPUGaussian) Unmarshal(buf []byte) error {
	if len(buf) < g.Size() {
		return fmt.Errorf("splat: gaussian needs %d bytes, got %d", g.Size(), len(buf))
	}
	getFloats(buf[0:], g.PosOpacity[:])
	getFloats(buf[16:], g.Rotation[:])
	getFloats(buf[32:], g.Scale[:])
	return nil
}

// GPUSplat is the per-frame screen-space form of a Gaussian written by preprocess.
// Matches the WGSL Splat struct (see GPUSplatSource). Size: 48 bytes.
type GPUSplat struct {
	Center [2]float32 // offset  0: NDC centre
	Extent [2]float32 // offset  8: NDC half size of the quad
	Conic  [4]float32 // offset 16: inverse 2D covariance (xx, xy, yy) in pixels, w radius in pixels
	Color  [4]float32 // offset 32: rgb, opacity
}

// Size returns the size of the GPUSplat struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (48)
func (g *GPUSplat) Size() int {
	return int(unsafe.Sizeof(*g))
}

// MarshalTo writes the struct into buf, which must hold at least Size() bytes.
func (g *GPUSplat) MarshalTo(buf []byte) {
	putFloats(buf[0:], g.Center[:])
	putFloats(buf[8:], g.Extent[:])
	putFloats(buf[16:], g.Conic[:])
	putFloats(buf[32:], g.Color[:])
}

// Marshal serializes the GPUSplat struct.
//
// Returns:
//   - []byte: the serialized byte buffer
func (g *GPUSplat) Marshal() []byte {
	buf := make([]byte, g.Size())
	g.MarshalTo(buf)
	return buf
}

// Unmarshal reads the struct back from its GPU layout.
func (g *GPUSplat) Unmarshal(buf []byte) error {
	if len(buf) < g.Size() {
		return fmt.Errorf("splat: splat needs %d bytes, got %d", g.Size(), len(buf))
	}
	getFloats(buf[0:], g.Center[:])
	getFloats(buf[8:], g.Extent[:])
	getFloats(buf[16:], g.Conic[:])
	getFloats(buf[32:], g.Color[:])
	return nil
}

// GPURenderSettings is the render settings uniform read by preprocess.
// Size: 16 bytes.
type GPURenderSettings struct {
	GaussianScaling float32 // offset  0: multiplier applied to every Gaussian scale
	SHDegree        uint32  // offset  4: spherical harmonics degree evaluated, 0..3
	NumGaussians    uint32  // offset  8: Gaussians in the input buffer
	SHStride        uint32  // offset 12: floats per Gaussian in the SH buffer, fixed by the cloud degree
}

// Size returns the size of the GPURenderSettings struct in bytes.
func (g *GPURenderSettings) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPURenderSettings struct.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload
func (g *GPURenderSettings) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(g.GaussianScaling))
	binary.LittleEndian.PutUint32(buf[4:], g.SHDegree)
	binary.LittleEndian.PutUint32(buf[8:], g.NumGaussians)
	binary.LittleEndian.PutUint32(buf[12:], g.SHStride)
	return buf
}

// Unmarshal reads the struct back from its GPU layout.
func (g *GPURenderSettings) Unmarshal(buf []byte) error {
	if len(buf) < g.Size() {
		return fmt.Errorf("splat: render settings need %d bytes, got %d", g.Size(), len(buf))
	}
	g.GaussianScaling = math.Float32frombits(binary.LittleEndian.Uint32(buf[0:]))
	g.SHDegree = binary.LittleEndian.Uint32(buf[4:])
	g.NumGaussians = binary.LittleEndian.Uint32(buf[8:])
	g.SHStride = binary.LittleEndian.Uint32(buf[12:])
	return nil
}

// GPUDrawIndirectArgs is the argument block of a non-indexed indirect draw.
// Size: 16 bytes.
type GPUDrawIndirectArgs struct {
	VertexCount   uint32 // offset  0: always 6, two triangles per splat
	InstanceCount uint32 // offset  4: valid splat count, written on the GPU
	FirstVertex   uint32 // offset  8
	FirstInstance uint32 // offset 12
}

// InstanceCountOffset is the byte offset of InstanceCount, the target of the count copy.
const InstanceCountOffset = 4

// QuadVertexCount is the number of vertices drawn per splat instance.
const QuadVertexCount = 6

// BaselineDrawArgs returns the draw arguments the buffer is initialised with: a quad per
// instance and zero instances.
//
// Returns:
//   - GPUDrawIndirectArgs: {6, 0, 0, 0}
func BaselineDrawArgs() GPUDrawIndirectArgs {
	return GPUDrawIndirectArgs{VertexCount: QuadVertexCount}
}

// Size returns the size of the GPUDrawIndirectArgs struct in bytes.
func (g *GPUDrawIndirectArgs) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUDrawIndirectArgs struct.
func (g *GPUDrawIndirectArgs) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], g.VertexCount)
	binary.LittleEndian.PutUint32(buf[4:], g.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:], g.FirstVertex)
	binary.LittleEndian.PutUint32(buf[12:], g.FirstInstance)
	return buf
}

// Unmarshal reads the struct back from its GPU layout.
func (g *GPUDrawIndirectArgs) Unmarshal(buf []byte) error {
	if len(buf) < g.Size() {
		return fmt.Errorf("splat: draw args need %d bytes, got %d", g.Size(), len(buf))
	}
	g.VertexCount = binary.LittleEndian.Uint32(buf[0:])
	g.InstanceCount = binary.LittleEndian.Uint32(buf[4:])
	g.FirstVertex = binary.LittleEndian.Uint32(buf[8:])
	g.FirstInstance = binary.LittleEndian.Uint32(buf[12:])
	return nil
}

func putFloats(buf []byte, v []float32) {
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
}

func getFloats(buf []byte, v []float32) {
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
}
