package splat

import (
	"encoding/binary"
	"fmt"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// BufferAllocator creates and fills GPU buffers. renderer.Renderer satisfies it.
type BufferAllocator interface {
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)
	WriteBuffer(buf *wgpu.Buffer, offset uint64, data []byte)
}

// ValidCountSize is the size in bytes of the Valid Count buffer: one u32.
const ValidCountSize = 4

// BufferSet owns the GPU storage of one point cloud: the immutable inputs, the per-frame splats,
// the Valid Count counter, the indirect draw arguments and the render settings uniform.
// Every buffer is allocated once, sized for the cloud, and released by Release.
type BufferSet struct {
	gaussians  *wgpu.Buffer
	sh         *wgpu.Buffer
	splats     *wgpu.Buffer
	validCount *wgpu.Buffer
	drawArgs   *wgpu.Buffer
	settings   *wgpu.Buffer

	capacity      uint32
	cloudSHDegree int
	current       GPURenderSettings
}

// NewBufferSet allocates the buffers for a cloud and uploads the Gaussians, SH coefficients,
// render settings and baseline draw arguments.
//
// Parameters:
//   - a: the allocator, usually the renderer
//   - cloud: the point cloud
//   - options: functional options
//
// Returns:
//   - *BufferSet: the buffer set
//   - error: an error if an allocation fails
func NewBufferSet(a BufferAllocator, cloud *PointCloud, options ...BufferSetOption) (*BufferSet, error) {
	cfg := bufferSetConfig{gaussianScaling: 1, shDegree: cloud.SHDegree()}
	for _, opt := range options {
		opt(&cfg)
	}

	s := &BufferSet{
		capacity:      uint32(cloud.Len()),
		cloudSHDegree: cloud.SHDegree(),
	}
	s.current = GPURenderSettings{
		GaussianScaling: cfg.gaussianScaling,
		SHDegree:        uint32(min(max(cfg.shDegree, 0), cloud.SHDegree())),
		NumGaussians:    s.capacity,
		SHStride:        uint32(cloud.SHStride()),
	}

	gaussianBytes := cloud.MarshalGaussians()
	shBytes := cloud.MarshalSH()
	var splatProbe GPUSplat
	var settingsProbe GPURenderSettings
	drawArgs := BaselineDrawArgs()

	allocs := []struct {
		dst   **wgpu.Buffer
		label string
		size  uint64
		usage wgpu.BufferUsage
	}{
		{&s.gaussians, "gaussians", uint64(len(gaussianBytes)), wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst},
		{&s.sh, "sh coefficients", uint64(len(shBytes)), wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst},
		{&s.splats, "splats", uint64(s.capacity) * uint64(splatProbe.Size()), wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc},
		{&s.validCount, "valid count", ValidCountSize, wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst},
		{&s.drawArgs, "draw args", uint64(drawArgs.Size()), wgpu.BufferUsageIndirect | wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst},
		{&s.settings, "render settings", uint64(settingsProbe.Size()), wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst},
	}
	for _, al := range allocs {
		buf, err := a.CreateBuffer(al.label, al.size, al.usage)
		if err != nil {
			s.Release()
			return nil, fmt.Errorf("splat: allocate %s: %w", al.label, err)
		}
		*al.dst = buf
	}

	a.WriteBuffer(s.gaussians, 0, gaussianBytes)
	a.WriteBuffer(s.sh, 0, shBytes)
	a.WriteBuffer(s.drawArgs, 0, drawArgs.Marshal())
	a.WriteBuffer(s.validCount, 0, binary.LittleEndian.AppendUint32(nil, 0))
	a.WriteBuffer(s.settings, 0, s.current.Marshal())

	common.Logger().Debug("splat: buffer set allocated",
		"gaussians", s.capacity,
		"shDegree", s.current.SHDegree,
		"gaussianBytes", len(gaussianBytes),
		"shBytes", len(shBytes))
	return s, nil
}

// Capacity returns the number of Gaussians, which bounds the Valid Count.
func (s *BufferSet) Capacity() uint32 {
	return s.capacity
}

// Settings returns the render settings currently uploaded.
func (s *BufferSet) Settings() GPURenderSettings {
	return s.current
}

// SetGaussianScaling changes the scale modifier and re-uploads the settings uniform.
//
// Parameters:
//   - a: the allocator used for the upload
//   - scaling: the new modifier, > 0
func (s *BufferSet) SetGaussianScaling(a BufferAllocator, scaling float32) {
	if scaling <= 0 {
		return
	}
	s.current.GaussianScaling = scaling
	a.WriteBuffer(s.settings, 0, s.current.Marshal())
}

// SetSHDegree changes the evaluated SH degree, clamped to the cloud's degree, and re-uploads
// the settings uniform.
//
// Parameters:
//   - a: the allocator used for the upload
//   - degree: the requested degree
func (s *BufferSet) SetSHDegree(a BufferAllocator, degree int) {
	s.current.SHDegree = uint32(min(max(degree, 0), s.cloudSHDegree))
	a.WriteBuffer(s.settings, 0, s.current.Marshal())
}

// GaussianBuffer returns the read-only Gaussian input buffer.
func (s *BufferSet) GaussianBuffer() *wgpu.Buffer { return s.gaussians }

// SHBuffer returns the read-only SH coefficient buffer.
func (s *BufferSet) SHBuffer() *wgpu.Buffer { return s.sh }

// SplatBuffer returns the per-frame splat buffer, one slot per Gaussian.
func (s *BufferSet) SplatBuffer() *wgpu.Buffer { return s.splats }

// ValidCountBuffer returns the 4-byte atomic counter.
func (s *BufferSet) ValidCountBuffer() *wgpu.Buffer { return s.validCount }

// DrawArgsBuffer returns the indirect draw argument buffer.
func (s *BufferSet) DrawArgsBuffer() *wgpu.Buffer { return s.drawArgs }

// SettingsBuffer returns the render settings uniform.
func (s *BufferSet) SettingsBuffer() *wgpu.Buffer { return s.settings }

// Release releases every buffer of the set.
func (s *BufferSet) Release() {
	for _, buf := range []**wgpu.Buffer{&s.gaussians, &s.sh, &s.splats, &s.validCount, &s.drawArgs, &s.settings} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
}
