package splat

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// MaxSHDegree is the highest spherical harmonics degree the preprocess shader evaluates.
const MaxSHDegree = 3

var (
	// ErrEmptyCloud is returned when a point cloud has no Gaussians.
	ErrEmptyCloud = errors.New("splat: point cloud is empty")

	// ErrInvalidSHDegree is returned for a degree outside 0..MaxSHDegree.
	ErrInvalidSHDegree = errors.New("splat: invalid spherical harmonics degree")

	// ErrSHLength is returned when a Gaussian's SH slice does not match the cloud's degree.
	ErrSHLength = errors.New("splat: spherical harmonics length does not match degree")
)

// SHCoefficientCount returns the number of SH coefficients per colour channel for a degree.
//
// Parameters:
//   - degree: 0..3
//
// Returns:
//   - int: (degree+1)^2
func SHCoefficientCount(degree int) int {
	return (degree + 1) * (degree + 1)
}

// Gaussian is one input primitive with activated parameters.
type Gaussian struct {
	Position mgl32.Vec3
	// Scale is the linear (already exponentiated) standard deviation along each local axis.
	Scale    mgl32.Vec3
	Rotation mgl32.Quat
	// Opacity is the activated opacity in [0,1].
	Opacity float32
	// SH holds the colour coefficients coefficient-major: SH[3*k+c] is coefficient k of channel c.
	SH []float32
}

// ToGPU converts the Gaussian to its GPU layout. A non-zero rotation is normalised; a zero
// rotation is kept so preprocess can reject it.
//
// Returns:
//   - GPUGaussian: the GPU form
func (g Gaussian) ToGPU() GPUGaussian {
	q := g.Rotation
	if q.Len() > 0 {
		q = q.Normalize()
	}
	return GPUGaussian{
		PosOpacity: [4]float32{g.Position.X(), g.Position.Y(), g.Position.Z(), g.Opacity},
		Rotation:   [4]float32{q.W, q.V.X(), q.V.Y(), q.V.Z()},
		Scale:      [4]float32{g.Scale.X(), g.Scale.Y(), g.Scale.Z(), 0},
	}
}

// PointCloud is an immutable set of Gaussians sharing one SH degree.
type PointCloud struct {
	gaussians []Gaussian
	shDegree  int
}

// NewPointCloud validates and wraps a slice of Gaussians. The slice is not copied and must not
// be modified afterwards.
//
// Parameters:
//   - gaussians: the Gaussians
//   - shDegree: SH degree of every Gaussian, 0..3
//
// Returns:
//   - *PointCloud: the cloud
//   - error: ErrEmptyCloud, ErrInvalidSHDegree or ErrSHLength
func NewPointCloud(gaussians []Gaussian, shDegree int) (*PointCloud, error) {
	if len(gaussians) == 0 {
		return nil, ErrEmptyCloud
	}
	if shDegree < 0 || shDegree > MaxSHDegree {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSHDegree, shDegree)
	}
	stride := 3 * SHCoefficientCount(shDegree)
	for i := range gaussians {
		if len(gaussians[i].SH) != stride {
			return nil, fmt.Errorf("%w: gaussian %d has %d values, want %d", ErrSHLength, i, len(gaussians[i].SH), stride)
		}
	}
	return &PointCloud{gaussians: gaussians, shDegree: shDegree}, nil
}

// Len returns the number of Gaussians.
func (c *PointCloud) Len() int {
	return len(c.gaussians)
}

// SHDegree returns the SH degree of the cloud.
func (c *PointCloud) SHDegree() int {
	return c.shDegree
}

// SHStride returns the number of floats per Gaussian in the SH buffer.
func (c *PointCloud) SHStride() int {
	return 3 * SHCoefficientCount(c.shDegree)
}

// Gaussian returns the i-th Gaussian.
func (c *PointCloud) Gaussian(i int) Gaussian {
	return c.gaussians[i]
}

// Gaussians returns the underlying slice. Callers must not modify it.
func (c *PointCloud) Gaussians() []Gaussian {
	return c.gaussians
}

// MarshalGaussians serializes every Gaussian in GPU layout, back to back.
//
// Returns:
//   - []byte: Len()*48 bytes
func (c *PointCloud) MarshalGaussians() []byte {
	var probe GPUGaussian
	size := probe.Size()
	buf := make([]byte, len(c.gaussians)*size)
	for i := range c.gaussians {
		g := c.gaussians[i].ToGPU()
		g.MarshalTo(buf[i*size:])
	}
	return buf
}

// MarshalSH serializes every Gaussian's SH coefficients with a stride of SHStride() floats.
//
// Returns:
//   - []byte: Len()*SHStride()*4 bytes
func (c *PointCloud) MarshalSH() []byte {
	stride := c.SHStride()
	buf := make([]byte, len(c.gaussians)*stride*4)
	for i := range c.gaussians {
		putFloats(buf[i*stride*4:], c.gaussians[i].SH)
	}
	return buf
}

// Bounds returns the axis-aligned bounds of the Gaussian centres.
//
// Returns:
//   - mgl32.Vec3: minimum corner
//   - mgl32.Vec3: maximum corner
func (c *PointCloud) Bounds() (mgl32.Vec3, mgl32.Vec3) {
	lo, hi := c.gaussians[0].Position, c.gaussians[0].Position
	for _, g := range c.gaussians[1:] {
		for a := range 3 {
			lo[a] = min(lo[a], g.Position[a])
			hi[a] = max(hi[a], g.Position[a])
		}
	}
	return lo, hi
}
