package loader

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrInvalidCount is returned when a procedural cloud is asked for no Gaussians.
var ErrInvalidCount = errors.New("loader: procedural Gaussian count must be positive")

// Shape is the volume a procedural cloud fills.
type Shape int

const (
	// ShapeSphere scatters Gaussians over a sphere shell.
	ShapeSphere Shape = iota
	// ShapeCube fills a cube uniformly.
	ShapeCube
	// ShapeSpiral lays Gaussians along the arms of a flat spiral.
	ShapeSpiral
)

func (s Shape) String() string {
	switch s {
	case ShapeSphere:
		return "sphere"
	case ShapeCube:
		return "cube"
	case ShapeSpiral:
		return "spiral"
	default:
		return fmt.Sprintf("Shape(%d)", int(s))
	}
}

// shC0 is the degree 0 SH basis constant.
const shC0 = 0.28209479177387814

type generator struct {
	shape    Shape
	seed     uint64
	radius   float32
	scale    float32
	opacity  float32
	shDegree int
}

// Generate builds a deterministic cloud for demos and tests. Colours follow the position, so
// depth order is visible on screen. Higher SH bands get small random view-dependent terms.
//
// Parameters:
//   - n: the Gaussian count
//   - options: functional options
//
// Returns:
//   - *splat.PointCloud: the cloud
//   - error: ErrInvalidCount, or splat.ErrInvalidSHDegree
func Generate(n int, options ...GeneratorOption) (*splat.PointCloud, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, n)
	}
	g := &generator{radius: 1, scale: 0.02, opacity: 0.8, seed: 1}
	for _, opt := range options {
		opt(g)
	}
	if g.shDegree < 0 || g.shDegree > splat.MaxSHDegree {
		return nil, fmt.Errorf("%w: %d", splat.ErrInvalidSHDegree, g.shDegree)
	}

	rng := rand.New(rand.NewPCG(g.seed, g.seed*0x9e3779b97f4a7c15+1))
	coeffs := splat.SHCoefficientCount(g.shDegree)
	gaussians := make([]splat.Gaussian, n)
	for i := range gaussians {
		pos := g.position(rng, i, n)
		axis := mgl32.Vec3{rng.Float32() - 0.5, rng.Float32() - 0.5, rng.Float32() - 0.5}
		if axis.Len() == 0 {
			axis = mgl32.Vec3{0, 1, 0}
		}
		jitter := 0.5 + rng.Float32()
		sh := make([]float32, 3*coeffs)
		// position in [-radius, radius] maps to a colour in [0.1, 0.9]
		for c := range 3 {
			rgb := 0.5 + 0.4*pos[c]/g.radius
			sh[c] = (rgb - 0.5) / shC0
		}
		for k := 3; k < len(sh); k++ {
			sh[k] = (rng.Float32() - 0.5) * 0.2
		}
		gaussians[i] = splat.Gaussian{
			Position: pos,
			Scale:    mgl32.Vec3{g.scale * jitter, g.scale * jitter * 0.6, g.scale * jitter * 0.3},
			Rotation: mgl32.QuatRotate(rng.Float32()*2*math.Pi, axis.Normalize()),
			Opacity:  g.opacity,
			SH:       sh,
		}
	}
	return splat.NewPointCloud(gaussians, g.shDegree)
}

func (g *generator) position(rng *rand.Rand, i, n int) mgl32.Vec3 {
	switch g.shape {
	case ShapeCube:
		return mgl32.Vec3{
			(2*rng.Float32() - 1) * g.radius,
			(2*rng.Float32() - 1) * g.radius,
			(2*rng.Float32() - 1) * g.radius,
		}
	case ShapeSpiral:
		const arms = 3
		t := float64(i) / float64(n)
		angle := t*4*math.Pi + float64(i%arms)*2*math.Pi/arms
		r := float32(t) * g.radius
		spread := g.radius * 0.05
		return mgl32.Vec3{
			r*float32(math.Cos(angle)) + float32(rng.NormFloat64())*spread,
			float32(rng.NormFloat64()) * spread * 0.5,
			r*float32(math.Sin(angle)) + float32(rng.NormFloat64())*spread,
		}
	default:
		// uniform direction from the golden spiral, with a little radial noise
		y := 1 - 2*(float64(i)+0.5)/float64(n)
		ring := math.Sqrt(1 - y*y)
		phi := float64(i) * math.Pi * (3 - math.Sqrt(5))
		r := g.radius * (1 + (rng.Float32()-0.5)*0.05)
		return mgl32.Vec3{
			r * float32(math.Cos(phi)*ring),
			r * float32(y),
			r * float32(math.Sin(phi)*ring),
		}
	}
}
