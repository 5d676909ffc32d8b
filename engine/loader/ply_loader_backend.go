package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrMissingProperty is returned when the vertex element lacks a Gaussian attribute.
	ErrMissingProperty = errors.New("loader: missing PLY vertex property")

	// ErrInvalidSHLayout is returned when the f_rest_* count is not 3 * ((d+1)^2 - 1) for a degree 0..3.
	ErrInvalidSHLayout = errors.New("loader: f_rest properties do not form an SH degree")

	// ErrTooManyGaussians is returned when a file exceeds WithMaxGaussians.
	ErrTooManyGaussians = errors.New("loader: too many Gaussians")
)

// rowsPerChunk is the number of vertex rows one decode task handles.
const rowsPerChunk = 8192

// plyLoaderBackendImpl decodes the binary PLY layout written by 3D Gaussian splatting trainers.
type plyLoaderBackendImpl struct {
	pool         worker.DynamicWorkerPool
	maxGaussians int
}

var _ loaderBackend = &plyLoaderBackendImpl{}

func newPLYLoaderBackend(pool worker.DynamicWorkerPool, maxGaussians int) loaderBackend {
	return &plyLoaderBackendImpl{pool: pool, maxGaussians: maxGaussians}
}

func (b *plyLoaderBackendImpl) Load(path string) (*splat.PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return b.LoadReader(f)
}

func (b *plyLoaderBackendImpl) LoadReader(r io.Reader) (*splat.PointCloud, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	header, err := parsePLYHeader(br)
	if err != nil {
		return nil, err
	}
	for _, el := range header.elements {
		if el.name == "vertex" && b.maxGaussians > 0 && el.count > b.maxGaussians {
			return nil, fmt.Errorf("%w: %d > %d", ErrTooManyGaussians, el.count, b.maxGaussians)
		}
	}

	vertex, body, err := header.vertexBody(br)
	if err != nil {
		return nil, err
	}
	layout, err := newVertexLayout(vertex)
	if err != nil {
		return nil, err
	}

	gaussians := make([]splat.Gaussian, vertex.count)
	chunks := int(common.DivCeil(uint32(vertex.count), rowsPerChunk))
	common.ParallelFor(b.pool, chunks, func(chunk int) {
		end := min((chunk+1)*rowsPerChunk, vertex.count)
		for i := chunk * rowsPerChunk; i < end; i++ {
			gaussians[i] = layout.decode(body[i*vertex.stride : (i+1)*vertex.stride])
		}
	})
	return splat.NewPointCloud(gaussians, layout.shDegree)
}

// vertexLayout locates every Gaussian attribute inside a vertex row.
type vertexLayout struct {
	position [3]plyProperty
	scale    [3]plyProperty
	rotation [4]plyProperty
	opacity  plyProperty
	dc       [3]plyProperty
	rest     []plyProperty
	shDegree int
}

func newVertexLayout(el *plyElement) (*vertexLayout, error) {
	l := &vertexLayout{}
	lookup := func(name string) (plyProperty, error) {
		p, ok := el.property(name)
		if !ok {
			return p, fmt.Errorf("%w: %q", ErrMissingProperty, name)
		}
		return p, nil
	}

	var err error
	for i, name := range []string{"x", "y", "z"} {
		if l.position[i], err = lookup(name); err != nil {
			return nil, err
		}
	}
	for i := range 3 {
		if l.scale[i], err = lookup(fmt.Sprintf("scale_%d", i)); err != nil {
			return nil, err
		}
		if l.dc[i], err = lookup(fmt.Sprintf("f_dc_%d", i)); err != nil {
			return nil, err
		}
	}
	for i := range 4 {
		if l.rotation[i], err = lookup(fmt.Sprintf("rot_%d", i)); err != nil {
			return nil, err
		}
	}
	if l.opacity, err = lookup("opacity"); err != nil {
		return nil, err
	}

	type indexed struct {
		index int
		prop  plyProperty
	}
	var rest []indexed
	for _, p := range el.properties {
		suffix, ok := strings.CutPrefix(p.name, "f_rest_")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSHLayout, p.name)
		}
		rest = append(rest, indexed{n, p})
	}
	slices.SortFunc(rest, func(a, b indexed) int { return a.index - b.index })
	for i, r := range rest {
		if r.index != i {
			return nil, fmt.Errorf("%w: f_rest_%d missing", ErrInvalidSHLayout, i)
		}
		l.rest = append(l.rest, r.prop)
	}

	l.shDegree = -1
	for d := range splat.MaxSHDegree + 1 {
		if len(l.rest) == 3*(splat.SHCoefficientCount(d)-1) {
			l.shDegree = d
		}
	}
	if l.shDegree < 0 {
		return nil, fmt.Errorf("%w: %d f_rest properties", ErrInvalidSHLayout, len(l.rest))
	}
	return l, nil
}

// decode activates one row: exp on the log scales, a sigmoid on the opacity logit, a normalised
// (w, x, y, z) rotation, and the channel-major f_rest block reordered to coefficient-major.
func (l *vertexLayout) decode(row []byte) splat.Gaussian {
	get := func(p plyProperty) float32 {
		return p.scalar.read(row[p.offset:])
	}

	var g splat.Gaussian
	for i := range 3 {
		g.Position[i] = get(l.position[i])
		g.Scale[i] = float32(math.Exp(float64(get(l.scale[i]))))
	}
	g.Opacity = sigmoid(get(l.opacity))
	g.Rotation = mgl32.Quat{
		W: get(l.rotation[0]),
		V: mgl32.Vec3{get(l.rotation[1]), get(l.rotation[2]), get(l.rotation[3])},
	}
	if g.Rotation.Len() > 0 {
		g.Rotation = g.Rotation.Normalize()
	}

	coeffs := splat.SHCoefficientCount(l.shDegree)
	g.SH = make([]float32, 3*coeffs)
	for c := range 3 {
		g.SH[c] = get(l.dc[c])
		for k := 1; k < coeffs; k++ {
			g.SH[3*k+c] = get(l.rest[c*(coeffs-1)+k-1])
		}
	}
	return g
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}
