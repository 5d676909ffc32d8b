package loader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(options ...LoaderBuilderOption) Loader {
	return NewLoader(BackendTypePLY, append([]LoaderBuilderOption{WithPool(common.NewComputePool(2))}, options...)...)
}

// plyFile assembles a binary PLY with float properties from a header body and rows.
func plyFile(header string, rows ...[]float32) []byte {
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\n")
	buf.WriteString(header)
	buf.WriteString("end_header\n")
	for _, row := range rows {
		for _, v := range row {
			_ = binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	return buf.Bytes()
}

const degreeZeroHeader = "element vertex 1\n" +
	"property float x\nproperty float y\nproperty float z\n" +
	"property float f_dc_0\nproperty float f_dc_1\nproperty float f_dc_2\n" +
	"property float opacity\n" +
	"property float scale_0\nproperty float scale_1\nproperty float scale_2\n" +
	"property float rot_0\nproperty float rot_1\nproperty float rot_2\nproperty float rot_3\n"

func TestLoadActivates(t *testing.T) {
	data := plyFile(degreeZeroHeader, []float32{1, 2, 3, 0.1, 0.2, 0.3, 0, 0, float32(math.Log(2)), -1, 2, 0, 0, 0})
	cloud, err := newTestLoader().LoadReader("one", bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 1, cloud.Len())
	assert.Equal(t, 0, cloud.SHDegree())

	g := cloud.Gaussian(0)
	assert.Equal(t, mgl32.Vec3{1, 2, 3}, g.Position)
	assert.InDelta(t, 0.5, g.Opacity, 1e-6, "sigmoid(0)")
	assert.InDelta(t, 1, g.Scale[0], 1e-6)
	assert.InDelta(t, 2, g.Scale[1], 1e-6)
	assert.InDelta(t, math.Exp(-1), g.Scale[2], 1e-6)
	assert.Equal(t, float32(1), g.Rotation.W, "rotation is normalised")
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, g.SH)
}

func TestLoadReordersChannelMajorSH(t *testing.T) {
	header := strings.Replace(degreeZeroHeader, "property float opacity\n", func() string {
		var b strings.Builder
		for i := range 9 {
			fmt.Fprintf(&b, "property float f_rest_%d\n", i)
		}
		return b.String() + "property float opacity\n"
	}(), 1)
	row := []float32{0, 0, 0, 1, 2, 3}
	for i := range 9 {
		row = append(row, float32(10+i))
	}
	row = append(row, 0, 0, 0, 0, 1, 0, 0, 0)

	cloud, err := newTestLoader().LoadReader("sh", bytes.NewReader(plyFile(header, row)))
	require.NoError(t, err)
	assert.Equal(t, 1, cloud.SHDegree())
	// f_rest is [r0 r1 r2 g0 g1 g2 b0 b1 b2]; SH is [k][rgb]
	assert.Equal(t, []float32{1, 2, 3, 10, 13, 16, 11, 14, 17, 12, 15, 18}, cloud.Gaussian(0).SH)
}

func TestLoadMixedTypesAndSkippedElements(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_little_endian 1.0\ncomment made by hand\n")
	buf.WriteString("element camera 2\nproperty uint id\n")
	buf.WriteString("element vertex 1\nproperty double x\nproperty short y\nproperty uchar z\n")
	for _, p := range []string{"f_dc_0", "f_dc_1", "f_dc_2", "opacity", "scale_0", "scale_1", "scale_2", "rot_0", "rot_1", "rot_2", "rot_3"} {
		fmt.Fprintf(&buf, "property float %s\n", p)
	}
	buf.WriteString("end_header\n")
	for _, v := range []any{uint32(7), uint32(8), float64(-1.5), int16(-300), uint8(200)} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}
	for _, v := range []float32{0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 3} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}

	cloud, err := newTestLoader().LoadReader("mixed", &buf)
	require.NoError(t, err)
	g := cloud.Gaussian(0)
	assert.Equal(t, mgl32.Vec3{-1.5, -300, 200}, g.Position)
	assert.InDelta(t, 1/(1+math.Exp(-2)), g.Opacity, 1e-6)
	assert.InDelta(t, 1, g.Rotation.V.Z(), 1e-6, "rot_3 alone normalises to z")
	assert.Zero(t, g.Rotation.W)
}

func TestLoadErrors(t *testing.T) {
	good := plyFile(degreeZeroHeader, make([]float32, 14))
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not ply", []byte("obj\n"), errNotPLY},
		{"ascii", []byte("ply\nformat ascii 1.0\nend_header\n"), errUnsupportedEncoding},
		{"big endian", []byte("ply\nformat binary_big_endian 1.0\nend_header\n"), errUnsupportedEncoding},
		{"list property", []byte("ply\nformat binary_little_endian 1.0\nelement face 1\nproperty list uchar int vertex_indices\nend_header\n"), errListProperty},
		{"unknown type", []byte("ply\nformat binary_little_endian 1.0\nelement vertex 1\nproperty half x\nend_header\n"), errMalformedHeader},
		{"no end_header", []byte("ply\nformat binary_little_endian 1.0\nelement vertex 1\n"), errMalformedHeader},
		{"no vertex element", []byte("ply\nformat binary_little_endian 1.0\nend_header\n"), errNoVertexElement},
		{"missing opacity", plyFile(strings.Replace(degreeZeroHeader, "property float opacity\n", "", 1), make([]float32, 13)), ErrMissingProperty},
		{"partial sh", plyFile(strings.Replace(degreeZeroHeader, "property float opacity\n", "property float f_rest_0\nproperty float f_rest_1\nproperty float opacity\n", 1), make([]float32, 16)), ErrInvalidSHLayout},
		{"empty", plyFile(strings.Replace(degreeZeroHeader, "vertex 1", "vertex 0", 1)), splat.ErrEmptyCloud},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader().LoadReader(tt.name, bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		_, err := newTestLoader().LoadReader("truncated", bytes.NewReader(good[:len(good)-3]))
		assert.Error(t, err)
	})
	t.Run("too many", func(t *testing.T) {
		_, err := newTestLoader(WithMaxGaussians(0)).LoadReader("ok", bytes.NewReader(good))
		require.NoError(t, err)
		data := plyFile(strings.Replace(degreeZeroHeader, "vertex 1", "vertex 5", 1))
		_, err = newTestLoader(WithMaxGaussians(4)).LoadReader("big", bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrTooManyGaussians)
	})
}

func TestWritePLYRoundTripsAcrossChunks(t *testing.T) {
	want, err := Generate(rowsPerChunk*2+17, WithShape(ShapeCube), WithGeneratedSHDegree(2), WithSeed(9))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WritePLY(&buf, want))
	got, err := newTestLoader().LoadReader("generated", &buf)
	require.NoError(t, err)

	require.Equal(t, want.Len(), got.Len())
	assert.Equal(t, want.SHDegree(), got.SHDegree())
	for i := range want.Len() {
		w, g := want.Gaussian(i), got.Gaussian(i)
		require.Equal(t, w.Position, g.Position, "gaussian %d", i)
		require.Equal(t, w.SH, g.SH, "gaussian %d", i)
		require.InDelta(t, w.Opacity, g.Opacity, 1e-5)
		for k := range 3 {
			require.InEpsilon(t, w.Scale[k], g.Scale[k], 1e-5)
		}
		require.InDelta(t, 1, math.Abs(float64(w.Rotation.Dot(g.Rotation))), 1e-5)
	}
}

func TestLoadFromPathCaches(t *testing.T) {
	cloud, err := Generate(32)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cloud.ply")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WritePLY(f, cloud))
	require.NoError(t, f.Close())

	l := newTestLoader()
	first, err := l.Load(path)
	require.NoError(t, err)
	second, err := l.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Same(t, first, l.Get(path))
	assert.Len(t, l.Clouds(), 1)

	_, err = l.Load(filepath.Join(t.TempDir(), "cloud.splat"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = l.Load(filepath.Join(t.TempDir(), "missing.ply"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWithCloud(t *testing.T) {
	cloud, err := Generate(4)
	require.NoError(t, err)
	l := newTestLoader(WithCloud("demo", cloud))
	got, err := l.LoadReader("demo", strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Same(t, cloud, got)
}

func TestGenerate(t *testing.T) {
	for _, shape := range []Shape{ShapeSphere, ShapeCube, ShapeSpiral} {
		t.Run(shape.String(), func(t *testing.T) {
			a, err := Generate(500, WithShape(shape), WithRadius(3), WithSeed(4), WithGeneratedSHDegree(1))
			require.NoError(t, err)
			b, err := Generate(500, WithShape(shape), WithRadius(3), WithSeed(4), WithGeneratedSHDegree(1))
			require.NoError(t, err)
			assert.Equal(t, a.Gaussians(), b.Gaussians(), "deterministic for a seed")
			assert.Equal(t, 1, a.SHDegree())

			lo, hi := a.Bounds()
			for i := range 3 {
				assert.GreaterOrEqual(t, lo[i], float32(-4.5))
				assert.LessOrEqual(t, hi[i], float32(4.5))
			}
			for _, g := range a.Gaussians() {
				assert.InDelta(t, 1, g.Rotation.Len(), 1e-5)
				assert.Equal(t, float32(0.8), g.Opacity)
			}
		})
	}

	_, err := Generate(0)
	assert.ErrorIs(t, err, ErrInvalidCount)
	_, err = Generate(1, WithGeneratedSHDegree(4))
	assert.ErrorIs(t, err, splat.ErrInvalidSHDegree)
	assert.Equal(t, "Shape(7)", Shape(7).String())
}
