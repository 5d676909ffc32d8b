package renderer

import (
	"bytes"
	"image"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func TestCaptureFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want CaptureFormat
		err  bool
	}{
		{"frame.png", CaptureFormatPNG, false},
		{"out/FRAME.BMP", CaptureFormatBMP, false},
		{"a.tif", CaptureFormatTIFF, false},
		{"a.tiff", CaptureFormatTIFF, false},
		{"a.jpg", 0, true},
		{"noext", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := captureFormatFromPath(tt.path)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnsupportedCaptureFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeTexelsPaddingAndSwizzle(t *testing.T) {
	const width, height = 2, 2
	pitch := alignedRowPitch(width)
	require.Equal(t, uint32(256), pitch)

	data := make([]byte, pitch*height)
	// row 0: blue, green in BGRA order
	copy(data[0:], []byte{255, 0, 0, 255, 0, 255, 0, 255})
	// row 1: red, white
	copy(data[pitch:], []byte{0, 0, 255, 255, 255, 255, 255, 255})

	img := decodeTexels(data, width, height, pitch, true)
	assert.Equal(t, [4]uint8{0, 0, 255, 255}, px(img, 0, 0))
	assert.Equal(t, [4]uint8{0, 255, 0, 255}, px(img, 1, 0))
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, px(img, 0, 1))
	assert.Equal(t, [4]uint8{255, 255, 255, 255}, px(img, 1, 1))

	plain := decodeTexels(data, width, height, pitch, false)
	assert.Equal(t, [4]uint8{255, 0, 0, 255}, px(plain, 0, 0))
}

func px(img *image.RGBA, x, y int) [4]uint8 {
	i := img.PixOffset(x, y)
	return [4]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]}
}

func TestEncodeImageFormats(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Pix[0] = 200

	decoders := map[CaptureFormat]func(*bytes.Reader) (image.Image, error){
		CaptureFormatPNG:  func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) },
		CaptureFormatBMP:  func(r *bytes.Reader) (image.Image, error) { return bmp.Decode(r) },
		CaptureFormatTIFF: func(r *bytes.Reader) (image.Image, error) { return tiff.Decode(r) },
	}
	for format, decode := range decoders {
		var buf bytes.Buffer
		require.NoError(t, encodeImage(&buf, img, format))
		out, err := decode(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, img.Bounds(), out.Bounds())
	}
}

func TestWriteImageFile(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	require.NoError(t, writeImageFile(filepath.Join(dir, "f.png"), img))
	assert.ErrorIs(t, writeImageFile(filepath.Join(dir, "f.gif"), img), ErrUnsupportedCaptureFormat)
}

func TestMergeBindGroupLayouts(t *testing.T) {
	vertex := map[int]wgpu.BindGroupLayoutDescriptor{
		0: {Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 1, Visibility: wgpu.ShaderStageVertex},
			{Binding: 0, Visibility: wgpu.ShaderStageVertex},
		}},
		1: {Entries: []wgpu.BindGroupLayoutEntry{{Binding: 0, Visibility: wgpu.ShaderStageVertex}}},
	}
	fragment := map[int]wgpu.BindGroupLayoutDescriptor{
		0: {Entries: []wgpu.BindGroupLayoutEntry{{Binding: 1, Visibility: wgpu.ShaderStageFragment}}},
	}

	merged := mergeBindGroupLayouts(vertex, fragment)
	require.Len(t, merged, 2)

	g0 := merged[0].Entries
	require.Len(t, g0, 2)
	assert.Equal(t, uint32(0), g0[0].Binding)
	assert.Equal(t, wgpu.ShaderStageVertex, g0[0].Visibility)
	assert.Equal(t, wgpu.ShaderStageVertex|wgpu.ShaderStageFragment, g0[1].Visibility)
	assert.Len(t, merged[1].Entries, 1)
}

func TestBufferUsageFor(t *testing.T) {
	assert.Equal(t, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst, bufferUsageFor(wgpu.BufferBindingTypeUniform))
	storage := bufferUsageFor(wgpu.BufferBindingTypeReadOnlyStorage)
	assert.NotZero(t, storage&wgpu.BufferUsageStorage)
	assert.NotZero(t, storage&wgpu.BufferUsageCopySrc)
	assert.Equal(t, uint64(8), alignBufferSize(5))
	assert.Equal(t, uint64(8), alignBufferSize(8))
}

func TestNewRendererNeedsTarget(t *testing.T) {
	_, err := NewRenderer(BackendTypeWGPU)
	assert.ErrorIs(t, err, ErrNoRenderTarget)
}

func TestParsePresentMode(t *testing.T) {
	for _, mode := range []PresentMode{PresentModeVSync, PresentModeUncapped, PresentModeMailbox} {
		parsed, err := ParsePresentMode(strings.ToUpper(mode.String()))
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}

	_, err := ParsePresentMode("adaptive")
	assert.ErrorIs(t, err, ErrUnknownPresentMode)

	assert.Equal(t, wgpu.PresentModeFifo, PresentModeVSync.surfaceMode())
	assert.Equal(t, wgpu.PresentModeImmediate, PresentMode(9).surfaceMode())
	assert.Equal(t, "PresentMode(9)", PresentMode(9).String())
	assert.Equal(t, "wgpu", BackendTypeWGPU.String())
}
