package renderer

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// ErrUnsupportedCaptureFormat is returned for capture paths whose extension has no encoder.
var ErrUnsupportedCaptureFormat = errors.New("renderer: unsupported capture format")

// CaptureFormat is the image encoding of a captured frame.
type CaptureFormat int

const (
	CaptureFormatPNG CaptureFormat = iota
	CaptureFormatBMP
	CaptureFormatTIFF
)

func captureFormatFromPath(path string) (CaptureFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return CaptureFormatPNG, nil
	case ".bmp":
		return CaptureFormatBMP, nil
	case ".tif", ".tiff":
		return CaptureFormatTIFF, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCaptureFormat, filepath.Ext(path))
	}
}

func isBGRA(format wgpu.TextureFormat) bool {
	return format == wgpu.TextureFormatBGRA8Unorm || format == wgpu.TextureFormatBGRA8UnormSrgb
}

// decodeTexels turns row-padded 8-bit texels into an image, swapping channels for BGRA targets.
func decodeTexels(data []byte, width, height, rowPitch uint32, bgra bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	for y := uint32(0); y < height; y++ {
		src := data[y*rowPitch : y*rowPitch+width*4]
		dst := img.Pix[int(y)*img.Stride : int(y)*img.Stride+int(width)*4]
		copy(dst, src)
		if bgra {
			for x := 0; x < len(dst); x += 4 {
				dst[x], dst[x+2] = dst[x+2], dst[x]
			}
		}
	}
	return img
}

func encodeImage(w io.Writer, img image.Image, format CaptureFormat) error {
	switch format {
	case CaptureFormatBMP:
		return bmp.Encode(w, img)
	case CaptureFormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return png.Encode(w, img)
	}
}

func writeImageFile(path string, img image.Image) error {
	format, err := captureFormatFromPath(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("renderer: capture %s: %w", path, err)
	}
	if err := encodeImage(f, img, format); err != nil {
		f.Close()
		return fmt.Errorf("renderer: encode %s: %w", path, err)
	}
	return f.Close()
}
