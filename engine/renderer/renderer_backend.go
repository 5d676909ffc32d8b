package renderer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// ErrUnknownPresentMode is returned by ParsePresentMode for an unrecognised name.
var ErrUnknownPresentMode = errors.New("renderer: unknown present mode")

// RendererBackendType identifies the GPU backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU backend.
	BackendTypeWGPU RendererBackendType = iota
)

func (t RendererBackendType) String() string {
	if t == BackendTypeWGPU {
		return "wgpu"
	}
	return fmt.Sprintf("RendererBackendType(%d)", int(t))
}

// PresentMode controls how frames reach the display. Ignored in headless mode.
type PresentMode int

const (
	// PresentModeVSync waits for vertical blank. No tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents immediately. May tear.
	PresentModeUncapped

	// PresentModeMailbox replaces the queued frame with the newest one. No tearing, low latency,
	// not supported on every platform.
	PresentModeMailbox
)

var presentModeNames = map[PresentMode]string{
	PresentModeVSync:    "vsync",
	PresentModeUncapped: "uncapped",
	PresentModeMailbox:  "mailbox",
}

func (m PresentMode) String() string {
	if name, ok := presentModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PresentMode(%d)", int(m))
}

// ParsePresentMode maps "vsync", "uncapped" or "mailbox" (case-insensitive) to a PresentMode.
//
// Parameters:
//   - name: the mode name
//
// Returns:
//   - PresentMode: the parsed mode
//   - error: ErrUnknownPresentMode for any other name
func ParsePresentMode(name string) (PresentMode, error) {
	for mode, n := range presentModeNames {
		if strings.EqualFold(n, name) {
			return mode, nil
		}
	}
	return PresentModeVSync, fmt.Errorf("%w: %q", ErrUnknownPresentMode, name)
}

// surfaceMode returns the surface present mode. Unknown values present immediately.
func (m PresentMode) surfaceMode() wgpu.PresentMode {
	switch m {
	case PresentModeVSync:
		return wgpu.PresentModeFifo
	case PresentModeMailbox:
		return wgpu.PresentModeMailbox
	default:
		return wgpu.PresentModeImmediate
	}
}

// RendererBackend is the top-level backend interface for the Renderer.
// It embeds the concrete backend interface for the selected GPU API.
type RendererBackend interface {
	wgpuRendererBackend
}
