package window

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// glfwPlatform is the GLFW window behind an engineWindow.
type glfwPlatform struct {
	window *glfw.Window
	open   bool
}

var glfwButtons = map[glfw.MouseButton]MouseButton{
	glfw.MouseButtonLeft:   MouseButtonLeft,
	glfw.MouseButtonRight:  MouseButtonRight,
	glfw.MouseButtonMiddle: MouseButtonMiddle,
}

// newGLFWPlatform initialises GLFW, creates a window without a client API and routes its
// events into w. Locks the calling goroutine to its OS thread.
//
// Reference: https://www.glfw.org/docs/latest/window_guide.html
func newGLFWPlatform(w *engineWindow) (*glfwPlatform, error) {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("window: init GLFW: %w", err)
	}

	// WebGPU owns presentation; no OpenGL context.
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	win, err := glfw.CreateWindow(w.width, w.height, w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("window: create GLFW window: %w", err)
	}
	win.SetSizeLimits(w.minWidth, w.minHeight, w.maxWidth, w.maxHeight)

	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if key == glfw.KeyUnknown {
			return
		}
		w.emitKey(uint32(key), action != glfw.Release)
	})
	win.SetScrollCallback(func(_ *glfw.Window, _, yoff float64) {
		w.emitScroll(float32(yoff))
	})
	win.SetMouseButtonCallback(func(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		b, ok := glfwButtons[button]
		if !ok || action == glfw.Repeat {
			return
		}
		x, y := win.GetCursorPos()
		w.emitMouseButton(b, action == glfw.Press, int32(x), int32(y))
	})
	win.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		w.emitMouseMove(int32(x), int32(y))
	})
	// Framebuffer size, not window size: the surface is configured in pixels, which differ on
	// high-DPI displays.
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.emitResize(width, height)
	})

	w.width, w.height = win.GetFramebufferSize()
	return &glfwPlatform{window: win, open: true}, nil
}

// surfaceDescriptor uses the wgpuglfw bridge, which covers Windows, X11, Wayland and macOS.
func (p *glfwPlatform) surfaceDescriptor() *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(p.window)
}

func (p *glfwPlatform) running() bool {
	return p.open && !p.window.ShouldClose()
}

func (p *glfwPlatform) poll() bool {
	glfw.PollEvents()
	return p.running()
}

func (p *glfwPlatform) setTitle(title string) {
	p.window.SetTitle(title)
}

// close destroys the window and terminates GLFW.
func (p *glfwPlatform) close() error {
	if !p.open {
		return ErrNotInitialized
	}
	p.open = false
	p.window.Destroy()
	glfw.Terminate()
	return nil
}
