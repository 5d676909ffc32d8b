package window

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
)

// ErrNotInitialized is returned when a window operation needs a platform window that was never
// created or was already closed.
var ErrNotInitialized = errors.New("window: not initialized")

// MouseButton identifies a mouse button.
type MouseButton int

const (
	MouseButtonLeft MouseButton = iota
	MouseButtonRight
	MouseButtonMiddle
)

func (b MouseButton) String() string {
	switch b {
	case MouseButtonLeft:
		return "left"
	case MouseButtonRight:
		return "right"
	case MouseButtonMiddle:
		return "middle"
	default:
		return fmt.Sprintf("MouseButton(%d)", int(b))
	}
}

// Window is a native window with a WebGPU surface and input callbacks.
// Callbacks run on the thread that calls ProcessMessages.
type Window interface {
	// SetUpdateCallback sets the function called once per message loop iteration.
	SetUpdateCallback(callback func())

	// SetResizeCallback sets the function called with the new framebuffer size in pixels.
	SetResizeCallback(callback func(width, height int))

	// SetScrollCallback sets the callback for vertical scroll.
	//
	// Parameters:
	//   - callback: receives the scroll delta, positive away from the user
	SetScrollCallback(callback func(delta float32))

	// SetKeyDownCallback sets the callback for key presses and key repeats.
	//
	// Parameters:
	//   - callback: receives the key code (see common key codes)
	SetKeyDownCallback(callback func(keyCode uint32))

	// SetKeyUpCallback sets the callback for key releases.
	SetKeyUpCallback(callback func(keyCode uint32))

	// SetMouseButtonCallback sets the callback for mouse button presses and releases.
	//
	// Parameters:
	//   - callback: receives the button, whether it went down, and the cursor position
	SetMouseButtonCallback(callback func(button MouseButton, pressed bool, x, y int32))

	// SetMouseMoveCallback sets the callback for cursor movement.
	SetMouseMoveCallback(callback func(x, y int32))

	// SetTitle changes the title bar text. Safe to call from any goroutine; the change is
	// applied on the next message loop iteration.
	SetTitle(title string)

	// Title returns the most recently requested title.
	Title() string

	// SurfaceDescriptor returns the platform surface descriptor for WebGPU surface creation.
	//
	// Returns:
	//   - *wgpu.SurfaceDescriptor: the descriptor, or nil if the window is not initialized
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// IsRunning reports whether the window is open.
	IsRunning() bool

	// Close destroys the window. Must run on the thread that created it.
	//
	// Returns:
	//   - error: ErrNotInitialized if there is no window to close
	Close() error

	// ProcessMessages runs the message loop until the window closes, calling the update callback
	// every iteration.
	ProcessMessages()

	// Width returns the framebuffer width in pixels.
	Width() int

	// Height returns the framebuffer height in pixels.
	Height() int
}

// platform is the native windowing layer behind an engineWindow.
type platform interface {
	surfaceDescriptor() *wgpu.SurfaceDescriptor
	running() bool
	// poll dispatches pending native events and reports whether the window is still open.
	poll() bool
	setTitle(title string)
	close() error
}

// engineWindow holds window configuration and the input callbacks. Native events are turned into
// callback invocations by the emit* methods.
type engineWindow struct {
	title               string
	minWidth, minHeight int
	maxWidth, maxHeight int
	width, height       int

	plat platform

	titleMu      sync.Mutex
	pendingTitle string
	titleDirty   bool

	onUpdate      func()
	onResize      func(width, height int)
	onScroll      func(delta float32)
	onKeyDown     func(keyCode uint32)
	onKeyUp       func(keyCode uint32)
	onMouseButton func(button MouseButton, pressed bool, x, y int32)
	onMouseMove   func(x, y int32)
}

var _ Window = &engineWindow{}

// NewWindow creates and shows a GLFW window. Panics if the platform window cannot be created.
// Must be called from the main goroutine.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the open window
func NewWindow(options ...WindowBuilderOption) Window {
	w := newEngineWindow(options...)
	plat, err := newGLFWPlatform(w)
	if err != nil {
		panic(fmt.Sprintf("failed to create platform window: %v", err))
	}
	w.plat = plat
	return w
}

func newEngineWindow(options ...WindowBuilderOption) *engineWindow {
	w := &engineWindow{
		title:     "oxy-splat",
		maxWidth:  3840,
		maxHeight: 2160,
		minWidth:  600,
		minHeight: 200,
		width:     1280,
		height:    720,
	}
	for _, opt := range options {
		opt(w)
	}
	w.pendingTitle = w.title
	return w
}

func (w *engineWindow) SetUpdateCallback(callback func()) { w.onUpdate = callback }

func (w *engineWindow) SetResizeCallback(callback func(width, height int)) { w.onResize = callback }

func (w *engineWindow) SetScrollCallback(callback func(delta float32)) { w.onScroll = callback }

func (w *engineWindow) SetKeyDownCallback(callback func(keyCode uint32)) { w.onKeyDown = callback }

func (w *engineWindow) SetKeyUpCallback(callback func(keyCode uint32)) { w.onKeyUp = callback }

func (w *engineWindow) SetMouseButtonCallback(callback func(button MouseButton, pressed bool, x, y int32)) {
	w.onMouseButton = callback
}

func (w *engineWindow) SetMouseMoveCallback(callback func(x, y int32)) { w.onMouseMove = callback }

func (w *engineWindow) SetTitle(title string) {
	w.titleMu.Lock()
	defer w.titleMu.Unlock()
	w.pendingTitle = title
	w.titleDirty = true
}

func (w *engineWindow) Title() string {
	w.titleMu.Lock()
	defer w.titleMu.Unlock()
	return w.pendingTitle
}

func (w *engineWindow) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	if w.plat == nil {
		return nil
	}
	return w.plat.surfaceDescriptor()
}

func (w *engineWindow) IsRunning() bool {
	return w.plat != nil && w.plat.running()
}

func (w *engineWindow) Close() error {
	if w.plat == nil {
		return ErrNotInitialized
	}
	err := w.plat.close()
	w.plat = nil
	return err
}

func (w *engineWindow) ProcessMessages() {
	for w.IsRunning() {
		if !w.plat.poll() {
			break
		}
		w.flushTitle()

		if w.onUpdate != nil {
			w.onUpdate()
		}

		runtime.Gosched()
	}
}

// flushTitle applies a title requested since the last iteration.
func (w *engineWindow) flushTitle() {
	w.titleMu.Lock()
	title, dirty := w.pendingTitle, w.titleDirty
	w.titleDirty = false
	w.titleMu.Unlock()
	if dirty && w.plat != nil {
		w.title = title
		w.plat.setTitle(title)
	}
}

func (w *engineWindow) Width() int { return w.width }

func (w *engineWindow) Height() int { return w.height }

func (w *engineWindow) emitResize(width, height int) {
	w.width, w.height = width, height
	if w.onResize != nil && width > 0 && height > 0 {
		w.onResize(width, height)
	}
}

func (w *engineWindow) emitScroll(delta float32) {
	if w.onScroll != nil {
		w.onScroll(delta)
	}
}

func (w *engineWindow) emitKey(keyCode uint32, down bool) {
	switch {
	case down && w.onKeyDown != nil:
		w.onKeyDown(keyCode)
	case !down && w.onKeyUp != nil:
		w.onKeyUp(keyCode)
	}
}

func (w *engineWindow) emitMouseButton(button MouseButton, pressed bool, x, y int32) {
	if w.onMouseButton != nil {
		w.onMouseButton(button, pressed, x, y)
	}
}

func (w *engineWindow) emitMouseMove(x, y int32) {
	if w.onMouseMove != nil {
		w.onMouseMove(x, y)
	}
}
