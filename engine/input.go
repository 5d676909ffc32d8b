package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/scene"
	"github.com/Carmen-Shannon/oxy-splat/engine/window"
)

const (
	// ScalingStep is the factor the +/- keys apply to the Gaussian scale modifier.
	ScalingStep = 1.1
	// MinGaussianScaling and MaxGaussianScaling bound the scale modifier set from input.
	MinGaussianScaling = 0.05
	MaxGaussianScaling = 10
)

// input maps window events onto the active scene: left drag orbits, right drag pans, scroll
// zooms, WASD orbits in steps, +/- scale the splats, 0-3 pick the SH degree, R reframes the
// cloud, P captures a frame and Esc quits.
type input struct {
	mu sync.Mutex
	e  *engine

	orbiting, panning bool
	lastX, lastY      int32

	captures int
}

func newInput(e *engine) *input {
	return &input{e: e}
}

// bind registers the input handlers on a window.
func (in *input) bind(w window.Window) {
	w.SetScrollCallback(in.onScroll)
	w.SetMouseButtonCallback(in.onMouseButton)
	w.SetMouseMoveCallback(in.onMouseMove)
	w.SetKeyDownCallback(in.onKeyDown)
}

func (in *input) onScroll(delta float32) {
	if s := in.e.ActiveScene(); s != nil {
		if ctrl := s.Camera().Controller(); ctrl != nil {
			ctrl.Zoom(delta)
		}
	}
}

func (in *input) onMouseButton(button window.MouseButton, pressed bool, x, y int32) {
	in.mu.Lock()
	defer in.mu.Unlock()
	switch button {
	case window.MouseButtonLeft:
		in.orbiting = pressed
	case window.MouseButtonRight, window.MouseButtonMiddle:
		in.panning = pressed
	}
	in.lastX, in.lastY = x, y
}

func (in *input) onMouseMove(x, y int32) {
	in.mu.Lock()
	dx, dy := float32(x-in.lastX), float32(y-in.lastY)
	in.lastX, in.lastY = x, y
	orbiting, panning := in.orbiting, in.panning
	in.mu.Unlock()

	if !orbiting && !panning {
		return
	}
	s := in.e.ActiveScene()
	if s == nil {
		return
	}
	ctrl := s.Camera().Controller()
	if ctrl == nil {
		return
	}
	if orbiting {
		ctrl.Drag(dx, dy)
		return
	}
	// Pan distance follows the orbit radius so a pixel moves about the same on screen.
	k := ctrl.Radius() * ctrl.MouseSensitivity()
	ctrl.PanRight(-dx * k)
	ctrl.PanUp(dy * k)
}

func (in *input) onKeyDown(keyCode uint32) {
	if keyCode == common.KeyEsc {
		in.e.Quit()
		return
	}
	s := in.e.ActiveScene()
	if s == nil {
		return
	}
	ctrl := s.Camera().Controller()

	switch keyCode {
	case common.KeyW:
		if ctrl != nil {
			ctrl.OrbitUp()
		}
	case common.KeyS:
		if ctrl != nil {
			ctrl.OrbitDown()
		}
	case common.KeyA:
		if ctrl != nil {
			ctrl.OrbitLeft()
		}
	case common.KeyD:
		if ctrl != nil {
			ctrl.OrbitRight()
		}
	case common.KeyPlus:
		s.SetGaussianScaling(min(s.GaussianScaling()*ScalingStep, MaxGaussianScaling))
	case common.KeyMinus:
		s.SetGaussianScaling(max(s.GaussianScaling()/ScalingStep, MinGaussianScaling))
	case common.Key0, common.Key1, common.Key2, common.Key3:
		s.SetSHDegree(int(keyCode - common.Key0))
		common.Logger().Info("engine: SH degree", "degree", s.SHDegree())
	case common.KeyR:
		s.FrameCloud()
	case common.KeyP:
		if path, err := in.capture(s); err != nil {
			common.Logger().Error("engine: capture", "error", err)
		} else {
			common.Logger().Info("engine: capture queued", "path", path)
		}
	}
}

// capture queues a capture of the next frame under the engine's capture directory.
func (in *input) capture(s scene.Scene) (string, error) {
	if s == nil {
		return "", errNoScene
	}
	in.mu.Lock()
	in.captures++
	n := in.captures
	in.mu.Unlock()

	name := fmt.Sprintf("%s-%s-%03d.png", s.Name(), time.Now().Format("20060102-150405"), n)
	path := filepath.Join(common.Coalesce(in.e.captureDir, "."), name)
	if err := s.Capture(path); err != nil {
		return "", fmt.Errorf("engine: capture %s: %w", path, err)
	}
	return path, nil
}
