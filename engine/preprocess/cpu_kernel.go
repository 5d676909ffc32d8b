package preprocess

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/camera"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// MinAlpha is the smallest opacity that can still change a pixel of an 8-bit target.
	MinAlpha = 1.0 / 255.0
	// GuardBand bounds the projected centre in NDC; splats centred further out are culled.
	GuardBand = 1.2
	// LowPass is added to the diagonal of every 2D covariance, in square pixels.
	LowPass = 0.3

	frustumSlack = 1.3
)

var (
	shC0 = float32(0.28209479177387814)
	shC1 = float32(0.4886025119029199)
	shC2 = [5]float32{1.0925484305920792, -1.0925484305920792, 0.31539156525252005, -1.0925484305920792, 0.5462742152960396}
	shC3 = [7]float32{-0.5900435899266435, 2.890611442640554, -0.4570457994644658, 0.3731763325901154, -0.4570457994644658, 1.445305721320277, -0.5900435899266435}
)

// Project computes the splat of one Gaussian exactly as the preprocess kernel does.
//
// Parameters:
//   - g: the Gaussian
//   - sh: its SH coefficients, coefficient-major, at least 3*(settings.SHDegree+1)^2 values
//   - cam: the camera uniform
//   - settings: the render settings
//
// Returns:
//   - splat.GPUSplat: the splat
//   - float32: the view depth, > 0
//   - bool: false when the Gaussian is culled; the other results are then zero
func Project(g splat.GPUGaussian, sh []float32, cam camera.GPUCameraUniform, settings splat.GPURenderSettings) (splat.GPUSplat, float32, bool) {
	pos := mgl32.Vec3{g.PosOpacity[0], g.PosOpacity[1], g.PosOpacity[2]}
	opacity := g.PosOpacity[3]
	if !finite(opacity) || opacity < MinAlpha || !finite(pos[:]...) {
		return splat.GPUSplat{}, 0, false
	}
	rot := mgl32.Vec4(g.Rotation)
	qLen := rot.Len()
	if !(qLen > 0) || !finite(qLen) {
		return splat.GPUSplat{}, 0, false
	}
	rot = rot.Mul(1 / qLen)

	t := cam.View.Mul4x1(pos.Vec4(1))
	clip := cam.Proj.Mul4x1(t)
	if !(clip.W() > 0) || !(clip.Z() > -clip.W()) {
		return splat.GPUSplat{}, 0, false
	}
	depth := -t.Z()
	center := mgl32.Vec2{clip.X() / clip.W(), clip.Y() / clip.W()}
	if !finite(center[:]...) || abs(center.X()) > GuardBand || abs(center.Y()) > GuardBand {
		return splat.GPUSplat{}, 0, false
	}

	q := mgl32.Quat{W: rot[0], V: mgl32.Vec3{rot[1], rot[2], rot[3]}}
	scale := mgl32.Vec3{g.Scale[0], g.Scale[1], g.Scale[2]}.Mul(settings.GaussianScaling)
	m := q.Mat4().Mat3().Mul3(mgl32.Diag3(scale))
	w := cam.View.Mat3()
	covView := w.Mul3(m.Mul3(m.Transpose())).Mul3(w.Transpose())

	fx, fy := cam.Focal.X(), cam.Focal.Y()
	limX := frustumSlack / cam.Proj.At(0, 0)
	limY := frustumSlack / cam.Proj.At(1, 1)
	tx := mgl32.Clamp(t.X()/depth, -limX, limX) * depth
	ty := mgl32.Clamp(t.Y()/depth, -limY, limY) * depth
	j0 := mgl32.Vec3{fx / depth, 0, fx * tx / (depth * depth)}
	j1 := mgl32.Vec3{0, fy / depth, fy * ty / (depth * depth)}

	a := j0.Dot(covView.Mul3x1(j0)) + LowPass
	b := j0.Dot(covView.Mul3x1(j1))
	c := j1.Dot(covView.Mul3x1(j1)) + LowPass
	det := a*c - b*b
	if !(det > 0) || !finite(det) {
		return splat.GPUSplat{}, 0, false
	}

	mid := 0.5 * (a + c)
	lambda := mid + sqrt(max(0.1, mid*mid-det))
	radius := float32(math.Ceil(float64(3 * sqrt(lambda))))
	if !(radius > 0) || !finite(radius) {
		return splat.GPUSplat{}, 0, false
	}

	conic := mgl32.Vec3{c / det, -b / det, a / det}
	extent := mgl32.Vec2{2 * radius / cam.Viewport.X(), 2 * radius / cam.Viewport.Y()}
	color := evalSH(sh, int(settings.SHDegree), pos.Sub(cam.Position.Vec3()).Normalize())
	if !finite(conic[:]...) || !finite(extent[:]...) || !finite(color[:]...) {
		return splat.GPUSplat{}, 0, false
	}

	return splat.GPUSplat{
		Center: center,
		Extent: extent,
		Conic:  [4]float32{conic[0], conic[1], conic[2], radius},
		Color:  [4]float32{color[0], color[1], color[2], opacity},
	}, depth, true
}

func evalSH(sh []float32, degree int, dir mgl32.Vec3) mgl32.Vec3 {
	coeff := func(k int) mgl32.Vec3 {
		return mgl32.Vec3{sh[3*k], sh[3*k+1], sh[3*k+2]}
	}
	c := coeff(0).Mul(shC0)
	if degree > 0 {
		x, y, z := dir.X(), dir.Y(), dir.Z()
		c = c.Add(coeff(1).Mul(-y).Add(coeff(2).Mul(z)).Sub(coeff(3).Mul(x)).Mul(shC1))
		if degree > 1 {
			xx, yy, zz := x*x, y*y, z*z
			c = c.Add(coeff(4).Mul(shC2[0] * x * y)).
				Add(coeff(5).Mul(shC2[1] * y * z)).
				Add(coeff(6).Mul(shC2[2] * (2*zz - xx - yy))).
				Add(coeff(7).Mul(shC2[3] * x * z)).
				Add(coeff(8).Mul(shC2[4] * (xx - yy)))
			if degree > 2 {
				c = c.Add(coeff(9).Mul(shC3[0] * y * (3*xx - yy))).
					Add(coeff(10).Mul(shC3[1] * x * y * z)).
					Add(coeff(11).Mul(shC3[2] * y * (4*zz - xx - yy))).
					Add(coeff(12).Mul(shC3[3] * z * (2*zz - 3*xx - 3*yy))).
					Add(coeff(13).Mul(shC3[4] * x * (4*zz - xx - yy))).
					Add(coeff(14).Mul(shC3[5] * z * (xx - yy))).
					Add(coeff(15).Mul(shC3[6] * x * (xx - 3*yy)))
			}
		}
	}
	for i := range c {
		c[i] = max(c[i]+0.5, 0)
	}
	return c
}

func finite(values ...float32) bool {
	for _, v := range values {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

func abs(v float32) float32 {
	return float32(math.Abs(float64(v)))
}

func sqrt(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

// CPUKernel runs the preprocess kernel on the CPU over the buffer words bound to it.
type CPUKernel struct {
	workgroupSize uint32
	pool          worker.DynamicWorkerPool
}

// NewCPUKernel creates the CPU kernel.
//
// Parameters:
//   - workgroupSize: threads per workgroup, matching the stage
//   - pool: the worker pool, or nil to run workgroups serially
//
// Returns:
//   - *CPUKernel: the kernel
func NewCPUKernel(workgroupSize uint32, pool worker.DynamicWorkerPool) *CPUKernel {
	return &CPUKernel{workgroupSize: workgroupSize, pool: pool}
}

// Run executes one preprocess dispatch. The signature matches the fake renderer's kernel hook.
//
// Parameters:
//   - entryPoint: must be EntryPoint
//   - groups: the workgroup count
//   - words: resolves a group and binding to the bound buffer's words
//
// Returns:
//   - error: an error for another entry point or an unreadable uniform
func (k *CPUKernel) Run(entryPoint string, groups [3]uint32, words func(group, binding int) []uint32) error {
	if entryPoint != EntryPoint {
		return fmt.Errorf("preprocess: unknown kernel %q", entryPoint)
	}
	var cam camera.GPUCameraUniform
	if err := cam.Unmarshal(wordBytes(words(0, bindingCamera))); err != nil {
		return err
	}
	var settings splat.GPURenderSettings
	if err := settings.Unmarshal(wordBytes(words(0, bindingSettings))); err != nil {
		return err
	}
	gaussians, sh, splats := words(1, bindingGaussians), words(1, bindingSH), words(1, bindingSplats)
	validCount, keys, indices := words(2, bindingValidCount), words(2, bindingKeys), words(2, bindingIndices)

	const gaussianWords, splatWords = 12, 12
	thread := func(index uint32) {
		if index >= settings.NumGaussians {
			return
		}
		var g splat.GPUGaussian
		if err := g.Unmarshal(wordBytes(gaussians[index*gaussianWords : (index+1)*gaussianWords])); err != nil {
			return
		}
		stride := settings.SHStride
		coeffs := wordFloats(sh[index*stride : (index+1)*stride])
		sp, depth, ok := Project(g, coeffs, cam, settings)
		if !ok {
			return
		}
		var buf [splatWords * 4]byte
		sp.MarshalTo(buf[:])
		for i := range splatWords {
			splats[index*splatWords+uint32(i)] = binary.LittleEndian.Uint32(buf[4*i:])
		}
		slot := atomic.AddUint32(&validCount[0], 1) - 1
		keys[slot] = splat.DepthKey(depth)
		indices[slot] = index
	}
	workgroup := func(wg uint32) {
		for lid := range k.workgroupSize {
			thread(wg*k.workgroupSize + lid)
		}
	}

	total := groups[0] * groups[1] * groups[2]
	if k.pool == nil {
		for wg := range total {
			workgroup(wg)
		}
		return nil
	}
	common.ParallelFor(k.pool, int(total), func(i int) {
		workgroup(uint32(i))
	})
	return nil
}

func wordBytes(words []uint32) []byte {
	out := make([]byte, 0, 4*len(words))
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func wordFloats(words []uint32) []float32 {
	out := make([]float32, len(words))
	for i, w := range words {
		out[i] = math.Float32frombits(w)
	}
	return out
}
