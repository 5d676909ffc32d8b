package preprocess

import (
	"math"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/camera"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/renderertest"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCamera looks at the origin from (0, 0, 10).
func testCamera() camera.GPUCameraUniform {
	ctrl := camera.NewOrbitController(camera.WithRadius(10), camera.WithElevation(0))
	cam := camera.NewCamera(camera.WithController(ctrl), camera.WithClipPlanes(0.1, 100))
	return cam.Uniform(200, 200)
}

func testGaussian(pos mgl32.Vec3) splat.Gaussian {
	return splat.Gaussian{
		Position: pos,
		Scale:    mgl32.Vec3{0.1, 0.1, 0.1},
		Rotation: mgl32.QuatIdent(),
		Opacity:  0.8,
		SH:       []float32{1, 0, -1},
	}
}

var testSettings = splat.GPURenderSettings{GaussianScaling: 1, NumGaussians: 1, SHStride: 3}

func TestProjectCentredGaussian(t *testing.T) {
	cam := testCamera()
	g := testGaussian(mgl32.Vec3{})
	sp, depth, ok := Project(g.ToGPU(), g.SH, cam, testSettings)
	require.True(t, ok)

	assert.InDelta(t, 10, depth, 1e-4)
	assert.InDelta(t, 0, sp.Center[0], 1e-5)
	assert.InDelta(t, 0, sp.Center[1], 1e-5)

	// an isotropic Gaussian projects to a circle: sigma_px = focal * scale / depth
	sigma := float64(cam.Focal[0]) * 0.1 / 10
	a := sigma*sigma + LowPass
	assert.InDelta(t, 1/a, sp.Conic[0], 1e-3)
	assert.InDelta(t, 0, sp.Conic[1], 1e-5)
	assert.InDelta(t, 1/a, sp.Conic[2], 1e-3)
	assert.Equal(t, float32(math.Ceil(3*math.Sqrt(a+math.Sqrt(0.1)))), sp.Conic[3])
	assert.InDelta(t, 2*sp.Conic[3]/200, sp.Extent[0], 1e-6)

	assert.InDelta(t, shC0+0.5, sp.Color[0], 1e-6)
	assert.InDelta(t, 0.5, sp.Color[1], 1e-6)
	assert.InDelta(t, max(-shC0+0.5, 0), sp.Color[2], 1e-6)
	assert.Equal(t, float32(0.8), sp.Color[3])
}

func TestProjectCulls(t *testing.T) {
	cam := testCamera()
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	tests := []struct {
		name   string
		mutate func(*splat.GPUGaussian)
	}{
		{"transparent", func(g *splat.GPUGaussian) { g.PosOpacity[3] = 0 }},
		{"below alpha threshold", func(g *splat.GPUGaussian) { g.PosOpacity[3] = 0.5 / 255 }},
		{"nan opacity", func(g *splat.GPUGaussian) { g.PosOpacity[3] = nan }},
		{"behind camera", func(g *splat.GPUGaussian) { g.PosOpacity[2] = 20 }},
		{"inside near plane", func(g *splat.GPUGaussian) { g.PosOpacity[2] = 9.95 }},
		{"outside guard band", func(g *splat.GPUGaussian) { g.PosOpacity[0] = 8 }},
		{"zero rotation", func(g *splat.GPUGaussian) { g.Rotation = [4]float32{} }},
		{"nan position", func(g *splat.GPUGaussian) { g.PosOpacity[1] = nan }},
		{"infinite scale", func(g *splat.GPUGaussian) { g.Scale[0] = inf }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGaussian(mgl32.Vec3{}).ToGPU()
			tt.mutate(&g)
			_, _, ok := Project(g, []float32{0, 0, 0}, cam, testSettings)
			assert.False(t, ok)
		})
	}
}

func TestProjectUnnormalisedRotation(t *testing.T) {
	cam := testCamera()
	g := testGaussian(mgl32.Vec3{0.5, -0.25, 1})
	g.Scale = mgl32.Vec3{0.3, 0.05, 0.1}
	g.Rotation = mgl32.QuatRotate(0.7, mgl32.Vec3{1, 1, 0}.Normalize())

	gpu := g.ToGPU()
	want, _, ok := Project(gpu, g.SH, cam, testSettings)
	require.True(t, ok)

	for i := range gpu.Rotation {
		gpu.Rotation[i] *= 3
	}
	got, _, ok := Project(gpu, g.SH, cam, testSettings)
	require.True(t, ok)
	for i := range want.Conic {
		assert.InDelta(t, want.Conic[i], got.Conic[i], 1e-4)
	}
}

func TestEvalSHDegrees(t *testing.T) {
	sh := make([]float32, 3*16)
	sh[3*2] = 1 // degree 1, z term, red channel
	front := evalSH(sh, 1, mgl32.Vec3{0, 0, 1})
	back := evalSH(sh, 1, mgl32.Vec3{0, 0, -1})
	assert.InDelta(t, 0.5+shC1, front[0], 1e-6)
	assert.InDelta(t, max(0.5-shC1, 0), back[0], 1e-6)

	flat := evalSH(sh, 0, mgl32.Vec3{0, 0, 1})
	assert.InDelta(t, 0.5, flat[0], 1e-6, "degree 0 ignores higher bands")

	sh[3*15+1] = 1
	full := evalSH(sh, 3, mgl32.Vec3{-1, 0, 0})
	assert.InDelta(t, 0.5-shC3[6], full[1], 1e-6)
}

func buildStage(t *testing.T, gaussians []splat.Gaussian) (*Stage, *splat.BufferSet, *renderertest.Renderer, [2][]uint32) {
	t.Helper()
	r := renderertest.New(200, 200)
	r.HandleKernel(EntryPoint, NewCPUKernel(64, common.NewComputePool(2)).Run)

	cloud, err := splat.NewPointCloud(gaussians, 0)
	require.NoError(t, err)
	set, err := splat.NewBufferSet(r, cloud)
	require.NoError(t, err)

	keys, err := r.CreateBuffer("keys", uint64(4*len(gaussians)), 0)
	require.NoError(t, err)
	indices, err := r.CreateBuffer("indices", uint64(4*len(gaussians)), 0)
	require.NoError(t, err)

	stage, err := New(r, set, keys, indices, WithWorkgroupSize(64))
	require.NoError(t, err)
	return stage, set, r, [2][]uint32{r.Words(keys), r.Words(indices)}
}

func TestStageEncode(t *testing.T) {
	gaussians := make([]splat.Gaussian, 150)
	var wantValid []uint32
	for i := range gaussians {
		gaussians[i] = testGaussian(mgl32.Vec3{float32(i%10)*0.2 - 1, 0, float32(i) * -0.05})
		if i%3 == 0 {
			gaussians[i].Opacity = 0
		} else {
			wantValid = append(wantValid, uint32(i))
		}
	}
	stage, set, r, out := buildStage(t, gaussians)
	assert.Equal(t, uint32(3), stage.Workgroups())

	cam := testCamera()
	stage.WriteCamera(r, cam)
	require.NoError(t, r.BeginFrame())
	require.NoError(t, stage.Encode(r))
	require.NoError(t, r.EndFrame())

	count := r.Words(set.ValidCountBuffer())[0]
	require.Equal(t, uint32(len(wantValid)), count)

	got := slices.Clone(out[1][:count])
	slices.Sort(got)
	assert.Equal(t, wantValid, got)

	splatWords := r.Words(set.SplatBuffer())
	for slot := range count {
		index := out[1][slot]
		g := gaussians[index]
		want, depth, ok := Project(g.ToGPU(), g.SH, cam, set.Settings())
		require.True(t, ok)
		assert.Equal(t, splat.DepthKey(depth), out[0][slot])

		var sp splat.GPUSplat
		require.NoError(t, sp.Unmarshal(wordBytes(splatWords[index*12:(index+1)*12])))
		assert.Equal(t, want, sp)
	}

	cmds := r.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, [3]uint32{3, 1, 1}, cmds[0].Groups)
	assert.Equal(t, stage.PipelineKey(), cmds[0].Pipeline)
}

func TestStageRejectsWorkgroupSize(t *testing.T) {
	r := renderertest.New(1, 1)
	cloud, err := splat.NewPointCloud([]splat.Gaussian{testGaussian(mgl32.Vec3{})}, 0)
	require.NoError(t, err)
	set, err := splat.NewBufferSet(r, cloud)
	require.NoError(t, err)

	for _, size := range []uint32{0, 48, 512} {
		_, err := New(r, set, nil, nil, WithWorkgroupSize(size))
		assert.ErrorIs(t, err, ErrInvalidWorkgroupSize)
	}
}
