package frame

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/camera"
	"github.com/Carmen-Shannon/oxy-splat/engine/draw"
	"github.com/Carmen-Shannon/oxy-splat/engine/preprocess"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/renderertest"
	"github.com/Carmen-Shannon/oxy-splat/engine/sorter"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viewport = 256

// originCamera sits at the origin looking down -Z, so a Gaussian at (x, y, -d) has depth d.
func originCamera() camera.GPUCameraUniform {
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1, 0.01, 1000)
	return camera.NewGPUCameraUniform(mgl32.Ident4(), proj, mgl32.Vec3{}, viewport, viewport)
}

func gaussianAt(x, y, depth, opacity float32) splat.Gaussian {
	return splat.Gaussian{
		Position: mgl32.Vec3{x, y, -depth},
		Scale:    mgl32.Vec3{0.05, 0.05, 0.05},
		Rotation: mgl32.QuatIdent(),
		Opacity:  opacity,
		SH:       []float32{0.2, 0.4, 0.6},
	}
}

// randomScene scatters n Gaussians with depths uniform in [0, 100] inside the view cone.
func randomScene(n int, seed uint64) []splat.Gaussian {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]splat.Gaussian, n)
	for i := range out {
		d := rng.Float32() * 100
		x := (rng.Float32() - 0.5) * 0.8 * d
		y := (rng.Float32() - 0.5) * 0.8 * d
		out[i] = gaussianAt(x, y, d, 0.2+0.8*rng.Float32())
	}
	return out
}

// newFakeOrchestrator builds an orchestrator on the in-memory renderer, with the CPU kernels
// serving every compute dispatch.
func newFakeOrchestrator(t *testing.T, gaussians []splat.Gaussian, options ...OrchestratorOption) (*Orchestrator, *renderertest.Renderer) {
	t.Helper()
	cloud, err := splat.NewPointCloud(gaussians, 0)
	require.NoError(t, err)

	r := renderertest.New(viewport, viewport)
	o, err := New(r, cloud, options...)
	require.NoError(t, err)

	pool := common.NewComputePool(4)
	r.HandleKernel(preprocess.EntryPoint, preprocess.NewCPUKernel(o.Config().PreprocessWorkgroupSize, pool).Run)
	sortKernels, err := sorter.NewCPUKernels(o.Config().Sort, pool)
	require.NoError(t, err)
	for _, kernel := range []string{sorter.KernelSetup, sorter.KernelHistogram, sorter.KernelScan, sorter.KernelScatter} {
		r.HandleKernel(kernel, sortKernels.Run)
	}
	return o, r
}

// expected projects every Gaussian on the CPU and returns the valid indices with their depths.
func expected(o *Orchestrator, gaussians []splat.Gaussian, cam camera.GPUCameraUniform) map[uint32]float32 {
	valid := make(map[uint32]float32)
	for i, g := range gaussians {
		if _, depth, ok := preprocess.Project(g.ToGPU(), g.SH, cam, o.BufferSet().Settings()); ok {
			valid[uint32(i)] = depth
		}
	}
	return valid
}

// sortedIndices returns the first count values of the sorter's result slot.
func sortedIndices(o *Orchestrator, r *renderertest.Renderer) []uint32 {
	count := r.Words(o.BufferSet().ValidCountBuffer())[0]
	return slices.Clone(r.Words(o.Sorter().Values(o.Sorter().ResultSlot()))[:count])
}

func TestStages(t *testing.T) {
	assert.Equal(t, []Stage{StageClearCounters, StagePreprocess, StagePropagateCount, StageSort, StageDraw}, Stages())
	names := make([]string, 0, len(Stages()))
	for _, s := range Stages() {
		names = append(names, s.String())
	}
	assert.Equal(t, []string{"clear-counters", "preprocess", "propagate-count", "sort", "draw"}, names)
	assert.Equal(t, "Stage(9)", Stage(9).String())
}

func TestNewRejectsMismatchedContracts(t *testing.T) {
	cloud, err := splat.NewPointCloud(randomScene(10, 1), 0)
	require.NoError(t, err)

	tests := []struct {
		name    string
		options []OrchestratorOption
		want    error
	}{
		{"16-bit keys", []OrchestratorOption{WithKeyBits(16)}, ErrKeyWidthMismatch},
		{"capacity below count", []OrchestratorOption{WithSortCapacity(9)}, ErrCapacityMismatch},
		{"digit too wide", []OrchestratorOption{WithDigitBits(9)}, sorter.ErrInvalidDigitBits},
		{"workgroup below radix", []OrchestratorOption{WithWorkgroupSize(128)}, sorter.ErrInvalidWorkgroupSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := renderertest.New(1, 1)
			_, err := New(r, cloud, tt.options...)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, r.Commands())
		})
	}
}

func TestConfigResolve(t *testing.T) {
	o, _ := newFakeOrchestrator(t, randomScene(40, 2), WithWorkgroupSize(64), WithDigitBits(4))
	cfg := o.Config()
	assert.Equal(t, uint32(40), cfg.Sort.Capacity)
	assert.Equal(t, uint32(64), cfg.PreprocessWorkgroupSize)
	assert.Equal(t, uint32(4), cfg.Sort.DigitBits)
}

func TestFrameCommandStream(t *testing.T) {
	var observed []Stage
	o, r := newFakeOrchestrator(t, randomScene(300, 3), WithStageObserver(func(s Stage) {
		observed = append(observed, s)
	}))
	require.NoError(t, o.FrameUniform(r, originCamera()))
	assert.Equal(t, Stages(), observed)
	assert.Equal(t, 1, r.Frames())
	assert.Equal(t, 1, r.Presents())
	assert.Zero(t, r.Readbacks(), "the frame path never reads back")

	set, sort := o.BufferSet(), o.Sorter()
	var kinds []renderertest.CommandKind
	for _, c := range r.Commands() {
		kinds = append(kinds, c.Kind)
	}
	want := []renderertest.CommandKind{
		renderertest.CommandClear, renderertest.CommandClear, renderertest.CommandClear,
		renderertest.CommandDispatch,
		renderertest.CommandCopy, renderertest.CommandCopy,
		renderertest.CommandDispatch,
	}
	for range sort.Config().Passes() * 3 {
		want = append(want, renderertest.CommandDispatchIndirect)
	}
	want = append(want, renderertest.CommandBeginRenderPass, renderertest.CommandDraw, renderertest.CommandEndRenderPass)
	assert.Equal(t, want, kinds)

	cmds := r.Commands()
	assert.Same(t, set.ValidCountBuffer(), cmds[0].Dst)
	assert.Same(t, sort.Info(), cmds[1].Dst)
	assert.Same(t, sort.Dispatch(), cmds[2].Dst)
	assert.Equal(t, o.Preprocess().PipelineKey(), cmds[3].Pipeline)

	toDraw, toSort := cmds[4], cmds[5]
	assert.Same(t, set.ValidCountBuffer(), toDraw.Src)
	assert.Same(t, set.DrawArgsBuffer(), toDraw.Dst)
	assert.Equal(t, uint64(splat.InstanceCountOffset), toDraw.DstOffset)
	assert.Same(t, set.ValidCountBuffer(), toSort.Src)
	assert.Same(t, sort.Info(), toSort.Dst)
	assert.Equal(t, uint64(sorter.KeysSizeOffset), toSort.DstOffset)

	draws := r.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, draw.PipelineKey, draws[0].Pipeline)
	assert.Same(t, sort.Values(sort.ResultSlot()), draws[0].BindGroups[0].Buffer(1))
}

func TestFrameScenario(t *testing.T) {
	gaussians := randomScene(1000, 42)
	cam := originCamera()

	tests := []struct {
		name    string
		options []OrchestratorOption
	}{
		{"default", nil},
		{"4-bit digits", []OrchestratorOption{WithDigitBits(4), WithWorkgroupSize(64)}},
		{"7-bit digits, odd passes", []OrchestratorOption{WithDigitBits(7), WithWorkgroupSize(128), WithPreprocessWorkgroupSize(32)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, r := newFakeOrchestrator(t, gaussians, tt.options...)
			require.NoError(t, o.FrameUniform(r, cam))

			valid := expected(o, gaussians, cam)
			require.NotEmpty(t, valid)
			count := r.Words(o.BufferSet().ValidCountBuffer())[0]
			assert.Equal(t, uint32(len(valid)), count)
			assert.Equal(t, count, r.Draws()[0].InstanceCount)
			assert.Equal(t, count, r.Words(o.Sorter().Info())[sorter.KeysSizeOffset/4])

			order := sortedIndices(o, r)
			seen := make(map[uint32]bool, len(order))
			for _, idx := range order {
				_, ok := valid[idx]
				require.True(t, ok, "index %d is not a valid Gaussian", idx)
				require.False(t, seen[idx], "index %d drawn twice", idx)
				seen[idx] = true
			}

			keys := r.Words(o.Sorter().Keys(o.Sorter().ResultSlot()))[:count]
			assert.True(t, slices.IsSorted(keys))
			for i := 1; i < len(order); i++ {
				assert.GreaterOrEqual(t, valid[order[i-1]], valid[order[i]], "slot %d is nearer than slot %d", i-1, i)
			}
		})
	}
}

func TestFrameCountPropagation(t *testing.T) {
	gaussians := randomScene(500, 7)
	var wantValid int
	for i := range gaussians {
		if i%4 == 0 {
			gaussians[i].Opacity = 0
		}
	}
	o, r := newFakeOrchestrator(t, gaussians)
	cam := originCamera()
	wantValid = len(expected(o, gaussians, cam))
	require.NoError(t, o.FrameUniform(r, cam))

	order := sortedIndices(o, r)
	assert.Len(t, order, wantValid)
	for _, idx := range order {
		assert.NotZero(t, idx%4, "zero-opacity Gaussian %d was drawn", idx)
	}
	var args splat.GPUDrawIndirectArgs
	data, err := r.ReadBuffer(o.BufferSet().DrawArgsBuffer(), 0, uint64(args.Size()))
	require.NoError(t, err)
	require.NoError(t, args.Unmarshal(data))
	assert.Equal(t, splat.GPUDrawIndirectArgs{VertexCount: splat.QuadVertexCount, InstanceCount: uint32(wantValid)}, args)
}

func TestFrameIdempotent(t *testing.T) {
	gaussians := randomScene(400, 11)
	o, r := newFakeOrchestrator(t, gaussians)
	cam := originCamera()

	require.NoError(t, o.FrameUniform(r, cam))
	first := sortedIndices(o, r)
	require.NoError(t, o.FrameUniform(r, cam))
	second := sortedIndices(o, r)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, r.Presents())
	draws := r.Draws()
	require.Len(t, draws, 2)
	assert.Equal(t, draws[0].InstanceCount, draws[1].InstanceCount)
}

func TestFrameZeroSplats(t *testing.T) {
	gaussians := randomScene(64, 5)
	for i := range gaussians {
		gaussians[i].Opacity = 0
	}
	o, r := newFakeOrchestrator(t, gaussians)
	require.NoError(t, o.FrameUniform(r, originCamera()))

	assert.Equal(t, uint32(0), r.Words(o.BufferSet().ValidCountBuffer())[0])
	for _, c := range r.Commands() {
		if c.Kind == renderertest.CommandDispatchIndirect {
			assert.Equal(t, uint32(0), c.Groups[0], "%s must launch no workgroups", c.Pipeline)
		}
	}
	draws := r.Draws()
	require.Len(t, draws, 1)
	assert.Zero(t, draws[0].InstanceCount)
	assert.Equal(t, 1, r.Presents())
}

func TestFrameValidEqualsCapacity(t *testing.T) {
	gaussians := make([]splat.Gaussian, 256)
	for i := range gaussians {
		gaussians[i] = gaussianAt(0, 0, float32(i%17)+1, 0.9)
	}
	o, r := newFakeOrchestrator(t, gaussians)
	require.NoError(t, o.FrameUniform(r, originCamera()))

	order := sortedIndices(o, r)
	require.Len(t, order, int(o.Config().Sort.Capacity))
	sorted := slices.Clone(order)
	slices.Sort(sorted)
	for i, idx := range sorted {
		assert.Equal(t, uint32(i), idx)
	}
	for i := 1; i < len(order); i++ {
		assert.GreaterOrEqual(t, gaussians[order[i-1]].Position.Z()*-1, gaussians[order[i]].Position.Z()*-1)
	}
}

func TestFrameWithCamera(t *testing.T) {
	gaussians := randomScene(100, 13)
	for i := range gaussians {
		gaussians[i].Position = gaussians[i].Position.Mul(0.02)
	}
	o, r := newFakeOrchestrator(t, gaussians)
	ctrl := camera.NewOrbitController(camera.WithRadius(5), camera.WithElevation(0))
	cam := camera.NewCamera(camera.WithController(ctrl), camera.WithClipPlanes(0.1, 100))

	require.NoError(t, o.Frame(r, cam))
	assert.NotEmpty(t, sortedIndices(o, r))
}

func TestFrameSettingsChange(t *testing.T) {
	o, r := newFakeOrchestrator(t, randomScene(10, 17))
	o.SetGaussianScaling(r, 2)
	assert.Equal(t, float32(2), o.BufferSet().Settings().GaussianScaling)
	o.SetSHDegree(r, 3)
	assert.Equal(t, uint32(0), o.BufferSet().Settings().SHDegree, "clamped to the cloud degree")
}
