package draw

import (
	"encoding/binary"
	"testing"

	"github.com/Carmen-Shannon/oxy-splat/engine/renderer"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/renderertest"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStage(t *testing.T, n int) (*Stage, *splat.BufferSet, *renderertest.Renderer) {
	t.Helper()
	r := renderertest.New(64, 64)
	gaussians := make([]splat.Gaussian, n)
	for i := range gaussians {
		gaussians[i] = splat.Gaussian{
			Position: mgl32.Vec3{0, 0, float32(-i)},
			Scale:    mgl32.Vec3{1, 1, 1},
			Rotation: mgl32.QuatIdent(),
			Opacity:  0.5,
			SH:       []float32{0, 0, 0},
		}
	}
	cloud, err := splat.NewPointCloud(gaussians, 0)
	require.NoError(t, err)
	set, err := splat.NewBufferSet(r, cloud)
	require.NoError(t, err)
	indices, err := r.CreateBuffer("sorted indices", uint64(4*n), 0)
	require.NoError(t, err)

	stage, err := New(r, set, indices)
	require.NoError(t, err)
	return stage, set, r
}

func TestEncodeDrawsValidCount(t *testing.T) {
	stage, set, r := buildStage(t, 8)

	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, 5)
	r.WriteBuffer(set.DrawArgsBuffer(), splat.InstanceCountOffset, count)

	require.NoError(t, r.BeginFrame())
	require.NoError(t, stage.Encode(r))
	require.NoError(t, r.EndFrame())

	kinds := []renderertest.CommandKind{}
	for _, c := range r.Commands() {
		kinds = append(kinds, c.Kind)
	}
	assert.Equal(t, []renderertest.CommandKind{
		renderertest.CommandBeginRenderPass,
		renderertest.CommandDraw,
		renderertest.CommandEndRenderPass,
	}, kinds)

	draws := r.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, PipelineKey, draws[0].Pipeline)
	assert.Equal(t, uint32(splat.QuadVertexCount), draws[0].VertexCount)
	assert.Equal(t, uint32(5), draws[0].InstanceCount)
	require.Len(t, draws[0].BindGroups, 1)
	assert.Same(t, set.SplatBuffer(), draws[0].BindGroups[0].Buffer(bindingSplats))
}

func TestEncodeZeroInstances(t *testing.T) {
	stage, _, r := buildStage(t, 3)
	require.NoError(t, r.BeginFrame())
	require.NoError(t, stage.Encode(r))
	require.NoError(t, r.EndFrame())

	draws := r.Draws()
	require.Len(t, draws, 1)
	assert.Zero(t, draws[0].InstanceCount)
}

func TestEncodeOutsideFrame(t *testing.T) {
	stage, _, r := buildStage(t, 1)
	assert.ErrorIs(t, stage.Encode(r), renderer.ErrNoFrame)
	assert.Empty(t, r.Draws())
}

func TestPipelineBlendsPremultiplied(t *testing.T) {
	_, _, r := buildStage(t, 1)
	p := r.Pipeline(PipelineKey)
	require.NotNil(t, p)
	assert.True(t, p.BlendEnabled())
	assert.Equal(t, pipeline.PremultipliedOver(), p.BlendState())
}

func TestAlpha(t *testing.T) {
	sp := splat.GPUSplat{
		Conic: [4]float32{0.25, 0, 0.25, 6},
		Color: [4]float32{1, 1, 1, 0.8},
	}
	assert.InDelta(t, 0.8, Alpha(sp, mgl32.Vec2{}), 1e-6)
	assert.InDelta(t, 0.8*0.8824969, Alpha(sp, mgl32.Vec2{1, 0}), 1e-5)
	assert.Less(t, Alpha(sp, mgl32.Vec2{1, 0}), Alpha(sp, mgl32.Vec2{}))
	assert.Zero(t, Alpha(sp, mgl32.Vec2{20, 20}), "far tail is discarded")

	opaque := sp
	opaque.Color[3] = 1
	assert.InDelta(t, 0.99, Alpha(opaque, mgl32.Vec2{}), 1e-6, "alpha is capped")
}
