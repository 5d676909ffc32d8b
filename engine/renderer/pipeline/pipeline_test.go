package pipeline

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
)

func TestPremultipliedOver(t *testing.T) {
	b := PremultipliedOver()
	for _, c := range []wgpu.BlendComponent{b.Color, b.Alpha} {
		assert.Equal(t, wgpu.BlendFactorOne, c.SrcFactor)
		assert.Equal(t, wgpu.BlendFactorOneMinusSrcAlpha, c.DstFactor)
		assert.Equal(t, wgpu.BlendOperationAdd, c.Operation)
	}
}

func TestNewPipelineDefaults(t *testing.T) {
	p := NewPipeline("splat_draw", PipelineTypeRender, WithBlendEnabled(true))

	assert.Equal(t, "splat_draw", p.PipelineKey())
	assert.Equal(t, PipelineTypeRender, p.Type())
	assert.True(t, p.BlendEnabled())
	assert.Equal(t, wgpu.PrimitiveTopologyTriangleList, p.Topology())
	assert.Equal(t, wgpu.CullModeNone, p.CullMode())
	assert.Equal(t, PremultipliedOver(), p.BlendState())
	assert.Nil(t, p.Shader(shader.ShaderTypeCompute))
	assert.Nil(t, p.Pipeline().(*wgpu.RenderPipeline))
}
