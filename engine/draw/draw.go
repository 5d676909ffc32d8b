package draw

import (
	_ "embed"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

//go:embed assets/splat_varyings.wgsl
var splatVaryingsSource string

//go:embed assets/draw_vertex.wgsl
var drawVertexSource string

//go:embed assets/draw_fragment.wgsl
var drawFragmentSource string

// PipelineKey is the key of the splat render pipeline.
const PipelineKey = "splat_draw"

// IncludeSplatVaryings is the include name of the vertex to fragment interface.
const IncludeSplatVaryings = "splat_varyings"

const (
	bindingSplats        = 0
	bindingSortedIndices = 1
)

// Stage draws every valid splat as a screen-aligned quad with one indirect draw. Instance i
// reads splat sortedIndices[i], so the sort order is the draw order; blending is
// premultiplied over, so the order must be back to front.
type Stage struct {
	drawArgs *wgpu.Buffer
	group    bind_group_provider.BindGroupProvider
}

// New builds the render pipeline and binds the splats and the sorted index buffer.
//
// Parameters:
//   - r: the renderer
//   - set: the splat buffers; the draw arguments are read from set.DrawArgsBuffer()
//   - sortedIndices: the value buffer of the sorter's result slot
//
// Returns:
//   - *Stage: the stage
//   - error: an error from shader, pipeline or bind group creation
func New(r renderer.Renderer, set *splat.BufferSet, sortedIndices *wgpu.Buffer) (*Stage, error) {
	includes := splat.Includes()
	includes[IncludeSplatVaryings] = splatVaryingsSource
	vs, err := shader.NewShader(PipelineKey+"_vs", shader.ShaderTypeVertex, drawVertexSource, shader.WithIncludes(includes))
	if err != nil {
		return nil, fmt.Errorf("draw: %w", err)
	}
	fs, err := shader.NewShader(PipelineKey+"_fs", shader.ShaderTypeFragment, drawFragmentSource, shader.WithIncludes(includes))
	if err != nil {
		return nil, fmt.Errorf("draw: %w", err)
	}

	p := pipeline.NewPipeline(PipelineKey, pipeline.PipelineTypeRender,
		pipeline.WithVertexShader(vs),
		pipeline.WithFragmentShader(fs),
		pipeline.WithTopology(wgpu.PrimitiveTopologyTriangleList),
		pipeline.WithCullMode(wgpu.CullModeNone),
		pipeline.WithBlendEnabled(true),
		pipeline.WithBlendState(pipeline.PremultipliedOver()))
	if err := r.RegisterPipelines(p); err != nil {
		return nil, fmt.Errorf("draw: %w", err)
	}

	s := &Stage{drawArgs: set.DrawArgsBuffer()}
	s.group = bind_group_provider.NewBindGroupProvider("splat draw",
		bind_group_provider.WithBuffers(map[int]*wgpu.Buffer{
			bindingSplats:        set.SplatBuffer(),
			bindingSortedIndices: sortedIndices,
		}))
	if err := r.InitBindGroup(s.group, vs.BindGroupLayoutDescriptor(0), nil, nil); err != nil {
		return nil, fmt.Errorf("draw: bind group: %w", err)
	}

	common.Logger().Debug("draw: created", "pipeline", PipelineKey)
	return s, nil
}

// Encode records the render pass: clear, one indirect draw of QuadVertexCount vertices per
// valid splat, end. The instance count comes from the GPU.
//
// Parameters:
//   - r: the renderer with a frame in progress
//
// Returns:
//   - error: an error from the renderer
func (s *Stage) Encode(r renderer.Renderer) error {
	if err := r.BeginRenderPass(); err != nil {
		return fmt.Errorf("draw: %w", err)
	}
	defer r.EndRenderPass()
	if err := r.DrawIndirect(PipelineKey, s.drawArgs, 0, s.group); err != nil {
		return fmt.Errorf("draw: %w", err)
	}
	return nil
}

// Release releases the bind group. The buffers belong to the splat set and the sorter.
func (s *Stage) Release() {
	if s.group != nil {
		s.group.Release()
	}
}

// Alpha evaluates the fragment shader's opacity for a pixel offset from the splat centre.
// Zero means the fragment is discarded.
//
// Parameters:
//   - sp: the splat
//   - offsetPx: the pixel offset, y up
//
// Returns:
//   - float32: the opacity written before premultiplication
func Alpha(sp splat.GPUSplat, offsetPx mgl32.Vec2) float32 {
	dx, dy := offsetPx.X(), offsetPx.Y()
	power := -0.5*(sp.Conic[0]*dx*dx+sp.Conic[2]*dy*dy) - sp.Conic[1]*dx*dy
	if power > 0 {
		return 0
	}
	alpha := min(0.99, sp.Color[3]*float32(math.Exp(float64(power))))
	if alpha < 1.0/255.0 {
		return 0
	}
	return alpha
}
