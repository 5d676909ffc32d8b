package pipeline

import (
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// PipelineType distinguishes compute pipelines from render pipelines.
type PipelineType int

const (
	// PipelineTypeCompute is a single-stage compute pipeline.
	PipelineTypeCompute PipelineType = iota

	// PipelineTypeRender is a vertex + fragment pipeline.
	PipelineTypeRender
)

// pipeline is the implementation of the Pipeline interface.
type pipeline struct {
	pipelineType PipelineType
	pipelineKey  string

	vertexShader, fragmentShader, computeShader shader.Shader

	renderPipeline  *wgpu.RenderPipeline
	computePipeline *wgpu.ComputePipeline

	blendEnabled bool
	cullMode     wgpu.CullMode
	topology     wgpu.PrimitiveTopology
	frontFace    wgpu.FrontFace
	writeMask    wgpu.ColorWriteMask
	blendState   *wgpu.BlendState
}

// Pipeline is the CPU-side description of a GPU pipeline plus the GPU object once the
// renderer has registered it. Render-state getters are ignored for compute pipelines.
type Pipeline interface {
	// Type returns whether this is a compute or render pipeline.
	//
	// Returns:
	//   - PipelineType: PipelineTypeCompute or PipelineTypeRender
	Type() PipelineType

	// PipelineKey returns the unique key the renderer caches the pipeline under.
	//
	// Returns:
	//   - string: the pipeline key
	PipelineKey() string

	// Shader returns the shader attached for a stage, or nil.
	//
	// Parameters:
	//   - shaderType: the stage to look up
	//
	// Returns:
	//   - shader.Shader: the attached shader or nil
	Shader(shaderType shader.ShaderType) shader.Shader

	// Pipeline returns the GPU pipeline object: *wgpu.RenderPipeline or *wgpu.ComputePipeline.
	// Nil until the renderer registers the pipeline.
	//
	// Returns:
	//   - any: the GPU pipeline
	Pipeline() any

	// BlendEnabled reports whether the colour target blends.
	BlendEnabled() bool

	// CullMode returns the face culling mode.
	CullMode() wgpu.CullMode

	// Topology returns the primitive topology.
	Topology() wgpu.PrimitiveTopology

	// FrontFace returns the winding considered front facing.
	FrontFace() wgpu.FrontFace

	// WriteMask returns the colour write mask.
	WriteMask() wgpu.ColorWriteMask

	// BlendState returns the colour target blend state used when BlendEnabled is true.
	BlendState() *wgpu.BlendState

	// SetRenderPipeline stores the created render pipeline.
	//
	// Parameters:
	//   - p: the GPU render pipeline
	SetRenderPipeline(p *wgpu.RenderPipeline)

	// SetComputePipeline stores the created compute pipeline.
	//
	// Parameters:
	//   - p: the GPU compute pipeline
	SetComputePipeline(p *wgpu.ComputePipeline)

	// Release releases the GPU pipeline object, if any.
	Release()
}

var _ Pipeline = &pipeline{}

// PremultipliedOver returns the "over" blend for premultiplied colour: src One,
// dst OneMinusSrcAlpha, on both the colour and the alpha channel. Drawing back to
// front with this blend accumulates translucency correctly.
//
// Returns:
//   - *wgpu.BlendState: a new blend state
func PremultipliedOver() *wgpu.BlendState {
	over := wgpu.BlendComponent{
		SrcFactor: wgpu.BlendFactorOne,
		DstFactor: wgpu.BlendFactorOneMinusSrcAlpha,
		Operation: wgpu.BlendOperationAdd,
	}
	return &wgpu.BlendState{Color: over, Alpha: over}
}

// NewPipeline creates a pipeline description with defaults: triangle list, no culling,
// CCW front faces, full write mask, blending off with the premultiplied over state ready.
//
// Parameters:
//   - pipelineKey: a unique key for caching
//   - pipelineType: compute or render
//   - opts: functional options
//
// Returns:
//   - Pipeline: the pipeline description
func NewPipeline(pipelineKey string, pipelineType PipelineType, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:  pipelineKey,
		pipelineType: pipelineType,
		cullMode:     wgpu.CullModeNone,
		topology:     wgpu.PrimitiveTopologyTriangleList,
		frontFace:    wgpu.FrontFaceCCW,
		writeMask:    wgpu.ColorWriteMaskAll,
		blendState:   PremultipliedOver(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) Type() PipelineType {
	return p.pipelineType
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Shader(shaderType shader.ShaderType) shader.Shader {
	switch shaderType {
	case shader.ShaderTypeVertex:
		return p.vertexShader
	case shader.ShaderTypeFragment:
		return p.fragmentShader
	case shader.ShaderTypeCompute:
		return p.computeShader
	default:
		return nil
	}
}

func (p *pipeline) Pipeline() any {
	switch p.pipelineType {
	case PipelineTypeRender:
		return p.renderPipeline
	case PipelineTypeCompute:
		return p.computePipeline
	default:
		return nil
	}
}

func (p *pipeline) BlendEnabled() bool {
	return p.blendEnabled
}

func (p *pipeline) CullMode() wgpu.CullMode {
	return p.cullMode
}

func (p *pipeline) Topology() wgpu.PrimitiveTopology {
	return p.topology
}

func (p *pipeline) FrontFace() wgpu.FrontFace {
	return p.frontFace
}

func (p *pipeline) WriteMask() wgpu.ColorWriteMask {
	return p.writeMask
}

func (p *pipeline) BlendState() *wgpu.BlendState {
	return p.blendState
}

func (p *pipeline) SetRenderPipeline(rp *wgpu.RenderPipeline) {
	p.renderPipeline = rp
}

func (p *pipeline) SetComputePipeline(cp *wgpu.ComputePipeline) {
	p.computePipeline = cp
}

func (p *pipeline) Release() {
	if p.renderPipeline != nil {
		p.renderPipeline.Release()
		p.renderPipeline = nil
	}
	if p.computePipeline != nil {
		p.computePipeline.Release()
		p.computePipeline = nil
	}
}
