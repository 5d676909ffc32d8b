package preprocess

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/camera"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/shader"
	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
	"github.com/cogentcore/webgpu/wgpu"
)

//go:embed assets/preprocess.wgsl
var preprocessSource string

// EntryPoint is the WGSL entry point of the preprocess kernel.
const EntryPoint = "preprocess"

// ErrInvalidWorkgroupSize is returned for a workgroup size that is not a power of two in 1..256.
var ErrInvalidWorkgroupSize = errors.New("preprocess: workgroup size must be a power of two in 1..256")

// Bindings, grouped as (camera, settings), (gaussians, sh, splats), (valid count, keys, indices).
const (
	bindingCamera     = 0
	bindingSettings   = 1
	bindingGaussians  = 0
	bindingSH         = 1
	bindingSplats     = 2
	bindingValidCount = 0
	bindingKeys       = 1
	bindingIndices    = 2
)

// Stage projects every Gaussian once per frame. A valid Gaussian writes its splat in place,
// takes a slot from the Valid Count with an atomic add, and writes its depth key and index at
// that slot. Invalid Gaussians write nothing.
type Stage struct {
	key           string
	workgroupSize uint32
	count         uint32

	frameGroup  bind_group_provider.BindGroupProvider
	splatGroup  bind_group_provider.BindGroupProvider
	outputGroup bind_group_provider.BindGroupProvider
}

// New builds the preprocess kernel and binds it to a buffer set and the sort input buffers.
//
// Parameters:
//   - r: the renderer
//   - set: the splat buffers
//   - keys: receives one depth key per valid splat, at least set.Capacity() words
//   - indices: receives the Gaussian index next to each key, at least set.Capacity() words
//   - options: functional options
//
// Returns:
//   - *Stage: the stage
//   - error: ErrInvalidWorkgroupSize, or an error from shader or bind group creation
func New(r renderer.Renderer, set *splat.BufferSet, keys, indices *wgpu.Buffer, options ...StageOption) (*Stage, error) {
	s := &Stage{workgroupSize: 256, count: set.Capacity()}
	for _, opt := range options {
		opt(s)
	}
	if s.workgroupSize == 0 || s.workgroupSize > 256 || !common.IsPowerOfTwo(s.workgroupSize) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkgroupSize, s.workgroupSize)
	}
	s.key = fmt.Sprintf("%s_w%d", EntryPoint, s.workgroupSize)

	includes := splat.Includes()
	includes[camera.IncludeCameraUniform] = camera.GPUCameraUniformSource
	shdr, err := shader.NewShader(s.key, shader.ShaderTypeCompute, preprocessSource,
		shader.WithIncludes(includes),
		shader.WithTemplateData(struct{ WorkgroupSize uint32 }{s.workgroupSize}))
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	if err := r.RegisterPipelines(pipeline.NewPipeline(s.key, pipeline.PipelineTypeCompute, pipeline.WithComputeShader(shdr))); err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	s.frameGroup = bind_group_provider.NewBindGroupProvider("preprocess frame",
		bind_group_provider.WithBuffer(bindingSettings, set.SettingsBuffer()))
	s.splatGroup = bind_group_provider.NewBindGroupProvider("preprocess splats",
		bind_group_provider.WithBuffers(map[int]*wgpu.Buffer{
			bindingGaussians: set.GaussianBuffer(),
			bindingSH:        set.SHBuffer(),
			bindingSplats:    set.SplatBuffer(),
		}))
	s.outputGroup = bind_group_provider.NewBindGroupProvider("preprocess output",
		bind_group_provider.WithBuffers(map[int]*wgpu.Buffer{
			bindingValidCount: set.ValidCountBuffer(),
			bindingKeys:       keys,
			bindingIndices:    indices,
		}))
	for g, p := range []bind_group_provider.BindGroupProvider{s.frameGroup, s.splatGroup, s.outputGroup} {
		if err := r.InitBindGroup(p, shdr.BindGroupLayoutDescriptor(g), nil, nil); err != nil {
			s.Release()
			return nil, fmt.Errorf("preprocess: bind group %d: %w", g, err)
		}
	}

	common.Logger().Debug("preprocess: created", "gaussians", s.count, "workgroups", s.Workgroups())
	return s, nil
}

// Workgroups returns the fixed dispatch size, ceil(N / workgroup size).
func (s *Stage) Workgroups() uint32 {
	return common.DivCeil(s.count, s.workgroupSize)
}

// PipelineKey returns the key of the preprocess pipeline.
func (s *Stage) PipelineKey() string {
	return s.key
}

// CameraBuffer returns the camera uniform buffer owned by the stage.
func (s *Stage) CameraBuffer() *wgpu.Buffer {
	return s.frameGroup.Buffer(bindingCamera)
}

// WriteCamera queues the camera uniform for the next frame.
//
// Parameters:
//   - r: the renderer
//   - u: the camera uniform
func (s *Stage) WriteCamera(r renderer.Renderer, u camera.GPUCameraUniform) {
	r.WriteBuffer(s.CameraBuffer(), 0, u.Marshal())
}

// Encode records the preprocess dispatch. The Valid Count must be zero beforehand.
//
// Parameters:
//   - r: the renderer with a frame in progress
//
// Returns:
//   - error: an error from the renderer
func (s *Stage) Encode(r renderer.Renderer) error {
	if err := r.DispatchCompute(s.key, [3]uint32{s.Workgroups(), 1, 1}, s.frameGroup, s.splatGroup, s.outputGroup); err != nil {
		return fmt.Errorf("preprocess: %w", err)
	}
	return nil
}

// Release releases the bind groups and the camera buffer. Shared buffers are left alone.
func (s *Stage) Release() {
	for _, p := range []bind_group_provider.BindGroupProvider{s.frameGroup, s.splatGroup, s.outputGroup} {
		if p != nil {
			p.Release()
		}
	}
}
