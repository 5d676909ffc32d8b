package renderer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

var (
	// ErrNoRenderTarget is returned by NewRenderer when neither a surface nor a headless size is configured.
	ErrNoRenderTarget = errors.New("renderer: no surface and no headless size configured")

	// ErrPipelineNotFound is returned when a dispatch or draw names a pipeline that was never registered.
	ErrPipelineNotFound = errors.New("renderer: pipeline not found")

	// ErrNoFrame is returned when a frame command is issued outside BeginFrame / EndFrame.
	ErrNoFrame = errors.New("renderer: no frame in progress")
)

// Surface is the source of a presentable surface. window.Window satisfies it.
type Surface interface {
	SurfaceDescriptor() *wgpu.SurfaceDescriptor
	Width() int
	Height() int
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType RendererBackendType
	backend     RendererBackend

	// Pre-creation config collected from builder options
	surface              Surface
	headlessWidth        int
	headlessHeight       int
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	clearColor           wgpu.Color
}

// Renderer is the GPU front end used by the splat stages. Every frame command is recorded
// into one command encoder between BeginFrame and EndFrame and submitted once.
//
// Pipelines are addressed by key. Bind groups are passed in group order: the first provider
// is bound at group 0, the second at group 1 and so on.
type Renderer interface {
	// Pipeline retrieves the cached Pipeline associated with the given key, or nil.
	//
	// Parameters:
	//   - key: the unique identifier for the Pipeline to retrieve
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// RegisterPipelines creates the GPU pipeline objects (render or compute) and caches them by
	// PipelineKey. Pipelines whose keys are already registered are skipped.
	//
	// Parameters:
	//   - pipelines: the Pipelines to register
	//
	// Returns:
	//   - error: an error if pipeline creation fails
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// Resize reconfigures the render target for a new size.
	//
	// Parameters:
	//   - width: the new width in pixels
	//   - height: the new height in pixels
	Resize(width, height int)

	// TargetSize returns the current render target size in pixels.
	//
	// Returns:
	//   - int: width
	//   - int: height
	TargetSize() (int, int)

	// SetPresentMode sets the surface present mode. Takes effect on the next Resize.
	//
	// Parameters:
	//   - mode: the PresentMode to use
	SetPresentMode(mode PresentMode)

	// CreateBuffer allocates a GPU buffer. The size is rounded up to a multiple of 4 bytes.
	//
	// Parameters:
	//   - label: debug label
	//   - size: size in bytes
	//   - usage: buffer usage flags
	//
	// Returns:
	//   - *wgpu.Buffer: the created buffer
	//   - error: an error if allocation fails
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)

	// InitBindGroup creates the bind group described by a layout descriptor and stores it on the
	// provider. Buffers the provider already holds are bound as they are; missing buffers are
	// created with a usage derived from the binding type and owned by the provider.
	//
	// Parameters:
	//   - provider: the BindGroupProvider to store the created bind group on
	//   - descriptor: the layout descriptor defining the bind group entries
	//   - bufferUsageOverrides: extra usage flags ORed into created buffers, keyed by binding (nil safe)
	//   - bufferSizeOverrides: sizes used instead of MinBindingSize for created buffers, keyed by binding (nil safe)
	//
	// Returns:
	//   - error: an error if bind group creation fails
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// WriteBuffer queues a write of data into a buffer at a byte offset.
	//
	// Parameters:
	//   - buf: the destination buffer
	//   - offset: byte offset, a multiple of 4
	//   - data: the bytes to write, a multiple of 4 in length
	WriteBuffer(buf *wgpu.Buffer, offset uint64, data []byte)

	// WriteBuffers queues every staged provider write.
	//
	// Parameters:
	//   - writes: the writes to queue
	WriteBuffers(writes []bind_group_provider.BufferWrite)

	// BeginFrame acquires the render target and opens the frame's command encoder.
	//
	// Returns:
	//   - error: an error if the target could not be acquired
	BeginFrame() error

	// ClearBuffer records a zero fill of a buffer range.
	//
	// Parameters:
	//   - buf: the buffer to clear
	//   - offset: byte offset, a multiple of 4
	//   - size: byte count, a multiple of 4
	//
	// Returns:
	//   - error: ErrNoFrame outside a frame
	ClearBuffer(buf *wgpu.Buffer, offset, size uint64) error

	// CopyBuffer records a GPU-to-GPU copy.
	//
	// Parameters:
	//   - src: source buffer, needs CopySrc usage
	//   - srcOffset: byte offset into src
	//   - dst: destination buffer, needs CopyDst usage
	//   - dstOffset: byte offset into dst
	//   - size: byte count
	//
	// Returns:
	//   - error: ErrNoFrame outside a frame
	CopyBuffer(src *wgpu.Buffer, srcOffset uint64, dst *wgpu.Buffer, dstOffset uint64, size uint64) error

	// DispatchCompute records a compute pass with a fixed workgroup count.
	//
	// Parameters:
	//   - pipelineKey: the cached compute pipeline
	//   - workGroupCount: workgroups in x, y and z
	//   - bindGroups: providers bound at groups 0..n-1
	//
	// Returns:
	//   - error: ErrPipelineNotFound or ErrNoFrame
	DispatchCompute(pipelineKey string, workGroupCount [3]uint32, bindGroups ...bind_group_provider.BindGroupProvider) error

	// DispatchComputeIndirect records a compute pass whose workgroup count is read by the GPU from
	// three consecutive u32 values in a buffer.
	//
	// Parameters:
	//   - pipelineKey: the cached compute pipeline
	//   - indirect: the buffer holding the dispatch triple, needs Indirect usage
	//   - offset: byte offset of the triple, a multiple of 4
	//   - bindGroups: providers bound at groups 0..n-1
	//
	// Returns:
	//   - error: ErrPipelineNotFound or ErrNoFrame
	DispatchComputeIndirect(pipelineKey string, indirect *wgpu.Buffer, offset uint64, bindGroups ...bind_group_provider.BindGroupProvider) error

	// BeginRenderPass opens the frame's render pass, clearing the target.
	//
	// Returns:
	//   - error: ErrNoFrame outside a frame
	BeginRenderPass() error

	// DrawIndirect records a non-indexed draw whose arguments are read by the GPU from four u32
	// values (vertex_count, instance_count, first_vertex, first_instance).
	//
	// Parameters:
	//   - pipelineKey: the cached render pipeline
	//   - indirect: the buffer holding the draw arguments, needs Indirect usage
	//   - offset: byte offset of the arguments
	//   - bindGroups: providers bound at groups 0..n-1
	//
	// Returns:
	//   - error: ErrPipelineNotFound or ErrNoFrame
	DrawIndirect(pipelineKey string, indirect *wgpu.Buffer, offset uint64, bindGroups ...bind_group_provider.BindGroupProvider) error

	// EndRenderPass closes the render pass opened by BeginRenderPass.
	EndRenderPass()

	// EndFrame finishes the command encoder and submits it. A pending capture is written here.
	//
	// Returns:
	//   - error: an error if the encoder could not be finished or the capture failed
	EndFrame() error

	// Present presents the surface and releases the frame's target. A no-op when headless.
	Present()

	// CaptureFrame requests that the next frame be written to an image file. The format follows
	// the extension: .png, .bmp, .tif or .tiff.
	//
	// Parameters:
	//   - path: destination file
	//
	// Returns:
	//   - error: ErrUnsupportedCaptureFormat for an unknown extension
	CaptureFrame(path string) error

	// ReadBuffer copies a buffer range back to the CPU, blocking until the GPU is done.
	// Intended for debugging and tests; the frame path never reads back.
	//
	// Parameters:
	//   - buf: the source buffer, needs CopySrc usage
	//   - offset: byte offset, a multiple of 4
	//   - size: byte count
	//
	// Returns:
	//   - []byte: the bytes read
	//   - error: an error if the copy or the mapping failed
	ReadBuffer(buf *wgpu.Buffer, offset, size uint64) ([]byte, error)

	// Release releases every pipeline and GPU object owned by the renderer.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a Renderer. Either WithSurface or WithHeadless must be given.
//
// Parameters:
//   - backendType: the type of rendering backend to use (e.g., WGPU)
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the renderer
//   - error: ErrNoRenderTarget, or an error from adapter or device creation
func NewRenderer(backendType RendererBackendType, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]pipeline.Pipeline),
		backendType:   backendType,
		clearColor:    wgpu.Color{R: 0, G: 0, B: 0, A: 1},
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}

	width, height := r.headlessWidth, r.headlessHeight
	var surfaceDescriptor *wgpu.SurfaceDescriptor
	if r.surface != nil {
		surfaceDescriptor = r.surface.SurfaceDescriptor()
		width, height = r.surface.Width(), r.surface.Height()
	}
	if surfaceDescriptor == nil && (width <= 0 || height <= 0) {
		return nil, ErrNoRenderTarget
	}

	switch backendType {
	case BackendTypeWGPU:
		fallthrough
	default:
		b, err := newWGPURendererBackend(surfaceDescriptor, r.forceFallbackAdapter, r.clearColor)
		if err != nil {
			return nil, err
		}
		r.backend = b
	}

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}

	if err := r.backend.ConfigureSurface(width, height); err != nil {
		r.backend.Release()
		return nil, err
	}
	return r, nil
}

func (r *renderer) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	_ = r.backend.ConfigureSurface(width, height)
}

func (r *renderer) TargetSize() (int, int) {
	return r.backend.TargetSize()
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if cached, exists := r.pipelineCache[key]; exists && cached.Pipeline() != nil {
			continue
		}
		switch p.Type() {
		case pipeline.PipelineTypeCompute:
			if err := r.backend.RegisterComputePipeline(p); err != nil {
				return fmt.Errorf("renderer: register %q: %w", key, err)
			}
		case pipeline.PipelineTypeRender:
			if err := r.backend.RegisterRenderPipeline(p); err != nil {
				return fmt.Errorf("renderer: register %q: %w", key, err)
			}
		}
		r.pipelineCache[key] = p
	}
	return nil
}

func (r *renderer) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	return r.backend.CreateBuffer(label, size, usage)
}

func (r *renderer) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	return r.backend.InitBindGroup(provider, descriptor, bufferUsageOverrides, bufferSizeOverrides)
}

func (r *renderer) WriteBuffer(buf *wgpu.Buffer, offset uint64, data []byte) {
	r.backend.WriteBuffer(buf, offset, data)
}

func (r *renderer) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	for _, w := range writes {
		buf := w.Provider.Buffer(w.Binding)
		if buf == nil {
			continue
		}
		r.backend.WriteBuffer(buf, w.Offset, w.Data)
	}
}

func (r *renderer) BeginFrame() error {
	return r.backend.BeginFrame()
}

func (r *renderer) ClearBuffer(buf *wgpu.Buffer, offset, size uint64) error {
	return r.backend.ClearBuffer(buf, offset, size)
}

func (r *renderer) CopyBuffer(src *wgpu.Buffer, srcOffset uint64, dst *wgpu.Buffer, dstOffset uint64, size uint64) error {
	return r.backend.CopyBuffer(src, srcOffset, dst, dstOffset, size)
}

func (r *renderer) lookup(pipelineKey string) (pipeline.Pipeline, error) {
	r.mu.Lock()
	p, exists := r.pipelineCache[pipelineKey]
	r.mu.Unlock()

	if !exists || p.Pipeline() == nil {
		return nil, fmt.Errorf("%w: %q", ErrPipelineNotFound, pipelineKey)
	}
	return p, nil
}

func (r *renderer) DispatchCompute(pipelineKey string, workGroupCount [3]uint32, bindGroups ...bind_group_provider.BindGroupProvider) error {
	p, err := r.lookup(pipelineKey)
	if err != nil {
		return err
	}
	return r.backend.DispatchCompute(p, workGroupCount, bindGroups)
}

func (r *renderer) DispatchComputeIndirect(pipelineKey string, indirect *wgpu.Buffer, offset uint64, bindGroups ...bind_group_provider.BindGroupProvider) error {
	p, err := r.lookup(pipelineKey)
	if err != nil {
		return err
	}
	return r.backend.DispatchComputeIndirect(p, indirect, offset, bindGroups)
}

func (r *renderer) BeginRenderPass() error {
	return r.backend.BeginRenderPass()
}

func (r *renderer) DrawIndirect(pipelineKey string, indirect *wgpu.Buffer, offset uint64, bindGroups ...bind_group_provider.BindGroupProvider) error {
	p, err := r.lookup(pipelineKey)
	if err != nil {
		return err
	}
	return r.backend.DrawIndirect(p, indirect, offset, bindGroups)
}

func (r *renderer) EndRenderPass() {
	r.backend.EndRenderPass()
}

func (r *renderer) EndFrame() error {
	return r.backend.EndFrame()
}

func (r *renderer) Present() {
	r.backend.Present()
}

func (r *renderer) CaptureFrame(path string) error {
	if _, err := captureFormatFromPath(path); err != nil {
		return err
	}
	r.backend.RequestCapture(path)
	return nil
}

func (r *renderer) ReadBuffer(buf *wgpu.Buffer, offset, size uint64) ([]byte, error) {
	return r.backend.ReadBuffer(buf, offset, size)
}

func (r *renderer) Release() {
	r.mu.Lock()
	for key, p := range r.pipelineCache {
		p.Release()
		delete(r.pipelineCache, key)
	}
	r.mu.Unlock()
	r.backend.Release()
}
