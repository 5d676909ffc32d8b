package renderer

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/google/uuid"
)

// headlessFormat is the offscreen target format. Captures read it back without swizzling.
const headlessFormat = wgpu.TextureFormatRGBA8Unorm

type wgpuRendererBackendImpl struct {
	mu     *sync.Mutex
	device *wgpu.Device
	queue  *wgpu.Queue

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface

	// session tags every GPU label so captures from several renderers can be told apart in a debugger.
	session string

	surfaceFormat wgpu.TextureFormat
	presentMode   wgpu.PresentMode // defaults to PresentModeImmediate (Uncapped)
	clearColor    wgpu.Color
	width, height uint32

	// Offscreen target, used instead of the surface when headless.
	offscreen     *wgpu.Texture
	offscreenView *wgpu.TextureView

	// Frame state: one encoder per frame, an optional open render pass and the acquired target.
	frameEncoder *wgpu.CommandEncoder
	framePass    *wgpu.RenderPassEncoder
	frameTarget  *wgpu.Texture
	frameView    *wgpu.TextureView

	capturePath string
}

type wgpuRendererBackend interface {
	Device() *wgpu.Device
	Queue() *wgpu.Queue
	Instance() *wgpu.Instance
	Adapter() *wgpu.Adapter
	Surface() *wgpu.Surface

	// ConfigureSurface (re)configures the render target for a size: the window surface, or the
	// offscreen texture when headless.
	//
	// Parameters:
	//   - width: the new width of the target in pixels
	//   - height: the new height of the target in pixels
	//
	// Returns:
	//   - error: an error if the offscreen texture could not be created
	ConfigureSurface(width, height int) error

	// TargetSize returns the configured target size.
	TargetSize() (int, int)

	// SetPresentMode sets the surface present mode which controls how frames are delivered to the display.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// RegisterRenderPipeline creates the shader modules, pipeline layout and render pipeline for p.
	// The pipeline draws without vertex buffers and without a depth attachment.
	//
	// Parameters:
	//   - p: the pipeline object containing the shaders and render state
	//
	// Returns:
	//   - error: an error if the pipeline could not be created, otherwise nil
	RegisterRenderPipeline(p pipeline.Pipeline) error

	// RegisterComputePipeline creates the shader module, pipeline layout and compute pipeline for p.
	//
	// Parameters:
	//   - p: the pipeline object containing the compute shader
	//
	// Returns:
	//   - error: an error if the pipeline could not be created, otherwise nil
	RegisterComputePipeline(p pipeline.Pipeline) error

	// CreateBuffer allocates a buffer labelled with the session id.
	CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error)

	// InitBindGroup creates the bind group for a provider from a layout descriptor.
	InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error

	// WriteBuffer queues a buffer write.
	WriteBuffer(buf *wgpu.Buffer, offset uint64, data []byte)

	// BeginFrame acquires the target view and creates the frame's command encoder.
	BeginFrame() error

	// ClearBuffer records a buffer clear into the frame encoder.
	ClearBuffer(buf *wgpu.Buffer, offset, size uint64) error

	// CopyBuffer records a buffer-to-buffer copy into the frame encoder.
	CopyBuffer(src *wgpu.Buffer, srcOffset uint64, dst *wgpu.Buffer, dstOffset uint64, size uint64) error

	// DispatchCompute records one compute pass with a direct workgroup count.
	DispatchCompute(p pipeline.Pipeline, workGroupCount [3]uint32, bindGroups []bind_group_provider.BindGroupProvider) error

	// DispatchComputeIndirect records one compute pass with an indirect workgroup count.
	DispatchComputeIndirect(p pipeline.Pipeline, indirect *wgpu.Buffer, offset uint64, bindGroups []bind_group_provider.BindGroupProvider) error

	// BeginRenderPass opens the colour pass on the frame target.
	BeginRenderPass() error

	// DrawIndirect records a non-indexed indirect draw in the open render pass.
	DrawIndirect(p pipeline.Pipeline, indirect *wgpu.Buffer, offset uint64, bindGroups []bind_group_provider.BindGroupProvider) error

	// EndRenderPass closes the open render pass.
	EndRenderPass()

	// EndFrame finishes and submits the frame encoder, then writes a pending capture.
	EndFrame() error

	// Present presents the surface and releases the frame target.
	Present()

	// RequestCapture marks the next frame for capture to path.
	RequestCapture(path string)

	// ReadBuffer copies a buffer range to the CPU through a staging buffer.
	ReadBuffer(buf *wgpu.Buffer, offset, size uint64) ([]byte, error)

	// Release releases every GPU object held by the backend.
	Release()
}

var _ RendererBackend = &wgpuRendererBackendImpl{}

func newWGPURendererBackend(surfaceDescriptor *wgpu.SurfaceDescriptor, forceFallbackAdapter bool, clearColor wgpu.Color) (wgpuRendererBackend, error) {
	runtime.LockOSThread()
	w := &wgpuRendererBackendImpl{
		mu:          &sync.Mutex{},
		instance:    wgpu.CreateInstance(nil),
		session:     uuid.NewString()[:8],
		presentMode: wgpu.PresentModeImmediate,
		clearColor:  clearColor,
	}
	if surfaceDescriptor != nil {
		w.surface = w.instance.CreateSurface(surfaceDescriptor)
	}

	a, err := w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    w.surface,
		PowerPreference:      wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("renderer: request adapter: %w", err)
	}
	w.adapter = a

	// Large clouds need more than the default storage binding size; take what the adapter offers.
	supported := a.GetLimits()
	limits := wgpu.DefaultLimits()
	limits.MaxStorageBufferBindingSize = supported.Limits.MaxStorageBufferBindingSize
	limits.MaxBufferSize = supported.Limits.MaxBufferSize

	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "oxy-splat device " + w.session,
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: limits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("renderer: request device: %w", err)
	}
	w.device = d
	w.queue = d.GetQueue()

	common.Logger().Info("renderer: device ready",
		"session", w.session,
		"headless", w.surface == nil,
		"maxStorageBinding", limits.MaxStorageBufferBindingSize)
	return w, nil
}

func (b *wgpuRendererBackendImpl) label(name string) string {
	return name + " [" + b.session + "]"
}

func (b *wgpuRendererBackendImpl) ConfigureSurface(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.width, b.height = uint32(width), uint32(height)

	if b.surface == nil {
		if b.offscreenView != nil {
			b.offscreenView.Release()
			b.offscreen.Release()
			b.offscreenView, b.offscreen = nil, nil
		}
		tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
			Label: b.label("offscreen target"),
			Size: wgpu.Extent3D{
				Width:              b.width,
				Height:             b.height,
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     wgpu.TextureDimension2D,
			Format:        headlessFormat,
			Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopySrc,
		})
		if err != nil {
			return fmt.Errorf("renderer: create offscreen target: %w", err)
		}
		view, err := tex.CreateView(nil)
		if err != nil {
			tex.Release()
			return fmt.Errorf("renderer: create offscreen view: %w", err)
		}
		b.offscreen, b.offscreenView = tex, view
		b.surfaceFormat = headlessFormat
		return nil
	}

	capabilities := b.surface.GetCapabilities(b.adapter)
	b.surfaceFormat = capabilities.Formats[0]

	// CopySrc lets CaptureFrame read the presented image back.
	b.surface.Configure(b.adapter, b.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageCopySrc,
		Format:      b.surfaceFormat,
		Width:       b.width,
		Height:      b.height,
		PresentMode: b.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
	return nil
}

func (b *wgpuRendererBackendImpl) TargetSize() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.width), int(b.height)
}

func (b *wgpuRendererBackendImpl) SetPresentMode(mode PresentMode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.presentMode = mode.surfaceMode()
}

// createPipelineLayout creates one bind group layout per group index, filling gaps with empty layouts.
func (b *wgpuRendererBackendImpl) createPipelineLayout(label string, descriptors map[int]wgpu.BindGroupLayoutDescriptor) (*wgpu.PipelineLayout, error) {
	maxGroup := -1
	for g := range descriptors {
		if g > maxGroup {
			maxGroup = g
		}
	}
	bindGroupLayouts := make([]*wgpu.BindGroupLayout, maxGroup+1)
	for g := 0; g <= maxGroup; g++ {
		desc := descriptors[g]
		layout, err := b.device.CreateBindGroupLayout(&desc)
		if err != nil {
			return nil, fmt.Errorf("failed to create bind group layout for group %d: %w", g, err)
		}
		bindGroupLayouts[g] = layout
	}

	return b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: bindGroupLayouts,
	})
}

func (b *wgpuRendererBackendImpl) RegisterRenderPipeline(p pipeline.Pipeline) error {
	vertexShader := p.Shader(shader.ShaderTypeVertex)
	fragmentShader := p.Shader(shader.ShaderTypeFragment)
	if vertexShader == nil || fragmentShader == nil {
		return errors.New("both vertex and fragment shaders must be set to create a render pipeline")
	}

	vs, err := b.device.CreateShaderModule(vertexShader.Module())
	if err != nil {
		return err
	}
	fs := vs
	if fragmentShader != vertexShader {
		fs, err = b.device.CreateShaderModule(fragmentShader.Module())
		if err != nil {
			return err
		}
	}

	merged := mergeBindGroupLayouts(vertexShader.BindGroupLayoutDescriptors(), fragmentShader.BindGroupLayoutDescriptors())
	pipelineLayout, err := b.createPipelineLayout(p.PipelineKey(), merged)
	if err != nil {
		return err
	}

	target := wgpu.ColorTargetState{
		Format:    b.surfaceFormat,
		WriteMask: p.WriteMask(),
	}
	if p.BlendEnabled() {
		target.Blend = p.BlendState()
	}

	created, err := b.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  b.label(p.PipelineKey() + " render pipeline"),
		Layout: pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShader.EntryPoint(),
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShader.EntryPoint(),
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  p.Topology(),
			FrontFace: p.FrontFace(),
			CullMode:  p.CullMode(),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return err
	}

	p.SetRenderPipeline(created)
	common.Logger().Debug("renderer: render pipeline registered", "key", p.PipelineKey())
	return nil
}

func (b *wgpuRendererBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	computeShader := p.Shader(shader.ShaderTypeCompute)
	if computeShader == nil {
		return errors.New("compute shader must be set to create a compute pipeline")
	}

	s, err := b.device.CreateShaderModule(computeShader.Module())
	if err != nil {
		return err
	}

	layout, err := b.createPipelineLayout(p.PipelineKey(), computeShader.BindGroupLayoutDescriptors())
	if err != nil {
		return err
	}

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  b.label(p.PipelineKey() + " compute pipeline"),
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     s,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return err
	}

	p.SetComputePipeline(created)
	common.Logger().Debug("renderer: compute pipeline registered",
		"key", p.PipelineKey(),
		"workgroupSize", computeShader.WorkgroupSize())
	return nil
}

func (b *wgpuRendererBackendImpl) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size = max(alignBufferSize(size), 4)
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: b.label(label),
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("renderer: create buffer %q (%d bytes): %w", label, size, err)
	}
	common.Logger().Debug("renderer: buffer created", "label", label, "size", size)
	return buf, nil
}

func (b *wgpuRendererBackendImpl) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(descriptor.Entries) == 0 {
		return nil
	}

	layout := provider.BindGroupLayout()
	if layout == nil {
		var err error
		layout, err = b.device.CreateBindGroupLayout(&descriptor)
		if err != nil {
			return err
		}
		provider.SetBindGroupLayout(layout)
	}

	bindGroupEntries := make([]wgpu.BindGroupEntry, len(descriptor.Entries))
	for i, entry := range descriptor.Entries {
		binding := int(entry.Binding)

		buf := provider.Buffer(binding)
		if buf == nil {
			usage := bufferUsageFor(entry.Buffer.Type) | bufferUsageOverrides[binding]
			bufSize := entry.Buffer.MinBindingSize
			if overrideSize, ok := bufferSizeOverrides[binding]; ok {
				bufSize = overrideSize
			}
			var err error
			buf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: b.label(fmt.Sprintf("%s binding %d", provider.Label(), binding)),
				Size:  max(alignBufferSize(bufSize), 4),
				Usage: usage,
			})
			if err != nil {
				return err
			}
			provider.SetBuffer(binding, buf)
		}
		bindGroupEntries[i] = wgpu.BindGroupEntry{
			Binding: entry.Binding,
			Buffer:  buf,
			Offset:  0,
			Size:    wgpu.WholeSize,
		}
	}

	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   b.label(provider.Label()),
		Layout:  layout,
		Entries: bindGroupEntries,
	})
	if err != nil {
		return err
	}
	provider.SetBindGroup(bindGroup)

	return nil
}

func (b *wgpuRendererBackendImpl) WriteBuffer(buf *wgpu.Buffer, offset uint64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if buf == nil || len(data) == 0 {
		return
	}
	b.queue.WriteBuffer(buf, offset, data)
}

func (b *wgpuRendererBackendImpl) BeginFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A target still held means the previous frame was never presented.
	if b.frameTarget != nil {
		return fmt.Errorf("previous frame surface not yet presented")
	}

	if b.surface == nil {
		b.frameTarget = b.offscreen
		b.frameView = b.offscreenView
	} else {
		surfaceTexture, err := b.surface.GetCurrentTexture()
		if err != nil {
			return err
		}
		view, err := surfaceTexture.CreateView(nil)
		if err != nil {
			surfaceTexture.Release()
			return err
		}
		b.frameTarget = surfaceTexture
		b.frameView = view
	}

	encoder, err := b.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{
		Label: b.label("frame encoder"),
	})
	if err != nil {
		b.releaseFrameTarget()
		return err
	}
	b.frameEncoder = encoder
	return nil
}

func (b *wgpuRendererBackendImpl) ClearBuffer(buf *wgpu.Buffer, offset, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return ErrNoFrame
	}
	b.frameEncoder.ClearBuffer(buf, offset, size)
	return nil
}

func (b *wgpuRendererBackendImpl) CopyBuffer(src *wgpu.Buffer, srcOffset uint64, dst *wgpu.Buffer, dstOffset uint64, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return ErrNoFrame
	}
	b.frameEncoder.CopyBufferToBuffer(src, srcOffset, dst, dstOffset, size)
	return nil
}

func (b *wgpuRendererBackendImpl) beginComputePass(p pipeline.Pipeline, bindGroups []bind_group_provider.BindGroupProvider) (*wgpu.ComputePassEncoder, error) {
	if b.frameEncoder == nil {
		return nil, ErrNoFrame
	}
	pass := b.frameEncoder.BeginComputePass(&wgpu.ComputePassDescriptor{
		Label: p.PipelineKey(),
	})
	pass.SetPipeline(p.Pipeline().(*wgpu.ComputePipeline))
	for i, bg := range bindGroups {
		pass.SetBindGroup(uint32(i), bg.BindGroup(), nil)
	}
	return pass, nil
}

func (b *wgpuRendererBackendImpl) DispatchCompute(p pipeline.Pipeline, workGroupCount [3]uint32, bindGroups []bind_group_provider.BindGroupProvider) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pass, err := b.beginComputePass(p, bindGroups)
	if err != nil {
		return err
	}
	pass.DispatchWorkgroups(workGroupCount[0], workGroupCount[1], workGroupCount[2])
	pass.End()
	pass.Release()
	return nil
}

func (b *wgpuRendererBackendImpl) DispatchComputeIndirect(p pipeline.Pipeline, indirect *wgpu.Buffer, offset uint64, bindGroups []bind_group_provider.BindGroupProvider) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pass, err := b.beginComputePass(p, bindGroups)
	if err != nil {
		return err
	}
	pass.DispatchWorkgroupsIndirect(indirect, offset)
	pass.End()
	pass.Release()
	return nil
}

func (b *wgpuRendererBackendImpl) BeginRenderPass() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return ErrNoFrame
	}
	b.framePass = b.frameEncoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "splat pass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       b.frameView,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: b.clearColor,
			},
		},
	})
	return nil
}

func (b *wgpuRendererBackendImpl) DrawIndirect(p pipeline.Pipeline, indirect *wgpu.Buffer, offset uint64, bindGroups []bind_group_provider.BindGroupProvider) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return ErrNoFrame
	}
	b.framePass.SetPipeline(p.Pipeline().(*wgpu.RenderPipeline))
	for i, bg := range bindGroups {
		b.framePass.SetBindGroup(uint32(i), bg.BindGroup(), nil)
	}
	b.framePass.DrawIndirect(indirect, offset)
	return nil
}

func (b *wgpuRendererBackendImpl) EndRenderPass() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.framePass == nil {
		return
	}
	b.framePass.End()
	b.framePass.Release()
	b.framePass = nil
}

func (b *wgpuRendererBackendImpl) EndFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameEncoder == nil {
		return ErrNoFrame
	}
	if b.framePass != nil {
		b.framePass.End()
		b.framePass.Release()
		b.framePass = nil
	}

	var pending *frameCapture
	if b.capturePath != "" {
		c, err := b.encodeCapture(b.capturePath)
		b.capturePath = ""
		if err != nil {
			common.Logger().Error("renderer: capture skipped", "error", err)
		} else {
			pending = c
		}
	}

	commandBuffer, err := b.frameEncoder.Finish(nil)
	b.frameEncoder.Release()
	b.frameEncoder = nil
	if err != nil {
		if pending != nil {
			pending.buffer.Release()
		}
		b.releaseFrameTarget()
		return fmt.Errorf("renderer: finish frame: %w", err)
	}

	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	if pending != nil {
		defer pending.buffer.Release()
		if err := b.writeCapture(pending); err != nil {
			return err
		}
	}
	return nil
}

func (b *wgpuRendererBackendImpl) Present() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameTarget == nil {
		return
	}
	if b.surface != nil {
		b.surface.Present()
	}
	b.releaseFrameTarget()
}

// releaseFrameTarget drops the frame's target. The offscreen target outlives frames.
func (b *wgpuRendererBackendImpl) releaseFrameTarget() {
	if b.surface != nil {
		if b.frameView != nil {
			b.frameView.Release()
		}
		if b.frameTarget != nil {
			b.frameTarget.Release()
		}
	}
	b.frameView = nil
	b.frameTarget = nil
}

func (b *wgpuRendererBackendImpl) RequestCapture(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capturePath = path
}

// frameCapture is a texture-to-buffer copy recorded into the frame encoder and read after submit.
type frameCapture struct {
	path     string
	buffer   *wgpu.Buffer
	width    uint32
	height   uint32
	rowPitch uint32
	bgra     bool
}

func (b *wgpuRendererBackendImpl) encodeCapture(path string) (*frameCapture, error) {
	rowPitch := alignedRowPitch(b.width)
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: b.label("capture readback"),
		Size:  uint64(rowPitch) * uint64(b.height),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}

	b.frameEncoder.CopyTextureToBuffer(
		&wgpu.ImageCopyTexture{
			Texture:  b.frameTarget,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		&wgpu.ImageCopyBuffer{
			Buffer: buf,
			Layout: wgpu.TextureDataLayout{
				Offset:       0,
				BytesPerRow:  rowPitch,
				RowsPerImage: b.height,
			},
		},
		&wgpu.Extent3D{Width: b.width, Height: b.height, DepthOrArrayLayers: 1},
	)

	return &frameCapture{
		path:     path,
		buffer:   buf,
		width:    b.width,
		height:   b.height,
		rowPitch: rowPitch,
		bgra:     isBGRA(b.surfaceFormat),
	}, nil
}

func (b *wgpuRendererBackendImpl) writeCapture(c *frameCapture) error {
	data, err := b.mapRead(c.buffer, uint64(c.rowPitch)*uint64(c.height))
	if err != nil {
		return fmt.Errorf("renderer: capture %s: %w", c.path, err)
	}
	img := decodeTexels(data, c.width, c.height, c.rowPitch, c.bgra)
	if err := writeImageFile(c.path, img); err != nil {
		return err
	}
	common.Logger().Info("renderer: frame captured", "path", c.path, "width", c.width, "height", c.height)
	return nil
}

// mapRead maps a MapRead buffer, waits for the device and copies the bytes out.
func (b *wgpuRendererBackendImpl) mapRead(buf *wgpu.Buffer, size uint64) ([]byte, error) {
	var status wgpu.BufferMapAsyncStatus
	done := false
	buf.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	for !done {
		b.device.Poll(true, nil)
	}
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map buffer: status %v", status)
	}

	out := make([]byte, size)
	copy(out, buf.GetMappedRange(0, uint(size)))
	buf.Unmap()
	return out, nil
}

func (b *wgpuRendererBackendImpl) ReadBuffer(buf *wgpu.Buffer, offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	aligned := max(alignBufferSize(size), 4)
	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: b.label("readback staging"),
		Size:  aligned,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("renderer: read buffer: %w", err)
	}
	defer staging.Release()

	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("renderer: read buffer: %w", err)
	}
	encoder.CopyBufferToBuffer(buf, offset, staging, 0, aligned)
	commandBuffer, err := encoder.Finish(nil)
	encoder.Release()
	if err != nil {
		return nil, fmt.Errorf("renderer: read buffer: %w", err)
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	data, err := b.mapRead(staging, aligned)
	if err != nil {
		return nil, fmt.Errorf("renderer: read buffer: %w", err)
	}
	return data[:size], nil
}

func (b *wgpuRendererBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseFrameTarget()
	if b.offscreenView != nil {
		b.offscreenView.Release()
		b.offscreen.Release()
		b.offscreenView, b.offscreen = nil, nil
	}
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.surface != nil {
		b.surface.Release()
		b.surface = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}

func (b *wgpuRendererBackendImpl) Device() *wgpu.Device {
	return b.device
}

func (b *wgpuRendererBackendImpl) Queue() *wgpu.Queue {
	return b.queue
}

func (b *wgpuRendererBackendImpl) Instance() *wgpu.Instance {
	return b.instance
}

func (b *wgpuRendererBackendImpl) Adapter() *wgpu.Adapter {
	return b.adapter
}

func (b *wgpuRendererBackendImpl) Surface() *wgpu.Surface {
	return b.surface
}

// bufferUsageFor derives the usage of a buffer the renderer creates for a binding.
// Storage buffers also get CopySrc so they can be read back and copied between.
func bufferUsageFor(t wgpu.BufferBindingType) wgpu.BufferUsage {
	switch t {
	case wgpu.BufferBindingTypeUniform:
		return wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	case wgpu.BufferBindingTypeStorage, wgpu.BufferBindingTypeReadOnlyStorage:
		return wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	default:
		return wgpu.BufferUsageCopyDst
	}
}

// alignBufferSize rounds a size up to the 4-byte granularity of copies and clears.
func alignBufferSize(size uint64) uint64 {
	return (size + 3) &^ 3
}

// alignedRowPitch returns the row pitch of an RGBA8 texture copy, padded to 256 bytes.
func alignedRowPitch(width uint32) uint32 {
	return (width*4 + 255) &^ 255
}

// mergeBindGroupLayouts merges the bind group layout descriptors from a vertex and fragment shader
// into a unified set of descriptors suitable for a render pipeline layout.
//
// For each group index present in either shader:
//   - Entries with the same binding number have their Visibility flags ORed together
//   - Entries unique to one shader are included with their original visibility
//
// Parameters:
//   - vertexLayouts: bind group layout descriptors from the vertex shader
//   - fragmentLayouts: bind group layout descriptors from the fragment shader
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: the merged descriptors keyed by group index
func mergeBindGroupLayouts(
	vertexLayouts, fragmentLayouts map[int]wgpu.BindGroupLayoutDescriptor,
) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)

	groupIndices := make(map[int]bool)
	for g := range vertexLayouts {
		groupIndices[g] = true
	}
	for g := range fragmentLayouts {
		groupIndices[g] = true
	}

	for g := range groupIndices {
		vDesc, hasV := vertexLayouts[g]
		fDesc, hasF := fragmentLayouts[g]

		switch {
		case hasV && !hasF:
			merged[g] = vDesc
		case hasF && !hasV:
			merged[g] = fDesc
		default:
			entryMap := make(map[uint32]wgpu.BindGroupLayoutEntry)
			for _, e := range vDesc.Entries {
				entryMap[e.Binding] = e
			}
			for _, e := range fDesc.Entries {
				if existing, ok := entryMap[e.Binding]; ok {
					existing.Visibility |= e.Visibility
					entryMap[e.Binding] = existing
				} else {
					entryMap[e.Binding] = e
				}
			}

			entries := make([]wgpu.BindGroupLayoutEntry, 0, len(entryMap))
			for _, e := range entryMap {
				entries = append(entries, e)
			}
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].Binding < entries[j].Binding
			})

			merged[g] = wgpu.BindGroupLayoutDescriptor{
				Label:   vDesc.Label,
				Entries: entries,
			}
		}
	}

	return merged
}
