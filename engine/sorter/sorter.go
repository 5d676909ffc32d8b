package sorter

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// Kernel names. Each is also the WGSL entry point of its compute shader.
const (
	KernelSetup     = "sort_setup"
	KernelHistogram = "sort_histogram"
	KernelScan      = "sort_scan"
	KernelScatter   = "sort_scatter"
)

// Binding indices of the pass bind groups.
const (
	bindingInfo       = 0
	bindingHistograms = 1
	bindingDispatch   = 1

	bindingParams    = 0
	bindingKeysIn    = 1
	bindingValuesIn  = 2
	bindingKeysOut   = 3
	bindingValuesOut = 4
)

// Sorter is a GPU least-significant-digit radix sort of u32 keys carrying u32 values.
//
// The caller writes pairs into Keys(SlotPrimary) and Values(SlotPrimary) and the pair count into
// Info() at KeysSizeOffset, all on the GPU. Encode then records a setup kernel that derives the
// dispatch sizes from that count, followed by Passes() rounds of histogram, scan and scatter.
// The sorted pairs end up in ResultSlot(). Pairs beyond the count are left untouched.
type Sorter struct {
	cfg Config

	keys       [2]*wgpu.Buffer
	values     [2]*wgpu.Buffer
	info       *wgpu.Buffer
	dispatch   *wgpu.Buffer
	histograms *wgpu.Buffer

	setupGroup bind_group_provider.BindGroupProvider
	passGroup  bind_group_provider.BindGroupProvider
	passIO     []bind_group_provider.BindGroupProvider
}

// PipelineKey returns the cache key of a kernel built for a configuration.
//
// Parameters:
//   - cfg: the sorter configuration
//   - kernel: one of the Kernel* names
//
// Returns:
//   - string: the pipeline key
func PipelineKey(cfg Config, kernel string) string {
	return fmt.Sprintf("%s_k%d_d%d_w%d_c%d", kernel, cfg.KeyBits, cfg.DigitBits, cfg.WorkgroupSize, cfg.Capacity)
}

// New validates the configuration, allocates the ping-pong pairs and the sort state, and
// registers the four kernels with the renderer.
//
// Parameters:
//   - r: the renderer
//   - cfg: the sorter configuration
//
// Returns:
//   - *Sorter: the sorter
//   - error: a wrapped ErrInvalid* sentinel, or an error from GPU object creation
func New(r renderer.Renderer, cfg Config) (*Sorter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Sorter{cfg: cfg}
	if err := s.allocate(r); err != nil {
		s.Release()
		return nil, err
	}
	shaders, err := s.registerKernels(r)
	if err != nil {
		s.Release()
		return nil, err
	}
	if err := s.initBindGroups(r, shaders); err != nil {
		s.Release()
		return nil, err
	}

	common.Logger().Debug("sorter: created",
		"capacity", cfg.Capacity,
		"paddedCapacity", cfg.PaddedCapacity(),
		"passes", cfg.Passes(),
		"radix", cfg.Radix(),
		"resultSlot", cfg.ResultSlot())
	return s, nil
}

func (s *Sorter) allocate(r renderer.Renderer) error {
	pairBytes := uint64(s.cfg.PaddedCapacity()) * 4
	pairUsage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	var info GPUSortInfo
	var dispatch GPUSortDispatch

	allocs := []struct {
		dst   **wgpu.Buffer
		label string
		size  uint64
		usage wgpu.BufferUsage
	}{
		{&s.keys[SlotPrimary], "sort keys primary", pairBytes, pairUsage},
		{&s.keys[SlotSecondary], "sort keys secondary", pairBytes, pairUsage},
		{&s.values[SlotPrimary], "sort values primary", pairBytes, pairUsage},
		{&s.values[SlotSecondary], "sort values secondary", pairBytes, pairUsage},
		{&s.info, "sort info", uint64(info.Size()), wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst},
		{&s.dispatch, "sort dispatch", uint64(dispatch.Size()), wgpu.BufferUsageIndirect | wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst},
		{&s.histograms, "sort histograms", uint64(s.cfg.Radix()) * uint64(s.cfg.MaxBlocks()) * 4, wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc},
	}
	for _, al := range allocs {
		buf, err := r.CreateBuffer(al.label, al.size, al.usage)
		if err != nil {
			return fmt.Errorf("sorter: allocate %s: %w", al.label, err)
		}
		*al.dst = buf
	}
	return nil
}

func (s *Sorter) registerKernels(r renderer.Renderer) (map[string]shader.Shader, error) {
	sources := map[string]string{
		KernelSetup:     sortSetupSource,
		KernelHistogram: sortHistogramSource,
		KernelScan:      sortScanSource,
		KernelScatter:   sortScatterSource,
	}
	data := newTemplateData(s.cfg)

	shaders := make(map[string]shader.Shader, len(sources))
	pipelines := make([]pipeline.Pipeline, 0, len(sources))
	for _, kernel := range []string{KernelSetup, KernelHistogram, KernelScan, KernelScatter} {
		key := PipelineKey(s.cfg, kernel)
		shdr, err := shader.NewShader(key, shader.ShaderTypeCompute, sources[kernel],
			shader.WithIncludes(Includes()),
			shader.WithTemplateData(data))
		if err != nil {
			return nil, fmt.Errorf("sorter: build %s: %w", kernel, err)
		}
		shaders[kernel] = shdr
		pipelines = append(pipelines, pipeline.NewPipeline(key, pipeline.PipelineTypeCompute, pipeline.WithComputeShader(shdr)))
	}
	if err := r.RegisterPipelines(pipelines...); err != nil {
		return nil, fmt.Errorf("sorter: %w", err)
	}
	return shaders, nil
}

func (s *Sorter) initBindGroups(r renderer.Renderer, shaders map[string]shader.Shader) error {
	setup := shaders[KernelSetup]
	s.setupGroup = bind_group_provider.NewBindGroupProvider("sort setup",
		bind_group_provider.WithBuffer(bindingInfo, s.info),
		bind_group_provider.WithBuffer(bindingDispatch, s.dispatch))
	if err := r.InitBindGroup(s.setupGroup, setup.BindGroupLayoutDescriptor(0), nil, nil); err != nil {
		return fmt.Errorf("sorter: setup bind group: %w", err)
	}

	// histogram, scan and scatter share one binding declaration, so one set of groups serves all three
	pass := shaders[KernelHistogram]
	s.passGroup = bind_group_provider.NewBindGroupProvider("sort state",
		bind_group_provider.WithBuffer(bindingInfo, s.info),
		bind_group_provider.WithBuffer(bindingHistograms, s.histograms))
	if err := r.InitBindGroup(s.passGroup, pass.BindGroupLayoutDescriptor(0), nil, nil); err != nil {
		return fmt.Errorf("sorter: state bind group: %w", err)
	}

	s.passIO = make([]bind_group_provider.BindGroupProvider, s.cfg.Passes())
	for p := range s.cfg.Passes() {
		src, dst := s.cfg.SlotFor(p)
		provider := bind_group_provider.NewBindGroupProvider(fmt.Sprintf("sort pass %d", p),
			bind_group_provider.WithBuffers(map[int]*wgpu.Buffer{
				bindingKeysIn:    s.keys[src],
				bindingValuesIn:  s.values[src],
				bindingKeysOut:   s.keys[dst],
				bindingValuesOut: s.values[dst],
			}))
		if err := r.InitBindGroup(provider, pass.BindGroupLayoutDescriptor(1), nil, nil); err != nil {
			return fmt.Errorf("sorter: pass %d bind group: %w", p, err)
		}
		params := GPUSortParams{Shift: s.cfg.Shift(p)}
		r.WriteBuffer(provider.Buffer(bindingParams), 0, params.Marshal())
		s.passIO[p] = provider
	}
	return nil
}

// Encode records the setup kernel and every digit pass into the current frame.
// Histogram, scan and scatter are dispatched indirectly, so a count of zero launches no work.
//
// Parameters:
//   - r: the renderer with a frame in progress
//
// Returns:
//   - error: an error from the renderer
func (s *Sorter) Encode(r renderer.Renderer) error {
	if err := r.DispatchCompute(PipelineKey(s.cfg, KernelSetup), [3]uint32{1, 1, 1}, s.setupGroup); err != nil {
		return fmt.Errorf("sorter: setup: %w", err)
	}

	histogram := PipelineKey(s.cfg, KernelHistogram)
	scan := PipelineKey(s.cfg, KernelScan)
	scatter := PipelineKey(s.cfg, KernelScatter)
	for p, io := range s.passIO {
		if err := r.DispatchComputeIndirect(histogram, s.dispatch, BlocksDispatchOffset, s.passGroup, io); err != nil {
			return fmt.Errorf("sorter: pass %d histogram: %w", p, err)
		}
		if err := r.DispatchComputeIndirect(scan, s.dispatch, ScanDispatchOffset, s.passGroup, io); err != nil {
			return fmt.Errorf("sorter: pass %d scan: %w", p, err)
		}
		if err := r.DispatchComputeIndirect(scatter, s.dispatch, BlocksDispatchOffset, s.passGroup, io); err != nil {
			return fmt.Errorf("sorter: pass %d scatter: %w", p, err)
		}
	}
	return nil
}

// Config returns the configuration the sorter was built with.
func (s *Sorter) Config() Config { return s.cfg }

// ResultSlot returns the slot holding the sorted pairs after Encode.
func (s *Sorter) ResultSlot() Slot { return s.cfg.ResultSlot() }

// Keys returns the key buffer of a slot, PaddedCapacity() words.
func (s *Sorter) Keys(slot Slot) *wgpu.Buffer { return s.keys[slot] }

// Values returns the value buffer of a slot, PaddedCapacity() words.
func (s *Sorter) Values(slot Slot) *wgpu.Buffer { return s.values[slot] }

// Info returns the 16-byte sort info buffer. keys_size lives at KeysSizeOffset.
func (s *Sorter) Info() *wgpu.Buffer { return s.info }

// Dispatch returns the 24-byte indirect dispatch buffer.
func (s *Sorter) Dispatch() *wgpu.Buffer { return s.dispatch }

// Release releases the bind groups and every buffer of the sorter.
// The kernels stay registered with the renderer, which releases them.
func (s *Sorter) Release() {
	for _, p := range append([]bind_group_provider.BindGroupProvider{s.setupGroup, s.passGroup}, s.passIO...) {
		if p != nil {
			p.Release()
		}
	}
	s.setupGroup, s.passGroup, s.passIO = nil, nil, nil

	bufs := []**wgpu.Buffer{
		&s.keys[SlotPrimary], &s.keys[SlotSecondary],
		&s.values[SlotPrimary], &s.values[SlotSecondary],
		&s.info, &s.dispatch, &s.histograms,
	}
	for _, buf := range bufs {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
}
