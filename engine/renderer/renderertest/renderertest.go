// Package renderertest provides an in-memory renderer.Renderer for tests. Buffers live in host
// memory and every command executes at record time, in order, the way the GPU would run the
// submitted encoder. Compute dispatches run the CPU kernel registered for the pipeline's entry
// point, so indirect arguments and GPU-to-GPU copies flow exactly as they do on a device.
package renderertest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-splat/engine/renderer"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// ErrNoKernel is returned by a dispatch whose entry point has no registered CPU kernel.
var ErrNoKernel = errors.New("renderertest: no kernel registered")

// KernelFunc executes one dispatch. words resolves a group and binding to the bound buffer.
type KernelFunc func(entryPoint string, groups [3]uint32, words func(group, binding int) []uint32) error

// CommandKind identifies a recorded command.
type CommandKind int

const (
	CommandClear CommandKind = iota
	CommandCopy
	CommandDispatch
	CommandDispatchIndirect
	CommandBeginRenderPass
	CommandDraw
	CommandEndRenderPass
)

func (k CommandKind) String() string {
	switch k {
	case CommandClear:
		return "clear"
	case CommandCopy:
		return "copy"
	case CommandDispatch:
		return "dispatch"
	case CommandDispatchIndirect:
		return "dispatch-indirect"
	case CommandBeginRenderPass:
		return "begin-render-pass"
	case CommandDraw:
		return "draw"
	case CommandEndRenderPass:
		return "end-render-pass"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is one recorded frame command.
type Command struct {
	Kind     CommandKind
	Pipeline string
	// Groups is the workgroup count a dispatch ran with, resolved from the indirect buffer if needed.
	Groups [3]uint32
	// Src and Dst are the buffers of clears and copies; Dst alone for clears.
	Src, Dst  *wgpu.Buffer
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
	// Indirect and IndirectOffset locate the arguments of indirect dispatches and draws.
	Indirect       *wgpu.Buffer
	IndirectOffset uint64
}

// DrawCall is a resolved indirect draw.
type DrawCall struct {
	Pipeline      string
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
	BindGroups    []bind_group_provider.BindGroupProvider
}

// Renderer is the in-memory renderer.
type Renderer struct {
	mu sync.Mutex

	width, height int
	presentMode   renderer.PresentMode

	pipelines map[string]pipeline.Pipeline
	kernels   map[string]KernelFunc
	memory    map[*wgpu.Buffer][]uint32
	labels    map[*wgpu.Buffer]string

	inFrame  bool
	inPass   bool
	frames   int
	presents int
	reads    int
	capture  []string
	commands []Command
	draws    []DrawCall
}

var _ renderer.Renderer = &Renderer{}

// New creates an in-memory renderer with a target size.
//
// Parameters:
//   - width: target width in pixels
//   - height: target height in pixels
//
// Returns:
//   - *Renderer: the renderer
func New(width, height int) *Renderer {
	return &Renderer{
		width:     width,
		height:    height,
		pipelines: make(map[string]pipeline.Pipeline),
		kernels:   make(map[string]KernelFunc),
		memory:    make(map[*wgpu.Buffer][]uint32),
		labels:    make(map[*wgpu.Buffer]string),
	}
}

// HandleKernel registers the CPU kernel run for dispatches of a compute entry point.
//
// Parameters:
//   - entryPoint: the WGSL entry point
//   - fn: the kernel
func (r *Renderer) HandleKernel(entryPoint string, fn KernelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kernels[entryPoint] = fn
}

// Words returns the live words of a buffer. Writes through the slice change the buffer.
func (r *Renderer) Words(buf *wgpu.Buffer) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memory[buf]
}

// Floats returns a copy of a buffer decoded as f32 values.
func (r *Renderer) Floats(buf *wgpu.Buffer) []float32 {
	words := r.Words(buf)
	out := make([]float32, len(words))
	for i, w := range words {
		out[i] = math.Float32frombits(w)
	}
	return out
}

// Label returns the label a buffer was created with.
func (r *Renderer) Label(buf *wgpu.Buffer) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.labels[buf]
}

// Commands returns the commands recorded since the last Reset.
func (r *Renderer) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Draws returns the resolved draws recorded since the last Reset.
func (r *Renderer) Draws() []DrawCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DrawCall(nil), r.draws...)
}

// Frames returns the number of submitted frames.
func (r *Renderer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Presents returns the number of Present calls.
func (r *Renderer) Presents() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presents
}

// Readbacks returns the number of ReadBuffer calls.
func (r *Renderer) Readbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

// Captures returns the paths passed to CaptureFrame.
func (r *Renderer) Captures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.capture...)
}

// Reset forgets recorded commands and draws. Buffer contents are kept.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
	r.draws = nil
}

func (r *Renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelines[key]
}

func (r *Renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		if _, exists := r.pipelines[p.PipelineKey()]; exists {
			continue
		}
		r.pipelines[p.PipelineKey()] = p
	}
	return nil
}

func (r *Renderer) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.width, r.height = width, height
}

func (r *Renderer) TargetSize() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

func (r *Renderer) SetPresentMode(mode renderer.PresentMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presentMode = mode
}

func (r *Renderer) CreateBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createBuffer(label, size), nil
}

func (r *Renderer) createBuffer(label string, size uint64) *wgpu.Buffer {
	buf := &wgpu.Buffer{}
	r.memory[buf] = make([]uint32, max((size+3)/4, 1))
	r.labels[buf] = label
	return buf
}

func (r *Renderer) InitBindGroup(provider bind_group_provider.BindGroupProvider, descriptor wgpu.BindGroupLayoutDescriptor, bufferUsageOverrides map[int]wgpu.BufferUsage, bufferSizeOverrides map[int]uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range descriptor.Entries {
		binding := int(entry.Binding)
		if buf := provider.Buffer(binding); buf != nil {
			if _, known := r.memory[buf]; !known {
				return fmt.Errorf("renderertest: %s binding %d: buffer not created by this renderer", provider.Label(), binding)
			}
			continue
		}
		size := entry.Buffer.MinBindingSize
		if override, ok := bufferSizeOverrides[binding]; ok {
			size = override
		}
		provider.SetBuffer(binding, r.createBuffer(fmt.Sprintf("%s binding %d", provider.Label(), binding), size))
	}
	return nil
}

func (r *Renderer) WriteBuffer(buf *wgpu.Buffer, offset uint64, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	words := r.memory[buf]
	if offset%4 != 0 || len(data)%4 != 0 || offset/4+uint64(len(data)/4) > uint64(len(words)) {
		panic(fmt.Sprintf("renderertest: write of %d bytes at %d into %q (%d bytes)", len(data), offset, r.labels[buf], len(words)*4))
	}
	for i := 0; i < len(data); i += 4 {
		words[offset/4+uint64(i/4)] = binary.LittleEndian.Uint32(data[i:])
	}
}

func (r *Renderer) WriteBuffers(writes []bind_group_provider.BufferWrite) {
	for _, w := range writes {
		if buf := w.Provider.Buffer(w.Binding); buf != nil {
			r.WriteBuffer(buf, w.Offset, w.Data)
		}
	}
}

func (r *Renderer) BeginFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFrame = true
	return nil
}

func (r *Renderer) ClearBuffer(buf *wgpu.Buffer, offset, size uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFrame {
		return renderer.ErrNoFrame
	}
	clear(r.memory[buf][offset/4 : (offset+size)/4])
	r.commands = append(r.commands, Command{Kind: CommandClear, Dst: buf, DstOffset: offset, Size: size})
	return nil
}

func (r *Renderer) CopyBuffer(src *wgpu.Buffer, srcOffset uint64, dst *wgpu.Buffer, dstOffset uint64, size uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFrame {
		return renderer.ErrNoFrame
	}
	copy(r.memory[dst][dstOffset/4:(dstOffset+size)/4], r.memory[src][srcOffset/4:(srcOffset+size)/4])
	r.commands = append(r.commands, Command{Kind: CommandCopy, Src: src, SrcOffset: srcOffset, Dst: dst, DstOffset: dstOffset, Size: size})
	return nil
}

func (r *Renderer) DispatchCompute(pipelineKey string, workGroupCount [3]uint32, bindGroups ...bind_group_provider.BindGroupProvider) error {
	return r.dispatch(Command{Kind: CommandDispatch, Pipeline: pipelineKey, Groups: workGroupCount}, bindGroups)
}

func (r *Renderer) DispatchComputeIndirect(pipelineKey string, indirect *wgpu.Buffer, offset uint64, bindGroups ...bind_group_provider.BindGroupProvider) error {
	r.mu.Lock()
	args := r.memory[indirect][offset/4 : offset/4+3]
	groups := [3]uint32{args[0], args[1], args[2]}
	r.mu.Unlock()
	return r.dispatch(Command{Kind: CommandDispatchIndirect, Pipeline: pipelineKey, Groups: groups, Indirect: indirect, IndirectOffset: offset}, bindGroups)
}

func (r *Renderer) dispatch(cmd Command, bindGroups []bind_group_provider.BindGroupProvider) error {
	r.mu.Lock()
	if !r.inFrame {
		r.mu.Unlock()
		return renderer.ErrNoFrame
	}
	p, ok := r.pipelines[cmd.Pipeline]
	if !ok || p.Type() != pipeline.PipelineTypeCompute {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", renderer.ErrPipelineNotFound, cmd.Pipeline)
	}
	entryPoint := p.Shader(shader.ShaderTypeCompute).EntryPoint()
	kernel, ok := r.kernels[entryPoint]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNoKernel, entryPoint)
	}
	r.commands = append(r.commands, cmd)
	words := r.bindingWords(bindGroups)
	r.mu.Unlock()

	return kernel(entryPoint, cmd.Groups, words)
}

// bindingWords resolves bindings against memory. Called with r.mu held; the returned
// function does not lock, so kernels may call it from worker goroutines.
func (r *Renderer) bindingWords(bindGroups []bind_group_provider.BindGroupProvider) func(group, binding int) []uint32 {
	resolved := make([]map[int][]uint32, len(bindGroups))
	for g, p := range bindGroups {
		resolved[g] = make(map[int][]uint32)
		for binding, buf := range p.Buffers() {
			resolved[g][binding] = r.memory[buf]
		}
	}
	return func(group, binding int) []uint32 {
		if group >= len(resolved) {
			panic(fmt.Sprintf("renderertest: group %d not bound", group))
		}
		words, ok := resolved[group][binding]
		if !ok {
			panic(fmt.Sprintf("renderertest: group %d binding %d not bound", group, binding))
		}
		return words
	}
}

func (r *Renderer) BeginRenderPass() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFrame {
		return renderer.ErrNoFrame
	}
	r.inPass = true
	r.commands = append(r.commands, Command{Kind: CommandBeginRenderPass})
	return nil
}

func (r *Renderer) DrawIndirect(pipelineKey string, indirect *wgpu.Buffer, offset uint64, bindGroups ...bind_group_provider.BindGroupProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFrame || !r.inPass {
		return renderer.ErrNoFrame
	}
	p, ok := r.pipelines[pipelineKey]
	if !ok || p.Type() != pipeline.PipelineTypeRender {
		return fmt.Errorf("%w: %q", renderer.ErrPipelineNotFound, pipelineKey)
	}
	args := r.memory[indirect][offset/4 : offset/4+4]
	r.commands = append(r.commands, Command{Kind: CommandDraw, Pipeline: pipelineKey, Indirect: indirect, IndirectOffset: offset})
	r.draws = append(r.draws, DrawCall{
		Pipeline:      pipelineKey,
		VertexCount:   args[0],
		InstanceCount: args[1],
		FirstVertex:   args[2],
		FirstInstance: args[3],
		BindGroups:    append([]bind_group_provider.BindGroupProvider(nil), bindGroups...),
	})
	return nil
}

func (r *Renderer) EndRenderPass() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inPass {
		r.inPass = false
		r.commands = append(r.commands, Command{Kind: CommandEndRenderPass})
	}
}

func (r *Renderer) EndFrame() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFrame {
		return renderer.ErrNoFrame
	}
	r.inFrame = false
	r.frames++
	return nil
}

func (r *Renderer) Present() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presents++
}

func (r *Renderer) CaptureFrame(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture = append(r.capture, path)
	return nil
}

func (r *Renderer) ReadBuffer(buf *wgpu.Buffer, offset, size uint64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	words := r.memory[buf]
	if offset%4 != 0 || (offset+size+3)/4 > uint64(len(words)) {
		return nil, fmt.Errorf("renderertest: read of %d bytes at %d from %q out of range", size, offset, r.labels[buf])
	}
	out := make([]byte, 0, size+3)
	for _, w := range words[offset/4 : (offset+size+3)/4] {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out[:size], nil
}

// Release is a no-op; fake buffers hold no GPU handles.
func (r *Renderer) Release() {}
