package bind_group_provider

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// bindGroupProvider is the unexported implementation of BindGroupProvider.
type bindGroupProvider struct {
	// label is a debug label used to name the bind group and any buffers the renderer creates for it.
	label string

	// bindGroup is the GPU bind group created for this provider, or nil before Renderer.InitBindGroup.
	bindGroup *wgpu.BindGroup
	// bindGroupLayout is the layout the bind group was created against.
	bindGroupLayout *wgpu.BindGroupLayout
	// buffers holds every buffer bound by this provider, keyed by binding index.
	buffers map[int]*wgpu.Buffer
	// owned marks the bindings whose buffer was created for this provider and is released with it.
	// Buffers attached with WithBuffer belong to someone else (the splat buffer set, the sorter).
	owned map[int]bool
}

// BindGroupProvider describes one bind group of a pipeline and the buffers bound to it.
// Stages hold a BindGroupProvider per group; the Renderer fills in the GPU objects.
//
// Usage pattern:
//  1. Stage creates a provider, attaching any shared buffers with WithBuffer
//  2. Stage calls Renderer.InitBindGroup(provider, descriptor); missing buffers are created and owned
//  3. Stage writes uniforms into Buffer(binding) with Renderer.WriteBuffer
//  4. Stage passes the provider to a dispatch or draw call
type BindGroupProvider interface {
	// Release releases the bind group, its layout and every buffer the provider owns.
	// Shared buffers are left alone.
	Release()

	// Label returns the debug label for this provider.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// BindGroup returns the created bind group, or nil if it has not been initialized.
	//
	// Returns:
	//   - *wgpu.BindGroup: the bind group or nil
	BindGroup() *wgpu.BindGroup

	// BindGroupLayout returns the layout of the bind group, or nil if it has not been initialized.
	//
	// Returns:
	//   - *wgpu.BindGroupLayout: the bind group layout or nil
	BindGroupLayout() *wgpu.BindGroupLayout

	// Buffer returns the buffer bound at a binding index, or nil.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - *wgpu.Buffer: the buffer or nil
	Buffer(binding int) *wgpu.Buffer

	// Buffers returns every bound buffer keyed by binding index.
	//
	// Returns:
	//   - map[int]*wgpu.Buffer: the buffers keyed by binding index
	Buffers() map[int]*wgpu.Buffer

	// Owns reports whether the buffer at a binding is released together with the provider.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - bool: true when the provider owns the buffer
	Owns(binding int) bool

	// SetBindGroup stores the bind group created by Renderer.InitBindGroup.
	//
	// Parameters:
	//   - bg: the created bind group
	SetBindGroup(bg *wgpu.BindGroup)

	// SetBindGroupLayout stores the bind group layout created by Renderer.InitBindGroup.
	//
	// Parameters:
	//   - bgl: the created bind group layout
	SetBindGroupLayout(bgl *wgpu.BindGroupLayout)

	// SetBuffer stores a buffer the renderer created for this provider. The provider owns it.
	//
	// Parameters:
	//   - binding: the binding index
	//   - buf: the created buffer
	SetBuffer(binding int, buf *wgpu.Buffer)
}

// Compile-time check that bindGroupProvider implements BindGroupProvider
var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a new BindGroupProvider with the provided options.
//
// Parameters:
//   - label: debug label for the bind group and its buffers
//   - options: a variadic list of options to configure the provider
//
// Returns:
//   - BindGroupProvider: a new provider configured with the provided options
func NewBindGroupProvider(label string, options ...BindGroupProviderOption) BindGroupProvider {
	p := &bindGroupProvider{
		label:   label,
		buffers: make(map[int]*wgpu.Buffer),
		owned:   make(map[int]bool),
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) BindGroup() *wgpu.BindGroup {
	return p.bindGroup
}

func (p *bindGroupProvider) BindGroupLayout() *wgpu.BindGroupLayout {
	return p.bindGroupLayout
}

func (p *bindGroupProvider) Buffer(binding int) *wgpu.Buffer {
	return p.buffers[binding]
}

func (p *bindGroupProvider) Buffers() map[int]*wgpu.Buffer {
	return p.buffers
}

func (p *bindGroupProvider) Owns(binding int) bool {
	return p.owned[binding]
}

func (p *bindGroupProvider) SetBindGroup(bg *wgpu.BindGroup) {
	p.bindGroup = bg
}

func (p *bindGroupProvider) SetBindGroupLayout(bgl *wgpu.BindGroupLayout) {
	p.bindGroupLayout = bgl
}

func (p *bindGroupProvider) SetBuffer(binding int, buf *wgpu.Buffer) {
	p.buffers[binding] = buf
	p.owned[binding] = true
}

func (p *bindGroupProvider) Release() {
	for i, buf := range p.buffers {
		if buf != nil && p.owned[i] {
			buf.Release()
		}
		delete(p.buffers, i)
		delete(p.owned, i)
	}

	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	if p.bindGroupLayout != nil {
		p.bindGroupLayout.Release()
		p.bindGroupLayout = nil
	}
}
