package bind_group_provider

import "github.com/cogentcore/webgpu/wgpu"

// BindGroupProviderOption is a functional option used to configure a BindGroupProvider during construction.
type BindGroupProviderOption func(*bindGroupProvider)

// WithBuffer binds a buffer owned elsewhere at a binding index. The provider never releases it.
//
// Parameters:
//   - binding: the binding index for this buffer
//   - buf: the shared buffer
//
// Returns:
//   - BindGroupProviderOption: a function that attaches the buffer
func WithBuffer(binding int, buf *wgpu.Buffer) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.buffers[binding] = buf
		delete(p.owned, binding)
	}
}

// WithBuffers binds several shared buffers at once.
//
// Parameters:
//   - buffers: binding index to shared buffer
//
// Returns:
//   - BindGroupProviderOption: a function that attaches the buffers
func WithBuffers(buffers map[int]*wgpu.Buffer) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		for binding, buf := range buffers {
			p.buffers[binding] = buf
			delete(p.owned, binding)
		}
	}
}
