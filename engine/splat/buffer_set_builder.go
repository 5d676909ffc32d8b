package splat

// bufferSetConfig collects BufferSet options before allocation.
type bufferSetConfig struct {
	gaussianScaling float32
	shDegree        int
}

// BufferSetOption is a functional option applied by NewBufferSet.
type BufferSetOption func(*bufferSetConfig)

// WithGaussianScaling sets the initial scale modifier. Defaults to 1.
//
// Parameters:
//   - scaling: multiplier applied to every Gaussian's scale, > 0
//
// Returns:
//   - BufferSetOption: option function to apply
func WithGaussianScaling(scaling float32) BufferSetOption {
	return func(c *bufferSetConfig) {
		if scaling > 0 {
			c.gaussianScaling = scaling
		}
	}
}

// WithSHDegree limits the evaluated SH degree. Defaults to the cloud's degree and is clamped to it.
//
// Parameters:
//   - degree: 0..3
//
// Returns:
//   - BufferSetOption: option function to apply
func WithSHDegree(degree int) BufferSetOption {
	return func(c *bufferSetConfig) {
		c.shDegree = degree
	}
}
