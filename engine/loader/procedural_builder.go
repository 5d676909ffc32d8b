package loader

// GeneratorOption is a functional option for Generate.
type GeneratorOption func(*generator)

// WithShape sets the volume filled. Defaults to ShapeSphere.
func WithShape(shape Shape) GeneratorOption {
	return func(g *generator) {
		g.shape = shape
	}
}

// WithSeed sets the random seed. The same seed always yields the same cloud.
func WithSeed(seed uint64) GeneratorOption {
	return func(g *generator) {
		g.seed = seed
	}
}

// WithRadius sets the extent of the shape. Defaults to 1.
func WithRadius(radius float32) GeneratorOption {
	return func(g *generator) {
		if radius > 0 {
			g.radius = radius
		}
	}
}

// WithGaussianSize sets the base standard deviation of each Gaussian. Defaults to 0.02.
func WithGaussianSize(scale float32) GeneratorOption {
	return func(g *generator) {
		if scale > 0 {
			g.scale = scale
		}
	}
}

// WithOpacity sets the opacity of every Gaussian. Defaults to 0.8.
func WithOpacity(opacity float32) GeneratorOption {
	return func(g *generator) {
		g.opacity = min(max(opacity, 0), 1)
	}
}

// WithGeneratedSHDegree sets the SH degree of the generated cloud. Defaults to 0.
func WithGeneratedSHDegree(degree int) GeneratorOption {
	return func(g *generator) {
		g.shDegree = degree
	}
}
