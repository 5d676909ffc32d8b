package frame

// OrchestratorOption is a functional option for configuring an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// StageObserver is told about every stage as it is encoded.
type StageObserver func(stage Stage)

// WithConfig replaces the whole configuration.
//
// Parameters:
//   - cfg: the configuration
//
// Returns:
//   - OrchestratorOption: option function to apply
func WithConfig(cfg Config) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// WithSortCapacity sets the number of pairs the sorter can hold. Defaults to the Gaussian count.
func WithSortCapacity(capacity uint32) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cfg.Sort.Capacity = capacity
	}
}

// WithKeyBits sets the sort key width. Anything but 32 fails construction.
func WithKeyBits(bits uint32) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cfg.Sort.KeyBits = bits
	}
}

// WithDigitBits sets the radix digit width.
func WithDigitBits(bits uint32) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cfg.Sort.DigitBits = bits
	}
}

// WithWorkgroupSize sets the sort workgroup size, and the preprocess one unless it was set.
func WithWorkgroupSize(size uint32) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cfg.Sort.WorkgroupSize = size
	}
}

// WithPreprocessWorkgroupSize sets the preprocess workgroup size.
func WithPreprocessWorkgroupSize(size uint32) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cfg.PreprocessWorkgroupSize = size
	}
}

// WithGaussianScaling sets the initial Gaussian scale modifier.
func WithGaussianScaling(scaling float32) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cfg.GaussianScaling = scaling
	}
}

// WithSHDegree limits the evaluated SH degree.
func WithSHDegree(degree int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.cfg.SHDegree = degree
	}
}

// WithStageObserver registers a callback run before each stage is encoded.
//
// Parameters:
//   - observer: the callback
//
// Returns:
//   - OrchestratorOption: option function to apply
func WithStageObserver(observer StageObserver) OrchestratorOption {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}
