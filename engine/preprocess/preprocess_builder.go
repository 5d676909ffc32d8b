package preprocess

// StageOption is a functional option for configuring a Stage.
type StageOption func(*Stage)

// WithWorkgroupSize sets the threads per workgroup. Usually the sort workgroup size.
//
// Parameters:
//   - size: a power of two in 1..256
//
// Returns:
//   - StageOption: a function that sets the workgroup size
func WithWorkgroupSize(size uint32) StageOption {
	return func(s *Stage) {
		s.workgroupSize = size
	}
}
