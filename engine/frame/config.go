package frame

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-splat/engine/sorter"
)

// DepthKeyBits is the width of the keys preprocess writes.
const DepthKeyBits = 32

var (
	// ErrKeyWidthMismatch is returned when the sorter is not configured for 32-bit depth keys.
	ErrKeyWidthMismatch = errors.New("frame: sort key width does not match the 32-bit depth key")

	// ErrCapacityMismatch is returned when the sorter cannot hold every Gaussian of the cloud.
	ErrCapacityMismatch = errors.New("frame: sort capacity is smaller than the Gaussian count")
)

// Config is everything an Orchestrator is built from.
type Config struct {
	// Sort shapes the sorter. Capacity 0 means the Gaussian count.
	Sort sorter.Config
	// PreprocessWorkgroupSize is the preprocess thread count per workgroup. 0 means Sort.WorkgroupSize.
	PreprocessWorkgroupSize uint32
	// GaussianScaling multiplies every Gaussian scale.
	GaussianScaling float32
	// SHDegree is the evaluated SH degree; negative means the cloud's degree.
	SHDegree int
}

// DefaultConfig returns 32-bit keys with 8-bit digits, 256-thread workgroups, capacity equal to
// the cloud, unit scaling and the cloud's full SH degree.
//
// Returns:
//   - Config: the configuration
func DefaultConfig() Config {
	return Config{
		Sort:            sorter.DefaultConfig(0),
		GaussianScaling: 1,
		SHDegree:        -1,
	}
}

// resolve fills the zero fields that depend on the Gaussian count.
func (c Config) resolve(gaussians uint32) Config {
	if c.Sort.Capacity == 0 {
		c.Sort.Capacity = gaussians
	}
	if c.PreprocessWorkgroupSize == 0 {
		c.PreprocessWorkgroupSize = c.Sort.WorkgroupSize
	}
	return c
}

// Validate checks the contracts between the stages for a cloud of the given size.
//
// Parameters:
//   - gaussians: the Gaussian count
//
// Returns:
//   - error: ErrKeyWidthMismatch, ErrCapacityMismatch or a sorter error, wrapped
func (c Config) Validate(gaussians uint32) error {
	c = c.resolve(gaussians)
	if c.Sort.KeyBits != DepthKeyBits {
		return fmt.Errorf("%w: key bits %d", ErrKeyWidthMismatch, c.Sort.KeyBits)
	}
	if c.Sort.Capacity < gaussians {
		return fmt.Errorf("%w: capacity %d, gaussians %d", ErrCapacityMismatch, c.Sort.Capacity, gaussians)
	}
	if err := c.Sort.Validate(); err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	return nil
}
