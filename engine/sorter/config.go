package sorter

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-splat/common"
)

// MaxDispatchBlocks is the largest workgroup count of one dispatch dimension.
const MaxDispatchBlocks = 65535

var (
	ErrInvalidKeyBits       = errors.New("sorter: key bits must be in 1..32")
	ErrInvalidDigitBits     = errors.New("sorter: digit bits must be in 1..8")
	ErrInvalidWorkgroupSize = errors.New("sorter: workgroup size must be a power of two in 32..256 and at least the radix")
	ErrInvalidCapacity      = errors.New("sorter: capacity must be positive and fit one dispatch dimension")
)

// Config fixes the shape of a sorter. One workgroup sorts one block of WorkgroupSize keys.
type Config struct {
	KeyBits       uint32
	DigitBits     uint32
	WorkgroupSize uint32
	Capacity      uint32
}

// DefaultConfig returns 32-bit keys, 8-bit digits and 256-thread workgroups for a capacity.
//
// Parameters:
//   - capacity: the maximum number of pairs sorted
//
// Returns:
//   - Config: the configuration
func DefaultConfig(capacity uint32) Config {
	return Config{
		KeyBits:       32,
		DigitBits:     8,
		WorkgroupSize: 256,
		Capacity:      capacity,
	}
}

// Validate checks the configuration. Errors wrap one of the ErrInvalid* sentinels.
//
// Returns:
//   - error: nil when the configuration is usable
func (c Config) Validate() error {
	if c.KeyBits == 0 || c.KeyBits > 32 {
		return fmt.Errorf("%w: got %d", ErrInvalidKeyBits, c.KeyBits)
	}
	if c.DigitBits == 0 || c.DigitBits > 8 {
		return fmt.Errorf("%w: got %d", ErrInvalidDigitBits, c.DigitBits)
	}
	if !common.IsPowerOfTwo(c.WorkgroupSize) || c.WorkgroupSize < 32 || c.WorkgroupSize > 256 || c.WorkgroupSize < c.Radix() {
		return fmt.Errorf("%w: got %d for radix %d", ErrInvalidWorkgroupSize, c.WorkgroupSize, c.Radix())
	}
	if c.Capacity == 0 || c.MaxBlocks() > MaxDispatchBlocks {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, c.Capacity)
	}
	return nil
}

// Radix is the number of digit values, 1 << DigitBits.
func (c Config) Radix() uint32 {
	return 1 << c.DigitBits
}

// DigitMask masks one digit after shifting.
func (c Config) DigitMask() uint32 {
	return c.Radix() - 1
}

// Passes is the number of digit passes, ceil(KeyBits / DigitBits).
func (c Config) Passes() uint32 {
	return common.DivCeil(c.KeyBits, c.DigitBits)
}

// Shift is the bit offset of the digit sorted in a pass.
func (c Config) Shift(pass uint32) uint32 {
	return pass * c.DigitBits
}

// BlockSize is the number of keys one workgroup handles.
func (c Config) BlockSize() uint32 {
	return c.WorkgroupSize
}

// MaxBlocks is the number of blocks needed for a full buffer.
func (c Config) MaxBlocks() uint32 {
	return common.DivCeil(c.Capacity, c.BlockSize())
}

// PaddedCapacity is the capacity rounded up to whole blocks; every key and value buffer has this many words.
func (c Config) PaddedCapacity() uint32 {
	return common.RoundUp(c.Capacity, c.BlockSize())
}

// ResultSlot is the slot holding the sorted pairs after Passes() passes.
func (c Config) ResultSlot() Slot {
	if c.Passes()%2 == 0 {
		return SlotPrimary
	}
	return SlotSecondary
}

// SlotFor reports the source and destination slot of a pass. Pass 0 reads the primary slot.
//
// Parameters:
//   - pass: the pass index
//
// Returns:
//   - Slot: the slot read
//   - Slot: the slot written
func (c Config) SlotFor(pass uint32) (Slot, Slot) {
	if pass%2 == 0 {
		return SlotPrimary, SlotSecondary
	}
	return SlotSecondary, SlotPrimary
}

// Slot names one half of the ping-pong buffer pair.
type Slot int

const (
	// SlotPrimary is the pair the sort input is written to.
	SlotPrimary Slot = iota
	// SlotSecondary is the other pair.
	SlotSecondary
)

// String returns the slot name.
func (s Slot) String() string {
	switch s {
	case SlotPrimary:
		return "primary"
	case SlotSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("Slot(%d)", int(s))
	}
}

// Other returns the opposite slot.
func (s Slot) Other() Slot {
	return 1 - s
}
