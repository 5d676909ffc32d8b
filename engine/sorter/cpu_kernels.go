package sorter

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-splat/common"
)

// ErrUnknownKernel is returned by CPUKernels.Run for an entry point the sorter does not define.
var ErrUnknownKernel = errors.New("sorter: unknown kernel")

// CPUKernels runs the sorter's kernels on the CPU, one workgroup at a time, over the same word
// layouts the WGSL uses. Independent workgroups of the histogram and scatter kernels run on
// the worker pool when one is set.
type CPUKernels struct {
	cfg  Config
	pool worker.DynamicWorkerPool
}

// NewCPUKernels creates the CPU kernels of a configuration.
//
// Parameters:
//   - cfg: the sorter configuration
//   - pool: the worker pool, or nil to run workgroups serially
//
// Returns:
//   - *CPUKernels: the kernels
//   - error: a wrapped ErrInvalid* sentinel
func NewCPUKernels(cfg Config, pool worker.DynamicWorkerPool) (*CPUKernels, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CPUKernels{cfg: cfg, pool: pool}, nil
}

// Setup clamps keys_size to the capacity and derives num_blocks and both dispatch triples.
//
// Parameters:
//   - info: the 4 words of SortInfo
//   - dispatch: the 6 words of SortDispatch
func (k *CPUKernels) Setup(info, dispatch []uint32) {
	keys := min(info[0], k.cfg.Capacity)
	blocks := common.DivCeil(keys, k.cfg.BlockSize())
	info[0] = keys
	info[1] = blocks
	copy(dispatch, []uint32{blocks, 1, 1, min(blocks, 1), 1, 1})
}

// Histogram counts the digits of one block and stores them digit-major.
//
// Parameters:
//   - block: the workgroup index
//   - shift: the digit offset of the pass
//   - info: the SortInfo words
//   - hist: Radix()*MaxBlocks() words
//   - keysIn: the source keys
func (k *CPUKernels) Histogram(block, shift uint32, info, hist, keysIn []uint32) {
	maxBlocks := k.cfg.MaxBlocks()
	bins := make([]uint32, k.cfg.Radix())
	for _, key := range k.blockKeys(block, info, keysIn) {
		bins[(key>>shift)&k.cfg.DigitMask()]++
	}
	for d, count := range bins {
		hist[uint32(d)*maxBlocks+block] = count
	}
}

// Scan turns the block histograms into global scatter offsets: within a digit an exclusive
// prefix over blocks, plus the exclusive prefix of the digit totals.
//
// Parameters:
//   - info: the SortInfo words
//   - hist: Radix()*MaxBlocks() words, rewritten in place
func (k *CPUKernels) Scan(info, hist []uint32) {
	maxBlocks := k.cfg.MaxBlocks()
	blocks := info[1]
	var running uint32
	for d := range k.cfg.Radix() {
		row := hist[d*maxBlocks : d*maxBlocks+blocks]
		for b, count := range row {
			row[b] = running
			running += count
		}
	}
}

// Scatter moves the pairs of one block to their destination. A key's rank among equal digits
// earlier in its block keeps the pass stable.
//
// Parameters:
//   - block: the workgroup index
//   - shift: the digit offset of the pass
//   - info: the SortInfo words
//   - hist: the scanned offsets
//   - keysIn, valuesIn: the source slot
//   - keysOut, valuesOut: the destination slot
func (k *CPUKernels) Scatter(block, shift uint32, info, hist, keysIn, valuesIn, keysOut, valuesOut []uint32) {
	maxBlocks := k.cfg.MaxBlocks()
	ranks := make([]uint32, k.cfg.Radix())
	start := block * k.cfg.BlockSize()
	for j, key := range k.blockKeys(block, info, keysIn) {
		d := (key >> shift) & k.cfg.DigitMask()
		dst := hist[d*maxBlocks+block] + ranks[d]
		ranks[d]++
		keysOut[dst] = key
		valuesOut[dst] = valuesIn[start+uint32(j)]
	}
}

func (k *CPUKernels) blockKeys(block uint32, info, keysIn []uint32) []uint32 {
	start := block * k.cfg.BlockSize()
	end := min(start+k.cfg.BlockSize(), info[0])
	if start >= end {
		return nil
	}
	return keysIn[start:end]
}

// Run executes one dispatch of a kernel over the buffers bound to it, reading bindings the way
// the WGSL declares them. Fake renderers use it to stand in for the GPU.
//
// Parameters:
//   - entryPoint: one of the Kernel* names
//   - groups: the workgroup count of the dispatch
//   - words: resolves a group and binding to the bound buffer's words
//
// Returns:
//   - error: ErrUnknownKernel for an entry point outside the sorter
func (k *CPUKernels) Run(entryPoint string, groups [3]uint32, words func(group, binding int) []uint32) error {
	total := groups[0] * groups[1] * groups[2]
	switch entryPoint {
	case KernelSetup:
		if total > 0 {
			k.Setup(words(0, bindingInfo), words(0, bindingDispatch))
		}
	case KernelHistogram:
		info, hist := words(0, bindingInfo), words(0, bindingHistograms)
		shift, keysIn := words(1, bindingParams)[0], words(1, bindingKeysIn)
		k.forEachBlock(total, func(block uint32) {
			k.Histogram(block, shift, info, hist, keysIn)
		})
	case KernelScan:
		if total > 0 {
			k.Scan(words(0, bindingInfo), words(0, bindingHistograms))
		}
	case KernelScatter:
		info, hist := words(0, bindingInfo), words(0, bindingHistograms)
		shift := words(1, bindingParams)[0]
		keysIn, valuesIn := words(1, bindingKeysIn), words(1, bindingValuesIn)
		keysOut, valuesOut := words(1, bindingKeysOut), words(1, bindingValuesOut)
		k.forEachBlock(total, func(block uint32) {
			k.Scatter(block, shift, info, hist, keysIn, valuesIn, keysOut, valuesOut)
		})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKernel, entryPoint)
	}
	return nil
}

func (k *CPUKernels) forEachBlock(blocks uint32, fn func(block uint32)) {
	if k.pool == nil {
		for b := range blocks {
			fn(b)
		}
		return
	}
	common.ParallelFor(k.pool, int(blocks), func(i int) {
		fn(uint32(i))
	})
}

// Sort sorts the first count pairs in place with the kernel sequence Encode records.
// Counts above the capacity are clamped like the GPU setup kernel clamps them.
//
// Parameters:
//   - keys: the keys, at least count long
//   - values: the values, as long as keys
//   - count: the number of pairs to sort
//
// Returns:
//   - error: an error if the slices are too short or differ in length
func (k *CPUKernels) Sort(keys, values []uint32, count uint32) error {
	if len(keys) != len(values) {
		return fmt.Errorf("sorter: %d keys but %d values", len(keys), len(values))
	}
	n := min(count, k.cfg.Capacity)
	if uint32(len(keys)) < n {
		return fmt.Errorf("sorter: count %d exceeds %d keys", n, len(keys))
	}

	padded := k.cfg.PaddedCapacity()
	slotKeys := [2][]uint32{make([]uint32, padded), make([]uint32, padded)}
	slotValues := [2][]uint32{make([]uint32, padded), make([]uint32, padded)}
	copy(slotKeys[SlotPrimary], keys[:n])
	copy(slotValues[SlotPrimary], values[:n])

	info := []uint32{n, 0, 0, 0}
	dispatch := make([]uint32, 6)
	hist := make([]uint32, k.cfg.Radix()*k.cfg.MaxBlocks())
	k.Setup(info, dispatch)

	for p := range k.cfg.Passes() {
		src, dst := k.cfg.SlotFor(p)
		shift := k.cfg.Shift(p)
		k.forEachBlock(dispatch[0], func(block uint32) {
			k.Histogram(block, shift, info, hist, slotKeys[src])
		})
		if dispatch[3] > 0 {
			k.Scan(info, hist)
		}
		k.forEachBlock(dispatch[0], func(block uint32) {
			k.Scatter(block, shift, info, hist, slotKeys[src], slotValues[src], slotKeys[dst], slotValues[dst])
		})
	}

	result := k.cfg.ResultSlot()
	copy(keys, slotKeys[result][:n])
	copy(values, slotValues[result][:n])
	return nil
}

// CPUSort sorts the first count pairs in place on the worker pool.
//
// Parameters:
//   - pool: the worker pool, or nil for a serial sort
//   - cfg: the sorter configuration
//   - keys: the keys
//   - values: the values carried with the keys
//   - count: the number of pairs to sort
//
// Returns:
//   - error: a configuration error, or an error for mismatched slices
func CPUSort(pool worker.DynamicWorkerPool, cfg Config, keys, values []uint32, count uint32) error {
	k, err := NewCPUKernels(cfg, pool)
	if err != nil {
		return err
	}
	return k.Sort(keys, values, count)
}
