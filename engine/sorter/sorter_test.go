package sorter

import (
	"errors"
	"math/rand/v2"
	"slices"
	"sort"
	"testing"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-splat/common"
	"github.com/Carmen-Shannon/oxy-splat/engine/renderer/renderertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"default", func(c *Config) {}, nil},
		{"zero key bits", func(c *Config) { c.KeyBits = 0 }, ErrInvalidKeyBits},
		{"wide keys", func(c *Config) { c.KeyBits = 33 }, ErrInvalidKeyBits},
		{"zero digit bits", func(c *Config) { c.DigitBits = 0 }, ErrInvalidDigitBits},
		{"wide digits", func(c *Config) { c.DigitBits = 9 }, ErrInvalidDigitBits},
		{"odd workgroup", func(c *Config) { c.WorkgroupSize = 100 }, ErrInvalidWorkgroupSize},
		{"tiny workgroup", func(c *Config) { c.WorkgroupSize = 16 }, ErrInvalidWorkgroupSize},
		{"huge workgroup", func(c *Config) { c.WorkgroupSize = 512 }, ErrInvalidWorkgroupSize},
		{"workgroup below radix", func(c *Config) { c.WorkgroupSize = 128 }, ErrInvalidWorkgroupSize},
		{"small radix small workgroup", func(c *Config) { c.DigitBits = 4; c.WorkgroupSize = 32 }, nil},
		{"zero capacity", func(c *Config) { c.Capacity = 0 }, ErrInvalidCapacity},
		{"max capacity", func(c *Config) { c.Capacity = MaxDispatchBlocks * 256 }, nil},
		{"over capacity", func(c *Config) { c.Capacity = MaxDispatchBlocks*256 + 1 }, ErrInvalidCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(1000)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigDerived(t *testing.T) {
	cfg := DefaultConfig(1000)
	assert.Equal(t, uint32(256), cfg.Radix())
	assert.Equal(t, uint32(0xFF), cfg.DigitMask())
	assert.Equal(t, uint32(4), cfg.Passes())
	assert.Equal(t, uint32(4), cfg.MaxBlocks())
	assert.Equal(t, uint32(1024), cfg.PaddedCapacity())
	assert.Equal(t, uint32(24), cfg.Shift(3))

	parity := []struct {
		keyBits, digitBits uint32
		want               Slot
	}{
		{32, 8, SlotPrimary},
		{32, 6, SlotPrimary},
		{32, 5, SlotSecondary},
		{8, 8, SlotSecondary},
		{16, 8, SlotPrimary},
	}
	for _, p := range parity {
		c := Config{KeyBits: p.keyBits, DigitBits: p.digitBits, WorkgroupSize: 256, Capacity: 10}
		assert.Equal(t, p.want, c.ResultSlot(), "key %d digit %d", p.keyBits, p.digitBits)
	}
}

func TestSlotFor(t *testing.T) {
	cfg := DefaultConfig(64)
	for pass := range cfg.Passes() {
		src, dst := cfg.SlotFor(pass)
		assert.Equal(t, src.Other(), dst)
		if pass > 0 {
			_, prevDst := cfg.SlotFor(pass - 1)
			assert.Equal(t, prevDst, src, "pass %d must read what pass %d wrote", pass, pass-1)
		}
	}
	_, last := cfg.SlotFor(cfg.Passes() - 1)
	assert.Equal(t, cfg.ResultSlot(), last)

	assert.Equal(t, "primary", SlotPrimary.String())
	assert.Equal(t, "secondary", SlotSecondary.String())
	assert.Equal(t, "Slot(7)", Slot(7).String())
}

func TestGPUTypeLayouts(t *testing.T) {
	var info GPUSortInfo
	var dispatch GPUSortDispatch
	var params GPUSortParams
	assert.Equal(t, 16, info.Size())
	assert.Equal(t, 24, dispatch.Size())
	assert.Equal(t, 16, params.Size())

	d := GPUSortDispatch{Blocks: [3]uint32{7, 1, 1}, Scan: [3]uint32{1, 1, 1}}
	data := d.Marshal()
	require.Len(t, data, 24)
	assert.Equal(t, byte(7), data[BlocksDispatchOffset])
	assert.Equal(t, byte(1), data[ScanDispatchOffset])

	var back GPUSortDispatch
	require.NoError(t, back.Unmarshal(data))
	assert.Equal(t, d, back)
	assert.Error(t, back.Unmarshal(data[:20]))

	in := GPUSortInfo{KeysSize: 42, NumBlocks: 1}
	var out GPUSortInfo
	require.NoError(t, out.Unmarshal(in.Marshal()))
	assert.Equal(t, in, out)
}

type pair struct {
	key, value uint32
}

func randomPairs(n int, keyRange uint32, seed uint64) ([]uint32, []uint32) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	keys := make([]uint32, n)
	values := make([]uint32, n)
	for i := range keys {
		keys[i] = rng.Uint32N(keyRange)
		values[i] = uint32(i)
	}
	return keys, values
}

// stableReference sorts pairs by key keeping the input order of equal keys.
func stableReference(keys, values []uint32) []pair {
	pairs := make([]pair, len(keys))
	for i := range keys {
		pairs[i] = pair{keys[i], values[i]}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })
	return pairs
}

func zip(keys, values []uint32) []pair {
	pairs := make([]pair, len(keys))
	for i := range keys {
		pairs[i] = pair{keys[i], values[i]}
	}
	return pairs
}

func TestCPUSort(t *testing.T) {
	pool := common.NewComputePool(4)
	tests := []struct {
		name     string
		cfg      Config
		count    int
		keyRange uint32
	}{
		{"full range", DefaultConfig(1000), 1000, 1<<32 - 1},
		{"heavy duplicates", DefaultConfig(1000), 1000, 16},
		{"partial fill", DefaultConfig(4096), 777, 1<<32 - 1},
		{"exact blocks", DefaultConfig(512), 512, 1 << 20},
		{"single element", DefaultConfig(256), 1, 1 << 20},
		{"odd pass count", Config{KeyBits: 20, DigitBits: 4, WorkgroupSize: 64, Capacity: 300}, 300, 1 << 20},
	}
	for _, tt := range tests {
		for _, p := range []struct {
			name string
			pool worker.DynamicWorkerPool
		}{{"serial", nil}, {"pool", pool}} {
			t.Run(tt.name+"/"+p.name, func(t *testing.T) {
				keys, values := randomPairs(tt.count, tt.keyRange, uint64(tt.count))
				want := stableReference(keys, values)

				require.NoError(t, CPUSort(p.pool, tt.cfg, keys, values, uint32(tt.count)))
				assert.Equal(t, want, zip(keys, values))
			})
		}
	}
}

func TestCPUSortPermutation(t *testing.T) {
	keys, values := randomPairs(2000, 100, 7)
	require.NoError(t, CPUSort(nil, DefaultConfig(2000), keys, values, 2000))

	seen := make([]bool, 2000)
	for _, v := range values {
		require.False(t, seen[v], "value %d emitted twice", v)
		seen[v] = true
	}
	assert.True(t, slices.IsSorted(keys))
}

func TestCPUSortEdgeCases(t *testing.T) {
	t.Run("zero count leaves input alone", func(t *testing.T) {
		keys := []uint32{3, 1, 2}
		values := []uint32{0, 1, 2}
		require.NoError(t, CPUSort(nil, DefaultConfig(3), keys, values, 0))
		assert.Equal(t, []uint32{3, 1, 2}, keys)
		assert.Equal(t, []uint32{0, 1, 2}, values)
	})

	t.Run("count above capacity is clamped", func(t *testing.T) {
		keys := []uint32{9, 8, 7, 6, 5}
		values := []uint32{0, 1, 2, 3, 4}
		require.NoError(t, CPUSort(nil, DefaultConfig(3), keys, values, 5))
		assert.Equal(t, []uint32{7, 8, 9, 6, 5}, keys)
		assert.Equal(t, []uint32{2, 1, 0, 3, 4}, values)
	})

	t.Run("idempotent re-sort", func(t *testing.T) {
		keys, values := randomPairs(600, 50, 11)
		require.NoError(t, CPUSort(nil, DefaultConfig(600), keys, values, 600))
		onceKeys, onceValues := slices.Clone(keys), slices.Clone(values)
		require.NoError(t, CPUSort(nil, DefaultConfig(600), keys, values, 600))
		assert.Equal(t, onceKeys, keys)
		assert.Equal(t, onceValues, values)
	})

	t.Run("mismatched slices", func(t *testing.T) {
		assert.Error(t, CPUSort(nil, DefaultConfig(4), make([]uint32, 4), make([]uint32, 3), 3))
		assert.Error(t, CPUSort(nil, DefaultConfig(8), make([]uint32, 4), make([]uint32, 4), 6))
	})

	t.Run("invalid config", func(t *testing.T) {
		err := CPUSort(nil, Config{}, nil, nil, 0)
		assert.True(t, errors.Is(err, ErrInvalidKeyBits))
	})
}

func TestCPUKernelsSetup(t *testing.T) {
	k, err := NewCPUKernels(DefaultConfig(1000), nil)
	require.NoError(t, err)

	info := []uint32{513, 0, 0, 0}
	dispatch := make([]uint32, 6)
	k.Setup(info, dispatch)
	assert.Equal(t, []uint32{513, 3, 0, 0}, info)
	assert.Equal(t, []uint32{3, 1, 1, 1, 1, 1}, dispatch)

	info = []uint32{0, 9, 0, 0}
	k.Setup(info, dispatch)
	assert.Equal(t, []uint32{0, 0, 0, 0}, info)
	assert.Equal(t, []uint32{0, 1, 1, 0, 1, 1}, dispatch)

	info = []uint32{5000, 0, 0, 0}
	k.Setup(info, dispatch)
	assert.Equal(t, uint32(1000), info[0])
	assert.Equal(t, uint32(4), info[1])

	assert.ErrorIs(t, k.Run("sort_everything", [3]uint32{1, 1, 1}, nil), ErrUnknownKernel)
}

// newFakeSorter builds a sorter on the in-memory renderer with CPU kernels serving its dispatches.
func newFakeSorter(t *testing.T, cfg Config) (*Sorter, *renderertest.Renderer) {
	t.Helper()
	r := renderertest.New(64, 64)
	k, err := NewCPUKernels(cfg, common.NewComputePool(2))
	require.NoError(t, err)
	for _, kernel := range []string{KernelSetup, KernelHistogram, KernelScan, KernelScatter} {
		r.HandleKernel(kernel, k.Run)
	}
	s, err := New(r, cfg)
	require.NoError(t, err)
	return s, r
}

func TestSorterEncode(t *testing.T) {
	cfg := DefaultConfig(1000)
	s, r := newFakeSorter(t, cfg)
	assert.Equal(t, SlotPrimary, s.ResultSlot())
	assert.Len(t, r.Words(s.Keys(SlotPrimary)), int(cfg.PaddedCapacity()))

	keys, values := randomPairs(900, 1<<32-1, 3)
	want := stableReference(keys, values)
	copy(r.Words(s.Keys(SlotPrimary)), keys)
	copy(r.Words(s.Values(SlotPrimary)), values)
	r.Words(s.Info())[KeysSizeOffset/4] = 900

	require.NoError(t, r.BeginFrame())
	require.NoError(t, s.Encode(r))
	require.NoError(t, r.EndFrame())

	out := s.ResultSlot()
	assert.Equal(t, want, zip(r.Words(s.Keys(out))[:900], r.Words(s.Values(out))[:900]))

	cmds := r.Commands()
	require.Len(t, cmds, 1+3*int(cfg.Passes()))
	assert.Equal(t, renderertest.CommandDispatch, cmds[0].Kind)
	assert.Equal(t, PipelineKey(cfg, KernelSetup), cmds[0].Pipeline)
	for i, cmd := range cmds[1:] {
		assert.Equal(t, renderertest.CommandDispatchIndirect, cmd.Kind)
		assert.Equal(t, s.Dispatch(), cmd.Indirect)
		if i%3 == 1 {
			assert.Equal(t, uint64(ScanDispatchOffset), cmd.IndirectOffset)
			assert.Equal(t, [3]uint32{1, 1, 1}, cmd.Groups)
		} else {
			assert.Equal(t, [3]uint32{4, 1, 1}, cmd.Groups)
		}
	}
}

func TestSorterEncodeZeroCount(t *testing.T) {
	s, r := newFakeSorter(t, DefaultConfig(300))
	copy(r.Words(s.Keys(SlotPrimary)), []uint32{5, 4, 3})

	require.NoError(t, r.BeginFrame())
	require.NoError(t, s.Encode(r))
	require.NoError(t, r.EndFrame())

	for _, cmd := range r.Commands()[1:] {
		assert.Equal(t, uint32(0), cmd.Groups[0], "%s must launch no workgroups", cmd.Pipeline)
	}
	var info GPUSortInfo
	data, err := r.ReadBuffer(s.Info(), 0, uint64(info.Size()))
	require.NoError(t, err)
	require.NoError(t, info.Unmarshal(data))
	assert.Equal(t, GPUSortInfo{}, info)
}

func TestSorterEncodeOutsideFrame(t *testing.T) {
	s, r := newFakeSorter(t, DefaultConfig(16))
	assert.Error(t, s.Encode(r))
}

func TestSorterRejectsInvalidConfig(t *testing.T) {
	_, err := New(renderertest.New(1, 1), Config{KeyBits: 32, DigitBits: 8, WorkgroupSize: 256})
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}
