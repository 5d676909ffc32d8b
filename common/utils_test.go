package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDivCeil(t *testing.T) {
	tests := []struct {
		n, d, want uint32
	}{
		{0, 256, 0},
		{1, 256, 1},
		{256, 256, 1},
		{257, 256, 2},
		{1000, 256, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DivCeil(tt.n, tt.d), "DivCeil(%d, %d)", tt.n, tt.d)
	}
}

func TestRoundUp(t *testing.T) {
	assert.Equal(t, uint32(0), RoundUp(0, 256))
	assert.Equal(t, uint32(256), RoundUp(1, 256))
	assert.Equal(t, uint32(1024), RoundUp(1000, 256))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.False(t, IsPowerOfTwo(0))
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(256))
	assert.False(t, IsPowerOfTwo(192))
}

func TestCoalesce(t *testing.T) {
	assert.Equal(t, 3, Coalesce(0, 3, 4))
	assert.Equal(t, "", Coalesce[string]())
}

func TestLoggerDefaultsToSilent(t *testing.T) {
	SetLogger(nil)
	assert.NotNil(t, Logger())
	assert.False(t, Logger().Enabled(t.Context(), 0))
}

func TestParallelFor(t *testing.T) {
	pool := NewComputePool(4)
	out := make([]int, 100)
	ParallelFor(pool, len(out), func(i int) {
		out[i] = i * i
	})
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
}
