package common

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// DivCeil returns n / d rounded up. d must be non-zero.
//
// Parameters:
//   - n: the dividend
//   - d: the divisor
//
// Returns:
//   - uint32: the smallest integer q such that q*d >= n
func DivCeil(n, d uint32) uint32 {
	return (n + d - 1) / d
}

// RoundUp rounds n up to the next multiple of m. m must be non-zero.
func RoundUp(n, m uint32) uint32 {
	return DivCeil(n, m) * m
}

// IsPowerOfTwo reports whether n is a power of two. Zero is not.
func IsPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}
