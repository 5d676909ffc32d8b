package splat

import "math"

// DepthKey maps a positive view-space depth to the sort key written by preprocess.
// Positive IEEE-754 floats order like their bit patterns, so subtracting the pattern from
// 0xFFFFFFFF reverses the order: an ascending sort of keys yields far-to-near draw order.
//
// Parameters:
//   - viewDepth: distance in front of the camera, > 0
//
// Returns:
//   - uint32: the key
func DepthKey(viewDepth float32) uint32 {
	return math.MaxUint32 - math.Float32bits(viewDepth)
}

// DepthFromKey inverts DepthKey.
//
// Parameters:
//   - key: a key produced by DepthKey
//
// Returns:
//   - float32: the view depth
func DepthFromKey(key uint32) float32 {
	return math.Float32frombits(math.MaxUint32 - key)
}
