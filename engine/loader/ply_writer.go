package loader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/Carmen-Shannon/oxy-splat/engine/splat"
)

// WritePLY encodes a cloud in the binary PLY layout the loader reads, inverting the
// activations: log scales, opacity logits and channel-major f_rest.
//
// Parameters:
//   - w: the destination
//   - cloud: the cloud to encode
//
// Returns:
//   - error: a write error
func WritePLY(w io.Writer, cloud *splat.PointCloud) error {
	coeffs := splat.SHCoefficientCount(cloud.SHDegree())
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "ply\nformat binary_little_endian 1.0\nelement vertex %d\n", cloud.Len())
	props := []string{"x", "y", "z", "f_dc_0", "f_dc_1", "f_dc_2"}
	for i := range 3 * (coeffs - 1) {
		props = append(props, fmt.Sprintf("f_rest_%d", i))
	}
	props = append(props, "opacity", "scale_0", "scale_1", "scale_2", "rot_0", "rot_1", "rot_2", "rot_3")
	for _, p := range props {
		fmt.Fprintf(bw, "property float %s\n", p)
	}
	fmt.Fprint(bw, "end_header\n")

	row := make([]byte, 0, 4*len(props))
	put := func(v float32) {
		row = binary.LittleEndian.AppendUint32(row, math.Float32bits(v))
	}
	for _, g := range cloud.Gaussians() {
		row = row[:0]
		put(g.Position.X())
		put(g.Position.Y())
		put(g.Position.Z())
		for c := range 3 {
			put(g.SH[c])
		}
		for c := range 3 {
			for k := 1; k < coeffs; k++ {
				put(g.SH[3*k+c])
			}
		}
		put(logit(g.Opacity))
		for i := range 3 {
			put(float32(math.Log(float64(g.Scale[i]))))
		}
		put(g.Rotation.W)
		put(g.Rotation.V.X())
		put(g.Rotation.V.Y())
		put(g.Rotation.V.Z())
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func logit(p float32) float32 {
	q := math.Min(math.Max(float64(p), 1e-6), 1-1e-6)
	return float32(math.Log(q / (1 - q)))
}
