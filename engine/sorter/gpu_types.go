package sorter

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"unsafe"
)

// GPUSortTypesSource holds the WGSL SortInfo, SortDispatch and SortParams structs.
//
//go:embed assets/sort_types.wgsl
var GPUSortTypesSource string

// sortPassBindingsSource declares the bindings shared by the histogram, scan and scatter kernels.
//
//go:embed assets/sort_pass_bindings.wgsl
var sortPassBindingsSource string

//go:embed assets/sort_setup.wgsl
var sortSetupSource string

//go:embed assets/sort_histogram.wgsl
var sortHistogramSource string

//go:embed assets/sort_scan.wgsl
var sortScanSource string

//go:embed assets/sort_scatter.wgsl
var sortScatterSource string

// Include names of the sorter's WGSL snippets.
const (
	IncludeSortTypes        = "sort_types"
	IncludeSortPassBindings = "sort_pass_bindings"
)

// Byte offsets into the sorter's indirect buffers.
const (
	// KeysSizeOffset is the offset of keys_size in the info buffer; the count copy targets it.
	KeysSizeOffset = 0
	// BlocksDispatchOffset is the offset of the (num_blocks, 1, 1) triple.
	BlocksDispatchOffset = 0
	// ScanDispatchOffset is the offset of the (min(num_blocks, 1), 1, 1) triple.
	ScanDispatchOffset = 12
)

// GPUSortInfo mirrors the WGSL SortInfo struct. Size: 16 bytes.
type GPUSortInfo struct {
	KeysSize  uint32 // offset 0: number of pairs to sort, written by the count copy
	NumBlocks uint32 // offset 4: written by sort_setup
	_         [2]uint32
}

// Size returns the size of the struct in bytes (16).
func (g *GPUSortInfo) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the struct for GPU upload.
//
// Returns:
//   - []byte: the little-endian bytes
func (g *GPUSortInfo) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf[0:], g.KeysSize)
	binary.LittleEndian.PutUint32(buf[4:], g.NumBlocks)
	return buf
}

// Unmarshal reads the struct from GPU bytes.
//
// Parameters:
//   - data: at least Size() bytes
//
// Returns:
//   - error: an error if data is too short
func (g *GPUSortInfo) Unmarshal(data []byte) error {
	if len(data) < g.Size() {
		return fmt.Errorf("sorter: sort info needs %d bytes, got %d", g.Size(), len(data))
	}
	g.KeysSize = binary.LittleEndian.Uint32(data[0:])
	g.NumBlocks = binary.LittleEndian.Uint32(data[4:])
	return nil
}

// GPUSortDispatch mirrors the WGSL SortDispatch struct: two indirect dispatch triples. Size: 24 bytes.
type GPUSortDispatch struct {
	Blocks [3]uint32 // offset  0: histogram and scatter
	Scan   [3]uint32 // offset 12: scan
}

// Size returns the size of the struct in bytes (24).
func (g *GPUSortDispatch) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the struct for GPU upload.
//
// Returns:
//   - []byte: the little-endian bytes
func (g *GPUSortDispatch) Marshal() []byte {
	buf := make([]byte, g.Size())
	for i, v := range g.Blocks {
		binary.LittleEndian.PutUint32(buf[BlocksDispatchOffset+4*i:], v)
	}
	for i, v := range g.Scan {
		binary.LittleEndian.PutUint32(buf[ScanDispatchOffset+4*i:], v)
	}
	return buf
}

// Unmarshal reads the struct from GPU bytes.
//
// Parameters:
//   - data: at least Size() bytes
//
// Returns:
//   - error: an error if data is too short
func (g *GPUSortDispatch) Unmarshal(data []byte) error {
	if len(data) < g.Size() {
		return fmt.Errorf("sorter: sort dispatch needs %d bytes, got %d", g.Size(), len(data))
	}
	for i := range g.Blocks {
		g.Blocks[i] = binary.LittleEndian.Uint32(data[BlocksDispatchOffset+4*i:])
	}
	for i := range g.Scan {
		g.Scan[i] = binary.LittleEndian.Uint32(data[ScanDispatchOffset+4*i:])
	}
	return nil
}

// GPUSortParams mirrors the WGSL SortParams uniform. Size: 16 bytes.
type GPUSortParams struct {
	Shift uint32 // offset 0: bit offset of the pass digit
	_     [3]uint32
}

// Size returns the size of the struct in bytes (16).
func (g *GPUSortParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the struct for GPU upload.
//
// Returns:
//   - []byte: the little-endian bytes
func (g *GPUSortParams) Marshal() []byte {
	buf := make([]byte, g.Size())
	binary.LittleEndian.PutUint32(buf, g.Shift)
	return buf
}

// Includes returns the sorter's WGSL snippets keyed by include name.
func Includes() map[string]string {
	return map[string]string{
		IncludeSortTypes:        GPUSortTypesSource,
		IncludeSortPassBindings: sortPassBindingsSource,
	}
}

// templateData is the text/template input of every sorter kernel.
type templateData struct {
	WorkgroupSize uint32
	Radix         uint32
	DigitMask     uint32
	MaxBlocks     uint32
	Capacity      uint32
}

func newTemplateData(c Config) templateData {
	return templateData{
		WorkgroupSize: c.WorkgroupSize,
		Radix:         c.Radix(),
		DigitMask:     c.DigitMask(),
		MaxBlocks:     c.MaxBlocks(),
		Capacity:      c.Capacity,
	}
}
