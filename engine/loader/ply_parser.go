package loader

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	errNotPLY              = errors.New("not a PLY file")
	errUnsupportedEncoding = errors.New("only binary_little_endian 1.0 PLY is supported")
	errMalformedHeader     = errors.New("malformed PLY header")
	errListProperty        = errors.New("list properties are not supported")
	errNoVertexElement     = errors.New("PLY file has no vertex element")
)

const maxHeaderLines = 4096

// plyScalar is a PLY scalar type.
type plyScalar int

const (
	plyInt8 plyScalar = iota
	plyUint8
	plyInt16
	plyUint16
	plyInt32
	plyUint32
	plyFloat32
	plyFloat64
)

var plyScalarNames = map[string]plyScalar{
	"char": plyInt8, "int8": plyInt8,
	"uchar": plyUint8, "uint8": plyUint8,
	"short": plyInt16, "int16": plyInt16,
	"ushort": plyUint16, "uint16": plyUint16,
	"int": plyInt32, "int32": plyInt32,
	"uint": plyUint32, "uint32": plyUint32,
	"float": plyFloat32, "float32": plyFloat32,
	"double": plyFloat64, "float64": plyFloat64,
}

func (s plyScalar) size() int {
	switch s {
	case plyInt8, plyUint8:
		return 1
	case plyInt16, plyUint16:
		return 2
	case plyFloat64:
		return 8
	default:
		return 4
	}
}

// read decodes one little-endian value as float32.
func (s plyScalar) read(b []byte) float32 {
	switch s {
	case plyInt8:
		return float32(int8(b[0]))
	case plyUint8:
		return float32(b[0])
	case plyInt16:
		return float32(int16(binary.LittleEndian.Uint16(b)))
	case plyUint16:
		return float32(binary.LittleEndian.Uint16(b))
	case plyInt32:
		return float32(int32(binary.LittleEndian.Uint32(b)))
	case plyUint32:
		return float32(binary.LittleEndian.Uint32(b))
	case plyFloat64:
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	default:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
}

type plyProperty struct {
	name   string
	scalar plyScalar
	offset int
}

type plyElement struct {
	name       string
	count      int
	properties []plyProperty
	stride     int
}

func (e *plyElement) property(name string) (plyProperty, bool) {
	for _, p := range e.properties {
		if p.name == name {
			return p, true
		}
	}
	return plyProperty{}, false
}

type plyHeader struct {
	elements []plyElement
}

// parsePLYHeader reads the header up to and including end_header. The reader is left at the
// first body byte.
func parsePLYHeader(br *bufio.Reader) (*plyHeader, error) {
	line, err := readHeaderLine(br)
	if err != nil {
		return nil, err
	}
	if line != "ply" {
		return nil, errNotPLY
	}

	h := &plyHeader{}
	for range maxHeaderLines {
		line, err := readHeaderLine(br)
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "format":
			if len(fields) != 3 || fields[1] != "binary_little_endian" || fields[2] != "1.0" {
				return nil, fmt.Errorf("%w: %q", errUnsupportedEncoding, line)
			}
		case "comment", "obj_info":
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: %q", errMalformedHeader, line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("%w: element count %q", errMalformedHeader, fields[2])
			}
			h.elements = append(h.elements, plyElement{name: fields[1], count: count})
		case "property":
			if len(h.elements) == 0 || len(fields) < 3 {
				return nil, fmt.Errorf("%w: %q", errMalformedHeader, line)
			}
			if fields[1] == "list" {
				return nil, fmt.Errorf("%w: %q", errListProperty, line)
			}
			scalar, ok := plyScalarNames[fields[1]]
			if !ok || len(fields) != 3 {
				return nil, fmt.Errorf("%w: %q", errMalformedHeader, line)
			}
			el := &h.elements[len(h.elements)-1]
			el.properties = append(el.properties, plyProperty{name: fields[2], scalar: scalar, offset: el.stride})
			el.stride += scalar.size()
		case "end_header":
			return h, nil
		default:
			return nil, fmt.Errorf("%w: %q", errMalformedHeader, line)
		}
	}
	return nil, fmt.Errorf("%w: no end_header", errMalformedHeader)
}

func readHeaderLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: unexpected end of header", errMalformedHeader)
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// vertexBody skips the elements before the vertex element and reads the vertex rows.
func (h *plyHeader) vertexBody(br *bufio.Reader) (*plyElement, []byte, error) {
	for i := range h.elements {
		el := &h.elements[i]
		size := int64(el.count) * int64(el.stride)
		if el.name != "vertex" {
			if _, err := io.CopyN(io.Discard, br, size); err != nil {
				return nil, nil, fmt.Errorf("skip element %q: %w", el.name, err)
			}
			continue
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, nil, fmt.Errorf("read %d vertices: %w", el.count, err)
		}
		return el, body, nil
	}
	return nil, nil, errNoVertexElement
}
