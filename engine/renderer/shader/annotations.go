// annotations.go defines the @oxy: annotations understood by the WGSL pre-processor.
// Annotations are single-line WGSL comments. They inject shared struct sources and
// generate @group/@binding declarations so that every shader reading a buffer
// declares it with the same struct and address space.
package shader

import (
	"fmt"
	"strconv"
	"strings"
)

// annotationPrefix marks an Oxy annotation inside a WGSL comment line.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// annotationTypeInclude injects a registered WGSL snippet at the annotation site.
	//
	// Syntax: //@oxy:include <name>
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a @group/@binding variable declaration and
	// records it in the pre-processor's declarations list.
	//
	// Syntax: //@oxy:group <group> <binding> <address_space> <var_name> <wgsl_type>
	//
	// Example: //@oxy:group 0 0 uniform camera CameraUniform
	AnnotationTypeBindingGroup AnnotationType = "group"
)

// AddressSpace is the address space argument of a group annotation.
type AddressSpace string

const (
	AddressSpaceUniform   AddressSpace = "uniform"
	AddressSpaceRead      AddressSpace = "read"
	AddressSpaceReadWrite AddressSpace = "read_write"
)

// addressSpaceSyntax maps address space arguments to their WGSL var<> spelling.
var addressSpaceSyntax = map[AddressSpace]string{
	AddressSpaceUniform:   "var<uniform>",
	AddressSpaceRead:      "var<storage, read>",
	AddressSpaceReadWrite: "var<storage, read_write>",
}

// Annotation is a single parsed @oxy: annotation.
type Annotation struct {
	// Type identifies which annotation was parsed.
	Type AnnotationType

	// Name is the include name for include annotations and the variable name for group annotations.
	Name string

	// AddressSpace and WGSLType are only set for group annotations.
	AddressSpace AddressSpace
	WGSLType     string

	// Group and Binding are only set for group annotations.
	Group   int
	Binding int

	// Line is the 1-based source line the annotation was read from.
	Line int
}

// Declaration renders a group annotation as a WGSL variable declaration.
//
// Returns:
//   - string: the declaration, e.g. "@group(0) @binding(1) var<storage, read> splats: array<Splat>;"
func (a Annotation) Declaration() string {
	return fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;", a.Group, a.Binding, addressSpaceSyntax[a.AddressSpace], a.Name, a.WGSLType)
}

// parseAnnotation parses one line of WGSL source. It returns nil with no error for
// lines that do not carry the annotation prefix.
//
// Parameters:
//   - line: the raw WGSL source line
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "//") {
		return nil, nil
	}
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch AnnotationType(args[0]) {
	case annotationTypeInclude:
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy include annotation requires exactly one argument", lineNum)
		}
		return &Annotation{Type: annotationTypeInclude, Name: args[1], Line: lineNum}, nil
	case AnnotationTypeBindingGroup:
		if len(args) != 6 {
			return nil, fmt.Errorf("line %d: @oxy group annotation requires group, binding, address space, name and type", lineNum)
		}
		group, err := strconv.Atoi(args[1])
		if err != nil || group < 0 {
			return nil, fmt.Errorf("line %d: invalid group number %q", lineNum, args[1])
		}
		binding, err := strconv.Atoi(args[2])
		if err != nil || binding < 0 {
			return nil, fmt.Errorf("line %d: invalid binding number %q", lineNum, args[2])
		}
		space := AddressSpace(args[3])
		if _, ok := addressSpaceSyntax[space]; !ok {
			return nil, fmt.Errorf("line %d: unknown address space %q", lineNum, args[3])
		}
		return &Annotation{
			Type:         AnnotationTypeBindingGroup,
			Name:         args[4],
			AddressSpace: space,
			WGSLType:     args[5],
			Group:        group,
			Binding:      binding,
			Line:         lineNum,
		}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}
