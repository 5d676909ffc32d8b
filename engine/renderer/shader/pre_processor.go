package shader

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// maxIncludeDepth bounds nested includes so a snippet including itself fails instead of looping.
const maxIncludeDepth = 8

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	includes     map[string]string
	declarations []Annotation
}

// PreProcessor expands @oxy: annotations and text/template actions in WGSL source.
type PreProcessor interface {
	// Process expands include and group annotations, then executes the result as a
	// text/template with data (skipped when data is nil). The declarations list is
	// reset at the start of each call.
	//
	// Parameters:
	//   - source: the raw WGSL source
	//   - data: template data, or nil
	//
	// Returns:
	//   - string: the processed WGSL source
	//   - error: an error if an annotation is malformed, an include is unknown or the template fails
	Process(source string, data any) (string, error)

	// Declarations returns the group annotations collected during the last Process call, in source order.
	//
	// Returns:
	//   - []Annotation: the collected declarations
	Declarations() []Annotation
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a PreProcessor that resolves //@oxy:include from includes.
//
// Parameters:
//   - includes: WGSL snippets keyed by include name
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor
func NewPreProcessor(includes map[string]string) PreProcessor {
	return &preProcessor{includes: includes}
}

func (p *preProcessor) Process(source string, data any) (string, error) {
	p.declarations = p.declarations[:0]

	expanded, err := p.expand(source, 0)
	if err != nil {
		return "", err
	}
	if data == nil {
		return expanded, nil
	}

	tmpl, err := template.New("wgsl").Option("missingkey=error").Parse(expanded)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}

// expand replaces annotations line by line, recursing into included snippets.
func (p *preProcessor) expand(source string, depth int) (string, error) {
	if depth > maxIncludeDepth {
		return "", fmt.Errorf("includes nested deeper than %d", maxIncludeDepth)
	}

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case annotationTypeInclude:
			snippet, ok := p.includes[a.Name]
			if !ok {
				return "", fmt.Errorf("line %d: unknown @oxy:include %q", a.Line, a.Name)
			}
			inner, err := p.expand(snippet, depth+1)
			if err != nil {
				return "", fmt.Errorf("include %q: %w", a.Name, err)
			}
			out = append(out, inner)
		case AnnotationTypeBindingGroup:
			out = append(out, a.Declaration())
			p.declarations = append(p.declarations, *a)
		}
	}
	return strings.Join(out, "\n"), nil
}
