package shader

import "maps"

// ShaderBuilderOption is a functional option for configuring a shader before its source is processed.
type ShaderBuilderOption func(*shader)

// WithInclude registers a WGSL snippet resolvable through //@oxy:include <name>.
//
// Parameters:
//   - name: the include name
//   - source: the WGSL snippet
//
// Returns:
//   - ShaderBuilderOption: option function to apply
func WithInclude(name, source string) ShaderBuilderOption {
	return func(s *shader) {
		s.includes[name] = source
	}
}

// WithIncludes registers several WGSL snippets at once.
//
// Parameters:
//   - includes: snippets keyed by include name
//
// Returns:
//   - ShaderBuilderOption: option function to apply
func WithIncludes(includes map[string]string) ShaderBuilderOption {
	return func(s *shader) {
		maps.Copy(s.includes, includes)
	}
}

// WithTemplateData executes the source as a text/template with data after includes are expanded.
//
// Parameters:
//   - data: the template data, usually a struct of compile-time constants
//
// Returns:
//   - ShaderBuilderOption: option function to apply
func WithTemplateData(data any) ShaderBuilderOption {
	return func(s *shader) {
		s.templateData = data
	}
}
