// Package engine drives workflow instances: per-instance context and
// template rendering, the scenario step machine, the bounded-parallel
// executor, the run controller, and replay.
package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Template variables use {{dotted.path}} syntax. soleTemplatePattern
// matches a string that is exactly one reference, which preserves the
// referenced value's runtime type.
var (
	templatePattern     = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	soleTemplatePattern = regexp.MustCompile(`^\{\{\s*([^{}]+?)\s*\}\}$`)
)

// TemplateError reports a reference to a variable the context does not
// hold. Its message is recorded verbatim on failed observations.
type TemplateError struct {
	Template   string
	MissingVar string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("Variable '%s' not found in context", e.MissingVar)
}

// Render resolves template references in value against the context,
// recursing into maps and slices. Strings that are exactly one
// reference return the referenced value unchanged, so a body field
// "{{amount}}" serializes as a number, not a string.
func Render(value any, context map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return renderString(v, context)
	case map[string]any:
		rendered := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := Render(item, context)
			if err != nil {
				return nil, err
			}
			rendered[key] = resolved
		}
		return rendered, nil
	case []any:
		rendered := make([]any, len(v))
		for i, item := range v {
			resolved, err := Render(item, context)
			if err != nil {
				return nil, err
			}
			rendered[i] = resolved
		}
		return rendered, nil
	}
	return value, nil
}

// RenderString resolves templates in a single string, always producing
// a string (sole references are stringified).
func RenderString(s string, context map[string]any) (string, error) {
	rendered, err := renderString(s, context)
	if err != nil {
		return "", err
	}
	if str, ok := rendered.(string); ok {
		return str, nil
	}
	return stringifyValue(rendered), nil
}

func renderString(s string, context map[string]any) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	if match := soleTemplatePattern.FindStringSubmatch(strings.TrimSpace(s)); match != nil {
		value, ok := lookupPath(context, match[1])
		if !ok {
			return nil, &TemplateError{Template: s, MissingVar: match[1]}
		}
		return value, nil
	}

	var missing *TemplateError
	rendered := templatePattern.ReplaceAllStringFunc(s, func(ref string) string {
		path := templatePattern.FindStringSubmatch(ref)[1]
		value, ok := lookupPath(context, path)
		if !ok {
			if missing == nil {
				missing = &TemplateError{Template: s, MissingVar: path}
			}
			return ref
		}
		return stringifyValue(value)
	})
	if missing != nil {
		return nil, missing
	}
	return rendered, nil
}

// HasTemplates reports whether any string in the value tree contains a
// template reference; template-free trees skip rendering entirely.
func HasTemplates(value any) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, "{{")
	case map[string]any:
		for _, item := range v {
			if HasTemplates(item) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if HasTemplates(item) {
				return true
			}
		}
	}
	return false
}

// lookupPath walks a dotted path through nested maps, with numeric
// segments indexing into slices.
func lookupPath(context map[string]any, path string) (any, bool) {
	var current any = context
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

func stringifyValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return fmt.Sprintf("%v", v)
}
