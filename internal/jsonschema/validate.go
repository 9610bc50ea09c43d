// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jsonschema validates response bodies against JSON Schemas for
// schema expectations. Relative $ref values resolve against the
// scenario's source directory.
package jsonschema

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ValidationError reports a failed schema validation with the failing
// JSON path.
type ValidationError struct {
	Message string
	Path    string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks instance against schema. basePath, when non-empty,
// is the scenario file (or its directory) that relative $ref values
// resolve against.
func Validate(instance any, schema map[string]any, basePath string) error {
	compiler := jsonschema.NewCompiler()
	compiler.UseLoader(jsonschema.SchemeURLLoader{
		"file": jsonschema.FileLoader{},
	})

	url := "inline:///schema.json"
	if basePath != "" {
		dir := basePath
		if filepath.Ext(dir) != "" {
			dir = filepath.Dir(dir)
		}
		abs, err := filepath.Abs(dir)
		if err == nil {
			url = "file://" + filepath.ToSlash(abs) + "/__inline__.json"
		}
	}

	if err := compiler.AddResource(url, normalize(schema)); err != nil {
		return &ValidationError{Message: fmt.Sprintf("Invalid JSON Schema: %v", err)}
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("Invalid JSON Schema: %v", err)}
	}

	if err := compiled.Validate(instance); err != nil {
		var vErr *jsonschema.ValidationError
		if ok := asValidationError(err, &vErr); ok {
			leaf := leafError(vErr)
			path := formatPath(leaf.InstanceLocation)
			detail := leaf.ErrorKind.LocalizedString(message.NewPrinter(language.English))
			return &ValidationError{
				Message: fmt.Sprintf("Schema validation failed at %s: %s", path, detail),
				Path:    path,
			}
		}
		return &ValidationError{Message: fmt.Sprintf("Schema validation failed: %v", err)}
	}
	return nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	v, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return false
	}
	*target = v
	return true
}

// leafError walks to the deepest cause, which carries the most
// specific instance location.
func leafError(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

func formatPath(segments []string) string {
	var b strings.Builder
	b.WriteString("$")
	for _, segment := range segments {
		if isIndex(segment) {
			b.WriteString("[" + segment + "]")
		} else {
			b.WriteString("." + segment)
		}
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalize converts YAML-decoded schemas (which may contain
// map[any]any nodes or ints) into the plain JSON shapes the compiler
// expects.
func normalize(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[fmt.Sprintf("%v", k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = normalize(item)
		}
		return out
	case int:
		return float64(value)
	case int64:
		return float64(value)
	default:
		return value
	}
}
