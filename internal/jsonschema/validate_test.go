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

package jsonschema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"id", "total"},
		"properties": map[string]any{
			"id":    map[string]any{"type": "string"},
			"total": map[string]any{"type": "number", "minimum": 0},
		},
	}
}

func TestValidate_Passes(t *testing.T) {
	instance := map[string]any{"id": "ord_1", "total": 42.5}
	assert.NoError(t, Validate(instance, orderSchema(), ""))
}

func TestValidate_FailureIncludesPath(t *testing.T) {
	instance := map[string]any{"id": "ord_1", "total": -5.0}
	err := Validate(instance, orderSchema(), "")

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "Schema validation failed at")
	assert.Contains(t, vErr.Path, "total")
}

func TestValidate_MissingRequired(t *testing.T) {
	err := Validate(map[string]any{"id": "ord_1"}, orderSchema(), "")
	require.Error(t, err)
}

func TestValidate_RelativeRef(t *testing.T) {
	dir := t.TempDir()
	refSchema := `{"type": "object", "required": ["name"], "properties": {"name": {"type": "string"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "customer.json"), []byte(refSchema), 0o644))

	schema := map[string]any{"$ref": "customer.json"}
	scenarioPath := filepath.Join(dir, "scenario.yaml")

	assert.NoError(t, Validate(map[string]any{"name": "alice"}, schema, scenarioPath))
	assert.Error(t, Validate(map[string]any{}, schema, scenarioPath))
}

func TestValidate_YAMLDecodedSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"count": map[string]any{"type": "integer", "minimum": 1},
		},
	}
	assert.NoError(t, Validate(map[string]any{"count": 3.0}, schema, ""))
	assert.Error(t, Validate(map[string]any{"count": 0.0}, schema, ""))
}
