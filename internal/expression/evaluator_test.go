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

package expression

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalScope() Scope {
	return Scope{
		Body: map[string]any{
			"status": "created",
			"items":  []any{1.0, 2.0, 3.0},
			"total":  42.5,
		},
		Headers: map[string]any{"Content-Type": "application/json"},
		Context: map[string]any{"order_id": "ord_123"},
	}
}

func TestEvaluate_Basics(t *testing.T) {
	e := New()
	ctx := context.Background()

	cases := []struct {
		expr string
		want any
	}{
		{"True", true},
		{"False", false},
		{"1 + 2", 3},
		{`body.status == "created"`, true},
		{`context.order_id == "ord_123"`, true},
		{"len(body.items) == 3", true},
		{"sum(body.items)", 6.0},
		{"min(body.items)", 1.0},
		{"max(body.items)", 3.0},
		{"any(body.items)", true},
		{"all(body.items)", true},
		{`startswith(context.order_id, "ord")`, true},
		{`upper(body.status)`, "CREATED"},
		{`get(headers, "Content-Type")`, "application/json"},
		{`get(context, "missing", "fallback")`, "fallback"},
		{"body.total > 40 and body.total < 50", true},
		{"len(range(5)) == 5", true},
	}

	for _, tc := range cases {
		result, err := e.Evaluate(ctx, tc.expr, evalScope())
		require.NoError(t, err, "expr %q", tc.expr)
		assert.Equal(t, tc.want, result, "expr %q", tc.expr)
	}
}

func TestEvaluate_UnknownNameIsSecurityError(t *testing.T) {
	e := New()
	for _, src := range []string{
		"os.Getenv('HOME')",
		"unknown_variable",
		"open('/etc/passwd')",
		"filter(body.items, # > 1)",
	} {
		_, err := e.Evaluate(context.Background(), src, evalScope())
		var secErr *SecurityError
		assert.ErrorAs(t, err, &secErr, "expr %q should be rejected", src)
	}
}

func TestEvaluate_SyntaxErrorIsSecurityError(t *testing.T) {
	_, err := New().Evaluate(context.Background(), "body.status ==", evalScope())
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestEvaluate_RuntimeFailure(t *testing.T) {
	_, err := New().Evaluate(context.Background(), `sum(split(body.status, "e"))`, evalScope())
	var evalErr *Error
	require.ErrorAs(t, err, &evalErr)
}

func TestEvaluate_CachesPrograms(t *testing.T) {
	e := New()
	_, err := e.Evaluate(context.Background(), "1 + 2", Scope{})
	require.NoError(t, err)
	_, err = e.Evaluate(context.Background(), "1 + 2", Scope{})
	require.NoError(t, err)

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestTruthy(t *testing.T) {
	truthy := []any{true, "x", 1, 2.5, []any{1}, map[string]any{"k": 1}}
	falsy := []any{nil, false, "", 0, 0.0, []any{}, map[string]any{}}

	for _, v := range truthy {
		assert.True(t, Truthy(v), "%v should be truthy", v)
	}
	for _, v := range falsy {
		assert.False(t, Truthy(v), "%v should be falsy", v)
	}
}
