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

// Package jq applies jq filters to run artifacts for reporting.
package jq

import (
	"context"
	"fmt"
	"time"

	"github.com/itchyny/gojq"
)

// DefaultTimeout bounds a single filter evaluation.
const DefaultTimeout = 1 * time.Second

// Filter is a compiled jq expression ready to run against artifact data.
type Filter struct {
	code    *gojq.Code
	timeout time.Duration
}

// Compile parses and compiles a jq expression. A zero timeout selects
// DefaultTimeout.
func Compile(expression string, timeout time.Duration) (*Filter, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("jq compilation failed: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Filter{code: code, timeout: timeout}, nil
}

// Apply runs the filter against data. A single output value is returned
// as-is; multiple outputs come back as a list; no output yields nil.
func (f *Filter) Apply(ctx context.Context, data any) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var results []any
	iter := f.code.RunWithContext(runCtx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if runCtx.Err() != nil {
				return nil, fmt.Errorf("jq evaluation timed out after %v", f.timeout)
			}
			return nil, fmt.Errorf("jq evaluation failed: %w", err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}
