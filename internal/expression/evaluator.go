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

// Package expression evaluates sandboxed predicates for assertions and
// branching conditions. Expressions see only the response body, headers,
// and instance context plus a small set of helper functions; everything
// else fails to compile. A wall-clock deadline bounds evaluation.
package expression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultTimeout bounds a single expression evaluation.
const DefaultTimeout = 250 * time.Millisecond

// Scope is the data visible to an expression.
type Scope struct {
	Body    any
	Headers map[string]any
	Context map[string]any
}

// Error reports a runtime evaluation failure.
type Error struct {
	Expr  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("expression evaluation failed: %v", e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// SecurityError reports an expression that violates sandbox rules:
// unknown names, disabled builtins, or invalid syntax.
type SecurityError struct {
	Expr   string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("expression rejected by sandbox: %s", e.Reason)
}

// TimeoutError reports an expression that exceeded the deadline.
type TimeoutError struct {
	Expr    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("expression evaluation timed out after %v", e.Timeout)
}

var errDeadline = errors.New("expression deadline exceeded")

// Evaluator evaluates sandboxed expressions with a compiled-program
// cache keyed by source.
type Evaluator struct {
	timeout time.Duration
	cache   map[string]*vm.Program
	mu      sync.RWMutex
}

// New creates an evaluator with the default deadline.
func New() *Evaluator {
	return NewWithTimeout(DefaultTimeout)
}

// NewWithTimeout creates an evaluator with a custom deadline.
func NewWithTimeout(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{
		timeout: timeout,
		cache:   make(map[string]*vm.Program),
	}
}

// Evaluate runs an expression against the scope and returns its value.
// Compile failures surface as SecurityError, deadline overruns as
// TimeoutError, anything else as Error.
func (e *Evaluator) Evaluate(ctx context.Context, source string, scope Scope) (any, error) {
	program, err := e.compile(source)
	if err != nil {
		return nil, &SecurityError{Expr: source, Reason: err.Error()}
	}

	deadline := time.Now().Add(e.timeout)
	env := e.runtimeEnv(scope, deadline)

	result, err := expr.Run(program, env)
	if err != nil {
		if errors.Is(err, errDeadline) || time.Now().After(deadline) {
			return nil, &TimeoutError{Expr: source, Timeout: e.timeout}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Expr: source, Cause: err}
	}
	return result, nil
}

// compile compiles an expression and caches the program.
func (e *Evaluator) compile(source string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[source]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := expr.Compile(source,
		expr.Env(compileEnv()),
		expr.DisableAllBuiltins(),
		expr.EnableBuiltin("len"),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[source] = prog
	e.mu.Unlock()
	return prog, nil
}

// compileEnv declares every name an expression may reference. Unknown
// identifiers fail compilation, which is the sandbox boundary.
func compileEnv() map[string]any {
	env := map[string]any{
		"body":    any(nil),
		"headers": map[string]any{},
		"context": map[string]any{},
		"True":    true,
		"False":   false,
		"None":    any(nil),
	}
	for name, fn := range helperFuncs(time.Time{}) {
		env[name] = fn
	}
	return env
}

func (e *Evaluator) runtimeEnv(scope Scope, deadline time.Time) map[string]any {
	headers := scope.Headers
	if headers == nil {
		headers = map[string]any{}
	}
	evalCtx := scope.Context
	if evalCtx == nil {
		evalCtx = map[string]any{}
	}

	env := map[string]any{
		"body":    scope.Body,
		"headers": headers,
		"context": evalCtx,
		"True":    true,
		"False":   false,
		"None":    any(nil),
	}
	for name, fn := range helperFuncs(deadline) {
		env[name] = fn
	}
	return env
}

// helperFuncs builds the whitelisted helpers. Aggregators check the
// deadline on every element so a pathological input cannot stall an
// instance; string helpers mirror common predicate needs.
func helperFuncs(deadline time.Time) map[string]any {
	check := func() error {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return errDeadline
		}
		return nil
	}

	return map[string]any{
		"sum": func(values []any) (any, error) {
			var total float64
			for _, v := range values {
				if err := check(); err != nil {
					return nil, err
				}
				n, ok := toFloat(v)
				if !ok {
					return nil, fmt.Errorf("sum: non-numeric element %v", v)
				}
				total += n
			}
			return total, nil
		},
		"min": func(values []any) (any, error) {
			return extremum(values, check, func(candidate, current float64) bool { return candidate < current })
		},
		"max": func(values []any) (any, error) {
			return extremum(values, check, func(candidate, current float64) bool { return candidate > current })
		},
		"any": func(values []any) (bool, error) {
			for _, v := range values {
				if err := check(); err != nil {
					return false, err
				}
				if Truthy(v) {
					return true, nil
				}
			}
			return false, nil
		},
		"all": func(values []any) (bool, error) {
			for _, v := range values {
				if err := check(); err != nil {
					return false, err
				}
				if !Truthy(v) {
					return false, nil
				}
			}
			return true, nil
		},
		"range": func(args ...int) ([]any, error) {
			start, stop, step := 0, 0, 1
			switch len(args) {
			case 1:
				stop = args[0]
			case 2:
				start, stop = args[0], args[1]
			case 3:
				start, stop, step = args[0], args[1], args[2]
			default:
				return nil, fmt.Errorf("range: expected 1-3 arguments, got %d", len(args))
			}
			if step == 0 {
				return nil, fmt.Errorf("range: step must not be zero")
			}
			var out []any
			for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
				if err := check(); err != nil {
					return nil, err
				}
				out = append(out, i)
			}
			return out, nil
		},
		"startswith": func(s, prefix string) bool { return strings.HasPrefix(s, prefix) },
		"endswith":   func(s, suffix string) bool { return strings.HasSuffix(s, suffix) },
		"lower":      strings.ToLower,
		"upper":      strings.ToUpper,
		"strip":      strings.TrimSpace,
		"split": func(s, sep string) []any {
			parts := strings.Split(s, sep)
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out
		},
		"get": func(m map[string]any, key string, fallback ...any) any {
			if v, ok := m[key]; ok {
				return v
			}
			if len(fallback) > 0 {
				return fallback[0]
			}
			return nil
		},
	}
}

func extremum(values []any, check func() error, better func(candidate, current float64) bool) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("empty sequence")
	}
	current, ok := toFloat(values[0])
	if !ok {
		return nil, fmt.Errorf("non-numeric element %v", values[0])
	}
	result := values[0]
	for _, v := range values[1:] {
		if err := check(); err != nil {
			return nil, err
		}
		candidate, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("non-numeric element %v", v)
		}
		if better(candidate, current) {
			current = candidate
			result = v
		}
	}
	return result, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// Truthy applies the truthiness rules assertions use for non-boolean
// expression results: empty strings, zero numbers, empty collections,
// and nil are false; everything else is true.
func Truthy(v any) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case string:
		return value != ""
	case int:
		return value != 0
	case int64:
		return value != 0
	case float64:
		return value != 0
	case float32:
		return value != 0
	case []any:
		return len(value) > 0
	case map[string]any:
		return len(value) > 0
	default:
		return true
	}
}
