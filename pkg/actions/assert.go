package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/tombee/windtunnel/internal/expression"
	"github.com/tombee/windtunnel/internal/extract"
	"github.com/tombee/windtunnel/internal/jsonschema"
	"github.com/tombee/windtunnel/pkg/observation"
	"github.com/tombee/windtunnel/pkg/scenario"
)

// RunAssert evaluates an assertion against the last response and the
// workflow context. The outcome is appended to the context's assertion
// history so later conditions and expressions can branch on it.
func (r *Runner) RunAssert(ctx context.Context, action scenario.Action, actionCtx map[string]any) (*observation.Observation, observation.AssertionResult) {
	result := r.evaluateExpectation(ctx, action.Name, action.Expect, actionCtx)

	entry := map[string]any{
		"name":     result.Name,
		"passed":   result.Passed,
		"expected": result.Expected,
		"actual":   result.Actual,
		"message":  result.Message,
	}
	history, _ := actionCtx[ContextKeyAssertionResults].([]any)
	actionCtx[ContextKeyAssertionResults] = append(history, entry)
	actionCtx[ContextKeyLastAssertion] = entry

	obs := &observation.Observation{
		Ok:         result.Passed,
		Headers:    map[string]string{},
		Errors:     []string{},
		ActionName: action.Name,
	}
	if !result.Passed {
		obs.Errors = append(obs.Errors, result.Message)
	}
	return obs, result
}

// evaluateExpectation dispatches on the first set selector, in fixed
// order: status_code, jsonpath, context_path, schema, expression.
func (r *Runner) evaluateExpectation(ctx context.Context, name string, expect *scenario.Expectation, actionCtx map[string]any) observation.AssertionResult {
	result := observation.AssertionResult{Name: name}
	if expect == nil {
		result.Message = "Assertion has no expectation"
		return result
	}
	last, _ := actionCtx[ContextKeyLastResponse].(map[string]any)

	switch {
	case expect.StatusCode != nil:
		result.Comparison = "status_code"
		result.Expected = *expect.StatusCode
		actual, ok := statusFrom(last)
		if !ok {
			result.Message = "No response available for status code assertion"
			return result
		}
		result.Actual = actual
		if actual == *expect.StatusCode {
			result.Passed = true
			result.Message = fmt.Sprintf("Status code %d matches expected %d", actual, *expect.StatusCode)
		} else {
			result.Message = fmt.Sprintf("Status code %d does not match expected %d", actual, *expect.StatusCode)
		}

	case expect.JSONPath != "":
		result.Path = expect.JSONPath
		value, found := extract.First(bodyFrom(last), expect.JSONPath)
		if !found {
			result.Expected = expectedOf(expect)
			result.Message = fmt.Sprintf("JSONPath '%s' did not match any values", expect.JSONPath)
			return result
		}
		result = compareValue(result, expect, value)

	case expect.ContextPath != "":
		result.Path = expect.ContextPath
		value, found := extract.First(actionCtx, contextPath(expect.ContextPath))
		if !found {
			result.Expected = expectedOf(expect)
			result.Message = fmt.Sprintf("Context path '%s' not found", expect.ContextPath)
			return result
		}
		result = compareValue(result, expect, value)

	case expect.JSONSchema != nil:
		result.Comparison = "schema"
		basePath, _ := actionCtx[ContextKeyScenarioPath].(string)
		if err := jsonschema.Validate(bodyFrom(last), expect.JSONSchema, basePath); err != nil {
			result.Message = err.Error()
		} else {
			result.Passed = true
			result.Message = "Response body matches schema"
		}

	case expect.Expression != "":
		result.Comparison = "expression"
		result.Expected = true
		scope := expression.Scope{
			Body:    bodyFrom(last),
			Headers: headersFrom(last),
			Context: actionCtx,
		}
		value, err := r.eval.Evaluate(ctx, expect.Expression, scope)
		if err != nil {
			result.Message = fmt.Sprintf("Expression evaluation failed: %v", err)
			return result
		}
		result.Actual = value
		if expression.Truthy(value) {
			result.Passed = true
			result.Message = fmt.Sprintf("Expression '%s' evaluated to a truthy value", expect.Expression)
		} else {
			result.Message = fmt.Sprintf("Expression '%s' evaluated to a falsy value", expect.Expression)
		}

	default:
		result.Message = "Assertion has no evaluation selector"
	}
	return result
}

// compareValue applies the equals/contains comparator to a selected
// value; with no comparator, presence alone passes.
func compareValue(result observation.AssertionResult, expect *scenario.Expectation, actual any) observation.AssertionResult {
	result.Actual = actual
	switch {
	case expect.HasEquals:
		result.Comparison = "equals"
		result.Expected = expect.Equals
		if Equal(actual, expect.Equals) {
			result.Passed = true
			result.Message = fmt.Sprintf("Value at '%s' equals expected value", result.Path)
		} else {
			result.Message = fmt.Sprintf("Value at '%s' does not equal expected value: got %v, want %v",
				result.Path, actual, expect.Equals)
		}
	case expect.HasContains:
		result.Comparison = "contains"
		result.Expected = expect.Contains
		if Contains(actual, expect.Contains) {
			result.Passed = true
			result.Message = fmt.Sprintf("Value at '%s' contains expected value", result.Path)
		} else {
			result.Message = fmt.Sprintf("Value at '%s' does not contain %v", result.Path, expect.Contains)
		}
	default:
		result.Comparison = "exists"
		result.Passed = true
		result.Message = fmt.Sprintf("Value present at '%s'", result.Path)
	}
	return result
}

func expectedOf(expect *scenario.Expectation) any {
	if expect.HasEquals {
		return expect.Equals
	}
	if expect.HasContains {
		return expect.Contains
	}
	return nil
}

// contextPath accepts both bare dotted paths ("order.id") and full
// JSONPath expressions.
func contextPath(path string) string {
	if strings.HasPrefix(path, "$") {
		return path
	}
	return "$." + path
}

func statusFrom(last map[string]any) (int, bool) {
	if last == nil {
		return 0, false
	}
	switch status := last["status_code"].(type) {
	case int:
		return status, true
	case float64:
		return int(status), true
	}
	return 0, false
}

func bodyFrom(last map[string]any) any {
	if last == nil {
		return nil
	}
	return last["body"]
}

func headersFrom(last map[string]any) map[string]any {
	if last == nil {
		return map[string]any{}
	}
	switch headers := last["headers"].(type) {
	case map[string]any:
		return headers
	case map[string]string:
		converted := make(map[string]any, len(headers))
		for k, v := range headers {
			converted[k] = v
		}
		return converted
	}
	return map[string]any{}
}
