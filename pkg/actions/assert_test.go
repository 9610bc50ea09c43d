package actions

import (
	"context"
	"strings"
	"testing"

	"github.com/tombee/windtunnel/pkg/scenario"
)

func assertCtx() map[string]any {
	return map[string]any{
		ContextKeyLastResponse: map[string]any{
			"status_code": 200,
			"ok":          true,
			"body": map[string]any{
				"status": "created",
				"total":  42.5,
				"items":  []any{"A-1", "B-2"},
			},
			"headers": map[string]any{"Content-Type": "application/json"},
		},
		"order_id": "ord_1",
	}
}

func runAssertion(t *testing.T, expect *scenario.Expectation, actionCtx map[string]any) (bool, string) {
	t.Helper()
	action := scenario.Action{Name: "check", Type: scenario.TypeAssert, Expect: expect}
	obs, result := testRunner().RunAssert(context.Background(), action, actionCtx)
	if obs.Ok != result.Passed {
		t.Fatalf("observation ok %v disagrees with result passed %v", obs.Ok, result.Passed)
	}
	return result.Passed, result.Message
}

func TestRunAssert_StatusCode(t *testing.T) {
	passed, msg := runAssertion(t, &scenario.Expectation{StatusCode: intPtr(200)}, assertCtx())
	if !passed || msg != "Status code 200 matches expected 200" {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}

	passed, msg = runAssertion(t, &scenario.Expectation{StatusCode: intPtr(201)}, assertCtx())
	if passed || msg != "Status code 200 does not match expected 201" {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}
}

func TestRunAssert_StatusCodeWithoutResponse(t *testing.T) {
	passed, msg := runAssertion(t, &scenario.Expectation{StatusCode: intPtr(200)}, map[string]any{})
	if passed || !strings.Contains(msg, "No response available") {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}
}

func TestRunAssert_JSONPathEquals(t *testing.T) {
	passed, _ := runAssertion(t, &scenario.Expectation{
		JSONPath: "$.status", Equals: "created", HasEquals: true,
	}, assertCtx())
	if !passed {
		t.Error("equals on matching value failed")
	}

	passed, msg := runAssertion(t, &scenario.Expectation{
		JSONPath: "$.status", Equals: "shipped", HasEquals: true,
	}, assertCtx())
	if passed || !strings.Contains(msg, "does not equal") {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}
}

func TestRunAssert_JSONPathNumbersCompareByValue(t *testing.T) {
	passed, _ := runAssertion(t, &scenario.Expectation{
		JSONPath: "$.total", Equals: 42.5, HasEquals: true,
	}, assertCtx())
	if !passed {
		t.Error("numeric equals failed")
	}
}

func TestRunAssert_JSONPathContains(t *testing.T) {
	passed, _ := runAssertion(t, &scenario.Expectation{
		JSONPath: "$.items", Contains: "B-2", HasContains: true,
	}, assertCtx())
	if !passed {
		t.Error("contains on list membership failed")
	}
}

func TestRunAssert_JSONPathMiss(t *testing.T) {
	passed, msg := runAssertion(t, &scenario.Expectation{
		JSONPath: "$.nope", Equals: 1, HasEquals: true,
	}, assertCtx())
	if passed || msg != "JSONPath '$.nope' did not match any values" {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}
}

func TestRunAssert_JSONPathPresenceOnly(t *testing.T) {
	passed, msg := runAssertion(t, &scenario.Expectation{JSONPath: "$.status"}, assertCtx())
	if !passed || !strings.Contains(msg, "present") {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}
}

func TestRunAssert_ContextPath(t *testing.T) {
	passed, _ := runAssertion(t, &scenario.Expectation{
		ContextPath: "order_id", Equals: "ord_1", HasEquals: true,
	}, assertCtx())
	if !passed {
		t.Error("context path equals failed")
	}

	passed, msg := runAssertion(t, &scenario.Expectation{
		ContextPath: "missing_key", Equals: "x", HasEquals: true,
	}, assertCtx())
	if passed || msg != "Context path 'missing_key' not found" {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}
}

func TestRunAssert_Schema(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"status", "total"},
		"properties": map[string]any{
			"total": map[string]any{"type": "number"},
		},
	}
	passed, msg := runAssertion(t, &scenario.Expectation{JSONSchema: schema}, assertCtx())
	if !passed || msg != "Response body matches schema" {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}

	strict := map[string]any{"type": "object", "required": []any{"absent_field"}}
	passed, msg = runAssertion(t, &scenario.Expectation{JSONSchema: strict}, assertCtx())
	if passed || !strings.Contains(msg, "Schema validation failed") {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}
}

func TestRunAssert_Expression(t *testing.T) {
	passed, _ := runAssertion(t, &scenario.Expectation{
		Expression: `body.status == "created" and body.total > 40`,
	}, assertCtx())
	if !passed {
		t.Error("truthy expression failed")
	}

	passed, msg := runAssertion(t, &scenario.Expectation{Expression: `body.total > 100`}, assertCtx())
	if passed || !strings.Contains(msg, "falsy") {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}

	passed, msg = runAssertion(t, &scenario.Expectation{Expression: `os.Getenv("HOME")`}, assertCtx())
	if passed || !strings.Contains(msg, "Expression evaluation failed") {
		t.Errorf("passed=%v msg=%q", passed, msg)
	}
}

func TestRunAssert_SelectorPrecedence(t *testing.T) {
	// status_code wins over jsonpath when both are set.
	expect := &scenario.Expectation{
		StatusCode: intPtr(200),
		JSONPath:   "$.nope",
		Equals:     "x",
		HasEquals:  true,
	}
	passed, msg := runAssertion(t, expect, assertCtx())
	if !passed || !strings.HasPrefix(msg, "Status code") {
		t.Errorf("passed=%v msg=%q, want status code comparison", passed, msg)
	}
}

func TestRunAssert_RecordsHistoryInContext(t *testing.T) {
	actionCtx := assertCtx()
	runAssertion(t, &scenario.Expectation{StatusCode: intPtr(200)}, actionCtx)
	runAssertion(t, &scenario.Expectation{StatusCode: intPtr(500)}, actionCtx)

	history, ok := actionCtx[ContextKeyAssertionResults].([]any)
	if !ok || len(history) != 2 {
		t.Fatalf("history = %v, want two entries", actionCtx[ContextKeyAssertionResults])
	}
	last, ok := actionCtx[ContextKeyLastAssertion].(map[string]any)
	if !ok || last["passed"] != false {
		t.Errorf("last assertion = %v, want failed entry", actionCtx[ContextKeyLastAssertion])
	}
}

func TestRunAssert_EqualsNullDistinctFromAbsent(t *testing.T) {
	actionCtx := assertCtx()
	body := actionCtx[ContextKeyLastResponse].(map[string]any)["body"].(map[string]any)
	body["voided_at"] = nil

	passed, _ := runAssertion(t, &scenario.Expectation{
		JSONPath: "$.voided_at", Equals: nil, HasEquals: true,
	}, actionCtx)
	if !passed {
		t.Error("equals null against null value failed")
	}
}
