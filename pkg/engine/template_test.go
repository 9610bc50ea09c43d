package engine

import (
	"errors"
	"reflect"
	"testing"
)

func TestRender_SoleVariablePreservesType(t *testing.T) {
	context := map[string]any{
		"amount": 100,
		"rate":   0.25,
		"flag":   true,
		"items":  []any{"a", "b"},
		"nested": map[string]any{"k": "v"},
	}
	tests := []struct {
		template string
		want     any
	}{
		{"{{amount}}", 100},
		{"{{rate}}", 0.25},
		{"{{flag}}", true},
		{"{{items}}", []any{"a", "b"}},
		{"{{nested}}", map[string]any{"k": "v"}},
		{"{{ amount }}", 100},
	}
	for _, tt := range tests {
		got, err := Render(tt.template, context)
		if err != nil {
			t.Fatalf("Render(%q): %v", tt.template, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Render(%q) = %#v, want %#v", tt.template, got, tt.want)
		}
	}
}

func TestRender_Interpolation(t *testing.T) {
	context := map[string]any{
		"entry": map[string]any{"seed_data": map[string]any{"customer": "cust_9"}},
		"total": 100.0,
	}
	got, err := Render("order for {{entry.seed_data.customer}} totals {{total}}", context)
	if err != nil {
		t.Fatal(err)
	}
	if got != "order for cust_9 totals 100" {
		t.Errorf("got %q", got)
	}
}

func TestRender_MissingVariable(t *testing.T) {
	_, err := Render("{{nope}}", map[string]any{})
	var tmplErr *TemplateError
	if !errors.As(err, &tmplErr) {
		t.Fatalf("err = %v, want TemplateError", err)
	}
	if err.Error() != "Variable 'nope' not found in context" {
		t.Errorf("message = %q", err.Error())
	}
	if tmplErr.MissingVar != "nope" {
		t.Errorf("MissingVar = %q", tmplErr.MissingVar)
	}
}

func TestRender_RecursesStructures(t *testing.T) {
	context := map[string]any{"amount": 100, "sku": "A-1"}
	body := map[string]any{
		"amount": "{{amount}}",
		"lines":  []any{map[string]any{"sku": "{{sku}}"}},
		"static": 7,
	}
	got, err := Render(body, context)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"amount": 100,
		"lines":  []any{map[string]any{"sku": "A-1"}},
		"static": 7,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v, want %#v", got, want)
	}
}

func TestRender_ListIndexPath(t *testing.T) {
	context := map[string]any{"items": []any{"first", "second"}}
	got, err := Render("{{items.1}}", context)
	if err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Errorf("got %v", got)
	}
}

func TestRender_NoTemplatesIsIdentity(t *testing.T) {
	value := map[string]any{"plain": "text", "n": 1}
	if HasTemplates(value) {
		t.Fatal("HasTemplates = true for template-free value")
	}
	got, err := Render(value, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, value) {
		t.Errorf("got %#v, want unchanged", got)
	}
}

func TestHasTemplates(t *testing.T) {
	if !HasTemplates("{{x}}") {
		t.Error("string reference not detected")
	}
	if !HasTemplates(map[string]any{"deep": []any{"{{x}}"}}) {
		t.Error("nested reference not detected")
	}
	if HasTemplates(42) {
		t.Error("number reported as templated")
	}
}
