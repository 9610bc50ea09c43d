// Package scenario defines the declarative workflow model: entry seed
// data, a flow of actions, post-flow assertions, stop conditions, and
// optional turbulence and variation configuration. Scenarios are
// immutable after load and shared read-only across instances.
package scenario

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tombee/windtunnel/pkg/errors"
	"github.com/tombee/windtunnel/pkg/turbulence"
	"github.com/tombee/windtunnel/pkg/variation"
)

// Action type discriminators.
const (
	TypeHTTP   = "http"
	TypeWait   = "wait"
	TypeAssert = "assert"
)

// Backoff strategies for action retries.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Expectation describes how to evaluate a condition: exactly one
// selector (status_code, jsonpath, context_path, schema, expression)
// combined with an equals/contains comparator where applicable.
type Expectation struct {
	StatusCode  *int           `yaml:"status_code"`
	JSONPath    string         `yaml:"jsonpath"`
	ContextPath string         `yaml:"context_path"`
	JSONSchema  map[string]any `yaml:"schema"`
	Expression  string         `yaml:"expression"`
	Equals      any            `yaml:"equals"`
	Contains    any            `yaml:"contains"`

	// HasEquals and HasContains record key presence, distinguishing
	// "equals: null" from an absent comparator.
	HasEquals   bool `yaml:"-"`
	HasContains bool `yaml:"-"`
}

// UnmarshalYAML decodes the expectation and records which comparator
// keys were present in the document.
func (e *Expectation) UnmarshalYAML(node *yaml.Node) error {
	type raw Expectation
	var decoded raw
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*e = Expectation(decoded)

	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "equals":
			e.HasEquals = true
		case "contains":
			e.HasContains = true
		}
	}
	return nil
}

// HasSelector reports whether any evaluation selector is set.
func (e *Expectation) HasSelector() bool {
	return e.StatusCode != nil || e.JSONPath != "" || e.ContextPath != "" ||
		e.JSONSchema != nil || e.Expression != ""
}

// RetryConfig configures automatic retries for an HTTP action.
type RetryConfig struct {
	// MaxAttempts is the total number of tries (1 initial + retries).
	MaxAttempts int `yaml:"max_attempts"`

	// OnStatus lists response status codes that trigger a retry.
	OnStatus []int `yaml:"on_status"`

	OnTimeout         bool `yaml:"on_timeout"`
	OnConnectionError bool `yaml:"on_connection_error"`

	// Backoff is the delay strategy: fixed or exponential.
	Backoff string `yaml:"backoff"`

	DelayMS     int `yaml:"delay_ms"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

// UnmarshalYAML applies retry defaults before decoding.
func (r *RetryConfig) UnmarshalYAML(node *yaml.Node) error {
	type raw RetryConfig
	decoded := raw{
		MaxAttempts: 3,
		Backoff:     BackoffExponential,
		DelayMS:     1000,
		BaseDelayMS: 100,
		MaxDelayMS:  10000,
	}
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*r = RetryConfig(decoded)
	return nil
}

// Action is one step of a scenario flow. The Type field discriminates
// between http, wait, and assert actions; dispatch happens in one place
// in the scenario runner.
type Action struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// When is an optional branching condition; when it renders and
	// evaluates to false the action is skipped.
	When string `yaml:"when"`

	// HTTP and wait fields.
	Service string            `yaml:"service"`
	Method  string            `yaml:"method"`
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers"`
	Query   map[string]string `yaml:"query"`
	Body    any               `yaml:"json"`
	Extract map[string]string `yaml:"extract"`
	Retry   *RetryConfig      `yaml:"retry"`

	// Wait fields.
	IntervalSeconds float64 `yaml:"interval_seconds"`
	TimeoutSeconds  float64 `yaml:"timeout_seconds"`

	// Wait and assert expectation.
	Expect *Expectation `yaml:"expect"`
}

// UnmarshalYAML applies per-type defaults before decoding.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	type raw Action
	decoded := raw{
		IntervalSeconds: 1.0,
		TimeoutSeconds:  30.0,
	}
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*a = Action(decoded)
	if a.Type == TypeWait && a.Method == "" {
		a.Method = "GET"
	}
	return nil
}

// Assertion is a post-flow assertion.
type Assertion struct {
	Name   string       `yaml:"name"`
	Type   string       `yaml:"type"`
	Expect *Expectation `yaml:"expect"`
}

// AsAction converts the assertion into an assert action for execution.
func (a Assertion) AsAction() Action {
	return Action{Name: a.Name, Type: TypeAssert, Expect: a.Expect}
}

// StopCondition configures early workflow termination.
type StopCondition struct {
	AnyAssertionFails bool `yaml:"any_assertion_fails"`
	AnyActionFails    bool `yaml:"any_action_fails"`
}

// Entry is the initial data block for a workflow instance. Keys beyond
// seed_data are allowed and carried through untouched.
type Entry struct {
	SeedData map[string]any `yaml:"seed_data"`
	Extra    map[string]any `yaml:",inline"`
}

// ToMap flattens the entry block for context construction.
func (e Entry) ToMap() map[string]any {
	result := map[string]any{}
	for k, v := range e.Extra {
		result[k] = v
	}
	seed := map[string]any{}
	for k, v := range e.SeedData {
		seed[k] = v
	}
	result["seed_data"] = seed
	return result
}

// Scenario is a complete user journey definition.
type Scenario struct {
	ID          string            `yaml:"id"`
	Description string            `yaml:"description"`
	Entry       Entry             `yaml:"entry"`
	Flow        []Action          `yaml:"flow"`
	Assertions  []Assertion       `yaml:"assertions"`
	StopWhen    StopCondition     `yaml:"stop_when"`
	MaxSteps    int               `yaml:"max_steps"`
	Turbulence  *turbulence.Config `yaml:"turbulence"`
	Variation   *variation.Config  `yaml:"variation"`

	// SourcePath records the file the scenario was loaded from; it is
	// used for schema $ref resolution and replay lookup.
	SourcePath string `yaml:"-"`
}

// UnmarshalYAML applies scenario defaults before decoding.
func (s *Scenario) UnmarshalYAML(node *yaml.Node) error {
	type raw Scenario
	decoded := raw{MaxSteps: 100}
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*s = Scenario(decoded)
	return nil
}

// Validate checks structural constraints on the scenario.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return &errors.ValidationError{
			Field:      "id",
			Message:    "scenario id must not be empty",
			Suggestion: "set a unique id at the top of the scenario file",
		}
	}
	if s.MaxSteps <= 0 {
		return &errors.ValidationError{Field: "max_steps", Message: "must be greater than zero"}
	}
	for i, action := range s.Flow {
		if err := validateAction(action, fmt.Sprintf("flow[%d]", i)); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		field := fmt.Sprintf("assertions[%d]", i)
		if assertion.Name == "" {
			return &errors.ValidationError{Field: field + ".name", Message: "assertion name is required"}
		}
		if assertion.Expect == nil || !assertion.Expect.HasSelector() {
			return &errors.ValidationError{
				Field:      field + ".expect",
				Message:    "expectation needs a selector",
				Suggestion: "set one of status_code, jsonpath, context_path, schema, expression",
			}
		}
	}
	if err := s.Turbulence.Validate(); err != nil {
		return &errors.ValidationError{Field: "turbulence", Message: err.Error()}
	}
	if s.Variation != nil {
		if err := s.Variation.Validate(); err != nil {
			return &errors.ValidationError{Field: "variation", Message: err.Error()}
		}
	}
	return nil
}

func validateAction(action Action, field string) error {
	if action.Name == "" {
		return &errors.ValidationError{Field: field + ".name", Message: "action name is required"}
	}
	switch action.Type {
	case TypeHTTP:
		if action.Service == "" || action.Method == "" || action.Path == "" {
			return &errors.ValidationError{
				Field:   field,
				Message: "http action requires service, method, and path",
			}
		}
	case TypeWait:
		if action.Service == "" || action.Path == "" {
			return &errors.ValidationError{Field: field, Message: "wait action requires service and path"}
		}
		if action.IntervalSeconds <= 0 || action.TimeoutSeconds <= 0 {
			return &errors.ValidationError{Field: field, Message: "wait interval and timeout must be positive"}
		}
		if action.Expect == nil || !action.Expect.HasSelector() {
			return &errors.ValidationError{Field: field + ".expect", Message: "wait action requires an expectation"}
		}
		// Wait polls evaluate only status_code and jsonpath; the other
		// selectors would never satisfy the condition.
		if action.Expect.ContextPath != "" || action.Expect.JSONSchema != nil || action.Expect.Expression != "" {
			return &errors.ValidationError{
				Field:      field + ".expect",
				Message:    "wait expectations support status_code and jsonpath only",
				Suggestion: "move context_path, schema, or expression checks to an assert action after the wait",
			}
		}
	case TypeAssert:
		if action.Expect == nil || !action.Expect.HasSelector() {
			return &errors.ValidationError{Field: field + ".expect", Message: "assert action requires an expectation"}
		}
	default:
		return &errors.ValidationError{
			Field:      field + ".type",
			Message:    fmt.Sprintf("unknown action type %q", action.Type),
			Suggestion: "use one of http, wait, assert",
		}
	}
	if action.Retry != nil {
		if action.Type != TypeHTTP {
			return &errors.ValidationError{Field: field + ".retry", Message: "retry applies to http actions only"}
		}
		if action.Retry.MaxAttempts <= 0 {
			return &errors.ValidationError{Field: field + ".retry.max_attempts", Message: "must be greater than zero"}
		}
		if action.Retry.Backoff != BackoffFixed && action.Retry.Backoff != BackoffExponential {
			return &errors.ValidationError{Field: field + ".retry.backoff", Message: "must be fixed or exponential"}
		}
	}
	return nil
}
