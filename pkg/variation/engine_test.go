package variation

import (
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"
)

func floatp(v float64) *float64 { return &v }

func TestApply_Deterministic(t *testing.T) {
	cfg := &Config{
		Parameters: []Parameter{
			{Name: "user_id", Type: TypeChoice, Values: []any{"u1", "u2", "u3"}},
			{Name: "amount", Type: TypeRange, Min: floatp(1), Max: floatp(100)},
		},
		Toggles: []Toggle{{Name: "apply_coupon", Probability: 0.5}},
		Timing: &Timing{
			JitterMS:    &Range{Min: 0, Max: 50},
			StepDelayMS: &Range{Min: 10, Max: 20},
		},
	}

	for index := 0; index < 5; index++ {
		first := NewEngine(cfg, 12345).Apply(index)
		second := NewEngine(cfg, 12345).Apply(index)
		if !reflect.DeepEqual(first, second) {
			t.Errorf("instance %d not reproducible: %v vs %v", index, first, second)
		}
	}
}

func TestApply_EmptyConfig(t *testing.T) {
	result := NewEngine(&Config{}, 1).Apply(0)
	if len(result) != 0 {
		t.Errorf("expected empty map, got %v", result)
	}
}

func TestApply_TimingBounds(t *testing.T) {
	cfg := &Config{Timing: &Timing{StepDelayMS: &Range{Min: 10, Max: 20}}}
	for index := 0; index < 50; index++ {
		result := NewEngine(cfg, int64(index)).Apply(index)
		delay, ok := result[StepDelayKey].(int)
		if !ok {
			t.Fatalf("missing %s in %v", StepDelayKey, result)
		}
		if delay < 10 || delay > 20 {
			t.Errorf("step delay %d outside [10, 20]", delay)
		}
	}
}

func TestUnmarshalYAML_PreservesParameterOrder(t *testing.T) {
	src := `
parameters:
  zulu:
    type: choice
    values: [1, 2]
  alpha:
    type: range
    min: 0
    max: 1
  mike:
    type: choice
    values: ["x"]
toggles:
  - name: fast_path
    probability: 0.25
`
	var cfg Config
	if err := yaml.Unmarshal([]byte(src), &cfg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	var names []string
	for _, p := range cfg.Parameters {
		names = append(names, p.Name)
	}
	want := []string{"zulu", "alpha", "mike"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("parameter order %v, want %v", names, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestValidate_RejectsBadConfigs(t *testing.T) {
	bad := []*Config{
		{Parameters: []Parameter{{Name: "p", Type: TypeChoice}}},
		{Parameters: []Parameter{{Name: "p", Type: TypeRange, Min: floatp(5), Max: floatp(5)}}},
		{Parameters: []Parameter{{Name: "p", Type: "weird"}}},
		{Toggles: []Toggle{{Name: "t", Probability: 1.5}}},
		{Timing: &Timing{JitterMS: &Range{Min: -1, Max: 10}}},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("config %d should have failed validation", i)
		}
	}
}
