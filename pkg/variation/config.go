// Package variation produces deterministic per-instance input
// diversification: parameter choices, probabilistic toggles, and timing
// jitter, all derived from (base_seed + instance_index) so any instance
// can be reproduced exactly.
package variation

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parameter kinds.
const (
	TypeChoice = "choice"
	TypeRange  = "range"
)

// Parameter is a single varied input. Parameters keep their YAML
// declaration order: the engine draws them in order, so reordering a
// config changes every instance's values even under the same seed.
type Parameter struct {
	Name   string   `yaml:"-"`
	Type   string   `yaml:"type"`
	Values []any    `yaml:"values"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
}

// Toggle is a boolean flag enabled with the given probability.
type Toggle struct {
	Name        string  `yaml:"name"`
	Probability float64 `yaml:"probability"`
}

// Range is an inclusive integer interval in milliseconds.
type Range struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Timing configures per-step delays.
type Timing struct {
	JitterMS    *Range `yaml:"jitter_ms"`
	StepDelayMS *Range `yaml:"step_delay_ms"`
}

// Config is the complete variation configuration for a scenario.
type Config struct {
	Parameters []Parameter `yaml:"-"`
	Toggles    []Toggle    `yaml:"toggles"`
	Timing     *Timing     `yaml:"timing"`
}

// UnmarshalYAML decodes the config while preserving the declaration
// order of the parameters mapping.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Parameters yaml.Node `yaml:"parameters"`
		Toggles    []Toggle  `yaml:"toggles"`
		Timing     *Timing   `yaml:"timing"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	c.Toggles = raw.Toggles
	c.Timing = raw.Timing
	c.Parameters = nil

	if raw.Parameters.Kind == 0 || raw.Parameters.Tag == "!!null" {
		return nil
	}
	if raw.Parameters.Kind != yaml.MappingNode {
		return fmt.Errorf("variation parameters must be a mapping")
	}
	for i := 0; i+1 < len(raw.Parameters.Content); i += 2 {
		var param Parameter
		if err := raw.Parameters.Content[i+1].Decode(&param); err != nil {
			return err
		}
		param.Name = raw.Parameters.Content[i].Value
		c.Parameters = append(c.Parameters, param)
	}
	return nil
}

// Validate checks parameter, toggle, and timing constraints.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	for _, p := range c.Parameters {
		switch p.Type {
		case TypeChoice:
			if len(p.Values) == 0 {
				return fmt.Errorf("choice variation %q requires a values list", p.Name)
			}
		case TypeRange:
			if p.Min == nil || p.Max == nil {
				return fmt.Errorf("range variation %q requires min and max", p.Name)
			}
			if *p.Min >= *p.Max {
				return fmt.Errorf("range variation %q: min must be less than max", p.Name)
			}
		default:
			return fmt.Errorf("variation %q has unknown type %q", p.Name, p.Type)
		}
	}
	for _, toggle := range c.Toggles {
		if toggle.Probability < 0 || toggle.Probability > 1 {
			return fmt.Errorf("toggle %q probability must be within [0, 1]", toggle.Name)
		}
	}
	if c.Timing != nil {
		if err := validateRange("jitter_ms", c.Timing.JitterMS); err != nil {
			return err
		}
		if err := validateRange("step_delay_ms", c.Timing.StepDelayMS); err != nil {
			return err
		}
	}
	return nil
}

func validateRange(name string, r *Range) error {
	if r == nil {
		return nil
	}
	if r.Min < 0 {
		return fmt.Errorf("%s min must be >= 0", name)
	}
	if r.Min >= r.Max {
		return fmt.Errorf("%s min must be less than max", name)
	}
	return nil
}
