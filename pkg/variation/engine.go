package variation

import "math/rand"

// Timing keys consumed by the scenario runner. They ride along in the
// variation map with a leading underscore and are not part of the
// public scenario-author contract.
const (
	JitterKey    = "_timing_jitter_ms"
	StepDelayKey = "_step_delay_ms"
)

// Engine generates variation values for workflow instances.
type Engine struct {
	config   *Config
	baseSeed int64
}

// NewEngine creates a variation engine for one run.
func NewEngine(config *Config, baseSeed int64) *Engine {
	return &Engine{config: config, baseSeed: baseSeed}
}

// Apply generates the variation map for one instance. The generator is
// seeded with base_seed + instance_index and values are drawn in a
// fixed order (parameters in declaration order, toggles, jitter, step
// delay), so a fixed seed and config always reproduce the same map.
func (e *Engine) Apply(instanceIndex int) map[string]any {
	result := map[string]any{}
	if e.config == nil {
		return result
	}

	rng := rand.New(rand.NewSource(e.baseSeed + int64(instanceIndex)))

	for _, param := range e.config.Parameters {
		switch param.Type {
		case TypeChoice:
			if len(param.Values) > 0 {
				result[param.Name] = param.Values[rng.Intn(len(param.Values))]
			}
		case TypeRange:
			if param.Min != nil && param.Max != nil {
				result[param.Name] = *param.Min + rng.Float64()*(*param.Max-*param.Min)
			}
		}
	}

	for _, toggle := range e.config.Toggles {
		result[toggle.Name] = rng.Float64() < toggle.Probability
	}

	if e.config.Timing != nil {
		if r := e.config.Timing.JitterMS; r != nil {
			result[JitterKey] = r.Min + rng.Intn(r.Max-r.Min+1)
		}
		if r := e.config.Timing.StepDelayMS; r != nil {
			result[StepDelayKey] = r.Min + rng.Intn(r.Max-r.Min+1)
		}
	}

	return result
}
