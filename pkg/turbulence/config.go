// Package turbulence injects deterministic faults (latency, forced
// timeouts, retry storms) around HTTP action execution. Policies are
// layered global -> service -> action and merged per field, so broad
// latency can be combined with a narrow retry storm on one flaky action.
package turbulence

// Latency is an injected latency range in milliseconds.
type Latency struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Policy holds the turbulence settings for one scope.
// Nil fields mean "not set at this scope" and do not override
// values inherited from broader scopes.
type Policy struct {
	LatencyMS      *Latency `yaml:"latency_ms" json:"latency_ms,omitempty"`
	TimeoutAfterMS *int     `yaml:"timeout_after_ms" json:"timeout_after_ms,omitempty"`
	RetryCount     *int     `yaml:"retry_count" json:"retry_count,omitempty"`
}

// Config is the top-level turbulence configuration for a scenario.
type Config struct {
	Global   *Policy           `yaml:"global" json:"global,omitempty"`
	Services map[string]Policy `yaml:"services" json:"services,omitempty"`
	Actions  map[string]Policy `yaml:"actions" json:"actions,omitempty"`
}

// Resolve merges the applicable policies for a service/action pair in
// order global, service, action; fields set in a later scope override
// earlier scopes, absent fields do not. Returns nil when no scope
// applies, which disables turbulence for the action.
func (c *Config) Resolve(service, action string) *Policy {
	if c == nil {
		return nil
	}

	var layers []*Policy
	layers = append(layers, c.Global)
	if p, ok := c.Services[service]; ok {
		layers = append(layers, &p)
	}
	if p, ok := c.Actions[action]; ok {
		layers = append(layers, &p)
	}

	merged := &Policy{}
	applied := false
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		applied = true
		if layer.LatencyMS != nil {
			latency := *layer.LatencyMS
			merged.LatencyMS = &latency
		}
		if layer.TimeoutAfterMS != nil {
			timeout := *layer.TimeoutAfterMS
			merged.TimeoutAfterMS = &timeout
		}
		if layer.RetryCount != nil {
			count := *layer.RetryCount
			merged.RetryCount = &count
		}
	}

	if !applied {
		return nil
	}
	return merged
}

// Validate checks that latency ranges and counts are sane.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if err := validatePolicy(c.Global); err != nil {
		return err
	}
	for _, p := range c.Services {
		if err := validatePolicy(&p); err != nil {
			return err
		}
	}
	for _, p := range c.Actions {
		if err := validatePolicy(&p); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicy(p *Policy) error {
	if p == nil {
		return nil
	}
	if p.LatencyMS != nil {
		if p.LatencyMS.Min < 0 || p.LatencyMS.Max < p.LatencyMS.Min {
			return &InvalidPolicyError{Reason: "latency_ms requires 0 <= min <= max"}
		}
	}
	if p.TimeoutAfterMS != nil && *p.TimeoutAfterMS < 1 {
		return &InvalidPolicyError{Reason: "timeout_after_ms must be >= 1"}
	}
	if p.RetryCount != nil && *p.RetryCount < 0 {
		return &InvalidPolicyError{Reason: "retry_count must be >= 0"}
	}
	return nil
}

// InvalidPolicyError reports a malformed turbulence policy.
type InvalidPolicyError struct {
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return "invalid turbulence policy: " + e.Reason
}
