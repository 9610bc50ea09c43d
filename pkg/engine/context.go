package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/windtunnel/pkg/actions"
	"github.com/tombee/windtunnel/pkg/observation"
	"github.com/tombee/windtunnel/pkg/scenario"
)

// WorkflowContext is the per-instance state: fixed identifiers plus
// the mutable data map that templates, conditions, and assertions see.
// The identifiers are assigned once and never change; everything else
// lives in Data.
type WorkflowContext struct {
	RunID         string
	InstanceID    string
	CorrelationID string

	Data map[string]any
}

// NewWorkflowContext builds the initial context for one instance:
// identifiers, the scenario's entry block, and the variation map (made
// visible to templates under entry.seed_data.variation).
func NewWorkflowContext(runID string, scn *scenario.Scenario, variationValues map[string]any) *WorkflowContext {
	wctx := &WorkflowContext{
		RunID:         runID,
		InstanceID:    NewID("inst_"),
		CorrelationID: NewID("corr_"),
	}

	entry := scn.Entry.ToMap()
	if len(variationValues) > 0 {
		seed, _ := entry["seed_data"].(map[string]any)
		if seed == nil {
			seed = map[string]any{}
			entry["seed_data"] = seed
		}
		variation := make(map[string]any, len(variationValues))
		for k, v := range variationValues {
			variation[k] = v
		}
		seed["variation"] = variation
	}

	wctx.Data = map[string]any{
		"run_id":         wctx.RunID,
		"instance_id":    wctx.InstanceID,
		"correlation_id": wctx.CorrelationID,
		"entry":          entry,
	}
	if scn.SourcePath != "" {
		wctx.Data[actions.ContextKeyScenarioPath] = scn.SourcePath
	}
	return wctx
}

// RestoredContext rebuilds an instance context from recorded
// identifiers and entry data, for replay.
func RestoredContext(runID, instanceID, correlationID string, entry map[string]any, sourcePath string) *WorkflowContext {
	wctx := &WorkflowContext{
		RunID:         runID,
		InstanceID:    instanceID,
		CorrelationID: correlationID,
		Data: map[string]any{
			"run_id":         runID,
			"instance_id":    instanceID,
			"correlation_id": correlationID,
			"entry":          entry,
		},
	}
	if sourcePath != "" {
		wctx.Data[actions.ContextKeyScenarioPath] = sourcePath
	}
	return wctx
}

// Merge copies extracted values into the top level of the context for
// template access. Identifier keys cannot be overwritten.
func (c *WorkflowContext) Merge(values map[string]any) {
	for key, value := range values {
		switch key {
		case "run_id", "instance_id", "correlation_id", "entry":
			continue
		}
		c.Data[key] = value
	}
}

// SetLastResponse projects an observation into the single-slot
// last_response view used by assertions and conditions.
func (c *WorkflowContext) SetLastResponse(obs *observation.Observation) {
	headers := make(map[string]any, len(obs.Headers))
	for k, v := range obs.Headers {
		headers[k] = v
	}
	last := map[string]any{
		"ok":      obs.Ok,
		"body":    obs.Body,
		"headers": headers,
	}
	if obs.StatusCode != nil {
		last["status_code"] = *obs.StatusCode
	}
	c.Data[actions.ContextKeyLastResponse] = last
}

// NewID generates a prefixed 12-hex-digit identifier.
func NewID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + hex[:12]
}

// NewRunID generates the default run identifier from the UTC clock.
func NewRunID() string {
	return "run_" + time.Now().UTC().Format("20060102_150405")
}
