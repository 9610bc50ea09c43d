package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tombee/windtunnel/internal/artifact"
	"github.com/tombee/windtunnel/internal/expression"
	"github.com/tombee/windtunnel/internal/log"
	"github.com/tombee/windtunnel/pkg/actions"
	"github.com/tombee/windtunnel/pkg/errors"
	"github.com/tombee/windtunnel/pkg/scenario"
	"github.com/tombee/windtunnel/pkg/sut"
)

// ReplayOptions identifies the instance to re-execute and the world to
// run it against.
type ReplayOptions struct {
	// RunsDir is the artifacts base directory the original run wrote to.
	RunsDir string

	RunID      string
	InstanceID string

	SUT       *sut.Config
	Scenarios []*scenario.Scenario

	Logger *slog.Logger
	Client *http.Client
}

// ReplayStep is one replayed step diffed against its recorded
// original on status_code and ok.
type ReplayStep struct {
	StepIndex     int      `json:"step_index"`
	StepName      string   `json:"step_name"`
	Ok            bool     `json:"ok"`
	HasDifference bool     `json:"has_difference"`
	Differences   []string `json:"difference_details,omitempty"`
}

// ReplayResult is the outcome of a replay invocation.
type ReplayResult struct {
	RunID         string       `json:"run_id"`
	InstanceID    string       `json:"instance_id"`
	CorrelationID string       `json:"correlation_id"`
	ScenarioID    string       `json:"scenario_id"`
	Success       bool         `json:"success"`
	Steps         []ReplayStep `json:"steps"`
}

// Replay re-executes a recorded instance literally: original
// identifiers and entry data, the original correlation header on every
// request, no turbulence, no variation, no step delays. Each step is
// compared against the recorded observation.
func Replay(ctx context.Context, opts ReplayOptions) (*ReplayResult, error) {
	record, err := artifact.FindInstance(opts.RunsDir, opts.RunID, opts.InstanceID)
	if err != nil {
		return nil, err
	}

	var scn *scenario.Scenario
	for _, candidate := range opts.Scenarios {
		if candidate.ID == record.ScenarioID {
			scn = candidate
			break
		}
	}
	if scn == nil {
		return nil, &errors.NotFoundError{Resource: "scenario", ID: record.ScenarioID}
	}

	original, err := artifact.ReadSteps(opts.RunsDir, opts.RunID, opts.InstanceID)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.FromEnv())
	}
	logger = log.WithInstanceContext(logger, record.RunID, record.InstanceID, record.CorrelationID)

	wctx := RestoredContext(record.RunID, record.InstanceID, record.CorrelationID, record.EntryData, scn.SourcePath)
	sutClone := opts.SUT.Clone()
	sutClone.DefaultHeaders["X-Correlation-ID"] = record.CorrelationID

	flow := &flowRunner{
		runner: actions.NewRunner(opts.Client, logger),
		eval:   expression.New(),
		logger: logger,
		sut:    sutClone,
		scn:    scn,
		wctx:   wctx,
	}
	outcomes, passed, err := flow.runFlow(ctx)
	if err != nil {
		return nil, err
	}

	return &ReplayResult{
		RunID:         record.RunID,
		InstanceID:    record.InstanceID,
		CorrelationID: record.CorrelationID,
		ScenarioID:    record.ScenarioID,
		Success:       passed,
		Steps:         diffSteps(outcomes, original),
	}, nil
}

// diffSteps compares replayed outcomes with recorded step
// observations by step index.
func diffSteps(outcomes []StepOutcome, original []artifact.StepObservation) []ReplayStep {
	recorded := make(map[int]artifact.StepObservation, len(original))
	for _, step := range original {
		recorded[step.StepIndex] = step
	}

	steps := make([]ReplayStep, 0, len(outcomes))
	for _, outcome := range outcomes {
		step := ReplayStep{StepIndex: outcome.Index, StepName: outcome.Name, Ok: outcome.Ok}
		orig, found := recorded[outcome.Index]
		if !found {
			step.Differences = append(step.Differences, "no recorded observation for this step")
			step.HasDifference = true
			steps = append(steps, step)
			continue
		}

		origStatus, origHasStatus := orig.Observation["status_code"].(float64)
		switch {
		case outcome.StatusCode == nil && origHasStatus:
			step.Differences = append(step.Differences,
				fmt.Sprintf("status_code: recorded %d, replayed none", int(origStatus)))
		case outcome.StatusCode != nil && !origHasStatus:
			step.Differences = append(step.Differences,
				fmt.Sprintf("status_code: recorded none, replayed %d", *outcome.StatusCode))
		case outcome.StatusCode != nil && int(origStatus) != *outcome.StatusCode:
			step.Differences = append(step.Differences,
				fmt.Sprintf("status_code: recorded %d, replayed %d", int(origStatus), *outcome.StatusCode))
		}

		origOk, _ := orig.Observation["ok"].(bool)
		if origOk != outcome.Ok {
			step.Differences = append(step.Differences,
				fmt.Sprintf("ok: recorded %t, replayed %t", origOk, outcome.Ok))
		}

		step.HasDifference = len(step.Differences) > 0
		steps = append(steps, step)
	}
	return steps
}
