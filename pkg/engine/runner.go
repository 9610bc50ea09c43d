package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/windtunnel/internal/artifact"
	"github.com/tombee/windtunnel/internal/expression"
	"github.com/tombee/windtunnel/internal/log"
	"github.com/tombee/windtunnel/pkg/actions"
	"github.com/tombee/windtunnel/pkg/observation"
	"github.com/tombee/windtunnel/pkg/scenario"
	"github.com/tombee/windtunnel/pkg/sut"
	"github.com/tombee/windtunnel/pkg/turbulence"
)

// flowRunner executes one instance's flow. Replay reuses it with a nil
// turbulence engine, a nil store, and no step delay.
type flowRunner struct {
	runner *actions.Runner
	eval   *expression.Evaluator
	turb   *turbulence.Engine
	store  *artifact.Store
	logger *slog.Logger

	sut  *sut.Config
	scn  *scenario.Scenario
	wctx *WorkflowContext

	stepDelay time.Duration
}

// StepOutcome is one executed step's result, kept for replay diffing.
type StepOutcome struct {
	Index      int
	Name       string
	Type       string
	Ok         bool
	StatusCode *int
}

// runFlow drives the scenario's flow in order. The returned bool
// reports whether every executed step's observation was ok. An error
// return means the instance itself broke (configuration problem or
// caller cancellation), not that a step failed.
func (f *flowRunner) runFlow(ctx context.Context) ([]StepOutcome, bool, error) {
	passed := true
	var outcomes []StepOutcome

	for i, action := range f.scn.Flow {
		if i >= f.scn.MaxSteps {
			f.logger.Warn("flow truncated at max_steps", slog.Int("max_steps", f.scn.MaxSteps))
			break
		}
		if i > 0 && f.stepDelay > 0 {
			if err := sleepContext(ctx, f.stepDelay); err != nil {
				return outcomes, false, err
			}
		}
		if action.When != "" && !EvaluateConditionSafe(ctx, f.eval, f.logger, action.When, f.wctx.Data) {
			f.logger.Debug("action skipped by condition",
				slog.String("step", action.Name),
				slog.String("condition", action.When))
			continue
		}

		obs, record, err := f.runStep(ctx, i, action)
		if err != nil {
			return outcomes, false, err
		}
		f.writeStep(i, action, record)

		status := obs.StatusCode
		outcomes = append(outcomes, StepOutcome{
			Index:      i,
			Name:       action.Name,
			Type:       action.Type,
			Ok:         obs.Ok,
			StatusCode: status,
		})

		if !obs.Ok {
			passed = false
			if f.scn.StopWhen.AnyActionFails {
				break
			}
			if action.Type == scenario.TypeAssert && f.scn.StopWhen.AnyAssertionFails {
				break
			}
		}
	}
	return outcomes, passed, nil
}

// runStep renders and dispatches one action. The returned record is
// what goes into the step stream (the full WaitObservation for waits).
func (f *flowRunner) runStep(ctx context.Context, index int, action scenario.Action) (*observation.Observation, any, error) {
	rendered, err := renderAction(action, f.wctx.Data)
	if err != nil {
		obs := failedObservation(action, err)
		return obs, obs, nil
	}

	switch action.Type {
	case scenario.TypeHTTP:
		obs, updates, err := f.execHTTP(ctx, rendered)
		if err != nil {
			return nil, nil, err
		}
		f.wctx.Merge(updates)
		f.wctx.SetLastResponse(obs)
		return obs, obs, nil

	case scenario.TypeWait:
		waitObs, err := f.runner.RunWait(ctx, rendered, f.sut)
		if err != nil {
			return nil, nil, err
		}
		f.wctx.SetLastResponse(&waitObs.Observation)
		return &waitObs.Observation, waitObs, nil

	case scenario.TypeAssert:
		obs, result := f.runner.RunAssert(ctx, rendered, f.wctx.Data)
		f.writeAssertion(index, result)
		return obs, obs, nil
	}

	// Unknown types are rejected at load; this is a safety net.
	obs := failedObservation(action, fmt.Errorf("unknown action type %q", action.Type))
	return obs, obs, nil
}

// execHTTP runs an HTTP action, wrapped in the turbulence engine when
// a policy resolves for this service/action pair.
func (f *flowRunner) execHTTP(ctx context.Context, rendered scenario.Action) (*observation.Observation, map[string]any, error) {
	exec := func(ctx context.Context) (*observation.Observation, map[string]any, error) {
		return f.runner.RunHTTP(ctx, rendered, f.sut)
	}
	if f.turb != nil && f.turb.Enabled() {
		if policy := f.turb.ResolvePolicy(rendered.Service, rendered.Name); policy != nil {
			scope := turbulence.Scope{
				InstanceID: f.wctx.InstanceID,
				Service:    rendered.Service,
				Action:     rendered.Name,
			}
			return f.turb.Apply(ctx, policy, scope, f.wctx.Data, exec)
		}
	}
	return exec(ctx)
}

// runAssertions evaluates the post-flow assertions, streaming each
// result. Assertion step indexes continue after the flow's.
func (f *flowRunner) runAssertions(ctx context.Context) bool {
	passed := true
	base := len(f.scn.Flow)
	for j, assertion := range f.scn.Assertions {
		act := assertion.AsAction()
		rendered, err := renderAction(act, f.wctx.Data)
		var result observation.AssertionResult
		if err != nil {
			result = observation.AssertionResult{Name: act.Name, Message: err.Error()}
		} else {
			_, result = f.runner.RunAssert(ctx, rendered, f.wctx.Data)
		}
		f.writeAssertion(base+j, result)
		if !result.Passed {
			passed = false
			if f.scn.StopWhen.AnyAssertionFails {
				break
			}
		}
	}
	return passed
}

func (f *flowRunner) writeStep(index int, action scenario.Action, record any) {
	if f.store == nil {
		return
	}
	err := f.store.WriteStep(artifact.StepRecord{
		InstanceID:    f.wctx.InstanceID,
		CorrelationID: f.wctx.CorrelationID,
		StepIndex:     index,
		StepName:      action.Name,
		StepType:      action.Type,
		Observation:   record,
	})
	if err != nil {
		f.logger.Error("write step record failed", log.Error(err))
	}
}

func (f *flowRunner) writeAssertion(index int, result observation.AssertionResult) {
	if f.store == nil {
		return
	}
	err := f.store.WriteAssertion(artifact.AssertionRecord{
		InstanceID:    f.wctx.InstanceID,
		CorrelationID: f.wctx.CorrelationID,
		StepIndex:     index,
		AssertionName: result.Name,
		Passed:        result.Passed,
		Expected:      result.Expected,
		Actual:        result.Actual,
		Message:       result.Message,
	})
	if err != nil {
		f.logger.Error("write assertion record failed", log.Error(err))
	}
}

// renderAction resolves templates in the parts of an action that
// accept them: path, headers, query, body, and expectation comparators.
func renderAction(action scenario.Action, data map[string]any) (scenario.Action, error) {
	rendered := action
	var err error

	if action.Path != "" {
		if rendered.Path, err = RenderString(action.Path, data); err != nil {
			return action, err
		}
	}
	if len(action.Headers) > 0 {
		headers := make(map[string]string, len(action.Headers))
		for k, v := range action.Headers {
			if headers[k], err = RenderString(v, data); err != nil {
				return action, err
			}
		}
		rendered.Headers = headers
	}
	if len(action.Query) > 0 {
		query := make(map[string]string, len(action.Query))
		for k, v := range action.Query {
			if query[k], err = RenderString(v, data); err != nil {
				return action, err
			}
		}
		rendered.Query = query
	}
	if action.Body != nil {
		if rendered.Body, err = Render(action.Body, data); err != nil {
			return action, err
		}
	}
	if action.Expect != nil {
		expect := *action.Expect
		if expect.HasEquals {
			if expect.Equals, err = Render(expect.Equals, data); err != nil {
				return action, err
			}
		}
		if expect.HasContains {
			if expect.Contains, err = Render(expect.Contains, data); err != nil {
				return action, err
			}
		}
		rendered.Expect = &expect
	}
	return rendered, nil
}

func failedObservation(action scenario.Action, err error) *observation.Observation {
	return &observation.Observation{
		Headers:    map[string]string{},
		Errors:     []string{err.Error()},
		ActionName: action.Name,
		Service:    action.Service,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
