package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/tombee/windtunnel/internal/extract"
	"github.com/tombee/windtunnel/pkg/observation"
	"github.com/tombee/windtunnel/pkg/scenario"
	"github.com/tombee/windtunnel/pkg/sut"
)

// RunWait polls an endpoint until its expectation holds or the wait
// budget runs out. Polls carry the default and service headers only;
// action headers do not apply to wait polling. A timed-out wait is a
// failed observation, not an error.
func (r *Runner) RunWait(ctx context.Context, action scenario.Action, cfg *sut.Config) (*observation.WaitObservation, error) {
	service, err := cfg.Service(action.Service)
	if err != nil {
		return nil, err
	}
	// Each poll is bounded by the tighter of the service timeout and
	// the wait budget, so one slow poll cannot overshoot the wait.
	if action.TimeoutSeconds < service.TimeoutSeconds {
		service.TimeoutSeconds = action.TimeoutSeconds
	}
	headers := mergeHeaders(cfg.DefaultHeaders, service.Headers)

	obs := &observation.WaitObservation{
		Observation: observation.Observation{
			Headers:    map[string]string{},
			Errors:     []string{},
			ActionName: action.Name,
			Service:    action.Service,
		},
		Attempts: []observation.PollAttempt{},
	}

	timeout := time.Duration(action.TimeoutSeconds * float64(time.Second))
	interval := time.Duration(action.IntervalSeconds * float64(time.Second))
	start := time.Now()
	attempts := 0

	for !obs.Ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Since(start) >= timeout {
			break
		}

		attempts++
		pollStart := time.Now()
		result, pollErr := r.doRequest(ctx, service, action.Method, action.Path, headers, action.Query, nil)
		poll := observation.PollAttempt{
			AttemptNumber: attempts,
			TimestampMS:   float64(pollStart.Sub(start)) / float64(time.Millisecond),
			LatencyMS:     float64(time.Since(pollStart)) / float64(time.Millisecond),
		}
		if pollErr != nil {
			poll.Error = pollErr.Error()
		} else {
			status := result.status
			poll.StatusCode = &status
			poll.Body = result.body
			poll.ConditionMet = conditionMet(action.Expect, result)

			obs.StatusCode = &status
			obs.Body = result.body
			obs.Headers = result.headers
		}
		obs.Attempts = append(obs.Attempts, poll)
		if poll.ConditionMet {
			obs.Ok = true
			break
		}

		remaining := timeout - time.Since(start)
		if remaining <= 0 {
			break
		}
		pause := interval
		if pause > remaining {
			pause = remaining
		}
		if err := sleep(ctx, pause); err != nil {
			return nil, err
		}
	}

	obs.TotalAttempts = attempts
	obs.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)
	if !obs.Ok {
		obs.TimedOut = true
		obs.Errors = append(obs.Errors, fmt.Sprintf("Timeout after %.1fs (%d attempts)", time.Since(start).Seconds(), attempts))
	}
	return obs, nil
}

// conditionMet evaluates a wait expectation against one poll. All set
// checks must hold; a jsonpath that matches nothing (or does not
// parse) never satisfies the condition.
func conditionMet(expect *scenario.Expectation, result *httpResult) bool {
	if expect == nil {
		return false
	}
	checked := false
	if expect.StatusCode != nil {
		if result.status != *expect.StatusCode {
			return false
		}
		checked = true
	}
	if expect.JSONPath != "" {
		value, found := extract.First(result.body, expect.JSONPath)
		if !found {
			return false
		}
		if expect.HasEquals {
			if !Equal(value, expect.Equals) {
				return false
			}
		} else if expect.HasContains {
			if !Contains(value, expect.Contains) {
				return false
			}
		}
		checked = true
	}
	return checked
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
