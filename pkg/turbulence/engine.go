package turbulence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/tombee/windtunnel/pkg/observation"
)

// Scope identifies where an injection applies, and feeds the seed
// derivation that makes injected latency reproducible per attempt.
type Scope struct {
	InstanceID string
	Service    string
	Action     string
}

// ExecFunc executes the wrapped action once and returns its observation
// and the updated instance context.
type ExecFunc func(ctx context.Context) (*observation.Observation, map[string]any, error)

// Engine applies resolved turbulence policies around action execution.
type Engine struct {
	config *Config
	seed   int64
}

// NewEngine creates a turbulence engine for one run. The seed is the
// run's base seed; per-attempt latency is derived from it so identical
// seeds reproduce identical injections.
func NewEngine(config *Config, seed int64) *Engine {
	return &Engine{config: config, seed: seed}
}

// Enabled reports whether any turbulence configuration is present.
func (e *Engine) Enabled() bool {
	return e.config != nil
}

// ResolvePolicy resolves the effective policy for a service/action pair.
func (e *Engine) ResolvePolicy(service, action string) *Policy {
	if e.config == nil {
		return nil
	}
	return e.config.Resolve(service, action)
}

// Apply runs exec under the given policy: 1+retry_count attempts, each
// preceded by the seeded injected latency, each optionally bounded by
// the forced timeout. The last attempt's observation and context are
// returned regardless of success, exposing the retry storm's final
// state. Per-attempt details are recorded on the observation's
// Turbulence field.
func (e *Engine) Apply(ctx context.Context, policy *Policy, scope Scope, actionCtx map[string]any, exec ExecFunc) (*observation.Observation, map[string]any, error) {
	retryCount := 0
	if policy.RetryCount != nil {
		retryCount = *policy.RetryCount
	}
	attempts := 1 + retryCount

	info := &observation.TurbulenceInfo{
		Service:        scope.Service,
		Action:         scope.Action,
		RetryCount:     retryCount,
		TimeoutAfterMS: policy.TimeoutAfterMS,
		Attempts:       make([]observation.TurbulenceAttempt, 0, attempts),
	}

	var lastObs *observation.Observation
	lastCtx := actionCtx

	for attempt := 0; attempt < attempts; attempt++ {
		injected := e.pickLatency(policy, scope, attempt)
		if injected != nil {
			info.LatencyMS = injected
			if err := sleep(ctx, time.Duration(*injected)*time.Millisecond); err != nil {
				return lastObs, lastCtx, err
			}
		}

		obs, updatedCtx, err := e.executeAttempt(ctx, policy, scope, actionCtx, exec)
		if err != nil {
			return lastObs, lastCtx, err
		}

		info.Attempts = append(info.Attempts, observation.TurbulenceAttempt{
			Ok:                obs.Ok,
			StatusCode:        obs.StatusCode,
			LatencyMS:         obs.LatencyMS,
			InjectedLatencyMS: injected,
			Errors:            obs.Errors,
		})
		lastObs = obs
		lastCtx = updatedCtx
	}

	lastObs.Turbulence = info
	return lastObs, lastCtx, nil
}

type execResult struct {
	obs *observation.Observation
	ctx map[string]any
	err error
}

// executeAttempt runs one attempt, enforcing the forced timeout when
// configured. On expiry the attempt's real outcome is discarded and a
// synthesized failure observation takes its place.
func (e *Engine) executeAttempt(ctx context.Context, policy *Policy, scope Scope, actionCtx map[string]any, exec ExecFunc) (*observation.Observation, map[string]any, error) {
	if policy.TimeoutAfterMS == nil {
		return exec(ctx)
	}

	timeout := time.Duration(*policy.TimeoutAfterMS) * time.Millisecond
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		obs, updated, err := exec(execCtx)
		done <- execResult{obs: obs, ctx: updated, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.obs, r.ctx, r.err
	case <-ctx.Done():
		return nil, actionCtx, ctx.Err()
	case <-timer.C:
		cancel()
		obs := &observation.Observation{
			Ok:         false,
			LatencyMS:  float64(*policy.TimeoutAfterMS),
			Headers:    map[string]string{},
			Errors:     []string{fmt.Sprintf("Injected timeout after %dms", *policy.TimeoutAfterMS)},
			ActionName: scope.Action,
			Service:    scope.Service,
		}
		return obs, actionCtx, nil
	}
}

// pickLatency samples the injected latency for one attempt, or nil when
// the policy has no latency range.
func (e *Engine) pickLatency(policy *Policy, scope Scope, attempt int) *int {
	if policy.LatencyMS == nil {
		return nil
	}
	rng := rand.New(rand.NewSource(e.deriveSeed(scope, attempt)))
	latency := policy.LatencyMS.Min + rng.Intn(policy.LatencyMS.Max-policy.LatencyMS.Min+1)
	return &latency
}

// deriveSeed hashes (seed, instance, service, action, attempt) with
// SHA-256 and takes the first 32 bits, so injections are reproducible
// across runs and implementations.
func (e *Engine) deriveSeed(scope Scope, attempt int) int64 {
	payload := fmt.Sprintf("%d:%s:%s:%s:%d", e.seed, scope.InstanceID, scope.Service, scope.Action, attempt)
	digest := sha256.Sum256([]byte(payload))
	prefix := hex.EncodeToString(digest[:])[:8]
	seed, _ := strconv.ParseInt(prefix, 16, 64)
	return seed
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
