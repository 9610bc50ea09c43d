package turbulence

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tombee/windtunnel/pkg/observation"
)

func intp(v int) *int { return &v }

func TestResolve_MergesPerField(t *testing.T) {
	cfg := &Config{
		Global: &Policy{
			LatencyMS:  &Latency{Min: 10, Max: 20},
			RetryCount: intp(1),
		},
		Services: map[string]Policy{
			"api": {TimeoutAfterMS: intp(500)},
		},
		Actions: map[string]Policy{
			"checkout": {RetryCount: intp(3)},
		},
	}

	policy := cfg.Resolve("api", "checkout")
	if policy == nil {
		t.Fatal("expected a merged policy")
	}
	if policy.LatencyMS == nil || policy.LatencyMS.Min != 10 || policy.LatencyMS.Max != 20 {
		t.Errorf("latency not inherited from global: %+v", policy.LatencyMS)
	}
	if policy.TimeoutAfterMS == nil || *policy.TimeoutAfterMS != 500 {
		t.Errorf("timeout not taken from service scope: %v", policy.TimeoutAfterMS)
	}
	if policy.RetryCount == nil || *policy.RetryCount != 3 {
		t.Errorf("retry_count not overridden by action scope: %v", policy.RetryCount)
	}
}

func TestResolve_NoScopeApplies(t *testing.T) {
	cfg := &Config{
		Services: map[string]Policy{"api": {RetryCount: intp(2)}},
	}
	if policy := cfg.Resolve("other", "anything"); policy != nil {
		t.Errorf("expected nil policy, got %+v", policy)
	}
}

func TestApply_RetryStormAttemptCount(t *testing.T) {
	engine := NewEngine(&Config{Global: &Policy{RetryCount: intp(2)}}, 42)
	policy := engine.ResolvePolicy("api", "checkout")

	calls := 0
	exec := func(ctx context.Context) (*observation.Observation, map[string]any, error) {
		calls++
		status := 500
		return &observation.Observation{
			Ok:         false,
			StatusCode: &status,
			Errors:     []string{"HTTP 500: Internal Server Error"},
			ActionName: "checkout",
		}, map[string]any{}, nil
	}

	obs, _, err := engine.Apply(context.Background(), policy, Scope{InstanceID: "inst_1", Service: "api", Action: "checkout"}, map[string]any{}, exec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts for retry_count=2, got %d", calls)
	}
	if obs.Turbulence == nil || len(obs.Turbulence.Attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %+v", obs.Turbulence)
	}
	for i, attempt := range obs.Turbulence.Attempts {
		if attempt.Ok {
			t.Errorf("attempt %d should have failed", i)
		}
	}
}

func TestApply_InjectedTimeout(t *testing.T) {
	engine := NewEngine(&Config{Global: &Policy{TimeoutAfterMS: intp(20)}}, 1)
	policy := engine.ResolvePolicy("api", "slow")

	exec := func(ctx context.Context) (*observation.Observation, map[string]any, error) {
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
		}
		return &observation.Observation{Ok: true}, map[string]any{}, nil
	}

	obs, _, err := engine.Apply(context.Background(), policy, Scope{InstanceID: "inst_1", Service: "api", Action: "slow"}, map[string]any{}, exec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.Ok {
		t.Error("expected synthesized failure observation")
	}
	if len(obs.Errors) != 1 || !strings.Contains(obs.Errors[0], "Injected timeout after 20ms") {
		t.Errorf("unexpected errors: %v", obs.Errors)
	}
}

func TestDeriveSeed_Deterministic(t *testing.T) {
	engine := NewEngine(nil, 12345)
	scope := Scope{InstanceID: "inst_abc", Service: "api", Action: "checkout"}

	first := engine.deriveSeed(scope, 0)
	second := engine.deriveSeed(scope, 0)
	if first != second {
		t.Errorf("seed derivation not stable: %d != %d", first, second)
	}
	if engine.deriveSeed(scope, 1) == first {
		t.Error("different attempts should derive different seeds")
	}
}

func TestPickLatency_Deterministic(t *testing.T) {
	policy := &Policy{LatencyMS: &Latency{Min: 5, Max: 50}}
	scope := Scope{InstanceID: "inst_abc", Service: "api", Action: "checkout"}

	a := NewEngine(nil, 99).pickLatency(policy, scope, 2)
	b := NewEngine(nil, 99).pickLatency(policy, scope, 2)
	if a == nil || b == nil || *a != *b {
		t.Fatalf("injected latency not reproducible: %v vs %v", a, b)
	}
	if *a < 5 || *a > 50 {
		t.Errorf("latency %d outside configured range", *a)
	}
}
