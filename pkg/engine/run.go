package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/tombee/windtunnel/internal/artifact"
	"github.com/tombee/windtunnel/internal/expression"
	"github.com/tombee/windtunnel/internal/log"
	"github.com/tombee/windtunnel/pkg/actions"
	"github.com/tombee/windtunnel/pkg/errors"
	"github.com/tombee/windtunnel/pkg/scenario"
	"github.com/tombee/windtunnel/pkg/sut"
	"github.com/tombee/windtunnel/pkg/turbulence"
	"github.com/tombee/windtunnel/pkg/variation"
)

// Options configures a run.
type Options struct {
	// RunID overrides the generated run identifier.
	RunID string

	// OutputDir is the artifacts base directory (default "runs").
	OutputDir string

	// Instances is the number of workflow instances to execute.
	Instances int

	// Parallelism caps concurrently running instances.
	Parallelism int

	// Seed drives scenario selection, variation, and turbulence.
	Seed int64

	Logger *slog.Logger
	Client *http.Client

	// ProgressOut receives the progress line (default os.Stdout;
	// suppressed automatically when it is not a terminal).
	ProgressOut io.Writer
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	RunID   string
	Results []InstanceResult
	Stats   Stats
	Summary *artifact.Summary
}

// Engine orchestrates one run: it picks a scenario per instance,
// builds the per-instance engines and context, executes instances
// through the bounded executor, and streams everything to the
// artifact store.
type Engine struct {
	sut       *sut.Config
	scenarios []*scenario.Scenario
	opts      Options

	runID    string
	executor *Executor
	runner   *actions.Runner
	eval     *expression.Evaluator
	logger   *slog.Logger
}

// New validates inputs and builds a run engine.
func New(sutConfig *sut.Config, scenarios []*scenario.Scenario, opts Options) (*Engine, error) {
	if sutConfig == nil {
		return nil, &errors.ValidationError{Field: "sut", Message: "SUT config is required"}
	}
	if len(scenarios) == 0 {
		return nil, &errors.ValidationError{Field: "scenarios", Message: "at least one scenario is required"}
	}
	if opts.Instances < 1 {
		opts.Instances = 1
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 10
	}
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.FromEnv())
	}
	if opts.ProgressOut == nil {
		opts.ProgressOut = os.Stdout
	}

	return &Engine{
		sut:       sutConfig,
		scenarios: scenarios,
		opts:      opts,
		runID:     opts.RunID,
		executor:  NewExecutor(opts.Parallelism),
		runner:    actions.NewRunner(opts.Client, opts.Logger),
		eval:      expression.New(),
		logger:    log.WithRunContext(opts.Logger, opts.RunID),
	}, nil
}

// RunID returns the run identifier.
func (e *Engine) RunID() string { return e.runID }

// Cancel requests graceful cancellation: unstarted instances are
// skipped, in-flight instances finish.
func (e *Engine) Cancel() { e.executor.Cancel() }

// Run executes the configured number of instances and finalizes the
// artifact directory. Instance failures do not produce an error; only
// artifact I/O problems do.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	ids := make([]string, len(e.scenarios))
	for i, scn := range e.scenarios {
		ids[i] = scn.ID
	}
	store := artifact.New(e.runID, e.opts.OutputDir,
		artifact.WithSUTName(e.sut.Name),
		artifact.WithScenarioIDs(ids),
		artifact.WithSeed(e.opts.Seed),
		artifact.WithConfig(artifact.RunConfig{
			Seed:           e.opts.Seed,
			Concurrency:    e.opts.Parallelism,
			TimeoutSeconds: sut.DefaultTimeoutSeconds,
		}),
	)
	if err := store.Initialize(); err != nil {
		return nil, err
	}

	e.logger.Info("run started",
		slog.Int("instances", e.opts.Instances),
		slog.Int("parallelism", e.opts.Parallelism),
		slog.Int64("seed", e.opts.Seed))

	progress := NewProgress(e.opts.ProgressOut, e.opts.Instances)
	results, stats := e.executor.Run(ctx, e.opts.Instances, func(ctx context.Context, index int) InstanceResult {
		return e.runInstance(ctx, store, index)
	}, progress.Advance)
	progress.Finish()

	summary, err := store.Finalize()
	if err != nil {
		return nil, err
	}

	e.logger.Info("run completed",
		slog.Int("passed", stats.Passed),
		slog.Int("failed", stats.Failed),
		slog.Int("errors", stats.Errors),
		slog.Int("cancelled", stats.Cancelled),
		log.Duration("duration_ms", summary.DurationMS))

	return &RunResult{RunID: e.runID, Results: results, Stats: stats, Summary: summary}, nil
}

// runInstance executes one instance end to end and writes its record.
// Panics and unexpected errors mark the instance as errored without
// disturbing the run.
func (e *Engine) runInstance(ctx context.Context, store *artifact.Store, index int) (result InstanceResult) {
	scn := e.pickScenario(index)

	var variationValues map[string]any
	if scn.Variation != nil {
		variationValues = variation.NewEngine(scn.Variation, e.opts.Seed).Apply(index)
	}

	wctx := NewWorkflowContext(e.runID, scn, variationValues)
	sutClone := e.sut.Clone()
	sutClone.DefaultHeaders["X-Correlation-ID"] = wctx.CorrelationID

	logger := log.WithInstanceContext(e.logger, e.runID, wctx.InstanceID, wctx.CorrelationID)

	var turbEngine *turbulence.Engine
	if scn.Turbulence != nil {
		turbEngine = turbulence.NewEngine(scn.Turbulence, e.opts.Seed)
	}

	flow := &flowRunner{
		runner:    e.runner,
		eval:      e.eval,
		turb:      turbEngine,
		store:     store,
		logger:    logger,
		sut:       sutClone,
		scn:       scn,
		wctx:      wctx,
		stepDelay: timingDelay(variationValues),
	}

	started := time.Now()
	result = InstanceResult{
		Index:         index,
		InstanceID:    wctx.InstanceID,
		CorrelationID: wctx.CorrelationID,
		ScenarioID:    scn.ID,
	}
	defer func() {
		if r := recover(); r != nil {
			result.Passed = false
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		completed := time.Now()
		result.DurationMS = float64(completed.Sub(started)) / float64(time.Millisecond)

		entry, _ := wctx.Data["entry"].(map[string]any)
		err := store.WriteInstance(artifact.InstanceRecord{
			InstanceID:    wctx.InstanceID,
			CorrelationID: wctx.CorrelationID,
			ScenarioID:    scn.ID,
			StartedAt:     started.UTC(),
			CompletedAt:   completed.UTC(),
			DurationMS:    result.DurationMS,
			Passed:        result.Passed,
			EntryData:     entry,
			Error:         result.Error,
		})
		if err != nil {
			logger.Error("write instance record failed", log.Error(err))
		}
	}()

	logger.Debug("instance started", slog.String("scenario", scn.ID))

	_, flowPassed, err := flow.runFlow(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	assertionsPassed := flow.runAssertions(ctx)
	result.Passed = flowPassed && assertionsPassed
	return result
}

// pickScenario assigns a scenario to an instance: the only one when a
// single scenario is loaded, otherwise a seeded uniform pick so the
// assignment reproduces from the run seed.
func (e *Engine) pickScenario(index int) *scenario.Scenario {
	if len(e.scenarios) == 1 {
		return e.scenarios[0]
	}
	rng := rand.New(rand.NewSource(e.opts.Seed + int64(index)))
	return e.scenarios[rng.Intn(len(e.scenarios))]
}

// timingDelay sums the variation engine's step delay and jitter draws.
func timingDelay(values map[string]any) time.Duration {
	total := 0
	if v, ok := values[variation.StepDelayKey].(int); ok {
		total += v
	}
	if v, ok := values[variation.JitterKey].(int); ok {
		total += v
	}
	return time.Duration(total) * time.Millisecond
}
