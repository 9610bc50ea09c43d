// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/windtunnel/pkg/observation"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := New("run_20260101_000000", t.TempDir(),
		WithSUTName("shop"),
		WithScenarioIDs([]string{"checkout"}),
		WithSeed(42),
		WithConfig(RunConfig{Seed: 42, Concurrency: 10, TimeoutSeconds: 30}),
	)
	require.NoError(t, store.Initialize())
	return store
}

func TestInitialize_WritesManifestAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Initialize())

	manifest, err := ReadManifest(filepath.Dir(store.RunPath()), store.RunID())
	require.NoError(t, err)
	assert.Equal(t, "run_20260101_000000", manifest.RunID)
	assert.Equal(t, "shop", manifest.SUTName)
	assert.Equal(t, []string{"checkout"}, manifest.ScenarioIDs)
	assert.Equal(t, int64(42), manifest.Seed)
	assert.Equal(t, Version, manifest.Version)
}

func TestWriteAndReadBack(t *testing.T) {
	store := newTestStore(t)
	base := filepath.Dir(store.RunPath())

	status := 200
	require.NoError(t, store.WriteStep(StepRecord{
		InstanceID:    "inst_1",
		CorrelationID: "corr_1",
		StepIndex:     0,
		StepName:      "health",
		StepType:      "http",
		Observation: observation.Observation{
			Ok:         true,
			StatusCode: &status,
			LatencyMS:  12.5,
			Headers:    map[string]string{},
			Errors:     []string{},
			ActionName: "health",
		},
	}))
	require.NoError(t, store.WriteAssertion(AssertionRecord{
		InstanceID:    "inst_1",
		CorrelationID: "corr_1",
		StepIndex:     0,
		AssertionName: "status_ok",
		Passed:        true,
		Expected:      200,
		Actual:        200,
		Message:       "Status code 200 matches expected 200",
	}))
	require.NoError(t, store.WriteInstance(InstanceRecord{
		InstanceID:    "inst_1",
		CorrelationID: "corr_1",
		ScenarioID:    "checkout",
		StartedAt:     time.Now().UTC(),
		CompletedAt:   time.Now().UTC(),
		Passed:        true,
		EntryData:     map[string]any{"seed_data": map[string]any{}},
	}))

	instances, err := ReadInstances(base, store.RunID())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, store.RunID(), instances[0].RunID)
	assert.Equal(t, "corr_1", instances[0].CorrelationID)

	steps, err := ReadSteps(base, store.RunID(), "inst_1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "http", steps[0].StepType)
	assert.Equal(t, true, steps[0].Observation["ok"])
	assert.Equal(t, 200.0, steps[0].Observation["status_code"])

	summary, err := store.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalInstances)
	assert.Equal(t, 1, summary.PassCount)
	assert.Equal(t, 0, summary.FailCount)
	assert.Equal(t, 100.0, summary.PassRate)
	assert.Equal(t, 1, summary.TotalSteps)
	assert.Equal(t, 1, summary.AssertionsPassed)

	fromDisk, err := ReadSummary(base, store.RunID())
	require.NoError(t, err)
	assert.Equal(t, summary.PassRate, fromDisk.PassRate)
}

func TestConcurrentWrites(t *testing.T) {
	store := newTestStore(t)
	base := filepath.Dir(store.RunPath())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("inst_%d", i)
			_ = store.WriteInstance(InstanceRecord{InstanceID: id, CorrelationID: "corr", ScenarioID: "s", Passed: i%2 == 0})
			_ = store.WriteStep(StepRecord{InstanceID: id, StepIndex: 0, StepName: "a", StepType: "http"})
		}(i)
	}
	wg.Wait()

	instances, err := ReadInstances(base, store.RunID())
	require.NoError(t, err)
	assert.Len(t, instances, 20)

	steps, err := ReadSteps(base, store.RunID(), "")
	require.NoError(t, err)
	assert.Len(t, steps, 20)
}

func TestReader_SkipsMalformedTrailingLine(t *testing.T) {
	store := newTestStore(t)
	base := filepath.Dir(store.RunPath())
	require.NoError(t, store.WriteInstance(InstanceRecord{InstanceID: "inst_1", Passed: true}))

	f, err := os.OpenFile(filepath.Join(store.RunPath(), "instances.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"instance_id": "inst_2", "run_`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	instances, err := ReadInstances(base, store.RunID())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "inst_1", instances[0].InstanceID)
}

func TestWriteInstanceArtifact(t *testing.T) {
	store := newTestStore(t)
	path, err := store.WriteInstanceArtifact("inst_1", "debug.json", map[string]any{"note": "kept"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept")
	assert.Contains(t, path, filepath.Join("artifacts", "inst_1"))
}

func TestFindInstance_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := FindInstance(filepath.Dir(store.RunPath()), store.RunID(), "inst_missing")
	assert.ErrorContains(t, err, "instance not found")
}

func TestListRuns(t *testing.T) {
	base := t.TempDir()
	for _, id := range []string{"run_20260102_000000", "run_20260101_000000"} {
		store := New(id, base)
		require.NoError(t, store.Initialize())
	}
	require.NoError(t, os.MkdirAll(filepath.Join(base, "not_a_run"), 0o755))

	runs, err := ListRuns(base)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_20260101_000000", "run_20260102_000000"}, runs)
}
