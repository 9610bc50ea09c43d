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

package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/windtunnel/internal/artifact"
)

func seedRun(t *testing.T, dir, runID string, passed bool) {
	t.Helper()
	store := artifact.New(runID, dir, artifact.WithSUTName("shop"))
	require.NoError(t, store.Initialize())
	require.NoError(t, store.WriteInstance(artifact.InstanceRecord{
		InstanceID: "inst_a", RunID: runID, ScenarioID: "s1", Passed: passed,
	}))
	_, err := store.Finalize()
	require.NoError(t, err)
}

func TestResolveRunID_ExplicitWins(t *testing.T) {
	got, err := resolveRunID(t.TempDir(), []string{"run_x"})
	require.NoError(t, err)
	assert.Equal(t, "run_x", got)
}

func TestResolveRunID_DefaultsToLatest(t *testing.T) {
	dir := t.TempDir()
	seedRun(t, dir, "run_20260101_000000", true)
	seedRun(t, dir, "run_20260102_000000", true)

	got, err := resolveRunID(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "run_20260102_000000", got)
}

func TestResolveRunID_EmptyDirectory(t *testing.T) {
	_, err := resolveRunID(t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runs found")
}

func TestLoadData_Summary(t *testing.T) {
	dir := t.TempDir()
	seedRun(t, dir, "run_x", false)

	data, err := loadData(dir, "run_x", "", "")
	require.NoError(t, err)
	summary, ok := data.(*artifact.Summary)
	require.True(t, ok)
	assert.Equal(t, 1, summary.FailCount)
}

func TestLoadData_Records(t *testing.T) {
	dir := t.TempDir()
	seedRun(t, dir, "run_x", true)

	data, err := loadData(dir, "run_x", "instances", "")
	require.NoError(t, err)
	records, ok := data.([]artifact.InstanceRecord)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.True(t, records[0].Passed)
}

func TestLoadData_UnknownStream(t *testing.T) {
	_, err := loadData(t.TempDir(), "run_x", "bogus", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown record stream "bogus"`)
}

func TestToJSONValue_NormalizesTypedRecords(t *testing.T) {
	value := toJSONValue([]artifact.InstanceRecord{{InstanceID: "inst_a", Passed: true}})
	list, ok := value.([]any)
	require.True(t, ok)
	record := list[0].(map[string]any)
	assert.Equal(t, "inst_a", record["instance_id"])
	assert.Equal(t, true, record["passed"])
}
