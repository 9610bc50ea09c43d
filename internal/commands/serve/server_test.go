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

package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/windtunnel/internal/artifact"
)

func seedRun(t *testing.T, dir, runID string) *artifact.Store {
	t.Helper()
	store := artifact.New(runID, dir, artifact.WithSUTName("shop"), artifact.WithScenarioIDs([]string{"s1"}))
	require.NoError(t, store.Initialize())
	require.NoError(t, store.WriteInstance(artifact.InstanceRecord{
		InstanceID: "inst_a", RunID: runID, CorrelationID: "corr_a", ScenarioID: "s1", Passed: true,
	}))
	require.NoError(t, store.WriteStep(artifact.StepRecord{
		InstanceID: "inst_a", RunID: runID, StepIndex: 0, StepName: "health", StepType: "http",
		Observation: map[string]any{"ok": true, "status_code": 200},
	}))
	return store
}

func newTestServer(t *testing.T, dir string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := httptest.NewServer(NewServer(dir, logger))
	t.Cleanup(server.Close)
	return server
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_ListRuns(t *testing.T) {
	dir := t.TempDir()
	seedRun(t, dir, "run_20260101_000000")
	seedRun(t, dir, "run_20260102_000000")
	server := newTestServer(t, dir)

	var body struct {
		Runs []string `json:"runs"`
	}
	status := getJSON(t, server.URL+"/runs", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"run_20260101_000000", "run_20260102_000000"}, body.Runs)
}

func TestServer_RunDetail(t *testing.T) {
	dir := t.TempDir()
	store := seedRun(t, dir, "run_x")
	_, err := store.Finalize()
	require.NoError(t, err)
	server := newTestServer(t, dir)

	var body struct {
		Manifest artifact.Manifest `json:"manifest"`
		Summary  *artifact.Summary `json:"summary"`
	}
	status := getJSON(t, server.URL+"/runs/run_x", &body)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "run_x", body.Manifest.RunID)
	assert.Equal(t, "shop", body.Manifest.SUTName)
	require.NotNil(t, body.Summary)
	assert.Equal(t, 1, body.Summary.PassCount)
}

func TestServer_RunNotFound(t *testing.T) {
	server := newTestServer(t, t.TempDir())
	var body map[string]any
	status := getJSON(t, server.URL+"/runs/run_missing", &body)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServer_StepsFilteredByInstance(t *testing.T) {
	dir := t.TempDir()
	store := seedRun(t, dir, "run_x")
	require.NoError(t, store.WriteStep(artifact.StepRecord{
		InstanceID: "inst_b", RunID: "run_x", StepIndex: 0, StepName: "health", StepType: "http",
	}))
	server := newTestServer(t, dir)

	var body struct {
		Steps []artifact.StepObservation `json:"steps"`
	}
	status := getJSON(t, server.URL+"/runs/run_x/steps?instance_id=inst_b", &body)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body.Steps, 1)
	assert.Equal(t, "inst_b", body.Steps[0].InstanceID)
}

func TestServer_TailStreamsNewSteps(t *testing.T) {
	dir := t.TempDir()
	store := seedRun(t, dir, "run_x")
	server := newTestServer(t, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/runs/run_x/tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Appended after connect, so it must arrive on the stream.
	require.NoError(t, store.WriteStep(artifact.StepRecord{
		InstanceID: "inst_a", RunID: "run_x", StepIndex: 1, StepName: "confirm", StepType: "http",
	}))

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var record artifact.StepRecord
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &record))
		assert.Equal(t, "confirm", record.StepName)
		assert.Equal(t, 1, record.StepIndex)
		break
	}
}
