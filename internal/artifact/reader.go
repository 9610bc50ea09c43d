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
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/tombee/windtunnel/pkg/errors"
)

// maxLineSize bounds a single JSONL record during reads (16MB).
const maxLineSize = 16 * 1024 * 1024

// ListRuns returns the run ids under basePath that carry a manifest,
// sorted lexically (run ids embed a UTC timestamp, so this is
// chronological).
func ListRuns(basePath string) ([]string, error) {
	entries, err := os.ReadDir(basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var runs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(basePath, entry.Name(), "manifest.json")); err == nil {
			runs = append(runs, entry.Name())
		}
	}
	sort.Strings(runs)
	return runs, nil
}

// ReadManifest loads a run's manifest.
func ReadManifest(basePath, runID string) (*Manifest, error) {
	var manifest Manifest
	if err := readJSONFile(filepath.Join(basePath, runID, "manifest.json"), &manifest); err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "run", ID: runID}
		}
		return nil, err
	}
	return &manifest, nil
}

// ReadSummary loads a run's summary; a run that has not finalized yet
// has none, which is reported as a NotFoundError.
func ReadSummary(basePath, runID string) (*Summary, error) {
	var summary Summary
	if err := readJSONFile(filepath.Join(basePath, runID, "summary.json"), &summary); err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "summary", ID: runID}
		}
		return nil, err
	}
	return &summary, nil
}

// ReadInstances loads every instance record of a run. Malformed lines
// (for example a partial trailing line after a crash) are skipped.
func ReadInstances(basePath, runID string) ([]InstanceRecord, error) {
	var records []InstanceRecord
	err := readLines(filepath.Join(basePath, runID, "instances.jsonl"), func(line []byte) {
		var record InstanceRecord
		if json.Unmarshal(line, &record) == nil {
			records = append(records, record)
		}
	})
	return records, err
}

// FindInstance locates one instance record in a run.
func FindInstance(basePath, runID, instanceID string) (*InstanceRecord, error) {
	records, err := ReadInstances(basePath, runID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].InstanceID == instanceID {
			return &records[i], nil
		}
	}
	return nil, &errors.NotFoundError{Resource: "instance", ID: instanceID}
}

// StepObservation is a step record read back from disk, with the
// observation left as decoded JSON.
type StepObservation struct {
	InstanceID    string         `json:"instance_id"`
	RunID         string         `json:"run_id"`
	CorrelationID string         `json:"correlation_id"`
	StepIndex     int            `json:"step_index"`
	StepName      string         `json:"step_name"`
	StepType      string         `json:"step_type"`
	Timestamp     string         `json:"timestamp"`
	Observation   map[string]any `json:"observation"`
}

// ReadSteps loads a run's step records, optionally filtered to one
// instance. Malformed lines are skipped.
func ReadSteps(basePath, runID, instanceID string) ([]StepObservation, error) {
	var records []StepObservation
	err := readLines(filepath.Join(basePath, runID, "steps.jsonl"), func(line []byte) {
		var record StepObservation
		if json.Unmarshal(line, &record) != nil {
			return
		}
		if instanceID != "" && record.InstanceID != instanceID {
			return
		}
		records = append(records, record)
	})
	return records, err
}

// ReadAssertions loads a run's assertion records, optionally filtered
// to one instance. Malformed lines are skipped.
func ReadAssertions(basePath, runID, instanceID string) ([]AssertionRecord, error) {
	var records []AssertionRecord
	err := readLines(filepath.Join(basePath, runID, "assertions.jsonl"), func(line []byte) {
		var record AssertionRecord
		if json.Unmarshal(line, &record) != nil {
			return
		}
		if instanceID != "" && record.InstanceID != instanceID {
			return
		}
		records = append(records, record)
	})
	return records, err
}

func readLines(path string, handle func(line []byte)) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		handle(line)
	}
	return scanner.Err()
}

func readJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
