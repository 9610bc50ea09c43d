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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store owns one run directory under the artifacts base path.
type Store struct {
	runID    string
	basePath string
	runPath  string

	sutName     string
	scenarioIDs []string
	seed        int64
	config      RunConfig

	instances  *lineWriter
	steps      *lineWriter
	assertions *lineWriter

	mu          sync.Mutex
	initialized bool
	startedAt   time.Time

	totalInstances   int
	passCount        int
	failCount        int
	errorCount       int
	totalSteps       int
	totalAssertions  int
	assertionsPassed int
	assertionsFailed int
}

// Option configures a Store.
type Option func(*Store)

// WithSUTName records the SUT name in the manifest.
func WithSUTName(name string) Option {
	return func(s *Store) { s.sutName = name }
}

// WithScenarioIDs records the executed scenario ids in the manifest.
func WithScenarioIDs(ids []string) Option {
	return func(s *Store) { s.scenarioIDs = ids }
}

// WithSeed records the run seed in the manifest.
func WithSeed(seed int64) Option {
	return func(s *Store) { s.seed = seed }
}

// WithConfig records the run configuration snapshot in the manifest.
func WithConfig(config RunConfig) Option {
	return func(s *Store) { s.config = config }
}

// New creates a store for the given run. basePath defaults to "runs".
func New(runID, basePath string, opts ...Option) *Store {
	if basePath == "" {
		basePath = "runs"
	}
	s := &Store{
		runID:    runID,
		basePath: basePath,
		runPath:  filepath.Join(basePath, runID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunID returns the run identifier.
func (s *Store) RunID() string { return s.runID }

// RunPath returns the run directory.
func (s *Store) RunPath() string { return s.runPath }

// Initialize creates the run directory, writes the manifest, and opens
// the append-only record files. Calling it again is a no-op.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	if err := os.MkdirAll(filepath.Join(s.runPath, "artifacts"), 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	s.startedAt = time.Now().UTC()
	manifest := Manifest{
		RunID:       s.runID,
		Timestamp:   s.startedAt,
		SUTName:     s.sutName,
		ScenarioIDs: s.scenarioIDs,
		Seed:        s.seed,
		Config:      s.config,
		Version:     Version,
	}
	if err := writeJSONFile(filepath.Join(s.runPath, "manifest.json"), manifest); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	var err error
	if s.instances, err = openLineWriter(filepath.Join(s.runPath, "instances.jsonl")); err != nil {
		return err
	}
	if s.steps, err = openLineWriter(filepath.Join(s.runPath, "steps.jsonl")); err != nil {
		return err
	}
	if s.assertions, err = openLineWriter(filepath.Join(s.runPath, "assertions.jsonl")); err != nil {
		return err
	}

	s.initialized = true
	return nil
}

// WriteInstance appends one instance record.
func (s *Store) WriteInstance(record InstanceRecord) error {
	record.RunID = s.runID

	s.mu.Lock()
	s.totalInstances++
	if record.Error != "" {
		s.errorCount++
	}
	if record.Passed {
		s.passCount++
	} else {
		s.failCount++
	}
	writer := s.instances
	s.mu.Unlock()

	if writer == nil {
		return os.ErrClosed
	}
	return writer.write(record)
}

// WriteStep appends one step record.
func (s *Store) WriteStep(record StepRecord) error {
	record.RunID = s.runID
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.totalSteps++
	writer := s.steps
	s.mu.Unlock()

	if writer == nil {
		return os.ErrClosed
	}
	return writer.write(record)
}

// WriteAssertion appends one assertion record.
func (s *Store) WriteAssertion(record AssertionRecord) error {
	record.RunID = s.runID
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.totalAssertions++
	if record.Passed {
		s.assertionsPassed++
	} else {
		s.assertionsFailed++
	}
	writer := s.assertions
	s.mu.Unlock()

	if writer == nil {
		return os.ErrClosed
	}
	return writer.write(record)
}

// WriteInstanceArtifact writes a per-instance side file under
// artifacts/<instance_id>/<filename>. Maps and slices are written as
// indented JSON, strings and bytes verbatim.
func (s *Store) WriteInstanceArtifact(instanceID, filename string, data any) (string, error) {
	dir := filepath.Join(s.runPath, "artifacts", instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filename)

	var payload []byte
	switch value := data.(type) {
	case string:
		payload = []byte(value)
	case []byte:
		payload = value
	default:
		encoded, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return "", err
		}
		payload = encoded
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Finalize closes the record files and writes summary.json atomically
// via a temp-file rename, so readers never see a torn summary.
func (s *Store) Finalize() (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range []*lineWriter{s.instances, s.steps, s.assertions} {
		if w != nil {
			if err := w.close(); err != nil {
				return nil, err
			}
		}
	}
	s.instances, s.steps, s.assertions = nil, nil, nil

	completedAt := time.Now().UTC()
	var durationMS float64
	if !s.startedAt.IsZero() {
		durationMS = float64(completedAt.Sub(s.startedAt)) / float64(time.Millisecond)
	}
	passRate := 0.0
	if s.totalInstances > 0 {
		passRate = float64(s.passCount) / float64(s.totalInstances) * 100
	}

	summary := &Summary{
		RunID:            s.runID,
		CompletedAt:      completedAt,
		TotalInstances:   s.totalInstances,
		PassCount:        s.passCount,
		FailCount:        s.failCount,
		ErrorCount:       s.errorCount,
		PassRate:         passRate,
		DurationMS:       durationMS,
		TotalSteps:       s.totalSteps,
		TotalAssertions:  s.totalAssertions,
		AssertionsPassed: s.assertionsPassed,
		AssertionsFailed: s.assertionsFailed,
	}

	path := filepath.Join(s.runPath, "summary.json")
	tmp, err := os.CreateTemp(s.runPath, "summary-*.json.tmp")
	if err != nil {
		return nil, err
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summary); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	return summary, nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
