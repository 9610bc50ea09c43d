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

// Package artifact persists run output: a manifest, append-only JSONL
// record streams for instances, steps, and assertions, per-instance
// side files, and a final summary. Records are self-describing so
// readers never need cross-file joins to attribute a line.
package artifact

import "time"

// Format version written into every manifest.
const Version = "1"

// RunConfig is the configuration snapshot stored in the manifest.
type RunConfig struct {
	Seed           int64   `json:"seed"`
	Concurrency    int     `json:"concurrency"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// Manifest describes a run; written once at initialization.
type Manifest struct {
	RunID       string    `json:"run_id"`
	Timestamp   time.Time `json:"timestamp"`
	SUTName     string    `json:"sut_name"`
	ScenarioIDs []string  `json:"scenario_ids"`
	Seed        int64     `json:"seed"`
	Config      RunConfig `json:"config"`
	Version     string    `json:"version"`
}

// InstanceRecord is one line of instances.jsonl.
type InstanceRecord struct {
	InstanceID    string         `json:"instance_id"`
	RunID         string         `json:"run_id"`
	CorrelationID string         `json:"correlation_id"`
	ScenarioID    string         `json:"scenario_id"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   time.Time      `json:"completed_at"`
	DurationMS    float64        `json:"duration_ms"`
	Passed        bool           `json:"passed"`
	EntryData     map[string]any `json:"entry_data"`
	Error         string         `json:"error,omitempty"`
}

// StepRecord is one line of steps.jsonl. Observation holds the typed
// observation produced by the action runner.
type StepRecord struct {
	InstanceID    string    `json:"instance_id"`
	RunID         string    `json:"run_id"`
	CorrelationID string    `json:"correlation_id"`
	StepIndex     int       `json:"step_index"`
	StepName      string    `json:"step_name"`
	StepType      string    `json:"step_type"`
	Timestamp     time.Time `json:"timestamp"`
	Observation   any       `json:"observation"`
}

// AssertionRecord is one line of assertions.jsonl.
type AssertionRecord struct {
	InstanceID    string    `json:"instance_id"`
	RunID         string    `json:"run_id"`
	CorrelationID string    `json:"correlation_id"`
	StepIndex     int       `json:"step_index"`
	AssertionName string    `json:"assertion_name"`
	Passed        bool      `json:"passed"`
	Expected      any       `json:"expected"`
	Actual        any       `json:"actual"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// Summary aggregates a finished run; written atomically at finalize.
type Summary struct {
	RunID            string    `json:"run_id"`
	CompletedAt      time.Time `json:"completed_at"`
	TotalInstances   int       `json:"total_instances"`
	PassCount        int       `json:"pass_count"`
	FailCount        int       `json:"fail_count"`
	ErrorCount       int       `json:"error_count"`
	PassRate         float64   `json:"pass_rate"`
	DurationMS       float64   `json:"duration_ms"`
	TotalSteps       int       `json:"total_steps"`
	TotalAssertions  int       `json:"total_assertions"`
	AssertionsPassed int       `json:"assertions_passed"`
	AssertionsFailed int       `json:"assertions_failed"`
}
