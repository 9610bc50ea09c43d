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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("run started", slog.String(RunIDKey, "run_20260101_000000"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run started", entry["msg"])
	assert.Equal(t, "run_20260101_000000", entry[RunIDKey])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatJSON, Output: &buf})

	logger.Info("should be dropped")
	assert.Empty(t, buf.String())

	logger.Warn("should be kept")
	assert.Contains(t, buf.String(), "should be kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestFromEnv_Debug(t *testing.T) {
	t.Setenv("WINDTUNNEL_DEBUG", "1")
	cfg := FromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)
}

func TestFromEnv_LevelPrecedence(t *testing.T) {
	t.Setenv("WINDTUNNEL_DEBUG", "")
	t.Setenv("WINDTUNNEL_LOG_LEVEL", "error")
	t.Setenv("LOG_LEVEL", "debug")
	cfg := FromEnv()
	assert.Equal(t, "error", cfg.Level)
}

func TestDuration_KeyUsedVerbatim(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("run completed", Duration("duration_ms", 125.5))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, 125.5, entry["duration_ms"])
	assert.NotContains(t, entry, "duration_ms_ms")
}

func TestWithInstanceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithInstanceContext(logger, "run_1", "inst_1", "corr_1").Info("step executed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run_1", entry[RunIDKey])
	assert.Equal(t, "inst_1", entry[InstanceIDKey])
	assert.Equal(t, "corr_1", entry[CorrelationIDKey])
}
