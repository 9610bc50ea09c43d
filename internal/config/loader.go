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

// Package config loads SUT and scenario YAML files into their typed
// models. Loading is strict: unknown fields, invalid models, and
// duplicate scenario ids are fatal configuration errors.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/tombee/windtunnel/pkg/errors"
	"github.com/tombee/windtunnel/pkg/scenario"
	"github.com/tombee/windtunnel/pkg/sut"
)

// LoadSUT loads and validates a SUT configuration file.
func LoadSUT(path string) (*sut.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "cannot read SUT config file", Cause: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &errors.ConfigError{Key: path, Reason: "SUT config file is empty"}
	}

	var cfg sut.Config
	if err := strictDecode(data, &cfg); err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "invalid YAML syntax", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "SUT config validation failed", Cause: err}
	}
	return &cfg, nil
}

// LoadScenario loads and validates a single scenario file. The
// returned scenario is annotated with its source path.
func LoadScenario(path string) (*scenario.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "cannot read scenario file", Cause: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &errors.ConfigError{Key: path, Reason: "scenario file is empty"}
	}

	var s scenario.Scenario
	if err := strictDecode(data, &s); err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "invalid YAML syntax", Cause: err}
	}
	if err := s.Validate(); err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "scenario validation failed", Cause: err}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	s.SourcePath = abs
	return &s, nil
}

// LoadScenarios loads every scenario beneath dir, recursively, in
// lexical path order. Duplicate scenario ids across files are a
// configuration error.
func LoadScenarios(dir string) ([]*scenario.Scenario, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &errors.ConfigError{Key: dir, Reason: "scenarios directory not found", Cause: err}
	}
	if !info.IsDir() {
		return nil, &errors.ConfigError{Key: dir, Reason: "scenarios path is not a directory"}
	}

	matches, err := doublestar.Glob(os.DirFS(dir), "**/*.{yaml,yml}")
	if err != nil {
		return nil, &errors.ConfigError{Key: dir, Reason: "scenario glob failed", Cause: err}
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, &errors.ConfigError{
			Key:    dir,
			Reason: "no scenario files found",
			Cause:  fmt.Errorf("expected *.yaml or *.yml files under %s", dir),
		}
	}

	var (
		scenarios []*scenario.Scenario
		failures  []string
		seen      = map[string]string{}
	)
	for _, match := range matches {
		path := filepath.Join(dir, match)
		s, err := LoadScenario(path)
		if err != nil {
			failures = append(failures, err.Error())
			continue
		}
		if previous, ok := seen[s.ID]; ok {
			return nil, &errors.ConfigError{
				Key:    path,
				Reason: fmt.Sprintf("duplicate scenario id %q (also defined in %s)", s.ID, previous),
			}
		}
		seen[s.ID] = path
		scenarios = append(scenarios, s)
	}

	if len(failures) > 0 {
		return nil, &errors.ConfigError{
			Key:    dir,
			Reason: fmt.Sprintf("failed to load %d scenario(s)", len(failures)),
			Cause:  fmt.Errorf("%s", strings.Join(failures, "; ")),
		}
	}
	return scenarios, nil
}

// strictDecode unmarshals YAML rejecting unknown fields.
func strictDecode(data []byte, out any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(out)
}
