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

// Package extract binds named values out of structured response bodies
// using JSONPath expressions.
package extract

import (
	"log/slog"

	"github.com/ohler55/ojg/jp"
)

// Values evaluates each path in the extraction map against data and
// returns the bound values. Semantics:
//   - a path matching one or more nodes binds the first match,
//   - a path matching nothing is skipped (not an error here; the HTTP
//     runner reports expected-but-missing extractions separately),
//   - a syntactically invalid path is skipped with a warning.
func Values(logger *slog.Logger, data any, paths map[string]string) map[string]any {
	extracted := map[string]any{}

	switch data.(type) {
	case map[string]any, []any:
	default:
		return extracted
	}

	for name, path := range paths {
		expr, err := jp.ParseString(path)
		if err != nil {
			if logger != nil {
				logger.Warn("malformed JSONPath expression",
					slog.String("path", path),
					slog.String("variable", name),
					slog.Any("error", err))
			}
			continue
		}
		matches := expr.Get(data)
		if len(matches) == 0 {
			if logger != nil {
				logger.Debug("JSONPath found no matches",
					slog.String("path", path),
					slog.String("variable", name))
			}
			continue
		}
		extracted[name] = matches[0]
	}

	return extracted
}

// First evaluates one path and returns the first match, reporting
// whether anything matched. Invalid paths report no match.
func First(data any, path string) (any, bool) {
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, false
	}
	matches := expr.Get(data)
	if len(matches) == 0 {
		return nil, false
	}
	return matches[0], true
}

// ValidPath reports whether the path parses.
func ValidPath(path string) bool {
	_, err := jp.ParseString(path)
	return err == nil
}
