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

package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/tombee/windtunnel/internal/artifact"
)

// RenderSummary formats a run summary for the console.
func RenderSummary(s *artifact.Summary) string {
	var b strings.Builder

	b.WriteString(Header.Render("Run "+s.RunID) + "\n")
	b.WriteString(RenderStatus(s.FailCount == 0 && s.ErrorCount == 0, verdict(s)))
	b.WriteString(fmt.Sprintf("  %d/%d instances passed (%.1f%%)\n", s.PassCount, s.TotalInstances, s.PassRate))

	if s.ErrorCount > 0 {
		b.WriteString(RenderError(fmt.Sprintf("%d instance(s) errored", s.ErrorCount)) + "\n")
	}
	b.WriteString(fmt.Sprintf("%s %d steps, %d assertions (%d passed, %d failed)\n",
		RenderLabel("recorded:"), s.TotalSteps, s.TotalAssertions, s.AssertionsPassed, s.AssertionsFailed))
	b.WriteString(fmt.Sprintf("%s %s\n", RenderLabel("duration:"),
		(time.Duration(s.DurationMS) * time.Millisecond).Round(time.Millisecond)))

	return b.String()
}

func verdict(s *artifact.Summary) string {
	if s.FailCount == 0 && s.ErrorCount == 0 {
		return "PASS"
	}
	return "FAIL"
}
