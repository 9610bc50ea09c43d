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

// Package report implements the windtunnel report command.
package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/windtunnel/internal/artifact"
	"github.com/tombee/windtunnel/internal/commands/shared"
	"github.com/tombee/windtunnel/internal/jq"
)

// NewCommand creates the report command.
func NewCommand() *cobra.Command {
	var (
		runsDir    string
		records    string
		instanceID string
		jqExpr     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Summarize a recorded run",
		Long: `Report reads the artifacts of a finished run and prints its summary.
With no run id the most recent run in the output directory is used.

--records selects a raw record stream (instances, steps, assertions)
instead of the summary; --jq applies a jq filter to whatever was
selected and prints the result as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := resolveRunID(runsDir, args)
			if err != nil {
				return err
			}

			data, err := loadData(runsDir, runID, records, instanceID)
			if err != nil {
				return shared.NewConfigError("reading run artifacts", err)
			}

			if jqExpr != "" {
				filter, err := jq.Compile(jqExpr, 0)
				if err != nil {
					return shared.NewConfigError("invalid --jq filter", err)
				}
				filtered, err := filter.Apply(cmd.Context(), toJSONValue(data))
				if err != nil {
					return shared.NewConfigError("applying --jq filter", err)
				}
				return printJSON(filtered)
			}

			if records == "" && !jsonOutput {
				summary := data.(*artifact.Summary)
				fmt.Print(shared.RenderSummary(summary))
				return nil
			}
			return printJSON(data)
		},
	}

	cmd.Flags().StringVarP(&runsDir, "output", "o", "./runs", "Directory holding run artifacts")
	cmd.Flags().StringVar(&records, "records", "", "Record stream to print: instances, steps, or assertions")
	cmd.Flags().StringVar(&instanceID, "instance", "", "Restrict steps/assertions to one instance")
	cmd.Flags().StringVar(&jqExpr, "jq", "", "jq filter to apply to the selected data")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the summary as JSON")

	return cmd
}

func resolveRunID(runsDir string, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	runs, err := artifact.ListRuns(runsDir)
	if err != nil {
		return "", shared.NewConfigError("listing runs", err)
	}
	if len(runs) == 0 {
		return "", shared.NewConfigError("no runs found", fmt.Errorf("directory %s holds no run artifacts", runsDir))
	}
	// Run ids are timestamped, so lexical order is chronological.
	return runs[len(runs)-1], nil
}

func loadData(runsDir, runID, records, instanceID string) (any, error) {
	switch records {
	case "":
		return artifact.ReadSummary(runsDir, runID)
	case "instances":
		return artifact.ReadInstances(runsDir, runID)
	case "steps":
		return artifact.ReadSteps(runsDir, runID, instanceID)
	case "assertions":
		return artifact.ReadAssertions(runsDir, runID, instanceID)
	default:
		return nil, fmt.Errorf("unknown record stream %q (want instances, steps, or assertions)", records)
	}
}

// toJSONValue round-trips typed records through JSON so jq filters see
// the same shapes the artifact files hold.
func toJSONValue(data any) any {
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return data
	}
	return value
}

func printJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
