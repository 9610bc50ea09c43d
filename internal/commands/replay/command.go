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

// Package replay implements the windtunnel replay command.
package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tombee/windtunnel/internal/commands/shared"
	"github.com/tombee/windtunnel/internal/config"
	"github.com/tombee/windtunnel/internal/log"
	"github.com/tombee/windtunnel/pkg/engine"
)

// NewCommand creates the replay command.
func NewCommand() *cobra.Command {
	var (
		runID      string
		instanceID string
		sutPath    string
		scenarios  string
		runsDir    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-execute a recorded instance and diff the observations",
		Long: `Replay loads a recorded instance from a run's artifacts, restores its
identifiers (including the X-Correlation-ID header), re-executes the
scenario flow against the SUT without turbulence, and reports where
the new observations diverge from the recorded ones.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sutCfg, err := config.LoadSUT(sutPath)
			if err != nil {
				return shared.NewConfigError("loading SUT config", err)
			}
			loaded, err := config.LoadScenarios(scenarios)
			if err != nil {
				return shared.NewConfigError("loading scenarios", err)
			}

			result, err := engine.Replay(cmd.Context(), engine.ReplayOptions{
				RunsDir:    runsDir,
				RunID:      runID,
				InstanceID: instanceID,
				SUT:        sutCfg,
				Scenarios:  loaded,
				Logger:     log.New(log.FromEnv()),
			})
			if err != nil {
				return shared.NewConfigError("replay failed", err)
			}

			if jsonOutput {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(result)
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run identifier to replay from (required)")
	cmd.Flags().StringVar(&instanceID, "instance", "", "Instance identifier to replay (required)")
	cmd.Flags().StringVar(&sutPath, "sut", "", "Path to the SUT config YAML (required)")
	cmd.Flags().StringVar(&scenarios, "scenarios", "", "Directory of scenario YAML files (required)")
	cmd.Flags().StringVarP(&runsDir, "output", "o", "./runs", "Directory holding run artifacts")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit the replay result as JSON")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("instance")
	_ = cmd.MarkFlagRequired("sut")
	_ = cmd.MarkFlagRequired("scenarios")

	return cmd
}

func printResult(result *engine.ReplayResult) {
	fmt.Println(shared.Header.Render(fmt.Sprintf("Replay %s / %s", result.RunID, result.InstanceID)))
	fmt.Printf("%s %s  %s %s\n",
		shared.RenderLabel("scenario:"), result.ScenarioID,
		shared.RenderLabel("correlation:"), result.CorrelationID)

	for _, step := range result.Steps {
		marker := shared.RenderOK(step.StepName)
		if step.HasDifference {
			marker = shared.RenderError(step.StepName)
		}
		fmt.Printf("  %2d %s\n", step.StepIndex, marker)
		for _, diff := range step.Differences {
			fmt.Printf("      %s\n", shared.StatusWarn.Render(diff))
		}
	}

	if result.Success && !anyDifference(result) {
		fmt.Println(shared.RenderStatus(true, "MATCH") + " replay matches the recorded observations")
	} else {
		fmt.Println(shared.RenderStatus(false, "DIVERGED") + " replay diverged from the recorded observations")
	}
}

func anyDifference(result *engine.ReplayResult) bool {
	for _, step := range result.Steps {
		if step.HasDifference {
			return true
		}
	}
	return false
}
