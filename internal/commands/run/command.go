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

// Package run implements the windtunnel run command.
package run

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/windtunnel/internal/commands/shared"
	"github.com/tombee/windtunnel/internal/config"
	"github.com/tombee/windtunnel/internal/log"
	"github.com/tombee/windtunnel/pkg/engine"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		sutPath      string
		scenariosDir string
		outputDir    string
		runID        string
		instances    int
		parallelism  int
		seed         int64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute scenario instances against a system under test",
		Long: `Run executes N instances of the loaded scenarios against the SUT,
writing observations to <output>/<run-id>/.

A first SIGINT stops scheduling new instances and lets in-flight
instances finish; a second SIGINT aborts immediately.

Exit code is 0 whenever the run completes, including runs with failed
instances; only configuration and IO errors exit nonzero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sutCfg, err := config.LoadSUT(sutPath)
			if err != nil {
				return shared.NewConfigError("loading SUT config", err)
			}
			scenarios, err := config.LoadScenarios(scenariosDir)
			if err != nil {
				return shared.NewConfigError("loading scenarios", err)
			}

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			eng, err := engine.New(sutCfg, scenarios, engine.Options{
				RunID:       runID,
				OutputDir:   outputDir,
				Instances:   instances,
				Parallelism: parallelism,
				Seed:        seed,
				Logger:      log.New(log.FromEnv()),
				ProgressOut: os.Stdout,
			})
			if err != nil {
				return shared.NewConfigError("invalid run configuration", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "\ninterrupted: finishing in-flight instances (press Ctrl-C again to abort)")
				eng.Cancel()
				// The next SIGINT gets default handling.
				signal.Stop(sigCh)
			}()

			result, err := eng.Run(cmd.Context())
			if err != nil {
				return shared.NewConfigError("run failed", err)
			}

			fmt.Println()
			fmt.Print(shared.RenderSummary(result.Summary))
			if result.Stats.Cancelled > 0 {
				fmt.Println(shared.RenderLabel(fmt.Sprintf("cancelled: %d instance(s) never started", result.Stats.Cancelled)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sutPath, "sut", "", "Path to the SUT config YAML (required)")
	cmd.Flags().StringVar(&scenariosDir, "scenarios", "", "Directory of scenario YAML files (required)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "./runs", "Directory to write run artifacts into")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: run_YYYYMMDD_HHMMSS)")
	cmd.Flags().IntVar(&instances, "n", 1, "Number of workflow instances to execute")
	cmd.Flags().IntVarP(&parallelism, "parallel", "p", 10, "Maximum concurrent instances")
	cmd.Flags().Int64Var(&seed, "seed", 0, "PRNG seed for variation and turbulence (default: time-based)")
	_ = cmd.MarkFlagRequired("sut")
	_ = cmd.MarkFlagRequired("scenarios")

	return cmd
}
