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

// Package cli builds the root windtunnel command.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/windtunnel/internal/commands/shared"
)

// Version information (injected via ldflags at build time).
var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c string) {
	version = v
	commit = c
}

// NewRootCommand creates the root Cobra command for windtunnel.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "windtunnel",
		Short: "windtunnel - workflow simulation and fault injection for HTTP services",
		Long: `Windtunnel runs scenario workflows against a system under test,
injecting configurable turbulence (latency, forced timeouts, retry storms)
and recording every observation to an append-only artifact directory.

Run 'windtunnel run --sut sut.yaml --scenarios ./scenarios' to start a run.
Logging is controlled by WINDTUNNEL_LOG_LEVEL and LOG_FORMAT.`,
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}
	return cmd
}

// HandleExitError handles exit errors with proper exit codes.
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
