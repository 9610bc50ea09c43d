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

// Package serve implements the windtunnel serve command, a read-only
// HTTP view over a runs directory.
package serve

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/windtunnel/internal/commands/shared"
	"github.com/tombee/windtunnel/internal/log"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var (
		addr    string
		runsDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run artifacts over HTTP",
		Long: `Serve exposes a read-only HTTP API over a runs directory:

  GET /runs                      list run ids
  GET /runs/{id}                 manifest and summary
  GET /runs/{id}/instances       instance records
  GET /runs/{id}/steps           step records (?instance_id= to filter)
  GET /runs/{id}/assertions      assertion records (?instance_id= to filter)
  GET /runs/{id}/tail            live step records as server-sent events

The tail endpoint streams records appended after the client connects,
so it can follow a run that is still executing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(runsDir); err != nil {
				return shared.NewConfigError("runs directory not accessible", err)
			}
			logger := log.New(log.FromEnv())

			server := &http.Server{
				Addr:              addr,
				Handler:           NewServer(runsDir, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("serving run artifacts", "addr", addr, "runs_dir", runsDir)
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return shared.NewConfigError("server failed", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info("shutting down")
			if err := server.Shutdown(shutdownCtx); err != nil {
				return shared.NewConfigError("shutdown failed", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8090", "Address to listen on")
	cmd.Flags().StringVarP(&runsDir, "output", "o", "./runs", "Directory holding run artifacts")

	return cmd
}
