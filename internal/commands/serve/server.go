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

package serve

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tombee/windtunnel/internal/artifact"
	pkgerrors "github.com/tombee/windtunnel/pkg/errors"
)

// Server is a read-only HTTP view over a runs directory.
type Server struct {
	runsDir string
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer builds the artifact server.
func NewServer(runsDir string, logger *slog.Logger) *Server {
	s := &Server{runsDir: runsDir, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /runs", s.handleListRuns)
	s.mux.HandleFunc("GET /runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /runs/{id}/instances", s.handleInstances)
	s.mux.HandleFunc("GET /runs/{id}/steps", s.handleSteps)
	s.mux.HandleFunc("GET /runs/{id}/assertions", s.handleAssertions)
	s.mux.HandleFunc("GET /runs/{id}/tail", s.handleTail)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := artifact.ListRuns(s.runsDir)
	if err != nil {
		s.serveError(w, err)
		return
	}
	if runs == nil {
		runs = []string{}
	}
	s.writeJSON(w, map[string]any{"runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	manifest, err := artifact.ReadManifest(s.runsDir, runID)
	if err != nil {
		s.serveError(w, err)
		return
	}
	response := map[string]any{"manifest": manifest}
	// Summary is absent while the run is still executing.
	if summary, err := artifact.ReadSummary(s.runsDir, runID); err == nil {
		response["summary"] = summary
	}
	s.writeJSON(w, response)
}

func (s *Server) handleInstances(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := artifact.ReadManifest(s.runsDir, runID); err != nil {
		s.serveError(w, err)
		return
	}
	instances, err := artifact.ReadInstances(s.runsDir, runID)
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"instances": instances})
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := artifact.ReadManifest(s.runsDir, runID); err != nil {
		s.serveError(w, err)
		return
	}
	steps, err := artifact.ReadSteps(s.runsDir, runID, r.URL.Query().Get("instance_id"))
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"steps": steps})
}

func (s *Server) handleAssertions(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := artifact.ReadManifest(s.runsDir, runID); err != nil {
		s.serveError(w, err)
		return
	}
	assertions, err := artifact.ReadAssertions(s.runsDir, runID, r.URL.Query().Get("instance_id"))
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"assertions": assertions})
}

// handleTail streams step records appended after the client connects as
// server-sent events.
func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := artifact.ReadManifest(s.runsDir, runID); err != nil {
		s.serveError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	runPath := filepath.Join(s.runsDir, runID)
	stepsPath := filepath.Join(runPath, "steps.jsonl")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.serveError(w, err)
		return
	}
	defer watcher.Close()
	// Watch the run directory: steps.jsonl may not exist yet.
	if err := watcher.Add(runPath); err != nil {
		s.serveError(w, err)
		return
	}

	var offset int64
	if info, err := os.Stat(stepsPath); err == nil {
		offset = info.Size()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != stepsPath || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			next, err := s.streamNewLines(w, stepsPath, offset)
			if err != nil {
				s.logger.Warn("tail read failed", "run_id", runID, "error", err)
				return
			}
			if next != offset {
				offset = next
				flusher.Flush()
			}
		case err, ok := <-watcher.Errors:
			if ok {
				s.logger.Warn("tail watch failed", "run_id", runID, "error", err)
			}
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// streamNewLines emits the complete lines appended past offset as SSE
// data events and returns the new offset. A trailing partial line stays
// unconsumed until its newline arrives.
func (s *Server) streamNewLines(w io.Writer, path string, offset int64) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return offset, err
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return offset, nil
		}
		if err != nil {
			return offset, err
		}
		offset += int64(len(line))
		payload := line[:len(line)-1]
		if len(payload) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return offset, err
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("response encoding failed", "error", err)
	}
}

func (s *Server) serveError(w http.ResponseWriter, err error) {
	var notFound *pkgerrors.NotFoundError
	if errors.As(err, &notFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
