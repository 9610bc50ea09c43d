// Package actions executes the three workflow action types against the
// system under test: HTTP requests, wait polling, and assertions. Each
// runner produces an observation that is streamed into the run's
// artifact files, plus any context updates the step extracted.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tombee/windtunnel/internal/expression"
	"github.com/tombee/windtunnel/internal/extract"
	"github.com/tombee/windtunnel/internal/retry"
	"github.com/tombee/windtunnel/pkg/httpclient"
	"github.com/tombee/windtunnel/pkg/observation"
	"github.com/tombee/windtunnel/pkg/scenario"
	"github.com/tombee/windtunnel/pkg/sut"
)

// Context keys the runners read and write. The underscore-prefixed
// keys are engine-internal and not meant to be set from scenario files.
const (
	ContextKeyLastResponse     = "last_response"
	ContextKeyAssertionResults = "_assertion_results"
	ContextKeyLastAssertion    = "_last_assertion"
	ContextKeyScenarioPath     = "_scenario_path"
)

// Runner executes actions against a system under test.
type Runner struct {
	client *http.Client
	logger *slog.Logger
	eval   *expression.Evaluator
}

// NewRunner creates an action runner. A nil client gets the shared
// pooled client; a nil logger gets the process default.
func NewRunner(client *http.Client, logger *slog.Logger) *Runner {
	if client == nil {
		client = httpclient.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, logger: logger, eval: expression.New()}
}

// httpResult is one completed request/response exchange.
type httpResult struct {
	status  int
	headers map[string]string
	body    any
}

func (r *httpResult) ok() bool { return r.status >= 200 && r.status < 300 }

// Request failure kinds, in classification order.
const (
	kindTimeout    = "timeout"
	kindConnection = "connection"
	kindRequest    = "request"
	kindUnexpected = "unexpected"
)

// requestError wraps a transport failure with its classification. The
// rendered message is part of the observation format.
type requestError struct {
	kind  string
	cause error
}

func (e *requestError) Error() string {
	switch e.kind {
	case kindTimeout:
		return fmt.Sprintf("Request timeout: %v", e.cause)
	case kindConnection:
		return fmt.Sprintf("Connection error: %v", e.cause)
	case kindRequest:
		return fmt.Sprintf("Request error: %v", e.cause)
	}
	return fmt.Sprintf("Unexpected error: %v", e.cause)
}

func (e *requestError) Unwrap() error { return e.cause }

// RunHTTP executes an HTTP action, applying the action's retry policy
// when one is configured. Transport failures and non-2xx responses are
// reported through the observation, not the error return; the error
// return is reserved for configuration problems and caller
// cancellation.
func (r *Runner) RunHTTP(ctx context.Context, action scenario.Action, cfg *sut.Config) (*observation.Observation, map[string]any, error) {
	service, err := cfg.Service(action.Service)
	if err != nil {
		return nil, nil, err
	}
	headers := mergeHeaders(cfg.DefaultHeaders, service.Headers, action.Headers)

	var payload []byte
	if action.Body != nil {
		payload, err = json.Marshal(action.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	obs := &observation.Observation{
		Headers:    map[string]string{},
		Errors:     []string{},
		ActionName: action.Name,
		Service:    action.Service,
	}

	retryCfg := retry.Config{MaxAttempts: 1}
	var opts retry.Options[*httpResult]
	if spec := action.Retry; spec != nil {
		retryCfg = retryConfig(spec)
		opts.IsRetryable = func(err error) bool {
			var reqErr *requestError
			if !errors.As(err, &reqErr) {
				return false
			}
			switch reqErr.kind {
			case kindTimeout:
				return spec.OnTimeout
			case kindConnection:
				return spec.OnConnectionError
			}
			return false
		}
		if len(spec.OnStatus) > 0 {
			opts.ShouldRetryResult = func(result *httpResult) bool {
				for _, status := range spec.OnStatus {
					if result.status == status {
						return true
					}
				}
				return false
			}
		}
		opts.OnAttempt = func(attempt int, result *httpResult, err error, elapsed time.Duration) {
			record := observation.Attempt{
				Attempt:   attempt,
				LatencyMS: float64(elapsed) / float64(time.Millisecond),
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			}
			if err != nil {
				record.Error = err.Error()
			} else {
				status := result.status
				record.StatusCode = &status
				record.Ok = result.ok()
			}
			obs.Attempts = append(obs.Attempts, record)
		}
	}

	start := time.Now()
	result, execErr := retry.Do(ctx, retryCfg, func(ctx context.Context) (*httpResult, error) {
		return r.doRequest(ctx, service, action.Method, action.Path, headers, action.Query, payload)
	}, opts)
	obs.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)

	if execErr != nil {
		if ctx.Err() != nil {
			return nil, nil, execErr
		}
		obs.Errors = append(obs.Errors, execErr.Error())
		return obs, nil, nil
	}

	status := result.status
	obs.StatusCode = &status
	obs.Headers = result.headers
	obs.Body = result.body
	if result.ok() {
		obs.Ok = true
	} else {
		obs.Errors = append(obs.Errors, fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status)))
	}

	var updates map[string]any
	if obs.Ok && len(action.Extract) > 0 {
		updates = map[string]any{}
		names := make([]string, 0, len(action.Extract))
		for name := range action.Extract {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			path := action.Extract[name]
			value, found := extract.First(obs.Body, path)
			if !found {
				obs.Errors = append(obs.Errors, fmt.Sprintf("JSONPath '%s' did not match any values", path))
				r.logger.Debug("extraction found no matches",
					slog.String("action", action.Name),
					slog.String("variable", name),
					slog.String("path", path))
				continue
			}
			updates[name] = value
		}
	}
	return obs, updates, nil
}

// doRequest performs one request with the service's per-request
// timeout applied, classifying any transport failure.
func (r *Runner) doRequest(ctx context.Context, service sut.Service, method, path string, headers, query map[string]string, payload []byte) (*httpResult, error) {
	timeout := time.Duration(service.TimeoutSeconds * float64(time.Second))
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := strings.TrimRight(service.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, body)
	if err != nil {
		return nil, &requestError{kind: kindRequest, cause: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(query) > 0 {
		values := req.URL.Query()
		for k, v := range query {
			values.Set(k, v)
		}
		req.URL.RawQuery = values.Encode()
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	flat := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		flat[name] = resp.Header.Get(name)
	}
	return &httpResult{status: resp.StatusCode, headers: flat, body: decodeBody(raw)}, nil
}

// decodeBody parses JSON payloads and leaves everything else as text.
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		return decoded
	}
	return string(raw)
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &requestError{kind: kindTimeout, cause: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &requestError{kind: kindTimeout, cause: err}
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return &requestError{kind: kindConnection, cause: err}
		}
		return &requestError{kind: kindRequest, cause: err}
	}
	return &requestError{kind: kindUnexpected, cause: err}
}

func retryConfig(spec *scenario.RetryConfig) retry.Config {
	cfg := retry.Config{MaxAttempts: spec.MaxAttempts}
	if spec.Backoff == scenario.BackoffFixed {
		cfg.Strategy = retry.Fixed
		cfg.Delay = time.Duration(spec.DelayMS) * time.Millisecond
	} else {
		cfg.Strategy = retry.Exponential
		cfg.Delay = time.Duration(spec.BaseDelayMS) * time.Millisecond
		cfg.MaxDelay = time.Duration(spec.MaxDelayMS) * time.Millisecond
	}
	return cfg
}

// mergeHeaders overlays header maps left to right.
func mergeHeaders(layers ...map[string]string) map[string]string {
	merged := map[string]string{}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
