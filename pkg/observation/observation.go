// Package observation defines the result types produced by action
// execution: observations, per-attempt records, and assertion results.
// These types are streamed verbatim into the run's artifact files, so
// their JSON shape is part of the artifact format.
package observation

// Observation captures the outcome of a single action execution.
type Observation struct {
	// Ok reports whether the action completed successfully. For HTTP
	// actions this reflects only the status code (2xx); the Errors list
	// may still carry non-fatal diagnostics such as extraction misses.
	Ok bool `json:"ok"`

	// StatusCode is the HTTP status code, if a response was received.
	StatusCode *int `json:"status_code"`

	// LatencyMS is the total execution time in milliseconds, including
	// retry sleeps when the action was retried.
	LatencyMS float64 `json:"latency_ms"`

	// Headers are the response headers, if any.
	Headers map[string]string `json:"headers"`

	// Body is the response body: parsed JSON when the payload is
	// JSON-like, raw text otherwise.
	Body any `json:"body"`

	// Errors lists error messages accumulated during execution.
	Errors []string `json:"errors"`

	// ActionName is the name of the action that produced this observation.
	ActionName string `json:"action_name"`

	// Service is the target service name, when applicable.
	Service string `json:"service,omitempty"`

	// Turbulence records injected fault details, if turbulence applied.
	Turbulence *TurbulenceInfo `json:"turbulence,omitempty"`

	// Attempts records each try for HTTP actions executed under a
	// retry policy, in attempt order.
	Attempts []Attempt `json:"attempts,omitempty"`
}

// Attempt is one try of an HTTP action under a retry policy.
type Attempt struct {
	Attempt    int     `json:"attempt"`
	StatusCode *int    `json:"status_code"`
	Ok         bool    `json:"ok"`
	LatencyMS  float64 `json:"latency_ms"`
	Timestamp  string  `json:"timestamp"`
	Error      string  `json:"error,omitempty"`
}

// PollAttempt is one poll of a wait action.
type PollAttempt struct {
	// AttemptNumber is 1-based.
	AttemptNumber int `json:"attempt_number"`

	// TimestampMS is milliseconds from the start of the wait action.
	TimestampMS float64 `json:"timestamp_ms"`

	LatencyMS  float64 `json:"latency_ms"`
	StatusCode *int    `json:"status_code"`
	Body       any     `json:"body"`

	// ConditionMet reports whether the expectation held on this poll.
	ConditionMet bool `json:"condition_met"`

	Error string `json:"error,omitempty"`
}

// WaitObservation extends Observation with the poll attempt log.
type WaitObservation struct {
	Observation

	// Attempts lists every poll made during the wait, shadowing the
	// embedded HTTP attempt list in the serialized record.
	Attempts []PollAttempt `json:"attempts"`

	TotalAttempts int  `json:"total_attempts"`
	TimedOut      bool `json:"timed_out"`
}

// TurbulenceInfo records the faults injected around an action.
type TurbulenceInfo struct {
	Service        string              `json:"service"`
	Action         string              `json:"action"`
	RetryCount     int                 `json:"retry_count"`
	TimeoutAfterMS *int                `json:"timeout_after_ms"`
	LatencyMS      *int                `json:"latency_ms"`
	Attempts       []TurbulenceAttempt `json:"attempts"`
}

// TurbulenceAttempt is one attempt of a retry storm.
type TurbulenceAttempt struct {
	Ok                bool     `json:"ok"`
	StatusCode        *int     `json:"status_code"`
	LatencyMS         float64  `json:"latency_ms"`
	InjectedLatencyMS *int     `json:"injected_latency_ms"`
	Errors            []string `json:"errors"`
}

// AssertionResult is the outcome of a single assertion evaluation.
type AssertionResult struct {
	// Name identifies the assertion for reporting.
	Name string `json:"name"`

	// Passed reports whether the assertion held.
	Passed bool `json:"passed"`

	// Expected is the value the assertion compared against.
	Expected any `json:"expected"`

	// Actual is the value found during evaluation.
	Actual any `json:"actual"`

	// Message is a human-readable description of the outcome.
	Message string `json:"message"`

	// Path is the JSONPath or context path that was evaluated, if any.
	Path string `json:"path,omitempty"`

	// Comparison tags how the values were compared
	// (equals, contains, status_code, schema, expression).
	Comparison string `json:"comparison,omitempty"`
}
