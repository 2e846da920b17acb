package api

// Request bodies decode straight into sandbox.ExecuteRequest and
// sandbox.ProjectRequest. Execution policy is fixed server-side, so there
// are no per-request timeout or resource knobs to model here.

// ExecuteResponse is the API-level result of one execution, in either mode.
// ExitCode is null when the run was killed at the deadline.
type ExecuteResponse struct {
	ExecID         string          `json:"execId"`
	Language       string          `json:"language"`
	Stdout         string          `json:"stdout"`
	Stderr         string          `json:"stderr"`
	ExitCode       *int            `json:"exitCode"`
	TimedOut       bool            `json:"timedOut"`
	ImageUsed      string          `json:"imageUsed,omitempty"`
	DurationMS     int64           `json:"durationMs"`
	SecurityEvents []SecurityEvent `json:"securityEvents,omitempty"`
}

// SecurityEvent reports one detector hit on submitted code or its output.
// Detections never block execution; they are returned for visibility.
type SecurityEvent struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Engine   bool   `json:"engine"`
	Database bool   `json:"database"`
	Active   int64  `json:"activeExecutions"`
	Uptime   string `json:"uptime"`
}
