package storage

import "time"

// Execution is one audit row: what ran, how it ended, and what it printed.
// ExitCode is nil for runs that hit the deadline, mirroring the wire format.
type Execution struct {
	ID             string     `json:"id" db:"id"`
	Mode           string     `json:"mode" db:"mode"` // direct or project
	Language       string     `json:"language" db:"language"`
	Image          string     `json:"image,omitempty" db:"image"`
	CodeHash       string     `json:"code_hash" db:"code_hash"`
	ExitCode       *int       `json:"exit_code" db:"exit_code"`
	TimedOut       bool       `json:"timed_out" db:"timed_out"`
	Stdout         string     `json:"stdout" db:"stdout"`
	Stderr         string     `json:"stderr" db:"stderr"`
	DurationMS     int64      `json:"duration_ms" db:"duration_ms"`
	SecurityEvents int        `json:"security_events" db:"security_events"`
	Status         string     `json:"status" db:"status"` // completed, timeout, error
	RequestIP      string     `json:"request_ip" db:"request_ip"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Execution statuses.
const (
	StatusCompleted = "completed"
	StatusTimeout   = "timeout"
	StatusError     = "error"
)

// SecurityEventRecord stores one detector hit for audit.
type SecurityEventRecord struct {
	ID          string    `json:"id" db:"id"`
	ExecutionID string    `json:"execution_id" db:"execution_id"`
	Pattern     string    `json:"pattern" db:"pattern"`
	Severity    string    `json:"severity" db:"severity"`
	Detail      string    `json:"detail" db:"detail"`
	Line        int       `json:"line,omitempty" db:"line"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ExecutionFilter provides criteria for querying executions.
type ExecutionFilter struct {
	Mode     string
	Language string
	Status   string
	Limit    int
	Offset   int
}
