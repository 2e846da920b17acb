package sandbox

import "time"

// Output caps applied at result assembly.
const (
	maxStdoutBytes = 1 << 20    // 1MB
	maxStderrBytes = 256 * 1024 // 256KB
)

// ExecutionResult is what both runners hand back to callers.
//
// ExitCode is a pointer so a deadline kill can report the absence of an exit
// status: nil (JSON null) means the process never reached one. TimedOut is
// the authoritative flag; no numeric stand-in like -1 or 137 is ever used
// for timeouts.
type ExecutionResult struct {
	ExecID    string        `json:"execId"`
	Language  string        `json:"language"` // resolved runtime name, not the raw request value
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  *int          `json:"exitCode"`
	TimedOut  bool          `json:"timedOut"`
	ImageUsed string        `json:"imageUsed,omitempty"` // project mode only
	Duration  time.Duration `json:"-"`
}

// assembleResult folds a terminal supervisor status into the caller-facing
// result. It is pure: no I/O and no clock reads, so every outcome shape is
// unit-testable without running anything.
func assembleResult(execID, language, image string, status Status) *ExecutionResult {
	res := &ExecutionResult{
		ExecID:    execID,
		Language:  language,
		Stdout:    truncateOutput(status.Stdout, maxStdoutBytes),
		Stderr:    truncateOutput(status.Stderr, maxStderrBytes),
		TimedOut:  status.TimedOut,
		ImageUsed: image,
		Duration:  status.Duration,
	}
	if !status.TimedOut {
		code := status.ExitCode
		res.ExitCode = &code
	}
	return res
}

func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n... [output truncated]"
}
