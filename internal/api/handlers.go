package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"untrusted-code-sandbox/internal/monitor"
	"untrusted-code-sandbox/internal/sandbox"
	"untrusted-code-sandbox/internal/storage"
)

// Executor is the execution engine surface the API consumes. The concrete
// implementation is sandbox.Runner; handler tests substitute a stub so the
// HTTP contract is checked without spawning processes.
type Executor interface {
	Execute(ctx context.Context, req sandbox.ExecuteRequest) (*sandbox.ExecutionResult, error)
	ExecuteProject(ctx context.Context, req sandbox.ProjectRequest) (*sandbox.ExecutionResult, error)
	ActiveCount() int64
}

type Handlers struct {
	runner      Executor
	db          *storage.DB
	auditWriter *storage.AuditWriter
	metrics     *monitor.Metrics
	detector    *monitor.Detector
}

func NewHandlers(runner Executor, db *storage.DB, auditWriter *storage.AuditWriter, metrics *monitor.Metrics) *Handlers {
	return &Handlers{
		runner:      runner,
		db:          db,
		auditWriter: auditWriter,
		metrics:     metrics,
		detector:    monitor.NewDetector(),
	}
}

// HandleExecute runs a single file with the host interpreter for its
// language. No language, or an unrecognized one, runs as JavaScript.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	var req sandbox.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.runner == nil {
		writeError(w, "execution runner unavailable", "RUNNER_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	h.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))
	detections := h.scanCode(req.Code)

	h.metrics.ActiveExecutions.Inc()
	defer h.metrics.ActiveExecutions.Dec()

	start := time.Now()
	result, err := h.runner.Execute(r.Context(), req)
	h.finish(w, r, sandbox.ModeDirect, hashCode(req.Code), detections, result, err, start)
}

// HandleExecuteProject runs a multi-file payload inside a transient
// container.
func (h *Handlers) HandleExecuteProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	var req sandbox.ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.runner == nil {
		writeError(w, "execution runner unavailable", "RUNNER_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	var total int
	var detections []monitor.Detection
	for _, f := range req.Files {
		total += len(f.Content)
		detections = append(detections, h.scanCode(f.Content)...)
	}
	h.metrics.CodeSizeBytes.Observe(float64(total))

	h.metrics.ActiveExecutions.Inc()
	defer h.metrics.ActiveExecutions.Dec()

	start := time.Now()
	result, err := h.runner.ExecuteProject(r.Context(), req)
	h.finish(w, r, sandbox.ModeProject, hashProject(req.Files), detections, result, err, start)
}

// finish is the shared tail of both execute handlers: map errors, scan
// output, emit metrics, enqueue the audit row, write the response.
func (h *Handlers) finish(w http.ResponseWriter, r *http.Request, mode, codeHash string, detections []monitor.Detection, result *sandbox.ExecutionResult, err error, start time.Time) {
	duration := time.Since(start)

	if err != nil {
		h.writeExecutionError(w, r, err)
		return
	}

	detections = append(detections, h.scanOutput(result.Stdout, result.Stderr)...)

	status := storage.StatusCompleted
	if result.TimedOut {
		status = storage.StatusTimeout
	}
	h.metrics.RecordExecution(mode, result.Language, status, duration.Seconds())
	h.metrics.OutputSizeBytes.Observe(float64(len(result.Stdout) + len(result.Stderr)))

	resp := ExecuteResponse{
		ExecID:     result.ExecID,
		Language:   result.Language,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ExitCode:   result.ExitCode,
		TimedOut:   result.TimedOut,
		ImageUsed:  result.ImageUsed,
		DurationMS: result.Duration.Milliseconds(),
	}
	for _, d := range detections {
		resp.SecurityEvents = append(resp.SecurityEvents, SecurityEvent{
			Pattern:  d.Pattern,
			Severity: d.Severity,
			Detail:   d.Detail,
		})
	}

	h.logAudit(result, mode, codeHash, status, detections, start, r)

	writeJSON(w, http.StatusOK, resp)
}

// writeExecutionError maps the sandbox error taxonomy onto HTTP statuses.
// Validation problems echo their detail; infrastructure problems do not.
func (h *Handlers) writeExecutionError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := RequestIDFromContext(r.Context())
	switch {
	case errors.Is(err, sandbox.ErrInvalidInput):
		h.metrics.RecordError("validation")
		writeError(w, err.Error(), "INVALID_INPUT", http.StatusBadRequest, r)
	case errors.Is(err, sandbox.ErrSpawn):
		h.metrics.RecordError("spawn")
		log.Error().Err(err).Str("request_id", reqID).Msg("spawn failed")
		writeError(w, "failed to start execution", "SPAWN_FAILED", http.StatusServiceUnavailable, r)
	case errors.Is(err, sandbox.ErrClosed):
		h.metrics.RecordError("shutdown")
		writeError(w, "server is shutting down", "SHUTTING_DOWN", http.StatusServiceUnavailable, r)
	case errors.Is(err, sandbox.ErrResource):
		h.metrics.RecordError("resource")
		log.Error().Err(err).Str("request_id", reqID).Msg("execution infrastructure failure")
		writeError(w, "execution infrastructure failure", "RESOURCE", http.StatusInternalServerError, r)
	default:
		h.metrics.RecordError("internal")
		log.Error().Err(err).Str("request_id", reqID).Msg("execution failed")
		writeError(w, "execution failed", "INTERNAL", http.StatusInternalServerError, r)
	}
}

func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	exec, err := h.db.GetExecution(r.Context(), id)
	if err != nil {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.ExecutionFilter{
		Mode:     r.URL.Query().Get("mode"),
		Language: r.URL.Query().Get("language"),
		Status:   r.URL.Query().Get("status"),
		Limit:    100,
	}

	execs, err := h.db.ListExecutions(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, execs)
}

func (h *Handlers) scanCode(code string) []monitor.Detection {
	detections := h.detector.Scan(code)
	for _, d := range detections {
		h.metrics.RecordEscapeAttempt(d.Pattern)
	}
	return detections
}

func (h *Handlers) scanOutput(stdout, stderr string) []monitor.Detection {
	detections := h.detector.ScanOutput(stdout + stderr)
	for _, d := range detections {
		h.metrics.RecordEscapeAttempt(d.Pattern)
	}
	return detections
}

func (h *Handlers) logAudit(result *sandbox.ExecutionResult, mode, codeHash, status string, detections []monitor.Detection, start time.Time, r *http.Request) {
	if h.auditWriter == nil {
		return
	}

	events := make([]*storage.SecurityEventRecord, 0, len(detections))
	for _, d := range detections {
		events = append(events, &storage.SecurityEventRecord{
			Pattern:  d.Pattern,
			Severity: d.Severity,
			Detail:   d.Detail,
			Line:     d.Line,
		})
	}

	completedAt := time.Now()
	h.auditWriter.Log(&storage.Execution{
		ID:             result.ExecID,
		Mode:           mode,
		Language:       result.Language,
		Image:          result.ImageUsed,
		CodeHash:       codeHash,
		ExitCode:       result.ExitCode,
		TimedOut:       result.TimedOut,
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		DurationMS:     result.Duration.Milliseconds(),
		SecurityEvents: len(detections),
		Status:         status,
		RequestIP:      r.RemoteAddr,
		CreatedAt:      start,
		CompletedAt:    &completedAt,
	}, events...)
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func hashProject(files []sandbox.ProjectFile) string {
	hsh := sha256.New()
	for _, f := range files {
		hsh.Write([]byte(f.Path))
		hsh.Write([]byte{0})
		hsh.Write([]byte(f.Content))
		hsh.Write([]byte{0})
	}
	return hex.EncodeToString(hsh.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
