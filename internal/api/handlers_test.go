package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"untrusted-code-sandbox/internal/monitor"
	"untrusted-code-sandbox/internal/sandbox"
)

// stubRunner implements Executor for handler tests.
type stubRunner struct {
	result *sandbox.ExecutionResult
	err    error

	gotExecute *sandbox.ExecuteRequest
	gotProject *sandbox.ProjectRequest
}

func (s *stubRunner) Execute(_ context.Context, req sandbox.ExecuteRequest) (*sandbox.ExecutionResult, error) {
	s.gotExecute = &req
	return s.result, s.err
}

func (s *stubRunner) ExecuteProject(_ context.Context, req sandbox.ProjectRequest) (*sandbox.ExecutionResult, error) {
	s.gotProject = &req
	return s.result, s.err
}

func (s *stubRunner) ActiveCount() int64 { return 0 }

func newTestHandlers(runner Executor) *Handlers {
	return &Handlers{
		runner:   runner,
		metrics:  monitor.NewMetrics(),
		detector: monitor.NewDetector(),
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleExecute_Success(t *testing.T) {
	exitCode := 0
	h := newTestHandlers(&stubRunner{
		result: &sandbox.ExecutionResult{
			ExecID:   "test-id",
			Language: "python",
			Stdout:   "hello world\n",
			ExitCode: &exitCode,
			Duration: 150 * time.Millisecond,
		},
	})

	rec := postJSON(t, h.HandleExecute, "/execute", sandbox.ExecuteRequest{
		Language: "python",
		Code:     "print('hello world')",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp ExecuteResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ExecID != "test-id" {
		t.Errorf("ExecID = %q, want %q", resp.ExecID, "test-id")
	}
	if resp.Stdout != "hello world\n" {
		t.Errorf("Stdout = %q, want %q", resp.Stdout, "hello world\n")
	}
	if resp.ExitCode == nil || *resp.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", resp.ExitCode)
	}
	if resp.TimedOut {
		t.Error("TimedOut = true, want false")
	}
}

func TestHandleExecute_TimeoutHasNullExitCode(t *testing.T) {
	h := newTestHandlers(&stubRunner{
		result: &sandbox.ExecutionResult{
			ExecID:   "test-id",
			Language: "python",
			Stdout:   "partial",
			TimedOut: true,
		},
	})

	rec := postJSON(t, h.HandleExecute, "/execute", sandbox.ExecuteRequest{
		Language: "python",
		Code:     "while True: pass",
	})

	// A deadline kill is a normal outcome, not an HTTP error.
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["exitCode"]) != "null" {
		t.Errorf("exitCode = %s, want null", raw["exitCode"])
	}
	if string(raw["timedOut"]) != "true" {
		t.Errorf("timedOut = %s, want true", raw["timedOut"])
	}
	var stdout string
	json.Unmarshal(raw["stdout"], &stdout)
	if stdout != "partial" {
		t.Errorf("stdout = %q, want pre-kill output preserved", stdout)
	}
}

func TestHandleExecute_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid input", fmt.Errorf("wrap: %w", sandbox.ErrInvalidInput), http.StatusBadRequest, "INVALID_INPUT"},
		{"spawn failure", fmt.Errorf("wrap: %w", sandbox.ErrSpawn), http.StatusServiceUnavailable, "SPAWN_FAILED"},
		{"resource failure", fmt.Errorf("wrap: %w", sandbox.ErrResource), http.StatusInternalServerError, "RESOURCE"},
		{"shutting down", sandbox.ErrClosed, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(&stubRunner{err: tt.err})
			rec := postJSON(t, h.HandleExecute, "/execute", sandbox.ExecuteRequest{
				Language: "python",
				Code:     "print(1)",
			})

			if rec.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Code != tt.wantCode {
				t.Errorf("got code %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHandleExecute_InvalidJSON(t *testing.T) {
	h := newTestHandlers(&stubRunner{})

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.HandleExecute(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want 400", rec.Code)
	}
}

func TestHandleExecute_RunnerUnavailable(t *testing.T) {
	h := newTestHandlers(nil)

	rec := postJSON(t, h.HandleExecute, "/execute", sandbox.ExecuteRequest{
		Language: "python",
		Code:     "print(1)",
	})

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want 503", rec.Code)
	}
	var resp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Code != "RUNNER_UNAVAILABLE" {
		t.Errorf("got code %q, want RUNNER_UNAVAILABLE", resp.Code)
	}
}

func TestHandleExecuteProject_Success(t *testing.T) {
	exitCode := 0
	runner := &stubRunner{
		result: &sandbox.ExecutionResult{
			ExecID:    "proj-id",
			Language:  "javascript",
			Stdout:    "done\n",
			ExitCode:  &exitCode,
			ImageUsed: "docker.io/library/node:20-slim",
		},
	}
	h := newTestHandlers(runner)

	rec := postJSON(t, h.HandleExecuteProject, "/execute/project", sandbox.ProjectRequest{
		Language: "javascript",
		Files: []sandbox.ProjectFile{
			{Path: "main.js", Content: "console.log('done')"},
			{Path: "lib/util.js", Content: "module.exports = {}"},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp ExecuteResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.ImageUsed != "docker.io/library/node:20-slim" {
		t.Errorf("ImageUsed = %q, want node image", resp.ImageUsed)
	}
	if runner.gotProject == nil || len(runner.gotProject.Files) != 2 {
		t.Errorf("runner got project = %+v, want 2 files", runner.gotProject)
	}
}

func TestHandleExecute_SecurityEventsReported(t *testing.T) {
	exitCode := 0
	h := newTestHandlers(&stubRunner{
		result: &sandbox.ExecutionResult{
			ExecID:   "sec-id",
			Language: "python",
			ExitCode: &exitCode,
		},
	})

	rec := postJSON(t, h.HandleExecute, "/execute", sandbox.ExecuteRequest{
		Language: "python",
		Code:     `open("/sys/fs/cgroup/notify_on_release")`,
	})

	// Detection never blocks execution; it is reported alongside the result.
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp ExecuteResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.SecurityEvents) == 0 {
		t.Error("expected security events for cgroup breakout pattern")
	}
}

func TestHandleGetExecution_NoDatabase(t *testing.T) {
	h := newTestHandlers(&stubRunner{})

	req := httptest.NewRequest(http.MethodGet, "/executions/abc", nil)
	req.SetPathValue("id", "abc")
	rec := httptest.NewRecorder()
	h.HandleGetExecution(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want 503", rec.Code)
	}
}
