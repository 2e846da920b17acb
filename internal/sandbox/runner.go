package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"untrusted-code-sandbox/internal/monitor"
	"untrusted-code-sandbox/internal/runtime"
	"untrusted-code-sandbox/internal/workspace"
)

// Execution modes, used as labels on logs, metrics, spans, and audit rows.
const (
	ModeDirect  = "direct"
	ModeProject = "project"
)

// ExecuteRequest is a single-file execution on the host interpreter.
type ExecuteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// ProjectFile is one file of a project payload, addressed relative to the
// workspace root.
type ProjectFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ProjectRequest is a multi-file execution inside a transient container.
// An empty Command falls back to the resolved runtime's default.
type ProjectRequest struct {
	Files    []ProjectFile `json:"files"`
	Language string        `json:"language"`
	Command  string        `json:"command,omitempty"`
}

// maxProjectBytes caps the total staged content of one project.
const maxProjectBytes = 10 << 20

// RunnerConfig carries the operator-tunable parts of the execution
// lifecycle. The zero value normalizes to production defaults.
type RunnerConfig struct {
	ScratchRoot    string
	DirectTimeout  time.Duration
	ProjectTimeout time.Duration
	Policy         ContainerPolicy
}

func (c *RunnerConfig) normalize() {
	if c.DirectTimeout <= 0 {
		c.DirectTimeout = 8 * time.Second
	}
	if c.ProjectTimeout <= 0 {
		c.ProjectTimeout = 20 * time.Second
	}
	if c.Policy == (ContainerPolicy{}) {
		c.Policy = DefaultPolicy()
	}
}

// Runner executes untrusted code. Both modes share one lifecycle — validate,
// stage a workspace, supervise one process under a deadline, assemble the
// result, destroy the workspace — and differ only in the plan they feed it.
type Runner struct {
	workspaces *workspace.Manager
	runtimes   *runtime.Registry
	supervisor *Supervisor
	launcher   ContainerLauncher
	cfg        RunnerConfig
	metrics    *monitor.Metrics
	tracer     *monitor.Tracer

	active atomic.Int64
	wg     sync.WaitGroup
	mu     sync.Mutex // protects shutdown state
	closed bool
}

func NewRunner(launcher ContainerLauncher, cfg RunnerConfig, metrics *monitor.Metrics) *Runner {
	cfg.normalize()
	return &Runner{
		workspaces: workspace.NewManager(cfg.ScratchRoot),
		runtimes:   runtime.NewRegistry(),
		supervisor: NewSupervisor(),
		launcher:   launcher,
		cfg:        cfg,
		metrics:    metrics,
		tracer:     monitor.NewTracer(),
	}
}

// attemptPlan is what a mode contributes to the shared lifecycle: the files
// to stage, how to start the process, and how long it may run.
type attemptPlan struct {
	execID   string
	mode     string
	language string
	image    string // project mode only
	timeout  time.Duration
	files    []ProjectFile
	spawn    func(ws *workspace.Workspace) Spawn
	teardown func(ctx context.Context) // post-kill container removal
}

// Execute runs one source file with the host interpreter for its language.
func (r *Runner) Execute(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error) {
	execID := uuid.New().String()

	rt := r.runtimes.Resolve(req.Language)
	if err := rt.Validate(req.Code); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}

	entry := "main" + rt.FileExtension()
	return r.run(ctx, attemptPlan{
		execID:   execID,
		mode:     ModeDirect,
		language: rt.Name(),
		timeout:  r.cfg.DirectTimeout,
		files:    []ProjectFile{{Path: entry, Content: req.Code}},
		spawn: func(ws *workspace.Workspace) Spawn {
			argv := rt.Command(filepath.Join(ws.Root, entry))
			return Spawn{Path: argv[0], Args: argv[1:], Dir: ws.Root}
		},
	})
}

// ExecuteProject runs a multi-file payload inside a transient container.
func (r *Runner) ExecuteProject(ctx context.Context, req ProjectRequest) (*ExecutionResult, error) {
	execID := uuid.New().String()

	if err := validateProject(req); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: err}
	}
	if r.launcher == nil {
		return nil, &ExecutionError{ExecID: execID, Op: "launch", Err: fmt.Errorf("%w: no container engine available", ErrSpawn)}
	}

	rt := r.runtimes.Resolve(req.Language)
	command := strings.TrimSpace(req.Command)
	if command == "" {
		command = rt.DefaultCommand()
	}
	name := "sandbox-" + execID

	return r.run(ctx, attemptPlan{
		execID:   execID,
		mode:     ModeProject,
		language: rt.Name(),
		image:    rt.Image(),
		timeout:  r.cfg.ProjectTimeout,
		files:    req.Files,
		spawn: func(ws *workspace.Workspace) Spawn {
			return r.launcher.Launch(LaunchSpec{
				Name:         name,
				Image:        rt.Image(),
				ShellCommand: command,
				HostDir:      ws.Root,
				Policy:       r.cfg.Policy,
			})
		},
		teardown: func(tctx context.Context) {
			if err := r.launcher.Destroy(tctx, name); err != nil {
				log.Debug().Err(err).Str("container", name).Msg("container teardown")
			}
		},
	})
}

func validateProject(req ProjectRequest) error {
	if len(req.Files) == 0 {
		return fmt.Errorf("%w: project has no files", ErrInvalidInput)
	}
	var total int
	for _, f := range req.Files {
		if f.Path == "" {
			return fmt.Errorf("%w: file path is empty", ErrInvalidInput)
		}
		total += len(f.Content)
	}
	if total > maxProjectBytes {
		return fmt.Errorf("%w: project exceeds %dMB limit", ErrInvalidInput, maxProjectBytes>>20)
	}
	return nil
}

// run drives the full lifecycle for one attempt.
func (r *Runner) run(ctx context.Context, plan attemptPlan) (*ExecutionResult, error) {
	logger := log.With().
		Str("exec_id", plan.execID).
		Str("mode", plan.mode).
		Str("language", plan.language).
		Logger()

	logger.Info().Msg("execution requested")

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, &ExecutionError{ExecID: plan.execID, Op: "admit", Err: ErrClosed}
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	r.active.Add(1)
	defer r.active.Add(-1)

	ctx, span := r.tracer.StartSpan(ctx, "execute",
		monitor.AttrExecID.String(plan.execID),
		monitor.AttrMode.String(plan.mode),
		monitor.AttrLanguage.String(plan.language),
	)
	defer span.End()

	ws, err := r.workspaces.Create(plan.execID)
	if err != nil {
		return nil, &ExecutionError{ExecID: plan.execID, Op: "create_workspace", Err: fmt.Errorf("%w: %v", ErrResource, err)}
	}
	// The workspace dies with the attempt no matter how the attempt ends.
	// Failures are logged and counted, never surfaced to the caller.
	defer func() {
		if derr := ws.Destroy(); derr != nil {
			logger.Warn().Err(derr).Msg("workspace cleanup failed")
			r.metrics.CleanupFailures.Inc()
		}
	}()

	for _, f := range plan.files {
		if werr := ws.WriteFile(f.Path, []byte(f.Content)); werr != nil {
			if errors.Is(werr, workspace.ErrBadPath) {
				return nil, &ExecutionError{ExecID: plan.execID, Op: "stage_files", Err: fmt.Errorf("%w: %v", ErrInvalidInput, werr)}
			}
			return nil, &ExecutionError{ExecID: plan.execID, Op: "stage_files", Err: fmt.Errorf("%w: %v", ErrResource, werr)}
		}
	}

	status, err := r.supervisor.Run(ctx, plan.spawn(ws), plan.timeout)

	// After a deadline kill only the CLI client is dead; make sure the
	// container goes with it. Harmless when nothing started.
	if plan.teardown != nil && (err != nil || status.TimedOut) {
		tctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		plan.teardown(tctx)
		cancel()
	}
	if err != nil {
		return nil, &ExecutionError{ExecID: plan.execID, Op: "supervise", Err: err}
	}

	result := assembleResult(plan.execID, plan.language, plan.image, status)

	if status.TimedOut {
		r.metrics.TimeoutsTotal.WithLabelValues(plan.mode).Inc()
		span.SetAttributes(monitor.AttrTimedOut.Bool(true))
		logger.Warn().Dur("timeout", plan.timeout).Msg("execution timed out")
	} else {
		span.SetAttributes(monitor.AttrExitCode.Int(status.ExitCode))
		logger.Info().
			Int("exit_code", status.ExitCode).
			Dur("duration", status.Duration).
			Msg("execution completed")
	}

	return result, nil
}

// ActiveCount returns the number of currently running executions.
func (r *Runner) ActiveCount() int64 {
	return r.active.Load()
}

// Close stops admitting work and waits for in-flight executions to drain.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all executions drained")
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", r.active.Load()).Msg("timed out waiting for executions to drain")
	}
	return nil
}
