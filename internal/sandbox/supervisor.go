package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// pipeWaitDelay bounds how long Wait may block on output pipes after the
// process is gone. A payload that re-sessions a child (setsid) puts it
// outside the killed process group, and that orphan can hold stdout open
// forever; Wait abandons the pipes after this delay instead of hanging the
// attempt.
const pipeWaitDelay = 3 * time.Second

// Spawn describes one host process: the interpreter invocation in direct
// mode, or the container CLI invocation in project mode.
type Spawn struct {
	Path string
	Args []string
	Dir  string
	Env  []string // nil inherits the parent environment
}

// Status is the terminal state of a supervised process. ExitCode carries the
// process exit status only when TimedOut is false; after a deadline kill it
// holds the kill artifact (-1) and must not be reported.
type Status struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Supervisor runs a single process to completion under a hard deadline.
// It owns the three lifecycle concerns every execution shares: concurrent
// draining of stdout and stderr, the deadline timer, and the one forceful
// kill issued when the timer fires first.
type Supervisor struct {
	logger zerolog.Logger
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		logger: log.With().Str("component", "supervisor").Logger(),
	}
}

// Run starts the process and blocks until it reaches a terminal state and
// both output streams are fully drained, whichever way it ends.
//
// A process that never starts returns ErrSpawn; there is no retry. A process
// that outlives the timeout is killed once, forcefully, together with its
// process group, and reported with TimedOut set and whatever output it
// produced before the kill. A non-zero exit is not an error.
func (s *Supervisor) Run(ctx context.Context, sp Spawn, timeout time.Duration) (Status, error) {
	cmd := exec.Command(sp.Path, sp.Args...) // #nosec G204 -- argv assembled by the runners, not raw user input
	cmd.Dir = sp.Dir
	if sp.Env != nil {
		cmd.Env = sp.Env
	}
	// Own process group, so the kill reaches children the payload forked.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = pipeWaitDelay

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	pid := cmd.Process.Pid
	s.logger.Debug().Int("pid", pid).Str("path", sp.Path).Msg("process started")

	// Wait returns only after the stdout/stderr copiers finish (or WaitDelay
	// abandons pipes an orphan kept open), so once it fires the buffers hold
	// everything that was drained. That ordering is what makes partial
	// output after a kill safe to read.
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var timedOut bool
	var waitErr error

	select {
	case waitErr = <-waitCh:
	case <-timer.C:
		timedOut = true
		s.logger.Warn().Int("pid", pid).Dur("timeout", timeout).Msg("deadline exceeded, killing process group")
		s.killGroup(cmd)
		waitErr = <-waitCh
	case <-ctx.Done():
		// Nobody is left to read the result; kill the same way and bail.
		s.killGroup(cmd)
		<-waitCh
		return Status{}, fmt.Errorf("execution canceled: %w", ctx.Err())
	}

	status := Status{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		TimedOut: timedOut,
		Duration: time.Since(start),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			status.ExitCode = exitErr.ExitCode()
		case errors.Is(waitErr, exec.ErrWaitDelay):
			// The process exited cleanly but an orphaned descendant still
			// held the pipes open past the delay. Whatever was drained
			// before the pipes were abandoned is the output.
			s.logger.Warn().Int("pid", pid).Msg("output pipes abandoned, orphaned descendant still holds them")
		case timedOut:
			// Wait error caused by our own kill; nothing to report.
		default:
			return Status{}, fmt.Errorf("%w: waiting for process: %v", ErrResource, waitErr)
		}
	}

	return status, nil
}

// killGroup sends exactly one SIGKILL to the process group. No grace period:
// the payload had its full time budget already.
func (s *Supervisor) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		s.logger.Warn().Err(err).Int("pid", pid).Msg("group kill failed, killing pid directly")
		_ = cmd.Process.Kill()
	}
}
