// Package workspace manages per-execution scratch directories. Every
// execution attempt gets a private directory under the configured base dir;
// request-supplied file paths are sanitized so they cannot land outside it,
// and the directory is removed unconditionally when the attempt ends.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// Sentinel errors. Callers map ErrBadPath to their invalid-input taxonomy
// and everything else to an infrastructure failure.
var (
	ErrBadPath = errors.New("file path escapes workspace")
)

// Manager creates scratch directories under a single base directory.
type Manager struct {
	baseDir string
}

// NewManager returns a Manager rooted at baseDir. An empty baseDir falls
// back to the OS temp directory.
func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// Workspace is one execution's private scratch directory.
type Workspace struct {
	ID   string
	Root string
}

// Create makes a fresh scratch directory for the given execution ID.
// The random MkdirTemp suffix keeps concurrent attempts disjoint even if
// IDs ever collided.
func (m *Manager) Create(execID string) (*Workspace, error) {
	root, err := os.MkdirTemp(m.baseDir, "sandbox-"+execID+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}

	log.Debug().Str("exec_id", execID).Str("workspace", root).Msg("workspace created")
	return &Workspace{ID: execID, Root: root}, nil
}

// WriteFile stores content at the given workspace-relative path, creating
// parent directories as needed. Paths that are empty, absolute, or resolve
// outside the workspace are rejected with ErrBadPath.
func (w *Workspace) WriteFile(relPath string, content []byte) error {
	target, err := w.resolve(relPath)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(target); dir != w.Root {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating parent dirs for %s: %w", relPath, err)
		}
	}

	if err := os.WriteFile(target, content, 0644); err != nil { // #nosec G306 -- container may run as an arbitrary uid
		return fmt.Errorf("writing %s: %w", relPath, err)
	}
	return nil
}

// resolve maps a request-supplied relative path to an absolute path inside
// the workspace. Interior ".." segments that still resolve inside the
// workspace survive Clean; anything that would escape is rejected.
func (w *Workspace) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: path is empty", ErrBadPath)
	}
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %q is absolute", ErrBadPath, relPath)
	}

	target := filepath.Join(w.Root, filepath.Clean(relPath))
	rel, err := filepath.Rel(w.Root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrBadPath, relPath)
	}
	return target, nil
}

// Destroy removes the scratch directory and everything under it. It runs on
// every attempt outcome; the caller logs and counts failures but never
// propagates them into the execution result.
func (w *Workspace) Destroy() error {
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("removing workspace %s: %w", w.Root, err)
	}
	log.Debug().Str("exec_id", w.ID).Str("workspace", w.Root).Msg("workspace destroyed")
	return nil
}
