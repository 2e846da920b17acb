package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()

	m := NewManager(t.TempDir())
	ws, err := m.Create("exec-test")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	return ws
}

func TestCreate_UniqueDirs(t *testing.T) {
	m := NewManager(t.TempDir())

	a, err := m.Create("exec-1")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	b, err := m.Create("exec-1")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if a.Root == b.Root {
		t.Errorf("expected distinct roots for concurrent attempts, both got %s", a.Root)
	}
	if !strings.Contains(filepath.Base(a.Root), "exec-1") {
		t.Errorf("expected exec ID in dir name, got %s", a.Root)
	}
}

func TestWriteFile_CreatesParentDirs(t *testing.T) {
	ws := newTestWorkspace(t)

	if err := ws.WriteFile("src/lib/util.js", []byte("module.exports = {}")); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(ws.Root, "src", "lib", "util.js"))
	if err != nil {
		t.Fatalf("reading staged file: %v", err)
	}
	if string(got) != "module.exports = {}" {
		t.Errorf("staged content mismatch: %q", got)
	}
}

func TestWriteFile_PathSanitization(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"plain file", "main.py", false},
		{"nested file", "pkg/app/main.py", false},
		{"interior dotdot resolving inside", "pkg/../main.py", false},
		{"empty path", "", true},
		{"absolute path", "/etc/cron.d/evil", true},
		{"leading dotdot", "../outside.txt", true},
		{"deep escape", "a/../../../../etc/passwd", true},
		{"bare dotdot", "..", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newTestWorkspace(t)
			err := ws.WriteFile(tt.path, []byte("x"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("WriteFile(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrBadPath) {
				t.Errorf("expected ErrBadPath, got %v", err)
			}
		})
	}
}

func TestWriteFile_EscapeLeavesBaseDirUntouched(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base)
	ws, err := m.Create("exec-esc")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := ws.WriteFile("../smuggled.txt", []byte("x")); err == nil {
		t.Fatal("expected escape to be rejected")
	}

	if _, err := os.Stat(filepath.Join(base, "smuggled.txt")); !os.IsNotExist(err) {
		t.Error("escaping write landed outside the workspace")
	}
}

func TestDestroy_RemovesEverything(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := ws.WriteFile("a/b/c.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	if err := ws.Destroy(); err != nil {
		t.Fatalf("Destroy() failed: %v", err)
	}

	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Errorf("workspace root still exists after Destroy: %v", err)
	}
}

func TestDestroy_Idempotent(t *testing.T) {
	ws := newTestWorkspace(t)

	if err := ws.Destroy(); err != nil {
		t.Fatalf("first Destroy() failed: %v", err)
	}
	if err := ws.Destroy(); err != nil {
		t.Errorf("second Destroy() should be a no-op, got %v", err)
	}
}
