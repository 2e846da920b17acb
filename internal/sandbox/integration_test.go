package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"untrusted-code-sandbox/internal/monitor"
)

// requireDocker skips the test unless a working Docker daemon is reachable.
func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("Docker not installed")
	}
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("Docker daemon not running")
	}
}

func TestDockerProjectExecution(t *testing.T) {
	requireDocker(t)

	launcher, err := NewDockerLauncher("")
	if err != nil {
		t.Fatalf("NewDockerLauncher: %v", err)
	}
	runner := NewRunner(launcher, RunnerConfig{ScratchRoot: t.TempDir()}, monitor.NewMetrics())
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	res, err := runner.ExecuteProject(ctx, ProjectRequest{
		Files: []ProjectFile{
			{Path: "main.py", Content: "print(open('data/msg.txt').read().strip())"},
			{Path: "data/msg.txt", Content: "from the container\n"},
		},
		Language: "python",
	})
	if err != nil {
		t.Fatalf("ExecuteProject: %v", err)
	}

	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("ExitCode = %v, stderr: %s", res.ExitCode, res.Stderr)
	}
	if !strings.Contains(res.Stdout, "from the container") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.ImageUsed != "docker.io/library/python:3.12-slim" {
		t.Errorf("ImageUsed = %q", res.ImageUsed)
	}
}

func TestDockerNetworkIsolated(t *testing.T) {
	requireDocker(t)

	launcher, err := NewDockerLauncher("")
	if err != nil {
		t.Fatalf("NewDockerLauncher: %v", err)
	}
	runner := NewRunner(launcher, RunnerConfig{ScratchRoot: t.TempDir()}, monitor.NewMetrics())
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	res, err := runner.ExecuteProject(ctx, ProjectRequest{
		Files: []ProjectFile{{
			Path:    "main.py",
			Content: "import urllib.request\nurllib.request.urlopen('http://example.com', timeout=5)",
		}},
		Language: "python",
	})
	if err != nil {
		t.Fatalf("ExecuteProject: %v", err)
	}

	if res.ExitCode == nil || *res.ExitCode == 0 {
		t.Errorf("network call succeeded inside an isolated container (exit %v)", res.ExitCode)
	}
}

func TestDockerTimeoutRemovesContainer(t *testing.T) {
	requireDocker(t)

	launcher, err := NewDockerLauncher("")
	if err != nil {
		t.Fatalf("NewDockerLauncher: %v", err)
	}
	runner := NewRunner(launcher, RunnerConfig{
		ScratchRoot:    t.TempDir(),
		ProjectTimeout: 5 * time.Second,
	}, monitor.NewMetrics())
	defer runner.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	res, err := runner.ExecuteProject(ctx, ProjectRequest{
		Files:    []ProjectFile{{Path: "main.py", Content: "import time; time.sleep(120)"}},
		Language: "python",
	})
	if err != nil {
		t.Fatalf("ExecuteProject: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("TimedOut = false")
	}

	// The deadline kill lands on the CLI client; teardown must take the
	// container with it.
	time.Sleep(2 * time.Second)
	out, err := exec.Command("docker", "ps", "--filter", "name=sandbox-"+res.ExecID, "-q").Output()
	if err != nil {
		t.Fatalf("docker ps: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "" {
		exec.Command("docker", "rm", "-f", "sandbox-"+res.ExecID).Run()
		t.Errorf("container survived the timeout: %s", got)
	}
}

func TestEngineHealthAndImagePull(t *testing.T) {
	requireDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	engine, err := NewEngine(ctx, "", monitor.NewMetrics())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	if !engine.Healthy(ctx) {
		t.Error("Healthy = false with a running daemon")
	}
	if err := engine.EnsureImage(ctx, "docker.io/library/busybox:latest"); err != nil {
		t.Errorf("EnsureImage: %v", err)
	}
}
