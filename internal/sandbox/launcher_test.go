package sandbox

import (
	"strings"
	"testing"
)

// newTestLauncher builds a DockerLauncher directly, bypassing
// NewDockerLauncher to avoid PATH lookup and Docker host resolution.
func newTestLauncher() *DockerLauncher {
	return &DockerLauncher{binary: "docker"}
}

// argsContain returns true if the args slice contains needle.
func argsContain(args []string, needle string) bool {
	for _, a := range args {
		if a == needle {
			return true
		}
	}
	return false
}

func argsIndex(args []string, needle string) int {
	for i, a := range args {
		if a == needle {
			return i
		}
	}
	return -1
}

func testLaunchSpec() LaunchSpec {
	return LaunchSpec{
		Name:         "sandbox-exec-1",
		Image:        "docker.io/library/python:3.12-slim",
		ShellCommand: "python main.py",
		HostDir:      "/tmp/sandbox-exec-1-x",
		Policy:       DefaultPolicy(),
	}
}

func TestLaunch_PolicyFlags(t *testing.T) {
	d := newTestLauncher()

	sp := d.Launch(testLaunchSpec())

	if sp.Path != "docker" {
		t.Errorf("Path = %q, want docker", sp.Path)
	}
	if !argsContain(sp.Args, "--rm") {
		t.Error("expected --rm: containers must be transient")
	}
	if !argsContain(sp.Args, "none") || !argsContain(sp.Args, "--network") {
		t.Error("expected --network none")
	}
	if !argsContain(sp.Args, "512m") {
		t.Error("expected --memory 512m")
	}
	if !argsContain(sp.Args, "1.0") {
		t.Error("expected --cpus 1.0")
	}
	if !argsContain(sp.Args, "/tmp/sandbox-exec-1-x:/workspace:rw") {
		t.Error("expected workspace bind mount at /workspace, read-write")
	}
	if !argsContain(sp.Args, "sandbox-exec-1") {
		t.Error("expected container name sandbox-exec-1")
	}
}

func TestLaunch_WorkdirMatchesMount(t *testing.T) {
	d := newTestLauncher()

	sp := d.Launch(testLaunchSpec())

	wIdx := argsIndex(sp.Args, "-w")
	if wIdx < 0 || wIdx+1 >= len(sp.Args) || sp.Args[wIdx+1] != "/workspace" {
		t.Errorf("expected -w /workspace, args = %v", sp.Args)
	}
}

func TestLaunch_CommandRunsViaShell(t *testing.T) {
	d := newTestLauncher()

	spec := testLaunchSpec()
	spec.ShellCommand = "pip install -r requirements.txt && python main.py"
	sp := d.Launch(spec)

	n := len(sp.Args)
	if n < 3 || sp.Args[n-3] != "sh" || sp.Args[n-2] != "-c" {
		t.Fatalf("expected trailing sh -c <command>, args = %v", sp.Args)
	}
	if sp.Args[n-1] != spec.ShellCommand {
		t.Errorf("shell command = %q, want it passed verbatim", sp.Args[n-1])
	}
}

func TestLaunch_ImagePrecedesCommand(t *testing.T) {
	d := newTestLauncher()

	sp := d.Launch(testLaunchSpec())

	imgIdx := argsIndex(sp.Args, "docker.io/library/python:3.12-slim")
	shIdx := argsIndex(sp.Args, "sh")
	if imgIdx < 0 || shIdx < 0 || imgIdx > shIdx {
		t.Errorf("image must precede the command, args = %v", sp.Args)
	}
	// Everything before the image is engine flags; nothing user-controlled
	// may appear there.
	for _, a := range sp.Args[:imgIdx] {
		if strings.Contains(a, "main.py") {
			t.Errorf("user command leaked into engine flags: %v", sp.Args)
		}
	}
}

func TestLaunch_CustomBinary(t *testing.T) {
	d := &DockerLauncher{binary: "podman"}

	sp := d.Launch(testLaunchSpec())
	if sp.Path != "podman" {
		t.Errorf("Path = %q, want podman", sp.Path)
	}
}

func TestLaunch_PolicyValuesFlowThrough(t *testing.T) {
	d := newTestLauncher()

	spec := testLaunchSpec()
	spec.Policy = ContainerPolicy{MemoryMB: 1024, CPUs: 2, MountPath: "/code"}
	sp := d.Launch(spec)

	if !argsContain(sp.Args, "1024m") {
		t.Error("expected --memory 1024m")
	}
	if !argsContain(sp.Args, "2.0") {
		t.Error("expected --cpus 2.0")
	}
	if !argsContain(sp.Args, "/tmp/sandbox-exec-1-x:/code:rw") {
		t.Error("expected mount at /code")
	}
}
