package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// LaunchSpec describes one project container.
type LaunchSpec struct {
	Name         string // unique container name, sandbox-<execID>
	Image        string
	ShellCommand string // executed via `sh -c` inside the container
	HostDir      string // workspace root, bind-mounted read-write at Policy.MountPath
	Policy       ContainerPolicy
}

// ContainerLauncher turns a LaunchSpec into a host process invocation and
// removes containers that outlive their attempt. The container engine stays
// behind this seam as an OS-process boundary: the runner never links an
// engine SDK for execution, and tests substitute a fake that launches plain
// host processes.
type ContainerLauncher interface {
	Launch(spec LaunchSpec) Spawn
	Destroy(ctx context.Context, name string) error
}

// DockerLauncher shells out to the docker CLI. The binary name is
// configurable so a drop-in like podman works unchanged.
type DockerLauncher struct {
	binary     string
	dockerHost string // resolved DOCKER_HOST (e.g. from Docker context)
}

func NewDockerLauncher(binary string) (*DockerLauncher, error) {
	if binary == "" {
		binary = "docker"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", ErrEngineDown, binary)
	}
	return &DockerLauncher{
		binary:     binary,
		dockerHost: resolveDockerHost(binary),
	}, nil
}

// Launch builds the `docker run` invocation carrying the fixed execution
// policy: transient container, no network, hard memory and CPU caps, and the
// workspace mounted read-write at the fixed in-container path.
func (d *DockerLauncher) Launch(spec LaunchSpec) Spawn {
	args := []string{
		"run", "--rm",
		"--name", spec.Name,
		"--network", "none",
		"--memory", fmt.Sprintf("%dm", spec.Policy.MemoryMB),
		"--cpus", fmt.Sprintf("%.1f", spec.Policy.CPUs),
		"-v", fmt.Sprintf("%s:%s:rw", spec.HostDir, spec.Policy.MountPath),
		"-w", spec.Policy.MountPath,
		spec.Image,
		"sh", "-c", spec.ShellCommand,
	}
	return Spawn{Path: d.binary, Args: args, Env: d.env()}
}

// Destroy force-removes a container by name. Called after a deadline kill:
// SIGKILL reaches the CLI client, not the container itself, so without this
// the payload would keep running inside the engine.
func (d *DockerLauncher) Destroy(ctx context.Context, name string) error {
	cmd := exec.CommandContext(ctx, d.binary, "rm", "-f", name) // #nosec G204 -- name is sandbox-<uuid>, not user input
	cmd.Env = d.env()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("removing container %s: %v: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ReapOrphans removes sandbox containers left over from previous runs or
// crashed attempts. Returns the number removed.
func (d *DockerLauncher) ReapOrphans(ctx context.Context) int {
	cmd := exec.CommandContext(ctx, d.binary, "ps", "--filter", "name=sandbox-", "-q") // #nosec G204 -- no user input
	cmd.Env = d.env()
	out, err := cmd.Output()
	if err != nil {
		return 0
	}

	var reaped int
	for _, id := range strings.Fields(strings.TrimSpace(string(out))) {
		log.Warn().Str("container_id", id).Msg("removing orphaned sandbox container")
		if err := d.Destroy(ctx, id); err != nil {
			log.Warn().Err(err).Str("container_id", id).Msg("orphan removal failed")
			continue
		}
		reaped++
	}
	return reaped
}

func (d *DockerLauncher) env() []string {
	if d.dockerHost == "" {
		return nil
	}
	return append(os.Environ(), "DOCKER_HOST="+d.dockerHost)
}

// resolveDockerHost figures out the engine socket. On macOS, Docker Desktop
// uses a context-specific socket that child processes don't inherit.
func resolveDockerHost(binary string) string {
	if h := os.Getenv("DOCKER_HOST"); h != "" {
		return h
	}

	out, err := exec.Command(binary, "context", "inspect", "--format", "{{.Endpoints.docker.Host}}").Output() // #nosec G204 -- binary from config
	if err == nil {
		host := strings.TrimSpace(string(out))
		if host != "" {
			log.Debug().Str("docker_host", host).Msg("resolved engine host from context")
			return host
		}
	}

	return ""
}
