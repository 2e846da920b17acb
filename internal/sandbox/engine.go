package sandbox

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"

	"untrusted-code-sandbox/internal/monitor"
)

// Engine wraps the container engine's API client for operational concerns:
// daemon health checks and runtime image prewarming. Execution never goes
// through this client — project containers launch as OS processes via the
// ContainerLauncher, keeping the engine an external process boundary.
type Engine struct {
	client  *client.Client
	metrics *monitor.Metrics
}

// NewEngine connects to the container engine and verifies it responds.
// An empty host uses DOCKER_HOST / the default socket.
func NewEngine(ctx context.Context, host string, metrics *monitor.Metrics) (*Engine, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("%w: %v", ErrEngineDown, err)
	}

	log.Info().Msg("connected to container engine")
	return &Engine{client: cli, metrics: metrics}, nil
}

// Healthy reports whether the engine still responds.
func (e *Engine) Healthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := e.client.Ping(pingCtx)
	return err == nil
}

// EnsureImage pulls the image unless it is already present locally.
func (e *Engine) EnsureImage(ctx context.Context, ref string) error {
	if _, err := e.client.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		log.Debug().Err(err).Str("image", ref).Msg("image inspect failed, attempting pull")
	}

	log.Info().Str("image", ref).Msg("pulling runtime image")
	start := time.Now()

	reader, err := e.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer reader.Close()

	// The pull completes only once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("reading pull progress for %s: %w", ref, err)
	}

	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.ImagePullDuration.WithLabelValues(ref).Observe(elapsed.Seconds())
	}
	log.Info().Str("image", ref).Dur("duration", elapsed).Msg("runtime image ready")
	return nil
}

// PrewarmImages makes sure every runtime image is present before the first
// request needs it. Failures are reported but do not stop startup: a pull
// can still succeed later on demand.
func (e *Engine) PrewarmImages(ctx context.Context, refs []string) error {
	var firstErr error
	for _, ref := range refs {
		if err := e.EnsureImage(ctx, ref); err != nil {
			log.Warn().Err(err).Str("image", ref).Msg("image prewarm failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close releases the engine client.
func (e *Engine) Close() error {
	return e.client.Close()
}
