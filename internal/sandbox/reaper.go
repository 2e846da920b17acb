package sandbox

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"untrusted-code-sandbox/internal/monitor"
)

// Reaper periodically force-removes sandbox containers that outlived their
// attempt: a crash between the deadline kill and the container removal, or
// a `--rm` that never fired because the CLI client died first.
type Reaper struct {
	launcher *DockerLauncher
	interval time.Duration
	metrics  *monitor.Metrics
	cancel   context.CancelFunc
}

func NewReaper(launcher *DockerLauncher, interval time.Duration, metrics *monitor.Metrics) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reaper{
		launcher: launcher,
		interval: interval,
		metrics:  metrics,
	}
}

// Start reaps once immediately, then keeps reaping on the configured
// interval until Stop is called.
func (r *Reaper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		r.reap(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.reap(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Reaper) reap(ctx context.Context) {
	reapCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if n := r.launcher.ReapOrphans(reapCtx); n > 0 {
		r.metrics.OrphansReaped.Add(float64(n))
		log.Info().Int("count", n).Msg("reaped orphaned sandbox containers")
	}
}

// Stop ends the reap loop. It does not wait for an in-flight pass.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}
