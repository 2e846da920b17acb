package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"untrusted-code-sandbox/internal/api"
	"untrusted-code-sandbox/internal/config"
	"untrusted-code-sandbox/internal/monitor"
	"untrusted-code-sandbox/internal/runtime"
	"untrusted-code-sandbox/internal/sandbox"
	"untrusted-code-sandbox/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	// Secrets stay out of the config file.
	if dsn := os.Getenv("SANDBOX_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	// Container engine pieces. Their absence disables project mode but does
	// not stop startup: direct mode needs nothing from the engine, and the
	// health endpoint reports the degradation.
	var launcher *sandbox.DockerLauncher
	var containerLauncher sandbox.ContainerLauncher
	if l, lerr := sandbox.NewDockerLauncher(cfg.Sandbox.EngineBinary); lerr != nil {
		log.Warn().Err(lerr).Msg("container engine CLI not found, project mode disabled")
	} else {
		launcher = l
		containerLauncher = l
	}

	var engine *sandbox.Engine
	if e, eerr := sandbox.NewEngine(ctx, "", metrics); eerr != nil {
		log.Warn().Err(eerr).Msg("container engine daemon unreachable")
	} else {
		engine = e
	}

	// Pull runtime images in the background so the first project request
	// does not pay for the download.
	if engine != nil && cfg.Sandbox.PrewarmImages {
		go func() {
			pullCtx, pullCancel := context.WithTimeout(ctx, 10*time.Minute)
			defer pullCancel()
			if perr := engine.PrewarmImages(pullCtx, runtime.NewRegistry().Images()); perr != nil {
				log.Warn().Err(perr).Msg("image prewarm incomplete")
			}
		}()
	}

	var reaper *sandbox.Reaper
	if launcher != nil {
		reaper = sandbox.NewReaper(launcher, cfg.Sandbox.ReapInterval, metrics)
		reaper.Start()
	}

	// Database is optional — without it executions run but leave no audit rows.
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		}
	}

	var auditWriter *storage.AuditWriter
	if db != nil {
		auditWriter = storage.NewAuditWriter(db, cfg.Database.AuditBuffer)
		auditWriter.Start()
	}

	runner := sandbox.NewRunner(containerLauncher, sandbox.RunnerConfig{
		ScratchRoot:    cfg.Sandbox.ScratchRoot,
		DirectTimeout:  cfg.Sandbox.DirectTimeout,
		ProjectTimeout: cfg.Sandbox.ProjectTimeout,
		Policy: sandbox.ContainerPolicy{
			MemoryMB:  cfg.Sandbox.MemoryMB,
			CPUs:      cfg.Sandbox.CPUs,
			MountPath: cfg.Sandbox.MountPath,
		},
	}, metrics)

	server := api.NewServer(cfg, runner, engine, db, auditWriter, metrics)

	// Graceful shutdown: stop accepting requests, drain in-flight attempts,
	// flush the audit queue, then release clients.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		if err := runner.Close(); err != nil {
			log.Error().Err(err).Msg("runner close error")
		}
		if reaper != nil {
			reaper.Stop()
		}
		if auditWriter != nil {
			auditWriter.Flush(10 * time.Second)
		}
		if db != nil {
			db.Close()
		}
		if engine != nil {
			if err := engine.Close(); err != nil {
				log.Error().Err(err).Msg("engine close error")
			}
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Bool("project_mode", containerLauncher != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
