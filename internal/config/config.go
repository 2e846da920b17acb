package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

type SandboxConfig struct {
	ScratchRoot    string        `yaml:"scratch_root"`    // empty means the OS temp dir
	EngineBinary   string        `yaml:"engine_binary"`   // docker-compatible CLI, default "docker"
	DirectTimeout  time.Duration `yaml:"direct_timeout"`  // single-file runs on the host interpreter
	ProjectTimeout time.Duration `yaml:"project_timeout"` // multi-file runs inside a container
	MemoryMB       int64         `yaml:"memory_mb"`
	CPUs           float64       `yaml:"cpus"`
	MountPath      string        `yaml:"mount_path"`
	PrewarmImages  bool          `yaml:"prewarm_images"`
	ReapInterval   time.Duration `yaml:"reap_interval"`
}

// DatabaseConfig configures the optional audit store. An empty DSN disables
// persistence entirely; executions still run, they just leave no rows.
type DatabaseConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int32  `yaml:"max_conns"`
	AuditBuffer int    `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    45 * time.Second, // > project timeout + image pull overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  12 << 20, // project payloads cap at 10MB before JSON framing
		},
		Sandbox: SandboxConfig{
			ScratchRoot:    "",
			EngineBinary:   "docker",
			DirectTimeout:  8 * time.Second,
			ProjectTimeout: 20 * time.Second,
			MemoryMB:       512,
			CPUs:           1.0,
			MountPath:      "/workspace",
			PrewarmImages:  true,
			ReapInterval:   5 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN:         "",
			MaxConns:    25,
			AuditBuffer: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Sandbox.DirectTimeout <= 0 || c.Sandbox.DirectTimeout > 5*time.Minute {
		return fmt.Errorf("sandbox.direct_timeout must be in (0, 5m], got %s", c.Sandbox.DirectTimeout)
	}
	if c.Sandbox.ProjectTimeout <= 0 || c.Sandbox.ProjectTimeout > 5*time.Minute {
		return fmt.Errorf("sandbox.project_timeout must be in (0, 5m], got %s", c.Sandbox.ProjectTimeout)
	}
	if c.Sandbox.MemoryMB < 16 || c.Sandbox.MemoryMB > 8192 {
		return fmt.Errorf("sandbox.memory_mb must be 16-8192, got %d", c.Sandbox.MemoryMB)
	}
	if c.Sandbox.CPUs < 0.1 || c.Sandbox.CPUs > 16 {
		return fmt.Errorf("sandbox.cpus must be 0.1-16, got %v", c.Sandbox.CPUs)
	}
	if !filepath.IsAbs(c.Sandbox.MountPath) {
		return fmt.Errorf("sandbox.mount_path must be an absolute path, got %q", c.Sandbox.MountPath)
	}
	if c.Sandbox.ScratchRoot != "" && !filepath.IsAbs(c.Sandbox.ScratchRoot) {
		return fmt.Errorf("sandbox.scratch_root must be an absolute path, got %q", c.Sandbox.ScratchRoot)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable — connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
