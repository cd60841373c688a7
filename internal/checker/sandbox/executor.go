// Package sandbox provides isolated execution environments for running
// untrusted solution code. Each check invocation owns a fresh environment
// which is destroyed unconditionally when the check ends.
package sandbox

import (
	"context"
	"time"

	"checkhub/pkg/utils/logger"
)

// Backend names selectable through configuration.
const (
	BackendDocker = "docker"
	BackendLocal  = "local"
)

// Output is the result of one command execution inside an environment.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Executor is one disposable execution environment. File paths are relative
// to the environment's working directory. Close destroys the environment and
// must be deferred by every caller; a leaked environment cannot outlive the
// check.
type Executor interface {
	// WriteFile places content into the environment.
	WriteFile(ctx context.Context, path string, content string) error

	// ReadFile retrieves a file produced inside the environment.
	ReadFile(ctx context.Context, path string) (string, error)

	// Run executes a command inside the environment under the configured
	// wall-clock timeout. A timeout is reported through Output.TimedOut and
	// an error, never as a silent empty result.
	Run(ctx context.Context, args ...string) (Output, error)

	// Close destroys the environment. Safe to call more than once.
	Close() error
}

// Provider hands out fresh executors. The Factory is the production
// implementation; tests substitute their own.
type Provider interface {
	New(ctx context.Context) (Executor, error)
}

// Limits are the hard resource limits of one environment.
type Limits struct {
	MemoryBytes int64         `yaml:"memoryBytes"`
	CPUs        float64       `yaml:"cpus"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultLimits returns the stock limits for untrusted code.
func DefaultLimits() Limits {
	return Limits{
		MemoryBytes: 100 << 20,
		CPUs:        1,
		Timeout:     20 * time.Second,
	}
}

func (l *Limits) setDefaults() {
	defaults := DefaultLimits()
	if l.MemoryBytes <= 0 {
		l.MemoryBytes = defaults.MemoryBytes
	}
	if l.CPUs <= 0 {
		l.CPUs = defaults.CPUs
	}
	if l.Timeout <= 0 {
		l.Timeout = defaults.Timeout
	}
}

// Config selects and parameterizes the executor backend.
type Config struct {
	// Backend is the backend name. Unknown names fall back to the docker
	// backend, which is the secure default.
	Backend string `yaml:"backend"`

	// Image is the container image used by the docker backend.
	Image string `yaml:"image"`

	// AllowLocal permits the in-process backend. It exists for tests and
	// trusted local setups and must stay off in production.
	AllowLocal bool `yaml:"allowLocal"`

	Limits Limits `yaml:"limits"`
}

// Factory creates one fresh Executor per check invocation.
type Factory struct {
	cfg    Config
	docker *DockerClient
}

// NewFactory creates an executor factory. The docker client may be nil when
// only the local backend is in use (tests); requesting a docker environment
// then fails.
func NewFactory(cfg Config, docker *DockerClient) *Factory {
	cfg.Limits.setDefaults()
	if cfg.Image == "" {
		cfg.Image = "checkhub-sandbox:latest"
	}
	return &Factory{cfg: cfg, docker: docker}
}

// New creates a fresh environment. Creation failure is fatal to the check
// invocation and is surfaced to the caller; retries belong to the task queue.
func (f *Factory) New(ctx context.Context) (Executor, error) {
	switch f.cfg.Backend {
	case BackendLocal:
		if f.cfg.AllowLocal {
			return NewLocalExecutor(f.cfg.Limits)
		}
		logger.Warn(ctx, "local sandbox backend requested but not allowed, using docker")
	case BackendDocker, "":
	default:
		logger.Warnf(ctx, "unknown sandbox backend %q, using docker", f.cfg.Backend)
	}
	return NewDockerExecutor(ctx, f.docker, f.cfg.Image, f.cfg.Limits)
}
