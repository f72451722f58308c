// Package supervisor owns the lifecycle of the spawned vendor process.
//
// The vendor stack is launched either natively, by executing its
// entrypoint script, or as a containerized fallback when the entrypoint
// does not exist on the local filesystem. Callers hold a Handle and never
// need to know which variant is active: Stop has one contract for both.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/elbios/vendorgw/internal/observability"
)

// DefaultGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 10 * time.Second

// ErrLaunchFailure indicates the vendor process could not be started.
var ErrLaunchFailure = errors.New("vendor process launch failed")

// State represents the supervisor lifecycle state.
type State int32

const (
	// StateNotStarted indicates the vendor process has not been launched.
	StateNotStarted State = iota
	// StateStarting indicates the launch is in progress.
	StateStarting
	// StateRunning indicates the process has been spawned. Readiness of
	// its service ports is established separately by the prober.
	StateRunning
	// StateStopping indicates termination is in progress.
	StateStopping
	// StateStopped indicates the process has been released.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Mode distinguishes the launch variants.
type Mode int

const (
	// ModeNative runs the entrypoint script directly as a subprocess.
	ModeNative Mode = iota
	// ModeContainer runs the vendor image via docker as a fallback.
	ModeContainer
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	if m == ModeContainer {
		return "container"
	}
	return "native"
}

// LaunchConfig describes how to start the vendor process.
type LaunchConfig struct {
	// Label names the process for container naming and logs.
	Label string

	// Entrypoint is the native launch script. Native mode is chosen
	// when it exists on the local filesystem.
	Entrypoint string

	// Image is the container image for fallback mode.
	Image string

	// Ports are mapped 1:1 host to container in fallback mode.
	Ports []int

	// EnvKeys and EnvPrefixes select environment variables forwarded
	// into the container. Unset variables are omitted, never forwarded
	// as empty strings.
	EnvKeys     []string
	EnvPrefixes []string

	// GPUOverrideEnv names an env var whose value, when set, is passed
	// verbatim as the --gpus flag instead of local detection.
	GPUOverrideEnv string

	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration

	Logger observability.Logger
}

// Handle tracks the vendor process so it can be released exactly once.
// Stop is idempotent and safe to call whether or not the launch fully
// succeeded.
type Handle struct {
	mode          Mode
	cmd           *exec.Cmd
	containerName string
	gracePeriod   time.Duration
	logger        observability.Logger

	state    atomic.Int32
	stopOnce sync.Once
	waitCh   chan error
}

// Mode returns the launch variant.
func (h *Handle) Mode() Mode {
	return h.mode
}

// ContainerName returns the container name in fallback mode, or "".
func (h *Handle) ContainerName() string {
	return h.containerName
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Launch starts the vendor process and returns its handle. The process is
// Running once spawned; port readiness is gated separately.
func Launch(ctx context.Context, cfg LaunchConfig) (*Handle, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	h := &Handle{
		gracePeriod: cfg.GracePeriod,
		logger:      logger,
		waitCh:      make(chan error, 1),
	}
	if h.gracePeriod <= 0 {
		h.gracePeriod = DefaultGracePeriod
	}
	h.state.Store(int32(StateStarting))

	if _, err := os.Stat(cfg.Entrypoint); err == nil {
		if err := h.launchNative(ctx, cfg); err != nil {
			h.state.Store(int32(StateStopped))
			return nil, err
		}
	} else {
		if err := h.launchContainer(ctx, cfg); err != nil {
			h.state.Store(int32(StateStopped))
			return nil, err
		}
	}

	go func() {
		h.waitCh <- h.cmd.Wait()
	}()

	h.state.Store(int32(StateRunning))
	logger.Info("vendor process launched",
		observability.String("mode", h.mode.String()),
		observability.String("container", h.containerName),
		observability.Int("pid", h.cmd.Process.Pid),
	)
	return h, nil
}

func (h *Handle) launchNative(_ context.Context, cfg LaunchConfig) error {
	h.mode = ModeNative
	// The vendor process outlives the boot context; its lifetime is
	// bounded by Stop, not by ctx.
	cmd := exec.Command("bash", "-lc", cfg.Entrypoint) //nolint:gosec // operator-supplied entrypoint
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: entrypoint %s: %v", ErrLaunchFailure, cfg.Entrypoint, err)
	}
	h.cmd = cmd
	return nil
}

func (h *Handle) launchContainer(ctx context.Context, cfg LaunchConfig) error {
	h.mode = ModeContainer
	if cfg.Image == "" {
		return fmt.Errorf("%w: entrypoint %s missing and no container image configured",
			ErrLaunchFailure, cfg.Entrypoint)
	}

	h.containerName = fmt.Sprintf("%s-%d-%s", cfg.Label, os.Getpid(), containerSuffix())

	// Remove any stale container with the same name. Idempotent.
	_ = exec.CommandContext(ctx, "docker", "rm", "-f", h.containerName).Run()

	args := []string{"run", "--rm", "--name", h.containerName}
	args = append(args, gpuFlags(cfg.GPUOverrideEnv)...)
	for _, port := range cfg.Ports {
		args = append(args, "-p", fmt.Sprintf("%d:%d", port, port))
	}
	args = append(args, envFlags(cfg.EnvKeys, cfg.EnvPrefixes)...)
	args = append(args, cfg.Image)

	cmd := exec.Command("docker", args...) //nolint:gosec // args assembled above
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: docker run %s: %v", ErrLaunchFailure, cfg.Image, err)
	}
	h.cmd = cmd
	return nil
}

// Stop releases the vendor process: SIGTERM, bounded grace wait, SIGKILL.
// Containerized handles additionally get a forced container removal
// regardless of the outcome, which is safe even if the container already
// exited. Stop is idempotent.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.state.Store(int32(StateStopping))
		defer h.state.Store(int32(StateStopped))

		if h.cmd != nil && h.cmd.Process != nil {
			h.terminate()
		}

		if h.containerName != "" {
			if err := exec.Command("docker", "rm", "-f", h.containerName).Run(); err != nil {
				h.logger.Debug("container removal after stop",
					observability.String("container", h.containerName),
					observability.Error(err),
				)
			}
		}
	})
}

func (h *Handle) terminate() {
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited.
		return
	}

	select {
	case <-h.waitCh:
		return
	case <-time.After(h.gracePeriod):
	}

	h.logger.Warn("vendor process did not exit within grace period, killing",
		observability.Duration("grace", h.gracePeriod),
	)
	_ = h.cmd.Process.Kill()
	<-h.waitCh
}

// Exited reports whether the vendor process has already terminated on its
// own; a crashed vendor shows up as sustained unhealthy probes, and this
// lets the health surface name the cause.
func (h *Handle) Exited() bool {
	select {
	case err := <-h.waitCh:
		// Preserve the observation for later callers.
		h.waitCh <- err
		return true
	default:
		return false
	}
}

func containerSuffix() string {
	return fmt.Sprintf("%x", [16]byte(uuid.New()))[:6]
}

func gpuFlags(overrideEnv string) []string {
	if overrideEnv != "" {
		if override := os.Getenv(overrideEnv); override != "" {
			return []string{"--gpus", override}
		}
	}
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		// No GPU runtime detectable: asserting GPU flags on such a host
		// would make the launch fail outright instead of degrading.
		return nil
	}
	flags := []string{"--gpus", "all"}
	if _, err := os.Stat("/usr/bin/nvidia-container-runtime"); err == nil {
		flags = append(flags, "--runtime", "nvidia")
	}
	return flags
}

func envFlags(keys, prefixes []string) []string {
	var flags []string
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			flags = append(flags, "-e", key+"="+value)
		}
	}
	for _, prefix := range prefixes {
		for _, kv := range os.Environ() {
			if len(kv) > len(prefix) && kv[:len(prefix)] == prefix {
				flags = append(flags, "-e", kv)
			}
		}
	}
	return flags
}
