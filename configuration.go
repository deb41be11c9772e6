package whispercore

import (
	"fmt"
	"strings"

	"github.com/nupi-ai/whispercore/internal/engine"
)

// GPUMode governs whether hardware acceleration is disabled, attempted with
// CPU fallback, or mandatory.
type GPUMode int

const (
	// GPUDisabled runs on the CPU only.
	GPUDisabled GPUMode = 0
	// GPUPreferred uses the GPU when one is available and falls back to the CPU.
	GPUPreferred GPUMode = 1
	// GPURequired fails construction when no GPU is available.
	GPURequired GPUMode = 2
)

func (m GPUMode) String() string {
	switch m {
	case GPUDisabled:
		return "disabled"
	case GPUPreferred:
		return "preferred"
	case GPURequired:
		return "required"
	default:
		return fmt.Sprintf("GPUMode(%d)", int(m))
	}
}

// ParseGPUMode accepts the String form plus a few common aliases.
func ParseGPUMode(value string) (GPUMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "disabled", "off", "cpu", "false":
		return GPUDisabled, nil
	case "preferred", "auto", "", "true":
		return GPUPreferred, nil
	case "required", "gpu":
		return GPURequired, nil
	default:
		return 0, fmt.Errorf("whispercore: unknown gpu mode %q", value)
	}
}

func (m GPUMode) policy() (engine.GPUPolicy, bool) {
	switch m {
	case GPUDisabled:
		return engine.GPUOff, true
	case GPUPreferred:
		return engine.GPUPrefer, true
	case GPURequired:
		return engine.GPURequire, true
	default:
		return 0, false
	}
}

// Configuration holds the engine settings fixed at construction time.
type Configuration struct {
	GPUMode GPUMode
	// GPUDevice selects the GPU by index among detected GPU devices.
	GPUDevice      int
	FlashAttention bool
	// Threads is the CPU thread count; 0 leaves it to the engine.
	Threads int
}

// DefaultConfiguration prefers the GPU on device 0 with flash attention enabled.
func DefaultConfiguration() Configuration {
	return Configuration{
		GPUMode:        GPUPreferred,
		GPUDevice:      0,
		FlashAttention: true,
		Threads:        0,
	}
}

// NewConfiguration returns the defaults with the given GPU mode.
func NewConfiguration(mode GPUMode) Configuration {
	cfg := DefaultConfiguration()
	cfg.GPUMode = mode
	return cfg
}

func (c Configuration) validate() error {
	if _, ok := c.GPUMode.policy(); !ok {
		return fmt.Errorf("unknown gpu mode %d", int(c.GPUMode))
	}
	if c.GPUDevice < 0 {
		return fmt.Errorf("gpu device must be >= 0, got %d", c.GPUDevice)
	}
	if c.Threads < 0 {
		return fmt.Errorf("threads must be >= 0, got %d", c.Threads)
	}
	return nil
}

func (c Configuration) nativeOptions(modelPath string) engine.NativeOptions {
	policy, _ := c.GPUMode.policy()
	flash := c.FlashAttention
	opts := engine.NativeOptions{
		ModelPath:      modelPath,
		GPU:            policy,
		GPUDevice:      c.GPUDevice,
		FlashAttention: &flash,
	}
	if c.Threads > 0 {
		threads := c.Threads
		opts.Threads = &threads
	}
	return opts
}
