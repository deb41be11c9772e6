package engine

// GPUPolicy mirrors the public GPU mode without importing the root package.
type GPUPolicy int

const (
	GPUOff GPUPolicy = iota
	GPUPrefer
	GPURequire
)

func (p GPUPolicy) String() string {
	switch p {
	case GPUOff:
		return "off"
	case GPUPrefer:
		return "prefer"
	case GPURequire:
		return "require"
	default:
		return "unknown"
	}
}

// NativeOptions configures engine construction. Pointer fields are optional and
// fall back to the engine defaults when nil.
type NativeOptions struct {
	ModelPath string
	GPU       GPUPolicy
	GPUDevice int
	// FlashAttention toggles flash attention in the context params.
	FlashAttention *bool
	// Threads sets n_threads for whisper_full; nil keeps the engine default.
	Threads *int
	// UseStub selects the deterministic stub backend instead of libwhisper.
	UseStub bool
	// StubGPUDevices is the number of GPU devices the stub pretends to have.
	StubGPUDevices int
}

// resolveGPU decides whether the context should be created with use_gpu set,
// given the number of GPU devices the backend can see.
func resolveGPU(policy GPUPolicy, device, available int) (bool, error) {
	switch policy {
	case GPUOff:
		return false, nil
	case GPUPrefer:
		return device >= 0 && device < available, nil
	case GPURequire:
		if device < 0 || device >= available {
			return false, ErrGPUUnavailable
		}
		return true, nil
	default:
		return false, ErrInvalidOptions
	}
}
