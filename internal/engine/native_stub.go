//go:build !whispercpp

package engine

import "fmt"

// NativeAvailable reports whether the native whisper backend is compiled in.
func NativeAvailable() bool { return false }

// GPUDeviceCount is always zero without libwhisper; no ggml backends are loaded.
func GPUDeviceCount() int { return 0 }

// NewNativeEngine fails without the whispercpp build tag.
func NewNativeEngine(opts NativeOptions) (Engine, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags whispercpp to load %s", ErrNativeEngineUnavailable, opts.ModelPath)
}
