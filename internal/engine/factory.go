package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrNativeEngineUnavailable indicates the binary was built without the whispercpp tag.
	ErrNativeEngineUnavailable = errors.New("engine: native backend unavailable")
	// ErrGPUUnavailable is returned when GPU execution is required but no device matches.
	ErrGPUUnavailable = errors.New("engine: gpu required but not available")
	// ErrInvalidOptions reports construction options the engine cannot honour.
	ErrInvalidOptions = errors.New("engine: invalid options")
	// ErrClosed is returned by calls on an engine whose context was released.
	ErrClosed = errors.New("engine: context closed")
	// ErrEmptyAudio is returned for zero-length sample buffers.
	ErrEmptyAudio = errors.New("engine: empty audio")
)

// New returns the engine selected by opts. There is no silent fallback: a
// requested native backend that cannot load is an error.
func New(opts NativeOptions, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("engine: model path required")
	}
	if opts.GPUDevice < 0 {
		return nil, fmt.Errorf("%w: gpu device must be >= 0, got %d", ErrInvalidOptions, opts.GPUDevice)
	}
	if opts.Threads != nil && *opts.Threads < 0 {
		return nil, fmt.Errorf("%w: threads must be >= 0, got %d", ErrInvalidOptions, *opts.Threads)
	}

	if opts.UseStub {
		stub, err := NewStubEngine(logger, opts)
		if err != nil {
			return nil, err
		}
		logger.Warn("stub engine forced by configuration", "model_path", opts.ModelPath)
		return stub, nil
	}

	if !NativeAvailable() {
		logger.Error("native backend disabled at build time", "model_path", opts.ModelPath)
		return nil, ErrNativeEngineUnavailable
	}

	native, err := NewNativeEngine(opts)
	if err != nil {
		logger.Error("native engine initialisation failed", "error", err, "model_path", opts.ModelPath)
		return nil, err
	}
	info := native.Info()
	logger.Info("native engine ready",
		"model_path", opts.ModelPath,
		"model", info.Model,
		"gpu", info.UsingGPU,
		"gpu_policy", opts.GPU.String(),
	)
	return native, nil
}
