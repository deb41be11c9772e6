// Package whispercore wraps the whisper.cpp speech recognition engine.
//
// A *WhisperCore owns one engine context. New either returns a fully loaded
// instance or an *Error; there is no partially initialised state. Transcribe
// and TranscribeFile are synchronous and serialised per instance: concurrent
// callers block until the in-flight call completes. Use one instance per
// concurrent transcription stream.
package whispercore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/nupi-ai/whispercore/internal/audio"
	"github.com/nupi-ai/whispercore/internal/engine"
	"github.com/nupi-ai/whispercore/internal/telemetry"
)

// SampleRate is the rate expected by Transcribe.
const SampleRate = engine.SampleRate

// Option customises New.
type Option func(*options)

type options struct {
	config        Configuration
	logger        *slog.Logger
	meterProvider metric.MeterProvider
	language      string
	translate     bool
	stub          bool
	stubGPUs      int
}

// WithConfiguration replaces DefaultConfiguration.
func WithConfiguration(cfg Configuration) Option {
	return func(o *options) { o.config = cfg }
}

// WithLogger sets the structured logger. The default is slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMeterProvider exports transcription metrics through OpenTelemetry.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = provider }
}

// WithLanguage sets the language hint; "auto" (the default) enables detection.
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithTranslate makes the engine emit English text regardless of the
// spoken language.
func WithTranslate(translate bool) Option {
	return func(o *options) { o.translate = translate }
}

// WithStubEngine replaces libwhisper with a deterministic engine that needs no
// native build. gpuDevices is the number of GPUs the stub reports.
func WithStubEngine(gpuDevices int) Option {
	return func(o *options) {
		o.stub = true
		o.stubGPUs = gpuDevices
	}
}

// WhisperCore is a loaded speech recognition model.
type WhisperCore struct {
	// mu serialises transcription and guards engine against Close.
	mu     sync.Mutex
	engine engine.Engine

	config    Configuration
	info      engine.Info
	modelPath string
	language  string
	translate bool
	log       *slog.Logger
	metrics   *telemetry.Recorder

	closedMu sync.RWMutex
	closed   bool
}

// New loads the model at modelPath.
func New(modelPath string, opts ...Option) (*WhisperCore, error) {
	o := options{config: DefaultConfiguration(), language: "auto"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	logger := o.logger.With("component", "whispercore")

	if err := checkModelPath(modelPath); err != nil {
		logger.Error("invalid model path", "model_path", modelPath, "error", err)
		return nil, newError(CodeInvalidModelPath, "new", err)
	}
	if err := o.config.validate(); err != nil {
		return nil, newError(CodeModelLoadFailed, "new", err)
	}

	nativeOpts := o.config.nativeOptions(modelPath)
	nativeOpts.UseStub = o.stub
	nativeOpts.StubGPUDevices = o.stubGPUs

	eng, err := engine.New(nativeOpts, o.logger)
	if err != nil {
		return nil, newError(CodeModelLoadFailed, "new", err)
	}

	w := wrap(eng, o, modelPath)
	logger.Info("model loaded",
		"model_path", modelPath,
		"model", w.info.Model,
		"backend", w.info.Backend,
		"gpu_mode", o.config.GPUMode.String(),
		"using_gpu", w.info.UsingGPU,
	)
	return w, nil
}

func wrap(eng engine.Engine, o options, modelPath string) *WhisperCore {
	info := eng.Info()
	return &WhisperCore{
		engine:    eng,
		config:    o.config,
		info:      info,
		modelPath: modelPath,
		language:  o.language,
		translate: o.translate,
		log:       o.logger.With("component", "whispercore", "model", info.Model),
		metrics:   telemetry.NewRecorder(o.logger, o.meterProvider),
	}
}

func checkModelPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("model path is empty")
	}
	stat, err := os.Stat(path)
	if err != nil {
		return err
	}
	if stat.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// Transcribe recognises speech in 16 kHz mono float32 samples.
func (w *WhisperCore) Transcribe(ctx context.Context, samples []float32) (Result, error) {
	if !w.IsInitialized() {
		return w.fail("transcribe", "samples", nil, CodeContextNotInitialized, engine.ErrClosed)
	}
	if len(samples) == 0 {
		return w.fail("transcribe", "samples", nil, CodeInvalidAudioData, errors.New("no samples"))
	}
	if !audio.Valid(samples) {
		return w.fail("transcribe", "samples", nil, CodeInvalidAudioData, errors.New("samples contain NaN or Inf"))
	}
	return w.run(ctx, "transcribe", "samples", samples)
}

// TranscribeFile decodes a wav file, converts it to 16 kHz mono and transcribes it.
func (w *WhisperCore) TranscribeFile(ctx context.Context, path string) (Result, error) {
	if !w.IsInitialized() {
		return w.fail("transcribe file", "file", nil, CodeContextNotInitialized, engine.ErrClosed)
	}
	f, err := os.Open(path)
	if err != nil {
		return w.fail("transcribe file", "file", nil, CodeInvalidAudioData, err)
	}
	defer f.Close()
	return w.transcribeWAV(ctx, "transcribe file", path, f)
}

// TranscribeWAV is TranscribeFile for an already opened wav stream.
func (w *WhisperCore) TranscribeWAV(ctx context.Context, r io.ReadSeeker) (Result, error) {
	if !w.IsInitialized() {
		return w.fail("transcribe wav", "file", nil, CodeContextNotInitialized, engine.ErrClosed)
	}
	return w.transcribeWAV(ctx, "transcribe wav", "", r)
}

func (w *WhisperCore) transcribeWAV(ctx context.Context, op, name string, r io.ReadSeeker) (Result, error) {
	clip, err := audio.Decode(r)
	if err != nil {
		return w.fail(op, "file", nil, CodeInvalidAudioData, err)
	}
	samples := clip.Mono16k()
	if len(samples) == 0 {
		return w.fail(op, "file", nil, CodeInvalidAudioData, audio.ErrNoSamples)
	}
	if !audio.Valid(samples) {
		return w.fail(op, "file", nil, CodeInvalidAudioData, errors.New("samples contain NaN or Inf"))
	}
	w.log.Debug("decoded audio file",
		"path", name,
		"sample_rate", clip.SampleRate,
		"channels", clip.Channels,
		"seconds", clip.Duration(),
	)
	return w.run(ctx, op, "file", samples)
}

func (w *WhisperCore) run(ctx context.Context, op, source string, samples []float32) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := w.metrics.StartTranscription(source, len(samples), SampleRate)
	if !w.IsInitialized() {
		return w.fail(op, source, m, CodeContextNotInitialized, engine.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return w.fail(op, source, m, CodeTranscriptionFailed, err)
	}

	tr, err := w.engine.Transcribe(ctx, samples, engine.Options{Language: w.language, Translate: w.translate})
	if err != nil {
		code := CodeTranscriptionFailed
		switch {
		case errors.Is(err, engine.ErrClosed):
			code = CodeContextNotInitialized
		case errors.Is(err, engine.ErrEmptyAudio):
			code = CodeInvalidAudioData
		}
		return w.fail(op, source, m, code, err)
	}

	res := buildResult(tr, w.info)
	m.Finish(len(res.Segments), res.UsedGPU, 0, nil)
	return res, nil
}

func (w *WhisperCore) fail(op, source string, m *telemetry.TranscriptionMetrics, code ErrorCode, err error) (Result, error) {
	if m == nil {
		m = w.metrics.StartTranscription(source, 0, SampleRate)
	}
	m.Finish(0, false, int(code), err)
	return Result{}, newError(code, op, err)
}

// IsInitialized reports whether the engine context is loaded and not closed.
func (w *WhisperCore) IsInitialized() bool {
	w.closedMu.RLock()
	defer w.closedMu.RUnlock()
	return !w.closed
}

// ModelInfo describes the loaded model.
func (w *WhisperCore) ModelInfo() string {
	device := "cpu"
	if w.info.UsingGPU {
		device = fmt.Sprintf("gpu:%d", w.info.GPUDevice)
	}
	lang := "english-only"
	if w.info.Multilingual {
		lang = "multilingual"
	}
	threads := "default"
	if w.info.Threads > 0 {
		threads = fmt.Sprint(w.info.Threads)
	}
	return fmt.Sprintf("%s model=%s (%s) device=%s flash_attn=%t threads=%s path=%s",
		w.info.Backend, w.info.Model, lang, device, w.config.FlashAttention, threads, w.modelPath)
}

// IsUsingGPU reports whether the engine context was created on a GPU.
func (w *WhisperCore) IsUsingGPU() bool { return w.info.UsingGPU }

// Configuration returns the configuration used at construction.
func (w *WhisperCore) Configuration() Configuration { return w.config }

// Stats returns cumulative transcription telemetry for this instance.
func (w *WhisperCore) Stats() telemetry.Snapshot { return w.metrics.Snapshot() }

// Close releases the engine context. It waits for an in-flight transcription
// and is safe to call more than once.
func (w *WhisperCore) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closedMu.Lock()
	if w.closed {
		w.closedMu.Unlock()
		return nil
	}
	w.closed = true
	w.closedMu.Unlock()

	if err := w.engine.Close(); err != nil {
		w.log.Warn("failed to close engine", "error", err)
		return newError(CodeContextNotInitialized, "close", err)
	}
	w.log.Info("model released")
	return nil
}
