package whispercore_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nupi-ai/whispercore"
	"github.com/nupi-ai/whispercore/internal/audio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-base.en.bin")
	if err := os.WriteFile(path, []byte("stub"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func newStub(t *testing.T, opts ...whispercore.Option) *whispercore.WhisperCore {
	t.Helper()
	opts = append([]whispercore.Option{whispercore.WithLogger(discardLogger()), whispercore.WithStubEngine(0)}, opts...)
	wc, err := whispercore.New(writeModel(t), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = wc.Close() })
	return wc
}

func TestNewRejectsInvalidModelPath(t *testing.T) {
	dir := t.TempDir()
	for name, path := range map[string]string{
		"empty":     "",
		"missing":   filepath.Join(dir, "missing.bin"),
		"directory": dir,
	} {
		t.Run(name, func(t *testing.T) {
			wc, err := whispercore.New(path, whispercore.WithLogger(discardLogger()), whispercore.WithStubEngine(0))
			if wc != nil {
				t.Fatal("expected no instance on failure")
			}
			if !errors.Is(err, whispercore.ErrInvalidModelPath) {
				t.Fatalf("expected ErrInvalidModelPath, got %v", err)
			}
		})
	}
}

func TestNewWithoutNativeBackendFails(t *testing.T) {
	wc, err := whispercore.New(writeModel(t), whispercore.WithLogger(discardLogger()))
	if err == nil {
		// Built with the whispercpp tag: a fake model file must not load.
		_ = wc.Close()
		t.Fatal("expected load failure for a fake model file")
	}
	if wc != nil {
		t.Fatal("expected no instance on failure")
	}
	if !errors.Is(err, whispercore.ErrModelLoadFailed) {
		t.Fatalf("expected ErrModelLoadFailed, got %v", err)
	}
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	cfg := whispercore.DefaultConfiguration()
	cfg.Threads = -1
	wc, err := whispercore.New(writeModel(t),
		whispercore.WithLogger(discardLogger()),
		whispercore.WithStubEngine(0),
		whispercore.WithConfiguration(cfg),
	)
	if wc != nil || !errors.Is(err, whispercore.ErrModelLoadFailed) {
		t.Fatalf("expected ErrModelLoadFailed and no instance, got %v, %v", wc, err)
	}
}

func TestGPURequiredWithoutGPUFails(t *testing.T) {
	wc, err := whispercore.New(writeModel(t),
		whispercore.WithLogger(discardLogger()),
		whispercore.WithStubEngine(0),
		whispercore.WithConfiguration(whispercore.NewConfiguration(whispercore.GPURequired)),
	)
	if wc != nil {
		t.Fatal("expected no instance when the GPU is required but absent")
	}
	if !errors.Is(err, whispercore.ErrModelLoadFailed) {
		t.Fatalf("expected ErrModelLoadFailed, got %v", err)
	}
}

func TestGPUPreferredFallsBackToCPU(t *testing.T) {
	wc := newStub(t, whispercore.WithConfiguration(whispercore.NewConfiguration(whispercore.GPUPreferred)))
	if wc.IsUsingGPU() {
		t.Fatal("expected CPU fallback")
	}
	res, err := wc.Transcribe(context.Background(), make([]float32, whispercore.SampleRate))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.UsedGPU {
		t.Fatal("expected UsedGPU false")
	}
}

func TestGPUUsedWhenAvailable(t *testing.T) {
	wc, err := whispercore.New(writeModel(t),
		whispercore.WithLogger(discardLogger()),
		whispercore.WithStubEngine(1),
		whispercore.WithConfiguration(whispercore.NewConfiguration(whispercore.GPURequired)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer wc.Close()
	if !wc.IsUsingGPU() {
		t.Fatal("expected GPU in use")
	}
	if !strings.Contains(wc.ModelInfo(), "device=gpu:0") {
		t.Fatalf("model info does not mention gpu: %q", wc.ModelInfo())
	}
}

func TestTranscribeRejectsEmptyAudio(t *testing.T) {
	wc := newStub(t)
	for name, samples := range map[string][]float32{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			res, err := wc.Transcribe(context.Background(), samples)
			if !errors.Is(err, whispercore.ErrInvalidAudioData) {
				t.Fatalf("expected ErrInvalidAudioData, got %v", err)
			}
			if res.Text != "" || res.Segments != nil {
				t.Fatalf("expected zero result, got %+v", res)
			}
		})
	}
}

func TestTranscribeRejectsNonFiniteSamples(t *testing.T) {
	wc := newStub(t)
	var zero float32
	samples := []float32{0, zero / zero}
	if _, err := wc.Transcribe(context.Background(), samples); !errors.Is(err, whispercore.ErrInvalidAudioData) {
		t.Fatalf("expected ErrInvalidAudioData, got %v", err)
	}
}

func TestTranscribeSegmentsAreOrdered(t *testing.T) {
	wc := newStub(t, whispercore.WithLanguage("en"))
	res, err := wc.Transcribe(context.Background(), make([]float32, whispercore.SampleRate*17))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Segments) == 0 || res.Text == "" {
		t.Fatalf("expected a populated result, got %+v", res)
	}
	for i, seg := range res.Segments {
		if seg.End < seg.Start {
			t.Fatalf("segment %d ends before it starts", i)
		}
		if i > 0 && seg.Start < res.Segments[i-1].End {
			t.Fatalf("segment %d overlaps previous", i)
		}
	}
	if res.Language != "en" {
		t.Fatalf("expected language en, got %q", res.Language)
	}
	if res.ModelUsed != "stub:ggml-base.en" {
		t.Fatalf("unexpected model %q", res.ModelUsed)
	}
}

func TestTranscribeCancelledContext(t *testing.T) {
	wc := newStub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := wc.Transcribe(ctx, make([]float32, 160))
	if !errors.Is(err, whispercore.ErrTranscriptionFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected transcription failure wrapping context.Canceled, got %v", err)
	}
	if !wc.IsInitialized() {
		t.Fatal("failure must not change initialisation state")
	}
}

func TestTranscribeFile(t *testing.T) {
	wc := newStub(t)

	path := filepath.Join(t.TempDir(), "speech.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := audio.EncodeWAV(f, make([]float32, 44100*6), 44100); err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	f.Close()

	res, err := wc.TranscribeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 segments for 6s of audio, got %d", len(res.Segments))
	}
}

func TestTranscribeFileInvalid(t *testing.T) {
	wc := newStub(t)
	garbage := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(garbage, []byte("not audio"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	for name, path := range map[string]string{
		"missing": filepath.Join(t.TempDir(), "missing.wav"),
		"garbage": garbage,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := wc.TranscribeFile(context.Background(), path); !errors.Is(err, whispercore.ErrInvalidAudioData) {
				t.Fatalf("expected ErrInvalidAudioData, got %v", err)
			}
		})
	}
}

func TestCloseIsIdempotentAndBlocksTranscription(t *testing.T) {
	wc := newStub(t)
	if !wc.IsInitialized() {
		t.Fatal("expected initialised instance")
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := wc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if wc.IsInitialized() {
		t.Fatal("expected closed instance")
	}
	if _, err := wc.Transcribe(context.Background(), make([]float32, 16)); !errors.Is(err, whispercore.ErrContextNotInitialized) {
		t.Fatalf("expected ErrContextNotInitialized, got %v", err)
	}
	if _, err := wc.TranscribeFile(context.Background(), "any.wav"); !errors.Is(err, whispercore.ErrContextNotInitialized) {
		t.Fatalf("expected ErrContextNotInitialized, got %v", err)
	}
	if got := wc.Configuration(); got != whispercore.DefaultConfiguration() {
		t.Fatalf("configuration changed after close: %+v", got)
	}
}

func TestConcurrentTranscriptionsSucceed(t *testing.T) {
	wc := newStub(t)
	samples := make([]float32, whispercore.SampleRate*2)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := wc.Transcribe(context.Background(), samples); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Transcribe: %v", err)
	}

	stats := wc.Stats()
	if stats.TotalTranscriptions != 8 || stats.InFlight != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestIntrospection(t *testing.T) {
	cfg := whispercore.Configuration{GPUMode: whispercore.GPUDisabled, FlashAttention: false, Threads: 3}
	wc := newStub(t, whispercore.WithConfiguration(cfg))
	if got := wc.Configuration(); got != cfg {
		t.Fatalf("Configuration() = %+v, want %+v", got, cfg)
	}
	info := wc.ModelInfo()
	for _, part := range []string{"stub", "device=cpu", "flash_attn=false", "threads=3"} {
		if !strings.Contains(info, part) {
			t.Fatalf("ModelInfo() = %q, missing %q", info, part)
		}
	}
}
