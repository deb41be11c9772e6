package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/nupi-ai/whispercore/internal/moduleinfo"
)

// stubWindow is the span covered by each synthetic segment.
const stubWindow = 5 * time.Second

// StubEngine produces deterministic transcripts without invoking Whisper.
type StubEngine struct {
	log    *slog.Logger
	info   Info
	closed bool
}

// NewStubEngine returns an Engine that generates placeholder transcripts. GPU
// policy is resolved against opts.StubGPUDevices, so a required GPU fails on a
// stub with no devices exactly like the native backend would.
func NewStubEngine(logger *slog.Logger, opts NativeOptions) (*StubEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	useGPU, err := resolveGPU(opts.GPU, opts.GPUDevice, opts.StubGPUDevices)
	if err != nil {
		return nil, err
	}
	threads := 0
	if opts.Threads != nil {
		threads = *opts.Threads
	}
	model := "stub:" + strings.TrimSuffix(filepath.Base(opts.ModelPath), filepath.Ext(opts.ModelPath))
	return &StubEngine{
		log: logger.With(
			"component", "engine.stub",
			"module", moduleinfo.Info.Slug,
			"model", model,
		),
		info: Info{
			Backend:      "stub",
			Model:        model,
			ModelPath:    opts.ModelPath,
			Multilingual: true,
			UsingGPU:     useGPU,
			GPUDevice:    opts.GPUDevice,
			Threads:      threads,
		},
	}, nil
}

// Info implements the Engine interface.
func (e *StubEngine) Info() Info { return e.info }

// Close implements the Engine interface.
func (e *StubEngine) Close() error {
	e.closed = true
	return nil
}

// Transcribe implements the Engine interface. Each window of stubWindow audio
// yields one segment.
func (e *StubEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (Transcript, error) {
	if e.closed {
		return Transcript{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}
	if len(samples) == 0 {
		return Transcript{}, ErrEmptyAudio
	}

	total := samplesToDuration(len(samples))
	var segments []Segment
	for start, n := time.Duration(0), 1; start < total; start, n = start+stubWindow, n+1 {
		end := start + stubWindow
		if end > total {
			end = total
		}
		segments = append(segments, Segment{
			Start:      start,
			End:        end,
			Text:       fmt.Sprintf("[stub:%s] segment %d", e.info.Model, n),
			Confidence: 0.42,
		})
	}

	lang := normaliseLanguage(opts.Language, "")
	if lang == "auto" {
		lang = ""
	}
	e.log.Debug("stub transcript", "samples", len(samples), "segments", len(segments), "language", lang)
	return Transcript{Segments: segments, Language: lang}, nil
}

func samplesToDuration(n int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / SampleRate)
}
