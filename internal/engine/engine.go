package engine

import (
	"context"
	"time"
)

// SampleRate is the only input rate accepted by Transcribe.
const SampleRate = 16000

// Engine is the opaque speech-recognition backend behind the public facade.
// Implementations are not safe for concurrent Transcribe calls; callers serialise.
type Engine interface {
	// Transcribe decodes a complete buffer of 16 kHz mono float32 samples.
	Transcribe(ctx context.Context, samples []float32, opts Options) (Transcript, error)
	// Info describes the loaded model and the backend actually in use.
	Info() Info
	// Close releases the engine context. Subsequent calls fail with ErrClosed.
	Close() error
}

// Options configures a single Transcribe call.
type Options struct {
	// Language is an ISO 639-1 hint, or "auto" for detection.
	Language  string
	Translate bool
}

// Segment is one time-bounded span reported by the engine.
type Segment struct {
	Start      time.Duration
	End        time.Duration
	Text       string
	Confidence float32
}

// Transcript is the raw engine output for one call.
type Transcript struct {
	Segments []Segment
	// Language is the detected or forced language, empty when unknown.
	Language string
}

// Info captures static facts about a loaded engine.
type Info struct {
	Backend      string
	Model        string
	ModelPath    string
	Multilingual bool
	UsingGPU     bool
	GPUDevice    int
	Threads      int
}
