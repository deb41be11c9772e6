package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// InstrumentationName is the meter name used for all whispercore instruments.
const InstrumentationName = "github.com/nupi-ai/whispercore"

// failureCodes are the error codes tracked individually; anything else lands in bucket 0.
var failureCodes = []int{1001, 1002, 1003, 1004, 1005}

// Recorder tracks transcription telemetry. Totals are kept locally for
// Snapshot and mirrored into OpenTelemetry instruments.
type Recorder struct {
	log *slog.Logger

	totalTranscriptions atomic.Uint64
	inFlight            atomic.Int64
	totalSamples        atomic.Uint64
	totalGPURuns        atomic.Uint64
	totalSegments       atomic.Uint64
	audioMillis         atomic.Uint64
	failures            map[int]*atomic.Uint64

	transcriptions metric.Int64Counter
	failureCounter metric.Int64Counter
	audioSeconds   metric.Float64Counter
	duration       metric.Float64Histogram
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	TotalTranscriptions uint64
	InFlight            int64
	TotalSamples        uint64
	TotalSegments       uint64
	TotalGPURuns        uint64
	AudioSeconds        float64
	Failures            map[int]uint64
}

// TotalFailures sums failures across all codes.
func (s Snapshot) TotalFailures() uint64 {
	var total uint64
	for _, n := range s.Failures {
		total += n
	}
	return total
}

// NewRecorder constructs a Recorder. A nil provider records to a noop meter.
func NewRecorder(logger *slog.Logger, provider metric.MeterProvider) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	r := &Recorder{
		log:      logger.With("component", "telemetry.Recorder"),
		failures: make(map[int]*atomic.Uint64, len(failureCodes)+1),
	}
	r.failures[0] = new(atomic.Uint64)
	for _, code := range failureCodes {
		r.failures[code] = new(atomic.Uint64)
	}

	meter := provider.Meter(InstrumentationName)
	var err error
	if r.transcriptions, err = meter.Int64Counter("whispercore.transcriptions",
		metric.WithDescription("Completed transcription calls.")); err != nil {
		r.log.Warn("failed to create instrument", "instrument", "whispercore.transcriptions", "error", err)
		r.transcriptions = noop.Int64Counter{}
	}
	if r.failureCounter, err = meter.Int64Counter("whispercore.transcription.failures",
		metric.WithDescription("Failed transcription calls by error code.")); err != nil {
		r.log.Warn("failed to create instrument", "instrument", "whispercore.transcription.failures", "error", err)
		r.failureCounter = noop.Int64Counter{}
	}
	if r.audioSeconds, err = meter.Float64Counter("whispercore.audio.seconds",
		metric.WithDescription("Seconds of audio submitted for transcription."),
		metric.WithUnit("s")); err != nil {
		r.log.Warn("failed to create instrument", "instrument", "whispercore.audio.seconds", "error", err)
		r.audioSeconds = noop.Float64Counter{}
	}
	if r.duration, err = meter.Float64Histogram("whispercore.transcription.duration",
		metric.WithDescription("Wall time spent per transcription call."),
		metric.WithUnit("s")); err != nil {
		r.log.Warn("failed to create instrument", "instrument", "whispercore.transcription.duration", "error", err)
		r.duration = noop.Float64Histogram{}
	}
	return r
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	failures := make(map[int]uint64, len(r.failures))
	for code, n := range r.failures {
		if v := n.Load(); v > 0 {
			failures[code] = v
		}
	}
	return Snapshot{
		TotalTranscriptions: r.totalTranscriptions.Load(),
		InFlight:            r.inFlight.Load(),
		TotalSamples:        r.totalSamples.Load(),
		TotalSegments:       r.totalSegments.Load(),
		TotalGPURuns:        r.totalGPURuns.Load(),
		AudioSeconds:        float64(r.audioMillis.Load()) / 1000,
		Failures:            failures,
	}
}

// TranscriptionMetrics accumulates statistics for a single transcription call.
type TranscriptionMetrics struct {
	recorder *Recorder
	log      *slog.Logger

	source  string
	samples int
	started time.Time
	closed  atomic.Bool
}

// StartTranscription marks a call as in flight. sampleRate converts the
// sample count to audio seconds.
func (r *Recorder) StartTranscription(source string, samples, sampleRate int) *TranscriptionMetrics {
	if r == nil {
		return nil
	}
	r.inFlight.Add(1)
	r.totalSamples.Add(uint64(max(samples, 0)))
	if sampleRate > 0 && samples > 0 {
		millis := uint64(samples) * 1000 / uint64(sampleRate)
		r.audioMillis.Add(millis)
		r.audioSeconds.Add(context.Background(), float64(millis)/1000,
			metric.WithAttributes(attribute.String("source", source)))
	}
	return &TranscriptionMetrics{
		recorder: r,
		log:      r.log.With("source", source),
		source:   source,
		samples:  samples,
		started:  time.Now(),
	}
}

// Finish records the outcome. code is the whispercore error code when err is non-nil.
func (m *TranscriptionMetrics) Finish(segments int, usedGPU bool, code int, err error) {
	if m == nil {
		return
	}
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	r := m.recorder
	defer r.inFlight.Add(-1)

	elapsed := time.Since(m.started)
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("source", m.source),
		attribute.Bool("gpu", usedGPU),
	)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)

	args := []any{
		"duration_ms", elapsed.Milliseconds(),
		"samples", m.samples,
		"segments", segments,
		"gpu", usedGPU,
	}

	if err != nil {
		bucket, ok := r.failures[code]
		if !ok {
			bucket = r.failures[0]
		}
		bucket.Add(1)
		r.failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", m.source),
			attribute.Int("code", code),
		))
		m.log.Error("transcription failed", append(args, "code", code, "error", err)...)
		return
	}

	r.totalTranscriptions.Add(1)
	r.totalSegments.Add(uint64(max(segments, 0)))
	if usedGPU {
		r.totalGPURuns.Add(1)
	}
	r.transcriptions.Add(ctx, 1, attrs)
	m.log.Info("transcription completed", args...)
}
