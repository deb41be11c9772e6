// Package audio converts recorded audio into the 16 kHz mono float32 buffers
// whisper expects.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// TargetRate is the sample rate whisper models are trained on.
const TargetRate = 16000

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

var (
	// ErrInvalidWAV is returned for files that are not RIFF/WAVE.
	ErrInvalidWAV = errors.New("audio: not a valid wav file")
	// ErrUnsupportedFormat is returned for compressed or exotic sample formats.
	ErrUnsupportedFormat = errors.New("audio: unsupported sample format")
	// ErrNoSamples is returned when a file decodes to zero frames.
	ErrNoSamples = errors.New("audio: no samples")
)

// Clip holds interleaved float32 samples normalised to [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration reports the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)/c.Channels) / float64(c.SampleRate)
}

// Mono16k downmixes and resamples the clip to TargetRate mono.
func (c Clip) Mono16k() []float32 {
	return Resample(Downmix(c.Samples, c.Channels), c.SampleRate, TargetRate)
}

// DecodeFile opens and decodes a wav file.
func DecodeFile(path string) (Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a complete wav stream.
func Decode(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode pcm: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return Clip{}, ErrInvalidWAV
	}

	channels := buf.Format.NumChannels
	rate := buf.Format.SampleRate
	if channels <= 0 || rate <= 0 {
		return Clip{}, ErrInvalidWAV
	}
	if len(buf.Data) < channels {
		return Clip{}, ErrNoSamples
	}

	samples, err := normalise(buf, int(dec.WavAudioFormat), int(dec.BitDepth))
	if err != nil {
		return Clip{}, err
	}
	return Clip{Samples: samples, SampleRate: rate, Channels: channels}, nil
}

func normalise(buf *goaudio.IntBuffer, format, bitDepth int) ([]float32, error) {
	out := make([]float32, len(buf.Data))
	switch {
	case format == wavFormatFloat && bitDepth == 32:
		for i, v := range buf.Data {
			out[i] = math.Float32frombits(uint32(int32(v)))
		}
	case format == wavFormatPCM && bitDepth == 8:
		for i, v := range buf.Data {
			out[i] = float32(v-128) / 128
		}
	case format == wavFormatPCM && (bitDepth == 16 || bitDepth == 24 || bitDepth == 32):
		scale := float32(int64(1) << (bitDepth - 1))
		for i, v := range buf.Data {
			out[i] = float32(v) / scale
		}
	default:
		return nil, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedFormat, format, bitDepth)
	}
	return out, nil
}

// Downmix averages interleaved channels into a mono buffer.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples between rates using linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

// PCM16ToFloat32 converts little-endian signed 16-bit PCM. A trailing odd
// byte is ignored.
func PCM16ToFloat32(buf []byte) []float32 {
	n := len(buf) / 2
	if n == 0 {
		return nil
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(buf[2*i:]))) / 32768.0
	}
	return samples
}

// EncodeWAV writes mono float32 samples as 16-bit PCM wav.
func EncodeWAV(w io.WriteSeeker, samples []float32, sampleRate int) error {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(clamp(s) * math.MaxInt16)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(w, sampleRate, 16, 1, wavFormatPCM)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return nil
}

// Valid reports whether every sample is finite.
func Valid(samples []float32) bool {
	for _, s := range samples {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func clamp(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	default:
		return s
	}
}
