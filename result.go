package whispercore

import (
	"sort"
	"strings"
	"time"

	"github.com/nupi-ai/whispercore/internal/engine"
)

// Segment is a time-bounded span of recognised speech.
type Segment struct {
	Start      time.Duration
	End        time.Duration
	Text       string
	Confidence float32
}

func (s Segment) StartSeconds() float64 { return s.Start.Seconds() }

func (s Segment) EndSeconds() float64 { return s.End.Seconds() }

func (s Segment) Duration() time.Duration { return s.End - s.Start }

// Result is the outcome of one transcription call.
type Result struct {
	Text     string
	Segments []Segment
	// Language is the detected or forced language tag; empty when unknown.
	Language  string
	ModelUsed string
	UsedGPU   bool
}

// HasLanguage reports whether the engine reported a language.
func (r Result) HasLanguage() bool { return r.Language != "" }

func buildResult(tr engine.Transcript, info engine.Info) Result {
	segments := normaliseSegments(tr.Segments)
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	return Result{
		Text:      strings.TrimSpace(strings.Join(texts, " ")),
		Segments:  segments,
		Language:  strings.TrimSpace(tr.Language),
		ModelUsed: info.Model,
		UsedGPU:   info.UsingGPU,
	}
}

// normaliseSegments drops blank spans, orders by start and clamps bounds so
// that no segment starts before the previous one ends and none ends before
// it starts.
func normaliseSegments(in []engine.Segment) []Segment {
	out := make([]Segment, 0, len(in))
	for _, seg := range in {
		if engine.IsBlankText(seg.Text) {
			continue
		}
		out = append(out, Segment{
			Start:      max(seg.Start, 0),
			End:        max(seg.End, 0),
			Text:       strings.TrimSpace(seg.Text),
			Confidence: clampConfidence(seg.Confidence),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	var prevEnd time.Duration
	for i := range out {
		if i > 0 && out[i].Start < prevEnd {
			out[i].Start = prevEnd
		}
		if out[i].End < out[i].Start {
			out[i].End = out[i].Start
		}
		prevEnd = out[i].End
	}
	return out
}

func clampConfidence(c float32) float32 {
	switch {
	case c != c:
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
