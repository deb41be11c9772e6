package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nupi-ai/whispercore"
	"github.com/nupi-ai/whispercore/internal/audio"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in).Level(); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTimestamp(t *testing.T) {
	tests := map[float64]string{
		0:       "00:00:00.000",
		1.5:     "00:00:01.500",
		3723.25: "01:02:03.250",
	}
	for in, want := range tests {
		if got := timestamp(in); got != want {
			t.Fatalf("timestamp(%v) = %q, want %q", in, got, want)
		}
	}
}

func sampleResult() whispercore.Result {
	return whispercore.Result{
		Text:      "hello world",
		Language:  "en",
		ModelUsed: "ggml-base",
		Segments: []whispercore.Segment{
			{Start: 0, End: 1500 * time.Millisecond, Text: "hello", Confidence: 0.9},
			{Start: 1500 * time.Millisecond, End: 3 * time.Second, Text: "world", Confidence: 0.8},
		},
	}
}

func TestWriteResultFormats(t *testing.T) {
	var text bytes.Buffer
	if err := writeResult(&text, "text", sampleResult()); err != nil {
		t.Fatalf("text: %v", err)
	}
	want := "[00:00:00.000 --> 00:00:01.500] hello\n[00:00:01.500 --> 00:00:03.000] world\n"
	if text.String() != want {
		t.Fatalf("unexpected text output:\n%s", text.String())
	}

	var js bytes.Buffer
	if err := writeResult(&js, "json", sampleResult()); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded transcriptOutput
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if decoded.Text != "hello world" || len(decoded.Segments) != 2 || decoded.Segments[1].End != 3 {
		t.Fatalf("unexpected json output %+v", decoded)
	}

	var ym bytes.Buffer
	if err := writeResult(&ym, "yaml", sampleResult()); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var fromYAML transcriptOutput
	if err := yaml.Unmarshal(ym.Bytes(), &fromYAML); err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if fromYAML.Language != "en" || fromYAML.Metadata["model"] != "ggml-base" {
		t.Fatalf("unexpected yaml output %+v", fromYAML)
	}
}

func TestTranscribeCommandWithStub(t *testing.T) {
	for _, key := range []string{"WHISPERCORE_CONFIG_FILE", "WHISPERCORE_CONFIG", "WHISPERCORE_MODEL_PATH"} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-tiny.bin")
	if err := os.WriteFile(model, []byte("stub"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	wavPath := filepath.Join(dir, "clip.wav")
	f, err := os.Create(wavPath)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := audio.EncodeWAV(f, make([]float32, audio.TargetRate*8), audio.TargetRate); err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	f.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"transcribe", "--stub", "--model", model, "--language", "de", "--log-level", "error", "--format", "json", wavPath})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var decoded transcriptOutput
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if len(decoded.Segments) != 2 || decoded.Language != "de" {
		t.Fatalf("unexpected output %+v", decoded)
	}
	if !strings.HasPrefix(decoded.ModelUsed, "stub:") {
		t.Fatalf("expected stub model, got %q", decoded.ModelUsed)
	}
}

func TestTranscribeTimeoutFlag(t *testing.T) {
	flag := transcribeCmd.Flags().Lookup("timeout")
	if flag == nil {
		t.Fatal("transcribe has no --timeout flag")
	}
	if !strings.Contains(flag.Usage, "before inference starts") {
		t.Fatalf("unexpected --timeout usage %q", flag.Usage)
	}
}
