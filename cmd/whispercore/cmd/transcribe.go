package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nupi-ai/whispercore"
	"github.com/nupi-ai/whispercore/internal/moduleinfo"
)

var (
	transcribeFormat  string
	transcribeTimeout time.Duration
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a wav file",
	Long: `Decodes a PCM or float wav file, converts it to 16 kHz mono and prints
the transcription.

Formats:
  text - one line per segment with timestamps
  json - the full result as JSON
  yaml - the full result as YAML`,
	Args: cobra.ExactArgs(1),
	RunE: runTranscribe,
}

func init() {
	rootCmd.AddCommand(transcribeCmd)
	transcribeCmd.Flags().StringVarP(&transcribeFormat, "format", "f", "text", "output format: text, json or yaml")
	transcribeCmd.Flags().DurationVar(&transcribeTimeout, "timeout", 0, "fail if the deadline passes before inference starts")
}

// transcriptOutput is the serialised form of a whispercore.Result.
type transcriptOutput struct {
	Text      string            `json:"text" yaml:"text"`
	Language  string            `json:"language,omitempty" yaml:"language,omitempty"`
	ModelUsed string            `json:"model_used" yaml:"model_used"`
	UsedGPU   bool              `json:"used_gpu" yaml:"used_gpu"`
	Segments  []segmentOutput   `json:"segments" yaml:"segments"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type segmentOutput struct {
	Start      float64 `json:"start" yaml:"start"`
	End        float64 `json:"end" yaml:"end"`
	Text       string  `json:"text" yaml:"text"`
	Confidence float32 `json:"confidence" yaml:"confidence"`
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	switch transcribeFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown format %q", transcribeFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.LogLevel)

	core, err := openCore(cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	ctx := cmd.Context()
	if transcribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, transcribeTimeout)
		defer cancel()
	}

	res, err := core.TranscribeFile(ctx, args[0])
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), transcribeFormat, res)
}

func writeResult(w io.Writer, format string, res whispercore.Result) error {
	out := transcriptOutput{
		Text:      res.Text,
		Language:  res.Language,
		ModelUsed: res.ModelUsed,
		UsedGPU:   res.UsedGPU,
		Segments:  make([]segmentOutput, len(res.Segments)),
		Metadata:  moduleinfo.TranscriptMetadata(res.ModelUsed, res.Language),
	}
	for i, seg := range res.Segments {
		out.Segments[i] = segmentOutput{
			Start:      seg.StartSeconds(),
			End:        seg.EndSeconds(),
			Text:       seg.Text,
			Confidence: seg.Confidence,
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		for _, seg := range out.Segments {
			if _, err := fmt.Fprintf(w, "[%s --> %s] %s\n", timestamp(seg.Start), timestamp(seg.End), seg.Text); err != nil {
				return err
			}
		}
		return nil
	}
}

// timestamp formats seconds as hh:mm:ss.mmm.
func timestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}
