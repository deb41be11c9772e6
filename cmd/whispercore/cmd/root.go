package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/whispercore"
	"github.com/nupi-ai/whispercore/internal/config"
	"github.com/nupi-ai/whispercore/internal/moduleinfo"
)

var (
	flagModel     string
	flagGPUMode   string
	flagGPUDevice int
	flagFlashAttn bool
	flagThreads   int
	flagLanguage  string
	flagStub      bool
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:   moduleinfo.Info.BinaryName,
	Short: "Local speech recognition on whisper.cpp",
	Long: `whispercore loads a whisper.cpp model and transcribes 16 kHz mono audio.

Settings come from WHISPERCORE_CONFIG_FILE (YAML), WHISPERCORE_CONFIG (JSON),
WHISPERCORE_* / WHISPERCPP_* environment variables and finally the flags below.

Commands:
  transcribe - transcribe a wav file and print the result
  info       - load a model and print its introspection fields
  serve      - expose the model over gRPC`,
	Version:       moduleinfo.Info.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagModel, "model", "m", "", "path to a ggml model file")
	flags.StringVar(&flagGPUMode, "gpu-mode", "", "GPU policy: disabled, preferred or required")
	flags.IntVar(&flagGPUDevice, "gpu-device", 0, "GPU device index")
	flags.BoolVar(&flagFlashAttn, "flash-attn", false, "enable flash attention")
	flags.IntVar(&flagThreads, "threads", 0, "CPU threads, 0 for the engine default")
	flags.StringVarP(&flagLanguage, "language", "l", "", "language hint, auto to detect")
	flags.BoolVar(&flagStub, "stub", false, "use the deterministic stub engine")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn or error")
}

// loadConfig layers the persistent flags over config.Loader output.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Loader{}.Load()
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.ModelPath = flagModel
	}
	if flags.Changed("gpu-mode") {
		cfg.GPUMode = flagGPUMode
	}
	if flags.Changed("gpu-device") {
		cfg.GPUDevice = flagGPUDevice
	}
	if flags.Changed("flash-attn") {
		cfg.FlashAttention = &flagFlashAttn
	}
	if flags.Changed("threads") {
		cfg.Threads = &flagThreads
	}
	if flags.Changed("language") {
		cfg.Language = flagLanguage
	}
	if flags.Changed("stub") {
		cfg.UseStubEngine = flagStub
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return config.Config{}, fmt.Errorf("no model configured: pass --model or set WHISPERCORE_MODEL_PATH")
	}
	return cfg, nil
}

func openCore(cfg config.Config, logger *slog.Logger, extra ...whispercore.Option) (*whispercore.WhisperCore, error) {
	coreCfg, err := cfg.Core()
	if err != nil {
		return nil, err
	}
	opts := []whispercore.Option{
		whispercore.WithConfiguration(coreCfg),
		whispercore.WithLogger(logger),
		whispercore.WithLanguage(cfg.Language),
	}
	if cfg.UseStubEngine {
		opts = append(opts, whispercore.WithStubEngine(0))
	}
	return whispercore.New(cfg.ModelPath, append(opts, extra...)...)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printError(err error) {
	if code := whispercore.CodeOf(err); code != 0 {
		fmt.Fprintf(os.Stderr, "error [%d %s]: %v\n", int(code), code, err)
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}
