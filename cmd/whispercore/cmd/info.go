package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/whispercore/internal/moduleinfo"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Load the model and print its settings",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	core, err := openCore(cfg, newLogger(os.Stderr, cfg.LogLevel))
	if err != nil {
		return err
	}
	defer core.Close()

	c := core.Configuration()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", moduleinfo.UserAgent())
	fmt.Fprintf(w, "Initialized:\t%t\n", core.IsInitialized())
	fmt.Fprintf(w, "Model:\t%s\n", core.ModelInfo())
	fmt.Fprintf(w, "Using GPU:\t%t\n", core.IsUsingGPU())
	fmt.Fprintf(w, "GPU mode:\t%s\n", c.GPUMode)
	fmt.Fprintf(w, "GPU device:\t%d\n", c.GPUDevice)
	fmt.Fprintf(w, "Flash attention:\t%t\n", c.FlashAttention)
	fmt.Fprintf(w, "Threads:\t%d\n", c.Threads)
	return w.Flush()
}
