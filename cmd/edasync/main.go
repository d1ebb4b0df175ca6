// Command edasync keeps a local view of an EDA backend's dataset summary in
// sync: upload files, print summaries, fetch charts, save reports, or serve
// the same commands over a local HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koustreak/edasync/internal/errs"
)

var (
	configPath string
	backendURL string
	logLevel   string
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "edasync",
		Short:         "Client for the EDA summary backend",
		Long:          "Upload CSV/Excel files to the EDA backend, inspect the dataset summary, fetch charts and save reports.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "EDA backend URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(
		newSummaryCmd(),
		newUploadCmd(),
		newChartsCmd(),
		newReportCmd(),
		newCleanedCmd(),
		newArtifactsCmd(),
		newServeCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", errs.UserMessage(err))
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errs.IsValidation(err):
		return 2
	case errs.IsNetwork(err):
		return 3
	default:
		return 1
	}
}
