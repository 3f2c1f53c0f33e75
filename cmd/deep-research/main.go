package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/catalog"
	"github.com/mikeboe/deep-research/pkg/config"
)

var (
	version = "dev"

	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "deep-research",
	Short: "Automated deep research: sub-queries, web search, learnings, report",
	Long: `deep-research runs research jobs that ask a language model for sub-queries,
search the web for each, distill learnings from the results and write a final
report. It can serve the HTTP API or run a single job in the terminal.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger = config.SetupLogger(cfg, os.Stderr)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd.Context(), cfg, logger, version)
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Print the supported models and search providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(catalog.Default())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./deep-research.yaml if present)")
	rootCmd.AddCommand(serveCmd, runCmd, checkKeysCmd, catalogCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
