package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/app"
	"github.com/mikeboe/deep-research/pkg/config"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Serve the deep-research HTTP API",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return app.Run(cmd.Context(), cfg, config.SetupLogger(cfg, os.Stderr), version)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (default ./deep-research.yaml if present)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
