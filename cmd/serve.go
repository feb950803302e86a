package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configFile string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authorization server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configFile, cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize server: %w", err)
			}
			defer a.Close(context.Background())

			return a.Run(ctx)
		},
	}

	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the YAML config file")
	serveCmd.Flags().String("addr", ":8008", "listen address")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	return serveCmd
}
