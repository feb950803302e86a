// Package cmd implements the authcode-server command line.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

// newRootCmd builds the command tree. Tests build their own tree so flag
// state does not leak between them.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "authcode-server",
		Short: "OAuth 2.0 authorization code grant server",
		Long: `authcode-server issues authorization codes on /authorize and redeems them
for bearer access tokens on /access-token.

Configuration is read from authcode.yaml (or --config), then AUTHCODE_*
environment variables, then flags. A .env file is loaded into the
environment first when present.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadEnvFile,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file (default .env if present)")
	root.SetVersionTemplate(`{{printf "authcode-server version %s\n" .Version}}`)
	root.Version = version

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newHashPasswordCmd())
	root.AddCommand(newGenerateSecretCmd())
	return root
}

var version = "dev"

// SetVersion sets the version reported by the binary.
func SetVersion(v string) {
	version = v
}

// GetVersion returns the version reported by the binary.
func GetVersion() string {
	return version
}

// Execute runs the command line and exits non-zero on error.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func loadEnvFile(*cobra.Command, []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}
