// Package cli implements the connector command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postpipe/connector/internal/config"
	"github.com/postpipe/connector/internal/handlers"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "connector",
	Short: "PostPipe database connector",
	Long: `connector receives signed form submissions and routes them to the
databases you own: a primary target, any broadcast copies and field-level
splits, across PostgreSQL and MongoDB.`,
	Version:       handlers.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		errorf(rootCmd.ErrOrStderr(), "%v", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/postpipe/connector/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(targetsCmd)
}
