package main

import (
	"Lee_Social/internal/config"
	"Lee_Social/internal/logging"

	"github.com/spf13/cobra"
)

const serviceName = "lee-social"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the API binary.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "lee-social",
		Short:        "Lee Social - identity, sessions and communities",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	return cmd
}

// loadConfig reads and validates configuration, then installs the default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.SetDefault(serviceName, version, cfg.Log.Format, cfg.Log.Level)
	return cfg, nil
}
