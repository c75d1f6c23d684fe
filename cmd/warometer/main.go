package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/warometer/internal/config"
	"github.com/rewired-gh/warometer/internal/logger"
)

var version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "warometer",
		Short:         "Watch a Polymarket event and alert on sharp YES price moves",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running without a subcommand starts the monitor.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to .env file")

	root.AddCommand(
		newRunCmd(opts),
		newCheckCmd(opts),
		newChatIDCmd(opts),
	)
	return root
}

// loadConfig loads, validates and applies the logging section of the configuration.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Failed to load config: %v\n", err)
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Invalid configuration: %v\n", err)
		return nil, err
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, logger.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	return cfg, nil
}
