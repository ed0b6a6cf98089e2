package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"weatherfeed/internal/config"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "weatherfeed",
		Short:         "Serve and inspect a cached OpenWeather feed",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			slog.SetDefault(logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("CONFIG_FILE"), "path to a JSON or YAML config file")

	root.AddCommand(newServeCmd(a), newFetchCmd(a), newHistoryCmd(a))
	return root
}
