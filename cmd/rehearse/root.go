package main

import (
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-rehearse/internal/config"
	"github.com/teslashibe/go-rehearse/internal/log"
)

// globals holds flags shared by every command.
type globals struct {
	configPath string
	logLevel   string
}

// load resolves configuration and initializes logging.
func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	log.Init(cfg.LogLevel)
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "rehearse",
		Short:         "Rehearse spoken answers with a live confidence score",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default ./rehearse.yaml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(g),
		newSimulateCmd(g),
		newStreamCmd(g),
		newHistoryCmd(g),
		newTokenCmd(g),
	)
	return root
}
