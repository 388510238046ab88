// Package cmd implements the crewchat command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/crewchat/internal/config"
	"github.com/zjrosen/crewchat/internal/log"
)

var (
	cfgFile  string
	debug    bool
	cfg      config.Config
	logClose func()
)

var rootCmd = &cobra.Command{
	Use:   "crewchat",
	Short: "A crew of AI personas that turns a request into code",
	Long: `crewchat routes each message through a fixed crew of personas.

The requirements persona answers right away; for a new conversation the
build persona follows with code a few seconds later. Run "crewchat serve"
for the HTTP API or "crewchat chat" to talk to the crew from a terminal.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logClose != nil {
			logClose()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/crewchat/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if debug {
		loaded.Log.Level = "debug"
	}
	cfg = loaded

	closeFn, err := log.Init(log.Config{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Pretty: cfg.Log.Pretty,
	})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logClose = closeFn
	log.Debug(log.CatConfig, "Configuration loaded", "database", cfg.DatabasePath, "provider", cfg.LLM.Provider)
	return nil
}
