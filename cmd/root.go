package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "AI-assisted company analysis reports",
	Long:  "Gathers public data about a company from free and paid sources, reconciles it by source trust, and runs a staged LLM pipeline that produces a consulting-style analysis report.",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return bootstrap()
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

// bootstrap loads configuration and installs the global logger before any
// subcommand runs.
func bootstrap() error {
	c, err := config.Load()
	if err != nil {
		return eris.Wrap(err, "load config")
	}
	cfg = c
	if err := config.InitLogger(cfg.Log); err != nil {
		return eris.Wrap(err, "init logger")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
