package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-degen-pov/internal/config"
	"go-degen-pov/internal/logger"
)

// set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	rootCmd := newRootCommand()
	rootCmd.AddCommand(newServeCommand(), newAssetsCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "degenbot",
		Short:   "Puts Degen POV overlays on chat images",
		Long:    "Degen POV detects where a pair of hands belongs in an image and composites an overlay there.\nIt serves an HTTP API and, when enabled, a Telegram bot. Settings are read from flags, environment variables or config.toml (in that order).",
		Version: version,
	}
}

// loadConfig reads configuration for cmd and applies the logging settings
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.Log.Level)
	logger.SetFormat(cfg.Log.Format)
	return cfg, nil
}
