package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/trymwestin/aqara/internal/app"
	"github.com/trymwestin/aqara/internal/config"
	"github.com/trymwestin/aqara/internal/core/auth"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "aqarad",
	Short: "Aqara Camera G3 cloud bridge",
	Long: `Polls Aqara Camera G3 cameras through the Aqara cloud, resolves
recognized faces to persons and publishes the result over an HTTP API
and Home Assistant MQTT discovery.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "config file")
}

// loadConfig reads the config file and builds the process logger.
func loadConfig() (*config.File, *slog.Logger, error) {
	file, err := config.LoadFile(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log := app.NewLogger(file.Config().Log, os.Stderr)
	return file, log, nil
}

// regions is the built-in area table with the configured overrides.
func regions(cfg config.Config) auth.Regions {
	return auth.DefaultRegions().Merge(cfg.Regions)
}
