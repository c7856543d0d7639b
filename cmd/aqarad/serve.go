package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trymwestin/aqara/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the configured cameras and serve the API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		file, log, err := loadConfig()
		if err != nil {
			return err
		}
		if len(file.Config().Entries) == 0 {
			log.Warn("no cameras configured, run 'aqarad login' first", "config", file.Path())
		}

		a, err := app.New(file, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("aqarad starting", "config", file.Path(), "entries", len(a.Registry().List()))
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		log.Info("aqarad stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
