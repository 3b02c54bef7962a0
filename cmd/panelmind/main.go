// Command panelmind runs the multi-persona research advisor backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/panelmind/panelmind/internal/app"
	"github.com/panelmind/panelmind/internal/config"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "panelmind",
		Short: "Multi-persona research advisor backend",
		Long:  "panelmind serves a panel of LLM advisor personas over HTTP, grounding their advice in documents uploaded per chat session.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			logger.Info("starting panelmind", "addr", cfg.ListenAddr, "data_dir", cfg.DataDir)
			return application.Run(ctx)
		},
	}
}

func newLogger(cfg *config.Config) *log.Logger {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})
	if parsed, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(parsed)
	}
	return logger
}
