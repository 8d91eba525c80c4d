package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/intelliinspect/internal/config"
	"github.com/kalambet/intelliinspect/internal/dataset"
	"github.com/kalambet/intelliinspect/internal/logging"
	"github.com/kalambet/intelliinspect/internal/pipeline"
	"github.com/kalambet/intelliinspect/internal/storage"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "intelliinspect",
	Short:         "Train and simulate a pass/fail classifier for inspection data",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(trainCmd, metricsCmd, simulateCmd, runsCmd, rangesCmd)
	rootCmd.AddCommand(jobsCmd, configCmd, mcpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// loadConfig loads settings and configures logging from them.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := logging.InitWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format, noColor); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func pipelineConfig(cfg config.Config) pipeline.Config {
	return pipeline.Config{
		DataDir:     cfg.Storage.DataDir,
		Dataset:     dataset.Options{BatchSize: cfg.Dataset.BatchSize},
		Params:      cfg.Params(),
		SimInterval: cfg.Simulation.Interval,
	}
}

// newLocalService opens the run history and builds a pipeline that works
// directly on the data directory, without a server.
func newLocalService(cfg config.Config) (*pipeline.Service, *storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.New(pipelineConfig(cfg), store), store, nil
}
