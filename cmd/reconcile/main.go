package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/finledger/reconcile/internal/application/recon"
	"github.com/finledger/reconcile/internal/cli"
	"github.com/finledger/reconcile/internal/events"
	"github.com/finledger/reconcile/internal/infrastructure/config"
	"github.com/finledger/reconcile/internal/infrastructure/logging"
	"github.com/finledger/reconcile/internal/infrastructure/storage"
)

func main() {
	_ = godotenv.Load()

	flags := cli.ParseReconFlags()

	cfg := config.LoadOrEnvWithPath(flags.ConfigPath)
	if flags.Verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "recon")

	opts, err := flags.ToOptions(cfg.Matching.DateToleranceDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(2)
	}

	cli.PrintHeader(opts.Mode)

	repo, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DatabasePath, cfg.Storage.PostgresDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if opts.Mode == recon.ModeApply && len(cfg.Events.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic, logger)
		defer kp.Close()
		publisher = kp
	}

	// SIGINT cancels the run; an in-flight apply batch either commits
	// whole or not at all.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := recon.NewRunner(repo, cfg.Matching, publisher, logger)
	res, err := runner.Run(ctx, opts)
	if err != nil {
		logger.Error("reconciliation run failed", "error", err)
		os.Exit(1)
	}

	cli.PrintResult(res)
}
