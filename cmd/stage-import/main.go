package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/finledger/reconcile/internal/cli"
	"github.com/finledger/reconcile/internal/infrastructure/config"
	"github.com/finledger/reconcile/internal/infrastructure/logging"
	"github.com/finledger/reconcile/internal/infrastructure/storage"
	"github.com/finledger/reconcile/internal/staging"
)

func main() {
	_ = godotenv.Load()

	var (
		source     string
		configPath string
		verbose    bool
	)
	flag.StringVar(&source, "source", "bank", "Source tag for imported records")
	flag.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	flag.BoolVar(&verbose, "verbose", false, "Verbose output")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: stage-import [-source tag] <statement files>")
		os.Exit(2)
	}

	cfg := config.LoadOrEnvWithPath(configPath)
	if verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "staging")

	repo, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DatabasePath, cfg.Storage.PostgresDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	importer := staging.NewImporter(repo, logger)
	ctx := context.Background()

	failed := false
	for _, file := range files {
		res, err := importer.ImportFile(ctx, file, source)
		if err != nil {
			logger.Error("import failed", "file", file, "error", err)
			failed = true
			continue
		}
		cli.PrintImportResult(file, res)
	}

	if failed {
		os.Exit(1)
	}
}
