package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/config"
	"github.com/slkreddy/SafeLayer/internal/export"
	"github.com/slkreddy/SafeLayer/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Audit log file (JSONL); defaults to the configured audit path")
		outputFile = flag.String("output", "", "Output Parquet file")
	)
	flag.Parse()

	if *outputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s --output audit.parquet [--input audit.log]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	input := *inputFile
	if input == "" {
		input = cfg.Audit.Path
	}

	result, err := export.AuditLog(input, *outputFile, log.WithComponent("export"))
	if err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}

	log.Info("Export complete",
		zap.Int("exported", result.Exported),
		zap.Int("skipped", result.Skipped),
	)
}
