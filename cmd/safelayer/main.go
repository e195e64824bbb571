package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/slkreddy/SafeLayer/internal/audit"
	"github.com/slkreddy/SafeLayer/internal/cache"
	"github.com/slkreddy/SafeLayer/internal/config"
	"github.com/slkreddy/SafeLayer/internal/guard"
	"github.com/slkreddy/SafeLayer/internal/logger"
	"github.com/slkreddy/SafeLayer/internal/policy"
	"github.com/slkreddy/SafeLayer/internal/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		policyPath  = flag.String("policy", "", "Policy file to load and activate")
		inputPath   = flag.String("input", "", "Input file path; reads stdin when empty")
		outputPath  = flag.String("output", "", "Output file path; writes stdout when empty")
		serve       = flag.Bool("serve", false, "Run the HTTP/WebSocket server")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("SafeLayer %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := policy.NewStore(cfg.Policy.Dir, log.WithComponent("policy"))
	if err != nil {
		log.Fatal("Failed to initialize policy store", zap.Error(err))
	}

	if ps, err := store.LoadFromEnv(); err != nil {
		log.Fatal("Failed to load policy from environment", zap.Error(err))
	} else if ps != nil {
		log.Info("Policy activated from environment", zap.String("policy", ps.Name))
	}

	if *policyPath != "" {
		ps, err := store.Load(*policyPath)
		if err != nil {
			log.Fatal("Failed to load policy", zap.Error(err))
		}
		for _, issue := range policy.Validate(ps) {
			log.Warn("Policy validation issue", zap.String("policy", ps.Name), zap.String("issue", issue))
		}
		if _, err := store.SetActive(ps.Name); err != nil {
			log.Fatal("Failed to activate policy", zap.Error(err))
		}
	}

	sink, err := newAuditSink(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize audit sink", zap.Error(err))
	}
	defer sink.Close()

	var recognizer guard.EntityRecognizer
	if cfg.Policy.NER.Enabled {
		recognizer = guard.NewNERRecognizer(log.WithComponent("ner"), cfg.Policy.NER.ModelPath, cfg.Policy.Dir)
		if recognizer == nil {
			log.Warn("NER recognizer unavailable in this build, using pattern rules")
		}
	}

	if *serve {
		runServer(cfg, log, store, sink, recognizer)
		return
	}

	runOnce(cfg, log, store, sink, recognizer, *inputPath, *outputPath)
}

// runOnce sanitizes a single input from a file or stdin and writes the result.
func runOnce(cfg *config.Config, log *logger.Logger, store *policy.Store, sink audit.Sink, recognizer guard.EntityRecognizer, inputPath, outputPath string) {
	var input []byte
	var err error
	if inputPath != "" {
		input, err = os.ReadFile(inputPath)
	} else {
		input, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		log.Fatal("Failed to read input", zap.Error(err))
	}

	active := store.ActivePolicy()
	guards, err := guard.FromPolicy(active, guard.Options{
		Explain:    cfg.Policy.Explain,
		Recognizer: recognizer,
	}, log.WithComponent("guard"))
	if err != nil {
		log.Fatal("Failed to build guard chain", zap.Error(err))
	}

	manager := guard.NewManager(guards, sink, log.WithPolicy(active.Name))

	output, err := manager.Run(context.Background(), string(input))
	if err != nil {
		log.Fatal("Sanitization failed", zap.Error(err))
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(output), 0644); err != nil {
			log.Fatal("Failed to write output", zap.Error(err))
		}
	} else {
		fmt.Println(output)
	}
}

// runServer starts the HTTP/WebSocket front end and blocks until shutdown.
func runServer(cfg *config.Config, log *logger.Logger, store *policy.Store, sink audit.Sink, recognizer guard.EntityRecognizer) {
	var resultCache *cache.ResultCache
	if cfg.Cache.Enabled {
		var err error
		resultCache, err = cache.New(cfg.Cache, log.WithComponent("cache"))
		if err != nil {
			log.Fatal("Failed to initialize result cache", zap.Error(err))
		}
		defer resultCache.Close()
	}

	srv, err := server.New(cfg, log, store, sink, resultCache, recognizer)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	if err := config.Watch(cfg, func(newCfg *config.Config) {
		log.Info("Configuration file changed; restart to apply server settings")
	}); err != nil {
		log.Warn("Failed to watch configuration file", zap.Error(err))
	}

	log.Info("Starting SafeLayer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("port", cfg.Server.Port),
		zap.String("active_policy", store.ActivePolicy().Name),
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// newAuditSink builds the configured audit sink.
func newAuditSink(cfg *config.Config, log *logger.Logger) (audit.Sink, error) {
	switch cfg.Audit.Sink {
	case "file":
		return audit.NewFileSink(cfg.Audit.Path, log.WithComponent("audit"))
	case "postgres":
		return audit.NewPostgresSink(&audit.PostgresConfig{
			DatabaseURL:     cfg.Audit.DatabaseURL,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		}, log.WithComponent("audit"))
	case "none":
		return audit.NopSink{}, nil
	default:
		return nil, fmt.Errorf("unknown audit sink: %s", cfg.Audit.Sink)
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
