package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"activity_fetcher/internal/config"
	"activity_fetcher/internal/crawler"
	"activity_fetcher/internal/httpapi"
	"activity_fetcher/internal/keyword"
	"activity_fetcher/internal/publisher"
	"activity_fetcher/internal/scheduler"
	"activity_fetcher/internal/source/bbc"
	"activity_fetcher/internal/source/idealist"
	"activity_fetcher/internal/source/unv"
	"activity_fetcher/internal/source/v1365"
	"activity_fetcher/internal/source/wevity"
	"activity_fetcher/internal/storage/postgres"
	"activity_fetcher/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Setup logger
	logger := setupLogger("info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize stores
	activityStore := postgres.NewActivityStore(db)
	issueStore := postgres.NewIssueStore(db)

	// Initialize RabbitMQ publisher (optional)
	var pub crawler.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	// Initialize keyword classification
	classifier := keyword.NewClient(ctx, cfg.Gemini, logger)

	// Initialize sources
	requestTimeout := cfg.Crawler.RequestTimeout
	sources := []crawler.Source{
		bbc.New(bbc.Config{Timeout: requestTimeout}, issueStore, classifier, logger),
		idealist.New(idealist.Config{Timeout: requestTimeout}, activityStore, classifier, logger),
		unv.New(unv.Config{Timeout: requestTimeout}, activityStore, classifier, logger),
		v1365.New(v1365.Config{
			MaxPages:  cfg.Crawler.V1365MaxPages,
			BatchSize: cfg.Crawler.V1365BatchSize,
			Timeout:   requestTimeout,
		}, activityStore, classifier, logger),
		wevity.New(wevity.Config{
			MaxPages: cfg.Crawler.WevityMaxPages,
			Timeout:  requestTimeout,
		}, activityStore, classifier, logger),
	}

	crawlService := crawler.New(sources, activityStore, issueStore, pub, cfg.Crawler.RunTimeout, logger)

	// Initialize vector index and reconciler
	index, err := vectorstore.NewWeaviate(vectorstore.Config{
		Host:   cfg.Weaviate.Host,
		Scheme: cfg.Weaviate.Scheme,
		APIKey: cfg.Weaviate.APIKey,
	}, logger)
	if err != nil {
		logger.Error("failed to create weaviate client", "error", err)
		os.Exit(1)
	}
	if err := index.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure vector index schema", "error", err)
		os.Exit(1)
	}
	reconciler := vectorstore.NewReconciler(index, activityStore, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Daily crawl trigger
	sched := scheduler.New(crawlService, *cfg.Scheduler.Hour, cfg.Scheduler.Minute, logger)
	go func() {
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler error", "error", err)
		}
	}()

	// Index reconciliation on its own cadence
	go runReconcileLoop(ctx, reconciler, cfg.Weaviate.ReconcileInterval, logger)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: httpapi.NewMux(crawlService),
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	crawlService.Wait()
	logger.Info("shut down cleanly")
}

func runReconcileLoop(ctx context.Context, reconciler *vectorstore.Reconciler, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := reconciler.Reconcile(ctx); err != nil {
			logger.Error("index reconciliation failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
