package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"immostats/config"
	"immostats/internal/api"
	"immostats/internal/auth"
	"immostats/internal/database"
	"immostats/internal/ingestion"
	"immostats/internal/metrics"
	"immostats/internal/scheduler"
	"immostats/internal/source"
	"immostats/internal/stats"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	dsn := cfg.Database.DSN
	if cfg.Database.Driver == "sqlite" {
		dsn = cfg.Database.Path
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Opening database")

	db, err := database.NewDatabase(cfg.Database.Driver, dsn, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewMetrics(registry)
	if err != nil {
		logger.WithError(err).Fatal("Failed to register metrics")
	}

	src, err := newSource(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize source")
	}

	pipeline, err := ingestion.NewPipeline(src, db, ingestion.Options{
		Periods:        cfg.Ingestion.Periods,
		Partitions:     cfg.Ingestion.Partitions,
		PartitionDelay: cfg.Ingestion.PartitionDelay,
		BatchSize:      cfg.BatchProcessing.MaxBatchSize,
	}, m, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize ingestion pipeline")
	}

	sched := scheduler.NewScheduler(pipeline, scheduler.Options{
		IntervalHours: cfg.Ingestion.IntervalHours,
		RunOnStartup:  cfg.Ingestion.RunOnStartup,
	}, m, logger)
	sched.Start()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), m.Middleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", auth.APIKeyHeader, api.RequestIDHeader},
		ExposeHeaders:    []string{api.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.GET("/metrics", gin.WrapH(metrics.Handler(registry)))

	handler := api.NewHandler(stats.NewEngine(db, logger), sched, db, cfg.Retention.MaxAge, logger)
	api.SetupRoutes(router, handler, auth.NewKeyAuthorizer(cfg.Auth.APIKeys, logger), logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	// Waits for an in-flight ingestion run
	sched.Stop()
	logger.Info("Shutdown complete")
}

func newSource(cfg *config.Config, logger *logrus.Logger) (source.Source, error) {
	if cfg.Source.Kind == "demo" {
		logger.Info("Using generated demo records")
		return source.NewDemoClient(cfg.Source.Name, cfg.Source.DemoRecordsPerPartition, 1), nil
	}

	return source.NewClient(source.ClientOptions{
		Name:       cfg.Source.Name,
		BaseURL:    cfg.Source.BaseURL,
		Timeout:    cfg.Source.Timeout,
		RetryCount: cfg.Source.RetryCount,
		RetryWait:  cfg.Source.RetryWait,
		PageSize:   cfg.Source.PageSize,
	}, logger)
}
