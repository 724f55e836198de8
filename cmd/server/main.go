// Command server is the long-lived Vaulty HTTP service: it applies
// per-recipient policy to messages submitted by the filter, coordinates
// multi-request message sessions, and streams attachments to each
// recipient's configured storage backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for sqlx
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"

	"github.com/aksiksi/vaulty/internal/config"
	"github.com/aksiksi/vaulty/internal/health"
	"github.com/aksiksi/vaulty/internal/httpapi"
	"github.com/aksiksi/vaulty/internal/ingest"
	"github.com/aksiksi/vaulty/internal/logger"
	"github.com/aksiksi/vaulty/internal/metrics"
	"github.com/aksiksi/vaulty/internal/policystore"
	"github.com/aksiksi/vaulty/internal/sessioncache"
	"github.com/aksiksi/vaulty/internal/storage"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "vaulty-server: config:", err)
		os.Exit(1)
	}

	appLogger := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(appLogger)

	appLogger.Info("starting vaulty server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
	)

	dbPool, err := setupDatabase(cfg, appLogger)
	if err != nil {
		appLogger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbPool.Close()

	sqlxDB, err := setupSqlxDatabase(cfg, appLogger)
	if err != nil {
		appLogger.Error("failed to connect to database with sqlx", slog.Any("error", err))
		os.Exit(1)
	}
	defer sqlxDB.Close()

	dbStatsCollector := metrics.NewDBStatsCollector(dbPool, sqlxDB.DB)
	dbStatsCollector.Start(15 * time.Second)
	defer dbStatsCollector.Stop()

	store := policystore.NewPgStore(sqlxDB, appLogger, metrics.RecordPolicyStoreBestEffortFailure)

	registry := setupStorageRegistry(cfg, appLogger)

	cache := sessioncache.New()

	controller := ingest.NewController(store, cache, registry, appLogger)

	healthHandler := health.NewHandler(health.Config{
		DBPool:  dbPool,
		Version: "1.0.0",
		Timeout: 5 * time.Second,
	})

	router := httpapi.NewRouter(appLogger, healthHandler, cfg.Server.AuthUser, cfg.Server.AuthPass, httpapi.Routes{
		Index:             controller.Index,
		PostfixEmail:      controller.PostfixEmail,
		PostfixAttachment: controller.PostfixAttachment,
		MonitorCache:      controller.MonitorCache,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("listening", slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("http server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", slog.Any("error", err))
		os.Exit(1)
	}

	appLogger.Info("server exited gracefully")
}

// setupDatabase creates and configures the pgx connection pool used by
// the Policy Store's lower-level queries and the health check's ping.
func setupDatabase(cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database", slog.String("database", cfg.Database.DBName))
	return pool, nil
}

// setupSqlxDatabase creates the sqlx handle the Policy Store runs its
// named queries through.
func setupSqlxDatabase(cfg *config.Config, log *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database with sqlx: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database with sqlx", slog.String("database", cfg.Database.DBName))
	return db, nil
}

// setupStorageRegistry builds a Client for each backend whose credentials
// are configured, leaving the rest nil -- Registry.Resolve then reports
// "not configured" for any recipient pointed at an unconfigured backend
// rather than failing server startup.
func setupStorageRegistry(cfg *config.Config, log *slog.Logger) *storage.Registry {
	var dropbox storage.Client
	if cfg.Storage.DropboxToken != "" {
		dropbox = storage.NewDropboxClient(cfg.Storage.DropboxToken)
		log.Info("dropbox storage backend configured")
	}

	var gdrive storage.Client
	if cfg.Storage.GdriveAccessToken != "" {
		gdrive = storage.NewGdriveClient(context.Background(), &oauth2.Token{
			AccessToken:  cfg.Storage.GdriveAccessToken,
			RefreshToken: cfg.Storage.GdriveRefreshToken,
		})
		log.Info("gdrive storage backend configured")
	}

	var s3Client storage.Client
	if cfg.Storage.S3Bucket != "" && cfg.Storage.S3AccessKeyID != "" {
		s3Client = storage.NewS3Client(
			cfg.Storage.S3Endpoint,
			cfg.Storage.S3Region,
			cfg.Storage.S3Bucket,
			cfg.Storage.S3AccessKeyID,
			cfg.Storage.S3SecretAccessKey,
			cfg.Storage.S3UsePathStyle,
		)
		log.Info("s3 storage backend configured", slog.String("bucket", cfg.Storage.S3Bucket))
	}

	return storage.NewRegistry(dropbox, gdrive, s3Client)
}
