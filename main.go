package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/kgforge/kgforge-engine/pkg/auth"
	"github.com/kgforge/kgforge-engine/pkg/config"
	"github.com/kgforge/kgforge-engine/pkg/database"
	"github.com/kgforge/kgforge-engine/pkg/events"
	"github.com/kgforge/kgforge-engine/pkg/handlers"
	"github.com/kgforge/kgforge-engine/pkg/logging"
	"github.com/kgforge/kgforge-engine/pkg/metrics"
	"github.com/kgforge/kgforge-engine/pkg/middleware"
	"github.com/kgforge/kgforge-engine/pkg/propertygraph"
	"github.com/kgforge/kgforge-engine/pkg/repositories"
	"github.com/kgforge/kgforge-engine/pkg/services"
	"github.com/kgforge/kgforge-engine/pkg/services/workqueue"
	"github.com/kgforge/kgforge-engine/pkg/triplestore"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("triple_store", cfg.TripleStore.QueryURL),
		zap.String("graph_store", logging.SanitizeConnectionString(cfg.GraphStore.URI)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Migrations run over database/sql; the runtime pool is pgx.
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.String("error", logging.SanitizeError(err)))
	}
	_ = sqlDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to metadata store", zap.String("error", logging.SanitizeError(err)))
	}
	defer db.Close()

	triples := triplestore.NewClient(
		cfg.TripleStore.QueryURL,
		cfg.TripleStore.UpdateURL,
		time.Duration(cfg.TripleStore.TimeoutSeconds)*time.Second,
		logger)

	graph, err := propertygraph.NewClient(
		cfg.GraphStore.URI,
		cfg.GraphStore.Username,
		cfg.GraphStore.Password,
		cfg.GraphStore.Database,
		logger)
	if err != nil {
		logger.Fatal("Failed to connect to graph store", zap.String("error", logging.SanitizeError(err)))
	}
	defer func() { _ = graph.Close(context.Background()) }()

	publisher, err := events.Connect(cfg.NATS.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer publisher.Close()

	// Repositories read workspace scope from the request context.
	versionRepo := repositories.NewVersionRepository()
	snapshotRepo := repositories.NewSnapshotRepository()
	provRepo := repositories.NewProvenanceRepository()
	auditRepo := repositories.NewAuditRepository()
	runRepo := repositories.NewSyncRunRepository()

	scopes := database.NewScopeProvider(db)
	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledStoreStrategy(cfg.Sync.Workers)))

	versioningSvc := services.NewVersioningService(versionRepo, auditRepo, publisher, logger)
	extractionSvc := services.NewExtractionService(snapshotRepo, provRepo, logger)
	provenanceSvc := services.NewProvenanceService(provRepo, graph, nil, logger)
	syncSvc := services.NewSyncService(runRepo, triples, graph, scopes, queue, publisher,
		services.SyncConfig{BatchSize: cfg.Sync.BatchSize}, logger)
	rollbackSvc := services.NewRollbackService(versioningSvc, versionRepo, extractionSvc, syncSvc, auditRepo, publisher, logger)

	retentionSvc := services.NewRetentionService(db, runRepo, logger)
	retentionSvc.RunScheduler(ctx,
		time.Hour,
		time.Duration(cfg.Sync.RunTimeoutMinutes)*time.Minute,
		cfg.Sync.RetentionDays)

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to initialize JWKS client", zap.Error(err))
	}
	defer jwksClient.Close()

	authService := auth.NewAuthService(jwksClient, logger)
	authMiddleware := auth.NewMiddleware(authService, logger)
	scoped := handlers.ScopeMiddleware(middleware.WorkspaceScope(scopes, logger))

	mux := http.NewServeMux()

	handlers.NewHealthHandler(db, triples, graph, cfg.Version, logger).RegisterRoutes(mux)
	handlers.NewVersionHandler(versioningSvc, rollbackSvc, logger).RegisterRoutes(mux, authMiddleware, scoped)
	handlers.NewSyncHandler(syncSvc, logger).RegisterRoutes(mux, authMiddleware, scoped)
	handlers.NewExtractionHandler(extractionSvc, syncSvc, rollbackSvc, logger).RegisterRoutes(mux, authMiddleware, scoped)
	handlers.NewProvenanceHandler(provenanceSvc, logger).RegisterRoutes(mux, authMiddleware, scoped)
	handlers.NewAuditHandler(auditRepo, logger).RegisterRoutes(mux, authMiddleware, scoped)
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting kgforge-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}

	// Let in-flight sync runs finish within the shutdown window.
	_ = queue.Wait(shutdownCtx)
}
