package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource"
	_ "github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource/mssql"
	_ "github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource/mysql"
	_ "github.com/sqlbridge-io/sqlbridge/pkg/adapters/datasource/postgres"
	"github.com/sqlbridge-io/sqlbridge/pkg/audit"
	"github.com/sqlbridge-io/sqlbridge/pkg/config"
	"github.com/sqlbridge-io/sqlbridge/pkg/crypto"
	"github.com/sqlbridge-io/sqlbridge/pkg/database"
	"github.com/sqlbridge-io/sqlbridge/pkg/handlers"
	"github.com/sqlbridge-io/sqlbridge/pkg/logging"
	mcpserver "github.com/sqlbridge-io/sqlbridge/pkg/mcp"
	"github.com/sqlbridge-io/sqlbridge/pkg/mcp/tools"
	"github.com/sqlbridge-io/sqlbridge/pkg/middleware"
	"github.com/sqlbridge-io/sqlbridge/pkg/repositories"
	"github.com/sqlbridge-io/sqlbridge/pkg/services"
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
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("app_store", logging.MaskDSN(cfg.Database.ConnectionString())),
	)
	logger.Debug("Effective configuration", zap.String("config", cfg.Redacted()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// App store: holds datasource definitions and the persisted schema cache.
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to app store", zap.Error(err))
	}
	defer db.Close()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Failed to initialize credential encryption, set BRIDGE_CREDENTIALS_KEY", zap.Error(err))
	}

	connMgr := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTLMinutes:            cfg.Datasource.ConnectionTTLMinutes,
		MaxConnectionsPerUser: cfg.Datasource.MaxConnectionsPerUser,
		PoolMaxConns:          cfg.Datasource.PoolMaxConns,
		PoolMinConns:          cfg.Datasource.PoolMinConns,
	}, logger)

	provider := datasource.NewProvider(connMgr, datasource.Limits{
		MaxRowLimit:        cfg.Query.MaxLimit,
		DistinctValueLimit: cfg.Query.DistinctValueLimit,
		SampleRows:         cfg.Query.SampleRows,
	}, logger)

	repo := repositories.NewDatasourceRepository(db)
	cache := services.NewMetadataCache(time.Duration(cfg.Cache.TTLSeconds) * time.Second)
	auditor := audit.NewSecurityAuditor(logger)
	opTimeout := time.Duration(cfg.Datasource.OperationTimeoutSeconds) * time.Second

	datasourceSvc := services.NewDatasourceService(repo, encryptor, provider, connMgr, cache, logger)
	schemaSvc := services.NewSchemaService(repo, datasourceSvc, cache, opTimeout, logger)
	querySvc := services.NewQueryService(datasourceSvc, auditor, opTimeout, logger)
	tableDataSvc := services.NewTableDataService(
		datasourceSvc, schemaSvc, auditor,
		cfg.Query.DefaultLimit, cfg.Query.MaxLimit, opTimeout, logger,
	)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewDatasourceHandler(datasourceSvc, logger).RegisterRoutes(mux)
	handlers.NewSchemaHandler(schemaSvc, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(querySvc, logger).RegisterRoutes(mux)
	handlers.NewTableDataHandler(tableDataSvc, logger).RegisterRoutes(mux)

	mcpSrv := mcpserver.NewServer("sqlbridge", cfg.Version, logger)
	tools.RegisterGatewayTools(mcpSrv.MCP(), &tools.GatewayToolDeps{
		DatasourceService: datasourceSvc,
		QueryService:      querySvc,
		SchemaService:     schemaSvc,
		Logger:            logger,
	})
	mux.Handle("/mcp", middleware.MCPRequestLogger(logger)(mcpSrv.NewStreamableHTTPServer()))

	addr := net.JoinHostPort(cfg.BindAddr, cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting sqlbridge", zap.String("addr", addr), zap.String("version", cfg.Version))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Fatal("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if err := connMgr.Close(); err != nil {
		logger.Error("Connection manager shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

// runMigrations applies pending app-store migrations. golang-migrate needs a
// database/sql handle, so a short-lived one is opened alongside the pool.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()

	return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
}
