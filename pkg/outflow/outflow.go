package outflow

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/outflowhq/outflow/internal/collab"
	"github.com/outflowhq/outflow/internal/config"
	"github.com/outflowhq/outflow/internal/controllers"
	"github.com/outflowhq/outflow/internal/engine"
	"github.com/outflowhq/outflow/internal/migrations"
	"github.com/outflowhq/outflow/internal/repository"
	"github.com/outflowhq/outflow/pkg/outflow/core"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Start boots the enrollment engine and HTTP server.
// This call blocks until the HTTP server stops.
func Start(mux *http.ServeMux) error {

	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType == "" || (databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE) {
		panic("OFLOW_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLLITE {
		db = setupSqlLiteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	clock := core.NewRealClock()
	definitionRepo := repository.NewWorkflowDefinitionRepository(db, clock)
	enrollmentRepo := repository.NewEnrollmentRepository(db, clock)
	organizationRepo := repository.NewOrganizationRepository(db, clock)
	creditRepo := repository.NewCreditRepository(db, clock)
	auditRepo := repository.NewAuditEventRepository(db, clock)

	contacts := collab.NewHTTPContactStore(config.GetSystemSettingString(config.CONTACT_STORE_BASE_URL))
	scenarios := collab.NewHTTPScenarioSender(config.GetSystemSettingString(config.SCENARIO_SERVICE_BASE_URL))

	webhookTimeout, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_WEBHOOK_TIMEOUT))
	dispatcher := engine.NewDispatcher(contacts, scenarios, auditRepo,
		webhookTimeout, config.GetSystemSettingInteger(config.ENGINE_ORG_DISPATCH_LIMIT))

	retryBase, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_DISPATCH_RETRY_BASE))
	retryCap, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_DISPATCH_RETRY_CAP))
	repairInterval, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_STUCK_ENROLLMENTS_INTERVAL))
	wfEngine := engine.NewEngine(definitionRepo, enrollmentRepo, auditRepo, creditRepo, dispatcher, clock, engine.Options{
		BatchSize:           config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE),
		WorkerCount:         config.GetSystemSettingInteger(config.ENGINE_WORKER_COUNT),
		MaxDispatchAttempts: config.GetSystemSettingInteger(config.ENGINE_DISPATCH_MAX_ATTEMPTS),
		RetryBase:           retryBase,
		RetryCap:            retryCap,
		RepairInterval:      repairInterval,
		RepairAfter:         time.Duration(config.GetSystemSettingInteger(config.ENGINE_STUCK_ENROLLMENTS_REPAIR_AFTER_MINUTES)) * time.Minute,
	})

	pollInterval, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_CHECK_DB_INTERVAL))
	go wfEngine.Start(context.Background(), pollInterval)

	if mux == nil {
		mux = http.NewServeMux()
	}
	workflowsController := controllers.NewWorkflowsController(definitionRepo)
	workflowsController.RegisterRoutes(mux)
	enrollmentsController := controllers.NewEnrollmentsController(definitionRepo, enrollmentRepo, auditRepo, wfEngine, clock)
	enrollmentsController.RegisterRoutes(mux)
	creditsController := controllers.NewCreditsController(organizationRepo, creditRepo)
	creditsController.RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("OFLOW_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("OFLOW_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("OFLOW_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("OFLOW_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("OFLOW_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
