package sqllite

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"testing"

	"github.com/outflowhq/outflow/internal/config"
	"github.com/outflowhq/outflow/internal/migrations"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

var dbSeq int32

// setupDatabase creates a fresh migrated SQLite database per test and
// points the dialect helpers at it.
func setupDatabase(t *testing.T) *sql.DB {
	t.Helper()

	filename := fmt.Sprintf("outflow-test-%d-%d.db", os.Getpid(), atomic.AddInt32(&dbSeq, 1))
	t.Cleanup(func() { os.Remove(filename) })

	os.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	os.Setenv(config.DATABASE_SQLLITE_FILE_NAME, filename)

	if err := runMigrations(filename); err != nil {
		t.Fatalf("Migrations failed: %v", err)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		t.Fatalf("Failed to open SQLite DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return db
}

func runMigrations(filename string) error {
	sub, err := fs.Sub(migrations.FS, "sqllite3")
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite3://"+filename)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
