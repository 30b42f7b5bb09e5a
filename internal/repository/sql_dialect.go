package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/outflowhq/outflow/internal/config"
)

// placeholder returns the correct bind variable for the given index based on DB type.
// Postgres uses $1, $2... while MySQL and SQLite use ?
func placeholder(i int) string {
	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	if db == config.DATABASE_TYPE_POSTGRES {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func supportsReturning() bool {
	return config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_POSTGRES
}

func formatDateInDatabase(t time.Time) string {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		return t.UTC().Format("2006-01-02 15:04:05.000")
	}
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_MYSQL {
		return t.UTC().Format("2006-01-02 15:04:05.000000")
	}
	// PostgreSQL supports RFC3339
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDateInDatabaseNull(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return formatDateInDatabase(t.Time)
}

// dateBeforeOrAt returns a DB-specific SQL predicate that checks if the
// provided datetime column is at or before the given instant. SQLite
// timestamps are coerced via julianday() so TEXT/REAL/INTEGER values stay
// comparable.
func dateBeforeOrAt(column string, at time.Time) string {
	now := at.UTC().Format("2006-01-02 15:04:05.000")

	db := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch db {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_MYSQL:
		return fmt.Sprintf("%s <= '%s'", column, now)
	default:
		return fmt.Sprintf("julianday(%s) <= julianday('%s')", column, now)
	}
}

// insertReturningID runs an INSERT and resolves the generated id with
// RETURNING where the dialect supports it, LastInsertId otherwise.
func insertReturningID(db *sql.DB, query string, vals []interface{}) (int64, error) {
	if supportsReturning() {
		var id int64
		err := db.QueryRow(query+" RETURNING id", vals...).Scan(&id)
		return id, err
	}
	res, err := db.Exec(query, vals...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
