// Package postgres persists prediction sets, reconciled output and reconciler
// selections through sqlx. PostgreSQL is the production target; the same
// repository runs on SQLite for local runs and tests.
package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"gohts/internal/errors"
	"gohts/internal/logging"
	"gohts/internal/migration"
)

// Open connects to the database and brings the schema up to date.
func Open(ctx context.Context, driver, url string) (*sqlx.DB, error) {
	if driver != "postgres" && driver != "sqlite" {
		return nil, errors.ConfigInvalid("database driver must be postgres or sqlite")
	}
	db, err := sqlx.ConnectContext(ctx, driver, url)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	if driver == "sqlite" {
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the prediction, output and choice tables when missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	runner := migration.NewRunner()
	if err := runner.Run(ctx, db); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	logging.Component("postgres").Info().Str("driver", db.DriverName()).Str("schema", runner.Version()).Msg("schema up to date")
	return nil
}
