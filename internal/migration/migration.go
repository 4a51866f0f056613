package migration

import (
	"context"
	"fmt"

	"gohts/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// columnTypes holds the dialect specific column types. Both drivers accept
// the remaining DDL as written.
type columnTypes struct {
	timestamp string
	blob      string
}

func typesFor(driver string) columnTypes {
	if driver == "postgres" {
		return columnTypes{timestamp: "TIMESTAMPTZ", blob: "BYTEA"}
	}
	// modernc sqlite parses TIMESTAMP columns back into time.Time
	return columnTypes{timestamp: "TIMESTAMP", blob: "BLOB"}
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	types := typesFor(db.DriverName())

	if err := r.createPredictionsTable(ctx, db, types); err != nil {
		return errors.Wrap(err, "failed to create predictions table")
	}

	if err := r.createOutputTable(ctx, db, types); err != nil {
		return errors.Wrap(err, "failed to create reconciled_output table")
	}

	if err := r.createChoicesTable(ctx, db, types); err != nil {
		return errors.Wrap(err, "failed to create reconciler_choices table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

func (r *MigrationRunner) createPredictionsTable(ctx context.Context, db *sqlx.DB, types columnTypes) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS predictions (
			run_id TEXT NOT NULL,
			win TEXT NOT NULL,
			ts %s NOT NULL,
			id_pred TEXT NOT NULL,
			pred_mean DOUBLE PRECISION,
			pi_lower_95 DOUBLE PRECISION,
			pi_upper_95 DOUBLE PRECISION,
			PRIMARY KEY (run_id, win, id_pred, ts)
		)
	`, types.timestamp))
	return err
}

func (r *MigrationRunner) createOutputTable(ctx context.Context, db *sqlx.DB, types columnTypes) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS reconciled_output (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts %s NOT NULL,
			id_pred TEXT NOT NULL,
			pred_mean DOUBLE PRECISION NOT NULL,
			sigma DOUBLE PRECISION NOT NULL,
			pi_lower_95 DOUBLE PRECISION NOT NULL,
			pi_upper_95 DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, seq)
		)
	`, types.timestamp))
	return err
}

func (r *MigrationRunner) createChoicesTable(ctx context.Context, db *sqlx.DB, types columnTypes) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS reconciler_choices (
			run_id TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			payload %s NOT NULL,
			created_at %s NOT NULL
		)
	`, types.blob, types.timestamp))
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_predictions_run ON predictions(run_id, win)",
		"CREATE INDEX IF NOT EXISTS idx_choices_created ON reconciler_choices(created_at)",
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
