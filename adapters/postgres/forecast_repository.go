package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/ports"
)

// ForecastRepositoryImpl implements ports.ForecastRepository on sqlx
type ForecastRepositoryImpl struct {
	db *sqlx.DB
}

// NewForecastRepository creates a repository over an opened, migrated database
func NewForecastRepository(db *sqlx.DB) ports.ForecastRepository {
	return &ForecastRepositoryImpl{db: db}
}

type predictionRow struct {
	Timestamp time.Time       `db:"ts"`
	ID        string          `db:"id_pred"`
	Mean      sql.NullFloat64 `db:"pred_mean"`
	Lower     sql.NullFloat64 `db:"pi_lower_95"`
	Upper     sql.NullFloat64 `db:"pi_upper_95"`
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func value(n sql.NullFloat64) float64 {
	if !n.Valid {
		return forecast.Null()
	}
	return n.Float64
}

// SavePredictions replaces the prediction set stored for the run and window
func (r *ForecastRepositoryImpl) SavePredictions(ctx context.Context, runID core.RunID, window ports.Window, rows []forecast.Prediction) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM predictions WHERE run_id = ? AND win = ?`), string(runID), string(window)); err != nil {
			return err
		}
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
			INSERT INTO predictions (run_id, win, ts, id_pred, pred_mean, pi_lower_95, pi_upper_95)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range rows {
			if _, err := stmt.ExecContext(ctx, string(runID), string(window), p.Timestamp.UTC(), p.ID, nullable(p.Mean), nullable(p.Lower), nullable(p.Upper)); err != nil {
				return fmt.Errorf("insert %s at %s: %w", p.ID, p.Timestamp.Format(time.RFC3339), err)
			}
		}
		return nil
	})
}

// LoadPredictions returns the run's prediction set ordered by node then time
func (r *ForecastRepositoryImpl) LoadPredictions(ctx context.Context, runID core.RunID, window ports.Window) ([]forecast.Prediction, error) {
	var rows []predictionRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT ts, id_pred, pred_mean, pi_lower_95, pi_upper_95
		FROM predictions
		WHERE run_id = ? AND win = ?
		ORDER BY id_pred, ts
	`), string(runID), string(window))
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	if len(rows) == 0 {
		return nil, notFound("%s predictions for run %s", window, runID)
	}

	out := make([]forecast.Prediction, len(rows))
	for i, row := range rows {
		out[i] = forecast.Prediction{
			Timestamp: row.Timestamp.UTC(),
			ID:        row.ID,
			Mean:      value(row.Mean),
			Lower:     value(row.Lower),
			Upper:     value(row.Upper),
		}
	}
	return out, nil
}

// SaveOutput replaces the run's reconciled output, keeping row order
func (r *ForecastRepositoryImpl) SaveOutput(ctx context.Context, runID core.RunID, rows []forecast.OutputRow) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM reconciled_output WHERE run_id = ?`), string(runID)); err != nil {
			return err
		}
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
			INSERT INTO reconciled_output (run_id, seq, ts, id_pred, pred_mean, sigma, pi_lower_95, pi_upper_95)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, o := range rows {
			if _, err := stmt.ExecContext(ctx, string(runID), i, o.Timestamp.UTC(), o.IDPred, o.PredMean, o.Sigma, o.PILower95, o.PIUpper95); err != nil {
				return fmt.Errorf("insert output row %d: %w", i, err)
			}
		}
		return nil
	})
}

// LoadOutput returns the run's reconciled output in the order it was saved
func (r *ForecastRepositoryImpl) LoadOutput(ctx context.Context, runID core.RunID) ([]forecast.OutputRow, error) {
	var rows []forecast.OutputRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT ts, id_pred, pred_mean, sigma, pi_lower_95, pi_upper_95
		FROM reconciled_output
		WHERE run_id = ?
		ORDER BY seq
	`), string(runID))
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	if len(rows) == 0 {
		return nil, notFound("output for run %s", runID)
	}
	for i := range rows {
		rows[i].Timestamp = rows[i].Timestamp.UTC()
	}
	return rows, nil
}

// SaveChoice stores a selection; saving a run's choice again overwrites it
func (r *ForecastRepositoryImpl) SaveChoice(ctx context.Context, choice ports.ChoiceRecord) error {
	if choice.CreatedAt.IsZero() {
		choice.CreatedAt = time.Now()
	}
	choice.CreatedAt = choice.CreatedAt.UTC()
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM reconciler_choices WHERE run_id = ?`), string(choice.RunID)); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO reconciler_choices (run_id, method, score, payload, created_at)
			VALUES (:run_id, :method, :score, :payload, :created_at)
		`, choice)
		return err
	})
}

// LatestChoice returns the most recently created selection
func (r *ForecastRepositoryImpl) LatestChoice(ctx context.Context) (*ports.ChoiceRecord, error) {
	var rec ports.ChoiceRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT run_id, method, score, payload, created_at
		FROM reconciler_choices
		ORDER BY created_at DESC, run_id DESC
		LIMIT 1
	`)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("reconciler choice")
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func (r *ForecastRepositoryImpl) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.WithCode(errors.CodeDatabaseError, err)
	}
	return nil
}

func notFound(format string, args ...interface{}) error {
	return errors.WithCode(errors.CodeNotFound, fmt.Errorf(format+": %w", append(args, core.ErrNotFound)...))
}
