package postgres

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gohts/domain/core"
	"gohts/domain/forecast"
	"gohts/internal/errors"
	"gohts/ports"
)

func openTestRepo(t *testing.T) ports.ForecastRepository {
	t.Helper()
	db, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "gohts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewForecastRepository(db)
}

func day(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestPredictionsRoundTripKeepsNulls(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	rows := []forecast.Prediction{
		{Timestamp: day(0), ID: "A/1", Mean: 2, Lower: 1, Upper: 3},
		{Timestamp: day(1), ID: "A/1", Mean: 2.5, Lower: math.NaN(), Upper: math.NaN()},
		{Timestamp: day(0), ID: "Total", Mean: 9, Lower: 7, Upper: 11},
	}
	require.NoError(t, repo.SavePredictions(ctx, "run-1", ports.WindowTest, rows))

	back, err := repo.LoadPredictions(ctx, "run-1", ports.WindowTest)
	require.NoError(t, err)
	require.Len(t, back, 3)
	assert.Equal(t, rows[0], back[0])
	assert.True(t, math.IsNaN(back[1].Lower))
	assert.Equal(t, 2.5, back[1].Mean)
	assert.Equal(t, "Total", back[2].ID)

	_, err = repo.LoadPredictions(ctx, "run-1", ports.WindowValidation)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	// Saving again replaces the set.
	require.NoError(t, repo.SavePredictions(ctx, "run-1", ports.WindowTest, rows[:1]))
	back, err = repo.LoadPredictions(ctx, "run-1", ports.WindowTest)
	require.NoError(t, err)
	assert.Len(t, back, 1)
}

func TestOutputKeepsRowOrder(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	rows := []forecast.OutputRow{
		{Timestamp: day(0), IDPred: "Total", PredMean: 9, Sigma: 2, PILower95: 5, PIUpper95: 13},
		{Timestamp: day(0), IDPred: "B", PredMean: 4, Sigma: 1, PILower95: 2, PIUpper95: 6},
		{Timestamp: day(0), IDPred: "A", PredMean: 5, Sigma: 1, PILower95: 3, PIUpper95: 7},
	}
	require.NoError(t, repo.SaveOutput(ctx, "run-2", rows))

	back, err := repo.LoadOutput(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, rows, back)

	_, err = repo.LoadOutput(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestLatestChoice(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	_, err := repo.LatestChoice(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)

	older := ports.ChoiceRecord{RunID: "run-a", Method: "bottom-up", Score: 1.5, Payload: []byte(`{"method":"bottom-up"}`), CreatedAt: day(0)}
	newer := ports.ChoiceRecord{RunID: "run-b", Method: "trace-minimization:ols", Score: 1.2, Payload: []byte(`{}`), CreatedAt: day(1)}
	require.NoError(t, repo.SaveChoice(ctx, newer))
	require.NoError(t, repo.SaveChoice(ctx, older))

	got, err := repo.LatestChoice(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer, *got)

	newer.Method = "bottom-up"
	require.NoError(t, repo.SaveChoice(ctx, newer))
	got, err = repo.LatestChoice(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bottom-up", got.Method, "a run's choice is overwritten")
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "gohts.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db))

	var tables []string
	require.NoError(t, db.SelectContext(ctx, &tables, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`))
	assert.Equal(t, []string{"predictions", "reconciled_output", "reconciler_choices"}, tables)
}
