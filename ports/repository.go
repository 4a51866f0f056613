package ports

import (
	"context"
	"time"

	"gohts/domain/core"
	"gohts/domain/forecast"
)

// Window names the slice of the calendar a prediction set belongs to.
type Window string

const (
	WindowTrain      Window = "train"
	WindowValidation Window = "validation"
	WindowTest       Window = "test"
	WindowFuture     Window = "future"
)

// ChoiceRecord is a persisted reconciler selection.
type ChoiceRecord struct {
	RunID     core.RunID `db:"run_id"`
	Method    string     `db:"method"`
	Score     float64    `db:"score"`
	Payload   []byte     `db:"payload"`
	CreatedAt time.Time  `db:"created_at"`
}

// ForecastRepository stores prediction sets, reconciled output and selections.
type ForecastRepository interface {
	SavePredictions(ctx context.Context, runID core.RunID, window Window, rows []forecast.Prediction) error
	LoadPredictions(ctx context.Context, runID core.RunID, window Window) ([]forecast.Prediction, error)
	SaveOutput(ctx context.Context, runID core.RunID, rows []forecast.OutputRow) error
	LoadOutput(ctx context.Context, runID core.RunID) ([]forecast.OutputRow, error)
	SaveChoice(ctx context.Context, choice ChoiceRecord) error
	LatestChoice(ctx context.Context) (*ChoiceRecord, error)
}
