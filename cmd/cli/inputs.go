package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gohts/adapters/excel"
	"gohts/adapters/leafforecast"
	"gohts/adapters/naive"
	"gohts/domain/forecast"
	domain "gohts/domain/hierarchy"
	"gohts/internal/config"
	"gohts/internal/engine"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/ports"
)

// inputOptions are the flags shared by reconcile and select.
type inputOptions struct {
	observations string
	sheet        string
	levels       string
	dateCol      string
	valueCol     string
	forecasts    string
	validation   int
	test         int
	horizon      int
	season       int
}

// parseLevels reads "name=Column,..." pairs coarsest first. A bare column
// name is also its level name.
func parseLevels(list string) ([]domain.Level, error) {
	var levels []domain.Level
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, column, ok := strings.Cut(part, "=")
		if !ok {
			column = name
			name = strings.ToLower(name)
		}
		name, column = strings.TrimSpace(name), strings.TrimSpace(column)
		if name == "" || column == "" {
			return nil, errors.ConfigInvalid(fmt.Sprintf("invalid level %q, want name=Column", part))
		}
		levels = append(levels, domain.Level{Name: name, Column: column})
	}
	if len(levels) == 0 {
		return nil, errors.ConfigInvalid("--levels names no hierarchy level")
	}
	return levels, nil
}

// windows are index ranges over the history calendar. With a horizon the
// test window lies past the last observation and test is empty.
type windows struct {
	train, validation, test [2]int
	future                  []time.Time
}

func splitWindows(n int, opts inputOptions, freq hierarchy.Frequency, last time.Time) (windows, error) {
	var w windows
	testLen := opts.test
	if opts.horizon > 0 {
		testLen = 0
		w.future = hierarchy.Horizon(last, freq, opts.horizon)
	}
	testStart := n - testLen
	valStart := testStart - opts.validation
	if opts.validation < 1 || (opts.horizon <= 0 && testLen < 1) {
		return w, errors.ConfigInvalid("validation and test windows need at least one point")
	}
	if valStart <= opts.season {
		return w, errors.InvalidInput(fmt.Sprintf("%d observations leave no history before the validation window", n))
	}
	w.train = [2]int{opts.season, valStart}
	w.validation = [2]int{valStart, testStart}
	w.test = [2]int{testStart, n}
	return w, nil
}

// loadInputs reads observations, builds the hierarchy and produces base
// forecasts for every window, either from a forecast file or from the
// seasonal-naive forecaster.
func loadInputs(ctx context.Context, cfg *config.Config, opts inputOptions, progress ports.ProgressObserver, logger zerolog.Logger) (engine.Inputs, error) {
	levels, err := parseLevels(opts.levels)
	if err != nil {
		return engine.Inputs{}, err
	}
	rows, err := excel.ReadObservations(opts.observations, opts.sheet, levels, opts.dateCol, opts.valueCol)
	if err != nil {
		return engine.Inputs{}, err
	}
	buildOpts, err := cfg.BuildOptions()
	if err != nil {
		return engine.Inputs{}, err
	}
	idx, actuals, err := hierarchy.Build(ctx, rows, levels, buildOpts)
	if err != nil {
		return engine.Inputs{}, err
	}
	n := actuals.Len()
	w, err := splitWindows(n, opts, buildOpts.Frequency, actuals.Timestamps[n-1])
	if err != nil {
		return engine.Inputs{}, err
	}
	logger.Info().Int("nodes", idx.Len()).Int("leaves", idx.NumLeaves()).Int("timestamps", n).Msg("hierarchy built")

	in := engine.Inputs{Index: idx, Actuals: actuals}
	if opts.forecasts != "" {
		err = fromFile(opts.forecasts, idx, actuals, w, &in, logger)
	} else {
		err = fromNaive(ctx, cfg, opts, idx, actuals, w, progress, &in)
	}
	return in, err
}

func fromFile(path string, idx *hierarchy.Index, actuals *forecast.Actuals, w windows, in *engine.Inputs, logger zerolog.Logger) error {
	var raw []ports.RawForecast
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return errors.WithCode(errors.CodeInvalidInput, readErr)
		}
		raw, err = leafforecast.ParseJSON(data, leafforecast.ProphetFields())
		if err != nil {
			raw, err = leafforecast.ParseJSON(data, leafforecast.CanonicalFields())
		}
	default:
		raw, err = excel.ReadForecasts(path, "")
	}
	if err != nil {
		return err
	}

	calendar := append(append([]time.Time(nil), actuals.Timestamps...), w.future...)
	frame, rep := leafforecast.Normalize(raw, idx, calendar)
	logger.Info().
		Strs("untrained", rep.Untrained).
		Int("clamped", rep.Clamped).
		Int("repaired", rep.Repaired).
		Int("skipped", rep.Skipped).
		Msg("forecast file normalised")

	if w.train[1] > w.train[0] {
		in.Train = frame.Slice(w.train[0], w.train[1])
	}
	in.Validation = frame.Slice(w.validation[0], w.validation[1])
	if len(w.future) > 0 {
		in.Test = frame.Slice(actuals.Len(), frame.Len())
	} else {
		in.Test = frame.Slice(w.test[0], w.test[1])
	}
	return nil
}

func fromNaive(ctx context.Context, cfg *config.Config, opts inputOptions, idx *hierarchy.Index, actuals *forecast.Actuals, w windows, progress ports.ProgressObserver, in *engine.Inputs) error {
	runner := leafforecast.NewRunner(naive.New(opts.season), leafforecast.RunnerOptions{
		Workers:  cfg.Engine.Workers,
		Progress: progress,
	})
	var err error
	if w.train[1] > w.train[0] {
		if in.Train, err = runner.Backtest(ctx, idx, actuals, w.train[0], w.train[1], opts.season); err != nil {
			return errors.Wrap(err, "backtest training window")
		}
	}
	size := w.validation[1] - w.validation[0]
	if in.Validation, err = runner.Backtest(ctx, idx, actuals, w.validation[0], w.validation[1], size); err != nil {
		return errors.Wrap(err, "backtest validation window")
	}
	if len(w.future) > 0 {
		in.Test, _, err = runner.Forecast(ctx, idx, actuals, w.future)
	} else {
		in.Test, err = runner.Backtest(ctx, idx, actuals, w.test[0], w.test[1], w.test[1]-w.test[0])
	}
	if err != nil {
		return errors.Wrap(err, "forecast test window")
	}
	return nil
}
