package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gohts/adapters/excel"
	"gohts/domain/forecast"
	"gohts/internal/config"
	"gohts/internal/container"
	"gohts/internal/engine"
	"gohts/internal/logging"
	"gohts/internal/report"
	"gohts/internal/selector"
	"gohts/internal/testkit"
	"gohts/ports"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gohts",
		Short:         "Hierarchical forecast reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newReconcileCmd(),
		newSelectCmd(),
		newDemoCmd(),
		newMigrateCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration, installs the logger and resolves the engine settings.
func setup() (*container.Container, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logging.Init("gohts", cfg.Logging.Level, cfg.Logging.Pretty)
	c, err := container.New(cfg)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return c, logging.Component("cli"), nil
}

func progressLogger(logger zerolog.Logger) ports.ProgressObserver {
	return func(ev ports.ProgressEvent) {
		e := logger.Debug()
		if ev.Err != nil {
			e = e.Err(ev.Err)
		}
		e.Str("stage", ev.Stage).Str("node", ev.Node).Int("done", ev.Done).Int("total", ev.Total).Msg("progress")
	}
}

func addInputFlags(cmd *cobra.Command, opts *inputOptions) {
	cmd.Flags().StringVar(&opts.observations, "observations", "", "Observation workbook or CSV (required)")
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "Sheet name; defaults to the first sheet")
	cmd.Flags().StringVar(&opts.levels, "levels", "", "Hierarchy levels coarsest first, e.g. region=Region,facility=Facility (required)")
	cmd.Flags().StringVar(&opts.dateCol, "date-col", "Date", "Timestamp column")
	cmd.Flags().StringVar(&opts.valueCol, "value-col", "Value", "Observed value column")
	cmd.Flags().StringVar(&opts.forecasts, "forecasts", "", "Base forecasts (.json, .xlsx or .csv); seasonal-naive forecasts are used when empty")
	cmd.Flags().IntVar(&opts.validation, "validation", 7, "Validation window length")
	cmd.Flags().IntVar(&opts.test, "test", 7, "Test window length, counted from the last observation")
	cmd.Flags().IntVar(&opts.horizon, "horizon", 0, "Forecast this many steps past the last observation instead of a test window")
	cmd.Flags().IntVar(&opts.season, "season", 7, "Season length of the naive forecaster and backtest step")
	cmd.MarkFlagRequired("observations")
	cmd.MarkFlagRequired("levels")
}

func newReconcileCmd() *cobra.Command {
	var opts inputOptions
	var strategy, outPath, reportPath string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile base forecasts for a hierarchy of observations",
		Long: `Build the hierarchy from labelled observations, obtain base forecasts for the
train, validation and test windows, reconcile them and write integer, additive output.

Without --strategy (or RECONCILER) the best candidate is selected on the validation window.

Example:
  gohts reconcile --observations orders.xlsx --levels region=Region,facility=Facility \
    --date-col Date --value-col Orders --horizon 14 --out reconciled.xlsx --report run.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			progress := progressLogger(logger)

			in, err := loadInputs(ctx, c.Config, opts, progress, logger)
			if err != nil {
				return err
			}
			in.Strategy = c.Strategy
			if strategy != "" {
				s, err := engine.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				in.Strategy = &s
			}

			if err := c.InitDatabase(ctx); err != nil {
				return err
			}
			defer c.Close()

			res, err := c.Pipeline(progress).Run(ctx, in)
			if err != nil {
				return err
			}
			printResult(res)
			if err := writeOutput(outPath, res.Output); err != nil {
				return err
			}
			if reportPath != "" {
				return report.Write(reportPath, res)
			}
			return nil
		},
	}

	addInputFlags(cmd, &opts)
	cmd.Flags().StringVar(&strategy, "strategy", "", "Fixed reconciler, e.g. bottom-up, td:forecast-proportions, mint:mint-shrink, learned")
	cmd.Flags().StringVar(&outPath, "out", "", "Write output rows to .xlsx, .csv or .json")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a run report (.md or .html)")
	return cmd
}

func newSelectCmd() *cobra.Command {
	var opts inputOptions

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Rank candidate reconcilers on the validation window",
		Long: `Evaluate every configured candidate (CANDIDATES) on the validation window and
print the ranking as JSON. The choice is stored when DATABASE_URL is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			settings := c.Settings
			in, err := loadInputs(ctx, c.Config, opts, progressLogger(logger), logger)
			if err != nil {
				return err
			}

			sel, err := selector.New(selector.Options{
				Candidates: settings.Candidates,
				Decision:   settings.Decision,
				Scoring:    settings.Scoring,
				Reconcile:  settings.Reconcile,
				Workers:    settings.Workers,
				Progress:   progressLogger(logger),
			})
			if err != nil {
				return err
			}
			train := in.Train
			if train == nil {
				train = in.Validation
			}
			choice, err := sel.Select(ctx, selector.Inputs{
				Index:             in.Index,
				Train:             train,
				TrainActuals:      in.Actuals,
				Validation:        in.Validation,
				ValidationActuals: in.Actuals,
			})
			if err != nil {
				return err
			}

			payload, err := engine.MarshalChoice(choice)
			if err != nil {
				return err
			}
			if err := c.InitDatabase(ctx); err != nil {
				return err
			}
			defer c.Close()
			if c.Repo != nil {
				if err := c.Repo.SaveChoice(ctx, ports.ChoiceRecord{
					RunID:     choice.RunID,
					Method:    choice.Method.String(),
					Score:     choice.Score,
					Payload:   payload,
					CreatedAt: choice.CreatedAt,
				}); err != nil {
					return err
				}
			}
			return printJSON(choice)
		},
	}

	addInputFlags(cmd, &opts)
	return cmd
}

func newDemoCmd() *cobra.Command {
	var seed uint64
	var days, validation, test int
	var strategy, reportPath, outPath string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the pipeline on a synthetic demand hierarchy",
		Long: `Generate a deterministic Total → {A, B} → {A/1, A/2, B/1} demand hierarchy with
noisy, non-additive base forecasts and reconcile it.

Example: gohts demo --seed 7 --strategy learned --report demo.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := setup()
			if err != nil {
				return err
			}

			demo := testkit.DefaultDemandConfig()
			demo.Seed = seed
			demo.Days = days
			sc, err := testkit.NewDemandGenerator(demo).Generate(cmd.Context())
			if err != nil {
				return err
			}
			if validation+test >= days {
				return fmt.Errorf("%d days cannot hold %d validation and %d test days", days, validation, test)
			}
			train, val, tst := sc.Split(validation, test)
			in := engine.Inputs{
				Index:      sc.Index,
				Train:      sc.Base.Slice(train[0], train[1]),
				Validation: sc.Base.Slice(val[0], val[1]),
				Test:       sc.Base.Slice(tst[0], tst[1]),
				Actuals:    sc.Actuals,
			}
			if strategy != "" {
				s, err := engine.ParseStrategy(strategy)
				if err != nil {
					return err
				}
				in.Strategy = &s
			}

			res, err := c.Pipeline(progressLogger(logger)).Run(cmd.Context(), in)
			if err != nil {
				return err
			}
			printResult(res)
			if err := writeOutput(outPath, res.Output); err != nil {
				return err
			}
			if reportPath != "" {
				return report.Write(reportPath, res)
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&seed, "seed", 42, "Random seed of the synthetic hierarchy")
	cmd.Flags().IntVar(&days, "days", 60, "Days of history")
	cmd.Flags().IntVar(&validation, "validation", 7, "Validation window length")
	cmd.Flags().IntVar(&test, "test", 7, "Test window length")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Fixed reconciler; empty selects automatically")
	cmd.Flags().StringVar(&outPath, "out", "", "Write output rows to .xlsx, .csv or .json")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write a run report (.md or .html)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema at DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, logger, err := setup()
			if err != nil {
				return err
			}
			if c.Config.Database.URL == "" {
				return fmt.Errorf("DATABASE_URL is not set")
			}
			if err := c.InitDatabase(cmd.Context()); err != nil {
				return err
			}
			defer c.Close()
			logger.Info().Str("driver", c.Config.Database.Driver).Msg("migrations applied")
			return nil
		},
	}
}

func printResult(res *engine.Result) {
	fmt.Printf("run        %s\n", res.RunID)
	fmt.Printf("reconciler %s\n", res.Reconciler)
	if res.Choice != nil {
		fmt.Printf("selected   %s (validation score %.4f)\n", res.Choice.Method, res.Choice.Score)
		if res.Choice.BaselineBest {
			fmt.Println("warning    unreconciled forecasts scored best on validation")
		}
	}
	fmt.Printf("rows       %d\n", len(res.Output))
	if res.Summary != nil {
		fmt.Printf("test score %.4f over %d nodes\n", res.Score, res.Summary.Nodes)
	} else {
		fmt.Println("test score n/a (no actuals in the test window)")
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeOutput(path string, rows []forecast.OutputRow) error {
	if path == "" {
		return nil
	}
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return excel.WriteOutput(path, rows)
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
