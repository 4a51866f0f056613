package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/reconcile"
	"gohts/internal/scoring"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)

	s, err := cfg.Strategy()
	require.NoError(t, err)
	assert.Nil(t, s, "no reconciler means automatic selection")

	settings, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, "0.5*rmse + 0.5*mae", settings.Decision.String())
	assert.Equal(t, []float64{95}, settings.Reconcile.Bootstrap.Levels)
	assert.Equal(t, 500, settings.Reconcile.Bootstrap.Samples)

	opts, err := cfg.BuildOptions()
	require.NoError(t, err)
	assert.Equal(t, "Total", opts.RootName)
	assert.Equal(t, hierarchy.Daily, opts.Frequency)
	assert.True(t, opts.ZeroAsMissing)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("RECONCILER", "td:average_proportions")
	t.Setenv("DECISION_FUNCTION", "rmse + 0.1*width")
	t.Setenv("CANDIDATES", "bu,mint:ols")
	t.Setenv("BOOTSTRAP_LEVELS", "80, 95")
	t.Setenv("BOOTSTRAP_SAMPLES", "200")
	t.Setenv("SEED", "7")
	t.Setenv("WORKERS", "3")
	t.Setenv("LOG_TRANSFORM", "true")
	t.Setenv("FREQUENCY", "weekly")
	t.Setenv("ZERO_AS_MISSING", "false")

	cfg, err := Load()
	require.NoError(t, err)

	s, err := cfg.Strategy()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "top-down:average-proportions", s.String())

	settings, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, []reconcile.Method{reconcile.BottomUp(), reconcile.MinTrace(reconcile.OLS)}, settings.Candidates)
	assert.Equal(t, []float64{80, 95}, settings.Reconcile.Bootstrap.Levels)
	assert.Equal(t, uint64(7), settings.Reconcile.Bootstrap.Seed)
	assert.Equal(t, 200, settings.Reconcile.Bootstrap.Samples)
	assert.Equal(t, 3, settings.Workers)
	assert.True(t, settings.Learned.LogTransform)
	assert.Len(t, settings.Decision.Terms, 2)

	opts, err := cfg.BuildOptions()
	require.NoError(t, err)
	assert.Equal(t, hierarchy.Weekly, opts.Frequency)
	assert.False(t, opts.ZeroAsMissing)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gohts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  reconciler: learned
  aggregation: median
  bootstrap_samples: 50
gbm:
  regressor:
    num_rounds: 20
    learning_rate: 0.2
    max_depth: 2
    min_child_weight: 1
    lambda: 1
hierarchy:
  root_name: Nation
`), 0o644))
	t.Setenv(FileEnv, path)
	t.Setenv("BOOTSTRAP_SAMPLES", "75")

	cfg, err := Load()
	require.NoError(t, err)
	s, err := cfg.Strategy()
	require.NoError(t, err)
	assert.True(t, s.IsLearned())

	settings, err := cfg.Settings()
	require.NoError(t, err)
	assert.Equal(t, scoring.AggMedian, settings.Scoring.Aggregation)
	assert.Equal(t, 75, settings.Reconcile.Bootstrap.Samples, "environment wins over the file")
	assert.Equal(t, 20, settings.Learned.Regressor.NumRounds)
	assert.Equal(t, 2, settings.Learned.Regressor.MaxDepth)
	assert.Equal(t, "Nation", cfg.Hierarchy.RootName)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		code string
	}{
		{"unknown reconciler", map[string]string{"RECONCILER": "middle-out"}, errors.CodeUnsupportedReconciler},
		{"unknown estimator", map[string]string{"RECONCILER": "mint:magic"}, errors.CodeUnsupportedReconciler},
		{"bad metric", map[string]string{"DECISION_FUNCTION": "0.5*r2"}, errors.CodeConfigInvalid},
		{"bad integer", map[string]string{"WORKERS": "many"}, errors.CodeConfigInvalid},
		{"level out of range", map[string]string{"BOOTSTRAP_LEVELS": "95,100"}, errors.CodeConfigInvalid},
		{"root with slash", map[string]string{"ROOT_NAME": "a/b"}, errors.CodeConfigInvalid},
		{"bad frequency", map[string]string{"FREQUENCY": "fortnight"}, errors.CodeConfigInvalid},
		{"bad aggregation", map[string]string{"SCORE_AGGREGATION": "max"}, errors.CodeConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(FileEnv, "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.True(t, errors.IsConfigError(err))
		})
	}
}

func TestLoadRejectsUnknownYAMLKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gohts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  reconcilr: bottom-up\n"), 0o644))
	t.Setenv(FileEnv, path)

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}
