package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gohts/internal/engine"
	"gohts/internal/errors"
	"gohts/internal/hierarchy"
	"gohts/internal/learned"
	"gohts/internal/learned/gbm"
	"gohts/internal/reconcile"
	"gohts/internal/scoring"
)

// FileEnv names the optional YAML file read before environment overrides.
const FileEnv = "GOHTS_CONFIG_FILE"

// Config represents the complete application configuration
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	GBM       GBMConfig       `yaml:"gbm"`
	Hierarchy HierarchyConfig `yaml:"hierarchy"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig holds reconciliation settings. An empty Reconciler selects
// automatically among Candidates.
type EngineConfig struct {
	Reconciler       string    `yaml:"reconciler"`
	DecisionFunction string    `yaml:"decision_function" validate:"required"`
	Candidates       string    `yaml:"candidates"`
	BootstrapLevels  []float64 `yaml:"bootstrap_levels" validate:"min=1,dive,gt=0,lt=100"`
	BootstrapSamples int       `yaml:"bootstrap_samples" validate:"min=1"`
	Seed             uint64    `yaml:"seed"`
	LogTransform     bool      `yaml:"log_transform"`
	Workers          int       `yaml:"workers" validate:"min=0"`
	Aggregation      string    `yaml:"aggregation" validate:"oneof=mean median"`
}

// GBMConfig holds the learned reconciler's boosting settings
type GBMConfig struct {
	Regressor    gbm.Params `yaml:"regressor"`
	Classifier   gbm.Params `yaml:"classifier"`
	MinShareRows int        `yaml:"min_share_rows" validate:"min=1"`
}

// HierarchyConfig holds hierarchy construction settings
type HierarchyConfig struct {
	Frequency     string `yaml:"frequency" validate:"required"`
	RootName      string `yaml:"root_name" validate:"required,excludes=/"`
	ZeroAsMissing bool   `yaml:"zero_as_missing"`
}

// DatabaseConfig holds database connection settings. An empty URL disables persistence.
type DatabaseConfig struct {
	URL    string `yaml:"url"`
	Driver string `yaml:"driver" validate:"oneof=postgres sqlite"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string `yaml:"port" validate:"required,numeric"`
	GinMode string `yaml:"gin_mode" validate:"oneof=debug release test"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	boot := reconcile.DefaultBootstrapConfig()
	lopts := learned.DefaultOptions()
	return &Config{
		Engine: EngineConfig{
			DecisionFunction: scoring.DefaultDecisionFunction().String(),
			BootstrapLevels:  boot.Levels,
			BootstrapSamples: boot.Samples,
			Seed:             boot.Seed,
			Aggregation:      string(scoring.AggMean),
		},
		GBM: GBMConfig{
			Regressor:    lopts.Regressor,
			Classifier:   lopts.Classifier,
			MinShareRows: lopts.MinShareRows,
		},
		Hierarchy: HierarchyConfig{
			Frequency:     string(hierarchy.Daily),
			RootName:      hierarchy.DefaultBuildOptions().RootName,
			ZeroAsMissing: true,
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Server:   ServerConfig{Port: "8080", GinMode: "release"},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads .env (when present), then the YAML file named by GOHTS_CONFIG_FILE,
// then environment variables, and validates the result.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "failed to load .env")
		}
	}

	config := Defaults()
	if path := os.Getenv(FileEnv); path != "" {
		if err := loadFile(path, config); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("read %s: %w", path, err))
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("parse %s: %w", path, err))
	}
	return nil
}

func applyEnv(c *Config) error {
	env := &envReader{}
	c.Engine.Reconciler = env.text("RECONCILER", c.Engine.Reconciler)
	c.Engine.DecisionFunction = env.text("DECISION_FUNCTION", c.Engine.DecisionFunction)
	c.Engine.Candidates = env.text("CANDIDATES", c.Engine.Candidates)
	c.Engine.BootstrapLevels = env.numbers("BOOTSTRAP_LEVELS", c.Engine.BootstrapLevels)
	c.Engine.BootstrapSamples = env.integer("BOOTSTRAP_SAMPLES", c.Engine.BootstrapSamples)
	c.Engine.Seed = env.unsigned("SEED", c.Engine.Seed)
	c.Engine.LogTransform = env.boolean("LOG_TRANSFORM", c.Engine.LogTransform)
	c.Engine.Workers = env.integer("WORKERS", c.Engine.Workers)
	c.Engine.Aggregation = env.text("SCORE_AGGREGATION", c.Engine.Aggregation)

	c.GBM.Regressor.NumRounds = env.integer("GBM_NUM_ROUNDS", c.GBM.Regressor.NumRounds)
	c.GBM.Regressor.LearningRate = env.number("GBM_LEARNING_RATE", c.GBM.Regressor.LearningRate)
	c.GBM.Regressor.MaxDepth = env.integer("GBM_MAX_DEPTH", c.GBM.Regressor.MaxDepth)
	c.GBM.Regressor.EarlyStoppingRounds = env.integer("GBM_EARLY_STOPPING", c.GBM.Regressor.EarlyStoppingRounds)
	c.GBM.Classifier.NumRounds = env.integer("GBM_SHARE_ROUNDS", c.GBM.Classifier.NumRounds)
	c.GBM.MinShareRows = env.integer("GBM_MIN_SHARE_ROWS", c.GBM.MinShareRows)

	c.Hierarchy.Frequency = env.text("FREQUENCY", c.Hierarchy.Frequency)
	c.Hierarchy.RootName = env.text("ROOT_NAME", c.Hierarchy.RootName)
	c.Hierarchy.ZeroAsMissing = env.boolean("ZERO_AS_MISSING", c.Hierarchy.ZeroAsMissing)

	c.Database.URL = env.text("DATABASE_URL", c.Database.URL)
	c.Database.Driver = env.text("DATABASE_DRIVER", c.Database.Driver)
	c.Server.Port = env.text("HTTP_PORT", c.Server.Port)
	c.Server.GinMode = env.text("GIN_MODE", c.Server.GinMode)
	c.Logging.Level = env.text("LOG_LEVEL", c.Logging.Level)
	c.Logging.Pretty = env.boolean("LOG_PRETTY", c.Logging.Pretty)

	if len(env.errs) > 0 {
		return errors.ConfigInvalid("invalid environment: " + strings.Join(env.errs, "; "))
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints, then parses every expression the engine
// will need so that bad names fail before any fitting.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if _, err := c.Strategy(); err != nil {
		return err
	}
	if _, err := c.Settings(); err != nil {
		return err
	}
	if _, err := c.BuildOptions(); err != nil {
		return err
	}
	return nil
}

// Strategy returns the fixed strategy, or nil for automatic selection.
func (c *Config) Strategy() (*engine.Strategy, error) {
	if strings.TrimSpace(c.Engine.Reconciler) == "" || strings.EqualFold(strings.TrimSpace(c.Engine.Reconciler), "auto") {
		return nil, nil
	}
	s, err := engine.ParseStrategy(c.Engine.Reconciler)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Settings converts the configuration into pipeline settings.
func (c *Config) Settings() (engine.Settings, error) {
	s := engine.DefaultSettings()
	decision, err := scoring.ParseDecisionFunction(c.Engine.DecisionFunction)
	if err != nil {
		return s, err
	}
	s.Decision = decision
	if strings.TrimSpace(c.Engine.Candidates) != "" {
		if s.Candidates, err = engine.ParseCandidates(c.Engine.Candidates); err != nil {
			return s, err
		}
	}
	s.Workers = c.Engine.Workers
	s.Scoring.Aggregation = scoring.Aggregation(c.Engine.Aggregation)

	s.Reconcile.Bootstrap = reconcile.BootstrapConfig{
		Samples: c.Engine.BootstrapSamples,
		Levels:  append([]float64(nil), c.Engine.BootstrapLevels...),
		Seed:    c.Engine.Seed,
		Workers: c.Engine.Workers,
	}
	if err := s.Reconcile.Bootstrap.Validate(); err != nil {
		return s, err
	}

	s.Learned.LogTransform = c.Engine.LogTransform
	s.Learned.Regressor = c.GBM.Regressor
	s.Learned.Classifier = c.GBM.Classifier
	s.Learned.MinShareRows = c.GBM.MinShareRows
	s.Learned.Workers = c.Engine.Workers
	if err := c.GBM.Regressor.Validate(); err != nil {
		return s, errors.Wrap(err, "gbm regressor")
	}
	if err := c.GBM.Classifier.Validate(); err != nil {
		return s, errors.Wrap(err, "gbm classifier")
	}
	return s, nil
}

// BuildOptions returns hierarchy construction options.
func (c *Config) BuildOptions() (hierarchy.BuildOptions, error) {
	freq, err := hierarchy.ParseFrequency(c.Hierarchy.Frequency)
	if err != nil {
		return hierarchy.BuildOptions{}, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return hierarchy.BuildOptions{
		RootName:      c.Hierarchy.RootName,
		Frequency:     freq,
		ZeroAsMissing: c.Hierarchy.ZeroAsMissing,
		Workers:       c.Engine.Workers,
	}, nil
}

// envReader reads typed environment variables, collecting parse errors
type envReader struct {
	errs []string
}

func (e *envReader) text(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func (e *envReader) integer(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s=%q is not an integer", key, value))
			return defaultValue
		}
		return intValue
	}
	return defaultValue
}

func (e *envReader) unsigned(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		v, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s=%q is not an unsigned integer", key, value))
			return defaultValue
		}
		return v
	}
	return defaultValue
}

func (e *envReader) number(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		floatValue, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s=%q is not a number", key, value))
			return defaultValue
		}
		return floatValue
	}
	return defaultValue
}

func (e *envReader) numbers(key string, defaultValue []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []float64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a number", key, part))
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}

func (e *envReader) boolean(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			e.errs = append(e.errs, fmt.Sprintf("%s=%q is not a boolean", key, value))
			return defaultValue
		}
		return boolValue
	}
	return defaultValue
}
