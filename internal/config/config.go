// Package config provides unified configuration loading for pdpsim.
// It supports YAML and JSON-with-comments files, a .env file and
// environment variable overrides.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/export"
	"github.com/nvandessel/pdpsim/internal/logging"
	"github.com/nvandessel/pdpsim/internal/metrics"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/pdp"
	"github.com/nvandessel/pdpsim/internal/population"
	"github.com/nvandessel/pdpsim/internal/retention"
	"github.com/nvandessel/pdpsim/internal/simulation"
	"github.com/nvandessel/pdpsim/internal/trust"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "pdpsim.yaml"

// Config contains every experiment setting.
type Config struct {
	ExperimentName string `json:"experiment_name" yaml:"experiment_name"`
	Description    string `json:"description" yaml:"description"`

	NumUsers          int     `json:"num_users" yaml:"num_users"`
	NumDevices        int     `json:"num_devices" yaml:"num_devices"`
	NumEvents         int     `json:"num_events" yaml:"num_events"`
	AttackProbability float64 `json:"attack_probability" yaml:"attack_probability"`
	Seed              int64   `json:"seed" yaml:"seed"`
	NumRuns           int     `json:"num_runs" yaml:"num_runs"`

	// Workers bounds parallel runs. 0 uses GOMAXPROCS.
	Workers int `json:"workers" yaml:"workers"`

	// Calibration selects the adaptive PDP preset: "hard" or "balanced".
	Calibration string `json:"calibration" yaml:"calibration"`

	// PDPs lists the compared policies. The first is the reference.
	PDPs []string `json:"pdps" yaml:"pdps"`

	ITALParams trust.Params        `json:"ital_params" yaml:"ital_params"`
	Scenarios  ScenarioConfig      `json:"scenarios" yaml:"scenarios"`
	ZeroTrust  pdp.ZeroTrustConfig `json:"zero_trust" yaml:"zero_trust"`
	Metrics    MetricsConfig       `json:"metrics" yaml:"metrics"`
	Logging    LoggingConfig       `json:"logging" yaml:"logging"`
	Output     OutputConfig        `json:"output" yaml:"output"`
}

// ScenarioConfig enables the attack injections.
type ScenarioConfig struct {
	CredentialCompromise bool `json:"enable_credential_compromise" yaml:"enable_credential_compromise"`
	InsiderMovement      bool `json:"enable_insider_movement" yaml:"enable_insider_movement"`
	APIAbuse             bool `json:"enable_api_abuse" yaml:"enable_api_abuse"`
	MoneyLaundering      bool `json:"enable_money_laundering" yaml:"enable_money_laundering"`
	SessionHijacking     bool `json:"enable_session_hijacking" yaml:"enable_session_hijacking"`
}

// Enabled returns the enabled scenarios in id order.
func (s ScenarioConfig) Enabled() []models.Scenario {
	flags := []bool{s.CredentialCompromise, s.InsiderMovement, s.APIAbuse, s.MoneyLaundering, s.SessionHijacking}
	var out []models.Scenario
	for i, on := range flags {
		if on {
			out = append(out, models.AllScenarios[i])
		}
	}
	return out
}

// ScenariosFrom enables exactly the given scenarios.
func ScenariosFrom(list []models.Scenario) ScenarioConfig {
	var s ScenarioConfig
	for _, sc := range list {
		switch sc {
		case models.ScenarioCredentialCompromise:
			s.CredentialCompromise = true
		case models.ScenarioInsiderMovement:
			s.InsiderMovement = true
		case models.ScenarioAPIAbuse:
			s.APIAbuse = true
		case models.ScenarioMoneyLaundering:
			s.MoneyLaundering = true
		case models.ScenarioSessionHijacking:
			s.SessionHijacking = true
		}
	}
	return s
}

// MetricsConfig configures metric computation.
type MetricsConfig struct {
	// ITALDriftWeight weights trust drift against block fraction. Range: 0.0 to 1.0
	ITALDriftWeight float64 `json:"ital_drift_weight" yaml:"ital_drift_weight"`

	Costs metrics.Costs `json:"costs" yaml:"costs"`
}

// LoggingConfig configures pdpsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", "trace",
	// "warn" or "error". "debug" writes run lifecycle events to trace.jsonl;
	// "trace" additionally writes every decision.
	Level string `json:"level" yaml:"level"`

	// SaveRunLogs is the number of leading runs whose decision logs and
	// per-run reports are written.
	SaveRunLogs int `json:"save_run_logs" yaml:"save_run_logs"`
}

// OutputConfig configures experiment artifacts.
type OutputConfig struct {
	// Dir is the parent of every experiment directory.
	Dir string `json:"dir" yaml:"dir"`

	// Formats are the decision log encodings: "jsonl" and/or "arrow".
	Formats []string `json:"formats" yaml:"formats"`

	// Compress zstd-compresses JSONL decision logs.
	Compress bool `json:"compress" yaml:"compress"`

	// Store is an optional SQLite path recording every experiment.
	Store string `json:"store" yaml:"store"`

	// Retention prunes older experiment directories under Dir after a run.
	Retention RetentionConfig `json:"retention" yaml:"retention"`
}

// RetentionConfig limits the experiment directories kept under the output
// root. A directory survives when any limit keeps it; all zero disables
// pruning.
type RetentionConfig struct {
	KeepLast int    `json:"keep_last,omitempty" yaml:"keep_last,omitempty"`
	MaxAge   string `json:"max_age,omitempty" yaml:"max_age,omitempty"`   // e.g. "30d", "2w", "720h"
	MaxSize  string `json:"max_size,omitempty" yaml:"max_size,omitempty"` // e.g. "500MB", "2GB"
}

// Policy returns the retention policy, or nil when no limit is set.
func (r RetentionConfig) Policy() (retention.Policy, error) {
	return retention.NewPolicy(r.KeepLast, r.MaxAge, r.MaxSize)
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		ExperimentName:    "pdp_comparison",
		NumUsers:          constants.DefaultNumUsers,
		NumDevices:        constants.DefaultNumDevices,
		NumEvents:         constants.DefaultNumEvents,
		AttackProbability: constants.DefaultAttackProbability,
		Seed:              constants.DefaultSeed,
		NumRuns:           constants.DefaultNumRuns,
		Calibration:       pdp.CalibrationHard,
		PDPs:              []string{pdp.NameBaseline, pdp.NameSecureBank, pdp.NameZeroTrust},
		ITALParams:        trust.DefaultParams(),
		Scenarios: ScenarioConfig{
			CredentialCompromise: true,
			InsiderMovement:      true,
			APIAbuse:             true,
			MoneyLaundering:      true,
			SessionHijacking:     true,
		},
		ZeroTrust: pdp.DefaultZeroTrustConfig(),
		Metrics: MetricsConfig{
			ITALDriftWeight: constants.DefaultITALDriftWeight,
			Costs:           metrics.DefaultCosts(),
		},
		Logging: LoggingConfig{
			Level:       "info",
			SaveRunLogs: 1,
		},
		Output: OutputConfig{
			Dir:     "experiments",
			Formats: []string{export.FormatJSONL},
		},
	}
}

// Load builds the configuration.
// Order: defaults -> file (path, or DefaultFile when present) -> .env -> environment variables
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	if err := LoadDotEnv("."); err != nil {
		return nil, err
	}
	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or JSON
// (.json, .jsonc, comments allowed) file. Missing keys keep their defaults;
// unknown keys are ignored.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), config); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (valid: .yaml, .yml, .json, .jsonc)", ext)
	}

	config.Output.Store = expandEnvVars(config.Output.Store)
	config.Output.Dir = expandEnvVars(config.Output.Dir)
	return config, nil
}

// LoadDotEnv loads dir/.env into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration can drive an experiment.
func (c *Config) Validate() error {
	if err := population.Validate(c.NumUsers, c.NumDevices); err != nil {
		return err
	}
	if c.NumEvents <= 0 {
		return fmt.Errorf("num_events must be positive, got %d", c.NumEvents)
	}
	if c.AttackProbability < 0 || c.AttackProbability > 1 {
		return fmt.Errorf("attack_probability must be between 0 and 1, got %f", c.AttackProbability)
	}
	if c.NumRuns < 1 {
		return fmt.Errorf("num_runs must be at least 1, got %d", c.NumRuns)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", c.Workers)
	}

	unit := []struct {
		name  string
		value float64
	}{
		{"identity_drift_factor", c.ITALParams.IdentityDriftFactor},
		{"trust_decay", c.ITALParams.TrustDecay},
		{"trust_growth", c.ITALParams.TrustGrowth},
		{"ital_drift_weight", c.Metrics.ITALDriftWeight},
	}
	for _, p := range unit {
		if p.value < 0 || p.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %f", p.name, p.value)
		}
	}

	if _, err := pdp.Preset(c.Calibration); err != nil {
		return err
	}
	if len(c.PDPs) == 0 {
		return fmt.Errorf("pdps must name at least one policy (valid: %v)", pdp.Names())
	}
	for _, name := range c.PDPs {
		if !pdp.Known(name) {
			return fmt.Errorf("invalid pdp: %s (valid: %v)", name, pdp.Names())
		}
	}

	if c.ZeroTrust.SessionTimeout < 1 {
		return fmt.Errorf("session_timeout must be positive, got %d", c.ZeroTrust.SessionTimeout)
	}
	if c.ZeroTrust.DeviceTrustDecay < 0 || c.ZeroTrust.DeviceTrustDecay > 1 {
		return fmt.Errorf("device_trust_decay must be between 0 and 1, got %f", c.ZeroTrust.DeviceTrustDecay)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v, or empty for default)", c.Logging.Level, logging.LevelNames)
	}
	if c.Logging.SaveRunLogs < 0 {
		return fmt.Errorf("save_run_logs must be non-negative, got %d", c.Logging.SaveRunLogs)
	}
	for _, f := range c.Output.Formats {
		if !export.KnownFormat(f) {
			return fmt.Errorf("invalid output format: %s (valid: %v)", f, export.Formats)
		}
	}
	if c.Metrics.Costs.FalsePositive < 0 || c.Metrics.Costs.FalseNegative < 0 {
		return fmt.Errorf("costs must be non-negative, got %+v", c.Metrics.Costs)
	}
	if _, err := c.Output.Retention.Policy(); err != nil {
		return fmt.Errorf("invalid retention: %w", err)
	}

	return nil
}

// Simulation returns the Monte-Carlo options of the configuration.
func (c *Config) Simulation() simulation.Options {
	return simulation.Options{
		NumUsers:          c.NumUsers,
		NumDevices:        c.NumDevices,
		NumEvents:         c.NumEvents,
		AttackProbability: c.AttackProbability,
		Scenarios:         c.Scenarios.Enabled(),
		Seed:              c.Seed,
		NumRuns:           c.NumRuns,
		Workers:           c.Workers,
		DriftWeight:       c.Metrics.ITALDriftWeight,
		KeepLogs:          c.Logging.SaveRunLogs,
	}
}

// PDPOptions returns the options every PDP factory draws on.
func (c *Config) PDPOptions() (pdp.Options, error) {
	cal, err := pdp.Preset(c.Calibration)
	if err != nil {
		return pdp.Options{}, err
	}
	return pdp.Options{
		Calibration: cal,
		Params:      c.ITALParams,
		ZeroTrust:   c.ZeroTrust,
	}, nil
}

// Specs resolves the configured PDPs.
func (c *Config) Specs() ([]pdp.Spec, error) {
	opts, err := c.PDPOptions()
	if err != nil {
		return nil, err
	}
	return pdp.Specs(c.PDPs, opts)
}

// Digest returns the blake3 hex digest of the canonical JSON encoding of c.
func Digest(c *Config) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Values that fail to parse are ignored.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PDPSIM_NUM_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.NumRuns = n
		}
	}
	if v := os.Getenv("PDPSIM_NUM_EVENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.NumEvents = n
		}
	}
	if v := os.Getenv("PDPSIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Seed = n
		}
	}
	if v := os.Getenv("PDPSIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Workers = n
		}
	}
	if v := os.Getenv("PDPSIM_CALIBRATION"); v != "" {
		config.Calibration = v
	}
	if v := os.Getenv("PDPSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("PDPSIM_OUTPUT_DIR"); v != "" {
		config.Output.Dir = v
	}
	if v := os.Getenv("PDPSIM_STORE"); v != "" {
		config.Output.Store = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
