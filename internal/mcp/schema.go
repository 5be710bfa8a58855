package mcp

import (
	"time"

	"github.com/nvandessel/pdpsim/internal/metrics"
	"github.com/nvandessel/pdpsim/internal/stats"
	"github.com/nvandessel/pdpsim/internal/store"
)

// Limits on pdpsim_simulate arguments.
const (
	MaxSimulateRuns   = 20
	MaxSimulateEvents = 20000
	MaxSimulateUsers  = 5000
)

// Defaults of pdpsim_simulate arguments left unset.
const (
	DefaultSimulateRuns    = 5
	DefaultSimulateEvents  = 1000
	DefaultSimulateUsers   = 100
	DefaultSimulateDevices = 160
)

// SimulateInput defines the input for the pdpsim_simulate tool.
type SimulateInput struct {
	NumRuns           int      `json:"num_runs,omitempty" jsonschema:"Monte-Carlo runs (default 5, max 20)"`
	NumEvents         int      `json:"num_events,omitempty" jsonschema:"Events per run (default 1000, max 20000)"`
	NumUsers          int      `json:"num_users,omitempty" jsonschema:"Users in the population (default 100)"`
	NumDevices        int      `json:"num_devices,omitempty" jsonschema:"Devices in the population (default 1.6 per user)"`
	AttackProbability *float64 `json:"attack_probability,omitempty" jsonschema:"Per-event attack probability in [0,1] (default from configuration)"`
	Seed              *int64   `json:"seed,omitempty" jsonschema:"Base seed; run i uses seed+i (default from configuration)"`
	PDPs              []string `json:"pdps,omitempty" jsonschema:"Policies to compare, reference first (baseline, securebank, zerotrust)"`
	Calibration       string   `json:"calibration,omitempty" jsonschema:"Adaptive calibration preset: hard or balanced"`
	Scenarios         []string `json:"scenarios,omitempty" jsonschema:"Attack scenarios to inject (default all enabled in configuration)"`
}

// MetricSummary is one metric of one PDP across runs.
type MetricSummary struct {
	stats.Summary
	CohensD     *float64 `json:"cohens_d,omitempty"`
	PValue      *float64 `json:"p_value,omitempty"`
	Significant bool     `json:"significant,omitempty"`
}

// SimulateOutput defines the output for the pdpsim_simulate tool.
type SimulateOutput struct {
	ExperimentID string                              `json:"experiment_id" jsonschema:"Identifier usable with pdpsim_history"`
	Reference    string                              `json:"reference" jsonschema:"PDP every other PDP is compared against"`
	PDPs         []string                            `json:"pdps"`
	NumRuns      int                                 `json:"num_runs"`
	TotalEvents  int                                 `json:"total_events" jsonschema:"Events across all runs"`
	TotalAttacks int                                 `json:"total_attacks" jsonschema:"Attacks across all runs"`
	Alpha        float64                             `json:"alpha" jsonschema:"Bonferroni-adjusted significance level"`
	Metrics      map[string]map[string]MetricSummary `json:"metrics" jsonschema:"Metric name, then PDP name"`
	Warnings     []string                            `json:"warnings,omitempty"`
	Stored       bool                                `json:"stored" jsonschema:"Whether the experiment was recorded in the history store"`
}

// EvaluateInput defines the input for the pdpsim_evaluate tool.
type EvaluateInput struct {
	UserType      string   `json:"user_type,omitempty" jsonschema:"customer or employee (default customer)"`
	BaseRisk      float64  `json:"base_risk,omitempty" jsonschema:"Prior user risk in [0,1]"`
	Service       string   `json:"service" jsonschema:"Target service, e.g. payments or aml"`
	Amount        float64  `json:"amount" jsonschema:"Transaction amount"`
	Geo           string   `json:"geo,omitempty" jsonschema:"Geo code, e.g. BR-SP (default BR-SP)"`
	Hour          int      `json:"hour,omitempty" jsonschema:"Hour of day 0..23"`
	Channel       string   `json:"channel,omitempty" jsonschema:"web, mobile or api (default web)"`
	IdentityTrust *float64 `json:"identity_trust,omitempty" jsonschema:"Starting identity trust of the adaptive PDP in [0,1]"`
	DeviceTrust   *float64 `json:"device_trust,omitempty" jsonschema:"Starting device trust of the adaptive PDP in [0,1]"`
	PDPs          []string `json:"pdps,omitempty" jsonschema:"Policies to evaluate (default from configuration)"`
	Calibration   string   `json:"calibration,omitempty" jsonschema:"Adaptive calibration preset: hard or balanced"`
	Seed          int64    `json:"seed,omitempty" jsonschema:"Seed of stochastic PDPs"`
}

// EvaluateDecision is one PDP's verdict.
type EvaluateDecision struct {
	PDP         string               `json:"pdp"`
	Allowed     bool                 `json:"allowed"`
	Action      string               `json:"action"`
	Reason      string               `json:"reason"`
	Risk        float64              `json:"risk"`
	Theta       *float64             `json:"theta,omitempty"`
	Drift       *float64             `json:"drift,omitempty"`
	DeviceScore *float64             `json:"device_score,omitempty"`
	Factors     []string             `json:"factors,omitempty"`
	Trust       *EvaluateTrustChange `json:"trust,omitempty"`
}

// EvaluateTrustChange is the trust movement caused by the evaluation.
type EvaluateTrustChange struct {
	IdentityBefore float64 `json:"identity_before"`
	IdentityAfter  float64 `json:"identity_after"`
	DeviceBefore   float64 `json:"device_before"`
	DeviceAfter    float64 `json:"device_after"`
}

// EvaluateOutput defines the output for the pdpsim_evaluate tool.
type EvaluateOutput struct {
	Decisions []EvaluateDecision `json:"decisions"`
}

// HistoryInput defines the input for the pdpsim_history tool.
type HistoryInput struct {
	ID    string `json:"id,omitempty" jsonschema:"Experiment id; when set, returns its aggregates"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum experiments to list (default 20)"`
}

// HistoryItem is a stored experiment in list form.
type HistoryItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Seed      int64     `json:"seed"`
	NumRuns   int       `json:"num_runs"`
	NumEvents int       `json:"num_events"`
	PDPs      []string  `json:"pdps"`
}

// HistoryOutput defines the output for the pdpsim_history tool.
type HistoryOutput struct {
	Experiments []HistoryItem     `json:"experiments,omitempty"`
	Aggregates  []store.Aggregate `json:"aggregates,omitempty"`
	Means       metrics.Report    `json:"means,omitempty" jsonschema:"Metric name, then PDP name"`
	Count       int               `json:"count"`
}
