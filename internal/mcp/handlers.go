package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/pdpsim/internal/config"
	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/export"
	"github.com/nvandessel/pdpsim/internal/metrics"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/pathutil"
	"github.com/nvandessel/pdpsim/internal/pdp"
	"github.com/nvandessel/pdpsim/internal/ratelimit"
	"github.com/nvandessel/pdpsim/internal/simulation"
	"github.com/nvandessel/pdpsim/internal/store"
	"github.com/nvandessel/pdpsim/internal/trust"
)

// Tool names.
const (
	ToolSimulate = "pdpsim_simulate"
	ToolEvaluate = "pdpsim_evaluate"
	ToolHistory  = "pdpsim_history"
)

// Resource URIs.
const (
	ConfigURI         = "pdpsim://config"
	experimentURIBase = "pdpsim://experiments/"
)

const defaultHistoryLimit = 20

// registerTools registers all pdpsim MCP tools and resources with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ToolSimulate,
		Description: "Run a Monte-Carlo experiment comparing access-control PDPs and return per-metric summaries with significance tests",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ToolEvaluate,
		Description: "Evaluate a single transaction against each PDP and explain the decision",
	}, s.handleEvaluate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ToolHistory,
		Description: "List recorded experiments, or show the aggregates of one experiment by id",
	}, s.handleHistory)

	s.server.AddResource(&sdk.Resource{
		URI:         ConfigURI,
		Name:        "pdpsim-config",
		Description: "Effective experiment configuration used as defaults by pdpsim_simulate.",
		MIMEType:    "application/yaml",
	}, s.handleConfigResource)

	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: experimentURIBase + "{id}",
		Name:        "pdpsim-experiment",
		Description: "Aggregated metrics of a recorded experiment.",
		MIMEType:    "text/markdown",
	}, s.handleExperimentResource)
}

// handleConfigResource returns the server settings as YAML with paths
// redacted.
func (s *Server) handleConfigResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	shown := *s.settings
	shown.Output.Dir = pathutil.RedactPath(shown.Output.Dir)
	shown.Output.Store = pathutil.RedactPath(shown.Output.Store)
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{URI: ConfigURI, MIMEType: "application/yaml", Text: string(data)},
		},
	}, nil
}

// handleExperimentResource renders one stored experiment as markdown.
func (s *Server) handleExperimentResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	if !strings.HasPrefix(uri, experimentURIBase) {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}
	id := strings.TrimPrefix(uri, experimentURIBase)
	if id == "" {
		return nil, fmt.Errorf("experiment ID is required")
	}

	meta, err := s.store.GetExperiment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("experiment not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.store.Aggregates(ctx, id)
	if err != nil {
		return nil, err
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{URI: uri, MIMEType: "text/markdown", Text: renderExperiment(meta, rows)},
		},
	}, nil
}

func renderExperiment(meta *store.Experiment, rows []store.Aggregate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Experiment: %s\n\n", meta.Name)
	fmt.Fprintf(&sb, "**ID:** %s\n", meta.ID)
	fmt.Fprintf(&sb, "**Created:** %s\n", meta.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Seed:** %d, **Runs:** %d, **Events/run:** %d\n", meta.Seed, meta.NumRuns, meta.NumEvents)
	fmt.Fprintf(&sb, "**PDPs:** %s\n\n", strings.Join(meta.PDPs, ", "))

	sb.WriteString("| metric | pdp | mean | std | 95% CI | cohen's d | p |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")
	for _, r := range rows {
		d, p := "-", "-"
		if r.CohensD != nil {
			d = fmt.Sprintf("%.3f", *r.CohensD)
		}
		if r.PValue != nil {
			p = fmt.Sprintf("%.4f", *r.PValue)
			if r.Significant {
				p += " *"
			}
		}
		fmt.Fprintf(&sb, "| %s | %s | %.4f | %.4f | [%.4f, %.4f] | %s | %s |\n",
			r.Metric, r.PDP, r.Mean, r.Std, r.CI95Low, r.CI95High, d, p)
	}
	return sb.String()
}

// handleSimulate implements the pdpsim_simulate tool.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	var work float64
	defer func() {
		s.auditTool(ToolSimulate, start, work, retErr, map[string]any{
			"num_runs": args.NumRuns, "num_events": args.NumEvents, "num_users": args.NumUsers,
			"num_devices": args.NumDevices, "pdps": args.PDPs, "calibration": args.Calibration,
			"scenarios": args.Scenarios,
		})
	}()

	cfg, err := s.simulateConfig(args)
	if err != nil {
		return nil, SimulateOutput{}, err
	}

	work = float64(cfg.NumRuns) * float64(cfg.NumEvents) * float64(len(cfg.PDPs))
	if err := ratelimit.CheckLimit(s.limiters, ToolSimulate, work); err != nil {
		return nil, SimulateOutput{}, err
	}

	specs, err := cfg.Specs()
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	exp, err := simulation.NewDriver(cfg.Simulation(), specs, simulation.WithLogger(s.logger)).Run(ctx)
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", err)
	}
	agg := exp.Aggregate()

	digest, err := config.Digest(cfg)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	meta := export.NewMetadata(cfg.ExperimentName, digest, cfg.Seed, cfg.NumRuns, cfg.PDPs)

	out := simulateOutput(meta.ExperimentID, exp, agg)
	out.Stored = true
	if err := s.store.SaveExperiment(ctx, storeRecord(cfg, meta), exp, agg); err != nil {
		s.logger.Warn("failed to record experiment", "id", meta.ExperimentID, "error", err)
		out.Stored = false
		out.Warnings = append(out.Warnings, fmt.Sprintf("experiment not recorded: %v", err))
	}

	s.logger.Info("mcp simulation finished",
		"id", meta.ExperimentID, "runs", cfg.NumRuns, "events", cfg.NumEvents,
		"pdps", cfg.PDPs, "elapsed", time.Since(start))
	return nil, out, nil
}

// simulateConfig overlays the tool arguments on the server settings.
func (s *Server) simulateConfig(args SimulateInput) (*config.Config, error) {
	cfg := *s.settings
	cfg.ExperimentName = "mcp_simulation"
	cfg.Description = "Experiment requested over MCP"
	cfg.NumRuns = orDefault(args.NumRuns, DefaultSimulateRuns)
	cfg.NumEvents = orDefault(args.NumEvents, DefaultSimulateEvents)
	cfg.NumUsers = orDefault(args.NumUsers, DefaultSimulateUsers)
	cfg.NumDevices = args.NumDevices
	if cfg.NumDevices == 0 {
		if args.NumUsers == 0 {
			cfg.NumDevices = DefaultSimulateDevices
		} else {
			cfg.NumDevices = cfg.NumUsers * 8 / 5
		}
	}
	cfg.Logging.SaveRunLogs = 0

	switch {
	case cfg.NumRuns < 0 || cfg.NumRuns > MaxSimulateRuns:
		return nil, fmt.Errorf("num_runs must be between 1 and %d, got %d", MaxSimulateRuns, cfg.NumRuns)
	case cfg.NumEvents < 0 || cfg.NumEvents > MaxSimulateEvents:
		return nil, fmt.Errorf("num_events must be between 1 and %d, got %d", MaxSimulateEvents, cfg.NumEvents)
	case cfg.NumUsers < 0 || cfg.NumUsers > MaxSimulateUsers:
		return nil, fmt.Errorf("num_users must be between 1 and %d, got %d", MaxSimulateUsers, cfg.NumUsers)
	}

	if args.AttackProbability != nil {
		cfg.AttackProbability = *args.AttackProbability
	}
	if args.Seed != nil {
		cfg.Seed = *args.Seed
	}
	if len(args.PDPs) > 0 {
		cfg.PDPs = slices.Clone(args.PDPs)
	}
	if args.Calibration != "" {
		cfg.Calibration = args.Calibration
	}
	if len(args.Scenarios) > 0 {
		list := make([]models.Scenario, 0, len(args.Scenarios))
		for _, name := range args.Scenarios {
			sc, ok := models.ParseScenario(name)
			if !ok || sc == models.ScenarioNone {
				return nil, fmt.Errorf("unknown scenario %q", name)
			}
			list = append(list, sc)
		}
		cfg.Scenarios = config.ScenariosFrom(list)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func storeRecord(cfg *config.Config, meta export.Metadata) store.Experiment {
	raw, err := json.Marshal(cfg)
	if err != nil {
		raw = nil
	}
	return store.Experiment{
		ID:           meta.ExperimentID,
		Name:         meta.ExperimentName,
		Description:  cfg.Description,
		CreatedAt:    meta.Timestamp,
		Seed:         cfg.Seed,
		NumRuns:      cfg.NumRuns,
		NumEvents:    cfg.NumEvents,
		NumUsers:     cfg.NumUsers,
		NumDevices:   cfg.NumDevices,
		PDPs:         slices.Clone(cfg.PDPs),
		ConfigDigest: meta.ConfigDigest,
		Config:       raw,
	}
}

func simulateOutput(id string, exp *simulation.Experiment, agg simulation.Aggregate) SimulateOutput {
	out := SimulateOutput{
		ExperimentID: id,
		Reference:    agg.Reference,
		PDPs:         agg.PDPs,
		NumRuns:      agg.NumRuns,
		Alpha:        agg.Alpha,
		Metrics:      make(map[string]map[string]MetricSummary, len(agg.Summaries)),
		Warnings:     exp.Warnings(),
	}
	for _, run := range exp.Runs {
		out.TotalEvents += run.TotalEvents
		out.TotalAttacks += run.TotalAttacks
	}

	for metric, byPDP := range agg.Summaries {
		row := make(map[string]MetricSummary, len(byPDP))
		for name, sum := range byPDP {
			ms := MetricSummary{Summary: sum}
			if d, ok := agg.CohensD[metric][name]; ok {
				ms.CohensD = d
			}
			if res, ok := agg.Comparisons[name][metric]; ok {
				p := res.PValue
				ms.PValue = &p
				ms.Significant = res.Significant
			}
			row[name] = ms
		}
		out.Metrics[metric] = row
	}
	return out
}

// handleEvaluate implements the pdpsim_evaluate tool.
func (s *Server) handleEvaluate(ctx context.Context, req *sdk.CallToolRequest, args EvaluateInput) (_ *sdk.CallToolResult, _ EvaluateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ToolEvaluate, start, 0, retErr, map[string]any{
			"service": args.Service, "channel": args.Channel, "pdps": args.PDPs,
			"calibration": args.Calibration,
		})
	}()

	if err := ratelimit.CheckLimit(s.limiters, ToolEvaluate, 1); err != nil {
		return nil, EvaluateOutput{}, err
	}

	out, err := Evaluate(s.settings, args)
	if err != nil {
		return nil, EvaluateOutput{}, err
	}
	return nil, out, nil
}

// Evaluate runs one event described by args through fresh PDPs built from
// settings. The adaptive PDP starts from the requested trust when given.
func Evaluate(settings *config.Config, args EvaluateInput) (EvaluateOutput, error) {
	ev, err := evaluateEvent(args)
	if err != nil {
		return EvaluateOutput{}, err
	}

	cfg := *settings
	if len(args.PDPs) > 0 {
		cfg.PDPs = args.PDPs
	}
	if args.Calibration != "" {
		cfg.Calibration = args.Calibration
	}
	opts, err := cfg.PDPOptions()
	if err != nil {
		return EvaluateOutput{}, err
	}
	specs, err := pdp.Specs(cfg.PDPs, opts)
	if err != nil {
		return EvaluateOutput{}, err
	}

	out := EvaluateOutput{Decisions: make([]EvaluateDecision, 0, len(specs))}
	for _, spec := range specs {
		p := spec.New(args.Seed)
		if spec.Name == pdp.NameSecureBank && (args.IdentityTrust != nil || args.DeviceTrust != nil) {
			state := trust.NewState()
			if args.IdentityTrust != nil {
				state.SetIdentity(ev.User.ID, *args.IdentityTrust)
			}
			if args.DeviceTrust != nil {
				state.SetDevice(ev.Device.ID, *args.DeviceTrust)
			}
			p = pdp.Guard(pdp.NewAdaptive(state, opts.Calibration, opts.Params))
		}

		d := p.Evaluate(ev)
		ed := EvaluateDecision{
			PDP:         spec.Name,
			Allowed:     d.Allowed,
			Action:      string(d.Action),
			Reason:      d.Reason,
			Risk:        d.Risk,
			Theta:       d.Theta,
			Drift:       d.Drift,
			DeviceScore: d.DeviceScore,
			Factors:     d.Factors,
		}
		if d.Trust != nil {
			ed.Trust = &EvaluateTrustChange{
				IdentityBefore: d.Trust.IdentityBefore,
				IdentityAfter:  d.Trust.IdentityAfter,
				DeviceBefore:   d.Trust.DeviceBefore,
				DeviceAfter:    d.Trust.DeviceAfter,
			}
		}
		out.Decisions = append(out.Decisions, ed)
	}
	return out, nil
}

// evaluateEvent validates the arguments and builds the event they describe.
func evaluateEvent(args EvaluateInput) (models.Event, error) {
	userType := models.UserType(args.UserType)
	if userType == "" {
		userType = models.UserTypeCustomer
	}
	if userType != models.UserTypeCustomer && userType != models.UserTypeEmployee {
		return models.Event{}, fmt.Errorf("user_type must be customer or employee, got %q", args.UserType)
	}

	channel := models.Channel(args.Channel)
	if channel == "" {
		channel = models.ChannelWeb
	}
	if !slices.Contains(models.Channels, channel) {
		return models.Event{}, fmt.Errorf("channel must be one of %v, got %q", models.Channels, args.Channel)
	}

	if !slices.Contains(constants.Services, args.Service) {
		return models.Event{}, fmt.Errorf("unknown service %q (valid: %v)", args.Service, constants.Services)
	}

	geo := args.Geo
	if geo == "" {
		geo = "BR-SP"
	}

	switch {
	case !(args.Amount >= 0) || math.IsInf(args.Amount, 1):
		return models.Event{}, fmt.Errorf("amount must be a finite non-negative number, got %g", args.Amount)
	case args.Hour < 0 || args.Hour > 23:
		return models.Event{}, fmt.Errorf("hour must be between 0 and 23, got %d", args.Hour)
	case !(args.BaseRisk >= 0 && args.BaseRisk <= 1):
		return models.Event{}, fmt.Errorf("base_risk must be in [0,1], got %g", args.BaseRisk)
	}
	for _, t := range []struct {
		name string
		v    *float64
	}{{"identity_trust", args.IdentityTrust}, {"device_trust", args.DeviceTrust}} {
		if t.v != nil && !(*t.v >= 0 && *t.v <= 1) {
			return models.Event{}, fmt.Errorf("%s must be in [0,1], got %g", t.name, *t.v)
		}
	}

	return models.Event{
		User:   models.User{ID: 0, Type: userType, BaseRisk: args.BaseRisk},
		Device: models.Device{ID: 0, OwnerID: 0},
		Tx:     models.Transaction{UserID: 0, Service: args.Service, Amount: args.Amount},
		Ctx:    models.Context{Geo: geo, Hour: args.Hour, Channel: channel},
	}, nil
}

// handleHistory implements the pdpsim_history tool.
func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryInput) (_ *sdk.CallToolResult, _ HistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool(ToolHistory, start, 0, retErr, map[string]any{"id": args.ID, "limit": args.Limit})
	}()

	if err := ratelimit.CheckLimit(s.limiters, ToolHistory, 1); err != nil {
		return nil, HistoryOutput{}, err
	}

	if args.ID != "" {
		meta, err := s.store.GetExperiment(ctx, args.ID)
		if err != nil {
			return nil, HistoryOutput{}, err
		}
		rows, err := s.store.Aggregates(ctx, args.ID)
		if err != nil {
			return nil, HistoryOutput{}, fmt.Errorf("failed to load aggregates: %w", err)
		}
		means := make(metrics.Report)
		for _, r := range rows {
			if means[r.Metric] == nil {
				means[r.Metric] = make(map[string]float64)
			}
			means[r.Metric][r.PDP] = r.Mean
		}
		return nil, HistoryOutput{
			Experiments: []HistoryItem{historyItem(*meta)},
			Aggregates:  rows,
			Means:       means,
			Count:       len(rows),
		}, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	list, err := s.store.ListExperiments(ctx, limit)
	if err != nil {
		return nil, HistoryOutput{}, fmt.Errorf("failed to list experiments: %w", err)
	}
	items := make([]HistoryItem, 0, len(list))
	for _, e := range list {
		items = append(items, historyItem(e))
	}
	return nil, HistoryOutput{Experiments: items, Count: len(items)}, nil
}

func historyItem(e store.Experiment) HistoryItem {
	return HistoryItem{
		ID:        e.ID,
		Name:      e.Name,
		CreatedAt: e.CreatedAt,
		Seed:      e.Seed,
		NumRuns:   e.NumRuns,
		NumEvents: e.NumEvents,
		PDPs:      e.PDPs,
	}
}
