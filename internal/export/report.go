package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/pdpsim/internal/metrics"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/sanitize"
	"github.com/nvandessel/pdpsim/internal/simulation"
)

// Report file names.
const (
	MetadataFile       = "run_metadata.json"
	SummaryFile        = "summary_results.json"
	ResultsFile        = "results.json"
	ComparisonFile     = "comparison.json"
	RunsCSVFile        = "metrics_runs.csv"
	SummaryCSVFile     = "metrics_summary.csv"
	SensitivityFile    = "sensitivity_analysis.json"
	ScalabilityFile    = "scalability_analysis.json"
	timestampDirFormat = "20060102_150405"
)

// Platform describes the host that ran an experiment.
type Platform struct {
	OS     string `json:"os"`
	Arch   string `json:"arch"`
	NumCPU int    `json:"num_cpu"`
}

// Metadata identifies an experiment and the environment it ran in.
type Metadata struct {
	Timestamp      time.Time `json:"timestamp"`
	ExperimentID   string    `json:"experiment_id"`
	ExperimentName string    `json:"experiment_name"`
	Description    string    `json:"description,omitempty"`
	Version        string    `json:"version,omitempty"`
	ConfigPath     string    `json:"config_path,omitempty"`
	ConfigDigest   string    `json:"config_blake3"`
	BaseSeed       int64     `json:"base_seed"`
	NumRuns        int       `json:"num_runs"`
	PDPs           []string  `json:"pdps"`
	GoVersion      string    `json:"go_version"`
	Platform       Platform  `json:"platform"`
}

// NewMetadata stamps an experiment with a fresh id, the current time and
// the running platform. The name is normalized into a safe path element.
func NewMetadata(name, digest string, seed int64, numRuns int, pdps []string) Metadata {
	return Metadata{
		Timestamp:      time.Now().UTC(),
		ExperimentID:   uuid.NewString(),
		ExperimentName: sanitize.Name(name),
		ConfigDigest:   digest,
		BaseSeed:       seed,
		NumRuns:        numRuns,
		PDPs:           append([]string(nil), pdps...),
		GoVersion:      runtime.Version(),
		Platform: Platform{
			OS:     runtime.GOOS,
			Arch:   runtime.GOARCH,
			NumCPU: runtime.NumCPU(),
		},
	}
}

// ExperimentDir returns root/<name>_<timestamp>.
func ExperimentDir(root string, meta Metadata) string {
	return filepath.Join(root, fmt.Sprintf("%s_%s", meta.ExperimentName, meta.Timestamp.Format(timestampDirFormat)))
}

// Options selects what WriteReport writes besides the summary files.
type Options struct {
	// Formats are the decision log encodings written for each retained run.
	Formats []string

	// Compress zstd-compresses JSONL logs.
	Compress bool

	// Costs price the confusion matrices of retained runs.
	Costs metrics.Costs
}

// summaryMeta heads summary_results.json and results.json.
type summaryMeta struct {
	ExperimentName   string   `json:"experiment_name"`
	Description      string   `json:"description,omitempty"`
	ExperimentID     string   `json:"experiment_id"`
	BaseSeed         int64    `json:"base_seed"`
	NumRuns          int      `json:"num_runs"`
	PDPs             []string `json:"pdps"`
	Reference        string   `json:"reference"`
	TotalEventsMean  float64  `json:"total_events_mean"`
	TotalEventsStd   float64  `json:"total_events_std"`
	TotalAttacksMean float64  `json:"total_attacks_mean"`
	TotalAttacksStd  float64  `json:"total_attacks_std"`
}

// WriteReport writes every report file of an experiment into dir and
// returns the paths written, in write order.
func WriteReport(dir string, meta Metadata, exp *simulation.Experiment, agg simulation.Aggregate, opts Options) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create experiment directory: %w", err)
	}

	w := &reportWriter{dir: dir}
	sm := newSummaryMeta(meta, exp, agg)

	w.json(MetadataFile, meta)
	w.json(SummaryFile, summaryResults(sm, agg))
	w.json(ResultsFile, resultsForPlots(sm, agg))
	w.json(ComparisonFile, map[string]any{
		"reference":   agg.Reference,
		"alpha":       agg.Alpha,
		"comparisons": agg.Comparisons,
	})
	w.csv(RunsCSVFile, runsTable(exp))
	w.csv(SummaryCSVFile, summaryTable(agg))

	for _, run := range exp.Runs {
		if run.Logs == nil {
			continue
		}
		w.run(run, exp.PDPs, opts)
	}

	return w.files, w.err
}

// WriteJSON writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// reportWriter stops at the first error.
type reportWriter struct {
	dir   string
	files []string
	err   error
}

func (w *reportWriter) path(name string) string { return filepath.Join(w.dir, name) }

func (w *reportWriter) done(name string, err error) {
	if err != nil {
		w.err = err
		return
	}
	w.files = append(w.files, w.path(name))
}

func (w *reportWriter) json(name string, v any) {
	if w.err != nil {
		return
	}
	w.done(name, WriteJSON(w.path(name), v))
}

func (w *reportWriter) csv(name string, rows [][]string) {
	if w.err != nil {
		return
	}
	w.done(name, writeCSV(w.path(name), rows))
}

func (w *reportWriter) log(name, format string, records []models.Record) {
	if w.err != nil {
		return
	}
	switch format {
	case FormatArrow:
		w.done(name, WriteArrow(w.path(name), records))
	default:
		w.done(name, WriteJSONL(w.path(name), records))
	}
}

// run writes the decision logs and per-run analyses of one retained run.
func (w *reportWriter) run(run simulation.RunResult, pdps []string, opts Options) {
	i := run.Index
	for _, p := range pdps {
		for _, f := range opts.Formats {
			w.log(LogName(p, i, f, opts.Compress), f, run.Logs[p])
		}
	}

	stats := make(map[string]metrics.Description, len(pdps))
	perService := make(map[string][]metrics.ServiceIntegrity, len(pdps))
	detection := make(map[string]map[string]metrics.Detection, len(pdps))
	coverage := make(map[string]metrics.Coverage, len(pdps))
	confusion := make(map[string]confusionReport, len(pdps))
	for _, p := range pdps {
		log := run.Logs[p]
		stats[p] = metrics.Describe(log)
		perService[p] = metrics.TIIPerService(log)
		detection[p] = metrics.ScenarioDetection(log)
		coverage[p] = metrics.MITRECoverage(log)
		cm := metrics.ConfusionOf(log)
		confusion[p] = confusionReport{
			Confusion:      cm,
			Classification: metrics.Classify(cm),
			Impact:         metrics.Financial(cm, opts.Costs),
		}
	}
	savings := make(map[string]metrics.Savings)
	if len(pdps) > 0 {
		ref := confusion[pdps[0]].Impact
		for _, p := range pdps[1:] {
			savings[p] = metrics.Compare(ref, confusion[p].Impact)
		}
	}

	w.json(fmt.Sprintf("stats_run%d.json", i), stats)
	w.json(fmt.Sprintf("tii_per_service_run%d.json", i), perService)
	w.json(fmt.Sprintf("scenario_detection_run%d.json", i), detection)
	w.json(fmt.Sprintf("mitre_coverage_run%d.json", i), coverage)
	w.json(fmt.Sprintf("confusion_run%d.json", i), map[string]any{
		"pdps":    confusion,
		"savings": savings,
	})
	w.json(fmt.Sprintf("timeline_run%d.json", i), timeline(run, pdps))
}

type confusionReport struct {
	Confusion      metrics.Confusion      `json:"confusion_matrix"`
	Classification metrics.Classification `json:"metrics"`
	Impact         metrics.Impact         `json:"financial_impact"`
}

// timelineSeries is one PDP's per-step trajectory.
type timelineSeries struct {
	Theta       []*float64      `json:"theta"`
	Risk        []float64       `json:"risk"`
	TrustBefore []*float64      `json:"I_before"`
	TrustAfter  []*float64      `json:"I_after"`
	Action      []models.Action `json:"action"`
}

func timeline(run simulation.RunResult, pdps []string) map[string]any {
	out := map[string]any{}
	var steps []int
	var attacks []bool
	series := make(map[string]timelineSeries, len(pdps))
	for k, p := range pdps {
		var s timelineSeries
		for _, r := range run.Logs[p] {
			s.Theta = append(s.Theta, r.Theta)
			s.Risk = append(s.Risk, r.Risk)
			s.TrustBefore = append(s.TrustBefore, r.IdentityBefore)
			s.TrustAfter = append(s.TrustAfter, r.IdentityAfter)
			s.Action = append(s.Action, r.Action)
			if k == 0 {
				steps = append(steps, r.Step)
				attacks = append(attacks, r.IsAttack)
			}
		}
		series[p] = s
	}
	out["step"] = steps
	out["is_attack"] = attacks
	out["pdps"] = series
	return out
}

func newSummaryMeta(meta Metadata, exp *simulation.Experiment, agg simulation.Aggregate) summaryMeta {
	events := make([]float64, len(exp.Runs))
	attacks := make([]float64, len(exp.Runs))
	for i, r := range exp.Runs {
		events[i] = float64(r.TotalEvents)
		attacks[i] = float64(r.TotalAttacks)
	}
	sm := summaryMeta{
		ExperimentName: meta.ExperimentName,
		Description:    meta.Description,
		ExperimentID:   meta.ExperimentID,
		BaseSeed:       meta.BaseSeed,
		NumRuns:        agg.NumRuns,
		PDPs:           agg.PDPs,
		Reference:      agg.Reference,
	}
	sm.TotalEventsMean, sm.TotalEventsStd = meanStd(events)
	sm.TotalAttacksMean, sm.TotalAttacksStd = meanStd(attacks)
	return sm
}

// summaryResults maps metric -> PDP -> Summary, plus
// cohens_d_<variant>_vs_<reference>.
func summaryResults(sm summaryMeta, agg simulation.Aggregate) map[string]any {
	out := map[string]any{"meta": sm}
	for _, m := range metrics.Names {
		entry := map[string]any{}
		for p, s := range agg.Summaries[m] {
			entry[p] = s
		}
		for variant, d := range agg.CohensD[m] {
			entry[fmt.Sprintf("cohens_d_%s_vs_%s", variant, agg.Reference)] = d
		}
		out[m] = entry
	}
	return out
}

func resultsForPlots(sm summaryMeta, agg simulation.Aggregate) map[string]any {
	out := map[string]any{"meta": sm}
	for m, byPDP := range agg.Means {
		out[m] = byPDP
	}
	return out
}

func runsTable(exp *simulation.Experiment) [][]string {
	header := []string{"run_id", "seed", "total_events", "total_attacks"}
	for _, m := range metrics.Names {
		for _, p := range exp.PDPs {
			header = append(header, m+"_"+p)
		}
	}
	rows := [][]string{header}
	for _, r := range exp.Runs {
		row := []string{
			strconv.Itoa(r.Index),
			strconv.FormatInt(r.Seed, 10),
			strconv.Itoa(r.TotalEvents),
			strconv.Itoa(r.TotalAttacks),
		}
		values := make(map[string]map[string]float64, len(exp.PDPs))
		for _, p := range exp.PDPs {
			values[p] = r.Metrics[p].Values()
		}
		for _, m := range metrics.Names {
			for _, p := range exp.PDPs {
				row = append(row, formatFloat(values[p][m]))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func summaryTable(agg simulation.Aggregate) [][]string {
	rows := [][]string{{"metric", "policy", "mean", "std", "ci95_low", "ci95_high", "n"}}
	for _, m := range metrics.Names {
		for _, p := range agg.PDPs {
			s := agg.Summaries[m][p]
			rows = append(rows, []string{
				m, p,
				formatFloat(s.Mean), formatFloat(s.Std),
				formatFloat(s.CI95Low), formatFloat(s.CI95High),
				strconv.Itoa(s.N),
			})
		}
	}
	return rows
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// meanStd returns the mean and sample standard deviation, zero below two
// samples.
func meanStd(xs []float64) (float64, float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}
