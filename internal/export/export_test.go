package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/nvandessel/pdpsim/internal/metrics"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/pdp"
	"github.com/nvandessel/pdpsim/internal/simulation"
)

func sampleRecords() []models.Record {
	return []models.Record{
		{
			Step: 0, PDP: "securebank", UserID: 3, UserType: models.UserTypeCustomer, BaseRisk: 0.1,
			DeviceID: 7, Service: "payments", Amount: 120.5, Geo: "BR-SP", Hour: 14,
			Channel: models.ChannelMobile, Allowed: true, Action: models.ActionAllow,
			Reason: "LOW_RISK", Risk: 0.12, Theta: models.Float(0.88), Drift: models.Float(0.02),
			IdentityBefore: models.Float(0.9), IdentityAfter: models.Float(0.91),
			DeviceBefore: models.Float(0.9), DeviceAfter: models.Float(0.92),
		},
		{
			Step: 1, PDP: "securebank", UserID: 4, UserType: models.UserTypeEmployee, BaseRisk: 0.2,
			DeviceID: 9, Service: "aml", Amount: 9500, Geo: "RU", Hour: 3, Channel: models.ChannelAPI,
			IsAttack: true, Scenario: models.ScenarioMoneyLaundering, Action: models.ActionBlock,
			Reason: "HIGH_RISK", Risk: 0.97, Factors: "high_amount,high_risk_geo",
		},
	}
}

func TestLogName(t *testing.T) {
	tests := []struct {
		format   string
		compress bool
		want     string
	}{
		{FormatJSONL, false, "securebank_logs_run2.jsonl"},
		{FormatJSONL, true, "securebank_logs_run2.jsonl.zst"},
		{FormatArrow, true, "securebank_logs_run2.arrow"},
	}
	for _, tt := range tests {
		if got := LogName("securebank", 2, tt.format, tt.compress); got != tt.want {
			t.Errorf("LogName(%s, %v) = %s, want %s", tt.format, tt.compress, got, tt.want)
		}
	}
}

func TestKnownFormat(t *testing.T) {
	for _, f := range []string{"jsonl", "arrow"} {
		if !KnownFormat(f) {
			t.Errorf("KnownFormat(%q) = false", f)
		}
	}
	if KnownFormat("parquet") {
		t.Error("KnownFormat(parquet) = true")
	}
}

func TestJSONL_RoundTrip(t *testing.T) {
	for _, name := range []string{"log.jsonl", "log.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			want := sampleRecords()
			if err := WriteJSONL(path, want); err != nil {
				t.Fatalf("WriteJSONL() error = %v", err)
			}
			got, err := ReadJSONL(path)
			if err != nil {
				t.Fatalf("ReadJSONL() error = %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestJSONL_NullTrustKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	if err := WriteJSONL(path, sampleRecords()[1:]); err != nil {
		t.Fatalf("WriteJSONL() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var line map[string]any
	if err := json.Unmarshal(data, &line); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	for _, key := range []string{"theta", "I_u", "new_I", "D_d", "new_D", "drift_risk"} {
		v, ok := line[key]
		if !ok {
			t.Errorf("key %s missing", key)
		} else if v != nil {
			t.Errorf("key %s = %v, want null", key, v)
		}
	}
}

func TestJSONL_CompressedIsSmaller(t *testing.T) {
	dir := t.TempDir()
	var records []models.Record
	for range 200 {
		records = append(records, sampleRecords()...)
	}
	plain := filepath.Join(dir, "log.jsonl")
	packed := filepath.Join(dir, "log.jsonl.zst")
	if err := WriteJSONL(plain, records); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSONL(packed, records); err != nil {
		t.Fatal(err)
	}
	a, _ := os.Stat(plain)
	b, _ := os.Stat(packed)
	if b.Size() >= a.Size() {
		t.Errorf("compressed size %d >= plain size %d", b.Size(), a.Size())
	}
}

func TestArrow_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.arrow")
	want := sampleRecords()
	if err := WriteArrow(path, want); err != nil {
		t.Fatalf("WriteArrow() error = %v", err)
	}
	got, err := ReadArrow(path)
	if err != nil {
		t.Fatalf("ReadArrow() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestRecordSchema_MatchesJSONKeys(t *testing.T) {
	data, err := json.Marshal(models.Record{})
	if err != nil {
		t.Fatal(err)
	}
	var keys map[string]any
	if err := json.Unmarshal(data, &keys); err != nil {
		t.Fatal(err)
	}
	if len(RecordSchema.Fields()) != len(keys) {
		t.Errorf("schema has %d fields, record has %d keys", len(RecordSchema.Fields()), len(keys))
	}
	for _, f := range RecordSchema.Fields() {
		if _, ok := keys[f.Name]; !ok {
			t.Errorf("column %s is not a record key", f.Name)
		}
	}
}

func smallExperiment(t *testing.T) (*simulation.Experiment, simulation.Aggregate) {
	t.Helper()
	opts := simulation.DefaultOptions()
	opts.NumUsers = 10
	opts.NumDevices = 15
	opts.NumEvents = 120
	opts.AttackProbability = 0.2
	opts.NumRuns = 3
	opts.KeepLogs = 1
	specs, err := pdp.Specs([]string{pdp.NameBaseline, pdp.NameSecureBank}, pdp.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	exp, err := simulation.NewDriver(opts, specs).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return exp, exp.Aggregate()
}

func TestWriteReport(t *testing.T) {
	exp, agg := smallExperiment(t)
	meta := NewMetadata("smoke", "digest", exp.Options.Seed, len(exp.Runs), exp.PDPs)
	dir := ExperimentDir(t.TempDir(), meta)

	files, err := WriteReport(dir, meta, exp, agg, Options{
		Formats:  []string{FormatJSONL, FormatArrow},
		Compress: true,
		Costs:    metrics.DefaultCosts(),
	})
	if err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}

	want := []string{
		MetadataFile, SummaryFile, ResultsFile, ComparisonFile, RunsCSVFile, SummaryCSVFile,
		"baseline_logs_run0.jsonl.zst", "baseline_logs_run0.arrow",
		"securebank_logs_run0.jsonl.zst", "securebank_logs_run0.arrow",
		"stats_run0.json", "tii_per_service_run0.json", "scenario_detection_run0.json",
		"mitre_coverage_run0.json", "confusion_run0.json", "timeline_run0.json",
	}
	if len(files) != len(want) {
		t.Fatalf("files = %d, want %d: %v", len(files), len(want), files)
	}
	for i, name := range want {
		if filepath.Base(files[i]) != name {
			t.Errorf("file %d = %s, want %s", i, filepath.Base(files[i]), name)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "stats_run1.json")); !os.IsNotExist(err) {
		t.Error("run 1 reports written although its logs were dropped")
	}

	logs, err := ReadJSONL(filepath.Join(dir, "securebank_logs_run0.jsonl.zst"))
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}
	if !reflect.DeepEqual(logs, exp.Runs[0].Logs[pdp.NameSecureBank]) {
		t.Error("written decision log differs from the run's log")
	}
}

func TestWriteReport_Summary(t *testing.T) {
	exp, agg := smallExperiment(t)
	meta := NewMetadata("smoke", "digest", exp.Options.Seed, len(exp.Runs), exp.PDPs)
	dir := t.TempDir()
	if _, err := WriteReport(dir, meta, exp, agg, Options{Formats: []string{FormatJSONL}}); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		t.Fatal(err)
	}
	var summary map[string]map[string]any
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["meta"]["num_runs"] != float64(3) {
		t.Errorf("meta.num_runs = %v, want 3", summary["meta"]["num_runs"])
	}
	tii := summary[metrics.MetricTII]
	if _, ok := tii["baseline"]; !ok {
		t.Error("TII summary missing baseline")
	}
	if _, ok := tii["cohens_d_securebank_vs_baseline"]; !ok {
		t.Errorf("TII summary missing Cohen's d: %v", tii)
	}

	f, err := os.Open(filepath.Join(dir, RunsCSVFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("csv rows = %d, want header + 3", len(rows))
	}
	header := strings.Join(rows[0], ",")
	if !strings.HasPrefix(header, "run_id,seed,total_events,total_attacks,TII_baseline,TII_securebank") {
		t.Errorf("csv header = %s", header)
	}
	if want := 4 + len(metrics.Names)*2; len(rows[0]) != want {
		t.Errorf("csv columns = %d, want %d", len(rows[0]), want)
	}
	if rows[2][1] != "43" {
		t.Errorf("run 1 seed = %s, want 43", rows[2][1])
	}

	var md Metadata
	data, err = os.ReadFile(filepath.Join(dir, MetadataFile))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &md); err != nil {
		t.Fatal(err)
	}
	if md.ExperimentID != meta.ExperimentID || md.GoVersion == "" || md.Platform.OS == "" {
		t.Errorf("metadata = %+v", md)
	}
}

func TestNewMetadata_UniqueIDs(t *testing.T) {
	a := NewMetadata("x", "", 1, 1, nil)
	b := NewMetadata("x", "", 1, 1, nil)
	if a.ExperimentID == b.ExperimentID {
		t.Error("experiment ids collide")
	}
	if !strings.HasPrefix(filepath.Base(ExperimentDir("/tmp", a)), "x_") {
		t.Errorf("ExperimentDir = %s", ExperimentDir("/tmp", a))
	}
}

func TestExperimentDir_SanitizedName(t *testing.T) {
	meta := NewMetadata("../hard vs balanced", "", 1, 1, nil)
	dir := ExperimentDir("/tmp/out", meta)
	if filepath.Dir(dir) != filepath.Clean("/tmp/out") {
		t.Errorf("ExperimentDir escaped its root: %s", dir)
	}
	if !strings.HasPrefix(filepath.Base(dir), "hard_vs_balanced_") {
		t.Errorf("ExperimentDir = %s, want hard_vs_balanced_<timestamp>", dir)
	}
}
