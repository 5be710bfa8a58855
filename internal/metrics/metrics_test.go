package metrics

import (
	"math"
	"reflect"
	"testing"

	"github.com/nvandessel/pdpsim/internal/models"
)

func rec(service string, action models.Action, attack bool, sc models.Scenario) models.Record {
	return models.Record{
		Service:  service,
		Action:   action,
		Allowed:  action == models.ActionAllow,
		IsAttack: attack,
		Scenario: sc,
	}
}

func withTrust(r models.Record, user int, before, after float64) models.Record {
	r.UserID = user
	r.IdentityBefore = models.Float(before)
	r.IdentityAfter = models.Float(after)
	r.DeviceBefore = models.Float(0.9)
	r.DeviceAfter = models.Float(0.9)
	return r
}

func TestEmptyLogFallbacks(t *testing.T) {
	if got := TII(nil); got != 0 {
		t.Errorf("TII(nil) = %v, want 0", got)
	}
	if got := SAE(nil); got != 0 {
		t.Errorf("SAE(nil) = %v, want 0", got)
	}
	if got := ITAL(nil, 0.6); got != 0 {
		t.Errorf("ITAL(nil) = %v, want 0", got)
	}
	if got := Classify(ConfusionOf(nil)); got != (Classification{}) {
		t.Errorf("Classify(empty) = %+v, want zeros", got)
	}
	m := Compute(nil, 0.6)
	for name, v := range m.Values() {
		if v != 0 || math.IsNaN(v) {
			t.Errorf("%s on empty log = %v, want 0", name, v)
		}
	}
}

func TestTII_Weighted(t *testing.T) {
	log := []models.Record{
		rec("settlement", models.ActionAllow, false, 0),
		rec("settlement", models.ActionBlock, false, 0),
		rec("risk_analytics", models.ActionAllow, false, 0),
		rec("risk_analytics", models.ActionAllow, true, 1),
	}
	// (1.2*1 + 0.8*1) / (1.2*2 + 0.8*2)
	want := 2.0 / 4.0
	if got := TII(log); math.Abs(got-want) > 1e-12 {
		t.Errorf("TII = %v, want %v", got, want)
	}

	per := TIIPerService(log)
	if len(per) != 2 || per[0].Service != "risk_analytics" || per[1].Service != "settlement" {
		t.Fatalf("TIIPerService order = %+v", per)
	}
	if per[0].TII != 0.5 || per[1].TII != 0.5 {
		t.Errorf("per-service TII = %v, %v, want 0.5, 0.5", per[0].TII, per[1].TII)
	}
}

func TestTII_UnknownServiceDefaultWeight(t *testing.T) {
	log := []models.Record{
		rec("ledger", models.ActionAllow, false, 0),
		rec("ledger", models.ActionStepUp, false, 0),
	}
	if got := TII(log); got != 0.5 {
		t.Errorf("TII = %v, want 0.5", got)
	}
}

func TestSAE(t *testing.T) {
	log := []models.Record{
		rec("payments", models.ActionBlock, true, 1),
		rec("payments", models.ActionStepUp, true, 2),
		rec("payments", models.ActionAllow, true, 3),
		rec("payments", models.ActionAllow, true, 4),
		rec("payments", models.ActionBlock, false, 0),
	}
	if got := SAE(log); got != 0.5 {
		t.Errorf("SAE = %v, want 0.5", got)
	}
	if got := SAE(log[4:]); got != 0 {
		t.Errorf("SAE without attacks = %v, want 0", got)
	}
}

func TestITAL(t *testing.T) {
	t.Run("zero without trust fields", func(t *testing.T) {
		log := []models.Record{
			rec("payments", models.ActionBlock, true, 1),
			rec("payments", models.ActionBlock, true, 1),
		}
		if got := ITAL(log, 0.6); got != 0 {
			t.Errorf("ITAL = %v, want 0", got)
		}
	})

	t.Run("blends drift and block fraction", func(t *testing.T) {
		log := []models.Record{
			withTrust(rec("payments", models.ActionBlock, true, 1), 1, 0.9, 0.8),
			withTrust(rec("payments", models.ActionAllow, false, 0), 1, 0.8, 0.8),
			withTrust(rec("payments", models.ActionStepUp, true, 1), 2, 0.9, 0.6),
		}
		// user 1 mean 0.05, user 2 mean 0.3; drift 0.175; block fraction 1/2.
		want := 0.6*0.175 + 0.4*0.5
		if got := ITAL(log, 0.6); math.Abs(got-want) > 1e-12 {
			t.Errorf("ITAL = %v, want %v", got, want)
		}
	})
}

func TestConfusionAndClassify(t *testing.T) {
	log := []models.Record{
		rec("payments", models.ActionBlock, true, 1),
		rec("payments", models.ActionStepUp, true, 1),
		rec("payments", models.ActionAllow, true, 1),
		rec("payments", models.ActionStepUp, false, 0),
		rec("payments", models.ActionAllow, false, 0),
		rec("payments", models.ActionAllow, false, 0),
	}
	cm := ConfusionOf(log)
	if want := (Confusion{TP: 2, TN: 2, FP: 1, FN: 1}); cm != want {
		t.Fatalf("ConfusionOf = %+v, want %+v", cm, want)
	}
	c := Classify(cm)
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"precision", c.Precision, 2.0 / 3},
		{"recall", c.Recall, 2.0 / 3},
		{"f1", c.F1, 2.0 / 3},
		{"accuracy", c.Accuracy, 4.0 / 6},
		{"specificity", c.Specificity, 2.0 / 3},
		{"fpr", c.FPR, 1.0 / 3},
		{"fnr", c.FNR, 1.0 / 3},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > 1e-12 {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCompute_RangesAndIdempotence(t *testing.T) {
	log := []models.Record{
		withTrust(rec("payments", models.ActionBlock, true, 1), 1, 0.9, 0.79),
		withTrust(rec("aml", models.ActionAllow, false, 0), 2, 0.9, 0.91),
		withTrust(rec("settlement", models.ActionStepUp, false, 0), 3, 0.9, 0.85),
		withTrust(rec("payments", models.ActionAllow, true, 5), 1, 0.79, 0.8),
	}
	a := Compute(log, 0.6)
	b := Compute(log, 0.6)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Compute not idempotent: %+v vs %+v", a, b)
	}
	for name, v := range a.Values() {
		if v < 0 || v > 1 {
			t.Errorf("%s = %v, outside [0,1]", name, v)
		}
	}
	if a.TotalEvents != 4 || a.TotalAttacks != 2 {
		t.Errorf("totals = %d/%d, want 4/2", a.TotalEvents, a.TotalAttacks)
	}
}

func TestNewReport(t *testing.T) {
	rep := NewReport(map[string]RunMetrics{
		"baseline":   {TII: 0.9},
		"securebank": {TII: 0.8, SAE: 0.5},
	})
	if rep[MetricTII]["baseline"] != 0.9 || rep[MetricTII]["securebank"] != 0.8 {
		t.Errorf("TII row = %v", rep[MetricTII])
	}
	if len(rep) != len(Names) {
		t.Errorf("report has %d metrics, want %d", len(rep), len(Names))
	}
}

func TestScenarioDetection(t *testing.T) {
	log := []models.Record{
		rec("payments", models.ActionBlock, true, models.ScenarioAPIAbuse),
		rec("payments", models.ActionStepUp, true, models.ScenarioAPIAbuse),
		rec("payments", models.ActionAllow, true, models.ScenarioAPIAbuse),
		rec("payments", models.ActionBlock, false, 0),
	}
	got := ScenarioDetection(log)
	if len(got) != len(models.AllScenarios) {
		t.Errorf("scenarios = %d, want %d", len(got), len(models.AllScenarios))
	}
	want := Detection{Total: 3, Blocked: 1, StepUp: 1, Allowed: 1}
	if d := got["api_abuse"]; d != want {
		t.Errorf("api_abuse = %+v, want %+v", d, want)
	}
	if r := got["api_abuse"].Rate(); math.Abs(r-2.0/3) > 1e-12 {
		t.Errorf("Rate = %v, want 2/3", r)
	}
	if d := got["money_laundering"]; d != (Detection{}) {
		t.Errorf("money_laundering = %+v, want zeros", d)
	}
}

func TestDescribe(t *testing.T) {
	log := []models.Record{
		{Amount: 10, Action: models.ActionAllow},
		{Amount: 30, Action: models.ActionBlock, IsAttack: true, Scenario: 1, Theta: models.Float(0.2)},
	}
	d := Describe(log)
	if d.TotalEvents != 2 || d.Amount.Mean != 20 {
		t.Errorf("Describe = %+v", d)
	}
	if math.Abs(d.Amount.Std-math.Sqrt(200)) > 1e-12 {
		t.Errorf("amount std = %v, want %v", d.Amount.Std, math.Sqrt(200))
	}
	if d.Theta.N != 1 || d.Theta.Std != 0 {
		t.Errorf("theta moments = %+v, want one sample", d.Theta)
	}
	if d.Actions["step_up"] != 0 || d.Actions["block"] != 1 {
		t.Errorf("actions = %v", d.Actions)
	}
	if d.Scenarios["credential_compromise"] != 1 {
		t.Errorf("scenarios = %v", d.Scenarios)
	}
}

func TestMoments(t *testing.T) {
	tests := []struct {
		name string
		xs   []float64
		want Moments
	}{
		{"empty", nil, Moments{}},
		{"single", []float64{4}, Moments{Mean: 4, N: 1}},
		{"pair", []float64{2, 4}, Moments{Mean: 3, Std: math.Sqrt2, N: 2}},
		{"constant", []float64{5, 5, 5}, Moments{Mean: 5, N: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := moments(tt.xs)
			if got.N != tt.want.N || math.Abs(got.Mean-tt.want.Mean) > 1e-12 || math.Abs(got.Std-tt.want.Std) > 1e-12 {
				t.Errorf("moments(%v) = %+v, want %+v", tt.xs, got, tt.want)
			}
		})
	}
}

func TestFinancial(t *testing.T) {
	costs := DefaultCosts()
	ref := Financial(Confusion{TP: 1, FP: 10, FN: 2}, costs)
	if ref.FPCost != 500 || ref.FNCost != 50000 || ref.TotalCost != 50500 {
		t.Errorf("Financial = %+v", ref)
	}
	if ref.NetBenefit != 25000-500 {
		t.Errorf("net benefit = %v, want %v", ref.NetBenefit, 24500)
	}

	variant := Financial(Confusion{TP: 3, FP: 20}, costs)
	s := Compare(ref, variant)
	if s.CostSavings != 50500-1000 {
		t.Errorf("cost savings = %v, want %v", s.CostSavings, 49500)
	}
	if math.Abs(s.CostReductionPct-49500.0/50500*100) > 1e-9 {
		t.Errorf("cost reduction = %v", s.CostReductionPct)
	}
	if got := Compare(Impact{}, variant); got.CostReductionPct != 0 {
		t.Errorf("reduction against zero cost = %v, want 0", got.CostReductionPct)
	}
}

func TestMITRECoverage(t *testing.T) {
	log := []models.Record{
		rec("payments", models.ActionBlock, true, models.ScenarioCredentialCompromise),
		rec("payments", models.ActionAllow, true, models.ScenarioCredentialCompromise),
		rec("payments", models.ActionAllow, true, models.ScenarioMoneyLaundering),
		rec("payments", models.ActionBlock, false, 0),
	}
	c := MITRECoverage(log)
	if c.TotalTechniques != 15 {
		t.Errorf("total techniques = %d, want 15", c.TotalTechniques)
	}
	if c.CoveredTechniques != 3 {
		t.Errorf("covered = %d, want 3", c.CoveredTechniques)
	}
	if c.TotalAttacks != 3 || c.TotalDetected != 1 || c.TotalBlocked != 1 {
		t.Errorf("totals = %d/%d/%d, want 3/1/1", c.TotalAttacks, c.TotalDetected, c.TotalBlocked)
	}
	if c.CoverageRate != 20 {
		t.Errorf("coverage rate = %v, want 20", c.CoverageRate)
	}
	ts := c.Techniques["T1078"]
	if ts.TotalAttacks != 2 || ts.Detected != 1 || ts.DetectionRate() != 50 {
		t.Errorf("T1078 = %+v", ts)
	}
	if !reflect.DeepEqual(ts.Scenarios, []string{"credential_compromise"}) {
		t.Errorf("T1078 scenarios = %v", ts.Scenarios)
	}
	if _, ok := c.Techniques["T1539"]; ok {
		t.Error("unseen technique T1539 has stats")
	}

	empty := MITRECoverage(nil)
	if empty.CoverageRate != 0 || empty.DetectionRate != 0 || empty.BlockRate != 0 {
		t.Errorf("empty coverage = %+v", empty)
	}
}
