package stats

import (
	"math"
	"reflect"
	"testing"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{0.90, 0.91, 0.89, 0.92, 0.90})
	if !near(s.Mean, 0.904, 1e-12) {
		t.Errorf("Mean = %v, want 0.904", s.Mean)
	}
	if !near(s.Std, math.Sqrt(130e-6), 1e-9) {
		t.Errorf("Std = %v, want %v", s.Std, math.Sqrt(130e-6))
	}
	if s.N != 5 {
		t.Errorf("N = %d, want 5", s.N)
	}
	// t(0.975, 4) = 2.776445
	margin := 2.776445 * s.Std / math.Sqrt(5)
	if !near(s.CI95Low, s.Mean-margin, 1e-6) || !near(s.CI95High, s.Mean+margin, 1e-6) {
		t.Errorf("CI = [%v, %v], want ±%v around mean", s.CI95Low, s.CI95High, margin)
	}
}

func TestSummarize_Degenerate(t *testing.T) {
	if got := Summarize(nil); got != (Summary{}) {
		t.Errorf("Summarize(nil) = %+v, want zeros", got)
	}
	got := Summarize([]float64{0.7})
	want := Summary{Mean: 0.7, N: 1, CI95Low: 0.7, CI95High: 0.7}
	if got != want {
		t.Errorf("Summarize(one) = %+v, want %+v", got, want)
	}
	c := Summarize([]float64{0.5, 0.5, 0.5})
	if c.Std != 0 || c.CI95Low != 0.5 || c.CI95High != 0.5 {
		t.Errorf("Summarize(constant) = %+v", c)
	}
}

func TestCohensD(t *testing.T) {
	d := CohensD([]float64{1, 2, 3}, []float64{2, 3, 4})
	if d == nil || !near(*d, 1, 1e-12) {
		t.Errorf("CohensD = %v, want 1", d)
	}
	tests := []struct {
		name string
		a, b []float64
	}{
		{"short reference", []float64{1}, []float64{1, 2}},
		{"short variant", []float64{1, 2}, nil},
		{"zero pooled deviation", []float64{1, 1}, []float64{2, 2}},
	}
	for _, tt := range tests {
		if got := CohensD(tt.a, tt.b); got != nil {
			t.Errorf("%s: CohensD = %v, want nil", tt.name, *got)
		}
	}
}

func TestShapiroWilk(t *testing.T) {
	if got := ShapiroWilk([]float64{1, 2}, DefaultAlpha); got.Normal || got.PValue != 1 {
		t.Errorf("two samples = %+v, want not normal with p 1", got)
	}

	three := ShapiroWilk([]float64{1, 2, 3}, DefaultAlpha)
	if !near(three.W, 1, 1e-9) || !near(three.PValue, 1, 1e-9) {
		t.Errorf("evenly spaced triple = %+v, want W 1 p 1", three)
	}

	if c := ShapiroWilk([]float64{4, 4, 4, 4}, DefaultAlpha); c.W != 1 {
		t.Errorf("constant sample W = %v, want 1", c.W)
	}

	outlier := ShapiroWilk([]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 100}, DefaultAlpha)
	if outlier.Normal || outlier.PValue > 0.001 {
		t.Errorf("outlier sample = %+v, want rejected", outlier)
	}

	spaced := ShapiroWilk([]float64{3, 5, 1, 4, 2, 6, 8, 7, 10, 9, 12, 11, 13, 15, 14}, DefaultAlpha)
	if !spaced.Normal || spaced.W < 0.9 {
		t.Errorf("evenly spaced sample = %+v, want accepted", spaced)
	}
}

func TestWelchT(t *testing.T) {
	ref := []float64{1, 2, 3, 4, 5}
	variant := []float64{6, 7, 8, 9, 10}

	r := WelchT(ref, variant, DefaultAlpha)
	if !near(r.Statistic, -5, 1e-9) {
		t.Errorf("t = %v, want -5", r.Statistic)
	}
	if r.PValue >= 0.01 || !r.Significant || r.Stars != "**" {
		t.Errorf("p = %v significant = %v stars = %s, want ** significant", r.PValue, r.Significant, r.Stars)
	}
	if !near(r.EffectSize, 5/math.Sqrt(2.5), 1e-9) || r.Interpretation != "huge" {
		t.Errorf("effect = %v (%s), want %v huge", r.EffectSize, r.Interpretation, 5/math.Sqrt(2.5))
	}

	same := WelchT(ref, ref, DefaultAlpha)
	if same.Statistic != 0 || !near(same.PValue, 1, 1e-12) || same.Significant {
		t.Errorf("identical samples = %+v", same)
	}

	flat := WelchT([]float64{0.5, 0.5}, []float64{0.7, 0.7}, DefaultAlpha)
	if flat.PValue != 0 || !flat.Significant || flat.EffectSize != 0 {
		t.Errorf("constant distinct samples = %+v", flat)
	}
}

func TestDiffCI(t *testing.T) {
	ci := DiffCI([]float64{1, 2, 3, 4, 5}, []float64{6, 7, 8, 9, 10}, 0.95)
	// se 1, df 8, t(0.975, 8) = 2.306004
	if !near(ci[0], 5-2.306004, 1e-5) || !near(ci[1], 5+2.306004, 1e-5) {
		t.Errorf("DiffCI = %v, want 5 ± 2.306", ci)
	}
	if got := DiffCI([]float64{1}, []float64{3}, 0.95); got != [2]float64{2, 2} {
		t.Errorf("DiffCI(single) = %v, want [2 2]", got)
	}
}

func TestMannWhitneyU(t *testing.T) {
	r := MannWhitneyU([]float64{1, 2, 3}, []float64{4, 5, 6}, DefaultAlpha)
	if r.Statistic != 0 {
		t.Errorf("U = %v, want 0", r.Statistic)
	}
	if r.EffectSize != 1 || r.Interpretation != "very large" {
		t.Errorf("effect = %v (%s), want 1 very large", r.EffectSize, r.Interpretation)
	}
	if r.PValue < 0.05 || r.PValue > 0.1 {
		t.Errorf("p = %v, want about 0.081", r.PValue)
	}

	tied := MannWhitneyU([]float64{1, 1, 1}, []float64{1, 1, 1}, DefaultAlpha)
	if tied.PValue != 1 || tied.EffectSize != 0 {
		t.Errorf("all-tied samples = %+v", tied)
	}
}

func TestRank(t *testing.T) {
	ranks, ties := rank([]float64{3, 1, 2, 2})
	if want := []float64{4, 1, 2.5, 2.5}; !reflect.DeepEqual(ranks, want) {
		t.Errorf("ranks = %v, want %v", ranks, want)
	}
	if ties != 6 {
		t.Errorf("tie sum = %v, want 6", ties)
	}
}

func TestChooseTest(t *testing.T) {
	normal := ChooseTest([]float64{1, 2, 3, 4, 5}, []float64{6, 7, 8, 9, 10}, DefaultAlpha)
	if normal.Test != TestWelch {
		t.Errorf("Test = %s, want %s", normal.Test, TestWelch)
	}
	skewed := ChooseTest([]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 100}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, DefaultAlpha)
	if skewed.Test != TestMannWhitney {
		t.Errorf("Test = %s, want %s", skewed.Test, TestMannWhitney)
	}
}

func TestCompare(t *testing.T) {
	ref := map[string][]float64{"TII": {1, 2, 3, 4, 5}, "SAE": {1, 2, 3, 4, 5}, "only_ref": {1, 2, 3}}
	variant := map[string][]float64{"TII": {6, 7, 8, 9, 10}, "SAE": {1, 2, 3, 4, 5}}

	got := Compare(ref, variant, 0.05, true)
	if len(got) != 2 {
		t.Fatalf("Compare returned %d metrics, want 2", len(got))
	}
	if got["TII"].Alpha != 0.025 {
		t.Errorf("adjusted alpha = %v, want 0.025", got["TII"].Alpha)
	}
	if got["SAE"].Significant {
		t.Error("identical SAE samples reported significant")
	}

	raw := Compare(ref, variant, 0.05, false)
	if raw["TII"].Alpha != 0.05 {
		t.Errorf("unadjusted alpha = %v, want 0.05", raw["TII"].Alpha)
	}
}

func TestBonferroni(t *testing.T) {
	if got := Bonferroni(0.05, 5); !near(got, 0.01, 1e-15) {
		t.Errorf("Bonferroni(0.05, 5) = %v, want 0.01", got)
	}
	if got := Bonferroni(0.05, 0); got != 0.05 {
		t.Errorf("Bonferroni(0.05, 0) = %v, want 0.05", got)
	}
}

func TestLabels(t *testing.T) {
	stars := []struct {
		p    float64
		want string
	}{
		{0.0005, "***"}, {0.005, "**"}, {0.03, "*"}, {0.2, "ns"},
	}
	for _, tt := range stars {
		if got := Stars(tt.p); got != tt.want {
			t.Errorf("Stars(%v) = %s, want %s", tt.p, got, tt.want)
		}
	}

	cohen := []struct {
		d    float64
		want string
	}{
		{0.1, "negligible"}, {-0.3, "small"}, {0.6, "medium"}, {1.0, "large"}, {-1.5, "very large"}, {3, "huge"},
	}
	for _, tt := range cohen {
		if got := InterpretCohensD(tt.d); got != tt.want {
			t.Errorf("InterpretCohensD(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}

	if got := InterpretRankBiserial(-0.4); got != "medium" {
		t.Errorf("InterpretRankBiserial(-0.4) = %s, want medium", got)
	}
}
