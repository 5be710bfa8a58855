package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Test names.
const (
	TestWelch       = "welch_t"
	TestMannWhitney = "mann_whitney_u"
)

// DefaultAlpha is the family-wise significance level.
const DefaultAlpha = 0.05

// Normality is the outcome of a Shapiro-Wilk test.
type Normality struct {
	W      float64 `json:"w"`
	PValue float64 `json:"p_value"`
	Normal bool    `json:"normal"`
}

// ShapiroWilk tests a sample for normality with Royston's approximation.
// Fewer than three samples are reported as not normal with p = 1. A
// constant sample has W = 1.
func ShapiroWilk(xs []float64, alpha float64) Normality {
	n := len(xs)
	if n < 3 {
		return Normality{PValue: 1}
	}
	x := append([]float64(nil), xs...)
	sort.Float64s(x)
	if x[0] == x[n-1] {
		return Normality{W: 1, PValue: 1, Normal: true}
	}

	a := shapiroCoefficients(n)
	mean := stat.Mean(x, nil)
	var num, ss float64
	for i, v := range x {
		num += a[i] * v
		ss += (v - mean) * (v - mean)
	}
	w := math.Min(1, num*num/ss)

	p := shapiroPValue(w, n)
	return Normality{W: w, PValue: p, Normal: p > alpha}
}

// shapiroCoefficients returns the antisymmetric weights a_1..a_n in
// ascending order.
func shapiroCoefficients(n int) []float64 {
	a := make([]float64, n)
	if n == 3 {
		a[0], a[2] = -math.Sqrt2/2, math.Sqrt2/2
		return a
	}

	m := make([]float64, n)
	var ssq float64
	for i := range m {
		m[i] = distuv.UnitNormal.Quantile((float64(i+1) - 0.375) / (float64(n) + 0.25))
		ssq += m[i] * m[i]
	}
	rs := math.Sqrt(ssq)
	u := 1 / math.Sqrt(float64(n))

	an := m[n-1]/rs + poly(u, 0, 0.221157, -0.147981, -2.071190, 4.434685, -2.706056)
	if n > 5 {
		an1 := m[n-2]/rs + poly(u, 0, 0.042981, -0.293762, -1.752461, 5.682633, -3.582633)
		phi := (ssq - 2*m[n-1]*m[n-1] - 2*m[n-2]*m[n-2]) / (1 - 2*an*an - 2*an1*an1)
		for i := 2; i < n-2; i++ {
			a[i] = m[i] / math.Sqrt(phi)
		}
		a[n-2], a[1] = an1, -an1
	} else {
		phi := (ssq - 2*m[n-1]*m[n-1]) / (1 - 2*an*an)
		for i := 1; i < n-1; i++ {
			a[i] = m[i] / math.Sqrt(phi)
		}
	}
	a[n-1], a[0] = an, -an
	return a
}

func shapiroPValue(w float64, n int) float64 {
	if n == 3 {
		p := 6 / math.Pi * (math.Asin(math.Sqrt(w)) - math.Pi/3)
		return math.Max(0, math.Min(1, p))
	}

	fn := float64(n)
	y := math.Log(1 - w)
	var mu, sigma float64
	if n <= 11 {
		gamma := poly(fn, -2.273, 0.459)
		if y >= gamma {
			return 0
		}
		y = -math.Log(gamma - y)
		mu = poly(fn, 0.544, -0.39978, 0.025054, -6.714e-4)
		sigma = math.Exp(poly(fn, 1.3822, -0.77857, 0.062767, -0.0020322))
	} else {
		ln := math.Log(fn)
		mu = poly(ln, -1.5861, -0.31082, -0.083751, 0.0038915)
		sigma = math.Exp(poly(ln, -0.4803, -0.082676, 0.0030302))
	}
	return distuv.UnitNormal.Survival((y - mu) / sigma)
}

// poly evaluates c[0] + c[1]x + c[2]x² + ...
func poly(x float64, c ...float64) float64 {
	var r float64
	for i := len(c) - 1; i >= 0; i-- {
		r = r*x + c[i]
	}
	return r
}

// Result is a two-sample comparison of a reference against a variant.
type Result struct {
	Test            string     `json:"test"`
	Statistic       float64    `json:"statistic"`
	PValue          float64    `json:"p_value"`
	Alpha           float64    `json:"alpha"`
	Significant     bool       `json:"is_significant"`
	Stars           string     `json:"significance"`
	EffectSize      float64    `json:"effect_size"`
	Interpretation  string     `json:"effect_size_interpretation"`
	CI95            [2]float64 `json:"confidence_interval"`
	ReferenceMean   float64    `json:"reference_mean"`
	ReferenceStd    float64    `json:"reference_std"`
	VariantMean     float64    `json:"variant_mean"`
	VariantStd      float64    `json:"variant_std"`
	N               int        `json:"sample_size"`
	ReferenceNormal bool       `json:"normality_reference"`
	VariantNormal   bool       `json:"normality_variant"`
}

func newResult(test string, ref, variant []float64, alpha float64) Result {
	rm, rs := meanStd(ref)
	vm, vs := meanStd(variant)
	return Result{
		Test:            test,
		Alpha:           alpha,
		CI95:            DiffCI(ref, variant, 0.95),
		ReferenceMean:   rm,
		ReferenceStd:    rs,
		VariantMean:     vm,
		VariantStd:      vs,
		N:               len(ref),
		ReferenceNormal: ShapiroWilk(ref, alpha).Normal,
		VariantNormal:   ShapiroWilk(variant, alpha).Normal,
	}
}

func (r *Result) finish(stat, p float64) {
	r.Statistic = stat
	r.PValue = math.Max(0, math.Min(1, p))
	r.Significant = r.PValue < r.Alpha
	r.Stars = Stars(r.PValue)
}

// WelchT runs a two-sided Welch t-test of ref against variant. The effect
// size is Cohen's d, 0 when undefined. Zero standard error yields t = 0 with
// p = 1 for equal means and p = 0 otherwise.
func WelchT(ref, variant []float64, alpha float64) Result {
	r := newResult(TestWelch, ref, variant, alpha)
	if d := CohensD(ref, variant); d != nil {
		r.EffectSize = *d
	}
	r.Interpretation = InterpretCohensD(r.EffectSize)

	se, df := welch(ref, variant)
	diff := r.ReferenceMean - r.VariantMean
	switch {
	case se == 0 && diff == 0:
		r.finish(0, 1)
	case se == 0:
		r.finish(0, 0)
	default:
		t := diff / se
		p := 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(t))
		r.finish(t, p)
	}
	return r
}

// welch returns the standard error of the mean difference and the
// Welch-Satterthwaite degrees of freedom.
func welch(a, b []float64) (float64, float64) {
	na, nb := float64(len(a)), float64(len(b))
	if na < 2 || nb < 2 {
		return 0, 0
	}
	_, sa := meanStd(a)
	_, sb := meanStd(b)
	va, vb := sa*sa/na, sb*sb/nb
	se := math.Sqrt(va + vb)
	if se == 0 {
		return 0, 0
	}
	df := (va + vb) * (va + vb) / (va*va/(na-1) + vb*vb/(nb-1))
	return se, df
}

// DiffCI is the confidence interval of mean(variant) - mean(ref) with
// Welch degrees of freedom. It collapses to the point difference when the
// standard error is zero.
func DiffCI(ref, variant []float64, confidence float64) [2]float64 {
	rm, _ := meanStd(ref)
	vm, _ := meanStd(variant)
	diff := vm - rm
	se, df := welch(ref, variant)
	if se == 0 {
		return [2]float64{diff, diff}
	}
	margin := tCritical(1-(1-confidence)/2, df) * se
	return [2]float64{diff - margin, diff + margin}
}

// MannWhitneyU runs a two-sided Mann-Whitney U test using the normal
// approximation with tie and continuity correction. The statistic is U of
// ref; the effect size is the rank-biserial correlation 1 - 2U/(n1·n2).
func MannWhitneyU(ref, variant []float64, alpha float64) Result {
	r := newResult(TestMannWhitney, ref, variant, alpha)
	n1, n2 := len(ref), len(variant)
	if n1 == 0 || n2 == 0 {
		r.Interpretation = InterpretRankBiserial(0)
		r.finish(0, 1)
		return r
	}

	pooled := make([]float64, 0, n1+n2)
	pooled = append(pooled, ref...)
	pooled = append(pooled, variant...)
	ranks, tieSum := rank(pooled)

	var r1 float64
	for i := 0; i < n1; i++ {
		r1 += ranks[i]
	}
	f1, f2 := float64(n1), float64(n2)
	u1 := r1 - f1*(f1+1)/2
	u2 := f1*f2 - u1

	r.EffectSize = 1 - 2*u1/(f1*f2)
	r.Interpretation = InterpretRankBiserial(r.EffectSize)

	n := f1 + f2
	sigma := math.Sqrt(f1 * f2 / 12 * ((n + 1) - tieSum/(n*(n-1))))
	if sigma == 0 {
		r.finish(u1, 1)
		return r
	}
	z := (math.Max(u1, u2) - f1*f2/2 - 0.5) / sigma
	r.finish(u1, 2*distuv.UnitNormal.Survival(z))
	return r
}

// rank assigns average ranks starting at 1 and returns Σ(t³ - t) over tie
// groups.
func rank(xs []float64) ([]float64, float64) {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return xs[idx[i]] < xs[idx[j]] })

	ranks := make([]float64, len(xs))
	var ties float64
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		t := float64(j - i + 1)
		ties += t*t*t - t
		i = j + 1
	}
	return ranks, ties
}

// ChooseTest runs Welch's t-test when both samples pass Shapiro-Wilk at
// alpha and Mann-Whitney U otherwise.
func ChooseTest(ref, variant []float64, alpha float64) Result {
	if ShapiroWilk(ref, alpha).Normal && ShapiroWilk(variant, alpha).Normal {
		return WelchT(ref, variant, alpha)
	}
	return MannWhitneyU(ref, variant, alpha)
}

// Bonferroni divides alpha among comparisons.
func Bonferroni(alpha float64, comparisons int) float64 {
	if comparisons < 1 {
		return alpha
	}
	return alpha / float64(comparisons)
}

// Compare tests every metric present in both samples, adjusting alpha for
// the number of metrics when bonferroni is set.
func Compare(ref, variant map[string][]float64, alpha float64, bonferroni bool) map[string]Result {
	var names []string
	for name := range ref {
		if _, ok := variant[name]; ok {
			names = append(names, name)
		}
	}
	adjusted := alpha
	if bonferroni {
		adjusted = Bonferroni(alpha, len(names))
	}
	out := make(map[string]Result, len(names))
	for _, name := range names {
		out[name] = ChooseTest(ref[name], variant[name], adjusted)
	}
	return out
}

// Stars returns the significance notation of a p-value.
func Stars(p float64) string {
	switch {
	case p < 0.001:
		return "***"
	case p < 0.01:
		return "**"
	case p < 0.05:
		return "*"
	default:
		return "ns"
	}
}

// InterpretCohensD labels the magnitude of Cohen's d.
func InterpretCohensD(d float64) string {
	switch d = math.Abs(d); {
	case d < 0.2:
		return "negligible"
	case d < 0.5:
		return "small"
	case d < 0.8:
		return "medium"
	case d < 1.2:
		return "large"
	case d < 2.0:
		return "very large"
	default:
		return "huge"
	}
}

// InterpretRankBiserial labels the magnitude of a rank-biserial correlation.
func InterpretRankBiserial(r float64) string {
	switch r = math.Abs(r); {
	case r < 0.1:
		return "negligible"
	case r < 0.3:
		return "small"
	case r < 0.5:
		return "medium"
	case r < 0.7:
		return "large"
	default:
		return "very large"
	}
}
