// Package stats aggregates per-run metric values across Monte-Carlo runs and
// compares PDPs with hypothesis tests. Degenerate samples produce zero or nil
// results, never NaN.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Summary is the cross-run distribution of one metric for one PDP.
type Summary struct {
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	N        int     `json:"n"`
	CI95Low  float64 `json:"ci95_low"`
	CI95High float64 `json:"ci95_high"`
}

// Summarize computes the mean, the unbiased sample standard deviation and
// the 95% confidence interval of the mean using the Student t critical
// value t(0.975, n-1). One sample yields [mean, mean].
func Summarize(values []float64) Summary {
	n := len(values)
	switch n {
	case 0:
		return Summary{}
	case 1:
		return Summary{Mean: values[0], N: 1, CI95Low: values[0], CI95High: values[0]}
	}

	mean, std := stat.MeanStdDev(values, nil)
	margin := tCritical(0.975, float64(n-1)) * std / math.Sqrt(float64(n))
	return Summary{
		Mean:     mean,
		Std:      std,
		N:        n,
		CI95Low:  mean - margin,
		CI95High: mean + margin,
	}
}

// CohensD is (mean(b) - mean(a)) over the pooled standard deviation
// sqrt((sa² + sb²) / 2). It is nil when either side has fewer than two
// samples or the pooled deviation is zero.
func CohensD(a, b []float64) *float64 {
	if len(a) < 2 || len(b) < 2 {
		return nil
	}
	ma, sa := stat.MeanStdDev(a, nil)
	mb, sb := stat.MeanStdDev(b, nil)
	pooled := math.Sqrt((sa*sa + sb*sb) / 2)
	if pooled == 0 {
		return nil
	}
	d := (mb - ma) / pooled
	return &d
}

// tCritical returns the p-quantile of Student's t with df degrees of freedom.
func tCritical(p, df float64) float64 {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(p)
}

// meanStd returns the mean and unbiased standard deviation, with a zero
// deviation below two samples.
func meanStd(xs []float64) (float64, float64) {
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}
