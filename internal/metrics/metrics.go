// Package metrics reduces a decision log to integrity, automation and trust
// adaptation indices plus confusion-matrix statistics. Every function is pure
// and returns a zero fallback on degenerate input.
package metrics

import (
	"sort"

	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/models"
)

// Metric names used as report keys.
const (
	MetricTII         = "TII"
	MetricSAE         = "SAE"
	MetricITAL        = "ITAL"
	MetricPrecision   = "precision"
	MetricRecall      = "recall"
	MetricF1          = "f1_score"
	MetricAccuracy    = "accuracy"
	MetricSpecificity = "specificity"
	MetricFPR         = "fpr"
	MetricFNR         = "fnr"
)

// Names lists every per-run scalar in report order.
var Names = []string{
	MetricTII, MetricSAE, MetricITAL,
	MetricPrecision, MetricRecall, MetricF1, MetricAccuracy,
	MetricSpecificity, MetricFPR, MetricFNR,
}

// TII is the criticality-weighted fraction of legitimate, allowed
// transactions over all transactions.
func TII(log []models.Record) float64 {
	var num, den float64
	for _, s := range TIIPerService(log) {
		w := constants.ServiceWeight(s.Service)
		num += w * float64(s.Valid)
		den += w * float64(s.Total)
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// ServiceIntegrity is the unweighted integrity of one service.
type ServiceIntegrity struct {
	Service string  `json:"service"`
	Valid   int     `json:"valid"`
	Total   int     `json:"total"`
	TII     float64 `json:"tii"`
}

// TIIPerService returns the integrity of every service seen, sorted by name.
func TIIPerService(log []models.Record) []ServiceIntegrity {
	idx := make(map[string]*ServiceIntegrity)
	for _, r := range log {
		s, ok := idx[r.Service]
		if !ok {
			s = &ServiceIntegrity{Service: r.Service}
			idx[r.Service] = s
		}
		s.Total++
		if r.Allowed && !r.IsAttack {
			s.Valid++
		}
	}

	out := make([]ServiceIntegrity, 0, len(idx))
	for _, s := range idx {
		s.TII = ratio(s.Valid, s.Total)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// SAE is the fraction of attacks that were blocked or stepped up.
func SAE(log []models.Record) float64 {
	var attacks, handled int
	for _, r := range log {
		if !r.IsAttack {
			continue
		}
		attacks++
		if r.Action.Intercepts() {
			handled++
		}
	}
	return ratio(handled, attacks)
}

// ITAL blends the mean per-user identity trust drift with the fraction of
// attacks that were blocked. It is exactly zero for a log without trust
// fields.
func ITAL(log []models.Record, driftWeight float64) float64 {
	type acc struct {
		sum float64
		n   int
	}
	perUser := make(map[int]*acc)
	for _, r := range log {
		if !r.HasTrust() {
			continue
		}
		a, ok := perUser[r.UserID]
		if !ok {
			a = &acc{}
			perUser[r.UserID] = a
		}
		d := *r.IdentityAfter - *r.IdentityBefore
		if d < 0 {
			d = -d
		}
		a.sum += d
		a.n++
	}
	if len(perUser) == 0 {
		return 0
	}

	var drift float64
	for _, a := range perUser {
		drift += a.sum / float64(a.n)
	}
	drift /= float64(len(perUser))

	var attacks, blocked int
	for _, r := range log {
		if !r.IsAttack {
			continue
		}
		attacks++
		if r.Action == models.ActionBlock {
			blocked++
		}
	}
	return driftWeight*drift + (1-driftWeight)*ratio(blocked, attacks)
}

// Confusion counts outcomes treating block and step_up as a positive call.
type Confusion struct {
	TP int `json:"TP"`
	TN int `json:"TN"`
	FP int `json:"FP"`
	FN int `json:"FN"`
}

// Total returns the number of classified events.
func (c Confusion) Total() int { return c.TP + c.TN + c.FP + c.FN }

// ConfusionOf counts the confusion matrix of a log.
func ConfusionOf(log []models.Record) Confusion {
	var c Confusion
	for _, r := range log {
		positive := r.Action.Intercepts()
		switch {
		case r.IsAttack && positive:
			c.TP++
		case r.IsAttack:
			c.FN++
		case positive:
			c.FP++
		default:
			c.TN++
		}
	}
	return c
}

// Classification derives rates from a confusion matrix. A zero denominator
// yields 0.
type Classification struct {
	Precision   float64 `json:"precision"`
	Recall      float64 `json:"recall"`
	F1          float64 `json:"f1_score"`
	Accuracy    float64 `json:"accuracy"`
	Specificity float64 `json:"specificity"`
	FPR         float64 `json:"fpr"`
	FNR         float64 `json:"fnr"`
}

// Classify computes the classification rates of c.
func Classify(c Confusion) Classification {
	p := ratio(c.TP, c.TP+c.FP)
	r := ratio(c.TP, c.TP+c.FN)
	var f1 float64
	if p+r > 0 {
		f1 = 2 * p * r / (p + r)
	}
	return Classification{
		Precision:   p,
		Recall:      r,
		F1:          f1,
		Accuracy:    ratio(c.TP+c.TN, c.Total()),
		Specificity: ratio(c.TN, c.TN+c.FP),
		FPR:         ratio(c.FP, c.FP+c.TN),
		FNR:         ratio(c.FN, c.FN+c.TP),
	}
}

// RunMetrics are the scalars of one PDP over one run.
type RunMetrics struct {
	TII            float64        `json:"TII"`
	SAE            float64        `json:"SAE"`
	ITAL           float64        `json:"ITAL"`
	Confusion      Confusion      `json:"confusion"`
	Classification Classification `json:"classification"`
	TotalEvents    int            `json:"total_events"`
	TotalAttacks   int            `json:"total_attacks"`
}

// Compute evaluates every per-run metric of a log.
func Compute(log []models.Record, driftWeight float64) RunMetrics {
	cm := ConfusionOf(log)
	return RunMetrics{
		TII:            TII(log),
		SAE:            SAE(log),
		ITAL:           ITAL(log, driftWeight),
		Confusion:      cm,
		Classification: Classify(cm),
		TotalEvents:    len(log),
		TotalAttacks:   cm.TP + cm.FN,
	}
}

// Values flattens the scalars keyed by metric name.
func (m RunMetrics) Values() map[string]float64 {
	return map[string]float64{
		MetricTII:         m.TII,
		MetricSAE:         m.SAE,
		MetricITAL:        m.ITAL,
		MetricPrecision:   m.Classification.Precision,
		MetricRecall:      m.Classification.Recall,
		MetricF1:          m.Classification.F1,
		MetricAccuracy:    m.Classification.Accuracy,
		MetricSpecificity: m.Classification.Specificity,
		MetricFPR:         m.Classification.FPR,
		MetricFNR:         m.Classification.FNR,
	}
}

// Report is keyed by metric name, then PDP name.
type Report map[string]map[string]float64

// NewReport builds a report from per-PDP run metrics.
func NewReport(byPDP map[string]RunMetrics) Report {
	rep := make(Report, len(Names))
	for pdp, m := range byPDP {
		for name, v := range m.Values() {
			if rep[name] == nil {
				rep[name] = make(map[string]float64, len(byPDP))
			}
			rep[name][pdp] = v
		}
	}
	return rep
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
