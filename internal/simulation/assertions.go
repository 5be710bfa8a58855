package simulation

import (
	"reflect"
	"testing"

	"github.com/nvandessel/pdpsim/internal/models"
)

// AssertOneDecisionPerEvent asserts that every PDP's log holds exactly one
// record per event, in step order.
func AssertOneDecisionPerEvent(t *testing.T, res RunResult) {
	t.Helper()
	for name, log := range res.Logs {
		if len(log) != res.TotalEvents {
			t.Errorf("AssertOneDecisionPerEvent: run %d: %s has %d records for %d events", res.Index, name, len(log), res.TotalEvents)
			continue
		}
		for i, r := range log {
			if r.Step != i {
				t.Errorf("AssertOneDecisionPerEvent: run %d: %s record %d has step %d", res.Index, name, i, r.Step)
				break
			}
		}
	}
}

// AssertTrustBounded asserts that every trust value and theta in every log
// lies in [0,1].
func AssertTrustBounded(t *testing.T, res RunResult) {
	t.Helper()
	for name, log := range res.Logs {
		for _, r := range log {
			for _, v := range []*float64{r.IdentityBefore, r.IdentityAfter, r.DeviceBefore, r.DeviceAfter, r.Theta} {
				if v != nil && (*v < 0 || *v > 1) {
					t.Errorf("AssertTrustBounded: run %d: %s step %d value %.6f not in [0,1]", res.Index, name, r.Step, *v)
					return
				}
			}
		}
	}
}

// AssertMetricRanges asserts that every per-run metric of every PDP lies in
// [0,1] and is not NaN.
func AssertMetricRanges(t *testing.T, res RunResult) {
	t.Helper()
	for name, m := range res.Metrics {
		for metric, v := range m.Values() {
			if !(v >= 0 && v <= 1) {
				t.Errorf("AssertMetricRanges: run %d: %s %s = %v not in [0,1]", res.Index, name, metric, v)
			}
		}
	}
}

// AssertSameLogs asserts that two runs produced identical decision logs.
func AssertSameLogs(t *testing.T, a, b RunResult) {
	t.Helper()
	if len(a.Logs) != len(b.Logs) {
		t.Fatalf("AssertSameLogs: %d logs vs %d", len(a.Logs), len(b.Logs))
	}
	for name, la := range a.Logs {
		lb, ok := b.Logs[name]
		if !ok {
			t.Errorf("AssertSameLogs: %s missing from second run", name)
			continue
		}
		if !reflect.DeepEqual(la, lb) {
			t.Errorf("AssertSameLogs: %s logs differ (first divergence at %d)", name, firstDivergence(la, lb))
		}
	}
}

func firstDivergence(a, b []models.Record) int {
	for i := range min(len(a), len(b)) {
		if !reflect.DeepEqual(a[i], b[i]) {
			return i
		}
	}
	return min(len(a), len(b))
}
