package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nvandessel/pdpsim/internal/models"
)

func TestObserveLog(t *testing.T) {
	c := New()
	log := []models.Record{
		{Action: models.ActionAllow, IdentityAfter: models.Float(0.9)},
		{Action: models.ActionAllow, IsAttack: true, IdentityAfter: models.Float(0.7)},
		{Action: models.ActionBlock, IsAttack: true, IdentityAfter: models.Float(0.5)},
		{Action: models.ActionStepUp, IsAttack: true},
	}
	c.ObserveLog("securebank", log)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"allow", testutil.ToFloat64(c.decisions.WithLabelValues("securebank", "allow")), 2},
		{"block", testutil.ToFloat64(c.decisions.WithLabelValues("securebank", "block")), 1},
		{"blocked attacks", testutil.ToFloat64(c.attacks.WithLabelValues("securebank", OutcomeBlocked)), 1},
		{"missed attacks", testutil.ToFloat64(c.attacks.WithLabelValues("securebank", OutcomeMissed)), 1},
		{"stepped-up attacks", testutil.ToFloat64(c.attacks.WithLabelValues("securebank", OutcomeStepUp)), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	mean := testutil.ToFloat64(c.identityTrust.WithLabelValues("securebank"))
	if mean < 0.6999 || mean > 0.7001 {
		t.Errorf("identity trust mean = %v, want 0.7", mean)
	}
}

func TestObserveLog_NoTrustLeavesGaugeUnset(t *testing.T) {
	c := New()
	c.ObserveLog("baseline", []models.Record{{Action: models.ActionAllow}})
	if n := testutil.CollectAndCount(c.identityTrust); n != 0 {
		t.Errorf("identity trust series = %d, want 0", n)
	}
}

func TestObserveRun(t *testing.T) {
	c := New()
	c.ObserveRun(150 * time.Millisecond)
	c.ObserveRun(250 * time.Millisecond)
	if got := testutil.ToFloat64(c.runsCompleted); got != 2 {
		t.Errorf("runs completed = %v, want 2", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	c := New()
	c.ObserveLog("baseline", []models.Record{{Action: models.ActionBlock, IsAttack: true}})
	c.ObserveRun(time.Second)

	path := filepath.Join(t.TempDir(), TextfileName)
	if err := c.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	for _, want := range []string{
		`pdpsim_decisions_total{action="block",pdp="baseline"} 1`,
		`pdpsim_attacks_total{outcome="blocked",pdp="baseline"} 1`,
		"pdpsim_runs_completed_total 1",
		"pdpsim_run_duration_seconds_count 1",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("telemetry missing %q", want)
		}
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveLog("baseline", []models.Record{{Action: models.ActionAllow}})
	c.ObserveRun(time.Second)
	if err := c.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("nil WriteTextfile() error = %v", err)
	}
	if c.Registry() != nil {
		t.Error("nil collector returned a registry")
	}
}
