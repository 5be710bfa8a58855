package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/pdpsim/internal/models"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"TRACE", LevelTrace},
		{"debug", slog.LevelDebug},
		{"Debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range append([]string{"", "WARN"}, LevelNames...) {
		if !ValidLevel(s) {
			t.Errorf("ValidLevel(%q) = false, want true", s)
		}
	}
	if ValidLevel("verbose") {
		t.Error("ValidLevel(verbose) = true, want false")
	}
}

func TestNewLogger_Filtering(t *testing.T) {
	tests := []struct {
		level     string
		wantTrace bool
		wantDebug bool
		wantInfo  bool
	}{
		{"warn", false, false, false},
		{"info", false, false, true},
		{"debug", false, true, true},
		{"trace", true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)
			logger.Log(t.Context(), LevelTrace, "trace line")
			logger.Debug("debug line")
			logger.Info("info line")

			out := buf.String()
			for _, c := range []struct {
				msg  string
				want bool
			}{{"trace line", tt.wantTrace}, {"debug line", tt.wantDebug}, {"info line", tt.wantInfo}} {
				if got := strings.Contains(out, c.msg); got != c.want {
					t.Errorf("%q logged = %v, want %v (output %q)", c.msg, got, c.want, out)
				}
			}
		})
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("trace", &buf).Log(t.Context(), LevelTrace, "decision")
	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("output = %q, want level=TRACE", buf.String())
	}
}

func readTrace(t *testing.T, dir string) []TraceEntry {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, TraceFile))
	if err != nil {
		t.Fatalf("open trace: %v", err)
	}
	defer f.Close()

	var entries []TraceEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e TraceEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("invalid trace line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestNewRunTrace_DisabledAtInfo(t *testing.T) {
	for _, level := range []string{"", "info", "warn", "error"} {
		dir := t.TempDir()
		if tr := NewRunTrace(dir, level); tr != nil {
			tr.Close()
			t.Errorf("NewRunTrace(%q) = non-nil, want nil", level)
		}
		if _, err := os.Stat(filepath.Join(dir, TraceFile)); !os.IsNotExist(err) {
			t.Errorf("level %q created %s", level, TraceFile)
		}
	}
}

func TestRunTrace_DebugRecordsLifecycleOnly(t *testing.T) {
	dir := t.TempDir()
	tr := NewRunTrace(dir, "debug")
	if tr == nil {
		t.Fatal("NewRunTrace(debug) = nil")
	}
	if tr.Decisions() {
		t.Error("Decisions() = true at debug, want false")
	}

	tr.RunStart(3, 45, 500, 21)
	tr.Decision(3, models.Record{PDP: "baseline", Step: 1})
	tr.RunEnd(3, 45, 1500*time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries := readTrace(t, dir)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	start, end := entries[0], entries[1]
	if start.Event != EventRunStart || start.Run != 3 || start.Seed != 45 || start.Events != 500 || start.Attacks != 21 {
		t.Errorf("run_start entry = %+v", start)
	}
	if end.Event != EventRunEnd || end.DurationMS != 1500 {
		t.Errorf("run_end entry = %+v", end)
	}
	if start.Time.IsZero() {
		t.Error("entry has no time")
	}
}

func TestRunTrace_TraceRecordsDecisions(t *testing.T) {
	dir := t.TempDir()
	tr := NewRunTrace(dir, "trace")
	if !tr.Decisions() {
		t.Fatal("Decisions() = false at trace, want true")
	}

	tr.Decision(0, models.Record{
		PDP:      "securebank",
		Step:     7,
		Action:   models.ActionBlock,
		Reason:   "RISK_THRESHOLD",
		Risk:     0.81,
		IsAttack: true,
	})
	tr.Close()

	entries := readTrace(t, dir)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Event != EventDecision || e.PDP != "securebank" || e.Step != 7 || e.Action != models.ActionBlock || e.Risk != 0.81 || !e.Attack {
		t.Errorf("decision entry = %+v", e)
	}
}

func TestRunTrace_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	tr := NewRunTrace(dir, "trace")

	var wg sync.WaitGroup
	for run := range 8 {
		wg.Go(func() {
			for step := range 50 {
				tr.Decision(run, models.Record{PDP: "zerotrust", Step: step})
			}
		})
	}
	wg.Wait()
	tr.Close()

	if got := len(readTrace(t, dir)); got != 400 {
		t.Errorf("got %d entries, want 400", got)
	}
}

func TestRunTrace_Appends(t *testing.T) {
	dir := t.TempDir()
	for i := range 2 {
		tr := NewRunTrace(dir, "debug")
		tr.RunStart(i, int64(i), 10, 1)
		tr.Close()
	}
	if got := len(readTrace(t, dir)); got != 2 {
		t.Errorf("got %d entries, want 2", got)
	}
}

func TestRunTrace_NilAndClosed(t *testing.T) {
	var tr *RunTrace
	tr.RunStart(0, 1, 1, 0)
	tr.Decision(0, models.Record{})
	tr.RunEnd(0, 1, time.Second)
	if err := tr.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}

	dir := t.TempDir()
	tr = NewRunTrace(dir, "debug")
	tr.RunStart(0, 1, 1, 0)
	tr.Close()
	tr.RunStart(1, 2, 1, 0)
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if got := len(readTrace(t, dir)); got != 1 {
		t.Errorf("got %d entries, want 1", got)
	}
}

func TestNewRunTrace_CreatesDirPrivately(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exp", "nested")
	tr := NewRunTrace(dir, "debug")
	if tr == nil {
		t.Fatal("NewRunTrace() = nil for a missing directory")
	}
	tr.RunStart(0, 1, 1, 0)
	tr.Close()

	info, err := os.Stat(filepath.Join(dir, TraceFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("trace permissions = %o, want 0600", perm)
	}
}
