// Package logging provides the leveled operational logger and the per-run
// JSONL trace of an experiment.
//
// Operational output is a slog.Logger on stderr. Below info level an
// experiment also writes <experiment>/trace.jsonl: run lifecycle entries at
// debug and one entry per PDP decision at trace.
package logging

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/pdpsim/internal/models"
)

// LevelTrace sits below Debug and enables per-decision trace entries.
const LevelTrace = slog.LevelDebug - 4

// TraceFile is the name of the trace written into an experiment directory.
const TraceFile = "trace.jsonl"

// Level names accepted in configuration, most verbose first.
var LevelNames = []string{"trace", "debug", "info", "warn", "error"}

var levels = map[string]slog.Level{
	"trace": LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a level name to a slog.Level, case-insensitive.
// Unknown and empty names are info.
func ParseLevel(s string) slog.Level {
	if lvl, ok := levels[strings.ToLower(s)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// ValidLevel reports whether s is empty or one of LevelNames.
func ValidLevel(s string) bool {
	if s == "" {
		return true
	}
	_, ok := levels[strings.ToLower(s)]
	return ok
}

// NewLogger returns a text slog.Logger writing to w at the named level.
// Records at LevelTrace print as TRACE.
func NewLogger(level string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: renameTrace,
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func renameTrace(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Trace entry kinds.
const (
	EventRunStart = "run_start"
	EventRunEnd   = "run_end"
	EventDecision = "decision"
)

// TraceEntry is one line of trace.jsonl. Fields not relevant to the entry
// kind are omitted.
type TraceEntry struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Run   int       `json:"run"`

	// run_start and run_end
	Seed       int64 `json:"seed,omitempty"`
	Events     int   `json:"events,omitempty"`
	Attacks    int   `json:"attacks,omitempty"`
	DurationMS int64 `json:"duration_ms,omitempty"`

	// decision
	PDP      string          `json:"pdp,omitempty"`
	Step     int             `json:"step,omitempty"`
	Action   models.Action   `json:"action,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Risk     float64         `json:"risk,omitempty"`
	Attack   bool            `json:"attack,omitempty"`
	Scenario models.Scenario `json:"scenario,omitempty"`
}

// RunTrace appends TraceEntry lines to trace.jsonl. It is safe for
// concurrent use. A nil RunTrace is valid and records nothing.
type RunTrace struct {
	mu        sync.Mutex
	file      *os.File
	w         *bufio.Writer
	decisions bool
	now       func() time.Time
}

// NewRunTrace opens dir/trace.jsonl for append when level is debug or
// trace. At info and above, or when the file cannot be opened, it returns
// nil and creates nothing.
func NewRunTrace(dir, level string) *RunTrace {
	lvl := ParseLevel(level)
	if lvl > slog.LevelDebug {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, TraceFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &RunTrace{
		file:      f,
		w:         bufio.NewWriter(f),
		decisions: lvl <= LevelTrace,
		now:       time.Now,
	}
}

// Decisions reports whether per-decision entries are recorded.
func (t *RunTrace) Decisions() bool {
	return t != nil && t.decisions
}

// RunStart records the start of run idx.
func (t *RunTrace) RunStart(idx int, seed int64, events, attacks int) {
	t.write(TraceEntry{Event: EventRunStart, Run: idx, Seed: seed, Events: events, Attacks: attacks})
}

// RunEnd records the end of run idx.
func (t *RunTrace) RunEnd(idx int, seed int64, d time.Duration) {
	t.write(TraceEntry{Event: EventRunEnd, Run: idx, Seed: seed, DurationMS: d.Milliseconds()})
}

// Decision records one PDP decision of run idx. It is a no-op unless
// Decisions reports true.
func (t *RunTrace) Decision(idx int, r models.Record) {
	if !t.Decisions() {
		return
	}
	t.write(TraceEntry{
		Event:    EventDecision,
		Run:      idx,
		PDP:      r.PDP,
		Step:     r.Step,
		Action:   r.Action,
		Reason:   r.Reason,
		Risk:     r.Risk,
		Attack:   r.IsAttack,
		Scenario: r.Scenario,
	})
}

func (t *RunTrace) write(e TraceEntry) {
	if t == nil {
		return
	}
	e.Time = t.now().UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return
	}
	_, _ = t.w.Write(data)
	_ = t.w.WriteByte('\n')
}

// Close flushes buffered entries and closes the file. Later writes are
// dropped.
func (t *RunTrace) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return nil
	}
	flushErr := t.w.Flush()
	closeErr := t.file.Close()
	t.w, t.file = nil, nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
