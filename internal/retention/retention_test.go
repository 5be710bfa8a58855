package retention

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/pdpsim/internal/export"
)

func makeReports(n int, size int64) []Report {
	now := time.Now()
	reports := make([]Report, n)
	for i := range n {
		reports[i] = Report{
			Path:      fmt.Sprintf("/tmp/exp-%d", i),
			Size:      size,
			CreatedAt: now.Add(-time.Duration(i) * 24 * time.Hour),
		}
	}
	return reports
}

func writeReport(t *testing.T, root, name string, ts time.Time, payload int) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	meta := export.Metadata{Timestamp: ts, ExperimentID: name}
	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, export.MetadataFile), data, 0644); err != nil {
		t.Fatal(err)
	}
	if payload > 0 {
		if err := os.WriteFile(filepath.Join(dir, "decisions.jsonl"), []byte(strings.Repeat("x", payload)), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestCountPolicy(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		max   int
		wantN int
	}{
		{"keeps newest", 10, 3, 3},
		{"fewer than max", 2, 5, 2},
		{"exact", 4, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports := makeReports(tt.n, 100)
			keep := (&CountPolicy{MaxCount: tt.max}).Apply(reports)
			if len(keep) != tt.wantN {
				t.Fatalf("kept %d, want %d", len(keep), tt.wantN)
			}
			if keep[0].Path != reports[0].Path {
				t.Errorf("first kept = %s, want newest %s", keep[0].Path, reports[0].Path)
			}
		})
	}
}

func TestAgePolicy_RemovesOld(t *testing.T) {
	reports := makeReports(10, 100)
	now := reports[0].CreatedAt
	p := &AgePolicy{MaxAge: 72 * time.Hour, Now: func() time.Time { return now }}

	keep := p.Apply(reports)
	// Ages 0, 1 and 2 days fall within 72h; day 3 sits on the cutoff.
	if len(keep) != 3 {
		t.Errorf("kept %d, want 3", len(keep))
	}
}

func TestSizePolicy(t *testing.T) {
	reports := makeReports(10, 100)

	keep := (&SizePolicy{MaxTotalBytes: 350}).Apply(reports)
	if len(keep) != 3 {
		t.Errorf("kept %d, want 3", len(keep))
	}

	// The newest report survives even when it alone is over the limit.
	keep = (&SizePolicy{MaxTotalBytes: 10}).Apply(reports)
	if len(keep) != 1 || keep[0].Path != reports[0].Path {
		t.Errorf("kept %v, want only the newest", keep)
	}
}

func TestAnyPolicy_UnionKeep(t *testing.T) {
	reports := makeReports(10, 100)
	now := reports[0].CreatedAt

	p := AnyPolicy{
		&CountPolicy{MaxCount: 2},
		&AgePolicy{MaxAge: 5*24*time.Hour - time.Minute, Now: func() time.Time { return now }},
	}
	keep := p.Apply(reports)
	if len(keep) != 5 {
		t.Errorf("kept %d, want 5", len(keep))
	}
	for i, r := range keep {
		if r.Path != reports[i].Path {
			t.Errorf("keep[%d] = %s, want %s", i, r.Path, reports[i].Path)
		}
	}
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name     string
		keepLast int
		maxAge   string
		maxSize  string
		wantNil  bool
		wantErr  bool
	}{
		{"none", 0, "", "", true, false},
		{"count only", 5, "", "", false, false},
		{"all limits", 5, "30d", "1GB", false, false},
		{"negative count", -1, "", "", false, true},
		{"bad age", 0, "soon", "", false, true},
		{"bad size", 0, "", "lots", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy(tt.keepLast, tt.maxAge, tt.maxSize)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (p == nil) != tt.wantNil {
				t.Errorf("NewPolicy() = %v, wantNil %v", p, tt.wantNil)
			}
		})
	}
}

func TestList(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeReport(t, root, "old", base, 10)
	writeReport(t, root, "new", base.Add(2*time.Hour), 20)
	writeReport(t, root, "mid", base.Add(time.Hour), 0)

	// Not experiments.
	if err := os.MkdirAll(filepath.Join(root, "scratch"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "pdpsim.db"), []byte("db"), 0644); err != nil {
		t.Fatal(err)
	}

	reports, err := List(root)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var ids []string
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	if got := strings.Join(ids, ","); got != "new,mid,old" {
		t.Errorf("List() order = %s, want new,mid,old", got)
	}
	if reports[0].Size <= reports[1].Size {
		t.Errorf("size of new = %d, want larger than mid %d", reports[0].Size, reports[1].Size)
	}
}

func TestList_MissingRoot(t *testing.T) {
	reports, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(reports) != 0 {
		t.Errorf("List() = %v, want empty", reports)
	}
}

func TestPrune_DeletesUnkept(t *testing.T) {
	root := t.TempDir()
	base := time.Now().UTC()
	var dirs []string
	for i := range 4 {
		dirs = append(dirs, writeReport(t, root, fmt.Sprintf("exp%d", i), base.Add(-time.Duration(i)*time.Hour), 0))
	}

	deleted, err := Prune(root, &CountPolicy{MaxCount: 2})
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("deleted %d, want 2", len(deleted))
	}
	for i, d := range dirs {
		_, err := os.Stat(d)
		exists := err == nil
		if want := i < 2; exists != want {
			t.Errorf("%s exists = %v, want %v", filepath.Base(d), exists, want)
		}
	}
}

func TestPrune_Protected(t *testing.T) {
	root := t.TempDir()
	base := time.Now().UTC()
	current := writeReport(t, root, "current", base.Add(-48*time.Hour), 0)
	writeReport(t, root, "newer", base, 0)

	deleted, err := Prune(root, &CountPolicy{MaxCount: 1}, current)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("deleted = %v, want none", deleted)
	}
	if _, err := os.Stat(current); err != nil {
		t.Errorf("protected directory removed: %v", err)
	}
}

func TestPrune_NilPolicy(t *testing.T) {
	root := t.TempDir()
	writeReport(t, root, "exp", time.Now(), 0)
	deleted, err := Prune(root, nil)
	if err != nil || len(deleted) != 0 {
		t.Errorf("Prune(nil) = %v, %v, want nothing", deleted, err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"720h", 720 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"", 0, true},
		{"d", 0, true},
		{"5y", 0, true},
		{"xd", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"100MB", 100 << 20, false},
		{"1GB", 1 << 30, false},
		{"500KB", 500 << 10, false},
		{"42B", 42, false},
		{" 2 GB ", 2 << 30, false},
		{"", 0, true},
		{"100", 0, true},
		{"-1MB", 0, true},
		{"xMB", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSize(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
