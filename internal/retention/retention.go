// Package retention prunes old experiment report directories under the
// output root.
package retention

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/pdpsim/internal/export"
)

// Report is one experiment directory.
type Report struct {
	Path      string
	ID        string
	Size      int64
	CreatedAt time.Time
}

// Policy decides which reports to keep. Input is sorted newest first.
type Policy interface {
	Apply(reports []Report) (keep []Report)
}

// CountPolicy keeps the N most recent reports.
type CountPolicy struct {
	MaxCount int
}

func (p *CountPolicy) Apply(reports []Report) []Report {
	if len(reports) <= p.MaxCount {
		return reports
	}
	return reports[:p.MaxCount]
}

// AgePolicy keeps reports created within MaxAge of Now.
type AgePolicy struct {
	MaxAge time.Duration
	Now    func() time.Time // nil means time.Now
}

func (p *AgePolicy) Apply(reports []Report) []Report {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	cutoff := now().Add(-p.MaxAge)
	var keep []Report
	for _, r := range reports {
		if r.CreatedAt.After(cutoff) {
			keep = append(keep, r)
		}
	}
	return keep
}

// SizePolicy keeps reports, newest first, until the total would exceed
// MaxTotalBytes. The newest report is always kept.
type SizePolicy struct {
	MaxTotalBytes int64
}

func (p *SizePolicy) Apply(reports []Report) []Report {
	var keep []Report
	var total int64
	for _, r := range reports {
		if total+r.Size > p.MaxTotalBytes && len(keep) > 0 {
			break
		}
		keep = append(keep, r)
		total += r.Size
	}
	return keep
}

// AnyPolicy keeps a report if any sub-policy keeps it.
type AnyPolicy []Policy

func (p AnyPolicy) Apply(reports []Report) []Report {
	kept := make(map[string]bool)
	for _, policy := range p {
		for _, r := range policy.Apply(reports) {
			kept[r.Path] = true
		}
	}
	var result []Report
	for _, r := range reports {
		if kept[r.Path] {
			result = append(result, r)
		}
	}
	return result
}

// NewPolicy builds the policy for the given limits. Zero or empty limits
// are ignored; with no limits set it returns nil and nothing is pruned.
func NewPolicy(keepLast int, maxAge, maxSize string) (Policy, error) {
	var policies AnyPolicy
	if keepLast < 0 {
		return nil, fmt.Errorf("keep_last must be non-negative, got %d", keepLast)
	}
	if keepLast > 0 {
		policies = append(policies, &CountPolicy{MaxCount: keepLast})
	}
	if maxAge != "" {
		d, err := ParseDuration(maxAge)
		if err != nil {
			return nil, fmt.Errorf("max_age: %w", err)
		}
		policies = append(policies, &AgePolicy{MaxAge: d})
	}
	if maxSize != "" {
		n, err := ParseSize(maxSize)
		if err != nil {
			return nil, fmt.Errorf("max_size: %w", err)
		}
		policies = append(policies, &SizePolicy{MaxTotalBytes: n})
	}
	switch len(policies) {
	case 0:
		return nil, nil
	case 1:
		return policies[0], nil
	default:
		return policies, nil
	}
}

// List returns the experiment directories directly under root, newest
// first. A directory counts when it holds run_metadata.json; its creation
// time is the metadata timestamp. A missing root yields no reports.
func List(root string) ([]Report, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading output directory: %w", err)
	}

	var reports []Report
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		data, err := os.ReadFile(filepath.Join(dir, export.MetadataFile))
		if err != nil {
			continue
		}
		var meta export.Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		size, err := dirSize(dir)
		if err != nil {
			return nil, err
		}
		reports = append(reports, Report{
			Path:      dir,
			ID:        meta.ExperimentID,
			Size:      size,
			CreatedAt: meta.Timestamp,
		})
	}

	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].CreatedAt.Equal(reports[j].CreatedAt) {
			return reports[i].CreatedAt.After(reports[j].CreatedAt)
		}
		return reports[i].Path > reports[j].Path
	})
	return reports, nil
}

// Prune removes the reports under root that policy does not keep. Paths in
// protect are never removed.
func Prune(root string, policy Policy, protect ...string) (deleted []string, err error) {
	if policy == nil {
		return nil, nil
	}
	reports, err := List(root)
	if err != nil {
		return nil, err
	}

	keepSet := make(map[string]bool, len(reports))
	for _, r := range policy.Apply(reports) {
		keepSet[r.Path] = true
	}
	for _, p := range protect {
		keepSet[filepath.Clean(p)] = true
	}

	for _, r := range reports {
		if keepSet[r.Path] {
			continue
		}
		if err := os.RemoveAll(r.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(r.Path), err)
		}
		deleted = append(deleted, r.Path)
	}
	return deleted, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sizing %s: %w", filepath.Base(dir), err)
	}
	return total, nil
}

// ParseDuration parses durations like "30d", "2w" or any time.ParseDuration
// form such as "720h".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	switch suffix {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}

// ParseSize parses sizes like "100MB", "1GB", "500KB" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Longer suffixes first so "MB" does not match "B".
	suffixes := []struct {
		suffix     string
		multiplier int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	}
	for _, ss := range suffixes {
		if numStr, ok := strings.CutSuffix(s, ss.suffix); ok {
			num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
			if err != nil || num < 0 {
				return 0, fmt.Errorf("invalid size: %q", s)
			}
			return num * ss.multiplier, nil
		}
	}
	return 0, fmt.Errorf("invalid size: %q (expected suffix: B, KB, MB, GB)", s)
}
