package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/pdpsim/internal/simulation"
)

// SQLiteStore implements Store on a SQLite database file.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// Open opens (creating when needed) the experiment store at path.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

// SaveExperiment implements Store.
func (s *SQLiteStore) SaveExperiment(ctx context.Context, meta Experiment, exp *simulation.Experiment, agg simulation.Aggregate) error {
	if meta.ID == "" {
		return fmt.Errorf("experiment ID is required")
	}

	pdps, err := json.Marshal(meta.PDPs)
	if err != nil {
		return fmt.Errorf("marshal pdps: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO experiments (id, name, description, created_at, seed, num_runs, num_events,
			num_users, num_devices, pdps, config_digest, config, output_dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.Name, meta.Description, meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		meta.Seed, meta.NumRuns, meta.NumEvents, meta.NumUsers, meta.NumDevices,
		string(pdps), meta.ConfigDigest, nullString(string(meta.Config)), meta.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to insert experiment %s: %w", meta.ID, err)
	}

	for _, r := range exp.Runs {
		warnings, err := json.Marshal(r.Warnings)
		if err != nil {
			return fmt.Errorf("marshal warnings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO runs (experiment_id, run_index, seed, total_events, total_attacks, duration_ms, warnings)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			meta.ID, r.Index, r.Seed, r.TotalEvents, r.TotalAttacks, r.Duration.Milliseconds(), string(warnings)); err != nil {
			return fmt.Errorf("failed to insert run %d: %w", r.Index, err)
		}
	}

	metricStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_metrics (experiment_id, run_index, pdp, metric, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare run metric insert: %w", err)
	}
	defer metricStmt.Close()
	for _, m := range runMetricRows(exp) {
		if _, err := metricStmt.ExecContext(ctx, meta.ID, m.RunIndex, m.PDP, m.Metric, m.Value); err != nil {
			return fmt.Errorf("failed to insert run metric: %w", err)
		}
	}

	for _, a := range AggregateRows(agg) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO aggregates (experiment_id, metric, pdp, mean, std, n, ci95_low, ci95_high,
				cohens_d, p_value, test, significant)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meta.ID, a.Metric, a.PDP, a.Mean, a.Std, a.N, a.CI95Low, a.CI95High,
			nullFloat(a.CohensD), nullFloat(a.PValue), nullString(a.Test), boolToInt(a.Significant)); err != nil {
			return fmt.Errorf("failed to insert aggregate %s/%s: %w", a.Metric, a.PDP, err)
		}
	}

	return tx.Commit()
}

// ListExperiments implements Store.
func (s *SQLiteStore) ListExperiments(ctx context.Context, limit int) ([]Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + experimentColumns + ` FROM experiments ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetExperiment implements Store.
func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	e, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, err
}

// Aggregates implements Store.
func (s *SQLiteStore) Aggregates(ctx context.Context, id string) ([]Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT metric, pdp, mean, std, n, ci95_low, ci95_high, cohens_d, p_value, test, significant
		FROM aggregates WHERE experiment_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var out []Aggregate
	for rows.Next() {
		var (
			a           Aggregate
			d, p        sql.NullFloat64
			test        sql.NullString
			significant int
		)
		if err := rows.Scan(&a.Metric, &a.PDP, &a.Mean, &a.Std, &a.N, &a.CI95Low, &a.CI95High,
			&d, &p, &test, &significant); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		a.CohensD = floatPtr(d)
		a.PValue = floatPtr(p)
		a.Test = test.String
		a.Significant = significant != 0
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortAggregates(out)
	return out, nil
}

// RunMetrics implements Store.
func (s *SQLiteStore) RunMetrics(ctx context.Context, id string) ([]RunMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_index, pdp, metric, value FROM run_metrics
		WHERE experiment_id = ? ORDER BY run_index, pdp, metric`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run metrics: %w", err)
	}
	defer rows.Close()

	var out []RunMetric
	for rows.Next() {
		var m RunMetric
		if err := rows.Scan(&m.RunIndex, &m.PDP, &m.Metric, &m.Value); err != nil {
			return nil, fmt.Errorf("failed to scan run metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

const experimentColumns = `id, name, description, created_at, seed, num_runs, num_events,
	num_users, num_devices, pdps, config_digest, config, output_dir`

type scanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row scanner) (*Experiment, error) {
	var (
		e                           Experiment
		description, config, outDir sql.NullString
		createdAt, pdps             string
	)
	err := row.Scan(&e.ID, &e.Name, &description, &createdAt, &e.Seed, &e.NumRuns, &e.NumEvents,
		&e.NumUsers, &e.NumDevices, &pdps, &e.ConfigDigest, &config, &outDir)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan experiment: %w", err)
	}
	e.Description = description.String
	e.OutputDir = outDir.String
	if config.Valid {
		e.Config = json.RawMessage(config.String)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(pdps), &e.PDPs); err != nil {
		return nil, fmt.Errorf("parse pdps of %s: %w", e.ID, err)
	}
	return &e, nil
}

func sortAggregates(rows []Aggregate) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Metric != rows[j].Metric {
			return rows[i].Metric < rows[j].Metric
		}
		return rows[i].PDP < rows[j].PDP
	})
}

func sortRunMetrics(rows []RunMetric) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.RunIndex != b.RunIndex {
			return a.RunIndex < b.RunIndex
		}
		if a.PDP != b.PDP {
			return a.PDP < b.PDP
		}
		return a.Metric < b.Metric
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
