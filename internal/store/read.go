package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/islandcheck/internal/detect"
)

// ErrNotFound is returned when an experiment ID is not in the ledger.
var ErrNotFound = errors.New("experiment not found")

// ExperimentRecord is one row of the experiments table.
type ExperimentRecord struct {
	ID           string         `json:"id"`
	Seq          int64          `json:"seq"`
	CreatedAt    time.Time      `json:"created_at"`
	Root         string         `json:"root"`
	Fingerprint  string         `json:"fingerprint"`
	Strategy     string         `json:"strategy"`
	OutputName   string         `json:"output_name"`
	InputCount   int            `json:"input_count"`
	RunCount     int            `json:"run_count"`
	Succeeded    int            `json:"succeeded"`
	Verdict      detect.Verdict `json:"verdict"`
	ReportDigest string         `json:"report_digest"`
	Archived     bool           `json:"archived"`
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	Index      int    `json:"index"`
	Status     string `json:"status"`
	BinaryHash string `json:"binary_hash,omitempty"`
	MapHash    string `json:"map_hash,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Detail is an experiment with its runs and hash groups.
type Detail struct {
	Experiment ExperimentRecord `json:"experiment"`
	Runs       []RunRecord      `json:"runs"`
	Binary     detect.GroupSet  `json:"binary"`
	Map        detect.GroupSet  `json:"map"`
}

const experimentColumns = `
	id, seq, created_at, root, fingerprint, strategy, output_name, input_count,
	run_count, succeeded, verdict, report_digest, archived`

// ListExperiments returns the most recent limit experiments (all when
// limit <= 0), oldest first.
func (s *Store) ListExperiments(ctx context.Context, limit int) ([]ExperimentRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+experimentColumns+` FROM (
			SELECT * FROM experiments ORDER BY seq DESC, id COLLATE BINARY DESC LIMIT ?
		)
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return scanExperiments(rows)
}

// ExperimentsByFingerprint returns every experiment that linked the input
// set identified by fingerprint, oldest first.
func (s *Store) ExperimentsByFingerprint(ctx context.Context, fingerprint string) ([]ExperimentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+experimentColumns+` FROM experiments
		WHERE fingerprint = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("query experiments: %w", err)
	}
	return scanExperiments(rows)
}

// GetExperiment loads one experiment with its runs and groups.
func (s *Store) GetExperiment(ctx context.Context, id string) (*Detail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = ?`, id)
	rec, err := scanExperiment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	d := &Detail{Experiment: rec}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_index, status, binary_hash, map_hash, error, duration_ms
		FROM runs WHERE experiment_id = ?
		ORDER BY run_index ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	d.Runs = []RunRecord{}
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.Index, &r.Status, &r.BinaryHash, &r.MapHash, &r.Error, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		d.Runs = append(d.Runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	if d.Binary, err = s.readGroups(ctx, id, "binary"); err != nil {
		return nil, err
	}
	if d.Map, err = s.readGroups(ctx, id, "map"); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) readGroups(ctx context.Context, id, artifact string) (detect.GroupSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, runs FROM artifact_groups
		WHERE experiment_id = ? AND artifact = ?
		ORDER BY position ASC
	`, id, artifact)
	if err != nil {
		return detect.GroupSet{}, fmt.Errorf("query %s groups: %w", artifact, err)
	}
	defer rows.Close()

	var set detect.GroupSet
	for rows.Next() {
		var g detect.Group
		var runs string
		if err := rows.Scan(&g.Hash, &runs); err != nil {
			return detect.GroupSet{}, fmt.Errorf("scan %s group: %w", artifact, err)
		}
		if err := json.Unmarshal([]byte(runs), &g.Runs); err != nil {
			return detect.GroupSet{}, fmt.Errorf("decode %s group runs: %w", artifact, err)
		}
		set.Groups = append(set.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return detect.GroupSet{}, fmt.Errorf("iterate %s groups: %w", artifact, err)
	}
	return set, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row scanner) (ExperimentRecord, error) {
	var (
		r        ExperimentRecord
		created  string
		verdict  string
		archived int
	)
	err := row.Scan(&r.ID, &r.Seq, &created, &r.Root, &r.Fingerprint, &r.Strategy, &r.OutputName,
		&r.InputCount, &r.RunCount, &r.Succeeded, &verdict, &r.ReportDigest, &archived)
	if err != nil {
		return r, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return r, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	r.CreatedAt = t
	r.Verdict = detect.Verdict(verdict)
	r.Archived = archived != 0
	return r, nil
}

func scanExperiments(rows *sql.Rows) ([]ExperimentRecord, error) {
	defer rows.Close()
	out := []ExperimentRecord{}
	for rows.Next() {
		r, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate experiments: %w", err)
	}
	return out, nil
}
