package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/islandcheck/internal/detect"
	"github.com/roach88/islandcheck/internal/digest"
	"github.com/roach88/islandcheck/internal/experiment"
)

// ErrNoReport is returned when a manifest without a report is recorded.
var ErrNoReport = errors.New("manifest has no report")

// RecordExperiment appends a finished experiment to the ledger.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: recording the same
// experiment twice is a no-op and returns false.
func (s *Store) RecordExperiment(ctx context.Context, root string, m *experiment.Manifest) (bool, error) {
	if m.Report == nil {
		return false, ErrNoReport
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("record experiment: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM experiments`).Scan(&seq); err != nil {
		return false, fmt.Errorf("record experiment: next seq: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO experiments
		(id, seq, created_at, root, fingerprint, strategy, output_name, input_count,
		 run_count, succeeded, verdict, report_digest, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		m.ID,
		seq,
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
		root,
		m.Fingerprint,
		string(m.Strategy),
		m.OutputName,
		len(m.Inputs),
		len(m.Runs),
		m.Report.Succeeded,
		string(m.Report.Verdict),
		m.Report.Digest,
		boolInt(m.Archived),
	)
	if err != nil {
		return false, fmt.Errorf("record experiment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	for _, r := range m.Runs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (experiment_id, run_index, status, binary_hash, map_hash, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ID, r.Index, string(r.Status), r.BinaryHash, r.MapHash, r.Error, r.Duration.Milliseconds())
		if err != nil {
			return false, fmt.Errorf("record run %d: %w", r.Index, err)
		}
	}

	if err := writeGroups(ctx, tx, m.ID, "binary", m.Report.Binary); err != nil {
		return false, err
	}
	if err := writeGroups(ctx, tx, m.ID, "map", m.Report.Map); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("record experiment: commit: %w", err)
	}
	return true, nil
}

func writeGroups(ctx context.Context, tx *sql.Tx, id, artifact string, set detect.GroupSet) error {
	for pos, g := range set.Groups {
		runs, err := digest.MarshalCanonical(g.Runs)
		if err != nil {
			return fmt.Errorf("record %s group: %w", artifact, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO artifact_groups (experiment_id, artifact, position, hash, runs)
			VALUES (?, ?, ?, ?, ?)
		`, id, artifact, pos, g.Hash, string(runs))
		if err != nil {
			return fmt.Errorf("record %s group: %w", artifact, err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
