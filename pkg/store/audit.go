package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AppendConsolidationLog writes one audit row, minting an id when absent.
func (s *Store) AppendConsolidationLog(ctx context.Context, row *ConsolidationLogRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consolidation_log (id, project, cycle_type, cycle_id, phase, phase_duration_ms,
		                                vasanas_created, vidhis_created, samskaras_processed,
		                                sessions_processed, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		row.ID, row.Project, row.CycleType, row.CycleID, row.Phase, row.PhaseDurationMs,
		row.VasanasCreated, row.VidhisCreated, row.SamskarasProcessed,
		row.SessionsProcessed, row.Status, row.CreatedAt)
	return err
}

// ConsolidationLog returns project's audit rows for one cycle id, oldest
// first.
func (s *Store) ConsolidationLog(ctx context.Context, project, cycleID string) ([]ConsolidationLogRow, error) {
	var out []ConsolidationLogRow
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM consolidation_log
		 WHERE project = $1 AND cycle_id = $2
		 ORDER BY created_at ASC`,
		project, cycleID)
	return out, err
}

// UpsertNidraState updates the singleton daemon-state row, creating it on
// first use.
func (s *Store) UpsertNidraState(ctx context.Context, phase string, progress float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nidra_state (id, consolidation_phase, consolidation_progress, updated_at)
		 VALUES (1, $1, $2, now())
		 ON CONFLICT (id) DO UPDATE
		 SET consolidation_phase = EXCLUDED.consolidation_phase,
		     consolidation_progress = EXCLUDED.consolidation_progress,
		     updated_at = now()`,
		phase, progress)
	return err
}

// GetNidraState reads the singleton row, or nil if no cycle ever ran.
func (s *Store) GetNidraState(ctx context.Context) (*NidraState, error) {
	var st NidraState
	err := s.db.GetContext(ctx, &st, `SELECT * FROM nidra_state WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
