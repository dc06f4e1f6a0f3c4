package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// InsertSamskara writes sk, minting an id when absent.
func (s *Store) InsertSamskara(ctx context.Context, sk *Samskara) error {
	if sk.ID == "" {
		sk.ID = uuid.NewString()
	}
	if sk.CreatedAt.IsZero() {
		sk.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samskaras (id, project, pattern_type, pattern_content, observation_count, confidence, session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sk.ID, sk.Project, sk.PatternType, sk.PatternContent,
		sk.ObservationCount, sk.Confidence, sk.SessionID, sk.CreatedAt)
	return err
}

// EligibleSamskaras returns the crystallization candidates: samskaras scoped
// to project (or globally) with at least minObservations and confidence
// strictly above minConfidence.
func (s *Store) EligibleSamskaras(ctx context.Context, project string, minObservations int, minConfidence float64) ([]Samskara, error) {
	var out []Samskara
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM samskaras
		 WHERE (project = $1 OR project IS NULL)
		   AND observation_count >= $2
		   AND confidence > $3
		 ORDER BY confidence DESC, created_at ASC`,
		project, minObservations, minConfidence)
	return out, err
}

// TopSamskaras returns project's highest-confidence samskaras created in
// [from, to).
func (s *Store) TopSamskaras(ctx context.Context, project string, from, to time.Time, limit int) ([]Samskara, error) {
	var out []Samskara
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM samskaras
		 WHERE (project = $1 OR project IS NULL)
		   AND created_at >= $2 AND created_at < $3
		 ORDER BY confidence DESC, observation_count DESC
		 LIMIT $4`,
		project, from, to, limit)
	return out, err
}

// FindVasanaByName returns the vasana named name scoped to project or
// globally, or nil when none exists.
func (s *Store) FindVasanaByName(ctx context.Context, project, name string) (*Vasana, error) {
	var v Vasana
	err := s.db.GetContext(ctx, &v,
		`SELECT * FROM vasanas
		 WHERE name = $1 AND (project = $2 OR project IS NULL)
		 ORDER BY project NULLS LAST
		 LIMIT 1`,
		name, project)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// InsertVasana writes v, minting an id when absent.
func (s *Store) InsertVasana(ctx context.Context, v *Vasana) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vasanas (id, project, name, description, valence, strength, stability,
		                      source_samskara_ids_json, activation_count, last_activated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11)`,
		v.ID, v.Project, v.Name, v.Description, v.Valence, v.Strength, v.Stability,
		jsonArg(v.SourceSamskaraIDsRaw, "[]"), v.ActivationCount, v.LastActivatedAt, v.CreatedAt)
	return err
}

// ReinforceVasana strengthens an existing vasana: raises strength (capped by
// the caller), bumps the activation counter, stamps last_activated_at, and
// replaces the source-samskara id set.
func (s *Store) ReinforceVasana(ctx context.Context, id string, strength float64, activatedAt time.Time, sourceIDs []string) error {
	v := Vasana{}
	v.SetSourceSamskaraIDs(sourceIDs)
	_, err := s.db.ExecContext(ctx,
		`UPDATE vasanas
		 SET strength = $2,
		     activation_count = activation_count + 1,
		     last_activated_at = $3,
		     source_samskara_ids_json = $4::jsonb
		 WHERE id = $1`,
		id, strength, activatedAt, jsonArg(v.SourceSamskaraIDsRaw, "[]"))
	return err
}

// VasanasCreatedIn returns project's vasanas created in [from, to).
func (s *Store) VasanasCreatedIn(ctx context.Context, project string, from, to time.Time) ([]Vasana, error) {
	var out []Vasana
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM vasanas
		 WHERE (project = $1 OR project IS NULL)
		   AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at ASC`,
		project, from, to)
	return out, err
}

// VidhiExists reports whether a vidhi with the derived id is already
// persisted.
func (s *Store) VidhiExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM vidhis WHERE id = $1`, id)
	return n > 0, err
}

// InsertVidhi writes v.
func (s *Store) InsertVidhi(ctx context.Context, v *Vidhi) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vidhis (id, project, name, steps_json, parameter_schema_json, trigger_phrases_json,
		                     confidence, success_count, failure_count, source_session_ids_json, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7, $8, $9, $10::jsonb, $11)`,
		v.ID, v.Project, v.Name,
		jsonArg(v.StepsRaw, "[]"), jsonArg(v.ParameterSchemaRaw, "{}"), jsonArg(v.TriggerPhrasesRaw, "[]"),
		v.Confidence, v.SuccessCount, v.FailureCount,
		jsonArg(v.SourceSessionIDsRaw, "[]"), v.CreatedAt)
	return err
}

// VidhisCreatedIn returns project's vidhis created in [from, to).
func (s *Store) VidhisCreatedIn(ctx context.Context, project string, from, to time.Time) ([]Vidhi, error) {
	var out []Vidhi
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM vidhis
		 WHERE project = $1 AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at ASC`,
		project, from, to)
	return out, err
}
