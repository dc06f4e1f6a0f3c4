package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InsertNode writes n, minting an id when absent.
func (s *Store) InsertNode(ctx context.Context, n *Node) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nodes (id, project, kind, label, properties_json, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		n.ID, n.Project, n.Kind, n.Label, jsonArg(n.PropertiesRaw, "{}"), n.CreatedAt)
	return err
}

// InsertEdge writes e, minting an id when absent.
func (s *Store) InsertEdge(ctx context.Context, e *Edge) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO edges (id, project, from_node_id, to_node_id, kind, properties_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		e.ID, e.Project, e.FromNodeID, e.ToNodeID, e.Kind, jsonArg(e.PropertiesRaw, "{}"), e.CreatedAt)
	return err
}

// CountNodesIn counts project's nodes created in [from, to).
func (s *Store) CountNodesIn(ctx context.Context, project string, from, to time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM nodes WHERE project = $1 AND created_at >= $2 AND created_at < $3`,
		project, from, to)
	return n, err
}

// CountEdgesIn counts project's edges created in [from, to).
func (s *Store) CountEdgesIn(ctx context.Context, project string, from, to time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM edges WHERE project = $1 AND created_at >= $2 AND created_at < $3`,
		project, from, to)
	return n, err
}
