// Package postgres implements the flow repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/pkg/serialization"
)

// FlowStore persists flow documents in PostgreSQL. The promote/demote
// pair in SetActive runs inside a single transaction, which is what gives
// the "at most one live flow per owner" invariant its atomicity across
// concurrent activations.
type FlowStore struct {
	pool       *pgxpool.Pool
	serializer *serialization.FlowSerializer
	tableName  string
}

// NewFlowStore creates a PostgreSQL flow store.
func NewFlowStore(pool *pgxpool.Pool, serializer *serialization.FlowSerializer) *FlowStore {
	if serializer == nil {
		serializer = serialization.Default()
	}
	return &FlowStore{
		pool:       pool,
		serializer: serializer,
		tableName:  "flows",
	}
}

// CreateTables creates the necessary database tables.
func (s *FlowStore) CreateTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			document BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%s_owner_id ON %s (owner_id);
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status);
	`, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Save upserts a flow document.
func (s *FlowStore) Save(ctx context.Context, f *flow.Flow) error {
	if f == nil {
		return flow.ErrFlowNotFound
	}
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid flow: %w", err)
	}
	data, err := s.serializer.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to serialize flow: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, status, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			status = EXCLUDED.status,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`, s.tableName)

	_, err = s.pool.Exec(ctx, query,
		f.ID, f.OwnerID, string(f.Status), data, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

// Get loads a flow by ID.
func (s *FlowStore) Get(ctx context.Context, id string) (*flow.Flow, error) {
	query := fmt.Sprintf("SELECT document FROM %s WHERE id = $1", s.tableName)

	var data []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, flow.ErrFlowNotFound
		}
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	return s.serializer.Unmarshal(data)
}

// ListByOwner returns the owner's flows ordered by creation time.
func (s *FlowStore) ListByOwner(ctx context.Context, ownerID string) ([]*flow.Flow, error) {
	query := fmt.Sprintf(
		"SELECT document FROM %s WHERE owner_id = $1 ORDER BY created_at ASC, id ASC", s.tableName)

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []*flow.Flow
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan flow row: %w", err)
		}
		f, err := s.serializer.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// SetActive promotes flowID and demotes the owner's other live flows in
// one transaction. Row locks taken by FOR UPDATE serialize concurrent
// activations for the same owner.
func (s *FlowStore) SetActive(ctx context.Context, ownerID, flowID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	updateQuery := fmt.Sprintf(
		"UPDATE %s SET status = $1, document = $2, updated_at = $3 WHERE id = $4", s.tableName)

	demoteQuery := fmt.Sprintf(
		"SELECT id, document FROM %s WHERE owner_id = $1 AND status = $2 AND id != $3 FOR UPDATE",
		s.tableName)
	rows, err := tx.Query(ctx, demoteQuery, ownerID, string(flow.StatusLive), flowID)
	if err != nil {
		return fmt.Errorf("failed to query live flows: %w", err)
	}
	type demotion struct {
		id   string
		data []byte
	}
	var demotions []demotion
	for rows.Next() {
		var d demotion
		if err := rows.Scan(&d.id, &d.data); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan live flow: %w", err)
		}
		demotions = append(demotions, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, d := range demotions {
		f, err := s.serializer.Unmarshal(d.data)
		if err != nil {
			return err
		}
		f.Status = flow.StatusDraft
		f.UpdatedAt = now
		data, err := s.serializer.Marshal(f)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, updateQuery, string(flow.StatusDraft), data, now, d.id); err != nil {
			return fmt.Errorf("failed to demote flow %s: %w", d.id, err)
		}
	}

	var data []byte
	getQuery := fmt.Sprintf(
		"SELECT document FROM %s WHERE id = $1 AND owner_id = $2 FOR UPDATE", s.tableName)
	if err := tx.QueryRow(ctx, getQuery, flowID, ownerID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return flow.ErrFlowNotFound
		}
		return fmt.Errorf("failed to load flow: %w", err)
	}
	f, err := s.serializer.Unmarshal(data)
	if err != nil {
		return err
	}
	f.Status = flow.StatusLive
	f.UpdatedAt = now
	promoted, err := s.serializer.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, updateQuery, string(flow.StatusLive), promoted, now, flowID); err != nil {
		return fmt.Errorf("failed to promote flow %s: %w", flowID, err)
	}

	return tx.Commit(ctx)
}

// Delete removes a flow by ID.
func (s *FlowStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.tableName)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return flow.ErrFlowNotFound
	}
	return nil
}

// Close releases the connection pool.
func (s *FlowStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
