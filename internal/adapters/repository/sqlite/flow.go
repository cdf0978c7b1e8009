// Package sqlite implements the flow repository on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stepflow/stepflow/internal/core/flow"
	"github.com/stepflow/stepflow/pkg/serialization"
)

// FlowStore persists flow documents as serialized blobs with denormalized
// owner/status columns for querying. SetActive runs the promote/demote
// pair inside one transaction.
type FlowStore struct {
	db         *sql.DB
	serializer *serialization.FlowSerializer
	tableName  string
}

// NewFlowStore creates a SQLite flow store.
func NewFlowStore(db *sql.DB, serializer *serialization.FlowSerializer) *FlowStore {
	if serializer == nil {
		serializer = serialization.Default()
	}
	return &FlowStore{
		db:         db,
		serializer: serializer,
		tableName:  "flows",
	}
}

// WithTableName overrides the default table name.
// Only alphanumeric and underscore are permitted to prevent SQL injection
// via identifiers.
func (s *FlowStore) WithTableName(name string) *FlowStore {
	if isSafeIdent(name) {
		s.tableName = name
	}
	return s
}

func isSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}

// CreateTables creates the necessary database tables.
func (s *FlowStore) CreateTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			document BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%s_owner_id ON %s (owner_id);
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status);
	`, s.tableName, s.tableName, s.tableName, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
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
		INSERT OR REPLACE INTO %s (id, owner_id, status, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.tableName)

	_, err = s.db.ExecContext(ctx, query,
		f.ID, f.OwnerID, string(f.Status), data, f.CreatedAt.Unix(), f.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

// Get loads a flow by ID.
func (s *FlowStore) Get(ctx context.Context, id string) (*flow.Flow, error) {
	query := fmt.Sprintf("SELECT document FROM %s WHERE id = ?", s.tableName)

	var data []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, flow.ErrFlowNotFound
		}
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	return s.serializer.Unmarshal(data)
}

// ListByOwner returns the owner's flows ordered by creation time.
func (s *FlowStore) ListByOwner(ctx context.Context, ownerID string) ([]*flow.Flow, error) {
	query := fmt.Sprintf(
		"SELECT document FROM %s WHERE owner_id = ? ORDER BY created_at ASC, id ASC", s.tableName)

	rows, err := s.db.QueryContext(ctx, query, ownerID)
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
// one transaction; a failure rolls back both halves.
func (s *FlowStore) SetActive(ctx context.Context, ownerID, flowID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Demote every other live flow of the owner. The document blob holds
	// the status too, so each one is rewritten rather than column-patched.
	demoteQuery := fmt.Sprintf(
		"SELECT id, document FROM %s WHERE owner_id = ? AND status = ? AND id != ?", s.tableName)
	rows, err := tx.QueryContext(ctx, demoteQuery, ownerID, string(flow.StatusLive), flowID)
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

	updateQuery := fmt.Sprintf(
		"UPDATE %s SET status = ?, document = ?, updated_at = ? WHERE id = ?", s.tableName)
	now := time.Now()
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
		if _, err := tx.ExecContext(ctx, updateQuery, string(flow.StatusDraft), data, now.Unix(), d.id); err != nil {
			return fmt.Errorf("failed to demote flow %s: %w", d.id, err)
		}
	}

	// Promote the target, verifying existence and ownership.
	var data []byte
	getQuery := fmt.Sprintf("SELECT document FROM %s WHERE id = ? AND owner_id = ?", s.tableName)
	if err := tx.QueryRowContext(ctx, getQuery, flowID, ownerID).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
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
	if _, err := tx.ExecContext(ctx, updateQuery, string(flow.StatusLive), promoted, now.Unix(), flowID); err != nil {
		return fmt.Errorf("failed to promote flow %s: %w", flowID, err)
	}

	return tx.Commit()
}

// Delete removes a flow by ID.
func (s *FlowStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tableName)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return flow.ErrFlowNotFound
	}
	return nil
}

// Close closes the database connection.
func (s *FlowStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
