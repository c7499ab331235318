// Package postgres is the reference Store implementation for
// infrastructure/audit: a durable, append-only audit_log table, queried
// through jmoiron/sqlx over database/sql + lib/pq (SPEC_FULL.md §7).
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sagexd08/autofi-core/infrastructure/audit"
)

// Store implements audit.Store against a PostgreSQL database.
type Store struct {
	db *sqlx.DB
}

var _ audit.Store = (*Store)(nil)

// New wraps an existing sqlx.DB. Callers that only have a DSN can use Open
// instead.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, runs the embedded migrations, and returns a ready
// Store. Callers that manage their own *sql.DB lifecycle should use New
// with Migrate instead.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

type row struct {
	ID           string    `db:"id"`
	ResourceType string    `db:"resource_type"`
	ResourceID   string    `db:"resource_id"`
	Action       string    `db:"action"`
	Actor        string    `db:"actor"`
	FromState    string    `db:"from_state"`
	ToState      string    `db:"to_state"`
	Metadata     []byte    `db:"metadata"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r row) toEntry() audit.Entry {
	e := audit.Entry{
		ID:           r.ID,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		Action:       r.Action,
		Actor:        r.Actor,
		FromState:    r.FromState,
		ToState:      r.ToState,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &e.Metadata)
	}
	return e
}

// Append implements audit.Store.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	if e.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, resource_type, resource_id, action, actor, from_state, to_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.ResourceType, e.ResourceID, e.Action, e.Actor, e.FromState, e.ToState, metadataJSON, e.CreatedAt)
	return err
}

// ListByResource implements audit.Store.
func (s *Store) ListByResource(ctx context.Context, resourceType, resourceID string) ([]audit.Entry, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, resource_type, resource_id, action, actor, from_state, to_state, metadata, created_at
		FROM audit_log WHERE resource_type = $1 AND resource_id = $2 ORDER BY created_at ASC
	`, resourceType, resourceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return toEntries(rows), nil
}

// ListRecent implements audit.Store.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, resource_type, resource_id, action, actor, from_state, to_state, metadata, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

func toEntries(rows []row) []audit.Entry {
	out := make([]audit.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.toEntry()
	}
	return out
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
