package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// RemoteStore is the authoritative per-identity store. FetchSnapshot returns
// ErrSnapshotNotFound when the identity has never saved.
type RemoteStore interface {
	FetchSnapshot(ctx context.Context, identity string) (*Snapshot, error)
	UpsertSnapshot(ctx context.Context, identity string, snap *Snapshot) error
}

const createSnapshotsTable = `CREATE TABLE IF NOT EXISTS questionnaire_snapshots (
	identity   TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	completed  BOOLEAN NOT NULL DEFAULT FALSE,
	payload    JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const selectSnapshot = `SELECT payload FROM questionnaire_snapshots WHERE identity = $1`

const upsertSnapshot = `INSERT INTO questionnaire_snapshots (identity, session_id, completed, payload, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (identity) DO UPDATE SET
	session_id = EXCLUDED.session_id,
	completed  = EXCLUDED.completed,
	payload    = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`

// PostgresStore keeps one row per identity; saves overwrite (last write wins).
type PostgresStore struct {
	db    *sql.DB
	codec *Codec
}

func NewPostgresStore(db *sql.DB, codec *Codec) *PostgresStore {
	return &PostgresStore{db: db, codec: codec}
}

// EnsureSchema creates the snapshots table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSnapshotsTable); err != nil {
		return fmt.Errorf("create questionnaire_snapshots: %w", err)
	}
	return nil
}

func (s *PostgresStore) FetchSnapshot(ctx context.Context, identity string) (*Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, selectSnapshot, identity).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	return s.codec.Decode(payload)
}

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, identity string, snap *Snapshot) error {
	payload, err := s.codec.Encode(snap)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertSnapshot,
		identity, snap.SessionID, snap.Completed, string(payload), snap.UpdatedAt); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// MemoryStore is a RemoteStore for development profiles and tests. Snapshots
// are stored encoded so callers never share memory with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	rows  map[string][]byte
	codec *Codec
}

func NewMemoryStore(codec *Codec) *MemoryStore {
	return &MemoryStore{rows: make(map[string][]byte), codec: codec}
}

func (m *MemoryStore) FetchSnapshot(ctx context.Context, identity string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.rows[identity]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return m.codec.Decode(data)
}

func (m *MemoryStore) UpsertSnapshot(ctx context.Context, identity string, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := m.codec.Encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.rows[identity] = data
	m.mu.Unlock()
	return nil
}
