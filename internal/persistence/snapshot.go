package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"PerpExchange/internal/exchange"
)

// SnapshotStore persists full accounting state snapshots. Each snapshot
// carries a blake3 digest of its serialized form; a digest mismatch on
// load means the row is corrupt and recovery must fall back to an older
// snapshot.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Save writes one snapshot row and returns its size in bytes.
func (s *SnapshotStore) Save(ctx context.Context, snap exchange.StateSnapshot) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	digest := blake3.Sum256(data)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO perp_exchange.snapshots
			(snapshot_id, digest, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), digest[:], data, len(data), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return len(data), nil
}

// LoadLatest loads the most recent snapshot, verifying its digest.
// Returns nil with no error when no snapshot exists (cold start).
func (s *SnapshotStore) LoadLatest(ctx context.Context) (*exchange.StateSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT digest, data FROM perp_exchange.snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var digest, data []byte
	if err := row.Scan(&digest, &data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	want := blake3.Sum256(data)
	if !bytes.Equal(digest, want[:]) {
		return nil, fmt.Errorf("load snapshot: digest mismatch")
	}

	var snap exchange.StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
