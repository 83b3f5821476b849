package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/canvasflow/graph-engine/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	snapshot   BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLiteStorage is a file-backed implementation of the Storage interface.
// Snapshots are stored as zstd-compressed JSON blobs.
type SQLiteStorage struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewSQLiteStorage opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %v", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db, enc: enc, dec: dec}, nil
}

// SaveWorkflow upserts the compressed snapshot.
func (s *SQLiteStorage) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	data, err := sonic.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %v", wf.ID, err)
	}
	blob := s.enc.EncodeAll(data, nil)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, snapshot, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		wf.ID, wf.Name, blob, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %v", wf.ID, err)
	}
	return nil
}

// GetWorkflow loads and decompresses a stored snapshot.
func (s *SQLiteStorage) GetWorkflow(ctx context.Context, id string) (types.Workflow, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM workflows WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return types.Workflow{}, fmt.Errorf("%w: id=%s", ErrNotFound, id)
	} else if err != nil {
		return types.Workflow{}, fmt.Errorf("failed to load workflow %s: %v", id, err)
	}

	data, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return types.Workflow{}, fmt.Errorf("failed to decompress workflow %s: %v", id, err)
	}
	var wf types.Workflow
	if err := sonic.Unmarshal(data, &wf); err != nil {
		return types.Workflow{}, fmt.Errorf("failed to unmarshal workflow %s: %v", id, err)
	}
	return wf, nil
}

// DeleteWorkflow removes a stored snapshot.
func (s *SQLiteStorage) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %v", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id=%s", ErrNotFound, id)
	}
	return nil
}

// ListWorkflowIDs returns all stored ids in lexical order.
func (s *SQLiteStorage) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the database handle and codec resources.
func (s *SQLiteStorage) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
