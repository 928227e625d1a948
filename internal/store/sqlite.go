package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"scanwatch/internal/scan"
)

// Compile-time interface check.
var _ SnapshotStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source     TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	applied_at INTEGER NOT NULL,
	row_count  INTEGER NOT NULL,
	rows       TEXT    NOT NULL,
	UNIQUE (source, version)
);
CREATE INDEX IF NOT EXISTS snapshots_source_version ON snapshots (source, version DESC);
`

// SQLiteStore archives snapshots in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and creates
// the snapshot table.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating snapshot table: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordSnapshot inserts rs unless its source and version are already archived.
func (s *SQLiteStore) RecordSnapshot(ctx context.Context, name string, rs scan.RowSet) error {
	rows := rs.Rows
	if rows == nil {
		rows = []scan.Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding rows: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots (source, name, version, applied_at, row_count, rows)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(rs.Source), name, rs.Version, s.now().UnixMilli(), len(rs.Rows), string(data))
	if err != nil {
		return fmt.Errorf("inserting snapshot %s@%d: %w", rs.Source, rs.Version, err)
	}
	return nil
}

// Latest returns the newest archived snapshot of source.
func (s *SQLiteStore) Latest(ctx context.Context, source scan.SourceID) (scan.RowSet, error) {
	var (
		version int64
		data    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, rows FROM snapshots WHERE source = ? ORDER BY version DESC LIMIT 1`,
		string(source)).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return scan.RowSet{}, ErrNotFound
	}
	if err != nil {
		return scan.RowSet{}, err
	}
	var rows []scan.Row
	if err := json.Unmarshal([]byte(data), &rows); err != nil {
		return scan.RowSet{}, fmt.Errorf("decoding snapshot %s@%d: %w", source, version, err)
	}
	return scan.RowSet{Source: source, Version: version, Rows: rows}, nil
}

// Snapshots lists archived versions of source, newest first.
func (s *SQLiteStore) Snapshots(ctx context.Context, source scan.SourceID, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, version, applied_at, row_count FROM snapshots
		 WHERE source = ? ORDER BY version DESC LIMIT ?`,
		string(source), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		info := SnapshotInfo{Source: source}
		var applied int64
		if err := rows.Scan(&info.Name, &info.Version, &applied, &info.RowCount); err != nil {
			return nil, err
		}
		info.AppliedAt = time.UnixMilli(applied)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep versions of source and reports how many rows
// were deleted.
func (s *SQLiteStore) Prune(ctx context.Context, source scan.SourceID, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE source = ? AND version NOT IN (
			SELECT version FROM snapshots WHERE source = ? ORDER BY version DESC LIMIT ?
		)`,
		string(source), string(source), keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
