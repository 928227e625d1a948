// Package store persists applied scan snapshots and exports views.
package store

import (
	"context"
	"errors"
	"time"

	"scanwatch/internal/scan"
)

// ErrNotFound is returned when no snapshot matches a lookup.
var ErrNotFound = errors.New("store: snapshot not found")

// SnapshotInfo describes one archived snapshot without its rows.
type SnapshotInfo struct {
	Source    scan.SourceID `json:"source"`
	Name      string        `json:"name"`
	Version   int64         `json:"version"`
	AppliedAt time.Time     `json:"appliedAt"`
	RowCount  int           `json:"rowCount"`
}

// SnapshotStore archives row sets as they are applied.
type SnapshotStore interface {
	// RecordSnapshot stores rs under its source and version. Recording the
	// same source and version twice keeps the first copy.
	RecordSnapshot(ctx context.Context, name string, rs scan.RowSet) error

	// Latest returns the highest archived version of source.
	Latest(ctx context.Context, source scan.SourceID) (scan.RowSet, error)

	// Snapshots lists archived versions of source, newest first, up to limit.
	Snapshots(ctx context.Context, source scan.SourceID, limit int) ([]SnapshotInfo, error)

	// Prune drops all but the newest keep versions of source.
	Prune(ctx context.Context, source scan.SourceID, keep int) (int64, error)
}
