package store

import (
	"context"
	"log/slog"

	"scanwatch/internal/scan"
)

// Retention records snapshots and then trims each source's history to the
// newest Keep entries. Keep <= 0 disables pruning.
type Retention struct {
	Store SnapshotStore
	Keep  int
	Log   *slog.Logger
}

// RecordSnapshot records rs and prunes its source. A failed prune is
// logged, not returned.
func (r *Retention) RecordSnapshot(ctx context.Context, name string, rs scan.RowSet) error {
	if err := r.Store.RecordSnapshot(ctx, name, rs); err != nil {
		return err
	}
	if r.Keep <= 0 {
		return nil
	}
	n, err := r.Store.Prune(ctx, rs.Source, r.Keep)
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	if err != nil {
		log.Warn("pruning snapshots", "source", rs.Source, "error", err)
	} else if n > 0 {
		log.Debug("pruned snapshots", "source", rs.Source, "removed", n)
	}
	return nil
}
