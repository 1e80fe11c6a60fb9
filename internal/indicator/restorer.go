package indicator

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"autotrader/internal/frame"
	"autotrader/internal/model"
)

// Restorer rebuilds the series and indicator engine on startup:
// persisted bars are bulk loaded into the store, then the latest definition
// snapshot is replayed over them. Either source may be nil.
type Restorer struct {
	bars      model.BarReader
	snapshots model.SnapshotStore
}

// NewRestorer creates a Restorer.
func NewRestorer(bars model.BarReader, snapshots model.SnapshotStore) *Restorer {
	return &Restorer{bars: bars, snapshots: snapshots}
}

// Backfill loads every persisted bar into store. Returns the number loaded.
func (r *Restorer) Backfill(store *frame.Store) (int, error) {
	if r.bars == nil {
		return 0, nil
	}
	bars, err := r.bars.ReadAllBars(-1) // timestamps start at 0
	if err != nil {
		return 0, fmt.Errorf("backfill: %w", err)
	}
	n, err := store.InsertBatch(bars)
	if err != nil {
		return n, fmt.Errorf("backfill: %w", err)
	}
	if n > 0 {
		log.Info().Str("component", "restorer").Int("bars", n).Int("instruments", len(store.Instruments())).Msg("backfilled bars")
	}
	return n, nil
}

// Restore backfills the store and returns an engine restored from the
// latest snapshot, or an empty engine on cold start. A corrupt snapshot is
// logged and treated as a cold start.
func (r *Restorer) Restore(store *frame.Store) (*Engine, error) {
	if _, err := r.Backfill(store); err != nil {
		return nil, err
	}
	if r.snapshots == nil {
		return NewEngine(store), nil
	}

	data, err := r.snapshots.ReadLatestSnapshotJSON()
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if data == nil {
		log.Info().Str("component", "restorer").Msg("no snapshot found, cold starting indicator engine")
		return NewEngine(store), nil
	}

	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		log.Warn().Str("component", "restorer").Err(err).Msg("snapshot unreadable, falling back to cold start")
		return NewEngine(store), nil
	}

	e, err := RestoreEngine(store, snap)
	if err != nil {
		return nil, err
	}
	log.Info().Str("component", "restorer").Int("definitions", e.Len()).Msg("restored indicator engine from snapshot")
	return e, nil
}

// Save persists the engine's definitions.
func (r *Restorer) Save(e *Engine) error {
	if r.snapshots == nil {
		return nil
	}
	data, err := MarshalSnapshot(e.Snapshot())
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.snapshots.SaveSnapshotJSON(data)
}
