package model

import "context"

// ── Storage Port Interfaces ──
// These decouple the robot session from concrete storage (SQLite, Redis).

// BarWriter persists bars.
type BarWriter interface {
	// WriteBars upserts bars keyed by (instrument, timestamp).
	WriteBars(ctx context.Context, bars []Bar) error

	// Close releases underlying resources.
	Close() error
}

// BarReader loads persisted bars for the initial bulk load.
type BarReader interface {
	// ReadBars returns bars for one instrument in ascending timestamp order.
	ReadBars(instrument Instrument, afterTS int64) ([]Bar, error)

	// ReadAllBars returns stored bars with timestamp > afterTS ordered by
	// (instrument, timestamp). Pass -1 for all bars.
	ReadAllBars(afterTS int64) ([]Bar, error)

	// Close releases underlying resources.
	Close() error
}

// SnapshotStore reads and writes indicator definition snapshots as raw JSON.
// Using []byte avoids a model→indicator import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded snapshot.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}

// EventPublisher fans signal events and fresh rows out to consumers.
type EventPublisher interface {
	PublishSignals(ctx context.Context, events []SignalEvent) error
	PublishRows(ctx context.Context, rows []Row) error
}
