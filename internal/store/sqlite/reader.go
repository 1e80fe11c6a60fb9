package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"autotrader/internal/model"
	"autotrader/internal/signal"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for the startup bulk load and
// snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Info().Str("component", "sqlite-reader").Str("path", dbPath).Msg("opened database")
	return &Reader{db: db}, nil
}

// ReadBars returns bars for one instrument after afterTS, ascending.
func (r *Reader) ReadBars(inst model.Instrument, afterTS int64) ([]model.Bar, error) {
	rows, err := r.db.Query(`
		SELECT instrument, ts, open, high, low, close, volume
		FROM bars
		WHERE instrument = ? AND ts > ?
		ORDER BY ts ASC
	`, string(inst), afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	return scanBars(rows)
}

// ReadAllBars returns every bar after afterTS ordered by (instrument, ts).
func (r *Reader) ReadAllBars(afterTS int64) ([]model.Bar, error) {
	rows, err := r.db.Query(`
		SELECT instrument, ts, open, high, low, close, volume
		FROM bars
		WHERE ts > ?
		ORDER BY instrument ASC, ts ASC
	`, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query all bars: %w", err)
	}
	return scanBars(rows)
}

func scanBars(rows *sql.Rows) ([]model.Bar, error) {
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var (
			b    model.Bar
			inst string
		)
		if err := rows.Scan(&inst, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.Instrument = model.Instrument(inst)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ReadLatestSnapshotJSON loads the most recent indicator snapshot.
// Returns nil, nil if none exists.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	return readLatestSnapshot(r.db)
}

// LoadRules returns the stored rules in their saved order.
func (r *Reader) LoadRules() ([]signal.Rule, error) {
	return loadRules(r.db)
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
