package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"autotrader/internal/model"
	"autotrader/internal/signal"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	keepSnapshots     = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/robot.db"

	// OnCommit, if set, is called after every committed bar batch.
	OnCommit func(n int, took time.Duration)
}

// Writer is a single-connection SQLite writer with transaction batching.
// It persists bars, indicator definition snapshots and signal rules.
type Writer struct {
	db       *sql.DB
	onCommit func(int, time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info().Str("component", "sqlite").Str("path", cfg.DBPath).Msg("opened database")
	return &Writer{db: db, onCommit: cfg.OnCommit}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			instrument TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			PRIMARY KEY (instrument, ts)
		);

		CREATE TABLE IF NOT EXISTS indicator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS signal_rules (
			indicator  TEXT    PRIMARY KEY,
			position   INTEGER NOT NULL,
			data       TEXT    NOT NULL
		);
	`)
	return err
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insertBatch(context.Background(), batch); err != nil {
			log.Error().Str("component", "sqlite").Err(err).Int("bars", len(batch)).Msg("batch insert failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued.
			for {
				select {
				case bar, ok := <-barCh:
					if !ok {
						flush()
						return
					}
					batch = append(batch, bar)
				default:
					flush()
					return
				}
			}

		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// WriteBars upserts bars in a single transaction.
func (w *Writer) WriteBars(ctx context.Context, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return w.insertBatch(ctx, bars)
}

func (w *Writer) insertBatch(ctx context.Context, bars []model.Bar) error {
	start := time.Now()
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (instrument, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, string(b.Instrument), b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert bar %s: %w", b.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	took := time.Since(start)
	log.Debug().Str("component", "sqlite").Int("bars", len(bars)).Dur("took", took).Msg("committed bars")
	if w.onCommit != nil {
		w.onCommit(len(bars), took)
	}
	return nil
}

// GetLastTimestamp returns the last stored bar timestamp for an instrument.
// Returns 0 if no bars exist.
func (w *Writer) GetLastTimestamp(inst model.Instrument) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(`SELECT MAX(ts) FROM bars WHERE instrument = ?`, string(inst)).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// SaveSnapshotJSON stores an indicator definition snapshot and prunes old ones.
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	if _, err := w.db.Exec(`INSERT INTO indicator_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err := w.db.Exec(`DELETE FROM indicator_snapshots WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY id DESC LIMIT ?)`, keepSnapshots)
	if err != nil {
		log.Warn().Str("component", "sqlite").Err(err).Msg("prune snapshots")
	}
	return nil
}

// ReadLatestSnapshotJSON returns the newest snapshot, or nil if none exist.
func (w *Writer) ReadLatestSnapshotJSON() ([]byte, error) {
	return readLatestSnapshot(w.db)
}

// SaveRules replaces the stored rule set, keeping the given order.
func (w *Writer) SaveRules(rules []signal.Rule) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM signal_rules`); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite clear rules: %w", err)
	}
	for i, r := range rules {
		data, err := json.Marshal(r)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshal rule %s: %w", r.Indicator, err)
		}
		if _, err := tx.Exec(`INSERT INTO signal_rules (indicator, position, data) VALUES (?, ?, ?)`, r.Indicator, i, string(data)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert rule %s: %w", r.Indicator, err)
		}
	}
	return tx.Commit()
}

// LoadRules returns the stored rules in their saved order.
func (w *Writer) LoadRules() ([]signal.Rule, error) {
	return loadRules(w.db)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}

func readLatestSnapshot(db *sql.DB) ([]byte, error) {
	var data string
	err := db.QueryRow(`SELECT data FROM indicator_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

func loadRules(db *sql.DB) ([]signal.Rule, error) {
	rows, err := db.Query(`SELECT data FROM signal_rules ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query rules: %w", err)
	}
	defer rows.Close()

	var rules []signal.Rule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite scan rule: %w", err)
		}
		var r signal.Rule
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("unmarshal rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
