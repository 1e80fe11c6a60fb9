// Package robot coordinates the store, indicator engine and signal
// evaluator behind one lock, and dispatches each evaluation cycle to the
// configured sinks.
package robot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autotrader/internal/frame"
	"autotrader/internal/indicator"
	"autotrader/internal/ingest"
	"autotrader/internal/logger"
	"autotrader/internal/metrics"
	"autotrader/internal/model"
	"autotrader/internal/notification"
	"autotrader/internal/ringbuf"
	"autotrader/internal/signal"
)

const recentSignals = 1024

// RuleStore persists the rule set.
type RuleStore interface {
	SaveRules(rules []signal.Rule) error
}

// Options wires a session to its sinks. Every field is optional.
type Options struct {
	Logger     zerolog.Logger
	Bars       model.BarWriter
	Snapshots  model.SnapshotStore
	Rules      RuleStore
	Publishers []model.EventPublisher
	Notifier   notification.Notifier
	Metrics    *metrics.Metrics
	Health     *metrics.HealthStatus
}

// Session is the single mutual-exclusion boundary around insert, refresh
// and evaluate cycles. All methods are safe for concurrent use.
type Session struct {
	mu     sync.Mutex
	store  *frame.Store
	engine *indicator.Engine
	eval   *signal.Evaluator

	// Store version at the last refresh and at the last dispatched tick.
	refreshedVersion uint64
	tickedVersion    uint64
	rulesChanged     bool

	recent *ringbuf.Ring[model.SignalEvent]

	opts Options
	log  zerolog.Logger
}

// New creates a session over an empty store.
func New(opts Options) *Session {
	store := frame.New()
	return NewWithState(store, indicator.NewEngine(store), opts)
}

// NewWithState creates a session over a restored store and engine.
func NewWithState(store *frame.Store, engine *indicator.Engine, opts Options) *Session {
	s := &Session{
		store:  store,
		engine: engine,
		eval:   signal.NewEvaluator(),
		recent: ringbuf.New[model.SignalEvent](recentSignals),
		opts:   opts,
		log:    opts.Logger.With().Str("component", "robot").Logger(),
		// Restored columns are already current.
		refreshedVersion: store.Version(),
	}
	if m := opts.Metrics; m != nil {
		m.IndicatorsActive.Set(float64(engine.Len()))
	}
	return s
}

// LoadHistory parses historical records and inserts them.
func (s *Session) LoadHistory(ctx context.Context, data []byte) (int, error) {
	bars, err := ingest.ParseHistorical(data)
	if err != nil {
		s.rejected(ctx, "historical", err)
		return 0, err
	}
	return s.InsertBars(ctx, bars)
}

// IngestQuotes parses a live quote update and inserts it.
func (s *Session) IngestQuotes(ctx context.Context, data []byte) (int, error) {
	bars, err := ingest.ParseQuotes(data)
	if err != nil {
		s.rejected(ctx, "quote", err)
		return 0, err
	}
	return s.InsertBars(ctx, bars)
}

// InsertBars upserts bars into the store, stopping at the first invalid
// one, then persists the applied bars. Columns are recomputed by the next
// read, Refresh or Tick.
func (s *Session) InsertBars(ctx context.Context, bars []model.Bar) (int, error) {
	s.mu.Lock()
	n, err := s.store.InsertBatch(bars)
	s.mu.Unlock()

	if m := s.opts.Metrics; m != nil {
		m.BarsIngested.Add(float64(n))
	}
	if err != nil {
		s.rejected(ctx, "bar", err)
	}
	if n > 0 {
		if h := s.opts.Health; h != nil {
			var latest int64
			for _, b := range bars[:n] {
				latest = max(latest, b.Timestamp)
			}
			h.SetLastBarTime(time.UnixMilli(latest))
		}
		if s.opts.Bars != nil {
			if perr := s.opts.Bars.WriteBars(ctx, bars[:n]); perr != nil {
				logger.LogWithTrace(ctx, s.log).Error().Err(perr).Int("bars", n).Msg("persist bars failed")
				err = errors.Join(err, perr)
			}
		}
	}
	return n, err
}

func (s *Session) rejected(ctx context.Context, kind string, err error) {
	reason := "invalid"
	if errors.Is(err, ingest.ErrMissingVolume) {
		reason = "missing_volume"
	} else if errors.Is(err, frame.ErrOutOfRange) {
		reason = "out_of_range"
	}
	if m := s.opts.Metrics; m != nil {
		m.BarsRejected.WithLabelValues(reason).Inc()
	}
	logger.LogWithTrace(ctx, s.log).Warn().Err(err).Str("kind", kind).Msg("rejected input")
}

// RegisterIndicator adds or replaces a definition and computes its column.
// Pending bars are refreshed first so every column is current afterwards.
func (s *Session) RegisterIndicator(def indicator.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refreshLocked(); err != nil {
		return err
	}
	if err := s.engine.Register(def); err != nil {
		return err
	}
	s.rulesChanged = true
	s.definitionsChanged()
	return nil
}

// UnregisterIndicator removes a definition and its column.
func (s *Session) UnregisterIndicator(column string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.engine.Unregister(column) {
		return false
	}
	s.store.DropColumn(column)
	s.rulesChanged = true
	s.definitionsChanged()
	return true
}

// Indicators returns the registered definitions in registration order.
func (s *Session) Indicators() []indicator.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Definitions()
}

// SetRule upserts a rule.
func (s *Session) SetRule(r signal.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.eval.Put(r); err != nil {
		return err
	}
	s.rulesChanged = true
	return s.rulesUpdated()
}

// RemoveRule deletes a rule. Returns false if none existed.
func (s *Session) RemoveRule(indicatorName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.eval.RemoveRule(indicatorName) {
		return false, nil
	}
	s.rulesChanged = true
	return true, s.rulesUpdated()
}

// Rules returns the rules in registration order.
func (s *Session) Rules() []signal.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eval.List()
}

// ApplyRuleSet replaces all definitions and rules. Definitions are
// validated first; nothing changes if any is invalid.
func (s *Session) ApplyRuleSet(defs []indicator.Definition, rules []signal.Rule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.engine.Definitions()
	if _, _, err := s.engine.Reload(defs); err != nil {
		return fmt.Errorf("apply rule set: %w", err)
	}
	for _, d := range before {
		if _, ok := s.engine.Definition(d.Column); !ok {
			s.store.DropColumn(d.Column)
		}
	}

	eval := signal.NewEvaluator()
	for _, r := range rules {
		if err := eval.Put(r); err != nil {
			return err
		}
	}
	s.eval = eval
	s.rulesChanged = true
	s.definitionsChanged()
	return s.rulesUpdated()
}

// definitionsChanged persists a snapshot. Caller holds s.mu.
func (s *Session) definitionsChanged() {
	if m := s.opts.Metrics; m != nil {
		m.IndicatorsActive.Set(float64(s.engine.Len()))
	}
	if s.opts.Snapshots == nil {
		return
	}
	if err := indicator.NewRestorer(nil, s.opts.Snapshots).Save(s.engine); err != nil {
		s.log.Error().Err(err).Msg("save indicator snapshot failed")
	}
}

// rulesUpdated persists the rule set. Caller holds s.mu.
func (s *Session) rulesUpdated() error {
	if m := s.opts.Metrics; m != nil {
		m.RulesActive.Set(float64(len(s.eval.List())))
	}
	if s.opts.Rules == nil {
		return nil
	}
	if err := s.opts.Rules.SaveRules(s.eval.List()); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}

// Refresh recomputes every indicator column if bars changed since the last
// refresh. Reports whether a recompute ran.
func (s *Session) Refresh() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked()
}

func (s *Session) refreshLocked() (bool, error) {
	v := s.store.Version()
	if v == s.refreshedVersion {
		return false, nil
	}
	start := time.Now()
	if err := s.engine.Refresh(); err != nil {
		return false, fmt.Errorf("refresh: %w", err)
	}
	s.refreshedVersion = v

	if m := s.opts.Metrics; m != nil {
		m.RefreshDur.Observe(time.Since(start).Seconds())
		m.ColumnsComputed.Add(float64(s.engine.Len()))
	}
	if h := s.opts.Health; h != nil {
		h.RecordRefresh(time.Now(), len(s.store.Instruments()))
	}
	return true, nil
}

// Evaluate refreshes if needed and returns the events for the current
// latest rows.
func (s *Session) Evaluate() ([]model.SignalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refreshLocked(); err != nil {
		return nil, err
	}
	return s.eval.Collect(s.store), nil
}

// Latest returns an instrument's most recent row, refreshing first so its
// columns match its bar.
func (s *Session) Latest(inst model.Instrument) (model.Row, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refreshLocked(); err != nil {
		return model.Row{}, false, err
	}
	row, ok := s.store.Latest(inst)
	return row, ok, nil
}

// Rows returns all rows of an instrument in timestamp order, refreshed.
func (s *Session) Rows(inst model.Instrument) ([]model.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refreshLocked(); err != nil {
		return nil, err
	}
	return s.store.Rows(inst), nil
}

// Instruments returns the known instruments, sorted.
func (s *Session) Instruments() []model.Instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Instruments()
}

// RecentSignals returns dispatched events, oldest first.
func (s *Session) RecentSignals() []model.SignalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent.Items()
}
