// Package frame provides the in-memory time-series store: bars keyed by
// (instrument, timestamp), kept in ascending order per instrument, with
// derived indicator columns aligned 1:1 to the bars.
//
// The store is not safe for concurrent use. Callers that share it across
// goroutines must serialise insert and refresh cycles themselves.
package frame

import (
	"fmt"
	"slices"
	"sort"

	"autotrader/internal/model"
)

// instrumentData holds the bars and derived columns for one instrument.
// Every slice in cols has len(bars) entries.
type instrumentData struct {
	bars []model.Bar
	cols map[string][]model.Value
}

// Store owns all bar and column data.
type Store struct {
	data map[model.Instrument]*instrumentData

	// groups caches GroupByInstrument until the next insert.
	groups map[model.Instrument]Series

	version uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data: make(map[model.Instrument]*instrumentData, 16),
	}
}

// NewFromBars creates a store from an initial bulk load.
func NewFromBars(bars []model.Bar) (*Store, error) {
	s := New()
	if _, err := s.InsertBatch(bars); err != nil {
		return nil, err
	}
	return s, nil
}

// Insert upserts one bar. An existing (instrument, timestamp) row is
// overwritten in place; its derived columns keep their old values until the
// next refresh.
func (s *Store) Insert(bar model.Bar) error {
	if bar.Timestamp < 0 {
		return fmt.Errorf("insert %s at %d: %w", bar.Instrument, bar.Timestamp, ErrOutOfRange)
	}

	d, ok := s.data[bar.Instrument]
	if !ok {
		d = &instrumentData{cols: make(map[string][]model.Value)}
		s.data[bar.Instrument] = d
	}

	// Fast path: data mostly arrives in order.
	n := len(d.bars)
	switch {
	case n == 0 || d.bars[n-1].Timestamp < bar.Timestamp:
		d.bars = append(d.bars, bar)
		for name, col := range d.cols {
			d.cols[name] = append(col, model.None())
		}
	default:
		i, found := d.search(bar.Timestamp)
		if found {
			d.bars[i] = bar
			break
		}
		d.bars = slices.Insert(d.bars, i, bar)
		for name, col := range d.cols {
			d.cols[name] = slices.Insert(col, i, model.None())
		}
	}

	s.groups = nil
	s.version++
	return nil
}

// InsertBatch applies Insert to each bar in any order. It stops at the
// first invalid bar and returns how many bars were applied before it; those
// stay in the store.
func (s *Store) InsertBatch(bars []model.Bar) (int, error) {
	for i := range bars {
		if err := s.Insert(bars[i]); err != nil {
			return i, err
		}
	}
	return len(bars), nil
}

// GroupByInstrument returns a read-only view per instrument.
func (s *Store) GroupByInstrument() map[model.Instrument]Series {
	if s.groups != nil {
		return s.groups
	}
	groups := make(map[model.Instrument]Series, len(s.data))
	for inst, d := range s.data {
		groups[inst] = Series{bars: d.bars}
	}
	s.groups = groups
	return groups
}

// Series returns the view for one instrument.
func (s *Store) Series(inst model.Instrument) (Series, bool) {
	d, ok := s.data[inst]
	if !ok {
		return Series{}, false
	}
	return Series{bars: d.bars}, true
}

// Instruments returns all known instruments in sorted order.
func (s *Store) Instruments() []model.Instrument {
	out := make([]model.Instrument, 0, len(s.data))
	for inst := range s.data {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of bars stored for an instrument.
func (s *Store) Len(inst model.Instrument) int {
	if d, ok := s.data[inst]; ok {
		return len(d.bars)
	}
	return 0
}

// Version increases on every successful insert.
func (s *Store) Version() uint64 { return s.version }

// Latest returns the most recent row for an instrument.
func (s *Store) Latest(inst model.Instrument) (model.Row, bool) {
	d, ok := s.data[inst]
	if !ok || len(d.bars) == 0 {
		return model.Row{}, false
	}
	return d.row(len(d.bars) - 1), true
}

// Row returns the row at (instrument, timestamp).
func (s *Store) Row(inst model.Instrument, ts int64) (model.Row, bool) {
	d, ok := s.data[inst]
	if !ok {
		return model.Row{}, false
	}
	i, found := d.search(ts)
	if !found {
		return model.Row{}, false
	}
	return d.row(i), true
}

// Rows returns every row for an instrument in timestamp order.
func (s *Store) Rows(inst model.Instrument) []model.Row {
	d, ok := s.data[inst]
	if !ok {
		return nil
	}
	rows := make([]model.Row, len(d.bars))
	for i := range d.bars {
		rows[i] = d.row(i)
	}
	return rows
}

// Column returns a copy of a derived column for an instrument, aligned
// with the series. Returns nil if the instrument or column is unknown.
func (s *Store) Column(inst model.Instrument, name string) []model.Value {
	d, ok := s.data[inst]
	if !ok {
		return nil
	}
	col, ok := d.cols[name]
	if !ok {
		return nil
	}
	out := make([]model.Value, len(col))
	copy(out, col)
	return out
}

// Columns returns the names of all derived columns, sorted.
func (s *Store) Columns() []string {
	seen := make(map[string]struct{})
	for _, d := range s.data {
		for name := range d.cols {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetColumn attaches a derived value to an existing row.
func (s *Store) SetColumn(inst model.Instrument, ts int64, name string, v model.Value) error {
	d, ok := s.data[inst]
	if !ok {
		return fmt.Errorf("set %s on %s@%d: %w", name, inst, ts, ErrUnknownKey)
	}
	i, found := d.search(ts)
	if !found {
		return fmt.Errorf("set %s on %s@%d: %w", name, inst, ts, ErrUnknownKey)
	}
	col, ok := d.cols[name]
	if !ok {
		col = make([]model.Value, len(d.bars))
		d.cols[name] = col
	}
	col[i] = v
	return nil
}

// DropColumn removes a derived column from every instrument. Returns
// false if no instrument had it.
func (s *Store) DropColumn(name string) bool {
	dropped := false
	for _, d := range s.data {
		if _, ok := d.cols[name]; ok {
			delete(d.cols, name)
			dropped = true
		}
	}
	return dropped
}

// search returns the index of ts, or the insertion point if absent.
func (d *instrumentData) search(ts int64) (int, bool) {
	return slices.BinarySearchFunc(d.bars, ts, func(b model.Bar, t int64) int {
		switch {
		case b.Timestamp < t:
			return -1
		case b.Timestamp > t:
			return 1
		}
		return 0
	})
}

func (d *instrumentData) row(i int) model.Row {
	r := model.Row{Bar: d.bars[i], Columns: make(map[string]float64, len(d.cols))}
	for name, col := range d.cols {
		if v, ok := col[i].Get(); ok {
			r.Columns[name] = v
		}
	}
	return r
}
