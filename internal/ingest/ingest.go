// Package ingest decodes market-data payloads into bars.
//
// Two shapes are accepted: historical records, one object per bar, and
// live quote maps keyed by symbol. Every record is validated before any bar
// is returned, so a payload is applied whole or not at all.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"autotrader/internal/frame"
	"autotrader/internal/model"
)

var (
	// ErrInvalidRecord is returned for malformed or incomplete records.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrMissingVolume is returned for a live quote without totalVolume.
	ErrMissingVolume = errors.New("quote has no volume")
)

// HistoricalRecord is one bar of a historical load.
type HistoricalRecord struct {
	Datetime *int64   `json:"datetime"`
	Symbol   string   `json:"symbol"`
	Open     *float64 `json:"open"`
	Close    *float64 `json:"close"`
	High     *float64 `json:"high"`
	Low      *float64 `json:"low"`
	Volume   *float64 `json:"volume"`
}

// Quote is one symbol's entry in a live quote update.
type Quote struct {
	QuoteTimeInLong *int64   `json:"quoteTimeInLong"`
	OpenPrice       *float64 `json:"openPrice"`
	ClosePrice      *float64 `json:"closePrice"`
	HighPrice       *float64 `json:"highPrice"`
	LowPrice        *float64 `json:"lowPrice"`
	AskPrice        *float64 `json:"askPrice"`
	BidPrice        *float64 `json:"bidPrice"`
	TotalVolume     *float64 `json:"totalVolume"`
}

// ParseHistorical decodes a JSON array of historical records (a single
// object is also accepted).
func ParseHistorical(data []byte) ([]model.Bar, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidRecord)
	}

	var recs []HistoricalRecord
	if data[0] == '{' {
		var one HistoricalRecord
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		recs = []HistoricalRecord{one}
	} else if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	bars := make([]model.Bar, 0, len(recs))
	for i, r := range recs {
		b, err := r.Bar()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// Bar validates the record and converts it.
func (r HistoricalRecord) Bar() (model.Bar, error) {
	sym := strings.TrimSpace(r.Symbol)
	if sym == "" {
		return model.Bar{}, fmt.Errorf("%w: missing symbol", ErrInvalidRecord)
	}
	if err := requireFields(sym, map[string]*float64{
		"open": r.Open, "close": r.Close, "high": r.High, "low": r.Low, "volume": r.Volume,
	}); err != nil {
		return model.Bar{}, err
	}
	ts, err := timestamp(sym, "datetime", r.Datetime)
	if err != nil {
		return model.Bar{}, err
	}
	return model.Bar{
		Instrument: model.Instrument(sym),
		Timestamp:  ts,
		Open:       *r.Open,
		High:       *r.High,
		Low:        *r.Low,
		Close:      *r.Close,
		Volume:     *r.Volume,
	}, nil
}

// ParseQuotes decodes a live quote update {"<symbol>": {...}, ...}.
// Bars come back ordered by symbol.
func ParseQuotes(data []byte) ([]model.Bar, error) {
	var quotes map[string]Quote
	if err := json.Unmarshal(data, &quotes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	syms := make([]string, 0, len(quotes))
	for s := range quotes {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	bars := make([]model.Bar, 0, len(quotes))
	for _, s := range syms {
		b, err := quotes[s].Bar(s)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// Bar validates the quote and converts it. Bid and ask prices are not
// used; volume must come from totalVolume.
func (q Quote) Bar(symbol string) (model.Bar, error) {
	sym := strings.TrimSpace(symbol)
	if sym == "" {
		return model.Bar{}, fmt.Errorf("%w: missing symbol", ErrInvalidRecord)
	}
	if err := requireFields(sym, map[string]*float64{
		"openPrice": q.OpenPrice, "closePrice": q.ClosePrice, "highPrice": q.HighPrice, "lowPrice": q.LowPrice,
	}); err != nil {
		return model.Bar{}, err
	}
	if q.TotalVolume == nil {
		return model.Bar{}, fmt.Errorf("quote %s: %w", sym, ErrMissingVolume)
	}
	if !finite(*q.TotalVolume) {
		return model.Bar{}, fmt.Errorf("%w: quote %s totalVolume is not finite", ErrInvalidRecord, sym)
	}
	ts, err := timestamp(sym, "quoteTimeInLong", q.QuoteTimeInLong)
	if err != nil {
		return model.Bar{}, err
	}
	return model.Bar{
		Instrument: model.Instrument(sym),
		Timestamp:  ts,
		Open:       *q.OpenPrice,
		High:       *q.HighPrice,
		Low:        *q.LowPrice,
		Close:      *q.ClosePrice,
		Volume:     *q.TotalVolume,
	}, nil
}

func timestamp(sym, field string, v *int64) (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %s missing %s", ErrInvalidRecord, sym, field)
	}
	if *v < 0 {
		return 0, fmt.Errorf("%w: %s %s %d: %w", ErrInvalidRecord, sym, field, *v, frame.ErrOutOfRange)
	}
	return *v, nil
}

func requireFields(sym string, fields map[string]*float64) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := fields[name]
		if v == nil {
			return fmt.Errorf("%w: %s missing %s", ErrInvalidRecord, sym, name)
		}
		if !finite(*v) {
			return fmt.Errorf("%w: %s %s is not finite", ErrInvalidRecord, sym, name)
		}
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
