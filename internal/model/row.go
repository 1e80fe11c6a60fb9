package model

import (
	"encoding/json"
	"strings"
)

// Raw OHLCV column names, as exposed in Row.Map.
const (
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
)

// IsBarColumn reports whether name collides with a raw OHLCV field.
func IsBarColumn(name string) bool {
	switch strings.ToLower(name) {
	case ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume:
		return true
	}
	return false
}

// Row is one bar plus the indicator columns computed for it.
// Columns holds only defined values; a column missing from the map has no
// value for this row (insufficient history or never computed).
type Row struct {
	Bar
	Columns map[string]float64 `json:"columns"`
}

// Column returns the value of a derived column.
func (r *Row) Column(name string) (float64, bool) {
	v, ok := r.Columns[name]
	return v, ok
}

// Map returns column name → value including raw OHLCV fields.
func (r *Row) Map() map[string]float64 {
	m := make(map[string]float64, len(r.Columns)+5)
	m[ColumnOpen] = r.Open
	m[ColumnHigh] = r.High
	m[ColumnLow] = r.Low
	m[ColumnClose] = r.Close
	m[ColumnVolume] = r.Volume
	for k, v := range r.Columns {
		m[k] = v
	}
	return m
}

// JSON returns the JSON-encoded row: bar fields plus "columns".
func (r *Row) JSON() []byte {
	data, _ := json.Marshal(r)
	return data
}
