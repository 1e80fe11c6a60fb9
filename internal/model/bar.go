package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Instrument is a ticker symbol, e.g. "MSFT".
type Instrument string

// Bar is one OHLCV observation for one instrument.
// Timestamp is epoch milliseconds (UTC). OHLC consistency is not checked:
// data is trusted from the market-data collaborator.
type Bar struct {
	Instrument Instrument `json:"symbol"`
	Timestamp  int64      `json:"datetime"`
	Open       float64    `json:"open"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Close      float64    `json:"close"`
	Volume     float64    `json:"volume"`
}

// Key returns "instrument:timestamp".
func (b *Bar) Key() string {
	return string(b.Instrument) + ":" + strconv.FormatInt(b.Timestamp, 10)
}

// Time returns the bar timestamp as a UTC time.Time.
func (b *Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}
