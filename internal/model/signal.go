package model

import "encoding/json"

// SignalKind is the direction of a signal event.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
)

// SignalEvent is emitted when an indicator's latest value satisfies a rule.
type SignalEvent struct {
	Instrument Instrument `json:"instrument"`
	Indicator  string     `json:"indicator"`
	Kind       SignalKind `json:"kind"`
	Value      float64    `json:"value"`
	Timestamp  int64      `json:"timestamp"` // epoch ms of the row that fired
}

// StreamKey returns the Redis stream key: "signal:{instrument}".
func (e *SignalEvent) StreamKey() string {
	return "signal:" + string(e.Instrument)
}

// JSON returns the JSON-encoded event.
func (e *SignalEvent) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}
