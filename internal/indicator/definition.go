package indicator

import (
	"errors"
	"fmt"
	"strings"

	"autotrader/internal/model"
)

var (
	// ErrUnsupportedIndicator is returned for an unknown kind or RSI method.
	ErrUnsupportedIndicator = errors.New("unsupported indicator")

	// ErrInvalidDefinition is returned for out-of-range parameters.
	ErrInvalidDefinition = errors.New("invalid indicator definition")
)

// Kind identifies an indicator algorithm.
type Kind string

const (
	KindSMA    Kind = "SMA"
	KindEMA    Kind = "EMA"
	KindRSI    Kind = "RSI"
	KindChange Kind = "CHANGE"
)

// RSIMethod selects how average gains and losses are smoothed.
type RSIMethod string

const (
	// RSIWilders seeds with a simple mean of the first period moves, then
	// applies Wilder's recursive smoothing (alpha = 1/period).
	RSIWilders RSIMethod = "wilders"

	// RSICutler uses plain period-window means of gains and losses.
	RSICutler RSIMethod = "cutler"
)

// Default output column names per kind.
var defaultColumns = map[Kind]string{
	KindSMA:    "sma",
	KindEMA:    "ema",
	KindRSI:    "rsi",
	KindChange: "change_in_price",
}

// Definition describes one registered indicator column.
type Definition struct {
	Kind   Kind      `json:"kind" yaml:"kind"`
	Period int       `json:"period,omitempty" yaml:"period,omitempty"`
	Alpha  float64   `json:"alpha,omitempty" yaml:"alpha,omitempty"` // EMA only; 0 derives 2/(period+1)
	Method RSIMethod `json:"method,omitempty" yaml:"method,omitempty"`
	Column string    `json:"column" yaml:"column"`
}

// Normalize upper-cases the kind and fills the default column name and
// RSI method.
func (d Definition) Normalize() Definition {
	d.Kind = Kind(strings.ToUpper(strings.TrimSpace(string(d.Kind))))
	d.Column = strings.TrimSpace(d.Column)
	if d.Column == "" {
		d.Column = defaultColumns[d.Kind]
	}
	if d.Kind == KindRSI {
		d.Method = RSIMethod(strings.ToLower(string(d.Method)))
		if d.Method == "" {
			d.Method = RSIWilders
		}
	}
	return d
}

// Validate checks a normalized definition.
func (d Definition) Validate() error {
	switch d.Kind {
	case KindSMA:
		if d.Period <= 0 {
			return fmt.Errorf("%w: SMA period=%d must be positive", ErrInvalidDefinition, d.Period)
		}
	case KindEMA:
		if d.Alpha < 0 || d.Alpha > 1 {
			return fmt.Errorf("%w: EMA alpha=%g must be in (0,1]", ErrInvalidDefinition, d.Alpha)
		}
		if d.Alpha == 0 && d.Period <= 0 {
			return fmt.Errorf("%w: EMA needs a positive period when alpha is unset", ErrInvalidDefinition)
		}
	case KindRSI:
		if d.Method != RSIWilders && d.Method != RSICutler {
			return fmt.Errorf("%w: RSI method %q", ErrUnsupportedIndicator, d.Method)
		}
		if d.Period <= 0 {
			return fmt.Errorf("%w: RSI period=%d must be positive", ErrInvalidDefinition, d.Period)
		}
	case KindChange:
	default:
		return fmt.Errorf("%w: kind %q", ErrUnsupportedIndicator, d.Kind)
	}
	if d.Column == "" {
		return fmt.Errorf("%w: empty column name", ErrInvalidDefinition)
	}
	if model.IsBarColumn(d.Column) {
		return fmt.Errorf("%w: column %q is a bar field", ErrInvalidDefinition, d.Column)
	}
	return nil
}

// String renders e.g. "RSI(14,wilders)->rsi". EMA shows the effective alpha.
func (d Definition) String() string {
	switch d.Kind {
	case KindEMA:
		return fmt.Sprintf("EMA(%d,%g)->%s", d.Period, NewEMA(d.Period, d.Alpha).Alpha(), d.Column)
	case KindRSI:
		return fmt.Sprintf("RSI(%d,%s)->%s", d.Period, d.Method, d.Column)
	case KindChange:
		return "CHANGE->" + d.Column
	}
	return fmt.Sprintf("%s(%d)->%s", d.Kind, d.Period, d.Column)
}
