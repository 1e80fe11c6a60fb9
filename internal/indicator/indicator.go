// Package indicator computes derived columns (SMA, EMA, RSI, change in
// price) over the per-instrument close series held by a frame.Store.
//
// Each indicator kind is a streaming Calculator. The Engine recomputes a
// column by resetting a fresh calculator per instrument and replaying that
// instrument's closes in timestamp order, so back-filled or overwritten bars
// are always reflected from the start of the series.
package indicator

// Calculator is the interface for all streaming indicator calculations.
type Calculator interface {
	// Update feeds the next close price.
	Update(price float64)

	// Value returns the current value. Only meaningful when Ready.
	Value() float64

	// Ready returns true once enough history has been accumulated.
	Ready() bool

	// Reset clears all state so the calculator can replay a new series.
	Reset()
}

// newCalculator builds a fresh calculator for a validated definition.
func newCalculator(def Definition) Calculator {
	switch def.Kind {
	case KindSMA:
		return NewSMA(def.Period)
	case KindEMA:
		return NewEMA(def.Period, def.Alpha)
	case KindRSI:
		return NewRSI(def.Period, def.Method)
	case KindChange:
		return NewChange()
	}
	return nil
}
