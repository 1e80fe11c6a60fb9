package indicator

// EMA calculates Exponential Moving Average.
// The first close seeds the average, so a value exists from the first bar.
type EMA struct {
	period  int
	alpha   float64
	current float64
	count   int
}

// NewEMA creates an EMA. An alpha of zero derives 2/(period+1).
func NewEMA(period int, alpha float64) *EMA {
	if alpha == 0 {
		alpha = 2.0 / float64(period+1)
	}
	return &EMA{period: period, alpha: alpha}
}

// Alpha returns the smoothing factor in use.
func (e *EMA) Alpha() float64 { return e.alpha }

func (e *EMA) Update(price float64) {
	e.count++
	if e.count == 1 {
		e.current = price
		return
	}
	e.current = e.alpha*price + (1-e.alpha)*e.current
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count > 0 }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}
