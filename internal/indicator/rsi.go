package indicator

// averager is the smoothing applied to gains and losses.
type averager interface {
	Update(x float64)
	Value() float64
	Ready() bool
	Reset()
}

// RSI calculates the Relative Strength Index over close-to-close moves.
// With the wilders method gains and losses are smoothed by SMMA; with cutler
// they are plain rolling means. The first value appears once period moves
// (period+1 closes) have been seen.
type RSI struct {
	period    int
	method    RSIMethod
	count     int
	prevClose float64
	gains     averager
	losses    averager
	current   float64
}

// NewRSI creates a new RSI. An empty method means wilders.
func NewRSI(period int, method RSIMethod) *RSI {
	if method == "" {
		method = RSIWilders
	}
	r := &RSI{period: period, method: method}
	if method == RSICutler {
		r.gains, r.losses = NewSMA(period), NewSMA(period)
	} else {
		r.gains, r.losses = NewSMMA(period), NewSMMA(period)
	}
	return r
}

func (r *RSI) Update(price float64) {
	r.count++
	if r.count == 1 {
		// First close, no move yet
		r.prevClose = price
		return
	}

	delta := price - r.prevClose
	r.prevClose = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	r.gains.Update(gain)
	r.losses.Update(loss)

	if r.gains.Ready() {
		r.current = rsiFromAverages(r.gains.Value(), r.losses.Value())
	}
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.gains.Ready() }

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.count = 0
	r.prevClose = 0
	r.current = 0
	r.gains.Reset()
	r.losses.Reset()
}

// rsiFromAverages maps average gain/loss onto [0, 100].
// A zero average loss is defined as 100, never a division.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
