package indicator

import "gonum.org/v1/gonum/stat"

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is the simple mean of the first period inputs, then
// SMMA = (prev*(period-1) + x) / period.
type SMMA struct {
	period  int
	seed    []float64
	current float64
	ready   bool
}

// NewSMMA creates a new SMMA with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period, seed: make([]float64, 0, period)}
}

func (s *SMMA) Update(x float64) {
	if !s.ready {
		s.seed = append(s.seed, x)
		if len(s.seed) == s.period {
			s.current = stat.Mean(s.seed, nil)
			s.ready = true
		}
		return
	}
	p := float64(s.period)
	s.current = (s.current*(p-1) + x) / p
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.ready }

// Reset clears the SMMA state for reuse.
func (s *SMMA) Reset() {
	s.seed = s.seed[:0]
	s.current = 0
	s.ready = false
}
