package frame

import "autotrader/internal/model"

// Series is a read-only view of one instrument's bars in ascending
// timestamp order. It borrows the store's data and is invalidated by the
// next insert into the same store.
type Series struct {
	bars []model.Bar
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.bars) }

// At returns the i-th bar by value.
func (s Series) At(i int) model.Bar { return s.bars[i] }

// Last returns the most recent bar.
func (s Series) Last() (model.Bar, bool) {
	if len(s.bars) == 0 {
		return model.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Timestamps returns a copy of the timestamp column.
func (s Series) Timestamps() []int64 {
	out := make([]int64, len(s.bars))
	for i := range s.bars {
		out[i] = s.bars[i].Timestamp
	}
	return out
}

// Closes returns a copy of the close-price column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.bars))
	for i := range s.bars {
		out[i] = s.bars[i].Close
	}
	return out
}

// Bars returns a copy of the bars.
func (s Series) Bars() []model.Bar {
	out := make([]model.Bar, len(s.bars))
	copy(out, s.bars)
	return out
}
