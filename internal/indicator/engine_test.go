package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/frame"
	"autotrader/internal/model"
)

func makeBar(inst string, ts int64, closePrice float64) model.Bar {
	return model.Bar{
		Instrument: model.Instrument(inst),
		Timestamp:  ts,
		Open:       closePrice,
		High:       closePrice + 1,
		Low:        closePrice - 1,
		Close:      closePrice,
		Volume:     1000,
	}
}

func loadStore(t *testing.T, inst string, closes []float64) *frame.Store {
	t.Helper()
	s := frame.New()
	for i, c := range closes {
		require.NoError(t, s.Insert(makeBar(inst, int64(i+1)*1000, c)))
	}
	return s
}

func floatsOf(col []model.Value) []any {
	out := make([]any, len(col))
	for i, v := range col {
		if f, ok := v.Get(); ok {
			out[i] = f
		}
	}
	return out
}

func TestEngine_SMA3Scenario(t *testing.T) {
	s := loadStore(t, "X", []float64{10, 10, 10, 12, 8})
	e := NewEngine(s)
	require.NoError(t, e.Register(Definition{Kind: KindSMA, Period: 3, Column: "sma"}))

	col := s.Column("X", "sma")
	require.Len(t, col, 5)
	assert.False(t, col[0].Valid)
	assert.False(t, col[1].Valid)
	assert.InDelta(t, 10.0, col[2].Float, 1e-9)
	assert.InDelta(t, 10.667, col[3].Float, 1e-3)
	assert.InDelta(t, 10.0, col[4].Float, 1e-9)
}

func TestEngine_NoCrossInstrumentLeakage(t *testing.T) {
	s := frame.New()
	// interleave two instruments; B's window must never see A's closes
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Insert(makeBar("A", int64(i)*1000, 100)))
		require.NoError(t, s.Insert(makeBar("B", int64(i)*1000+500, 1)))
	}
	e := NewEngine(s)
	require.NoError(t, e.Register(Definition{Kind: KindSMA, Period: 2, Column: "sma"}))

	for _, v := range s.Column("B", "sma")[1:] {
		assert.Equal(t, model.Some(1), v)
	}
	for _, v := range s.Column("A", "sma")[1:] {
		assert.Equal(t, model.Some(100), v)
	}
}

func TestEngine_ShortGroupLeavesValuesUndefined(t *testing.T) {
	s := loadStore(t, "SHORT", []float64{1, 2})
	e := NewEngine(s)
	require.NoError(t, e.Register(Definition{Kind: KindRSI, Period: 14}))

	col := s.Column("SHORT", "rsi")
	require.Len(t, col, 2)
	for _, v := range col {
		assert.False(t, v.Valid)
	}
}

func TestEngine_RegisterUnsupported(t *testing.T) {
	e := NewEngine(frame.New())

	err := e.Register(Definition{Kind: "MACD", Period: 12, Column: "macd"})
	require.ErrorIs(t, err, ErrUnsupportedIndicator)

	err = e.Register(Definition{Kind: KindRSI, Period: 14, Method: "laguerre"})
	require.ErrorIs(t, err, ErrUnsupportedIndicator)

	err = e.Register(Definition{Kind: KindSMA, Period: 0})
	require.ErrorIs(t, err, ErrInvalidDefinition)

	err = e.Register(Definition{Kind: KindEMA, Alpha: 1.5})
	require.ErrorIs(t, err, ErrInvalidDefinition)

	for _, col := range []string{"open", "high", "low", "close", "volume", "Close"} {
		err = e.Register(Definition{Kind: KindSMA, Period: 3, Column: col})
		require.ErrorIs(t, err, ErrInvalidDefinition, col)
	}

	assert.Equal(t, 0, e.Len())
}

func TestDefinition_String(t *testing.T) {
	tests := []struct {
		def  Definition
		want string
	}{
		{Definition{Kind: KindSMA, Period: 3, Column: "sma"}, "SMA(3)->sma"},
		{Definition{Kind: KindEMA, Period: 3, Column: "ema"}, "EMA(3,0.5)->ema"},
		{Definition{Kind: KindEMA, Period: 3, Alpha: 0.2, Column: "ema"}, "EMA(3,0.2)->ema"},
		{Definition{Kind: KindRSI, Period: 14, Method: RSIWilders, Column: "rsi"}, "RSI(14,wilders)->rsi"},
		{Definition{Kind: KindChange, Column: "change_in_price"}, "CHANGE->change_in_price"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.def.String())
	}
}

func TestEngine_RegisterSameColumnReplaces(t *testing.T) {
	s := loadStore(t, "X", []float64{1, 2, 3, 4})
	e := NewEngine(s)
	require.NoError(t, e.Register(Definition{Kind: KindSMA, Period: 2, Column: "avg"}))
	require.NoError(t, e.Register(Definition{Kind: KindEMA, Period: 3, Column: "ema"}))
	require.NoError(t, e.Register(Definition{Kind: KindSMA, Period: 3, Column: "avg"}))

	defs := e.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "avg", defs[0].Column)
	assert.Equal(t, 3, defs[0].Period)

	col := s.Column("X", "avg")
	assert.False(t, col[1].Valid, "period-3 recompute must clear row 1")
	assert.InDelta(t, 2.0, col[2].Float, 1e-12)
}

func TestEngine_DefaultColumnNames(t *testing.T) {
	e := NewEngine(frame.New())
	require.NoError(t, e.Register(Definition{Kind: "sma", Period: 5}))
	require.NoError(t, e.Register(Definition{Kind: "rsi", Period: 14}))
	require.NoError(t, e.Register(Definition{Kind: "change"}))

	rsi, ok := e.Definition("rsi")
	require.True(t, ok)
	assert.Equal(t, RSIWilders, rsi.Method)
	_, ok = e.Definition("sma")
	assert.True(t, ok)
	_, ok = e.Definition("change_in_price")
	assert.True(t, ok)
}

func TestEngine_RefreshAfterBackfill(t *testing.T) {
	s := loadStore(t, "X", []float64{10, 10, 10})
	e := NewEngine(s)
	require.NoError(t, e.Register(Definition{Kind: KindEMA, Period: 3, Column: "ema"}))
	require.NoError(t, e.Register(Definition{Kind: KindSMA, Period: 2, Column: "sma"}))

	// back-fill an older bar and append a newer one
	require.NoError(t, s.Insert(makeBar("X", 500, 2)))
	require.NoError(t, s.Insert(makeBar("X", 9000, 14)))

	before := s.Column("X", "sma")
	assert.False(t, before[0].Valid)
	assert.False(t, before[4].Valid)

	require.NoError(t, e.Refresh())

	// closes now 2, 10, 10, 10, 14
	sma := s.Column("X", "sma")
	assert.Equal(t, []any{nil, 6.0, 10.0, 10.0, 12.0}, floatsOf(sma))

	ema := s.Column("X", "ema")
	// alpha 0.5: 2, 6, 8, 9, 11.5
	assert.Equal(t, []any{2.0, 6.0, 8.0, 9.0, 11.5}, floatsOf(ema))
}

func TestEngine_Unregister(t *testing.T) {
	e := NewEngine(frame.New())
	require.NoError(t, e.Register(Definition{Kind: KindSMA, Period: 2, Column: "a"}))
	require.NoError(t, e.Register(Definition{Kind: KindSMA, Period: 2, Column: "b"}))
	require.NoError(t, e.Register(Definition{Kind: KindSMA, Period: 2, Column: "c"}))

	assert.True(t, e.Unregister("b"))
	assert.False(t, e.Unregister("b"))

	cols := []string{}
	for _, d := range e.Definitions() {
		cols = append(cols, d.Column)
	}
	assert.Equal(t, []string{"a", "c"}, cols)
	_, ok := e.Definition("c")
	assert.True(t, ok)
}

func TestEngine_Reload(t *testing.T) {
	s := loadStore(t, "X", []float64{1, 2, 3})
	e := NewEngine(s)
	require.NoError(t, e.Register(Definition{Kind: KindSMA, Period: 2, Column: "sma"}))
	require.NoError(t, e.Register(Definition{Kind: KindRSI, Period: 2, Column: "rsi"}))

	kept, added, err := e.Reload([]Definition{
		{Kind: KindSMA, Period: 2, Column: "sma"},
		{Kind: KindEMA, Period: 2, Column: "ema"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, kept)
	assert.Equal(t, 1, added)
	_, ok := e.Definition("rsi")
	assert.False(t, ok)
	assert.Len(t, s.Column("X", "ema"), 3)

	_, _, err = e.Reload([]Definition{{Kind: KindSMA, Period: 2}, {Kind: KindSMA, Period: 3}})
	require.ErrorIs(t, err, ErrInvalidDefinition)
	assert.Equal(t, 2, e.Len(), "failed reload must not change the set")
}
