package signal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"autotrader/internal/frame"
	"autotrader/internal/indicator"
	"autotrader/internal/model"
)

func bar(inst string, ts int64, closePrice float64) model.Bar {
	return model.Bar{Instrument: model.Instrument(inst), Timestamp: ts, Open: closePrice, High: closePrice, Low: closePrice, Close: closePrice}
}

// setColumn writes a single latest value for tests that do not need an engine.
func setColumn(t *testing.T, s *frame.Store, inst string, ts int64, name string, v float64) {
	t.Helper()
	require.NoError(t, s.Insert(bar(inst, ts, v)))
	require.NoError(t, s.SetColumn(model.Instrument(inst), ts, name, model.Some(v)))
}

func TestOperator_Apply(t *testing.T) {
	tests := []struct {
		op   Operator
		v, t float64
		want bool
	}{
		{OpGT, 2, 1, true}, {OpGT, 1, 1, false},
		{OpGE, 1, 1, true}, {OpGE, 0, 1, false},
		{OpLT, 0, 1, true}, {OpLT, 1, 1, false},
		{OpLE, 1, 1, true}, {OpLE, 2, 1, false},
		{OpEQ, 1, 1, true}, {OpEQ, 1.0000001, 1, false},
		{OpInvalid, 1, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.Apply(tt.v, tt.t), "%s(%g,%g)", tt.op, tt.v, tt.t)
	}
}

func TestParseOperator(t *testing.T) {
	for in, want := range map[string]Operator{"gt": OpGT, ">": OpGT, "GE": OpGE, "<": OpLT, " le ": OpLE, "==": OpEQ} {
		got, err := ParseOperator(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOperator("between")
	assert.ErrorIs(t, err, ErrInvalidOperator)
}

func TestRule_Serialisation(t *testing.T) {
	r := Rule{Indicator: "rsi", BuyThreshold: 30, SellThreshold: 70, BuyOp: OpLT, SellOp: OpGT}

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"indicator":"rsi","buy":30,"sell":70,"buy_op":"lt","sell_op":"gt"}`, string(data))

	var back Rule
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r, back)

	var fromYAML Rule
	require.NoError(t, yaml.Unmarshal([]byte("indicator: sma\nbuy: 10.5\nsell: 9\nbuy_op: '>'\nsell_op: le\n"), &fromYAML))
	assert.Equal(t, Rule{Indicator: "sma", BuyThreshold: 10.5, SellThreshold: 9, BuyOp: OpGT, SellOp: OpLE}, fromYAML)
}

func TestSetRule_Upsert(t *testing.T) {
	e := NewEvaluator()
	require.NoError(t, e.SetRule("sma", 10, 5, OpGT, OpLT))
	require.NoError(t, e.SetRule("rsi", 30, 70, OpLT, OpGT))
	require.NoError(t, e.SetRule("sma", 11, 4, OpGE, OpLE))

	r, ok := e.GetRule("sma")
	require.True(t, ok)
	assert.Equal(t, 11.0, r.BuyThreshold)
	assert.Equal(t, OpGE, r.BuyOp)
	assert.Len(t, e.Rules(), 2)
	assert.Equal(t, "sma", e.List()[0].Indicator)

	_, ok = e.GetRule("ema")
	assert.False(t, ok)

	require.ErrorIs(t, e.SetRule("x", 1, 1, OpInvalid, OpGT), ErrInvalidOperator)
	require.ErrorIs(t, e.SetRule("", 1, 1, OpGT, OpGT), ErrInvalidRule)

	assert.True(t, e.RemoveRule("sma"))
	assert.False(t, e.RemoveRule("sma"))
	assert.Equal(t, []Rule{{Indicator: "rsi", BuyThreshold: 30, SellThreshold: 70, BuyOp: OpLT, SellOp: OpGT}}, e.List())
}

func TestEvaluate_EmptyStore(t *testing.T) {
	e := NewEvaluator()
	require.NoError(t, e.SetRule("sma", 10, 5, OpGT, OpLT))
	assert.Empty(t, e.Collect(frame.New()))
}

func TestEvaluate_SkipsUndefinedValues(t *testing.T) {
	s := frame.New()
	require.NoError(t, s.Insert(bar("X", 1000, 10)))
	require.NoError(t, s.SetColumn("X", 1000, "sma", model.None()))

	e := NewEvaluator()
	require.NoError(t, e.SetRule("sma", 0, 1e9, OpGT, OpLT))
	require.NoError(t, e.SetRule("never_computed", 0, 0, OpGE, OpLE))
	assert.Empty(t, e.Collect(s))
}

func TestEvaluate_BuyAndSellBothFire(t *testing.T) {
	s := frame.New()
	setColumn(t, s, "X", 1000, "rsi", 50)

	e := NewEvaluator()
	require.NoError(t, e.SetRule("rsi", 40, 60, OpGT, OpLT))

	events := e.Collect(s)
	require.Len(t, events, 2)
	assert.Equal(t, model.SignalBuy, events[0].Kind)
	assert.Equal(t, model.SignalSell, events[1].Kind)
	for _, ev := range events {
		assert.Equal(t, model.Instrument("X"), ev.Instrument)
		assert.Equal(t, "rsi", ev.Indicator)
		assert.Equal(t, 50.0, ev.Value)
		assert.Equal(t, int64(1000), ev.Timestamp)
	}
}

func TestEvaluate_IsRestartableAndLazy(t *testing.T) {
	s := frame.New()
	setColumn(t, s, "A", 1000, "v", 5)
	setColumn(t, s, "B", 1000, "v", 5)

	e := NewEvaluator()
	require.NoError(t, e.SetRule("v", 1, 10, OpGT, OpLT))

	seq := e.Evaluate(s)
	first := 0
	for range seq {
		first++
		break
	}
	assert.Equal(t, 1, first)

	assert.Len(t, e.Collect(s), 4)
	assert.Equal(t, e.Collect(s), e.Collect(s))
}

func TestEvaluate_SMAScenario(t *testing.T) {
	s := frame.New()
	eng := indicator.NewEngine(s)
	require.NoError(t, eng.Register(indicator.Definition{Kind: indicator.KindSMA, Period: 3, Column: "sma"}))

	ev := NewEvaluator()
	require.NoError(t, ev.SetRule("sma", 10.5, 0, OpGT, OpLT))

	closes := []float64{10, 10, 10, 12, 8}
	buys := map[int64]bool{}
	for i, c := range closes {
		ts := int64(i+1) * 1000
		require.NoError(t, s.Insert(bar("X", ts, c)))
		require.NoError(t, eng.Refresh())
		for e := range ev.Evaluate(s) {
			if e.Kind == model.SignalBuy {
				buys[e.Timestamp] = true
				assert.InDelta(t, 10.667, e.Value, 1e-3)
			}
		}
	}
	assert.Equal(t, map[int64]bool{4000: true}, buys)
}
