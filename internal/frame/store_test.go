package frame

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/model"
)

func bar(inst string, ts int64, closePrice float64) model.Bar {
	return model.Bar{
		Instrument: model.Instrument(inst),
		Timestamp:  ts,
		Open:       closePrice,
		High:       closePrice + 1,
		Low:        closePrice - 1,
		Close:      closePrice,
		Volume:     100,
	}
}

func TestInsert_OrdersByTimestampRegardlessOfInsertOrder(t *testing.T) {
	s := New()
	ts := []int64{5000, 1000, 3000, 2000, 4000, 9000, 7000, 6000, 8000}
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(ts), func(i, j int) { ts[i], ts[j] = ts[j], ts[i] })

	for _, t0 := range ts {
		require.NoError(t, s.Insert(bar("MSFT", t0, float64(t0)/1000)))
		require.NoError(t, s.Insert(bar("AAPL", t0+1, 1)))
	}

	groups := s.GroupByInstrument()
	require.Len(t, groups, 2)
	for inst, series := range groups {
		got := series.Timestamps()
		require.Len(t, got, len(ts), inst)
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1], got[i], "%s not strictly increasing at %d", inst, i)
		}
	}
}

func TestInsert_UpsertOverwritesExistingKey(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert(bar("X", 1000, 10)))
	require.NoError(t, s.Insert(bar("X", 2000, 11)))
	require.NoError(t, s.Insert(bar("X", 1000, 99)))

	assert.Equal(t, 2, s.Len("X"))
	row, ok := s.Row("X", 1000)
	require.True(t, ok)
	assert.Equal(t, 99.0, row.Close)
}

func TestInsert_NegativeTimestamp(t *testing.T) {
	s := New()
	err := s.Insert(bar("X", -1, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfRange))
	assert.Equal(t, 0, s.Len("X"))
	assert.Empty(t, s.Instruments())
}

func TestInsertBatch_StopsAtFirstInvalid(t *testing.T) {
	s := New()
	n, err := s.InsertBatch([]model.Bar{bar("X", 2000, 1), bar("X", 1000, 1), bar("X", -5, 1), bar("X", 3000, 1)})
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1000, 2000}, mustSeries(t, s, "X").Timestamps())
}

func TestLatest(t *testing.T) {
	s := New()
	_, ok := s.Latest("NOPE")
	assert.False(t, ok)

	require.NoError(t, s.Insert(bar("X", 3000, 3)))
	require.NoError(t, s.Insert(bar("X", 1000, 1)))
	require.NoError(t, s.SetColumn("X", 3000, "sma", model.Some(2.5)))

	row, ok := s.Latest("X")
	require.True(t, ok)
	assert.Equal(t, int64(3000), row.Timestamp)
	v, ok := row.Column("sma")
	require.True(t, ok)
	assert.Equal(t, 2.5, v)

	m := row.Map()
	assert.Equal(t, 3.0, m[model.ColumnClose])
	assert.Equal(t, 2.5, m["sma"])
}

func TestSetColumn_UnknownKey(t *testing.T) {
	s := New()
	require.ErrorIs(t, s.SetColumn("X", 1000, "sma", model.Some(1)), ErrUnknownKey)

	require.NoError(t, s.Insert(bar("X", 1000, 1)))
	require.ErrorIs(t, s.SetColumn("X", 2000, "sma", model.Some(1)), ErrUnknownKey)
}

func TestInsert_NewRowGetsAbsentColumnValues(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert(bar("X", 1000, 1)))
	require.NoError(t, s.Insert(bar("X", 3000, 3)))
	require.NoError(t, s.SetColumn("X", 1000, "c", model.Some(1)))
	require.NoError(t, s.SetColumn("X", 3000, "c", model.Some(3)))

	// back-filled row lands in the middle
	require.NoError(t, s.Insert(bar("X", 2000, 2)))
	require.NoError(t, s.Insert(bar("X", 4000, 4)))

	col := s.Column("X", "c")
	require.Len(t, col, 4)
	assert.Equal(t, model.Some(1), col[0])
	assert.False(t, col[1].Valid)
	assert.Equal(t, model.Some(3), col[2])
	assert.False(t, col[3].Valid)

	row, ok := s.Row("X", 2000)
	require.True(t, ok)
	_, defined := row.Column("c")
	assert.False(t, defined)
}

func TestGroupByInstrument_CacheInvalidatedOnInsert(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert(bar("X", 1000, 1)))
	first := s.GroupByInstrument()
	assert.Equal(t, 1, first["X"].Len())

	v := s.Version()
	require.NoError(t, s.Insert(bar("X", 2000, 2)))
	assert.Greater(t, s.Version(), v)
	assert.Equal(t, 2, s.GroupByInstrument()["X"].Len())
}

func TestNewFromBars(t *testing.T) {
	s, err := NewFromBars([]model.Bar{bar("B", 2, 1), bar("A", 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, []model.Instrument{"A", "B"}, s.Instruments())

	_, err = NewFromBars([]model.Bar{bar("A", -1, 1)})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func mustSeries(t *testing.T, s *Store, inst model.Instrument) Series {
	t.Helper()
	series, ok := s.Series(inst)
	require.True(t, ok)
	return series
}

func TestStore_DropColumn(t *testing.T) {
	s := New()
	require.NoError(t, s.Insert(model.Bar{Instrument: "A", Timestamp: 1, Close: 1}))
	require.NoError(t, s.Insert(model.Bar{Instrument: "B", Timestamp: 1, Close: 1}))
	require.NoError(t, s.SetColumn("A", 1, "sma", model.Some(1)))

	assert.True(t, s.DropColumn("sma"))
	assert.False(t, s.DropColumn("sma"))
	assert.Empty(t, s.Columns())

	row, ok := s.Latest("A")
	require.True(t, ok)
	_, ok = row.Column("sma")
	assert.False(t, ok)
}
