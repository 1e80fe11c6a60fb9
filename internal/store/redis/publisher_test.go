package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/ingest"
	"autotrader/internal/model"
)

type recordedCmd struct {
	op, key string
	value   string
}

// fakePipe records queued commands. exec fails while err is set.
type fakePipe struct {
	cmds  []recordedCmd
	err   error
	execs int
}

func (f *fakePipe) XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd {
	values := a.Values.(map[string]interface{})
	f.cmds = append(f.cmds, recordedCmd{op: "XADD", key: a.Stream, value: values["data"].(string)})
	return goredis.NewStringCmd(ctx)
}

func (f *fakePipe) Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd {
	f.cmds = append(f.cmds, recordedCmd{op: "PUBLISH", key: channel, value: message.(string)})
	return goredis.NewIntCmd(ctx)
}

func (f *fakePipe) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *goredis.StatusCmd {
	f.cmds = append(f.cmds, recordedCmd{op: "SET", key: key, value: value.(string)})
	return goredis.NewStatusCmd(ctx)
}

func (f *fakePipe) exec(_ context.Context, fill func(cmdWriter)) error {
	f.execs++
	if f.err != nil {
		return f.err
	}
	fill(f)
	return nil
}

func event(inst string, ts int64) model.SignalEvent {
	return model.SignalEvent{Instrument: model.Instrument(inst), Indicator: "sma", Kind: model.SignalBuy, Value: 10.667, Timestamp: ts}
}

func TestPublisher_PublishSignals(t *testing.T) {
	pipe := &fakePipe{}
	p := newPublisher(pipe.exec, nil)

	ev := event("X", 4000)
	require.NoError(t, p.PublishSignals(context.Background(), []model.SignalEvent{ev}))

	require.Len(t, pipe.cmds, 2)
	assert.Equal(t, recordedCmd{op: "XADD", key: "signal:X", value: string(ev.JSON())}, pipe.cmds[0])
	assert.Equal(t, recordedCmd{op: "PUBLISH", key: SignalChannel, value: string(ev.JSON())}, pipe.cmds[1])

	require.NoError(t, p.PublishSignals(context.Background(), nil))
	assert.Equal(t, 1, pipe.execs)
}

func TestPublisher_RetriesHeldEvents(t *testing.T) {
	pipe := &fakePipe{err: errors.New("connection refused")}
	p := newPublisher(pipe.exec, NewBreaker(10, time.Second))

	err := p.PublishSignals(context.Background(), []model.SignalEvent{event("X", 1000)})
	require.Error(t, err)
	assert.Equal(t, 1, p.Pending())

	pipe.err = nil
	require.NoError(t, p.PublishSignals(context.Background(), []model.SignalEvent{event("Y", 2000)}))
	assert.Zero(t, p.Pending())

	require.Len(t, pipe.cmds, 4)
	assert.Equal(t, "signal:X", pipe.cmds[0].key)
	assert.Equal(t, "signal:Y", pipe.cmds[2].key)
}

func TestPublisher_BreakerOpenHoldsAndBoundsBuffer(t *testing.T) {
	pipe := &fakePipe{err: errors.New("down")}
	p := newPublisher(pipe.exec, NewBreaker(1, time.Hour))
	p.maxPending = 3
	dropped := 0
	p.OnDrop = func(n int) { dropped += n }

	require.Error(t, p.PublishSignals(context.Background(), []model.SignalEvent{event("A", 1)}))
	err := p.PublishSignals(context.Background(), []model.SignalEvent{event("B", 2), event("C", 3), event("D", 4)})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, 1, pipe.execs)
	assert.Equal(t, 3, p.Pending())
	assert.Equal(t, 1, dropped)
}

func TestPublisher_PublishRows(t *testing.T) {
	pipe := &fakePipe{}
	p := newPublisher(pipe.exec, nil)

	row := model.Row{Bar: model.Bar{Instrument: "X", Timestamp: 1000, Close: 10}, Columns: map[string]float64{"sma": 10}}
	require.NoError(t, p.PublishRows(context.Background(), []model.Row{row}))

	require.Len(t, pipe.cmds, 2)
	assert.Equal(t, recordedCmd{op: "SET", key: "row:latest:X", value: string(row.JSON())}, pipe.cmds[0])
	assert.Equal(t, "pub:row:X", pipe.cmds[1].key)

	pipe.err = errors.New("down")
	require.Error(t, p.PublishRows(context.Background(), []model.Row{row}))
	assert.Zero(t, p.Pending())
}

func TestDecodeBarMessage(t *testing.T) {
	bars, err := DecodeBarMessage(map[string]interface{}{
		"data": `{"X": {"quoteTimeInLong": 1000, "openPrice": 1, "closePrice": 2, "highPrice": 3, "lowPrice": 0.5, "totalVolume": 10}}`,
	})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 2.0, bars[0].Close)

	bars, err = DecodeBarMessage(map[string]interface{}{
		"kind": KindHistorical,
		"data": `[{"datetime": 5, "symbol": "Y", "open": 1, "close": 1, "high": 1, "low": 1, "volume": 1}]`,
	})
	require.NoError(t, err)
	assert.Equal(t, model.Instrument("Y"), bars[0].Instrument)

	_, err = DecodeBarMessage(map[string]interface{}{"kind": "trade", "data": "{}"})
	assert.ErrorIs(t, err, ingest.ErrInvalidRecord)

	_, err = DecodeBarMessage(map[string]interface{}{})
	assert.ErrorIs(t, err, ingest.ErrInvalidRecord)

	_, err = DecodeBarMessage(map[string]interface{}{"data": `{"X": {"quoteTimeInLong": 1, "openPrice": 1, "closePrice": 1, "highPrice": 1, "lowPrice": 1}}`})
	assert.ErrorIs(t, err, ingest.ErrMissingVolume)
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer(nil, ConsumerConfig{})
	assert.Equal(t, DefaultBarStream, c.stream)
	assert.Equal(t, "robot", c.group)
	assert.Equal(t, "worker-1", c.consumer)
}
