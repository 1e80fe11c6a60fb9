package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrader/internal/model"
)

type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
	Initial    bool            `json:"initial"`
	Type       string          `json:"type"`
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2026, 2, 25, 10, 0, 1, 0, time.UTC)
	buf := buildEnvelope(`signal:"odd"`, []byte(`{"value":1}`), now, 42, 7)

	var env envelope
	require.NoError(t, json.Unmarshal(buf, &env), string(buf))
	assert.Equal(t, `signal:"odd"`, env.Channel)
	assert.JSONEq(t, `{"value":1}`, string(env.Data))
	assert.Equal(t, int64(42), env.Seq)
	assert.Equal(t, int64(7), env.ChannelSeq)

	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(now))
}

func TestReplayBuffer(t *testing.T) {
	rb := NewReplayBuffer(4)
	assert.Empty(t, rb.Range(1, 100))

	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte(strconv.FormatInt(i, 10)))
	}
	assert.Equal(t, 4, rb.Len())
	assert.Equal(t, [][]byte{[]byte("5"), []byte("6"), []byte("7"), []byte("8")}, rb.Range(1, 10))
	assert.Equal(t, [][]byte{[]byte("6"), []byte("7")}, rb.Range(6, 7))
}

func TestHub_SequencesAndLatest(t *testing.T) {
	h := NewHub()
	ev := model.SignalEvent{Instrument: "X", Indicator: "sma", Kind: model.SignalBuy, Value: 1, Timestamp: 4000}

	require.NoError(t, h.PublishSignals(context.Background(), []model.SignalEvent{ev, ev}))
	require.NoError(t, h.PublishRows(context.Background(), []model.Row{{Bar: model.Bar{Instrument: "X", Timestamp: 4000}}}))

	assert.Equal(t, int64(2), h.GetChannelSeq("signal:X"))
	assert.Equal(t, int64(1), h.GetChannelSeq("row:X"))
	assert.Len(t, h.GetReplayRange("signal:X", 1, 2), 2)
	assert.Nil(t, h.GetReplayRange("signal:Y", 1, 2))

	latest := h.GetLatestAll()
	assert.JSONEq(t, string(ev.JSON()), string(latest["signal:X"]))
}

func dial(t *testing.T, h *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_WebSocketFlow(t *testing.T) {
	h := NewHub()

	require.NoError(t, h.PublishSignals(context.Background(), []model.SignalEvent{{Instrument: "OLD", Kind: model.SignalSell}}))

	conn := dial(t, h, "?instruments=X")
	waitClients(t, h, 1)

	// The earlier OLD signal is filtered out of the initial state.
	h.Broadcast("signal:Y", []byte(`{"n":0}`))
	h.Broadcast("signal:X", []byte(`{"n":1}`))

	env := readEnvelope(t, conn)
	assert.Equal(t, "signal:X", env.Channel)
	assert.JSONEq(t, `{"n":1}`, string(env.Data))
	assert.Equal(t, int64(1), env.ChannelSeq)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "instruments": []string{"Y"}}))
	assert.Equal(t, "subscribed", readEnvelope(t, conn).Type)

	h.Broadcast("signal:Y", []byte(`{"n":2}`))
	env = readEnvelope(t, conn)
	assert.Equal(t, "signal:Y", env.Channel)
	assert.Equal(t, int64(2), env.ChannelSeq)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "REPLAY", "channel": "signal:Y", "from_seq": 1, "to_seq": 1}))
	env = readEnvelope(t, conn)
	assert.JSONEq(t, `{"n":0}`, string(env.Data))

	require.NoError(t, conn.WriteJSON(map[string]any{"ping": 123}))
	assert.Equal(t, "pong", readEnvelope(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "BOGUS"}))
	assert.Equal(t, "error", readEnvelope(t, conn).Type)

	conn.Close()
	waitClients(t, h, 0)
}

func TestHub_InitialState(t *testing.T) {
	h := NewHub()
	h.Broadcast("row:X", []byte(`{"close":1}`))

	conn := dial(t, h, "")
	env := readEnvelope(t, conn)
	assert.True(t, env.Initial)
	assert.Equal(t, "row:X", env.Channel)
	assert.Equal(t, int64(1), env.ChannelSeq)
}
