// Package gateway pushes signal events and latest rows to WebSocket clients.
//
// Every message is wrapped in an envelope carrying its channel, a global
// sequence number and a per-channel sequence number so clients can detect
// gaps and backfill them from the replay buffer.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"autotrader/internal/model"
)

const (
	replayCapacity = 512 // envelopes kept per channel
	clientQueue    = 256
)

// Channel name prefixes. The instrument follows the prefix.
const (
	SignalChannelPrefix = "signal:"
	RowChannelPrefix    = "row:"
)

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// Hub manages WebSocket clients and fans messages out to them.
type Hub struct {
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	// OnClients is called with the client count after every change.
	OnClients func(n int)
	// OnDrop is called when a slow client misses a message.
	OnDrop func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
	}
}

// ServeHTTP upgrades the request and registers the client. The optional
// "instruments" query parameter (comma-separated) pre-sets its filter and
// "last_ts" (RFC3339Nano) limits the initial state to newer entries.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("component", "gateway").Err(err).Msg("ws upgrade failed")
		return
	}

	client := newClient(h, conn)
	client.setInstruments(splitList(r.URL.Query().Get("instruments")))

	// Initial state and registration happen under one lock so no broadcast
	// is both replayed as initial state and delivered live.
	h.mu.Lock()
	client.sendInitialState(r.URL.Query().Get("last_ts"))
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.clientsChanged(count)

	log.Info().Str("component", "gateway").Int("clients", count).Msg("ws client connected")

	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	h.clientsChanged(count)
}

// PublishSignals broadcasts each event on signal:{instrument}.
func (h *Hub) PublishSignals(_ context.Context, events []model.SignalEvent) error {
	for i := range events {
		h.Broadcast(SignalChannelPrefix+string(events[i].Instrument), events[i].JSON())
	}
	return nil
}

// PublishRows broadcasts each row on row:{instrument}.
func (h *Hub) PublishRows(_ context.Context, rows []model.Row) error {
	for i := range rows {
		h.Broadcast(RowChannelPrefix+string(rows[i].Instrument), rows[i].JSON())
	}
	return nil
}

// Broadcast wraps data in an envelope, records it for replay and sends it
// to every client whose filter matches the channel.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.seq++
	seq := h.seq
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayCapacity)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	env := buildEnvelope(channel, data, now, seq, channelSeq)
	rb.Push(channelSeq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matches(channel) {
			continue
		}
		select {
		case client.send <- env:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
}

// GetReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) GetReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// GetChannelSeq returns the current sequence number for a channel.
func (h *Hub) GetChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// GetLatestAll returns the latest payload per channel.
func (h *Hub) GetLatestAll() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) clientsChanged(n int) {
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// buildEnvelope hand-crafts
// {"channel":...,"data":...,"ts":...,"seq":N,"channel_seq":M}.
// data must already be valid JSON.
func buildEnvelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}
