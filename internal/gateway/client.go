package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// instruments filters channels by instrument; empty receives everything.
	filterMu    sync.RWMutex
	instruments map[string]bool
}

// controlMsg is a client → server message.
//
//	{"type":"SUBSCRIBE","instruments":["MSFT"]}
//	{"type":"UNSUBSCRIBE","instruments":["MSFT"]}
//	{"type":"REPLAY","channel":"signal:MSFT","from_seq":3,"to_seq":9}
//	{"ping":1700000000000}
type controlMsg struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
	Channel     string   `json:"channel"`
	FromSeq     int64    `json:"from_seq"`
	ToSeq       int64    `json:"to_seq"`
	Ping        int64    `json:"ping"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn:        conn,
		send:        make(chan []byte, clientQueue),
		hub:         h,
		instruments: make(map[string]bool),
	}
}

func (c *Client) setInstruments(insts []string) {
	c.filterMu.Lock()
	for _, i := range insts {
		c.instruments[i] = true
	}
	c.filterMu.Unlock()
}

func (c *Client) removeInstruments(insts []string) {
	c.filterMu.Lock()
	for _, i := range insts {
		delete(c.instruments, i)
	}
	c.filterMu.Unlock()
}

// matches reports whether a channel's instrument passes the filter.
func (c *Client) matches(channel string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.instruments) == 0 {
		return true
	}
	i := strings.IndexByte(channel, ':')
	return i >= 0 && c.instruments[channel[i+1:]]
}

// sendInitialState queues the latest entry of every matching channel.
// The caller holds the hub lock.
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		if !c.matches(channel) {
			continue
		}
		envelope, _ := json.Marshal(map[string]interface{}{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
		c.trySend(envelope)
	}
}

func (c *Client) trySend(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Info().Str("component", "gateway").Msg("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			c.sendError("invalid message")
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg controlMsg) {
	switch strings.ToUpper(msg.Type) {
	case "SUBSCRIBE":
		c.setInstruments(msg.Instruments)
		c.sendJSON(map[string]interface{}{"type": "subscribed", "instruments": msg.Instruments})
	case "UNSUBSCRIBE":
		c.removeInstruments(msg.Instruments)
		c.sendJSON(map[string]interface{}{"type": "unsubscribed", "instruments": msg.Instruments})
	case "REPLAY":
		for _, env := range c.hub.GetReplayRange(msg.Channel, msg.FromSeq, msg.ToSeq) {
			c.trySend(env)
		}
	case "":
		if msg.Ping > 0 {
			c.sendJSON(map[string]interface{}{"type": "pong", "ping": msg.Ping, "server_ts": time.Now().UnixMilli()})
			return
		}
		c.sendError("missing type")
	default:
		c.sendError("unknown type " + msg.Type)
	}
}

func (c *Client) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *Client) sendError(msg string) {
	c.sendJSON(map[string]string{"type": "error", "error": msg})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
