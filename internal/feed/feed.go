// Package feed connects to an upstream WebSocket that pushes live quote
// updates and hands every message to a handler. Each text message is one
// update in the form {"<symbol>": {"quoteTimeInLong": ..., ...}}.
package feed

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"autotrader/internal/logger"
)

// Config configures the feed client.
type Config struct {
	// URL of the quote server, e.g. "ws://localhost:9001/quotes".
	URL string

	// ReconnectDelay is the initial delay before reconnecting. Default 2s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Default 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Handler applies one raw quote update. Errors are logged; the connection
// stays up.
type Handler func(ctx context.Context, msg []byte) error

// Client streams quote updates from a WebSocket server.
type Client struct {
	cfg Config
	log zerolog.Logger

	// OnReconnect, if set, is called after every disconnect.
	OnReconnect func()
}

// New creates a client. Returns an error if the URL is not a ws/wss URL.
func New(cfg Config, log zerolog.Logger) (*Client, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url %q: scheme must be ws or wss", cfg.URL)
	}
	return &Client{cfg: cfg, log: log.With().Str("component", "feed").Logger()}, nil
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff.
func (c *Client) Run(ctx context.Context, handle Handler) {
	delay := c.cfg.ReconnectDelay
	for {
		connected, err := c.runOnce(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = c.cfg.ReconnectDelay
		}

		c.log.Warn().Err(err).Dur("retry_in", delay).Msg("quote feed disconnected")
		if c.OnReconnect != nil {
			c.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, c.cfg.MaxReconnectDelay)
	}
}

// runOnce makes one connection and reads until it drops. Reports whether
// the dial succeeded.
func (c *Client) runOnce(ctx context.Context, handle Handler) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	c.log.Info().Str("url", c.cfg.URL).Msg("quote feed connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	for {
		typ, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		if typ != websocket.TextMessage {
			continue
		}
		mctx := logger.WithTraceID(ctx, logger.GenerateTraceID("quote", time.Now()))
		if err := handle(mctx, raw); err != nil {
			logger.LogWithTrace(mctx, c.log).Warn().Err(err).Int("bytes", len(raw)).Msg("quote update rejected")
		}
	}
}
