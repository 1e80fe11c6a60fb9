package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"autotrader/internal/ingest"
	"autotrader/internal/model"
)

// DefaultBarStream is the stream market-data producers XADD to.
const DefaultBarStream = "bars:in"

// Message kinds carried in the "kind" field of a bar stream entry.
const (
	KindQuote      = "quote"      // data is a live quote map
	KindHistorical = "historical" // data is one record or an array of records
)

// ConsumerConfig configures a bar stream consumer.
type ConsumerConfig struct {
	Stream   string // default "bars:in"
	Group    string // default "robot"
	Consumer string // default "worker-1"
}

// BarHandler applies decoded bars. A returned error leaves the message
// unacknowledged so it is redelivered.
type BarHandler func(ctx context.Context, bars []model.Bar) error

// Consumer reads market data from a Redis stream through a consumer group.
type Consumer struct {
	client   *goredis.Client
	stream   string
	group    string
	consumer string
}

// NewConsumer creates a consumer on an existing client.
func NewConsumer(client *goredis.Client, cfg ConsumerConfig) *Consumer {
	c := &Consumer{client: client, stream: cfg.Stream, group: cfg.Group, consumer: cfg.Consumer}
	if c.stream == "" {
		c.stream = DefaultBarStream
	}
	if c.group == "" {
		c.group = "robot"
	}
	if c.consumer == "" {
		c.consumer = "worker-1"
	}
	return c
}

// EnsureGroup creates the consumer group if missing, reading only new entries.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s: %w", c.stream, err)
	}
	return nil
}

// Run first re-delivers this consumer's pending entries, then blocks on
// XREADGROUP until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle BarHandler) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	log.Info().Str("component", "redis-consumer").Str("stream", c.stream).Str("group", c.group).Msg("consuming bars")

	// Pending entries: delivered before a restart but never acknowledged.
	// Walk them once by advancing the start ID past each page.
	after := "0"
	for {
		last, n, err := c.read(ctx, after, -1, handle)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		after = last
	}

	for {
		if _, _, err := c.read(ctx, ">", 2*time.Second, handle); err != nil {
			return err
		}
	}
}

// read performs one XREADGROUP. A negative block does not block.
func (c *Consumer) read(ctx context.Context, id string, block time.Duration, handle BarHandler) (string, int, error) {
	if ctx.Err() != nil {
		return "", 0, ctx.Err()
	}
	results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    100,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", 0, nil
		}
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		log.Error().Str("component", "redis-consumer").Err(err).Msg("xreadgroup")
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
		return "", 0, nil
	}

	var (
		last string
		n    int
	)
	for _, stream := range results {
		for _, msg := range stream.Messages {
			c.process(ctx, msg, handle)
			last = msg.ID
			n++
		}
	}
	return last, n, nil
}

func (c *Consumer) process(ctx context.Context, msg goredis.XMessage, handle BarHandler) {
	bars, err := DecodeBarMessage(msg.Values)
	if err != nil {
		// Poison message: acknowledge so it is not redelivered forever.
		log.Warn().Str("component", "redis-consumer").Str("id", msg.ID).Err(err).Msg("dropping undecodable entry")
		c.client.XAck(ctx, c.stream, c.group, msg.ID)
		return
	}
	if err := handle(ctx, bars); err != nil {
		log.Error().Str("component", "redis-consumer").Str("id", msg.ID).Err(err).Msg("handler failed, leaving entry pending")
		return
	}
	c.client.XAck(ctx, c.stream, c.group, msg.ID)
}

// DecodeBarMessage turns a stream entry's fields into bars. The "data"
// field holds the JSON payload and "kind" selects the parser (quote when
// absent).
func DecodeBarMessage(values map[string]interface{}) ([]model.Bar, error) {
	data, ok := values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: entry has no data field", ingest.ErrInvalidRecord)
	}
	kind, _ := values["kind"].(string)
	switch kind {
	case "", KindQuote:
		return ingest.ParseQuotes([]byte(data))
	case KindHistorical:
		return ingest.ParseHistorical([]byte(data))
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ingest.ErrInvalidRecord, kind)
}
