package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"autotrader/internal/model"
)

const (
	// Per-instrument signal stream cap.
	signalStreamMaxLen = 5000
	defaultLatestTTL   = 30 * time.Minute
	defaultMaxPending  = 10000

	// SignalChannel carries every signal event as JSON.
	SignalChannel = "pub:signals"
	// RowChannelPrefix + instrument carries that instrument's latest row.
	RowChannelPrefix = "pub:row:"
	// LatestRowPrefix + instrument holds the latest row with a TTL.
	LatestRowPrefix = "row:latest:"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// cmdWriter is the subset of goredis.Pipeliner the publisher queues onto.
type cmdWriter interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
}

// execFunc queues commands via fill and sends them in one round trip.
type execFunc func(ctx context.Context, fill func(cmdWriter)) error

// Publisher fans signal events and latest rows out to Redis:
//
//	XADD    signal:{instrument}   (capped stream, field "data")
//	PUBLISH pub:signals
//	SET     row:latest:{instrument} with TTL
//	PUBLISH pub:row:{instrument}
//
// Each batch is one pipeline guarded by a circuit breaker. Events that fail
// to send are held (up to a bound, oldest dropped first) and retried ahead
// of the next batch.
type Publisher struct {
	client *goredis.Client
	exec   execFunc
	cb     *Breaker

	mu         sync.Mutex
	pending    []model.SignalEvent
	maxPending int

	// OnDrop, if set, is called with the number of pending events discarded
	// because the buffer was full.
	OnDrop func(n int)
}

// NewClient creates a client and pings the server.
func NewClient(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("component", "redis").Str("addr", cfg.Addr).Msg("connected")
	return client, nil
}

// NewPublisher wraps a client. cb may be nil for an unguarded publisher.
func NewPublisher(client *goredis.Client, cb *Breaker) *Publisher {
	p := newPublisher(func(ctx context.Context, fill func(cmdWriter)) error {
		pipe := client.Pipeline()
		fill(pipe)
		_, err := pipe.Exec(ctx)
		return err
	}, cb)
	p.client = client
	return p
}

func newPublisher(exec execFunc, cb *Breaker) *Publisher {
	if cb == nil {
		cb = NewBreaker(5, 10*time.Second)
	}
	return &Publisher{exec: exec, cb: cb, maxPending: defaultMaxPending}
}

// PublishSignals sends events, preceded by any held from failed batches.
func (p *Publisher) PublishSignals(ctx context.Context, events []model.SignalEvent) error {
	p.mu.Lock()
	batch := append(p.pending, events...)
	p.pending = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	err := p.cb.Do(func() error {
		return p.exec(ctx, func(w cmdWriter) {
			for i := range batch {
				ev := &batch[i]
				data := string(ev.JSON())
				w.XAdd(ctx, &goredis.XAddArgs{
					Stream: ev.StreamKey(),
					MaxLen: signalStreamMaxLen,
					Approx: true,
					Values: map[string]interface{}{"data": data},
				})
				w.Publish(ctx, SignalChannel, data)
			}
		})
	})
	if err != nil {
		p.hold(batch)
		return fmt.Errorf("publish %d signals: %w", len(batch), err)
	}
	return nil
}

// PublishRows stores and announces each row as its instrument's latest.
// Rows are not retried: the next tick supersedes them.
func (p *Publisher) PublishRows(ctx context.Context, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	err := p.cb.Do(func() error {
		return p.exec(ctx, func(w cmdWriter) {
			for i := range rows {
				data := string(rows[i].JSON())
				inst := string(rows[i].Instrument)
				w.Set(ctx, LatestRowPrefix+inst, data, defaultLatestTTL)
				w.Publish(ctx, RowChannelPrefix+inst, data)
			}
		})
	})
	if err != nil {
		return fmt.Errorf("publish %d rows: %w", len(rows), err)
	}
	return nil
}

// Pending returns the number of events held for retry.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Publisher) hold(batch []model.SignalEvent) {
	p.mu.Lock()
	// Events queued by concurrent callers go after the failed batch.
	p.pending = append(batch, p.pending...)
	dropped := 0
	if over := len(p.pending) - p.maxPending; over > 0 {
		p.pending = append([]model.SignalEvent(nil), p.pending[over:]...)
		dropped = over
	}
	p.mu.Unlock()

	if dropped > 0 {
		log.Warn().Str("component", "redis").Int("dropped", dropped).Msg("signal retry buffer full, dropped oldest")
		if p.OnDrop != nil {
			p.OnDrop(dropped)
		}
	}
}

// Close closes the client.
func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
