package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Probe is the last result of one dependency check.
type Probe struct {
	Enabled   bool      `json:"enabled"`
	OK        bool      `json:"ok"`
	LatencyMs float64   `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthStatus tracks dependency probes and data freshness for /health.
// The service is degraded when SQLite is down, or Redis is enabled but
// unreachable.
type HealthStatus struct {
	mu          sync.RWMutex
	startedAt   time.Time
	redis       Probe
	sqlite      Probe
	lastBar     time.Time
	lastRefresh time.Time
	instruments int
}

// NewHealthStatus returns a status with no healthy dependencies yet.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{startedAt: time.Now(), sqlite: Probe{Enabled: true}}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.redis.Enabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.sqlite.OK = v
	h.sqlite.CheckedAt = time.Now()
	h.mu.Unlock()
}

// SetLastBarTime records the newest bar timestamp seen. Older values are
// ignored.
func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	if t.After(h.lastBar) {
		h.lastBar = t
	}
	h.mu.Unlock()
}

// RecordRefresh notes a completed refresh over n instruments.
func (h *HealthStatus) RecordRefresh(at time.Time, n int) {
	h.mu.Lock()
	h.lastRefresh = at
	h.instruments = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records the result.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	h.probe(ctx, &h.redis, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
}

// CheckSQLite pings the database and records the result.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	h.probe(ctx, &h.sqlite, db.PingContext)
}

func (h *HealthStatus) probe(ctx context.Context, p *Probe, ping func(context.Context) error) {
	start := time.Now()
	err := ping(ctx)
	took := time.Since(start)

	h.mu.Lock()
	p.OK = err == nil
	p.Error = ""
	if err != nil {
		p.Error = err.Error()
	}
	p.LatencyMs = float64(took.Microseconds()) / 1000.0
	p.CheckedAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the dependencies every interval until ctx is
// done. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				cancel()
			}
		}
	}()
}

// Healthy reports whether every required dependency is up.
func (h *HealthStatus) Healthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.healthyLocked()
}

func (h *HealthStatus) healthyLocked() bool {
	return h.sqlite.OK && (!h.redis.Enabled || h.redis.OK)
}

type healthReport struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Instruments   int    `json:"instruments"`
	LastBarTime   string `json:"last_bar_time,omitempty"`
	BarAge        string `json:"bar_age,omitempty"`
	LastRefreshAt string `json:"last_refresh_at,omitempty"`
	Redis         Probe  `json:"redis"`
	SQLite        Probe  `json:"sqlite"`
}

// ServeHTTP serves the health report; 503 when degraded.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	rep := healthReport{
		Status:      "healthy",
		Uptime:      time.Since(h.startedAt).Round(time.Second).String(),
		Instruments: h.instruments,
		Redis:       h.redis,
		SQLite:      h.sqlite,
	}
	code := http.StatusOK
	if !h.healthyLocked() {
		rep.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.lastBar.IsZero() {
		rep.LastBarTime = h.lastBar.Format(time.RFC3339)
		rep.BarAge = time.Since(h.lastBar).Round(time.Millisecond).String()
	}
	if !h.lastRefresh.IsZero() {
		rep.LastRefreshAt = h.lastRefresh.Format(time.RFC3339)
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
