package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"autotrader/config"
	"autotrader/internal/api"
	"autotrader/internal/feed"
	"autotrader/internal/frame"
	"autotrader/internal/gateway"
	"autotrader/internal/indicator"
	"autotrader/internal/logger"
	"autotrader/internal/metrics"
	"autotrader/internal/model"
	"autotrader/internal/notification"
	"autotrader/internal/robot"
	redisstore "autotrader/internal/store/redis"
	"autotrader/internal/store/sqlite"
)

var httpAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the robot with its HTTP, WebSocket and Redis surfaces",
	Long: `Starts the robot service.

Endpoints:
  GET    /health
  GET    /metrics
  GET    /ws
  GET    /api/v1/instruments
  GET    /api/v1/instruments/{symbol}/latest
  GET    /api/v1/instruments/{symbol}/rows
  POST   /api/v1/bars
  POST   /api/v1/quotes
  GET    /api/v1/indicators
  POST   /api/v1/indicators
  DELETE /api/v1/indicators/{column}
  GET    /api/v1/rules
  PUT    /api/v1/rules/{indicator}
  DELETE /api/v1/rules/{indicator}
  GET    /api/v1/signals`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&httpAddr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if rulesPath != "" {
		cfg.RulesPath = rulesPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	lg := logger.InitWithOptions("robot", cfg.LogLevel, logger.Options{Format: cfg.LogFormat, File: cfg.LogFile})
	lg.Info().Str("addr", cfg.HTTPAddr).Str("sqlite", cfg.SQLitePath).Bool("redis", cfg.RedisEnabled).Msg("starting")

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.SetRedisEnabled(cfg.RedisEnabled)

	// ── Persistence ──
	writer, err := sqlite.New(sqlite.WriterConfig{
		DBPath: cfg.SQLitePath,
		OnCommit: func(_ int, took time.Duration) {
			m.SQLiteCommitDur.Observe(took.Seconds())
		},
	})
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer writer.Close()
	health.SetSQLiteOK(true)

	reader, err := sqlite.NewReader(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open sqlite reader: %w", err)
	}
	defer reader.Close()

	store := frame.New()
	engine, err := indicator.NewRestorer(reader, writer).Restore(store)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	queue := sqlite.NewQueue(4096)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writer.Run(context.Background(), queue.C())
	}()

	// ── Sinks ──
	hub := gateway.NewHub()
	hub.OnClients = func(n int) { m.WSClients.Set(float64(n)) }
	hub.OnDrop = m.WSDrops.Inc
	publishers := []model.EventPublisher{hub}

	var (
		rdb *goredis.Client
		pub *redisstore.Publisher
	)
	if cfg.RedisEnabled {
		rdb, err = redisstore.NewClient(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return err
		}
		health.CheckRedis(ctx, rdb)

		cb := redisstore.NewBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.BreakerState) {
			m.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.BreakerOpen {
				m.RedisCircuitBreakerTrips.Inc()
			}
			lg.Warn().Str("from", from.String()).Str("to", to.String()).Msg("redis circuit breaker")
		}
		pub = redisstore.NewPublisher(rdb, cb)
		pub.OnDrop = func(n int) {
			lg.Warn().Int("dropped", n).Msg("redis retry buffer full, oldest signals dropped")
		}
		publishers = append(publishers, pub)
	}

	notifiers := notification.Multi{notification.NewLogNotifier(lg)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	lg.Info().Str("notifiers", notifiers.Names()).Msg("notifications configured")

	// ── Session ──
	session := robot.NewWithState(store, engine, robot.Options{
		Logger:     lg,
		Bars:       queue,
		Snapshots:  writer,
		Rules:      writer,
		Publishers: publishers,
		Notifier:   notifiers,
		Metrics:    m,
		Health:     health,
	})
	if err := loadRules(session, writer, cfg.RulesPath, lg); err != nil {
		return err
	}

	// Intake writes through the session; joined before sinks and queue close.
	var intake sync.WaitGroup
	if rdb != nil {
		consumer := redisstore.NewConsumer(rdb, redisstore.ConsumerConfig{})
		intake.Add(1)
		go func() {
			defer intake.Done()
			err := consumer.Run(ctx, func(ctx context.Context, bars []model.Bar) error {
				_, err := session.InsertBars(ctx, bars)
				if errors.Is(err, frame.ErrOutOfRange) {
					// Redelivery cannot fix a bad bar.
					lg.Warn().Err(err).Msg("skipping invalid bar from stream")
					return nil
				}
				return err
			})
			if err != nil && ctx.Err() == nil {
				lg.Error().Err(err).Msg("bar consumer stopped")
			}
		}()
	}

	if cfg.QuoteFeedURL != "" {
		quotes, err := feed.New(feed.Config{URL: cfg.QuoteFeedURL}, lg)
		if err != nil {
			return err
		}
		intake.Add(1)
		go func() {
			defer intake.Done()
			quotes.Run(ctx, func(ctx context.Context, msg []byte) error {
				_, err := session.IngestQuotes(ctx, msg)
				return err
			})
		}()
	}

	health.StartLivenessChecker(ctx, rdb, writer.DB(), 15*time.Second)
	if cfg.EvalSchedule != "" {
		go func() {
			if err := session.Schedule(ctx, cfg.EvalSchedule); err != nil {
				lg.Error().Err(err).Msg("evaluation schedule")
				stop()
			}
		}()
	} else {
		go session.Run(ctx, cfg.EvalInterval)
	}

	// ── HTTP ──
	router := api.NewRouter(api.NewHandler(session, lg), api.Endpoints{
		Health:  health,
		Metrics: m.Handler(),
		Stream:  hub,
	}, lg)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		lg.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		lg.Error().Err(err).Msg("http server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("http shutdown")
	}

	intake.Wait()

	// Final cycle so the last bars reach every sink.
	if _, err := session.Tick(shutdownCtx); err != nil {
		lg.Warn().Err(err).Msg("final tick")
	}
	if pub != nil {
		if n := pub.Pending(); n > 0 {
			lg.Warn().Int("pending", n).Msg("unpublished signals discarded")
		}
		_ = pub.Close()
	}

	_ = queue.Close()
	<-writerDone
	lg.Info().Msg("stopped")
	return nil
}

// loadRules applies the rule file if one is configured, otherwise the
// rules persisted by the previous run.
func loadRules(s *robot.Session, w *sqlite.Writer, path string, lg zerolog.Logger) error {
	if path != "" {
		rs, err := config.LoadRuleSet(path)
		if err != nil {
			return err
		}
		if err := s.ApplyRuleSet(rs.Indicators, rs.Rules); err != nil {
			return fmt.Errorf("apply %s: %w", path, err)
		}
		lg.Info().Str("path", path).Int("indicators", len(rs.Indicators)).Int("rules", len(rs.Rules)).Msg("rule set loaded")
		return nil
	}

	rules, err := w.LoadRules()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	for _, r := range rules {
		if err := s.SetRule(r); err != nil {
			return fmt.Errorf("restore rule %s: %w", r.Indicator, err)
		}
	}
	lg.Info().Int("rules", len(rules)).Msg("rules restored")
	return nil
}
