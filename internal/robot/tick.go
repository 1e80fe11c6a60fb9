package robot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"autotrader/internal/logger"
	"autotrader/internal/model"
	"autotrader/internal/notification"
)

// Tick runs one cycle: refresh, evaluate and dispatch. A cycle only
// dispatches when bars, definitions or rules changed since the previous
// dispatched cycle, so a quiet market does not repeat the same events.
// Sink failures are logged and joined into the returned error; the events
// are returned either way.
func (s *Session) Tick(ctx context.Context) ([]model.SignalEvent, error) {
	if logger.TraceID(ctx) == "" {
		ctx = logger.WithTraceID(ctx, logger.GenerateTraceID("tick", time.Now()))
	}
	lg := logger.LogWithTrace(ctx, s.log)

	s.mu.Lock()
	if _, err := s.refreshLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	v := s.store.Version()
	if v == s.tickedVersion && !s.rulesChanged {
		s.mu.Unlock()
		return nil, nil
	}
	s.tickedVersion = v
	s.rulesChanged = false

	events := s.eval.Collect(s.store)
	insts := s.store.Instruments()
	rows := make([]model.Row, 0, len(insts))
	for _, inst := range insts {
		if r, ok := s.store.Latest(inst); ok {
			rows = append(rows, r)
		}
	}
	for _, ev := range events {
		s.recent.Push(ev)
	}
	s.mu.Unlock()

	if m := s.opts.Metrics; m != nil {
		for _, ev := range events {
			m.SignalsTotal.WithLabelValues(string(ev.Kind), ev.Indicator).Inc()
		}
	}
	if len(events) > 0 {
		lg.Info().Int("events", len(events)).Int("instruments", len(insts)).Msg("signals")
	}
	return events, s.dispatch(ctx, lg, rows, events)
}

func (s *Session) dispatch(ctx context.Context, lg *zerolog.Logger, rows []model.Row, events []model.SignalEvent) error {
	var errs []error
	for _, p := range s.opts.Publishers {
		if err := p.PublishRows(ctx, rows); err != nil {
			errs = append(errs, err)
			s.publishFailed(lg, p, err)
		}
		if len(events) == 0 {
			continue
		}
		if err := p.PublishSignals(ctx, events); err != nil {
			errs = append(errs, err)
			s.publishFailed(lg, p, err)
		}
	}

	if s.opts.Notifier != nil {
		for _, ev := range events {
			if err := s.opts.Notifier.Send(ctx, notification.SignalAlert(ev)); err != nil {
				errs = append(errs, err)
				if m := s.opts.Metrics; m != nil {
					m.NotifyErrors.Inc()
				}
				lg.Warn().Err(err).Str("instrument", string(ev.Instrument)).Msg("notify failed")
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Session) publishFailed(lg *zerolog.Logger, p model.EventPublisher, err error) {
	sink := fmt.Sprintf("%T", p)
	if m := s.opts.Metrics; m != nil {
		m.PublishErrors.WithLabelValues(sink).Inc()
	}
	lg.Warn().Err(err).Str("sink", sink).Msg("publish failed")
}

// Run ticks every interval until ctx is cancelled.
func (s *Session) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", interval).Msg("evaluation loop started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("evaluation loop stopped")
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.log.Error().Err(err).Msg("tick")
			}
		}
	}
}
