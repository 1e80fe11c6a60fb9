package robot

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Schedule runs Tick on a cron spec (six fields, seconds first) until ctx
// is cancelled. Use it instead of Run to align evaluation with bar closes,
// e.g. "2 * * * * *" for two seconds past every minute.
func (s *Session) Schedule(ctx context.Context, spec string) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Tick(ctx); err != nil {
			s.log.Error().Err(err).Msg("tick")
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	s.log.Info().Str("schedule", spec).Msg("evaluation schedule started")
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("evaluation schedule stopped")
	return nil
}
