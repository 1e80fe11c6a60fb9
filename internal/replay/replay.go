// Package replay steps a robot session through historical bars in
// timestamp order, evaluating after every step.
package replay

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"autotrader/internal/model"
	"autotrader/internal/robot"
)

const maxGap = 5 * time.Second

// Stats summarises a replay.
type Stats struct {
	Bars    int `json:"bars"`
	Steps   int `json:"steps"`
	Signals int `json:"signals"`
}

// Replayer feeds bars into a session.
type Replayer struct {
	session *robot.Session
	speed   float64
	log     zerolog.Logger
}

// New creates a Replayer. speed scales the gaps between timestamps:
// 1 is real time, 100 is 100x, 0 replays as fast as possible.
func New(s *robot.Session, speed float64, log zerolog.Logger) *Replayer {
	return &Replayer{session: s, speed: speed, log: log.With().Str("component", "replay").Logger()}
}

// Run inserts the bars one timestamp at a time and ticks the session after
// each step. emit receives only the events raised by that step's bars, so
// an instrument without a new bar does not repeat its previous signal.
func (r *Replayer) Run(ctx context.Context, bars []model.Bar, emit func(model.SignalEvent) error) (Stats, error) {
	var st Stats
	if len(bars) == 0 {
		r.log.Info().Msg("no bars to replay")
		return st, nil
	}

	sorted := slices.Clone(bars)
	slices.SortStableFunc(sorted, func(a, b model.Bar) int { return cmp.Compare(a.Timestamp, b.Timestamp) })
	r.log.Info().Int("bars", len(sorted)).Float64("speed", r.speed).Msg("replay started")

	for i := 0; i < len(sorted); {
		ts := sorted[i].Timestamp
		j := i
		for j < len(sorted) && sorted[j].Timestamp == ts {
			j++
		}

		if err := r.wait(ctx, sorted, i); err != nil {
			return st, err
		}

		n, err := r.session.InsertBars(ctx, sorted[i:j])
		st.Bars += n
		if err != nil {
			return st, err
		}
		events, err := r.session.Tick(ctx)
		if err != nil {
			return st, err
		}
		for _, ev := range events {
			if ev.Timestamp != ts {
				continue
			}
			st.Signals++
			if emit != nil {
				if err := emit(ev); err != nil {
					return st, err
				}
			}
		}
		st.Steps++
		i = j
	}

	r.log.Info().Int("bars", st.Bars).Int("steps", st.Steps).Int("signals", st.Signals).Msg("replay completed")
	return st, nil
}

// wait sleeps for the scaled gap before step i.
func (r *Replayer) wait(ctx context.Context, bars []model.Bar, i int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.speed <= 0 || i == 0 {
		return nil
	}
	gap := time.Duration(float64(bars[i].Timestamp-bars[i-1].Timestamp) * float64(time.Millisecond) / r.speed)
	if gap <= 0 {
		return nil
	}
	gap = min(gap, maxGap)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(gap):
		return nil
	}
}
