// Package notification delivers alerts for signal events to external
// channels (log, Telegram, generic webhooks).
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"autotrader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel         `json:"level"`
	Title   string             `json:"title"`
	Message string             `json:"message"`
	Signal  *model.SignalEvent `json:"signal,omitempty"`
}

// SignalAlert formats a signal event, e.g.
// title "BUY MSFT", message "sma=10.6667 at 1970-01-01T00:00:04Z".
func SignalAlert(ev model.SignalEvent) Alert {
	return Alert{
		Level:   AlertInfo,
		Title:   fmt.Sprintf("%s %s", ev.Kind, ev.Instrument),
		Message: fmt.Sprintf("%s=%.4f at %s", ev.Indicator, ev.Value, time.UnixMilli(ev.Timestamp).UTC().Format(time.RFC3339)),
		Signal:  &ev,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a zerolog logger (useful for development).
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(lg zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: lg.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	n.log.Info().Str("level", string(alert.Level)).Str("title", alert.Title).Msg(alert.Message)
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Names lists backend types, for startup logs.
func (m Multi) Names() string {
	names := make([]string, 0, len(m))
	for _, n := range m {
		names = append(names, strings.TrimPrefix(fmt.Sprintf("%T", n), "*notification."))
	}
	return strings.Join(names, ",")
}
